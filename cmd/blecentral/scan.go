package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/central"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed in the order they were first seen, with their name, address,
signal strength and advertised services.

Examples:
  # Scan for 10 seconds
  blecentral scan

  # Only devices advertising the Heart Rate service, as JSON
  blecentral scan --service 180d --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanServices []string
	scanVerbose  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json; default from config)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "service", "s", nil, "Only report devices advertising these service UUIDs")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Print devices as they are discovered")
}

// scanEntry is the JSON shape of a discovered device.
type scanEntry struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	RSSI        int      `json:"rssi"`
	Connectable bool     `json:"connectable"`
	Services    []string `json:"services"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	format := scanFormat
	if format == "" {
		format = cfg.OutputFormat
	}
	validFormats := []string{"table", "json"}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
	}

	duration := scanDuration
	if duration <= 0 {
		duration = cfg.ScanTimeout
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	s, err := openSession(cfg, logger, out, scanVerbose)
	if err != nil {
		return fmt.Errorf("failed to start BLE central: %w", err)
	}
	defer s.Close()

	if len(scanServices) > 0 {
		err = s.mgr.StartScan(scanServices...)
	} else {
		err = s.mgr.ScanAll()
	}
	if err != nil {
		return fmt.Errorf("invalid scan request: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	err = s.waitFor(ctx, func(ev sessionEvent) (bool, error) {
		if ev.Kind == evScanFailed {
			return false, fmt.Errorf("%w: %s", ErrScanFailed, ev.Code)
		}
		return false, nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	_ = s.mgr.StopScan()

	peripherals := s.mgr.Peripherals()
	if format == "json" {
		return displayPeripheralsJSON(out, peripherals)
	}
	return displayPeripheralsTable(out, peripherals)
}

func displayPeripheralsTable(out io.Writer, peripherals []central.Peripheral) error {
	if len(peripherals) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, p := range peripherals {
		name := p.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(p.AdvertisedServices, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		connectable := "no"
		if p.Connectable {
			connectable = "yes"
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n", name, p.Address, p.RSSI, connectable, services)
	}

	return w.Flush()
}

func displayPeripheralsJSON(out io.Writer, peripherals []central.Peripheral) error {
	entries := make([]scanEntry, 0, len(peripherals))
	for _, p := range peripherals {
		services := p.AdvertisedServices
		if services == nil {
			services = []string{}
		}
		entries = append(entries, scanEntry{
			Name:        p.Name,
			Address:     p.Address,
			RSSI:        p.RSSI,
			Connectable: p.Connectable,
			Services:    services,
		})
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
