package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/ptyio"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Expose a device's serial characteristics as a PTY",
	Long: `Connects to a BLE device and bridges a pair of characteristics to a pseudo-terminal.

Notifications from the --tx characteristic are written to the terminal; bytes typed
into the terminal are written to the --rx characteristic in payload-sized chunks.
The link is re-established automatically if it drops, and the subscription renewed.

The characteristics default to the Nordic UART Service.

Examples:
  # Nordic UART device, then: screen /dev/pts/N
  blecentral bridge AA:BB:CC:DD:EE:FF

  # Custom serial service
  blecentral bridge AA:BB:CC:DD:EE:FF --service ffe0 --tx ffe1 --rx ffe1`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

// Nordic UART Service, the de facto BLE serial profile.
const (
	nusService = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	nusTx      = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
	nusRx      = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
)

var (
	bridgeService  string
	bridgeTx       string
	bridgeRx       string
	bridgeTimeout  time.Duration
	bridgeDuration time.Duration
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeService, "service", nusService, "Service UUID holding the characteristics")
	bridgeCmd.Flags().StringVar(&bridgeTx, "tx", nusTx, "Characteristic the device notifies data on")
	bridgeCmd.Flags().StringVar(&bridgeRx, "rx", nusRx, "Characteristic the device accepts data on")
	bridgeCmd.Flags().DurationVar(&bridgeTimeout, "timeout", 30*time.Second, "Time allowed to find the device and bring the link up")
	bridgeCmd.Flags().DurationVarP(&bridgeDuration, "duration", "d", 0, "Run for this long (0: until Ctrl+C)")
}

// attHeaderSize is the ATT opcode and handle preceding every write payload.
const attHeaderSize = 3

// chunkSize is the largest write payload a negotiated size allows.
func chunkSize(payload int) int {
	return max(payload-attHeaderSize, 20)
}

// bridgePort is the terminal side of a bridge.
type bridgePort interface {
	Write(data []byte) (int, error)
	SetChunkSize(n int)
}

func runBridge(cmd *cobra.Command, args []string) error {
	address := args[0]

	if bridgeService == "" || bridgeTx == "" || bridgeRx == "" {
		return errors.New("--service, --tx and --rx must not be empty")
	}
	tx, err := parseCharRef(bridgeService + ":" + bridgeTx)
	if err != nil {
		return err
	}
	rx, err := parseCharRef(bridgeService + ":" + bridgeRx)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := openSession(cfg, logger, cmd.OutOrStdout(), false)
	if err != nil {
		return fmt.Errorf("failed to start BLE central: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if bridgeDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bridgeDuration)
		defer cancel()
	}

	id, size, err := s.connect(ctx, address, bridgeTimeout)
	if err != nil {
		return err
	}
	defer s.disconnect(id, 5*time.Second)

	opts := ptyio.DefaultOptions()
	opts.ChunkSize = chunkSize(size)
	opts.Logger = logger
	port, err := ptyio.Open(opts, func(chunk []byte) {
		if err := s.mgr.Write(id, rx.Service, rx.Char, chunk, false); err != nil {
			logger.WithError(err).WithField("bytes", len(chunk)).Warn("Dropped terminal input")
		}
	})
	if err != nil {
		return err
	}
	defer port.Close()

	s.listener.quietData.Store(true)
	if err := s.request(ctx, id, tx, evNotifyState, func() error {
		return s.mgr.SetNotify(id, tx.Service, tx.Char, true)
	}); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Bridge ready: %s\n", port.Name())
	err = s.pump(ctx, id, tx, port)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// pump copies notifications to the port until ctx ends. After the manager
// re-establishes a dropped link the subscription is renewed and the chunk size
// follows the new payload size.
func (s *session) pump(ctx context.Context, id string, tx charRef, port bridgePort) error {
	return s.waitFor(ctx, func(ev sessionEvent) (bool, error) {
		if ev.Peripheral.ID != id {
			return false, nil
		}
		switch ev.Kind {
		case evUpdated:
			if ev.Char == tx.Char {
				if _, err := port.Write(ev.Value); err != nil {
					return false, err
				}
			}
		case evNegotiated:
			port.SetChunkSize(chunkSize(ev.Size))
			if err := s.mgr.SetNotify(id, tx.Service, tx.Char, true); err != nil {
				s.logger.WithError(err).Warn("Failed to renew subscription")
			}
		case evFailed:
			return false, fmt.Errorf("%w: reconnect failed: %s", ErrConnectionLost, ev.Status)
		}
		return false, nil
	})
}
