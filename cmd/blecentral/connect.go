package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <device-address>",
	Short: "Connect to a device and keep the link up",
	Long: `Connects to a BLE device, discovers its services and negotiates the payload size.

Optional reads, writes and subscriptions run once the device is ready. If the link
drops unexpectedly it is re-established automatically.

Examples:
  # Connect and read the battery level
  blecentral connect AA:BB:CC:DD:EE:FF --read 180f:2a19

  # Write a value (hex) with response
  blecentral connect AA:BB:CC:DD:EE:FF --write 1815:2a56=01

  # Stream heart rate notifications until Ctrl+C
  blecentral connect AA:BB:CC:DD:EE:FF --notify 180d:2a37`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectTimeout  time.Duration
	connectDuration time.Duration
	connectReads    []string
	connectWrites   []string
	connectNotifies []string
)

func init() {
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 30*time.Second, "Time allowed to find the device and bring the link up")
	connectCmd.Flags().DurationVarP(&connectDuration, "duration", "d", 0, "Stay connected this long (0: until Ctrl+C when subscribed, otherwise exit)")
	connectCmd.Flags().StringSliceVar(&connectReads, "read", nil, "Read <service>:<characteristic>")
	connectCmd.Flags().StringSliceVar(&connectWrites, "write", nil, "Write <service>:<characteristic>=<hex>")
	connectCmd.Flags().StringSliceVar(&connectNotifies, "notify", nil, "Subscribe to <service>:<characteristic>")
}

// writeRequest is a parsed --write value.
type writeRequest struct {
	Ref   charRef
	Value []byte
}

func parseWrite(s string) (writeRequest, error) {
	target, value, ok := strings.Cut(s, "=")
	if !ok {
		return writeRequest{}, fmt.Errorf("invalid write %q: expected <service>:<characteristic>=<hex>", s)
	}
	ref, err := parseCharRef(target)
	if err != nil {
		return writeRequest{}, err
	}
	data, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(value), "0x"))
	if err != nil {
		return writeRequest{}, fmt.Errorf("invalid write value %q: %w", value, err)
	}
	return writeRequest{Ref: ref, Value: data}, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	address := args[0]

	reads, err := parseCharRefs(connectReads)
	if err != nil {
		return err
	}
	notifies, err := parseCharRefs(connectNotifies)
	if err != nil {
		return err
	}
	writes := make([]writeRequest, 0, len(connectWrites))
	for _, w := range connectWrites {
		req, err := parseWrite(w)
		if err != nil {
			return err
		}
		writes = append(writes, req)
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

	id, _, err := s.connect(ctx, address, connectTimeout)
	if err != nil {
		return err
	}
	defer s.disconnect(id, 5*time.Second)

	for _, ref := range reads {
		if err := s.request(ctx, id, ref, evUpdated, func() error { return s.mgr.Read(id, ref.Service, ref.Char) }); err != nil {
			return err
		}
	}
	for _, w := range writes {
		if err := s.request(ctx, id, w.Ref, evWritten, func() error {
			return s.mgr.Write(id, w.Ref.Service, w.Ref.Char, w.Value, true)
		}); err != nil {
			return err
		}
	}
	for _, ref := range notifies {
		if err := s.request(ctx, id, ref, evNotifyState, func() error {
			return s.mgr.SetNotify(id, ref.Service, ref.Char, true)
		}); err != nil {
			return err
		}
	}

	if connectDuration <= 0 && len(notifies) == 0 {
		return nil
	}
	if connectDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectDuration)
		defer cancel()
	}
	return s.hold(ctx, id)
}

// request issues a data operation and waits for its result event.
func (s *session) request(ctx context.Context, id string, ref charRef, kind string, issue func() error) error {
	if err := issue(); err != nil {
		return fmt.Errorf("%s: %w", ref, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := s.waitFor(ctx, func(ev sessionEvent) (bool, error) {
		if ev.Peripheral.ID != id {
			return false, nil
		}
		switch {
		case ev.Kind == kind && ev.Char == ref.Char:
			if !ev.Status.OK() {
				return false, fmt.Errorf("%s: %s", ref, ev.Status)
			}
			return true, nil
		case ev.Kind == evDisconnected:
			return false, fmt.Errorf("%w: %s", ErrConnectionLost, ev.Status)
		}
		return false, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: no response from device", ref)
	}
	return err
}

// hold keeps the session alive until ctx ends. Link drops are recovered by the
// manager; a failed recovery attempt ends the command.
func (s *session) hold(ctx context.Context, id string) error {
	err := s.waitFor(ctx, func(ev sessionEvent) (bool, error) {
		if ev.Peripheral.ID == id && ev.Kind == evFailed {
			return false, fmt.Errorf("%w: reconnect failed: %s", ErrConnectionLost, ev.Status)
		}
		return false, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
