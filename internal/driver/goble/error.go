package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blecentral/internal/central"
)

var (
	ErrBluetoothOff     = errors.New("bluetooth is turned off")
	ErrNotConnected     = errors.New("device not connected")
	ErrAlreadyConnected = errors.New("device already connected")
	ErrNotSupported     = errors.New("operation not supported")
	ErrClosed           = errors.New("driver is closed")
)

// NormalizeError maps known go-ble error strings to the sentinel errors above.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBluetoothOff) || errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrAlreadyConnected) || errors.Is(err, ErrNotSupported) {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "not implemented"):
		return fmt.Errorf("%w: %v", ErrNotSupported, err)
	default:
		return err
	}
}

// StatusFromError classifies a failed link operation.
func StatusFromError(err error) central.Status {
	err = NormalizeError(err)
	switch {
	case err == nil:
		return central.StatusSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return central.StatusTimeout
	case errors.Is(err, context.Canceled):
		return central.StatusCanceled
	case errors.Is(err, ErrNotConnected):
		return central.StatusLinkLoss
	case errors.Is(err, ErrNotSupported):
		return central.StatusNotSupported
	default:
		return central.StatusFailure
	}
}

// ScanErrorCode classifies a scan that ended with an error.
func ScanErrorCode(err error) central.ScanErrorCode {
	err = NormalizeError(err)
	switch {
	case errors.Is(err, ErrBluetoothOff):
		return central.ScanErrorAdapterOff
	case errors.Is(err, ErrNotSupported):
		return central.ScanErrorFeatureUnsupported
	default:
		return central.ScanErrorInternal
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
