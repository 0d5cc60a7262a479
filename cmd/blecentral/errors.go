package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/driver/goble"
)

// Command-level errors
var (
	// ErrDeviceNotFound indicates the peripheral was not seen while scanning.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrConnectFailed indicates the link could not be established.
	ErrConnectFailed = errors.New("connection failed")
	// ErrScanFailed indicates the radio refused or aborted the scan.
	ErrScanFailed = errors.New("scan failed")
	// ErrConnectionLost indicates the link dropped while the command was waiting on it.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error into a message with a hint where one helps.
func FormatUserError(err error) string {
	var notFound *central.NotFoundError
	switch {
	case errors.Is(err, central.ErrCapabilityUnavailable), errors.Is(err, goble.ErrBluetoothOff):
		return fmt.Sprintf("%v\nHint: make sure Bluetooth is turned on and this program is allowed to use it", err)
	case errors.Is(err, goble.ErrNotSupported):
		return fmt.Sprintf("%v\nHint: this platform has no supported BLE backend", err)
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("%v\nHint: check the address with 'blecentral scan' and make sure the device is advertising", err)
	case errors.As(err, &notFound) && notFound.Resource != "peripheral":
		return fmt.Sprintf("%v\nHint: the device does not expose it; check the UUIDs", err)
	case errors.Is(err, central.ErrInvalidState):
		return fmt.Sprintf("%v\nHint: the device is busy with another connection step, try again", err)
	default:
		return err.Error()
	}
}
