package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/internal/central"
)

// sessionEvent is what the console listener hands to a waiting command.
type sessionEvent struct {
	Kind       string
	Peripheral central.Peripheral
	Status     central.Status
	Char       string
	Value      []byte
	Size       int
	Code       central.ScanErrorCode
	State      central.AdapterState
}

const (
	evDiscovered   = "discovered"
	evConnected    = "connected"
	evFailed       = "connection_failed"
	evDisconnected = "disconnected"
	evServices     = "services"
	evNegotiated   = "negotiated"
	evNotifyState  = "notify_state"
	evWritten      = "written"
	evUpdated      = "updated"
	evScanFailed   = "scan_failed"
	evAdapter      = "adapter"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
	keyColor  = color.New(color.FgCyan)
)

// syncWriter serializes writes from the dispatcher and the command goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// consoleListener prints lifecycle events and forwards them to the command.
// Discoveries are only printed when verbose is set, scan output is rendered at the end.
type consoleListener struct {
	central.NopCentralListener
	out     io.Writer
	events  chan<- sessionEvent
	verbose bool
	// quietData suppresses per-value lines while a bridge carries the data.
	quietData atomic.Bool

	// done is closed when the session ends; events forwarded afterwards are dropped.
	done      <-chan struct{}
	logger    *logrus.Logger
	discarded atomic.Uint64
}

// forward hands ev to the command. It blocks while the command is busy so no
// event is lost, which only holds back the manager's dispatcher.
func (l *consoleListener) forward(ev sessionEvent) {
	select {
	case l.events <- ev:
	case <-l.done:
		if n := l.discarded.Add(1); n == 1 && l.logger != nil {
			l.logger.WithField("kind", ev.Kind).Debug("Session closed, discarding events")
		}
	}
}

func (l *consoleListener) printf(c *color.Color, format string, args ...interface{}) {
	fmt.Fprintln(l.out, c.Sprintf(format, args...))
}

func (l *consoleListener) OnConnectedPeripheral(p central.Peripheral) {
	l.printf(okColor, "Connected to %s", p.DisplayName())
	l.forward(sessionEvent{Kind: evConnected, Peripheral: p})
}

func (l *consoleListener) OnConnectionFailed(p central.Peripheral, status central.Status) {
	l.printf(errColor, "Connection to %s failed: %s", p.DisplayName(), status)
	l.forward(sessionEvent{Kind: evFailed, Peripheral: p, Status: status})
}

func (l *consoleListener) OnDisconnectedPeripheral(p central.Peripheral, status central.Status) {
	l.printf(warnColor, "Disconnected from %s: %s", p.DisplayName(), status)
	l.forward(sessionEvent{Kind: evDisconnected, Peripheral: p, Status: status})
}

func (l *consoleListener) OnDiscoveredPeripheral(p central.Peripheral, res central.ScanResult) {
	if l.verbose {
		l.printf(dimColor, "Discovered %s (%s) %d dBm", p.DisplayName(), p.Address, res.RSSI)
	}
	l.forward(sessionEvent{Kind: evDiscovered, Peripheral: p})
}

func (l *consoleListener) OnAdapterStateChanged(state central.AdapterState) {
	l.printf(warnColor, "Bluetooth adapter is %s", state)
	l.forward(sessionEvent{Kind: evAdapter, State: state})
}

func (l *consoleListener) OnScanFailed(code central.ScanErrorCode) {
	l.printf(errColor, "Scan failed: %s", code)
	l.forward(sessionEvent{Kind: evScanFailed, Code: code})
}

func (l *consoleListener) OnServicesDiscovered(p central.Peripheral) {
	names := make([]string, len(p.Services))
	for i, svc := range p.Services {
		names[i] = bledb.DescribeService(svc)
	}
	l.printf(dimColor, "Services: %s", strings.Join(names, ", "))
	l.forward(sessionEvent{Kind: evServices, Peripheral: p})
}

func (l *consoleListener) OnNotificationStateUpdate(p central.Peripheral, char string, status central.Status) {
	if status.OK() {
		l.printf(okColor, "Subscribed to %s", bledb.DescribeCharacteristic(char))
	} else {
		l.printf(errColor, "Subscription to %s failed: %s", char, status)
	}
	l.forward(sessionEvent{Kind: evNotifyState, Peripheral: p, Char: char, Status: status})
}

func (l *consoleListener) OnCharacteristicWrite(p central.Peripheral, value []byte, char string, status central.Status) {
	switch {
	case status.OK() && l.quietData.Load():
	case status.OK():
		l.printf(okColor, "Wrote %s: %s", char, hex.EncodeToString(value))
	default:
		l.printf(errColor, "Write to %s failed: %s", char, status)
	}
	l.forward(sessionEvent{Kind: evWritten, Peripheral: p, Char: char, Value: value, Status: status})
}

func (l *consoleListener) OnCharacteristicUpdate(p central.Peripheral, value []byte, char string, status central.Status) {
	if !l.quietData.Load() {
		fmt.Fprintf(l.out, "%s %s\n", keyColor.Sprintf("%s:", char), formatValue(value))
	}
	l.forward(sessionEvent{Kind: evUpdated, Peripheral: p, Char: char, Value: value, Status: status})
}

func (l *consoleListener) OnNegotiatedSize(p central.Peripheral, size int, status central.Status) {
	if status.OK() {
		l.printf(okColor, "Ready (payload %d bytes)", size)
	} else {
		l.printf(warnColor, "Ready (payload negotiation %s, using %d bytes)", status, size)
	}
	l.forward(sessionEvent{Kind: evNegotiated, Peripheral: p, Size: size, Status: status})
}

// formatValue renders a value as hex, followed by its text when it is printable.
func formatValue(value []byte) string {
	h := hex.EncodeToString(value)
	if len(value) == 0 {
		return "(empty)"
	}
	for _, r := range string(value) {
		if !unicode.IsPrint(r) {
			return h
		}
	}
	return fmt.Sprintf("%s %q", h, string(value))
}
