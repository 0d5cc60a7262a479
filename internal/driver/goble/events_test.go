package goble

import (
	"sync"
	"time"

	"github.com/srg/blecentral/internal/central"
)

// linkEvent is one callback the driver reported.
type linkEvent struct {
	Kind     string
	ID       string
	Status   central.Status
	Result   central.ScanResult
	Services []string
	Size     int
	Code     central.ScanErrorCode
	State    central.AdapterState
	Char     string
	Value    []byte
}

// eventLog records central.LinkEvents callbacks.
type eventLog struct {
	mu      sync.Mutex
	entries []linkEvent
	changed chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{changed: make(chan struct{}, 1)}
}

func (l *eventLog) add(ev linkEvent) {
	l.mu.Lock()
	l.entries = append(l.entries, ev)
	l.mu.Unlock()
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

func (l *eventLog) all() []linkEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]linkEvent(nil), l.entries...)
}

func (l *eventLog) kinds() []string {
	var kinds []string
	for _, ev := range l.all() {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (l *eventLog) find(kind string) (linkEvent, bool) {
	for _, ev := range l.all() {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return linkEvent{}, false
}

func (l *eventLog) count(kind string) int {
	n := 0
	for _, ev := range l.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// waitFor blocks until an event of kind has been recorded or the timeout elapses.
func (l *eventLog) waitFor(kind string, timeout time.Duration) (linkEvent, bool) {
	deadline := time.After(timeout)
	for {
		if ev, ok := l.find(kind); ok {
			return ev, true
		}
		select {
		case <-l.changed:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return linkEvent{}, false
		}
	}
}

func (l *eventLog) Discovered(res central.ScanResult) {
	l.add(linkEvent{Kind: "discovered", ID: res.Address, Result: res})
}

func (l *eventLog) Connected(id string) {
	l.add(linkEvent{Kind: "connected", ID: id})
}

func (l *eventLog) ConnectionFailed(id string, status central.Status) {
	l.add(linkEvent{Kind: "connection_failed", ID: id, Status: status})
}

func (l *eventLog) Disconnected(id string, status central.Status) {
	l.add(linkEvent{Kind: "disconnected", ID: id, Status: status})
}

func (l *eventLog) ServicesDiscovered(id string, services []string) {
	l.add(linkEvent{Kind: "services", ID: id, Services: services})
}

func (l *eventLog) NegotiationComplete(id string, size int, status central.Status) {
	l.add(linkEvent{Kind: "negotiated", ID: id, Size: size, Status: status})
}

func (l *eventLog) ScanFailed(code central.ScanErrorCode) {
	l.add(linkEvent{Kind: "scan_failed", Code: code})
}

func (l *eventLog) AdapterStateChanged(state central.AdapterState) {
	l.add(linkEvent{Kind: "adapter", State: state})
}

func (l *eventLog) NotificationStateUpdated(id, char string, status central.Status) {
	l.add(linkEvent{Kind: "notify_state", ID: id, Char: char, Status: status})
}

func (l *eventLog) CharacteristicWritten(id, char string, value []byte, status central.Status) {
	l.add(linkEvent{Kind: "written", ID: id, Char: char, Value: value, Status: status})
}

func (l *eventLog) CharacteristicUpdated(id, char string, value []byte, status central.Status) {
	l.add(linkEvent{Kind: "updated", ID: id, Char: char, Value: value, Status: status})
}
