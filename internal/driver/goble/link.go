package goble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
)

// link tracks one peripheral from the first dial attempt until the link is
// reported closed. A link reports exactly one terminal event.
type link struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	// hostClose marks a teardown requested through Disconnect.
	hostClose atomic.Bool
	finished  atomic.Bool

	stateMu sync.Mutex
	client  ble.Client
	profile *ble.Profile
	subs    map[*ble.Characteristic]bool // value: subscribed with indications

	// opMu serializes GATT requests on the client.
	opMu sync.Mutex
}

func newLink(parent context.Context, id string) *link {
	ctx, cancel := context.WithCancel(parent)
	return &link{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*ble.Characteristic]bool),
	}
}

func (l *link) setClient(client ble.Client) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.client = client
}

func (l *link) currentClient() ble.Client {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.client
}

func (l *link) setProfile(profile *ble.Profile) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.profile = profile
}

func (l *link) characteristic(service, char string) *ble.Characteristic {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return findCharacteristic(l.profile, service, char)
}

func (l *link) trackSubscription(c *ble.Characteristic, ind, active bool) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if active {
		l.subs[c] = ind
	} else {
		delete(l.subs, c)
	}
}

// takeSubscriptions clears and returns the active subscriptions.
func (l *link) takeSubscriptions() map[*ble.Characteristic]bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	subs := l.subs
	l.subs = make(map[*ble.Characteristic]bool)
	return subs
}
