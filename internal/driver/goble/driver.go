// Package goble implements the connection manager's link driver on top of
// github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = newPlatformDevice

// Driver is a central.LinkDriver backed by a go-ble device. Requests return
// immediately; radio work runs on named goroutines and reports back through
// central.LinkEvents.
type Driver struct {
	dev    ble.Device
	events central.LinkEvents
	logger *logrus.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanGen    uint64

	links *hashmap.Map[string, *link]

	// after yields the auto-connect backoff; replaced in tests.
	after func(time.Duration) <-chan time.Time
}

// NewDriverFactory returns a central.DriverFactory that acquires the platform BLE device.
func NewDriverFactory(opts Options) central.DriverFactory {
	return func(events central.LinkEvents, logger *logrus.Logger) (central.LinkDriver, error) {
		d, err := New(events, logger, opts)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

// New opens the platform BLE device. It fails when the host has no usable adapter.
func New(events central.LinkEvents, logger *logrus.Logger, opts Options) (*Driver, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if events == nil {
		return nil, errors.New("link events sink is required")
	}

	dev, err := DeviceFactory()
	if err != nil {
		logger.WithError(err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		dev:    dev,
		events: events,
		logger: logger,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		links:  hashmap.New[string, *link](),
		after:  time.After,
	}, nil
}

// emit forwards a callback unless the driver has been closed.
func (d *Driver) emit(fn func()) {
	if d.closed.Load() {
		return
	}
	fn()
}

func (d *Driver) StartScan(services []string) error {
	if d.closed.Load() {
		return ErrClosed
	}

	d.scanMu.Lock()
	defer d.scanMu.Unlock()
	if d.scanCancel != nil {
		return errors.New("scan already running")
	}

	ctx, cancel := context.WithCancel(d.ctx)
	d.scanGen++
	gen := d.scanGen
	d.scanCancel = cancel
	filter := append([]string(nil), services...)

	d.logger.WithFields(logrus.Fields{
		"services":   filter,
		"duplicates": d.opts.AllowDuplicates,
	}).Debug("Starting BLE scan")

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := d.dev.Scan(ctx, d.opts.AllowDuplicates, func(adv ble.Advertisement) {
			res := toScanResult(adv)
			if res.Address == "" || !matchesFilter(res, filter) {
				return
			}
			d.emit(func() { d.events.Discovered(res) })
		})

		d.scanMu.Lock()
		if d.scanGen == gen {
			d.scanCancel = nil
		}
		d.scanMu.Unlock()
		stopped := ctx.Err() != nil
		cancel()

		if err == nil || stopped || errors.Is(err, context.Canceled) {
			d.logger.Debug("BLE scan stopped")
			return
		}

		err = NormalizeError(err)
		d.logger.WithError(err).Warn("BLE scan failed")
		if errors.Is(err, ErrBluetoothOff) {
			d.emit(func() { d.events.AdapterStateChanged(central.AdapterOff) })
		}
		d.emit(func() { d.events.ScanFailed(ScanErrorCode(err)) })
	})
	return nil
}

func (d *Driver) StopScan() error {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()
	if d.scanCancel != nil {
		d.scanCancel()
		d.scanCancel = nil
	}
	return nil
}

// Connect makes a single dial attempt bounded by Options.ConnectTimeout.
func (d *Driver) Connect(id string) error {
	return d.startLink(id, false)
}

// AutoConnect dials until the peripheral answers or the attempt is cancelled,
// backing off exponentially between attempts.
func (d *Driver) AutoConnect(id string) error {
	return d.startLink(id, true)
}

func (d *Driver) startLink(id string, auto bool) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if existing, ok := d.links.Get(id); ok && !existing.finished.Load() {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, id)
	}

	l := newLink(d.ctx, id)
	d.links.Set(id, l)

	name := "goble-connect"
	if auto {
		name = "goble-autoconnect"
	}
	groutine.Go(l.ctx, name, func(ctx context.Context) {
		var (
			client ble.Client
			err    error
		)
		if auto {
			client, err = d.dialUntilReachable(ctx, id)
		} else {
			client, err = d.dial(ctx, id)
		}
		if err != nil {
			d.connectFailed(l, err)
			return
		}
		d.attach(l, client)
	})
	return nil
}

func (d *Driver) dial(ctx context.Context, id string) (ble.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	d.logger.WithField("address", id).Debug("Dialing BLE device...")
	client, err := d.dev.Dial(dialCtx, ble.NewAddr(id))
	if err != nil {
		if ctxErr := dialCtx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, NormalizeError(err)
	}
	return client, nil
}

func (d *Driver) dialUntilReachable(ctx context.Context, id string) (ble.Client, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, d.opts.ReconnectBackoffMax)
			d.logger.WithFields(logrus.Fields{
				"address": id,
				"attempt": attempt + 1,
				"delay":   delay,
			}).Debug("Auto-connect backoff")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-d.after(delay):
			}
		}

		client, err := d.dial(ctx, id)
		if err == nil {
			return client, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.WithError(err).WithFields(logrus.Fields{
			"address": id,
			"attempt": attempt + 1,
		}).Debug("Auto-connect attempt failed")
	}
}

// attach finishes a successful dial: the link is published and watched for loss.
func (d *Driver) attach(l *link, client ble.Client) {
	l.setClient(client)
	if err := l.ctx.Err(); err != nil {
		// Disconnect or Close raced with the dial.
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			d.logger.WithError(cancelErr).Debug("Cancel after aborted dial failed")
		}
		d.connectFailed(l, err)
		return
	}

	d.watch(l, client)
	d.logger.WithField("address", l.id).Info("BLE device connected")
	d.emit(func() { d.events.Connected(l.id) })
}

// watch reports link loss through the client's Disconnected channel where the platform provides one.
func (d *Driver) watch(l *link, client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		d.logger.Debug("Client does not support Disconnected() channel")
		return
	}

	groutine.Go(l.ctx, "goble-link-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			if l.hostClose.Load() {
				return
			}
			d.logger.WithField("address", l.id).Warn("Peripheral dropped the link")
			l.takeSubscriptions()
			d.finish(l, func() { d.events.Disconnected(l.id, central.StatusLinkLoss) })
		case <-ctx.Done():
		}
	})
}

func (d *Driver) connectFailed(l *link, err error) {
	if l.hostClose.Load() {
		d.finish(l, func() { d.events.Disconnected(l.id, central.StatusLocalTerminated) })
		return
	}

	status := StatusFromError(err)
	d.logger.WithError(err).WithFields(logrus.Fields{
		"address": l.id,
		"status":  status,
	}).Warn("Failed to connect")
	d.finish(l, func() { d.events.ConnectionFailed(l.id, status) })
}

// finish reports the terminal event of a link once and forgets it.
func (d *Driver) finish(l *link, report func()) {
	if !l.finished.CompareAndSwap(false, true) {
		return
	}
	l.cancel()
	if current, ok := d.links.Get(l.id); ok && current == l {
		d.links.Del(l.id)
	}
	d.emit(report)
}

// teardown drops notifications and closes the connection.
func (d *Driver) teardown(l *link, client ble.Client) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	for c, ind := range l.takeSubscriptions() {
		if err := client.Unsubscribe(c, ind); err != nil {
			d.logger.WithError(err).WithField("char_uuid", c.UUID.String()).Debug("Unsubscribe during teardown failed")
		}
	}
	if err := client.CancelConnection(); err != nil {
		d.logger.WithError(err).WithField("address", l.id).Warn("BLE device disconnected with errors")
	}
}

func (d *Driver) Disconnect(id string) error {
	l, ok := d.links.Get(id)
	if !ok || l.finished.Load() {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}

	l.hostClose.Store(true)
	l.cancel()

	client := l.currentClient()
	if client == nil {
		// The dial goroutine observes the cancellation and reports it.
		return nil
	}

	groutine.Go(context.Background(), "goble-disconnect", func(context.Context) {
		d.teardown(l, client)
		d.logger.WithField("address", id).Info("BLE device disconnected")
		d.finish(l, func() { d.events.Disconnected(id, central.StatusLocalTerminated) })
	})
	return nil
}

// connected returns the live link and client for id.
func (d *Driver) connected(id string) (*link, ble.Client, error) {
	if d.closed.Load() {
		return nil, nil, ErrClosed
	}
	l, ok := d.links.Get(id)
	if !ok || l.finished.Load() {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	client := l.currentClient()
	if client == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return l, client, nil
}

func (d *Driver) DiscoverServices(id string) error {
	l, client, err := d.connected(id)
	if err != nil {
		return err
	}

	groutine.Go(l.ctx, "goble-discover", func(context.Context) {
		l.opMu.Lock()
		profile, err := client.DiscoverProfile(true)
		l.opMu.Unlock()

		if err != nil {
			err = NormalizeError(err)
			d.logger.WithError(err).WithField("address", id).Error("Failed to discover profile")
			// The discovery error is the reported cause, not the link drop it triggers.
			l.hostClose.Store(true)
			d.teardown(l, client)
			d.finish(l, func() { d.events.Disconnected(id, StatusFromError(err)) })
			return
		}

		l.setProfile(profile)
		services := serviceUUIDs(profile)
		d.logger.WithFields(logrus.Fields{
			"address":  id,
			"services": len(services),
		}).Debug("Profile discovered successfully")
		d.emit(func() { d.events.ServicesDiscovered(id, services) })
	})
	return nil
}

func (d *Driver) NegotiatePayloadSize(id string, target int) error {
	l, client, err := d.connected(id)
	if err != nil {
		return err
	}

	groutine.Go(l.ctx, "goble-mtu", func(context.Context) {
		l.opMu.Lock()
		mtu, err := client.ExchangeMTU(target)
		l.opMu.Unlock()

		if err != nil {
			status := StatusFromError(err)
			d.logger.WithError(err).WithField("address", id).Debug("MTU exchange failed")
			d.emit(func() { d.events.NegotiationComplete(id, 0, status) })
			return
		}
		d.emit(func() { d.events.NegotiationComplete(id, mtu, central.StatusSuccess) })
	})
	return nil
}

func (d *Driver) lookup(id, service, char string) (*link, ble.Client, *ble.Characteristic, error) {
	l, client, err := d.connected(id)
	if err != nil {
		return nil, nil, nil, err
	}
	c := l.characteristic(service, char)
	if c == nil {
		return nil, nil, nil, &central.NotFoundError{Resource: "characteristic", IDs: []string{service, char}}
	}
	return l, client, c, nil
}

func (d *Driver) Read(id, service, char string) error {
	l, client, c, err := d.lookup(id, service, char)
	if err != nil {
		return err
	}

	groutine.Go(l.ctx, "goble-read", func(context.Context) {
		l.opMu.Lock()
		value, err := client.ReadCharacteristic(c)
		l.opMu.Unlock()

		if err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"address":   id,
				"char_uuid": char,
			}).Debug("Read failed")
		}
		status := StatusFromError(err)
		d.emit(func() { d.events.CharacteristicUpdated(id, char, value, status) })
	})
	return nil
}

func (d *Driver) Write(id, service, char string, value []byte, withResponse bool) error {
	l, client, c, err := d.lookup(id, service, char)
	if err != nil {
		return err
	}
	data := append([]byte(nil), value...)

	groutine.Go(l.ctx, "goble-write", func(context.Context) {
		l.opMu.Lock()
		err := client.WriteCharacteristic(c, data, !withResponse)
		l.opMu.Unlock()

		if err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"address":   id,
				"char_uuid": char,
			}).Debug("Write failed")
		}
		status := StatusFromError(err)
		d.emit(func() { d.events.CharacteristicWritten(id, char, data, status) })
	})
	return nil
}

func (d *Driver) SetNotify(id, service, char string, enable bool) error {
	l, client, c, err := d.lookup(id, service, char)
	if err != nil {
		return err
	}
	if !canNotify(c) {
		return fmt.Errorf("%w: characteristic %s does not support notifications", ErrNotSupported, char)
	}
	ind := useIndications(c)

	groutine.Go(l.ctx, "goble-notify", func(context.Context) {
		l.opMu.Lock()
		var err error
		if enable {
			err = client.Subscribe(c, ind, func(data []byte) {
				d.emit(func() { d.events.CharacteristicUpdated(id, char, data, central.StatusSuccess) })
			})
		} else {
			err = client.Unsubscribe(c, ind)
		}
		l.opMu.Unlock()

		if err == nil {
			l.trackSubscription(c, ind, enable)
		} else {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"address":   id,
				"char_uuid": char,
				"enable":    enable,
			}).Warn("Failed to change notification state")
		}
		status := StatusFromError(err)
		d.emit(func() { d.events.NotificationStateUpdated(id, char, status) })
	})
	return nil
}

// Close cancels all outstanding work, drops every link and stops the device.
// No LinkEvents are delivered once Close has been called.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()

	var links []*link
	d.links.Range(func(_ string, l *link) bool {
		links = append(links, l)
		return true
	})
	for _, l := range links {
		l.finished.Store(true)
		if client := l.currentClient(); client != nil {
			d.teardown(l, client)
		}
		d.links.Del(l.id)
	}

	if err := d.dev.Stop(); err != nil {
		return NormalizeError(err)
	}
	d.logger.Debug("BLE device stopped")
	return nil
}
