package central

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/uuid"
)

type lifecycle int

const (
	lifecycleUninitialized lifecycle = iota
	lifecycleRunning
	lifecycleClosed
)

// job is one unit of work for the manager loop.
type job struct {
	name string
	run  func()
}

// Manager owns every peripheral handle and the link driver. All state changes
// happen on a single loop goroutine; host commands and driver callbacks are
// both serialized through it. Events reach the listeners on a separate
// dispatcher goroutine, in the order the loop produced them.
type Manager struct {
	opts    Options
	logger  *logrus.Logger
	factory DriverFactory

	mu        sync.Mutex
	lifecycle lifecycle
	closing   atomic.Bool

	driver     LinkDriver
	registry   *registry
	reconnects *reconnectScheduler
	scanning   atomic.Bool

	inbox      *mailbox[job]
	dispatcher *dispatcher
	loopDone   <-chan struct{}
	dispDone   <-chan struct{}
	loopGID    atomic.Uint64
	dispGID    atomic.Uint64
	cancel     context.CancelFunc
	// closeDone is closed once the first Close call has finished.
	closeDone chan struct{}
}

// New creates a Manager bound to a driver factory. The driver is not acquired
// until Init.
func New(factory DriverFactory, options ...Option) *Manager {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	opts.normalize()

	return &Manager{
		opts:       opts,
		logger:     opts.Logger,
		factory:    factory,
		registry:   newRegistry(opts.DefaultPayloadSize),
		reconnects: newReconnectScheduler(),
		inbox:      newMailbox[job](),
		closeDone:  make(chan struct{}),
	}
}

// Init acquires the link driver and starts event delivery to the listeners.
// Nil listeners are replaced with no-op ones. If the platform capability is
// missing the manager stays uninitialized.
func (m *Manager) Init(central CentralListener, peripheral PeripheralListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.lifecycle {
	case lifecycleRunning:
		return ErrAlreadyInitialized
	case lifecycleClosed:
		return ErrClosed
	}

	if central == nil {
		central = NopCentralListener{}
	}
	if peripheral == nil {
		peripheral = NopPeripheralListener{}
	}
	if m.factory == nil {
		return fmt.Errorf("%w: no link driver configured", ErrCapabilityUnavailable)
	}

	driver, err := m.factory(&linkSink{m: m}, m.logger)
	if err != nil {
		m.logger.WithError(err).Warn("Link driver unavailable")
		return fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	if driver == nil {
		return fmt.Errorf("%w: link driver factory returned nil", ErrCapabilityUnavailable)
	}

	m.driver = driver
	m.dispatcher = &dispatcher{
		queue:      newMailbox[Event](),
		central:    central,
		peripheral: peripheral,
		logger:     m.logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.loopDone = groutine.Go(ctx, "central-loop", func(context.Context) {
		m.loopGID.Store(groutine.GetGID())
		m.loop()
	})
	m.dispDone = groutine.Go(ctx, "central-dispatcher", func(context.Context) {
		m.dispGID.Store(groutine.GetGID())
		m.dispatcher.run()
	})

	m.lifecycle = lifecycleRunning
	m.logger.WithFields(logrus.Fields{
		"reconnect_delay": m.opts.ReconnectDelay,
		"target_payload":  m.opts.TargetPayloadSize,
	}).Debug("Connection manager initialized")
	return nil
}

// Close cancels pending reconnects, releases the driver and stops event
// delivery. Events not yet delivered are discarded; once Close returns no
// listener method is called again. Close may be called from a listener.
// Concurrent callers all wait for the first one to finish, except when called
// from a listener callback.
func (m *Manager) Close() error {
	m.mu.Lock()
	switch m.lifecycle {
	case lifecycleClosed:
		m.mu.Unlock()
		if !m.onManagerGoroutine() {
			<-m.closeDone
		}
		return nil
	case lifecycleUninitialized:
		m.lifecycle = lifecycleClosed
		m.closing.Store(true)
		m.mu.Unlock()
		close(m.closeDone)
		return nil
	}
	m.lifecycle = lifecycleClosed
	m.closing.Store(true)
	m.mu.Unlock()
	defer close(m.closeDone)

	// Jobs already queued observe closing and turn into no-ops.
	m.inbox.close()
	if groutine.GetGID() != m.loopGID.Load() {
		<-m.loopDone
	}

	if n := m.reconnects.cancelAll(); n > 0 {
		m.logger.WithField("count", n).Debug("Cancelled pending reconnects")
	}
	m.scanning.Store(false)

	err := m.driver.Close()
	if err != nil {
		m.logger.WithError(err).Warn("Link driver close failed")
	}

	m.dispatcher.stop()
	if n := m.dispatcher.queue.discard(); n > 0 {
		m.logger.WithField("count", n).Debug("Discarded undelivered events")
	}
	m.dispatcher.queue.close()
	if groutine.GetGID() != m.dispGID.Load() {
		<-m.dispDone
	}
	m.cancel()

	m.logger.Debug("Connection manager closed")
	return err
}

// onManagerGoroutine reports whether the caller is the loop or the dispatcher.
func (m *Manager) onManagerGoroutine() bool {
	gid := groutine.GetGID()
	return gid == m.loopGID.Load() || gid == m.dispGID.Load()
}

func (m *Manager) loop() {
	for {
		jobs, ok := m.inbox.wait()
		if !ok {
			return
		}
		for _, j := range jobs {
			j.run()
		}
	}
}

func (m *Manager) checkRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.lifecycle {
	case lifecycleUninitialized:
		return ErrNotInitialized
	case lifecycleClosed:
		return ErrClosed
	}
	return nil
}

// exec runs fn on the loop and waits for its result.
func (m *Manager) exec(name string, fn func() error) error {
	if err := m.checkRunning(); err != nil {
		return err
	}

	reply := make(chan error, 1)
	j := job{name: name, run: func() {
		if m.closing.Load() {
			reply <- ErrClosed
			return
		}
		reply <- fn()
	}}
	if !m.inbox.put(j) {
		return ErrClosed
	}
	return <-reply
}

// post queues fn on the loop without waiting. Used for driver callbacks and timers.
func (m *Manager) post(name string, fn func()) {
	j := job{name: name, run: func() {
		if m.closing.Load() {
			return
		}
		fn()
	}}
	if !m.inbox.put(j) {
		m.logger.WithField("job", name).Debug("Dropped callback after close")
	}
}

func (m *Manager) emit(ev Event) {
	m.dispatcher.queue.put(ev)
}

// StartScan starts discovery, optionally restricted to advertisers of the given
// services. A scan that is already running is left untouched.
func (m *Manager) StartScan(services ...string) error {
	var normalized []string
	if len(services) > 0 {
		var err error
		if normalized, err = uuid.Validate(services...); err != nil {
			return fmt.Errorf("invalid service filter: %w", err)
		}
	}

	return m.exec("start-scan", func() error {
		if m.scanning.Load() {
			return ErrAlreadyScanning
		}

		m.logger.WithField("services", normalized).Info("Starting scan")
		if err := m.driver.StartScan(normalized); err != nil {
			m.logger.WithError(err).Warn("Scan could not be started")
			m.emit(ScanFailedEvent{Code: ScanErrorInternal})
			return nil
		}
		m.scanning.Store(true)
		return nil
	})
}

// ScanAll starts an unfiltered scan.
func (m *Manager) ScanAll() error {
	return m.StartScan()
}

// ScanForServices starts a scan restricted to one service.
func (m *Manager) ScanForServices(serviceID string) error {
	return m.StartScan(serviceID)
}

func (m *Manager) StopScan() error {
	return m.exec("stop-scan", func() error {
		if !m.scanning.Load() {
			return nil
		}
		m.scanning.Store(false)
		m.logger.Info("Stopping scan")
		if err := m.driver.StopScan(); err != nil {
			m.logger.WithError(err).Warn("Stop scan failed")
		}
		return nil
	})
}

func (m *Manager) IsScanning() bool {
	return m.scanning.Load()
}

// Connect opens a link to a discovered peripheral. A pending reconnect is
// cancelled and replaced by a direct attempt.
func (m *Manager) Connect(id string) error {
	return m.exec("connect", func() error {
		p, ok := m.registry.get(id)
		if !ok {
			return &NotFoundError{Resource: "peripheral", IDs: []string{id}}
		}

		switch p.state {
		case StateIdle, StateDisconnected:
		case StateReconnectPending:
			m.reconnects.cancel(p.id)
		default:
			return invalidStateError("connect", p.id, p.state)
		}

		m.registry.mutate(p, func(p *peripheral) {
			p.state = StateConnecting
			p.reason = StatusSuccess
			p.hostDisconnect = false
			p.autoConnect = false
		})
		m.logger.WithField("address", p.id).Info("Connecting")

		if err := m.driver.Connect(p.id); err != nil {
			m.logger.WithError(err).WithField("address", p.id).Warn("Connect request failed")
			m.failConnection(p, StatusFailure)
		}
		return nil
	})
}

// Disconnect tears down the link. Disconnecting a peripheral that is waiting
// for a reconnect cancels the reconnect.
func (m *Manager) Disconnect(id string) error {
	return m.exec("disconnect", func() error {
		p, ok := m.registry.get(id)
		if !ok {
			return &NotFoundError{Resource: "peripheral", IDs: []string{id}}
		}

		switch p.state {
		case StateIdle:
			return invalidStateError("disconnect", p.id, p.state)
		case StateDisconnected, StateDisconnecting:
			return nil
		case StateReconnectPending:
			m.reconnects.cancel(p.id)
			m.registry.mutate(p, func(p *peripheral) {
				p.state = StateDisconnected
				p.reason = StatusLocalTerminated
				p.hostDisconnect = true
			})
			m.logger.WithField("address", p.id).Info("Reconnect cancelled")
			m.emit(DisconnectedEvent{peripheralEvent{m.registry.view(p)}, StatusLocalTerminated})
			return nil
		}

		m.registry.mutate(p, func(p *peripheral) {
			p.state = StateDisconnecting
			p.hostDisconnect = true
		})
		m.logger.WithField("address", p.id).Info("Disconnecting")

		if err := m.driver.Disconnect(p.id); err != nil {
			m.logger.WithError(err).WithField("address", p.id).Warn("Disconnect request failed")
			m.registry.setState(p, StateDisconnected, StatusLocalTerminated)
			m.emit(DisconnectedEvent{peripheralEvent{m.registry.view(p)}, StatusLocalTerminated})
		}
		return nil
	})
}

// Forget drops a peripheral handle that has no active link.
func (m *Manager) Forget(id string) error {
	return m.exec("forget", func() error {
		p, ok := m.registry.get(id)
		if !ok {
			return &NotFoundError{Resource: "peripheral", IDs: []string{id}}
		}

		if p.state.linkActive() {
			return invalidStateError("forget", p.id, p.state)
		}

		m.reconnects.cancel(p.id)
		m.registry.remove(p.id)
		m.logger.WithField("address", p.id).Debug("Peripheral forgotten")
		return nil
	})
}

// Read requests a characteristic value; it arrives as a CharacteristicUpdate.
func (m *Manager) Read(id, service, characteristic string) error {
	return m.gattOp("read", id, service, characteristic, func(p *peripheral, svc, char string) error {
		return m.driver.Read(p.id, svc, char)
	})
}

// Write sends value to a characteristic; completion arrives as a CharacteristicWrite.
func (m *Manager) Write(id, service, characteristic string, value []byte, withResponse bool) error {
	data := append([]byte(nil), value...)
	return m.gattOp("write", id, service, characteristic, func(p *peripheral, svc, char string) error {
		return m.driver.Write(p.id, svc, char, data, withResponse)
	})
}

// SetNotify enables or disables characteristic notifications.
func (m *Manager) SetNotify(id, service, characteristic string, enable bool) error {
	return m.gattOp("set-notify", id, service, characteristic, func(p *peripheral, svc, char string) error {
		return m.driver.SetNotify(p.id, svc, char, enable)
	})
}

func (m *Manager) gattOp(op, id, service, characteristic string, fn func(p *peripheral, svc, char string) error) error {
	ids, err := uuid.Validate(service, characteristic)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	svc, char := ids[0], ids[1]

	return m.exec(op, func() error {
		p, ok := m.registry.get(id)
		if !ok {
			return &NotFoundError{Resource: "peripheral", IDs: []string{id}}
		}
		if p.state != StateReady {
			return invalidStateError(op, p.id, p.state)
		}
		if len(p.services) > 0 && !containsString(p.services, svc) {
			return &NotFoundError{Resource: "service", IDs: []string{svc}}
		}

		if err := fn(p, svc, char); err != nil {
			return fmt.Errorf("%s %s on %s: %w", op, char, p.id, err)
		}
		return nil
	})
}

// Pause forwards the host's pause notification to the central listener.
func (m *Manager) Pause() error {
	return m.exec("pause", func() error {
		m.emit(PauseEvent{})
		return nil
	})
}

func (m *Manager) Resume() error {
	return m.exec("resume", func() error {
		m.emit(ResumeEvent{})
		return nil
	})
}

func (m *Manager) HostLifecycleEvent(requestCode, resultCode int, data map[string]string) error {
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return m.exec("host-lifecycle", func() error {
		m.emit(HostLifecycleEvent{RequestCode: requestCode, ResultCode: resultCode, Data: copied})
		return nil
	})
}

func (m *Manager) PermissionResult(requestCode int, permissions []string, grantResults []int) error {
	perms := append([]string(nil), permissions...)
	grants := append([]int(nil), grantResults...)
	return m.exec("permission-result", func() error {
		m.emit(PermissionResultEvent{RequestCode: requestCode, Permissions: perms, GrantResults: grants})
		return nil
	})
}

// Peripheral returns a snapshot of one handle.
func (m *Manager) Peripheral(id string) (Peripheral, bool) {
	return m.registry.snapshot(id)
}

// Peripherals returns snapshots of all handles in discovery order.
func (m *Manager) Peripherals() []Peripheral {
	return m.registry.list()
}
