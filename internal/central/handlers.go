package central

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/uuid"
)

// linkSink adapts driver callbacks into loop jobs.
type linkSink struct {
	m *Manager
}

func (s *linkSink) Discovered(result ScanResult) {
	s.m.post("discovered", func() { s.m.onDiscovered(result) })
}

func (s *linkSink) Connected(id string) {
	s.m.post("connected", func() { s.m.onConnected(id) })
}

func (s *linkSink) ConnectionFailed(id string, status Status) {
	s.m.post("connection-failed", func() { s.m.onConnectionFailed(id, status) })
}

func (s *linkSink) Disconnected(id string, status Status) {
	s.m.post("disconnected", func() { s.m.onDisconnected(id, status) })
}

func (s *linkSink) ServicesDiscovered(id string, services []string) {
	services = uuid.NormalizeAll(services)
	s.m.post("services-discovered", func() { s.m.onServicesDiscovered(id, services) })
}

func (s *linkSink) NegotiationComplete(id string, size int, status Status) {
	s.m.post("negotiation-complete", func() { s.m.onNegotiationComplete(id, size, status) })
}

func (s *linkSink) ScanFailed(code ScanErrorCode) {
	s.m.post("scan-failed", func() { s.m.onScanFailed(code) })
}

func (s *linkSink) AdapterStateChanged(state AdapterState) {
	s.m.post("adapter-state", func() { s.m.onAdapterStateChanged(state) })
}

func (s *linkSink) NotificationStateUpdated(id, characteristic string, status Status) {
	s.m.post("notification-state", func() { s.m.onNotificationState(id, uuid.Normalize(characteristic), status) })
}

func (s *linkSink) CharacteristicWritten(id, characteristic string, value []byte, status Status) {
	value = append([]byte(nil), value...)
	s.m.post("characteristic-write", func() { s.m.onCharacteristicWrite(id, uuid.Normalize(characteristic), value, status) })
}

func (s *linkSink) CharacteristicUpdated(id, characteristic string, value []byte, status Status) {
	value = append([]byte(nil), value...)
	s.m.post("characteristic-update", func() { s.m.onCharacteristicUpdate(id, uuid.Normalize(characteristic), value, status) })
}

// lookup returns the handle a callback refers to, logging callbacks for unknown peripherals.
func (m *Manager) lookup(event, id string) (*peripheral, bool) {
	p, ok := m.registry.get(id)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"event":   event,
			"address": id,
		}).Debug("Ignoring callback for unknown peripheral")
	}
	return p, ok
}

func (m *Manager) ignore(event string, p *peripheral) {
	m.logger.WithFields(logrus.Fields{
		"event":   event,
		"address": p.id,
		"state":   p.state,
	}).Debug("Ignoring stale callback")
}

func (m *Manager) onDiscovered(result ScanResult) {
	if NormalizeID(result.Address) == "" {
		return
	}

	p, created := m.registry.upsert(result, m.opts.Now())
	if created {
		m.logger.WithFields(logrus.Fields{
			"address": p.id,
			"name":    result.Name,
			"rssi":    result.RSSI,
		}).Debug("Peripheral discovered")
	}

	if !m.scanning.Load() {
		return
	}
	m.emit(DiscoveredEvent{peripheralEvent{m.registry.view(p)}, result})
}

func (m *Manager) onConnected(id string) {
	p, ok := m.lookup("connected", id)
	if !ok {
		return
	}
	if p.state != StateConnecting {
		m.ignore("connected", p)
		return
	}

	m.registry.setState(p, StateDiscoveringServices, StatusSuccess)
	m.logger.WithFields(logrus.Fields{
		"address":   p.id,
		"reconnect": p.autoConnect,
	}).Info("Connected")
	m.emit(ConnectedEvent{peripheralEvent{m.registry.view(p)}})

	if err := m.driver.DiscoverServices(p.id); err != nil {
		m.logger.WithError(err).WithField("address", p.id).Warn("Service discovery request failed, dropping link")
		if err := m.driver.Disconnect(p.id); err != nil {
			m.logger.WithError(err).WithField("address", p.id).Warn("Disconnect request failed")
		}
	}
}

func (m *Manager) onServicesDiscovered(id string, services []string) {
	p, ok := m.lookup("services-discovered", id)
	if !ok {
		return
	}
	if p.state != StateDiscoveringServices {
		m.ignore("services-discovered", p)
		return
	}

	m.registry.mutate(p, func(p *peripheral) {
		p.services = append([]string(nil), services...)
		p.state = StateNegotiatingLink
	})
	m.logger.WithFields(logrus.Fields{
		"address":  p.id,
		"services": len(services),
	}).Debug("Services discovered")
	m.emit(ServicesDiscoveredEvent{peripheralEvent{m.registry.view(p)}})

	if err := m.driver.NegotiatePayloadSize(p.id, m.opts.TargetPayloadSize); err != nil {
		m.logger.WithError(err).WithField("address", p.id).Warn("Payload negotiation request failed")
		m.onNegotiationComplete(p.id, p.payloadSize, StatusFailure)
	}
}

// onNegotiationComplete always ends link setup in Ready; a failed negotiation
// keeps the previous payload size.
func (m *Manager) onNegotiationComplete(id string, size int, status Status) {
	p, ok := m.lookup("negotiation-complete", id)
	if !ok {
		return
	}
	if p.state != StateNegotiatingLink {
		m.ignore("negotiation-complete", p)
		return
	}

	m.registry.mutate(p, func(p *peripheral) {
		if status.OK() && size > 0 {
			p.payloadSize = size
		}
		p.state = StateReady
		p.autoConnect = false
	})
	m.logger.WithFields(logrus.Fields{
		"address":      p.id,
		"payload_size": p.payloadSize,
		"status":       status,
	}).Info("Peripheral ready")
	m.emit(NegotiatedSizeEvent{peripheralEvent{m.registry.view(p)}, p.payloadSize, status})
}

func (m *Manager) onConnectionFailed(id string, status Status) {
	p, ok := m.lookup("connection-failed", id)
	if !ok {
		return
	}
	switch p.state {
	case StateIdle, StateDisconnected, StateReconnectPending:
		m.ignore("connection-failed", p)
		return
	}
	m.failConnection(p, status)
}

func (m *Manager) failConnection(p *peripheral, status Status) {
	m.registry.mutate(p, func(p *peripheral) {
		p.state = StateDisconnected
		p.reason = status
		p.autoConnect = false
		p.payloadSize = m.opts.DefaultPayloadSize
	})
	m.logger.WithFields(logrus.Fields{
		"address": p.id,
		"status":  status,
	}).Warn("Connection failed")
	m.emit(ConnectionFailedEvent{peripheralEvent{m.registry.view(p)}, status})
}

// onDisconnected reconnects automatically unless the host asked for the teardown.
func (m *Manager) onDisconnected(id string, status Status) {
	p, ok := m.lookup("disconnected", id)
	if !ok {
		return
	}
	switch p.state {
	case StateIdle, StateDisconnected, StateReconnectPending:
		m.ignore("disconnected", p)
		return
	}

	hostInitiated := p.hostDisconnect || p.state == StateDisconnecting
	m.registry.mutate(p, func(p *peripheral) {
		p.state = StateDisconnected
		p.reason = status
		p.autoConnect = false
		p.payloadSize = m.opts.DefaultPayloadSize
	})
	log := m.logger.WithFields(logrus.Fields{
		"address": p.id,
		"status":  status,
	})
	m.emit(DisconnectedEvent{peripheralEvent{m.registry.view(p)}, status})

	if hostInitiated {
		log.Info("Disconnected")
		return
	}

	m.registry.setState(p, StateReconnectPending, status)
	m.reconnects.schedule(p.id, m.opts.ReconnectDelay, func(gen uint64) {
		m.post("reconnect", func() { m.onReconnectTimer(id, gen) })
	})
	log.WithField("delay", m.opts.ReconnectDelay).Warn("Link lost, reconnect scheduled")
}

// onReconnectTimer runs when a reconnect delay elapses. Timers that were
// cancelled or superseded while their job was queued are ignored.
func (m *Manager) onReconnectTimer(id string, gen uint64) {
	p, ok := m.registry.get(id)
	if !m.reconnects.complete(NormalizeID(id), gen) || !ok || p.state != StateReconnectPending {
		m.logger.WithField("address", id).Debug("Ignoring stale reconnect timer")
		return
	}

	m.registry.mutate(p, func(p *peripheral) {
		p.state = StateConnecting
		p.autoConnect = true
	})
	m.logger.WithField("address", p.id).Info("Reconnecting")

	if err := m.driver.AutoConnect(p.id); err != nil {
		m.logger.WithError(err).WithField("address", p.id).Warn("Auto-connect request failed")
		m.failConnection(p, StatusFailure)
	}
}

func (m *Manager) onScanFailed(code ScanErrorCode) {
	m.scanning.Store(false)
	m.logger.WithField("code", code).Warn("Scan failed")
	m.emit(ScanFailedEvent{Code: code})
}

// onAdapterStateChanged never restarts a scan on its own; resuming is up to the host.
func (m *Manager) onAdapterStateChanged(state AdapterState) {
	if state == AdapterOff || state == AdapterTurningOff {
		m.scanning.Store(false)
	}
	m.logger.WithField("state", state).Info("Adapter state changed")
	m.emit(AdapterStateEvent{State: state})
}

func (m *Manager) onNotificationState(id, characteristic string, status Status) {
	p, ok := m.lookup("notification-state", id)
	if !ok {
		return
	}
	m.emit(NotificationStateEvent{peripheralEvent{m.registry.view(p)}, characteristic, status})
}

func (m *Manager) onCharacteristicWrite(id, characteristic string, value []byte, status Status) {
	p, ok := m.lookup("characteristic-write", id)
	if !ok {
		return
	}
	m.emit(CharacteristicWriteEvent{peripheralEvent{m.registry.view(p)}, value, characteristic, status})
}

func (m *Manager) onCharacteristicUpdate(id, characteristic string, value []byte, status Status) {
	p, ok := m.lookup("characteristic-update", id)
	if !ok {
		return
	}
	if !status.OK() {
		m.logger.WithFields(logrus.Fields{
			"address":        p.id,
			"characteristic": characteristic,
			"status":         status,
		}).Debug("Dropping failed characteristic update")
		return
	}
	m.emit(CharacteristicUpdateEvent{peripheralEvent{m.registry.view(p)}, value, characteristic, status})
}
