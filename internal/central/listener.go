package central

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// CentralListener receives central-level lifecycle events. Methods are called
// from a single dispatcher goroutine, in the order the manager produced them.
type CentralListener interface {
	OnPause()
	OnResume()
	OnHostLifecycleEvent(requestCode, resultCode int, data map[string]string)
	OnPermissionResult(requestCode int, permissions []string, grantResults []int)
	OnConnectedPeripheral(p Peripheral)
	OnConnectionFailed(p Peripheral, status Status)
	OnDisconnectedPeripheral(p Peripheral, status Status)
	OnDiscoveredPeripheral(p Peripheral, result ScanResult)
	OnAdapterStateChanged(state AdapterState)
	OnScanFailed(code ScanErrorCode)
}

// PeripheralListener receives per-peripheral link and data events.
type PeripheralListener interface {
	OnServicesDiscovered(p Peripheral)
	OnNotificationStateUpdate(p Peripheral, characteristic string, status Status)
	OnCharacteristicWrite(p Peripheral, value []byte, characteristic string, status Status)
	OnCharacteristicUpdate(p Peripheral, value []byte, characteristic string, status Status)
	OnNegotiatedSize(p Peripheral, size int, status Status)
}

// NopCentralListener ignores every event. Embed it to implement a subset of CentralListener.
type NopCentralListener struct{}

func (NopCentralListener) OnPause()                                         {}
func (NopCentralListener) OnResume()                                        {}
func (NopCentralListener) OnHostLifecycleEvent(int, int, map[string]string) {}
func (NopCentralListener) OnPermissionResult(int, []string, []int)          {}
func (NopCentralListener) OnConnectedPeripheral(Peripheral)                 {}
func (NopCentralListener) OnConnectionFailed(Peripheral, Status)            {}
func (NopCentralListener) OnDisconnectedPeripheral(Peripheral, Status)      {}
func (NopCentralListener) OnDiscoveredPeripheral(Peripheral, ScanResult)    {}
func (NopCentralListener) OnAdapterStateChanged(AdapterState)               {}
func (NopCentralListener) OnScanFailed(ScanErrorCode)                       {}

// NopPeripheralListener ignores every event. Embed it to implement a subset of PeripheralListener.
type NopPeripheralListener struct{}

func (NopPeripheralListener) OnServicesDiscovered(Peripheral)                           {}
func (NopPeripheralListener) OnNotificationStateUpdate(Peripheral, string, Status)      {}
func (NopPeripheralListener) OnCharacteristicWrite(Peripheral, []byte, string, Status)  {}
func (NopPeripheralListener) OnCharacteristicUpdate(Peripheral, []byte, string, Status) {}
func (NopPeripheralListener) OnNegotiatedSize(Peripheral, int, Status)                  {}

// Deliver routes ev to the matching listener method.
func Deliver(ev Event, cl CentralListener, pl PeripheralListener) error {
	switch e := ev.(type) {
	case PauseEvent:
		cl.OnPause()
	case ResumeEvent:
		cl.OnResume()
	case HostLifecycleEvent:
		cl.OnHostLifecycleEvent(e.RequestCode, e.ResultCode, e.Data)
	case PermissionResultEvent:
		cl.OnPermissionResult(e.RequestCode, e.Permissions, e.GrantResults)
	case ConnectedEvent:
		cl.OnConnectedPeripheral(e.Peripheral)
	case ConnectionFailedEvent:
		cl.OnConnectionFailed(e.Peripheral, e.Status)
	case DisconnectedEvent:
		cl.OnDisconnectedPeripheral(e.Peripheral, e.Status)
	case DiscoveredEvent:
		cl.OnDiscoveredPeripheral(e.Peripheral, e.Result)
	case AdapterStateEvent:
		cl.OnAdapterStateChanged(e.State)
	case ScanFailedEvent:
		cl.OnScanFailed(e.Code)
	case ServicesDiscoveredEvent:
		pl.OnServicesDiscovered(e.Peripheral)
	case NotificationStateEvent:
		pl.OnNotificationStateUpdate(e.Peripheral, e.Characteristic, e.Status)
	case CharacteristicWriteEvent:
		pl.OnCharacteristicWrite(e.Peripheral, e.Value, e.Characteristic, e.Status)
	case CharacteristicUpdateEvent:
		pl.OnCharacteristicUpdate(e.Peripheral, e.Value, e.Characteristic, e.Status)
	case NegotiatedSizeEvent:
		pl.OnNegotiatedSize(e.Peripheral, e.Size, e.Status)
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
	return nil
}

// dispatcher drains the outbound queue on one goroutine.
type dispatcher struct {
	queue      *mailbox[Event]
	central    CentralListener
	peripheral PeripheralListener
	logger     *logrus.Logger
	stopped    atomic.Bool
}

func (d *dispatcher) run() {
	for {
		events, ok := d.queue.wait()
		if !ok {
			return
		}
		for _, ev := range events {
			if d.stopped.Load() {
				return
			}
			d.deliver(ev)
		}
	}
}

// stop prevents delivery of anything not yet handed to a listener.
func (d *dispatcher) stop() {
	d.stopped.Store(true)
}

// deliver isolates listener panics so one faulty callback does not stop delivery.
func (d *dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"event":   fmt.Sprintf("%T", ev),
				"address": ev.PeripheralID(),
				"panic":   r,
			}).Error("Listener panicked while handling event")
		}
	}()

	if err := Deliver(ev, d.central, d.peripheral); err != nil {
		d.logger.WithError(err).Warn("Dropped event")
	}
}
