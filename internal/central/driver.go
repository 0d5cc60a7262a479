package central

import "github.com/sirupsen/logrus"

// LinkDriver is the low-level link stack the manager drives. Every method must
// return promptly; outcomes are reported asynchronously through LinkEvents.
// A returned error means the request could not even be issued.
type LinkDriver interface {
	// StartScan begins discovery. An empty filter reports every advertiser.
	StartScan(services []string) error
	StopScan() error

	Connect(id string) error
	// AutoConnect connects to a previously seen peripheral whenever it becomes reachable.
	AutoConnect(id string) error
	Disconnect(id string) error

	DiscoverServices(id string) error
	NegotiatePayloadSize(id string, target int) error

	Read(id, service, characteristic string) error
	Write(id, service, characteristic string, value []byte, withResponse bool) error
	SetNotify(id, service, characteristic string, enable bool) error

	// Close releases the link stack. No LinkEvents are expected afterwards.
	Close() error
}

// LinkEvents receives driver callbacks. Implementations may be called from any goroutine.
type LinkEvents interface {
	Discovered(result ScanResult)
	Connected(id string)
	ConnectionFailed(id string, status Status)
	Disconnected(id string, status Status)
	ServicesDiscovered(id string, services []string)
	NegotiationComplete(id string, size int, status Status)
	ScanFailed(code ScanErrorCode)
	AdapterStateChanged(state AdapterState)
	NotificationStateUpdated(id, characteristic string, status Status)
	CharacteristicWritten(id, characteristic string, value []byte, status Status)
	CharacteristicUpdated(id, characteristic string, value []byte, status Status)
}

// DriverFactory acquires the platform link stack. An error means the
// capability is unavailable on this host.
type DriverFactory func(events LinkEvents, logger *logrus.Logger) (LinkDriver, error)
