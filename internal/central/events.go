package central

// Event is one normalized lifecycle or data event. The set of variants is closed;
// every variant is delivered to exactly one listener method.
type Event interface {
	// PeripheralID returns the peripheral the event concerns, or "" for central-wide events.
	PeripheralID() string
	isEvent()
}

type centralEvent struct{}

func (centralEvent) PeripheralID() string { return "" }
func (centralEvent) isEvent()             {}

type peripheralEvent struct {
	Peripheral Peripheral
}

func (e peripheralEvent) PeripheralID() string { return e.Peripheral.ID }
func (peripheralEvent) isEvent()               {}

// Central-level events.

type PauseEvent struct{ centralEvent }

type ResumeEvent struct{ centralEvent }

// HostLifecycleEvent carries a platform activity result back to the host.
type HostLifecycleEvent struct {
	centralEvent
	RequestCode int
	ResultCode  int
	Data        map[string]string
}

type PermissionResultEvent struct {
	centralEvent
	RequestCode  int
	Permissions  []string
	GrantResults []int
}

type ConnectedEvent struct{ peripheralEvent }

type ConnectionFailedEvent struct {
	peripheralEvent
	Status Status
}

type DisconnectedEvent struct {
	peripheralEvent
	Status Status
}

type DiscoveredEvent struct {
	peripheralEvent
	Result ScanResult
}

type AdapterStateEvent struct {
	centralEvent
	State AdapterState
}

type ScanFailedEvent struct {
	centralEvent
	Code ScanErrorCode
}

// Peripheral-level events.

type ServicesDiscoveredEvent struct{ peripheralEvent }

type NotificationStateEvent struct {
	peripheralEvent
	Characteristic string
	Status         Status
}

type CharacteristicWriteEvent struct {
	peripheralEvent
	Value          []byte
	Characteristic string
	Status         Status
}

type CharacteristicUpdateEvent struct {
	peripheralEvent
	Value          []byte
	Characteristic string
	Status         Status
}

// NegotiatedSizeEvent marks the end of link setup; the peripheral is Ready when it is emitted.
type NegotiatedSizeEvent struct {
	peripheralEvent
	Size   int
	Status Status
}
