package central

import (
	"sort"
	"strings"
	"time"

	"github.com/srg/blecentral/internal/uuid"
)

// DefaultPayloadSize is the ATT MTU every link starts with before negotiation.
const DefaultPayloadSize = 23

// ScanResult is the normalized advertisement a driver reports for a peripheral.
type ScanResult struct {
	Address          string
	Name             string
	RSSI             int
	TxPower          *int
	Connectable      bool
	Services         []string
	ManufacturerData []byte
	ServiceData      map[string][]byte
}

// Peripheral is a copy-out snapshot of a peripheral handle. Mutating it has no
// effect on the manager.
type Peripheral struct {
	ID                 string
	Address            string
	Name               string
	RSSI               int
	Connectable        bool
	AdvertisedServices []string
	Services           []string
	PayloadSize        int
	State              ConnectionState
	Reason             Status
	LastSeen           time.Time
}

// DisplayName returns the name when known, the address otherwise.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name
}

// HasService reports whether the peripheral advertised or exposes the service.
func (p Peripheral) HasService(serviceUUID string) bool {
	want := uuid.Normalize(serviceUUID)
	for _, s := range p.Services {
		if s == want {
			return true
		}
	}
	for _, s := range p.AdvertisedServices {
		if s == want {
			return true
		}
	}
	return false
}

// NormalizeID maps an address to the key peripherals are tracked under.
func NormalizeID(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// peripheral is the manager-owned handle record. Fields are written only by the
// manager loop while holding the registry lock.
type peripheral struct {
	id                 string
	address            string
	name               string
	rssi               int
	connectable        bool
	advertisedServices []string
	services           []string
	payloadSize        int
	state              ConnectionState
	reason             Status
	lastSeen           time.Time

	// hostDisconnect marks a teardown requested through Disconnect; such links are not reconnected.
	hostDisconnect bool
	// autoConnect marks a Connecting state entered by the reconnect policy.
	autoConnect bool
}

func newPeripheral(res ScanResult, defaultPayload int, now time.Time) *peripheral {
	p := &peripheral{
		id:          NormalizeID(res.Address),
		address:     res.Address,
		payloadSize: defaultPayload,
		state:       StateIdle,
	}
	p.update(res, now)
	return p
}

// update refreshes advertisement-derived metadata. A missing name never erases a known one.
func (p *peripheral) update(res ScanResult, now time.Time) {
	p.rssi = res.RSSI
	p.connectable = res.Connectable
	p.lastSeen = now

	if res.Name != "" {
		p.name = res.Name
	}

	needsSort := false
	for _, svc := range res.Services {
		normalized := uuid.Normalize(svc)
		if !containsString(p.advertisedServices, normalized) {
			p.advertisedServices = append(p.advertisedServices, normalized)
			needsSort = true
		}
	}
	if needsSort {
		sort.Strings(p.advertisedServices)
	}
}

func (p *peripheral) snapshot() Peripheral {
	return Peripheral{
		ID:                 p.id,
		Address:            p.address,
		Name:               p.name,
		RSSI:               p.rssi,
		Connectable:        p.connectable,
		AdvertisedServices: append([]string(nil), p.advertisedServices...),
		Services:           append([]string(nil), p.services...),
		PayloadSize:        p.payloadSize,
		State:              p.state,
		Reason:             p.reason,
		LastSeen:           p.lastSeen,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
