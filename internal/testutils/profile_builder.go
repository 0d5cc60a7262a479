package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a GATT characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,write,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a GATT service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralBuilder builds the GATT profile of a mocked peripheral and the
// go-ble client that serves it.
type PeripheralBuilder struct {
	services []ServiceConfig
	mtu      int
	mtuErr   error
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{mtu: 185}
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.services = append(b.services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.services[len(b.services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithMTU sets the result of the MTU exchange. A non-nil err makes the exchange fail.
func (b *PeripheralBuilder) WithMTU(mtu int, err error) *PeripheralBuilder {
	b.mtu = mtu
	b.mtuErr = err
	return b
}

// FromJSON replaces the profile with the services described in JSON.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var config struct {
		Services []ServiceConfig `json:"services"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.services = config.Services
	return b
}

// ParseProperties converts a comma separated property list to ble.Property flags.
// An empty list means read, write and notify.
func ParseProperties(props string) ble.Property {
	if strings.TrimSpace(props) == "" {
		return ble.CharRead | ble.CharWrite | ble.CharNotify
	}

	var property ble.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= ble.CharRead
		case "write":
			property |= ble.CharWrite
		case "write-without-response":
			property |= ble.CharWriteNR
		case "notify":
			property |= ble.CharNotify
		case "indicate":
			property |= ble.CharIndicate
		}
	}
	return property
}

// Profile builds the go-ble profile.
func (b *PeripheralBuilder) Profile() *ble.Profile {
	profile := &ble.Profile{}
	for _, svcConfig := range b.services {
		svc := &ble.Service{UUID: ble.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{
				UUID:     ble.MustParse(charConfig.UUID),
				Property: ParseProperties(charConfig.Properties),
				Value:    charConfig.Value,
			})
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}

// BuildClient creates a MockClient serving the profile. Reads return the
// configured values; subscriptions and writes succeed.
func (b *PeripheralBuilder) BuildClient(address string) *mocks.MockClient {
	profile := b.Profile()
	client := &mocks.MockClient{DisconnectedCh: make(chan struct{})}

	client.On("Addr").Return(ble.NewAddr(address)).Maybe()
	client.On("DiscoverProfile", true).Return(profile, nil).Maybe()
	client.On("ExchangeMTU", mock.Anything).Return(b.mtu, b.mtuErr).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()

	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			client.On("Subscribe", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			client.On("Unsubscribe", char, mock.Anything).Return(nil).Maybe()
			client.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			if char.Property&ble.CharRead != 0 {
				client.On("ReadCharacteristic", char).Return(char.Value, nil).Maybe()
			} else {
				client.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}
		}
	}
	return client
}

// Services returns the configured services.
func (b *PeripheralBuilder) Services() []ServiceConfig {
	return b.services
}
