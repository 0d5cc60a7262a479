// Package mocks holds testify mocks for the go-ble interfaces the link driver consumes.
// Each mock embeds the go-ble interface it stands in for; calling a method the
// mock does not override panics, which flags an unexpected dependency in a test.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement is a mock implementation of ble.Advertisement.
type MockAdvertisement struct {
	ble.Advertisement
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string { return m.Called().String(0) }

func (m *MockAdvertisement) ManufacturerData() []byte {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).([]byte)
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).([]ble.ServiceData)
}

func (m *MockAdvertisement) Services() []ble.UUID {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) TxPowerLevel() int { return m.Called().Int(0) }
func (m *MockAdvertisement) Connectable() bool { return m.Called().Bool(0) }
func (m *MockAdvertisement) RSSI() int         { return m.Called().Int(0) }

func (m *MockAdvertisement) Addr() ble.Addr {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).(ble.Addr)
}

// MockDevice is a mock implementation of the ble.Device methods used for central operation.
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	ret := m.Called(ctx, a)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(ble.Client), ret.Error(1)
}

func (m *MockDevice) Stop() error { return m.Called().Error(0) }

// MockClient is a mock implementation of ble.Client. Close DisconnectedCh to
// simulate the peripheral dropping the link.
type MockClient struct {
	ble.Client
	mock.Mock
	DisconnectedCh chan struct{}
}

func (m *MockClient) Addr() ble.Addr {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).(ble.Addr)
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	ret := m.Called(force)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*ble.Profile), ret.Error(1)
}

func (m *MockClient) ExchangeMTU(rxMTU int) (int, error) {
	ret := m.Called(rxMTU)
	return ret.Int(0), ret.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	ret := m.Called(c)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).([]byte), ret.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockClient) CancelConnection() error { return m.Called().Error(0) }

func (m *MockClient) Disconnected() <-chan struct{} { return m.DisconnectedCh }
