package central

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	heartRateAddr = "AA:BB:CC:DD:EE:01"
	heartRateID   = "aa:bb:cc:dd:ee:01"
	waitTimeout   = 2 * time.Second
	waitTick      = 5 * time.Millisecond
)

type ManagerTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	driver   *mockDriver
	events   LinkEvents
	timers   *fakeTimers
	recorder *recorder
	manager  *Manager
}

func (suite *ManagerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.driver = &mockDriver{}
	suite.timers = &fakeTimers{}
	suite.recorder = &recorder{}
	suite.events = nil
	suite.manager = New(func(events LinkEvents, _ *logrus.Logger) (LinkDriver, error) {
		suite.events = events
		return suite.driver, nil
	}, WithLogger(suite.helper.Logger))
	suite.manager.reconnects.after = suite.timers.after
}

func (suite *ManagerTestSuite) TearDownTest() {
	suite.driver.On("Close").Return(nil).Maybe()
	suite.NoError(suite.manager.Close(), "close MUST succeed")
}

// start registers permissive driver expectations and initializes the manager.
func (suite *ManagerTestSuite) start() {
	suite.driver.expectDefaults()
	suite.Require().NoError(suite.manager.Init(suite.recorder, suite.recorder), "init MUST succeed")
}

// sync waits until every job queued so far has run on the loop.
func (suite *ManagerTestSuite) sync() {
	suite.Require().NoError(suite.manager.exec("sync", func() error { return nil }))
}

// flush waits until every event emitted so far has been delivered.
func (suite *ManagerTestSuite) flush() {
	before := suite.recorder.count("OnPause")
	suite.Require().NoError(suite.manager.Pause())
	suite.Require().Eventually(func() bool {
		return suite.recorder.count("OnPause") > before
	}, waitTimeout, waitTick, "barrier event MUST be delivered")
	suite.recorder.dropLast("OnPause")
}

func (suite *ManagerTestSuite) waitFor(method string) record {
	suite.Require().Eventually(func() bool {
		_, ok := suite.recorder.find(method)
		return ok
	}, waitTimeout, waitTick, "%s MUST be delivered", method)
	rec, _ := suite.recorder.find(method)
	return rec
}

func (suite *ManagerTestSuite) state(id string) ConnectionState {
	p, ok := suite.manager.Peripheral(id)
	suite.Require().True(ok, "peripheral %s MUST be known", id)
	return p.State
}

func (suite *ManagerTestSuite) discover(address string) {
	if !suite.manager.IsScanning() {
		suite.Require().NoError(suite.manager.ScanAll())
	}
	suite.events.Discovered(ScanResult{Address: address, Name: "HeartRate", RSSI: -50, Connectable: true})
	suite.sync()
}

func (suite *ManagerTestSuite) connectReady(address string) {
	suite.discover(address)
	suite.Require().NoError(suite.manager.Connect(address))
	id := NormalizeID(address)
	suite.events.Connected(id)
	suite.events.ServicesDiscovered(id, []string{"180D", "0000180f-0000-1000-8000-00805f9b34fb"})
	suite.events.NegotiationComplete(id, 185, StatusSuccess)
	suite.sync()
	suite.Require().Equal(StateReady, suite.state(id), "peripheral MUST be ready")
}

func (suite *ManagerTestSuite) loseLink(id string) {
	suite.events.Disconnected(id, StatusLinkLoss)
	suite.sync()
	suite.Require().Equal(StateReconnectPending, suite.state(id), "link loss MUST schedule a reconnect")
}

func (suite *ManagerTestSuite) TestInit_CapabilityUnavailable() {
	// GOAL: Verify a missing platform capability leaves the manager uninitialized without touching the driver
	//
	// TEST SCENARIO: factory fails → Init returns ErrCapabilityUnavailable → commands report ErrNotInitialized

	calls := 0
	m := New(func(LinkEvents, *logrus.Logger) (LinkDriver, error) {
		calls++
		return nil, errors.New("bluetooth hardware not present")
	}, WithLogger(suite.helper.Logger))

	err := m.Init(suite.recorder, suite.recorder)
	suite.ErrorIs(err, ErrCapabilityUnavailable, "init MUST report missing capability")
	suite.Contains(err.Error(), "bluetooth hardware not present")
	suite.Equal(1, calls, "factory MUST be consulted once")

	suite.ErrorIs(m.ScanAll(), ErrNotInitialized, "scan MUST fail before a successful init")
	suite.ErrorIs(m.Connect(heartRateAddr), ErrNotInitialized, "connect MUST fail before a successful init")
	suite.False(m.IsScanning())
	suite.NoError(m.Close())
	suite.driver.AssertNotCalled(suite.T(), "StartScan", mock.Anything)
}

func (suite *ManagerTestSuite) TestInit_Twice() {
	suite.start()
	suite.ErrorIs(suite.manager.Init(nil, nil), ErrAlreadyInitialized, "second init MUST be rejected")
}

func (suite *ManagerTestSuite) TestLifecycleErrors() {
	suite.ErrorIs(suite.manager.StopScan(), ErrNotInitialized)
	suite.ErrorIs(suite.manager.Pause(), ErrNotInitialized)

	suite.start()
	suite.Require().NoError(suite.manager.Close())

	suite.ErrorIs(suite.manager.ScanAll(), ErrClosed, "scan MUST fail after close")
	suite.ErrorIs(suite.manager.Disconnect(heartRateAddr), ErrClosed, "disconnect MUST fail after close")
	suite.ErrorIs(suite.manager.Init(nil, nil), ErrClosed, "init MUST fail after close")
	suite.NoError(suite.manager.Close(), "second close MUST be a no-op")
	suite.driver.AssertNumberOfCalls(suite.T(), "Close", 1)
}

func (suite *ManagerTestSuite) TestStartScan_AlreadyScanning() {
	// GOAL: Verify a second scan request does not issue a second driver scan
	suite.start()

	suite.Require().NoError(suite.manager.ScanAll())
	err := suite.manager.ScanForServices("180d")

	suite.ErrorIs(err, ErrAlreadyScanning, "second scan MUST be rejected")
	suite.True(suite.manager.IsScanning())
	suite.driver.AssertNumberOfCalls(suite.T(), "StartScan", 1)
}

func (suite *ManagerTestSuite) TestStartScan_Filters() {
	tests := []struct {
		name     string
		services []string
		expected []string
		wantErr  bool
	}{
		{name: "no filter", services: nil, expected: nil},
		{name: "short uuid", services: []string{"180D"}, expected: []string{"180d"}},
		{name: "full sig uuid collapses", services: []string{"0000180F-0000-1000-8000-00805F9B34FB"}, expected: []string{"180f"}},
		{name: "invalid uuid", services: []string{"not-a-uuid"}, wantErr: true},
		{name: "empty uuid", services: []string{""}, wantErr: true},
	}

	suite.start()
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			err := suite.manager.StartScan(tt.services...)
			if tt.wantErr {
				suite.Error(err, "invalid filter MUST be rejected")
				suite.False(suite.manager.IsScanning())
				return
			}
			suite.Require().NoError(err)
			suite.driver.AssertCalled(suite.T(), "StartScan", tt.expected)
			suite.Require().NoError(suite.manager.StopScan())
		})
	}
}

func (suite *ManagerTestSuite) TestStartScan_DriverFailure() {
	// GOAL: Verify a scan the driver refuses becomes a ScanFailed event and stays inactive
	suite.driver.On("StartScan", mock.Anything).Return(errors.New("adapter busy")).Once()
	suite.start()

	suite.NoError(suite.manager.ScanAll(), "transport failures MUST NOT be returned")
	rec := suite.waitFor("OnScanFailed")

	suite.Equal(ScanErrorInternal, rec.Code)
	suite.False(suite.manager.IsScanning(), "scan MUST stay inactive")
}

func (suite *ManagerTestSuite) TestStopScan() {
	suite.start()

	suite.NoError(suite.manager.StopScan(), "stopping an idle scan MUST be a no-op")
	suite.driver.AssertNotCalled(suite.T(), "StopScan")

	suite.Require().NoError(suite.manager.ScanAll())
	suite.NoError(suite.manager.StopScan())
	suite.False(suite.manager.IsScanning())
	suite.driver.AssertNumberOfCalls(suite.T(), "StopScan", 1)
}

func (suite *ManagerTestSuite) TestDiscovery() {
	// GOAL: Verify discovery creates and refreshes one handle per address and forwards only while scanning
	//
	// TEST SCENARIO: scan → two sightings of the same peripheral → stop → third sighting not forwarded
	suite.start()
	suite.Require().NoError(suite.manager.ScanAll())

	suite.events.Discovered(ScanResult{Address: heartRateAddr, Name: "HeartRate", RSSI: -70, Services: []string{"180D"}})
	suite.events.Discovered(ScanResult{Address: heartRateAddr, RSSI: -40, Services: []string{"180F"}})
	suite.sync()
	suite.Require().NoError(suite.manager.StopScan())
	suite.events.Discovered(ScanResult{Address: heartRateAddr, RSSI: -30})
	suite.sync()
	suite.flush()

	suite.Equal(2, suite.recorder.count("OnDiscoveredPeripheral"), "only sightings while scanning MUST be forwarded")

	peripherals := suite.manager.Peripherals()
	suite.Require().Len(peripherals, 1, "sightings MUST reuse one handle")
	p := peripherals[0]
	suite.Equal(heartRateID, p.ID)
	suite.Equal(heartRateAddr, p.Address)
	suite.Equal("HeartRate", p.Name, "a missing name MUST NOT erase the known one")
	suite.Equal(-30, p.RSSI)
	suite.Equal([]string{"180d", "180f"}, p.AdvertisedServices)
	suite.Equal(StateIdle, p.State)
	suite.Equal(DefaultPayloadSize, p.PayloadSize)

	rec, _ := suite.recorder.find("OnDiscoveredPeripheral")
	suite.Equal(-70, rec.Result.RSSI, "scan result MUST be forwarded as reported")
}

func (suite *ManagerTestSuite) TestConnect_FullLifecycle() {
	// GOAL: Verify the link walks Connecting → DiscoveringServices → NegotiatingLink → Ready
	suite.start()
	suite.discover(heartRateAddr)

	suite.Require().NoError(suite.manager.Connect(heartRateAddr))
	suite.Equal(StateConnecting, suite.state(heartRateID))
	suite.driver.AssertCalled(suite.T(), "Connect", heartRateID)

	suite.events.Connected(heartRateID)
	suite.sync()
	suite.Equal(StateDiscoveringServices, suite.state(heartRateID))
	suite.driver.AssertCalled(suite.T(), "DiscoverServices", heartRateID)

	suite.events.ServicesDiscovered(heartRateID, []string{"180D"})
	suite.sync()
	suite.Equal(StateNegotiatingLink, suite.state(heartRateID))
	suite.driver.AssertCalled(suite.T(), "NegotiatePayloadSize", heartRateID, 185)

	suite.events.NegotiationComplete(heartRateID, 185, StatusSuccess)
	suite.sync()

	p, _ := suite.manager.Peripheral(heartRateID)
	suite.Equal(StateReady, p.State)
	suite.Equal(185, p.PayloadSize)
	suite.Equal([]string{"180d"}, p.Services)

	rec := suite.waitFor("OnNegotiatedSize")
	suite.Equal(185, rec.Size)
	suite.Equal(StatusSuccess, rec.Status)
	suite.Equal(StateReady, rec.Peripheral.State, "snapshot MUST show the ready state")

	suite.Equal([]string{
		"OnDiscoveredPeripheral",
		"OnConnectedPeripheral",
		"OnServicesDiscovered",
		"OnNegotiatedSize",
	}, suite.recorder.methods(), "events MUST arrive in state machine order")
}

func (suite *ManagerTestSuite) TestNegotiationFailure_StillReady() {
	// GOAL: Verify a failed payload negotiation never leaves the link stuck in NegotiatingLink
	suite.start()
	suite.discover(heartRateAddr)
	suite.Require().NoError(suite.manager.Connect(heartRateAddr))
	suite.events.Connected(heartRateID)
	suite.events.ServicesDiscovered(heartRateID, nil)
	suite.events.NegotiationComplete(heartRateID, 0, StatusFailure)
	suite.sync()

	p, _ := suite.manager.Peripheral(heartRateID)
	suite.Equal(StateReady, p.State, "negotiation failure MUST still reach ready")
	suite.Equal(DefaultPayloadSize, p.PayloadSize, "failed negotiation MUST keep the default size")

	rec := suite.waitFor("OnNegotiatedSize")
	suite.Equal(StatusFailure, rec.Status)
	suite.Equal(DefaultPayloadSize, rec.Size)
}

func (suite *ManagerTestSuite) TestNegotiationRequestRejected() {
	suite.driver.On("NegotiatePayloadSize", heartRateID, 185).Return(errors.New("not supported")).Once()
	suite.start()
	suite.discover(heartRateAddr)
	suite.Require().NoError(suite.manager.Connect(heartRateAddr))
	suite.events.Connected(heartRateID)
	suite.events.ServicesDiscovered(heartRateID, nil)
	suite.sync()

	suite.Equal(StateReady, suite.state(heartRateID))
	suite.Equal(StatusFailure, suite.waitFor("OnNegotiatedSize").Status)
}

func (suite *ManagerTestSuite) TestConnect_Rejections() {
	suite.start()

	var notFound *NotFoundError
	suite.ErrorAs(suite.manager.Connect("11:22:33:44:55:66"), &notFound, "unknown peripheral MUST be reported")
	suite.Equal("peripheral", notFound.Resource)

	suite.discover(heartRateAddr)
	suite.Require().NoError(suite.manager.Connect(heartRateAddr))
	suite.ErrorIs(suite.manager.Connect(heartRateAddr), ErrInvalidState, "connect while connecting MUST be rejected")

	suite.events.Connected(heartRateID)
	suite.events.ServicesDiscovered(heartRateID, nil)
	suite.events.NegotiationComplete(heartRateID, 185, StatusSuccess)
	suite.sync()
	err := suite.manager.Connect(heartRateAddr)
	suite.ErrorIs(err, ErrInvalidState, "connect while ready MUST be rejected")
	suite.True(IsKind(err, InvalidState))
	suite.Contains(err.Error(), "ready")

	suite.driver.AssertNumberOfCalls(suite.T(), "Connect", 1)
}

func (suite *ManagerTestSuite) TestConnect_DriverRefuses() {
	suite.driver.On("Connect", heartRateID).Return(errors.New("radio off")).Once()
	suite.start()
	suite.discover(heartRateAddr)

	suite.NoError(suite.manager.Connect(heartRateAddr), "transport failures MUST be reported as events")
	rec := suite.waitFor("OnConnectionFailed")
	suite.Equal(StatusFailure, rec.Status)
	suite.Equal(StateDisconnected, suite.state(heartRateID))
}

func (suite *ManagerTestSuite) TestConnectionFailed_NoReconnect() {
	// GOAL: Verify a failed connection attempt ends in Disconnected(reason) without scheduling a reconnect
	suite.start()
	suite.discover(heartRateAddr)
	suite.Require().NoError(suite.manager.Connect(heartRateAddr))

	suite.events.ConnectionFailed(heartRateID, StatusTimeout)
	suite.sync()

	p, _ := suite.manager.Peripheral(heartRateID)
	suite.Equal(StateDisconnected, p.State)
	suite.Equal(StatusTimeout, p.Reason)
	suite.Equal(0, suite.timers.count(), "failed connection MUST NOT schedule a reconnect")
	suite.Equal(StatusTimeout, suite.waitFor("OnConnectionFailed").Status)
	suite.driver.AssertNotCalled(suite.T(), "AutoConnect", mock.Anything)

	suite.NoError(suite.manager.Connect(heartRateAddr), "host MUST be able to retry from disconnected")
}

func (suite *ManagerTestSuite) TestUnexpectedDisconnect_Reconnects() {
	// GOAL: Verify link loss schedules an auto-connect on the same handle after the fixed delay
	//
	// TEST SCENARIO: ready → link loss → ReconnectPending → timer fires → AutoConnect(same id) → ready again
	suite.start()
	suite.connectReady(heartRateAddr)

	suite.loseLink(heartRateID)

	rec := suite.waitFor("OnDisconnectedPeripheral")
	suite.Equal(StatusLinkLoss, rec.Status)
	suite.Equal(StateDisconnected, rec.Peripheral.State, "snapshot MUST show the link as disconnected")

	timer := suite.timers.last()
	suite.Require().NotNil(timer, "reconnect timer MUST be scheduled")
	suite.Equal(5*time.Second, timer.delay, "reconnect MUST use the default delay")
	suite.driver.AssertNotCalled(suite.T(), "AutoConnect", mock.Anything)

	timer.fire()
	suite.sync()

	suite.Equal(StateConnecting, suite.state(heartRateID))
	suite.driver.AssertCalled(suite.T(), "AutoConnect", heartRateID)
	suite.Len(suite.manager.Peripherals(), 1, "reconnect MUST reuse the handle")

	suite.events.Connected(heartRateID)
	suite.events.ServicesDiscovered(heartRateID, []string{"180D"})
	suite.events.NegotiationComplete(heartRateID, 247, StatusSuccess)
	suite.sync()
	p, _ := suite.manager.Peripheral(heartRateID)
	suite.Equal(StateReady, p.State)
	suite.Equal(247, p.PayloadSize)
}

func (suite *ManagerTestSuite) TestHostDisconnect_NoReconnect() {
	suite.start()
	suite.connectReady(heartRateAddr)

	suite.Require().NoError(suite.manager.Disconnect(heartRateAddr))
	suite.Equal(StateDisconnecting, suite.state(heartRateID))
	suite.driver.AssertCalled(suite.T(), "Disconnect", heartRateID)

	suite.events.Disconnected(heartRateID, StatusLocalTerminated)
	suite.sync()

	p, _ := suite.manager.Peripheral(heartRateID)
	suite.Equal(StateDisconnected, p.State)
	suite.Equal(StatusLocalTerminated, p.Reason)
	suite.Equal(DefaultPayloadSize, p.PayloadSize, "payload size MUST reset with the link")
	suite.Equal(0, suite.timers.count(), "host disconnect MUST NOT schedule a reconnect")

	suite.NoError(suite.manager.Disconnect(heartRateAddr), "disconnecting twice MUST be a no-op")
	suite.driver.AssertNumberOfCalls(suite.T(), "Disconnect", 1)
}

func (suite *ManagerTestSuite) TestDisconnect_Idle() {
	suite.start()
	suite.discover(heartRateAddr)
	suite.ErrorIs(suite.manager.Disconnect(heartRateAddr), ErrInvalidState, "idle peripheral MUST NOT be disconnected")
}

func (suite *ManagerTestSuite) TestDisconnectBeforeTimer_PreventsReconnect() {
	// GOAL: Verify disconnect cancels a pending reconnect even when the timer still fires afterwards
	suite.start()
	suite.connectReady(heartRateAddr)
	suite.loseLink(heartRateID)
	timer := suite.timers.last()

	suite.Require().NoError(suite.manager.Disconnect(heartRateAddr))
	suite.True(timer.stopped.Load(), "disconnect MUST stop the reconnect timer")

	p, _ := suite.manager.Peripheral(heartRateID)
	suite.Equal(StateDisconnected, p.State)
	suite.Equal(StatusLocalTerminated, p.Reason)

	timer.fire()
	suite.sync()

	suite.Equal(StateDisconnected, suite.state(heartRateID), "stale timer MUST NOT change state")
	suite.driver.AssertNotCalled(suite.T(), "AutoConnect", mock.Anything)
	suite.driver.AssertNotCalled(suite.T(), "Disconnect", mock.Anything)
}

func (suite *ManagerTestSuite) TestConnectWhileReconnectPending() {
	// GOAL: Verify a direct connect replaces the pending reconnect and the old timer is ignored
	suite.start()
	suite.connectReady(heartRateAddr)
	suite.loseLink(heartRateID)
	timer := suite.timers.last()

	suite.Require().NoError(suite.manager.Connect(heartRateAddr))
	suite.True(timer.stopped.Load())
	suite.Equal(StateConnecting, suite.state(heartRateID))

	timer.fire()
	suite.sync()

	suite.driver.AssertNotCalled(suite.T(), "AutoConnect", mock.Anything)
	suite.driver.AssertNumberOfCalls(suite.T(), "Connect", 2)
}

func (suite *ManagerTestSuite) TestReconnectAttemptRefused() {
	suite.driver.On("AutoConnect", heartRateID).Return(errors.New("adapter off")).Once()
	suite.start()
	suite.connectReady(heartRateAddr)
	suite.loseLink(heartRateID)

	suite.timers.last().fire()
	suite.sync()

	suite.Equal(StateDisconnected, suite.state(heartRateID))
	suite.Equal(StatusFailure, suite.waitFor("OnConnectionFailed").Status)
	suite.Equal(1, suite.timers.count(), "refused reconnect MUST NOT be retried")
}

func (suite *ManagerTestSuite) TestClose_CancelsReconnectAndSilencesListeners() {
	// GOAL: Verify teardown cancels pending reconnects and no callback runs after Close returns
	suite.start()
	suite.connectReady(heartRateAddr)
	suite.loseLink(heartRateID)
	timer := suite.timers.last()

	suite.Require().NoError(suite.manager.Close())
	suite.True(timer.stopped.Load(), "close MUST cancel pending reconnects")
	suite.driver.AssertCalled(suite.T(), "Close")

	before := len(suite.recorder.all())
	timer.fire()
	suite.events.Discovered(ScanResult{Address: heartRateAddr})
	suite.events.Disconnected(heartRateID, StatusLinkLoss)
	time.Sleep(20 * time.Millisecond)

	suite.Len(suite.recorder.all(), before, "no listener call MUST happen after close")
	suite.driver.AssertNotCalled(suite.T(), "AutoConnect", mock.Anything)
}

func (suite *ManagerTestSuite) TestClose_FromListener() {
	suite.start()
	closed := make(chan error, 1)
	suite.recorder.setHook(func(r record) {
		if r.Method == "OnConnectedPeripheral" {
			closed <- suite.manager.Close()
		}
	})
	suite.discover(heartRateAddr)
	suite.Require().NoError(suite.manager.Connect(heartRateAddr))
	suite.events.Connected(heartRateID)

	select {
	case err := <-closed:
		suite.NoError(err, "close from a listener MUST succeed")
	case <-time.After(waitTimeout):
		suite.Fail("close from a listener MUST NOT deadlock")
	}
	suite.ErrorIs(suite.manager.ScanAll(), ErrClosed)
}

func (suite *ManagerTestSuite) TestClose_ConcurrentCallersWait() {
	// GOAL: Verify a second Close does not return while the first is still shutting down
	//
	// TEST SCENARIO: first Close blocks inside driver Close → second Close stays blocked →
	// driver Close released → both return

	entered := make(chan struct{})
	release := make(chan struct{})
	suite.driver.On("Close").Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(nil).Once()
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()
	suite.start()

	first := make(chan error, 1)
	go func() { first <- suite.manager.Close() }()
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		suite.FailNow("first Close MUST reach the driver")
	}

	second := make(chan error, 1)
	go func() { second <- suite.manager.Close() }()
	select {
	case <-second:
		suite.Fail("second Close MUST wait until the first one finished")
	case <-time.After(50 * time.Millisecond):
	}

	unblock()
	suite.NoError(<-first)
	select {
	case err := <-second:
		suite.NoError(err)
	case <-time.After(waitTimeout):
		suite.Fail("second Close MUST return once the first one finished")
	}
}

func (suite *ManagerTestSuite) TestCommandFromListener() {
	// GOAL: Verify listeners may issue commands without deadlocking the manager
	suite.start()
	suite.recorder.setHook(func(r record) {
		if r.Method == "OnDiscoveredPeripheral" {
			_ = suite.manager.StopScan()
			_ = suite.manager.Connect(r.Peripheral.ID)
		}
	})

	suite.discover(heartRateAddr)
	suite.Eventually(func() bool {
		p, _ := suite.manager.Peripheral(heartRateID)
		return p.State == StateConnecting
	}, waitTimeout, waitTick, "listener connect MUST take effect")
	suite.False(suite.manager.IsScanning())
}

func (suite *ManagerTestSuite) TestAdapterState() {
	// GOAL: Verify adapter off stops the scan and adapter on never resumes it implicitly
	suite.start()
	suite.Require().NoError(suite.manager.ScanAll())

	suite.events.AdapterStateChanged(AdapterOff)
	suite.sync()
	suite.False(suite.manager.IsScanning(), "adapter off MUST clear the scan flag")

	suite.events.AdapterStateChanged(AdapterOn)
	suite.sync()
	suite.flush()

	suite.False(suite.manager.IsScanning(), "adapter on MUST NOT resume scanning")
	suite.driver.AssertNumberOfCalls(suite.T(), "StartScan", 1)

	var states []AdapterState
	for _, rec := range suite.recorder.all() {
		if rec.Method == "OnAdapterStateChanged" {
			states = append(states, rec.State)
		}
	}
	suite.Equal([]AdapterState{AdapterOff, AdapterOn}, states)
}

func (suite *ManagerTestSuite) TestScanFailed() {
	suite.start()
	suite.Require().NoError(suite.manager.ScanAll())

	suite.events.ScanFailed(ScanErrorRegistrationFailed)
	suite.sync()

	suite.False(suite.manager.IsScanning(), "scan failure MUST leave the scan inactive")
	suite.Equal(ScanErrorRegistrationFailed, suite.waitFor("OnScanFailed").Code)
	suite.NoError(suite.manager.ScanAll(), "host MUST be able to restart the scan")
}

func (suite *ManagerTestSuite) TestDataOperations() {
	// GOAL: Verify GATT operations require a ready link and their results are forwarded
	suite.start()
	suite.discover(heartRateAddr)

	suite.ErrorIs(suite.manager.Read(heartRateAddr, "180D", "2A37"), ErrInvalidState, "read MUST require a ready link")

	suite.Require().NoError(suite.manager.Connect(heartRateAddr))
	suite.events.Connected(heartRateID)
	suite.events.ServicesDiscovered(heartRateID, []string{"180D"})
	suite.events.NegotiationComplete(heartRateID, 185, StatusSuccess)
	suite.sync()

	suite.NoError(suite.manager.Read(heartRateAddr, "180D", "2A37"))
	suite.driver.AssertCalled(suite.T(), "Read", heartRateID, "180d", "2a37")
	suite.NoError(suite.manager.Write(heartRateAddr, "180D", "2A39", []byte{0x01}, true))
	suite.driver.AssertCalled(suite.T(), "Write", heartRateID, "180d", "2a39", []byte{0x01}, true)
	suite.NoError(suite.manager.SetNotify(heartRateAddr, "180D", "2A37", true))
	suite.driver.AssertCalled(suite.T(), "SetNotify", heartRateID, "180d", "2a37", true)

	var notFound *NotFoundError
	suite.ErrorAs(suite.manager.Read(heartRateAddr, "180F", "2A19"), &notFound, "unknown service MUST be reported")
	suite.Error(suite.manager.Read(heartRateAddr, "zz", "2A19"), "invalid uuid MUST be rejected")

	suite.events.CharacteristicUpdated(heartRateID, "2A37", []byte{0x00, 0x48}, StatusFailure)
	suite.events.CharacteristicUpdated(heartRateID, "2A37", []byte{0x00, 0x49}, StatusSuccess)
	suite.events.CharacteristicWritten(heartRateID, "2A39", []byte{0x01}, StatusSuccess)
	suite.events.NotificationStateUpdated(heartRateID, "2A37", StatusSuccess)
	suite.sync()
	suite.flush()

	suite.Equal(1, suite.recorder.count("OnCharacteristicUpdate"), "failed updates MUST be dropped")
	update, _ := suite.recorder.find("OnCharacteristicUpdate")
	suite.Equal([]byte{0x00, 0x49}, update.Value)
	suite.Equal("2a37", update.Characteristic)

	write, _ := suite.recorder.find("OnCharacteristicWrite")
	suite.Equal(StatusSuccess, write.Status)
	notify, _ := suite.recorder.find("OnNotificationStateUpdate")
	suite.Equal("2a37", notify.Characteristic)
}

func (suite *ManagerTestSuite) TestForget() {
	suite.start()
	suite.connectReady(heartRateAddr)

	suite.ErrorIs(suite.manager.Forget(heartRateAddr), ErrInvalidState, "linked peripheral MUST NOT be forgotten")

	suite.loseLink(heartRateID)
	timer := suite.timers.last()
	suite.Require().NoError(suite.manager.Forget(heartRateAddr))

	suite.True(timer.stopped.Load(), "forget MUST cancel the pending reconnect")
	_, ok := suite.manager.Peripheral(heartRateID)
	suite.False(ok, "forgotten peripheral MUST be dropped")

	var notFound *NotFoundError
	suite.ErrorAs(suite.manager.Forget(heartRateAddr), &notFound)
}

func (suite *ManagerTestSuite) TestHostLifecycleForwarding() {
	suite.start()

	suite.Require().NoError(suite.manager.Pause())
	suite.Require().NoError(suite.manager.Resume())
	suite.Require().NoError(suite.manager.HostLifecycleEvent(7, -1, map[string]string{"k": "v"}))
	suite.Require().NoError(suite.manager.PermissionResult(9, []string{"scan"}, []int{0}))

	suite.Eventually(func() bool { return len(suite.recorder.all()) == 4 }, waitTimeout, waitTick)
	suite.Equal([]string{"OnPause", "OnResume", "OnHostLifecycleEvent", "OnPermissionResult"}, suite.recorder.methods())

	lifecycle, _ := suite.recorder.find("OnHostLifecycleEvent")
	suite.Equal(7, lifecycle.RequestCode)
	suite.Equal(-1, lifecycle.ResultCode)
	permission, _ := suite.recorder.find("OnPermissionResult")
	suite.Equal(9, permission.RequestCode)
}

func (suite *ManagerTestSuite) TestListenerPanicIsContained() {
	suite.start()
	var panicked atomic.Bool
	suite.recorder.setHook(func(r record) {
		if r.Method == "OnPause" && !panicked.Swap(true) {
			panic("listener bug")
		}
	})

	suite.Require().NoError(suite.manager.Pause())
	suite.Require().NoError(suite.manager.Resume())

	suite.waitFor("OnResume")
	suite.True(panicked.Load())
}

func (suite *ManagerTestSuite) TestSnapshotsAreCopies() {
	suite.start()
	suite.connectReady(heartRateAddr)

	p, _ := suite.manager.Peripheral(heartRateID)
	p.Services[0] = "mutated"
	p.State = StateIdle

	again, _ := suite.manager.Peripheral(heartRateID)
	suite.Equal("180d", again.Services[0], "snapshot mutation MUST NOT leak into the manager")
	suite.Equal(StateReady, again.State)
	suite.True(again.HasService("0000180D-0000-1000-8000-00805F9B34FB"))
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}
