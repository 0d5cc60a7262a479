package central

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
)

type mockDriver struct {
	mock.Mock
}

func (d *mockDriver) StartScan(services []string) error { return d.Called(services).Error(0) }
func (d *mockDriver) StopScan() error                   { return d.Called().Error(0) }
func (d *mockDriver) Connect(id string) error           { return d.Called(id).Error(0) }
func (d *mockDriver) AutoConnect(id string) error       { return d.Called(id).Error(0) }
func (d *mockDriver) Disconnect(id string) error        { return d.Called(id).Error(0) }
func (d *mockDriver) DiscoverServices(id string) error  { return d.Called(id).Error(0) }
func (d *mockDriver) NegotiatePayloadSize(id string, target int) error {
	return d.Called(id, target).Error(0)
}
func (d *mockDriver) Read(id, service, characteristic string) error {
	return d.Called(id, service, characteristic).Error(0)
}
func (d *mockDriver) Write(id, service, characteristic string, value []byte, withResponse bool) error {
	return d.Called(id, service, characteristic, value, withResponse).Error(0)
}
func (d *mockDriver) SetNotify(id, service, characteristic string, enable bool) error {
	return d.Called(id, service, characteristic, enable).Error(0)
}
func (d *mockDriver) Close() error { return d.Called().Error(0) }

// expectDefaults registers permissive expectations. Test-specific expectations
// must be registered before calling it since testify matches in order.
func (d *mockDriver) expectDefaults() {
	d.On("StartScan", mock.Anything).Return(nil).Maybe()
	d.On("StopScan").Return(nil).Maybe()
	d.On("Connect", mock.Anything).Return(nil).Maybe()
	d.On("AutoConnect", mock.Anything).Return(nil).Maybe()
	d.On("Disconnect", mock.Anything).Return(nil).Maybe()
	d.On("DiscoverServices", mock.Anything).Return(nil).Maybe()
	d.On("NegotiatePayloadSize", mock.Anything, mock.Anything).Return(nil).Maybe()
	d.On("Read", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	d.On("Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	d.On("SetNotify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	d.On("Close").Return(nil).Maybe()
}

// record is one listener invocation.
type record struct {
	Method         string
	Peripheral     Peripheral
	Result         ScanResult
	Status         Status
	Size           int
	Code           ScanErrorCode
	State          AdapterState
	Characteristic string
	Value          []byte
	RequestCode    int
	ResultCode     int
}

// recorder implements both listeners and keeps every call in order.
type recorder struct {
	mu      sync.Mutex
	records []record
	hook    func(r record)
}

func (r *recorder) add(rec record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
}

func (r *recorder) setHook(hook func(r record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

func (r *recorder) all() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

func (r *recorder) methods() []string {
	var names []string
	for _, rec := range r.all() {
		names = append(names, rec.Method)
	}
	return names
}

func (r *recorder) find(method string) (record, bool) {
	for _, rec := range r.all() {
		if rec.Method == method {
			return rec, true
		}
	}
	return record{}, false
}

func (r *recorder) count(method string) int {
	n := 0
	for _, rec := range r.all() {
		if rec.Method == method {
			n++
		}
	}
	return n
}

// dropLast removes the most recent call to method.
func (r *recorder) dropLast(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Method == method {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return
		}
	}
}

func (r *recorder) OnPause()  { r.add(record{Method: "OnPause"}) }
func (r *recorder) OnResume() { r.add(record{Method: "OnResume"}) }
func (r *recorder) OnHostLifecycleEvent(requestCode, resultCode int, _ map[string]string) {
	r.add(record{Method: "OnHostLifecycleEvent", RequestCode: requestCode, ResultCode: resultCode})
}
func (r *recorder) OnPermissionResult(requestCode int, _ []string, _ []int) {
	r.add(record{Method: "OnPermissionResult", RequestCode: requestCode})
}
func (r *recorder) OnConnectedPeripheral(p Peripheral) {
	r.add(record{Method: "OnConnectedPeripheral", Peripheral: p})
}
func (r *recorder) OnConnectionFailed(p Peripheral, status Status) {
	r.add(record{Method: "OnConnectionFailed", Peripheral: p, Status: status})
}
func (r *recorder) OnDisconnectedPeripheral(p Peripheral, status Status) {
	r.add(record{Method: "OnDisconnectedPeripheral", Peripheral: p, Status: status})
}
func (r *recorder) OnDiscoveredPeripheral(p Peripheral, result ScanResult) {
	r.add(record{Method: "OnDiscoveredPeripheral", Peripheral: p, Result: result})
}
func (r *recorder) OnAdapterStateChanged(state AdapterState) {
	r.add(record{Method: "OnAdapterStateChanged", State: state})
}
func (r *recorder) OnScanFailed(code ScanErrorCode) {
	r.add(record{Method: "OnScanFailed", Code: code})
}
func (r *recorder) OnServicesDiscovered(p Peripheral) {
	r.add(record{Method: "OnServicesDiscovered", Peripheral: p})
}
func (r *recorder) OnNotificationStateUpdate(p Peripheral, characteristic string, status Status) {
	r.add(record{Method: "OnNotificationStateUpdate", Peripheral: p, Characteristic: characteristic, Status: status})
}
func (r *recorder) OnCharacteristicWrite(p Peripheral, value []byte, characteristic string, status Status) {
	r.add(record{Method: "OnCharacteristicWrite", Peripheral: p, Value: value, Characteristic: characteristic, Status: status})
}
func (r *recorder) OnCharacteristicUpdate(p Peripheral, value []byte, characteristic string, status Status) {
	r.add(record{Method: "OnCharacteristicUpdate", Peripheral: p, Value: value, Characteristic: characteristic, Status: status})
}
func (r *recorder) OnNegotiatedSize(p Peripheral, size int, status Status) {
	r.add(record{Method: "OnNegotiatedSize", Peripheral: p, Size: size, Status: status})
}

// fakeTimer fires only when the test says so. fire ignores Stop so tests can
// reproduce a timer that raced with its cancellation.
type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }
func (t *fakeTimer) fire()      { t.fn() }

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) after(d time.Duration, fn func()) stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *fakeTimers) last() *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return nil
	}
	return f.timers[len(f.timers)-1]
}
