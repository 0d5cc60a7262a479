package central

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// registry holds peripheral handles in discovery order. The manager loop is the
// only writer; snapshot readers may run on any goroutine.
type registry struct {
	mu             sync.RWMutex
	peripherals    *orderedmap.OrderedMap[string, *peripheral]
	defaultPayload int
}

func newRegistry(defaultPayload int) *registry {
	return &registry{
		peripherals:    orderedmap.New[string, *peripheral](),
		defaultPayload: defaultPayload,
	}
}

// upsert creates the handle for a newly observed peripheral or refreshes an existing one.
func (r *registry) upsert(res ScanResult, now time.Time) (p *peripheral, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := NormalizeID(res.Address)
	if existing, ok := r.peripherals.Get(id); ok {
		existing.update(res, now)
		return existing, false
	}

	p = newPeripheral(res, r.defaultPayload, now)
	r.peripherals.Set(id, p)
	return p, true
}

// get is loop-only; it hands out the mutable record.
func (r *registry) get(id string) (*peripheral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peripherals.Get(NormalizeID(id))
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, present := r.peripherals.Delete(NormalizeID(id))
	return present
}

// mutate applies fn to p under the write lock.
func (r *registry) mutate(p *peripheral, fn func(p *peripheral)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(p)
}

func (r *registry) setState(p *peripheral, state ConnectionState, reason Status) {
	r.mutate(p, func(p *peripheral) {
		p.state = state
		p.reason = reason
	})
}

// snapshot returns a copy-out view of the handle.
func (r *registry) snapshot(id string) (Peripheral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peripherals.Get(NormalizeID(id))
	if !ok {
		return Peripheral{}, false
	}
	return p.snapshot(), true
}

// view snapshots a record the caller already holds.
func (r *registry) view(p *peripheral) Peripheral {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return p.snapshot()
}

func (r *registry) list() []Peripheral {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Peripheral, 0, r.peripherals.Len())
	for pair := r.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value.snapshot())
	}
	return result
}

// each visits every record in discovery order. Loop-only.
func (r *registry) each(fn func(p *peripheral)) {
	r.mu.RLock()
	records := make([]*peripheral, 0, r.peripherals.Len())
	for pair := r.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		records = append(records, pair.Value)
	}
	r.mu.RUnlock()

	for _, p := range records {
		fn(p)
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peripherals.Len()
}
