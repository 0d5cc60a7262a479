package central

import (
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
)

type stopper interface {
	Stop() bool
}

type reconnectTimer struct {
	gen   uint64
	timer stopper
}

// reconnectScheduler tracks at most one pending reconnect timer per peripheral.
// Every schedule call gets a fresh generation so a timer that fires after being
// cancelled or replaced can be recognized as stale.
type reconnectScheduler struct {
	timers *hashmap.Map[string, *reconnectTimer]
	gen    atomic.Uint64
	after  func(time.Duration, func()) stopper
}

func newReconnectScheduler() *reconnectScheduler {
	return &reconnectScheduler{
		timers: hashmap.New[string, *reconnectTimer](),
		after: func(d time.Duration, fn func()) stopper {
			return time.AfterFunc(d, fn)
		},
	}
}

// schedule replaces any pending timer for id. fire runs on the timer goroutine
// and receives the generation it was scheduled with.
func (s *reconnectScheduler) schedule(id string, delay time.Duration, fire func(gen uint64)) uint64 {
	s.cancel(id)

	gen := s.gen.Add(1)
	entry := &reconnectTimer{gen: gen}
	entry.timer = s.after(delay, func() { fire(gen) })
	s.timers.Set(id, entry)
	return gen
}

// cancel stops the pending timer for id. It reports whether one existed.
func (s *reconnectScheduler) cancel(id string) bool {
	entry, ok := s.timers.Get(id)
	if !ok {
		return false
	}
	entry.timer.Stop()
	s.timers.Del(id)
	return true
}

func (s *reconnectScheduler) cancelAll() int {
	var ids []string
	s.timers.Range(func(id string, _ *reconnectTimer) bool {
		ids = append(ids, id)
		return true
	})

	n := 0
	for _, id := range ids {
		if s.cancel(id) {
			n++
		}
	}
	return n
}

// complete consumes the entry for id if gen is still the current generation.
func (s *reconnectScheduler) complete(id string, gen uint64) bool {
	entry, ok := s.timers.Get(id)
	if !ok || entry.gen != gen {
		return false
	}
	s.timers.Del(id)
	return true
}

func (s *reconnectScheduler) pending(id string) bool {
	_, ok := s.timers.Get(id)
	return ok
}

func (s *reconnectScheduler) len() int {
	return s.timers.Len()
}
