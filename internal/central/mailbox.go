package central

import "sync"

// mailbox is an unbounded FIFO with a single consumer. put never blocks, which
// lets listener callbacks issue commands while the loop is emitting events.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

// put appends v. It returns false once the mailbox is closed.
func (m *mailbox[T]) put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.notify()
	return true
}

// wait blocks until items are queued and returns all of them in order.
// ok is false when the mailbox is closed and empty.
func (m *mailbox[T]) wait() (items []T, ok bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			items, m.items = m.items, nil
			m.mu.Unlock()
			return items, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()
		<-m.signal
	}
}

// discard drops everything queued and returns how many items were dropped.
func (m *mailbox[T]) discard() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	m.items = nil
	return n
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.notify()
}

func (m *mailbox[T]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *mailbox[T]) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}
