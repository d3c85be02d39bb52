package worker

import (
	"sync"

	"github.com/astrate-platform/astrate/core"
)

// mailbox is an unbounded FIFO. Pushing never blocks; the broker prefetch
// limit bounds how much can pile up.
type mailbox struct {
	mu     sync.Mutex
	items  []core.Event
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev core.Event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) pop() (core.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return core.Event{}, false
	}
	ev := m.items[0]
	m.items[0] = core.Event{}
	m.items = m.items[1:]
	return ev, true
}

// closeIfEmpty closes the mailbox only when nothing is queued.
func (m *mailbox) closeIfEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) > 0 {
		return false
	}
	m.closed = true
	return true
}

// close stops accepting events and returns the ones still queued.
func (m *mailbox) close() []core.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	items := m.items
	m.items = nil
	return items
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
