package sse

import (
	"sync"

	"github.com/petal-labs/callstream/runtime"
)

// mailbox is an unbounded FIFO between the bus callback and the session
// loop. push never blocks, so a slow client cannot stall publishers.
type mailbox struct {
	mu     sync.Mutex
	items  []runtime.LogEvent
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(e runtime.LogEvent) {
	m.mu.Lock()
	m.items = append(m.items, e)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// take removes and returns everything queued.
func (m *mailbox) take() []runtime.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// requeue puts items back at the head of the queue.
func (m *mailbox) requeue(items []runtime.LogEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(append([]runtime.LogEvent(nil), items...), m.items...)
}

func (m *mailbox) ready() <-chan struct{} {
	return m.notify
}
