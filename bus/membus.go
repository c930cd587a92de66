package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petal-labs/callstream/runtime"
)

// DefaultHistorySize is the number of recent events kept when
// MemBusConfig.HistorySize is unset.
const DefaultHistorySize = 500

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// HistorySize is the capacity of the recent-event window (default: 500).
	HistorySize int

	// OnHandlerPanic is called after a subscriber handler panics.
	OnHandlerPanic func(sub Subscription, event runtime.LogEvent, recovered any)

	Logger *slog.Logger
}

// MemBus is an in-memory event bus implementation.
//
// Publishes are serialized end to end, so every subscriber observes the same
// total order. The subscriber set and history are guarded by a separate lock,
// which lets a handler unsubscribe (or take a snapshot) while it is being
// delivered to.
type MemBus struct {
	pubMu sync.Mutex

	mu      sync.RWMutex
	subs    []*memSub
	history *ring
	seq     runtime.Sequence
	nextID  uint64
	closed  bool

	onPanic  func(Subscription, runtime.LogEvent, any)
	failures atomic.Uint64
	logger   *slog.Logger
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	size := config.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemBus{
		history: newRing(size),
		onPanic: config.OnHandlerPanic,
		logger:  logger,
	}
}

// Publish records the event and delivers it to every current subscriber.
// A handler that panics is logged and skipped; the remaining subscribers
// still receive the event.
func (b *MemBus) Publish(event runtime.LogEvent) runtime.LogEvent {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if !event.Level.Valid() {
		if event.Level != "" {
			b.logger.Debug("unknown event level, publishing as info", "level", string(event.Level))
		}
		event.Level = runtime.LevelInfo
	}
	if event.Context == "" {
		event.Context = runtime.ContextSystem
	}
	event.Data = event.Data.Clone()

	b.mu.Lock()
	event.Seq = b.seq.Next()
	b.history.push(event)
	subs := make([]*memSub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}
	return event
}

func (b *MemBus) deliver(sub *memSub, event runtime.LogEvent) {
	if !sub.Active() {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			b.failures.Add(1)
			b.logger.Error("event handler panicked",
				"subscription", sub.id,
				"seq", event.Seq,
				"context", event.Context,
				"panic", p,
			)
			if b.onPanic != nil {
				b.onPanic(sub, event, p)
			}
		}
	}()
	sub.fn(event)
}

// Subscribe registers fn for all future publishes.
func (b *MemBus) Subscribe(fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &memSub{id: b.nextID, fn: fn, bus: b}
	if b.closed || fn == nil {
		return sub
	}
	sub.active.Store(true)
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes sub. Unknown or already removed subscriptions are ignored.
func (b *MemBus) Unsubscribe(sub Subscription) {
	if sub == nil {
		return
	}
	_ = sub.Close()
}

func (b *MemBus) remove(target *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Snapshot returns the current history window, oldest first.
func (b *MemBus) Snapshot() []runtime.LogEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.items()
}

// Len returns the number of events currently held in history.
func (b *MemBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.len()
}

// LastSeq returns the sequence number of the most recent publish.
func (b *MemBus) LastSeq() uint64 {
	return b.seq.Current()
}

// SubscriberCount returns the number of active subscriptions.
func (b *MemBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// HandlerFailures returns how many handler panics have been recovered.
func (b *MemBus) HandlerFailures() uint64 {
	return b.failures.Load()
}

// Reset clears the history window. Sequence numbers keep increasing.
func (b *MemBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history.reset()
}

// Close shuts down the bus and all active subscriptions. Publishing after
// Close still records history but reaches no subscriber.
func (b *MemBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.active.Store(false)
	}
	return nil
}

// memSub is an in-memory subscription.
type memSub struct {
	id     uint64
	fn     Handler
	bus    *MemBus
	active atomic.Bool
}

func (s *memSub) ID() uint64 {
	return s.id
}

func (s *memSub) Active() bool {
	return s.active.Load()
}

// Close unsubscribes and releases resources. Only the first call has an effect.
func (s *memSub) Close() error {
	if s.active.CompareAndSwap(true, false) {
		s.bus.remove(s)
	}
	return nil
}

// Compile-time interface checks.
var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
var _ runtime.EventPublisher = (*MemBus)(nil)
