// Package bus provides the in-process event distribution point for
// callstream. Jobs publish LogEvents; streaming sessions, metrics and tracing
// subscribe to them. The bus keeps a bounded window of recent events so late
// subscribers can catch up.
package bus

import "github.com/petal-labs/callstream/runtime"

// Handler receives published events. It is invoked synchronously on the
// publishing goroutine and must not call Publish itself.
type Handler func(runtime.LogEvent)

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish assigns the event its sequence number, records it in the
	// history window and delivers it to every current subscriber in
	// registration order. It returns the event as recorded.
	Publish(event runtime.LogEvent) runtime.LogEvent

	// Subscribe registers fn for every event published after it returns.
	// Returns a Subscription that must be closed when done.
	Subscribe(fn Handler) Subscription

	// Unsubscribe removes a subscription. It is idempotent.
	Unsubscribe(sub Subscription)

	// Snapshot returns the history window, oldest first.
	Snapshot() []runtime.LogEvent

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	// ID is unique per bus.
	ID() uint64

	// Active reports whether the subscription still receives events.
	Active() bool

	// Close unsubscribes. Safe to call more than once, concurrently with
	// Publish, and from inside the subscription's own handler.
	Close() error
}
