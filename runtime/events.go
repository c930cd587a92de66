// Package runtime provides the progress-event model and the background job
// runner for callstream. Jobs report progress as LogEvents; the runner
// publishes them to an EventPublisher (normally the bus) and guarantees every
// run ends with a terminal event.
package runtime

import (
	"encoding/json"
	"time"
)

// Level is the severity of a LogEvent.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// String returns the string representation of the Level.
func (l Level) String() string {
	return string(l)
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Outcome is the structured terminal flag a producer may set on an event.
// The zero value means the event does not end a run.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Well-known producer contexts.
const (
	ContextWorkflow   = "workflow"
	ContextAgent      = "agent"
	ContextBash       = "bash"
	ContextBashOutput = "bash-output"
	ContextSandbox    = "sandbox"
	ContextResult     = "result"
	ContextSlack      = "slack"
	// ContextSystem labels events published without a context.
	ContextSystem     = "system"
)

// Terminal messages published by the Runner when a job returns.
const (
	MessageWorkflowComplete = "Workflow complete"
	MessageWorkflowFailed   = "Workflow failed"
)

// LogEvent is one immutable progress record emitted by a background job.
// Time, Context, Level and Message are always set; Data is optional.
// Events are values: once published they are never modified.
type LogEvent struct {
	// Seq is assigned by the bus at publish time (1-indexed, strictly increasing).
	Seq uint64

	// Time is when the event was produced.
	Time time.Time

	// Context is a short tag naming the producing subsystem.
	Context string

	// Level is the severity.
	Level Level

	// Message is free-form, possibly multi-line text.
	Message string

	// RunID identifies the job run that produced the event (empty for
	// events not tied to a run).
	RunID string

	// Outcome is set on the event that ends a run.
	Outcome Outcome

	// Data is an optional structured attachment.
	Data Fields
}

// NewLogEvent creates an event with the current timestamp.
func NewLogEvent(level Level, context, message string) LogEvent {
	return LogEvent{
		Time:    time.Now(),
		Context: context,
		Level:   level,
		Message: message,
	}
}

// WithData returns a copy of the event with the given attachment.
func (e LogEvent) WithData(data Fields) LogEvent {
	e.Data = data.Clone()
	return e
}

// WithField returns a copy of the event with one extra attachment field.
func (e LogEvent) WithField(key string, value Value) LogEvent {
	data := e.Data.Clone()
	if data == nil {
		data = make(Fields, 1)
	}
	data[key] = value
	e.Data = data
	return e
}

// WithRun returns a copy of the event tagged with a run ID.
func (e LogEvent) WithRun(runID string) LogEvent {
	e.RunID = runID
	return e
}

// WithOutcome returns a copy of the event marked as terminal.
func (e LogEvent) WithOutcome(o Outcome) LogEvent {
	e.Outcome = o
	return e
}

// Terminal reports whether the producer flagged this event as ending a run.
func (e LogEvent) Terminal() bool {
	return e.Outcome != OutcomeNone
}

type logEventJSON struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Context string    `json:"context"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	RunID   string    `json:"run_id,omitempty"`
	Outcome Outcome   `json:"outcome,omitempty"`
	Data    Fields    `json:"data,omitempty"`
}

// MarshalJSON encodes the event with every required field present and the
// data attachment omitted when empty.
func (e LogEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(logEventJSON{
		Seq:     e.Seq,
		Time:    e.Time,
		Context: e.Context,
		Level:   e.Level,
		Message: e.Message,
		RunID:   e.RunID,
		Outcome: e.Outcome,
		Data:    e.Data,
	})
}

// UnmarshalJSON decodes an event produced by MarshalJSON.
func (e *LogEvent) UnmarshalJSON(b []byte) error {
	var raw logEventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = LogEvent{
		Seq:     raw.Seq,
		Time:    raw.Time,
		Context: raw.Context,
		Level:   raw.Level,
		Message: raw.Message,
		RunID:   raw.RunID,
		Outcome: raw.Outcome,
		Data:    raw.Data,
	}
	return nil
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(LogEvent)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the runner
// to distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event LogEvent) LogEvent
}

// EventHandler is a function type for handling events.
type EventHandler func(LogEvent)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e LogEvent) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}
