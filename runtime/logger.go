package runtime

import "time"

// Logger is a run-scoped helper that stamps events with the run ID and the
// current time before handing them to an emitter.
type Logger struct {
	emit  EventEmitter
	runID string
	now   func() time.Time
}

// NewLogger creates a logger that forwards events to emit.
func NewLogger(emit EventEmitter, runID string) *Logger {
	if emit == nil {
		emit = func(LogEvent) {}
	}
	return &Logger{emit: emit, runID: runID, now: time.Now}
}

// RunID returns the run this logger reports for.
func (l *Logger) RunID() string {
	return l.runID
}

// Log emits one event.
func (l *Logger) Log(level Level, context, message string, data Fields) {
	l.Emit(LogEvent{
		Context: context,
		Level:   level,
		Message: message,
		Data:    data,
	})
}

// Info emits an info-level event.
func (l *Logger) Info(context, message string, data Fields) {
	l.Log(LevelInfo, context, message, data)
}

// Warn emits a warn-level event.
func (l *Logger) Warn(context, message string, data Fields) {
	l.Log(LevelWarn, context, message, data)
}

// Error emits an error-level event.
func (l *Logger) Error(context, message string, data Fields) {
	l.Log(LevelError, context, message, data)
}

// Emit fills in Time and RunID when unset and forwards the event.
func (l *Logger) Emit(e LogEvent) {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	if e.RunID == "" {
		e.RunID = l.runID
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	l.emit(e)
}
