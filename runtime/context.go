package runtime

import "context"

// loggerKey is an unexported type used as the context key for Logger.
// Using an unexported struct type prevents collisions with keys from other packages.
type loggerKey struct{}

// ContextWithLogger attaches a run logger to the context.
func ContextWithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext retrieves the run logger from the context.
// Returns a logger that discards events if none is set.
func LoggerFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewLogger(func(LogEvent) {}, "")
}
