package otel

import (
	"github.com/petal-labs/callstream/runtime"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// Each event is recorded on the TracingHandler first, then tagged with the
// trace_id and span_id of the span it landed on before being forwarded.
// Events without a run ID pass through unchanged.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.LogEvent) {
		sc := tracing.record(e)
		if sc.IsValid() {
			e = e.WithField("trace_id", runtime.String(sc.TraceID().String())).
				WithField("span_id", runtime.String(sc.SpanID().String()))
		}
		emit(e)
	}
}

// Decorator adapts EnrichEmitter for runtime.RunnerConfig.EmitDecorator.
func (h *TracingHandler) Decorator() runtime.EventEmitterDecorator {
	return func(emit runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(emit, h)
	}
}
