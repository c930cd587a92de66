// Package otel provides OpenTelemetry integration for callstream progress
// events and streaming sessions.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/callstream/runtime"
)

// maxEventNameLen bounds span event names derived from event messages.
const maxEventNameLen = 120

type runSpans struct {
	ctx   context.Context
	root  trace.Span
	stage trace.Span
	// stageContext is the producer context the open stage span covers.
	stageContext string
}

// TracingHandler translates progress events into spans. Each run gets a
// root span; each uninterrupted stretch of events from one producer context
// (workflow, sandbox, agent, bash...) becomes a child span. Events are
// recorded as span events and the terminal event ends the run.
type TracingHandler struct {
	tracer trace.Tracer

	mu   sync.RWMutex
	runs map[string]*runSpans // runID -> spans
}

// NewTracingHandler creates a TracingHandler that uses the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		runs:   make(map[string]*runSpans),
	}
}

// Handle processes an event. Events without a run ID are ignored.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.LogEvent) {
	h.record(e)
}

// record handles e and returns the span context it was recorded on.
func (h *TracingHandler) record(e runtime.LogEvent) trace.SpanContext {
	if e.RunID == "" {
		return trace.SpanContext{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	run, ok := h.runs[e.RunID]
	if !ok {
		ctx, root := h.tracer.Start(context.Background(), "run",
			trace.WithAttributes(attribute.String("callstream.run_id", e.RunID)),
			trace.WithTimestamp(e.Time),
		)
		run = &runSpans{ctx: ctx, root: root}
		h.runs[e.RunID] = run
	}

	if stage := stageFor(e.Context); run.stage == nil || run.stageContext != stage {
		if run.stage != nil {
			run.stage.End(trace.WithTimestamp(e.Time))
		}
		_, run.stage = h.tracer.Start(run.ctx, "stage:"+stage,
			trace.WithAttributes(
				attribute.String("callstream.run_id", e.RunID),
				attribute.String("callstream.context", stage),
			),
			trace.WithTimestamp(e.Time),
		)
		run.stageContext = stage
	}

	span := run.stage
	span.AddEvent(eventName(e.Message),
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(
			attribute.String("callstream.context", e.Context),
			attribute.String("callstream.level", e.Level.String()),
		),
	)
	if e.Level == runtime.LevelError {
		span.SetStatus(codes.Error, e.Message)
	}
	sc := span.SpanContext()

	if e.Terminal() {
		h.finish(run, e)
		delete(h.runs, e.RunID)
	}
	return sc
}

// finish ends the stage and root spans of a run.
func (h *TracingHandler) finish(run *runSpans, e runtime.LogEvent) {
	run.stage.End(trace.WithTimestamp(e.Time))

	run.root.SetAttributes(attribute.String("callstream.outcome", string(e.Outcome)))
	if e.Outcome == runtime.OutcomeFailure {
		run.root.SetStatus(codes.Error, e.Message)
		run.root.RecordError(spanError(e.Message), trace.WithTimestamp(e.Time))
	} else {
		run.root.SetStatus(codes.Ok, "")
	}
	run.root.End(trace.WithTimestamp(e.Time))
}

// ActiveRunSpanContext returns the SpanContext of the root span for runID,
// or an empty SpanContext when the run is not traced.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	run, ok := h.runs[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return run.root.SpanContext()
}

// ActiveRuns returns the number of runs with open spans.
func (h *TracingHandler) ActiveRuns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs)
}

// stageFor folds command output into the command's stage.
func stageFor(producer string) string {
	if producer == runtime.ContextBashOutput {
		return runtime.ContextBash
	}
	return producer
}

func eventName(message string) string {
	for i, r := range message {
		if r == '\n' {
			message = message[:i]
			break
		}
	}
	if len(message) > maxEventNameLen {
		return message[:maxEventNameLen]
	}
	return message
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
