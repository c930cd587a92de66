package otel

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/sse"
)

// Metric names.
const (
	MetricEvents          = "callstream.events"
	MetricRuns            = "callstream.runs"
	MetricRunDuration     = "callstream.run.duration"
	MetricCommands        = "callstream.commands"
	MetricCommandRetries  = "callstream.command.retries"
	MetricSessions        = "callstream.sessions"
	MetricSessionDuration = "callstream.session.duration"
	MetricSessionEvents   = "callstream.session.events"
)

// MetricsHandler translates progress events and finished streaming sessions
// into OpenTelemetry metrics.
type MetricsHandler struct {
	events          metric.Int64Counter
	runs            metric.Int64Counter
	runDuration     metric.Float64Histogram
	commands        metric.Int64Counter
	commandRetries  metric.Int64Counter
	sessions        metric.Int64Counter
	sessionDuration metric.Float64Histogram
	sessionEvents   metric.Int64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	events, err := meter.Int64Counter(MetricEvents,
		metric.WithDescription("Number of progress events published"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter(MetricRuns,
		metric.WithDescription("Number of finished job runs"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram(MetricRunDuration,
		metric.WithDescription("Duration of job runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	commands, err := meter.Int64Counter(MetricCommands,
		metric.WithDescription("Number of sandbox commands issued by the agent"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(MetricCommandRetries,
		metric.WithDescription("Number of sandbox command retries"),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64Counter(MetricSessions,
		metric.WithDescription("Number of finished streaming sessions"),
	)
	if err != nil {
		return nil, err
	}

	sessionDur, err := meter.Float64Histogram(MetricSessionDuration,
		metric.WithDescription("Duration of streaming sessions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sessionEvents, err := meter.Int64Histogram(MetricSessionEvents,
		metric.WithDescription("Events delivered per streaming session"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		events:          events,
		runs:            runs,
		runDuration:     runDur,
		commands:        commands,
		commandRetries:  retries,
		sessions:        sessions,
		sessionDuration: sessionDur,
		sessionEvents:   sessionEvents,
	}, nil
}

// Handle records one published event. It has runtime.EventHandler
// semantics and is normally subscribed to the bus.
func (h *MetricsHandler) Handle(e runtime.LogEvent) {
	ctx := context.Background()
	h.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("context", e.Context),
		attribute.String("level", e.Level.String()),
	))

	switch {
	case e.Terminal():
		h.handleRunFinished(ctx, e)
	case e.Context == runtime.ContextBash && strings.HasPrefix(e.Message, "$ "):
		h.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", commandName(e.Message))))
	case e.Context == runtime.ContextBash && strings.HasPrefix(e.Message, "Command failed (attempt"):
		h.commandRetries.Add(ctx, 1)
	}
}

// handleRunFinished counts the run and records its duration when the
// terminal event carries one.
func (h *MetricsHandler) handleRunFinished(ctx context.Context, e runtime.LogEvent) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(e.Outcome)))
	h.runs.Add(ctx, 1, attrs)
	if v, ok := e.Data["elapsed_ms"]; ok && v.Kind() == runtime.KindInt {
		elapsed := time.Duration(v.IntValue()) * time.Millisecond
		h.runDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// RecordSession records a finished streaming session.
func (h *MetricsHandler) RecordSession(route string, res sse.Result) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("reason", string(res.Reason)),
	)
	h.sessions.Add(ctx, 1, attrs)
	h.sessionDuration.Record(ctx, res.Duration.Seconds(), attrs)
	h.sessionEvents.Record(ctx, int64(res.Delivered), attrs)
}

func commandName(message string) string {
	fields := strings.Fields(strings.TrimPrefix(message, "$ "))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
