package sse

import (
	"testing"

	"github.com/petal-labs/callstream/runtime"
)

func TestDetector_DefaultRules(t *testing.T) {
	d := DefaultDetector()

	tests := []struct {
		name    string
		event   runtime.LogEvent
		outcome runtime.Outcome
	}{
		{"workflow complete", runtime.NewLogEvent(runtime.LevelInfo, runtime.ContextWorkflow, "Workflow complete"), runtime.OutcomeSuccess},
		{"complete from another context", runtime.NewLogEvent(runtime.LevelInfo, runtime.ContextAgent, "Workflow complete"), runtime.OutcomeNone},
		{"complete is exact", runtime.NewLogEvent(runtime.LevelInfo, runtime.ContextWorkflow, "Workflow complete soon"), runtime.OutcomeNone},
		{"workflow failed", runtime.NewLogEvent(runtime.LevelError, runtime.ContextWorkflow, "Workflow failed: no transcript available"), runtime.OutcomeFailure},
		{"agent failed", runtime.NewLogEvent(runtime.LevelError, runtime.ContextAgent, "Agent failed: rate limited"), runtime.OutcomeFailure},
		{"bash retries", runtime.NewLogEvent(runtime.LevelError, runtime.ContextBash, "grep: Max retries exceeded"), runtime.OutcomeFailure},
		{"unrecoverable", runtime.NewLogEvent(runtime.LevelError, runtime.ContextSandbox, "Unrecoverable error: disk full"), runtime.OutcomeFailure},
		{"unrecoverable needs error level", runtime.NewLogEvent(runtime.LevelWarn, runtime.ContextSandbox, "Unrecoverable error: disk full"), runtime.OutcomeNone},
		{"ordinary progress", runtime.NewLogEvent(runtime.LevelInfo, runtime.ContextAgent, "Planning next action..."), runtime.OutcomeNone},
		{"structured success", runtime.NewLogEvent(runtime.LevelInfo, runtime.ContextResult, "done").WithOutcome(runtime.OutcomeSuccess), runtime.OutcomeSuccess},
		{"structured failure beats wording", runtime.NewLogEvent(runtime.LevelInfo, runtime.ContextWorkflow, "Workflow complete").WithOutcome(runtime.OutcomeFailure), runtime.OutcomeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Detect(tt.event); got != tt.outcome {
				t.Errorf("Detect() = %q, want %q", got, tt.outcome)
			}
		})
	}
}

func TestDetector_Nil(t *testing.T) {
	var d *Detector
	e := runtime.NewLogEvent(runtime.LevelInfo, runtime.ContextWorkflow, "Workflow complete")
	if got := d.Detect(e); got != runtime.OutcomeNone {
		t.Errorf("nil detector matched phrase: %q", got)
	}
	if got := d.Detect(e.WithOutcome(runtime.OutcomeSuccess)); got != runtime.OutcomeSuccess {
		t.Errorf("nil detector ignored outcome: %q", got)
	}
}

func TestDetector_CustomRules(t *testing.T) {
	d := NewDetector(Rule{Match: MatchContains, Phrase: "shutting down", Outcome: runtime.OutcomeFailure})
	e := runtime.NewLogEvent(runtime.LevelInfo, "ops", "node is shutting down now")
	if got := d.Detect(e); got != runtime.OutcomeFailure {
		t.Errorf("Detect() = %q", got)
	}
	done := runtime.NewLogEvent(runtime.LevelInfo, runtime.ContextWorkflow, "Workflow complete")
	if got := d.Detect(done); got != runtime.OutcomeNone {
		t.Errorf("custom detector should not use default rules, got %q", got)
	}
}
