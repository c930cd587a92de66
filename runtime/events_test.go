package runtime

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLogEvent_MarshalJSON_OmitsEmptyData(t *testing.T) {
	e := LogEvent{
		Seq:     3,
		Time:    time.Date(2025, 10, 3, 12, 0, 18, 0, time.UTC),
		Context: ContextAgent,
		Level:   LevelInfo,
		Message: "Sandbox created",
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := string(b)
	want := `{"seq":3,"time":"2025-10-03T12:00:18Z","context":"agent","level":"info","message":"Sandbox created"}`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestLogEvent_MarshalJSON_DataIsDeterministic(t *testing.T) {
	e := NewLogEvent(LevelWarn, ContextBash, "retrying").
		WithData(Fields{
			"zeta":  Int(1),
			"alpha": Strings([]string{"a", "b"}),
			"mid":   Map(Fields{"ok": Bool(true), "ratio": Float(0.5), "none": Null()}),
		})

	first, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := json.Marshal(e)
		if string(again) != string(first) {
			t.Fatalf("non-deterministic encoding:\n%s\n%s", first, again)
		}
	}
	if !strings.Contains(string(first), `"data":{"alpha":["a","b"],"mid":{"none":null,"ok":true,"ratio":0.5},"zeta":1}`) {
		t.Errorf("unexpected data encoding: %s", first)
	}
}

func TestLogEvent_JSONRoundTripPreservesKinds(t *testing.T) {
	in := NewLogEvent(LevelError, ContextWorkflow, "Workflow failed: x").
		WithRun("run-1").
		WithOutcome(OutcomeFailure).
		WithField("count", Int(2)).
		WithField("score", Float(71.5))

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out LogEvent
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.RunID != "run-1" || out.Outcome != OutcomeFailure || !out.Terminal() {
		t.Errorf("round trip lost run/outcome: %+v", out)
	}
	if out.Data["count"].Kind() != KindInt || out.Data["count"].IntValue() != 2 {
		t.Errorf("count = %+v", out.Data["count"])
	}
	if out.Data["score"].Kind() != KindFloat || out.Data["score"].FloatValue() != 71.5 {
		t.Errorf("score = %+v", out.Data["score"])
	}
}

func TestLogEvent_WithFieldDoesNotMutateOriginal(t *testing.T) {
	base := NewLogEvent(LevelInfo, ContextAgent, "x").WithField("a", Int(1))
	derived := base.WithField("b", Int(2))
	if _, ok := base.Data["b"]; ok {
		t.Fatal("WithField mutated the original event's data")
	}
	if len(derived.Data) != 2 {
		t.Fatalf("derived data = %v", derived.Data)
	}
}

func TestValueOf(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind ValueKind
	}{
		{"nil", nil, KindNull},
		{"string", "x", KindString},
		{"int", 3, KindInt},
		{"float", 1.5, KindFloat},
		{"bool", true, KindBool},
		{"strings", []string{"a"}, KindList},
		{"map", map[string]any{"k": 1}, KindMap},
		{"other", time.Second, KindString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValueOf(tt.in).Kind(); got != tt.kind {
				t.Errorf("ValueOf(%v).Kind() = %d, want %d", tt.in, got, tt.kind)
			}
		})
	}
}

func TestLevel_Valid(t *testing.T) {
	for _, l := range []Level{LevelInfo, LevelWarn, LevelError} {
		if !l.Valid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if Level("debug").Valid() {
		t.Error("debug should not be a valid event level")
	}
}
