package agent

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/sandbox"
)

func TestScriptedModel_WalksScriptThenSubmits(t *testing.T) {
	runner := &fakeRunner{results: map[string]sandbox.Result{
		"ls":  {Stdout: "gong-calls\n"},
		"cat": {Stdout: `{"callId":"42"}`},
	}}
	// Both greps share a canned result; distinct lines are deduplicated.
	runner.results["grep"] = sandbox.Result{Stdout: "> [00:05] The price is a concern for us\n> [00:09] I'll send the schedule\n> [00:05] The price is a concern for us\n"}
	var log eventLog

	a := newTestAgent(t, NewScriptedModel(), runner)
	out, err := a.Run(context.Background(), log.logger(), "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(runner.calls) != len(DefaultScript) {
		t.Fatalf("runner calls = %v", runner.calls)
	}
	if len(out.Objections) != 2 || out.Objections[0].Description != "The price is a concern for us" {
		t.Fatalf("objections = %+v", out.Objections)
	}
	if len(out.Tasks) != 2 || out.Tasks[1].Owner != scriptedOwner {
		t.Fatalf("tasks = %+v", out.Tasks)
	}
	if !strings.Contains(out.Summary, "*Next Steps*") {
		t.Fatalf("summary = %q", out.Summary)
	}
}

func TestScriptedModel_EmptyFindings(t *testing.T) {
	var log eventLog
	out, err := newTestAgent(t, NewScriptedModel(), &fakeRunner{}).Run(context.Background(), log.logger(), "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Objections == nil || out.Tasks == nil {
		t.Fatal("expected empty, non-nil lists")
	}
	if !strings.Contains(out.Summary, "No concerns found") {
		t.Fatalf("summary = %q", out.Summary)
	}
}

func TestScriptedModel_RealSandbox(t *testing.T) {
	for _, bin := range []string{"ls", "cat", "grep"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available: %v", bin, err)
		}
	}

	sb, err := sandbox.New(sandbox.Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("sandbox.New() error = %v", err)
	}
	t.Cleanup(func() { _ = sb.Close() })
	if err := sb.WriteFiles(map[string]string{
		"gong-calls/42-renewal.md": "# Call Transcript\n\n> [00:05] Honestly the pricing is a concern\n\n> [01:10] Next step is a follow up demo\n",
		"gong-calls/metadata.json": `{"callId":"42"}`,
	}); err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}

	var log eventLog
	a, err := New(Config{Model: NewScriptedModel(), Commands: sb, AllowedCommands: sb.Commands()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := a.Run(context.Background(), log.logger(), "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Objections) != 1 || out.Objections[0].Description != "Honestly the pricing is a concern" {
		t.Fatalf("objections = %+v", out.Objections)
	}
	if len(out.Tasks) != 1 || out.Tasks[0].Description != "Next step is a follow up demo" {
		t.Fatalf("tasks = %+v", out.Tasks)
	}
	if got := log.messages(runtime.ContextBashOutput); len(got) != len(DefaultScript) {
		t.Fatalf("bash-output events = %d, want %d", len(got), len(DefaultScript))
	}
}

func TestTranscriptLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "strips timestamp", in: "> [00:05] hello\n", want: []string{"hello"}},
		{name: "ignores non-quote lines", in: "**Dana**\n> [00:05] hi\n", want: []string{"hi"}},
		{name: "caps items", in: "> a\n> b\n> c\n> d\n", want: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transcriptLines(tt.in)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("transcriptLines() = %v, want %v", got, tt.want)
			}
		})
	}
}
