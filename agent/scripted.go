package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ScriptedCommand is one bash call issued by a ScriptedModel.
type ScriptedCommand struct {
	Command string
	Args    []string
}

// DefaultScript explores the sandbox the way a model typically does: list
// the workspace, read the metadata, then search for objections and next
// steps. The last two commands feed the summary.
var DefaultScript = []ScriptedCommand{
	{Command: "ls", Args: []string{"-R", "."}},
	{Command: "cat", Args: []string{"gong-calls/metadata.json"}},
	{Command: "grep", Args: []string{"-rhiE", "pric|expensive|budget|concern|worried|risk", "gong-calls"}},
	{Command: "grep", Args: []string{"-rhiE", "next step|follow up|send|schedule", "gong-calls"}},
}

const (
	scriptedObjectionScore = 65
	scriptedMaxItems       = 3
	scriptedOwner          = "Account team"
)

// ScriptedModel is an offline Model that replays a fixed list of bash calls
// and then submits a summary built from the last two command outputs. It is
// stateless: the step is derived from the conversation.
type ScriptedModel struct {
	Script []ScriptedCommand
}

// NewScriptedModel returns a ScriptedModel running DefaultScript.
func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{Script: DefaultScript}
}

// Name identifies the model in progress events.
func (m *ScriptedModel) Name() string {
	return "scripted"
}

// Next returns the next scripted tool call, or submit_summary once the
// script is exhausted.
func (m *ScriptedModel) Next(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	step := 0
	for _, msg := range req.Messages {
		if msg.Role == RoleAssistant {
			step++
		}
	}

	if step < len(m.Script) {
		cmd := m.Script[step]
		input, err := json.Marshal(bashInput{Command: cmd.Command, Args: cmd.Args})
		if err != nil {
			return Response{}, err
		}
		return Response{
			ToolCalls:  []ToolCall{{ID: fmt.Sprintf("scripted-%d", step+1), Name: ToolBash, Input: input}},
			StopReason: "tool_use",
		}, nil
	}

	out := m.summarize(toolOutputs(req.Messages))
	input, err := json.Marshal(out)
	if err != nil {
		return Response{}, err
	}
	return Response{
		ToolCalls:  []ToolCall{{ID: fmt.Sprintf("scripted-%d", step+1), Name: ToolSubmitSummary, Input: input}},
		StopReason: "tool_use",
	}, nil
}

func (m *ScriptedModel) summarize(outputs []string) Output {
	var concerns, followUps []string
	if n := len(outputs); n >= 2 {
		concerns = transcriptLines(outputs[n-2])
		followUps = transcriptLines(outputs[n-1])
	}

	out := Output{
		Objections: []Objection{},
		Tasks:      []ActionItem{},
	}
	for _, line := range concerns {
		out.Objections = append(out.Objections, Objection{Description: line, HandlingScore: scriptedObjectionScore})
	}
	for _, line := range followUps {
		out.Tasks = append(out.Tasks, ActionItem{Description: line, Owner: scriptedOwner})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Automated review of the call transcript (%d commands run).\n\n", len(m.Script))
	b.WriteString("*Concerns raised*\n")
	writeBullets(&b, concerns, "No concerns found in the transcript.")
	b.WriteString("\n*Next Steps*\n")
	writeBullets(&b, followUps, "No follow-ups found in the transcript.")
	out.Summary = strings.TrimRight(b.String(), "\n")
	return out
}

func writeBullets(b *strings.Builder, lines []string, empty string) {
	if len(lines) == 0 {
		b.WriteString("- " + empty + "\n")
		return
	}
	for _, line := range lines {
		b.WriteString("- " + line + "\n")
	}
}

// toolOutputs extracts stdout from every bash result in order.
func toolOutputs(msgs []Message) []string {
	var out []string
	for _, msg := range msgs {
		for _, res := range msg.ToolResults {
			var decoded bashOutput
			if err := json.Unmarshal([]byte(res.Content), &decoded); err != nil {
				out = append(out, "")
				continue
			}
			out = append(out, decoded.Stdout)
		}
	}
	return out
}

// transcriptLines keeps distinct spoken lines ("> [mm:ss] text") and strips
// the quote and timestamp prefix.
func transcriptLines(stdout string) []string {
	seen := make(map[string]bool)
	var lines []string
	for _, raw := range strings.Split(stdout, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, ">") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, ">"))
		if strings.HasPrefix(line, "[") {
			if end := strings.Index(line, "]"); end >= 0 {
				line = strings.TrimSpace(line[end+1:])
			}
		}
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
		if len(lines) == scriptedMaxItems {
			break
		}
	}
	return lines
}
