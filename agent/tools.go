package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/sandbox"
)

// Tool names offered to the model.
const (
	ToolBash          = "bash"
	ToolSubmitSummary = "submit_summary"
)

// maxLoggedOutput caps command output copied into bash-output events. The
// model still receives the full (sandbox-capped) output.
const maxLoggedOutput = 4000

// CommandRunner executes one allowlisted command. *sandbox.Sandbox
// satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (sandbox.Result, error)
}

// Objection is a concern raised on the call and how well it was handled.
type Objection struct {
	Description   string `json:"description"`
	HandlingScore int    `json:"handling_score"`
}

// ActionItem is a follow-up task and its owner.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
}

// Output is the structured analysis the agent submits.
type Output struct {
	Summary    string       `json:"summary"`
	Objections []Objection  `json:"objections"`
	Tasks      []ActionItem `json:"tasks"`
}

// Validate checks the submitted analysis.
func (o Output) Validate() error {
	if strings.TrimSpace(o.Summary) == "" {
		return errors.New("summary is required")
	}
	for i, obj := range o.Objections {
		if strings.TrimSpace(obj.Description) == "" {
			return fmt.Errorf("objections[%d]: description is required", i)
		}
		if obj.HandlingScore < 0 || obj.HandlingScore > 100 {
			return fmt.Errorf("objections[%d]: handling_score %d outside 0-100", i, obj.HandlingScore)
		}
	}
	for i, task := range o.Tasks {
		if strings.TrimSpace(task.Description) == "" {
			return fmt.Errorf("tasks[%d]: description is required", i)
		}
	}
	return nil
}

func decodeOutput(input json.RawMessage) (Output, error) {
	var out Output
	if err := json.Unmarshal(input, &out); err != nil {
		return Output{}, fmt.Errorf("invalid %s input: %w", ToolSubmitSummary, err)
	}
	if err := out.Validate(); err != nil {
		return Output{}, fmt.Errorf("invalid %s input: %w", ToolSubmitSummary, err)
	}
	return out, nil
}

type bashInput struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func bashTool(commands []string) ToolSpec {
	return ToolSpec{
		Name: ToolBash,
		Description: `Execute shell commands to search and explore call transcript files.

Available commands: ` + strings.Join(commands, ", ") + `

Example commands:
- ls gong-calls/ - List all available call transcripts
- grep -r "pricing" gong-calls/ - Search for pricing discussions across all calls
- grep -i "competitor" gong-calls/ -r - Find competitor mentions
- cat gong-calls/metadata.json - View call metadata
- find . -name "*.md" -exec grep -l "objection" {} ; - Find files mentioning objections
- head -50 gong-calls/<file>.md - View first 50 lines of a transcript

Paths are relative to the workspace root. Shell features (pipes, globs, redirects) are not available.`,
		Properties: map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command to execute",
			},
			"args": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Arguments to pass to the command",
			},
		},
		Required: []string{"command", "args"},
	}
}

func submitSummaryTool() ToolSpec {
	return ToolSpec{
		Name:        ToolSubmitSummary,
		Description: "Submit the final call analysis. Call this exactly once, after exploring the transcript.",
		Properties: map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "The formatted call summary",
			},
			"objections": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description":    map[string]any{"type": "string"},
						"handling_score": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
					},
					"required": []string{"description", "handling_score"},
				},
			},
			"tasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description": map[string]any{"type": "string"},
						"owner":       map[string]any{"type": "string"},
					},
					"required": []string{"description", "owner"},
				},
			},
		},
		Required: []string{"summary", "objections", "tasks"},
	}
}

type bashOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// runBash executes one bash tool call. Policy rejections and bad input go
// back to the model as error results; only exhausted retries and
// cancellation are returned as errors.
func (a *Agent) runBash(ctx context.Context, log *runtime.Logger, call ToolCall) (ToolResult, error) {
	var in bashInput
	if err := json.Unmarshal(call.Input, &in); err != nil || strings.TrimSpace(in.Command) == "" {
		return ToolResult{CallID: call.ID, Content: "invalid bash input: command is required", IsError: true}, nil
	}

	cmdline := strings.TrimSpace(in.Command + " " + strings.Join(in.Args, " "))
	log.Info(runtime.ContextBash, "$ "+cmdline, nil)

	res, attempts, err := a.runWithRetry(ctx, log, in)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return ToolResult{}, ctx.Err()
		case sandbox.IsRetryable(err):
			log.Error(runtime.ContextBash, fmt.Sprintf("%s: Max retries exceeded", in.Command), runtime.Fields{
				"attempts": runtime.Int(int64(attempts)),
				"error":    runtime.String(err.Error()),
			})
			return ToolResult{}, fmt.Errorf("%w: %s after %d attempts: %v", ErrMaxRetries, in.Command, attempts, err)
		default:
			log.Warn(runtime.ContextBash, "Command rejected: "+err.Error(), nil)
			return ToolResult{CallID: call.ID, Content: encodeBashOutput(bashOutput{Stderr: err.Error(), ExitCode: 1}), IsError: true}, nil
		}
	}

	logged := res.Stdout
	if logged == "" {
		logged = "(no output)"
	}
	logged = truncateOutput(logged, maxLoggedOutput)
	log.Info(runtime.ContextBashOutput, logged, runtime.Fields{
		"exit_code":   runtime.Int(int64(res.ExitCode)),
		"duration_ms": runtime.Int(res.Duration.Milliseconds()),
		"truncated":   runtime.Bool(res.Truncated),
	})

	out := bashOutput{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	if out.Stdout == "" {
		out.Stdout = "(no output)"
	}
	return ToolResult{CallID: call.ID, Content: encodeBashOutput(out)}, nil
}

func (a *Agent) runWithRetry(ctx context.Context, log *runtime.Logger, in bashInput) (sandbox.Result, int, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return sandbox.Result{}, attempt, err
		}

		res, err := a.commands.Run(ctx, in.Command, in.Args)
		if err == nil {
			return res, attempt, nil
		}
		lastErr = err
		if attempt == a.maxAttempts || !sandbox.IsRetryable(err) {
			return sandbox.Result{}, attempt, err
		}
		log.Warn(runtime.ContextBash, fmt.Sprintf("Command failed (attempt %d/%d), retrying", attempt, a.maxAttempts), runtime.Fields{
			"error": runtime.String(err.Error()),
		})

		wait := a.retryBackoff * time.Duration(attempt)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return sandbox.Result{}, attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return sandbox.Result{}, a.maxAttempts, lastErr
}

func encodeBashOutput(out bashOutput) string {
	b, err := json.Marshal(out)
	if err != nil {
		return out.Stdout
	}
	return string(b)
}

// truncateOutput cuts s to at most n bytes on a rune boundary and marks the cut.
func truncateOutput(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n..."
}
