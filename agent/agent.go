// Package agent runs the tool-calling loop that analyses a call transcript.
// The model explores a sandbox workspace with a bash tool and finishes by
// calling submit_summary with a structured Output.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petal-labs/callstream/runtime"
)

const (
	// DefaultMaxSteps bounds the number of model calls per analysis.
	DefaultMaxSteps = 12
	// DefaultMaxAttempts bounds executions of a single bash call that fails
	// for infrastructure reasons.
	DefaultMaxAttempts = 3
	// DefaultMaxTokens is the per-step output token limit.
	DefaultMaxTokens = 4096

	defaultRetryBackoff = 250 * time.Millisecond
)

var (
	// ErrMaxSteps is returned when the model has not submitted a summary
	// within the step limit.
	ErrMaxSteps = errors.New("agent: step limit reached without a summary")
	// ErrMaxRetries is returned when a bash call keeps failing for
	// infrastructure reasons.
	ErrMaxRetries = errors.New("agent: max retries exceeded")
)

const submitReminder = "Call the " + ToolSubmitSummary + " tool with your final analysis."

// Config configures an Agent.
type Config struct {
	Model    Model
	Commands CommandRunner

	// AllowedCommands is advertised in the bash tool description.
	AllowedCommands []string

	MaxSteps     int
	MaxAttempts  int
	MaxTokens    int
	RetryBackoff time.Duration
}

// Agent drives one Model against one sandbox.
type Agent struct {
	model        Model
	commands     CommandRunner
	tools        []ToolSpec
	maxSteps     int
	maxAttempts  int
	maxTokens    int
	retryBackoff time.Duration
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, errors.New("agent: model is required")
	}
	if cfg.Commands == nil {
		return nil, errors.New("agent: command runner is required")
	}
	a := &Agent{
		model:        cfg.Model,
		commands:     cfg.Commands,
		maxSteps:     cfg.MaxSteps,
		maxAttempts:  cfg.MaxAttempts,
		maxTokens:    cfg.MaxTokens,
		retryBackoff: cfg.RetryBackoff,
	}
	if a.maxSteps <= 0 {
		a.maxSteps = DefaultMaxSteps
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = DefaultMaxAttempts
	}
	if a.maxTokens <= 0 {
		a.maxTokens = DefaultMaxTokens
	}
	if a.retryBackoff < 0 {
		a.retryBackoff = 0
	} else if a.retryBackoff == 0 {
		a.retryBackoff = defaultRetryBackoff
	}
	a.tools = []ToolSpec{bashTool(cfg.AllowedCommands), submitSummaryTool()}
	return a, nil
}

// Run executes the loop with the given system instructions and reports
// progress through log. Any returned error has already been logged as
// "Agent failed".
func (a *Agent) Run(ctx context.Context, log *runtime.Logger, instructions string) (out Output, err error) {
	log.Info(runtime.ContextAgent, "Starting AI agent", runtime.Fields{
		"model": runtime.String(a.model.Name()),
	})
	defer func() {
		if err != nil {
			log.Error(runtime.ContextAgent, "Agent failed: "+err.Error(), nil)
		}
	}()

	log.Info(runtime.ContextAgent, "Calling AI model...", nil)
	messages := []Message{{Role: RoleUser, Text: TaskPrompt}}

	for step := 1; step <= a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}

		resp, err := a.model.Next(ctx, Request{
			System:    instructions,
			Messages:  messages,
			Tools:     a.tools,
			MaxTokens: a.maxTokens,
		})
		if err != nil {
			return Output{}, fmt.Errorf("agent: step %d: %w", step, err)
		}
		messages = append(messages, Message{Role: RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls})

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, Message{Role: RoleUser, Text: submitReminder})
			continue
		}

		results := make([]ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			switch call.Name {
			case ToolSubmitSummary:
				submitted, err := decodeOutput(call.Input)
				if err != nil {
					log.Warn(runtime.ContextAgent, "Rejected summary: "+err.Error(), nil)
					results = append(results, ToolResult{CallID: call.ID, Content: err.Error(), IsError: true})
					continue
				}
				log.Info(runtime.ContextAgent, "Generating structured output...", nil)
				log.Info(runtime.ContextAgent, "Analysis complete", runtime.Fields{
					"steps": runtime.Int(int64(step)),
				})
				return submitted, nil
			case ToolBash:
				res, err := a.runBash(ctx, log, call)
				if err != nil {
					return Output{}, err
				}
				results = append(results, res)
			default:
				results = append(results, ToolResult{
					CallID:  call.ID,
					Content: fmt.Sprintf("unknown tool %q", call.Name),
					IsError: true,
				})
			}
		}

		log.Info(runtime.ContextAgent, "Planning next action...", nil)
		messages = append(messages, Message{Role: RoleUser, ToolResults: results})
	}

	return Output{}, fmt.Errorf("%w (%d steps)", ErrMaxSteps, a.maxSteps)
}
