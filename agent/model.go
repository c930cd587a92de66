package agent

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the agent conversation. Assistant turns may carry
// tool calls; the user turn that follows carries their results.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// ToolSpec describes a tool offered to the model. Properties is a JSON
// schema "properties" object.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Request is the full conversation state passed to a Model on every step.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Response is one model step.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// Model produces the next assistant turn for a conversation.
type Model interface {
	Name() string
	Next(ctx context.Context, req Request) (Response, error)
}
