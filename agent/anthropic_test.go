package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const messageReply = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-haiku-4-5",
  "content": [
    {"type": "text", "text": "Let me look at the transcript."},
    {"type": "tool_use", "id": "toolu_01", "name": "bash", "input": {"command": "ls", "args": ["gong-calls"]}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 120, "output_tokens": 30}
}`

func TestAnthropicModel_Next(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("api key = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, messageReply)
	}))
	defer srv.Close()

	m, err := NewAnthropicModel(AnthropicConfig{
		APIKey:  "test-key",
		Model:   "anthropic/claude-haiku-4-5",
		BaseURL: srv.URL + "/",
	})
	if err != nil {
		t.Fatalf("NewAnthropicModel() error = %v", err)
	}
	if m.Name() != "claude-haiku-4-5" {
		t.Fatalf("Name() = %q", m.Name())
	}

	resp, err := m.Next(context.Background(), Request{
		System: "be brief",
		Messages: []Message{
			{Role: RoleUser, Text: TaskPrompt},
			{Role: RoleAssistant, ToolCalls: []ToolCall{bashCall("toolu_00", "cat", "gong-calls/metadata.json")}},
			{Role: RoleUser, ToolResults: []ToolResult{{CallID: "toolu_00", Content: `{"stdout":"{}"}`}}},
		},
		Tools:     []ToolSpec{bashTool([]string{"ls"}), submitSummaryTool()},
		MaxTokens: 512,
	})
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	if resp.Text != "Let me look at the transcript." || resp.StopReason != "tool_use" {
		t.Fatalf("response = %+v", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_01" || resp.ToolCalls[0].Name != ToolBash {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	var in bashInput
	if err := json.Unmarshal(resp.ToolCalls[0].Input, &in); err != nil || in.Command != "ls" {
		t.Fatalf("tool input = %s (%v)", resp.ToolCalls[0].Input, err)
	}

	if body["model"] != "claude-haiku-4-5" {
		t.Errorf("model = %v", body["model"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 3 {
		t.Errorf("messages = %v", body["messages"])
	}
	if tools, _ := body["tools"].([]any); len(tools) != 2 {
		t.Errorf("tools = %v", body["tools"])
	}
	if system, _ := body["system"].([]any); len(system) != 1 {
		t.Errorf("system = %v", body["system"])
	}
}

func TestAnthropicModel_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad tools"}}`)
	}))
	defer srv.Close()

	m, err := NewAnthropicModel(AnthropicConfig{APIKey: "k", Model: "claude-haiku-4-5", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewAnthropicModel() error = %v", err)
	}
	if _, err := m.Next(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}, MaxTokens: 10}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewAnthropicModel_RequiresKey(t *testing.T) {
	if _, err := NewAnthropicModel(AnthropicConfig{Model: "claude-haiku-4-5"}); err == nil {
		t.Fatal("expected error without api key")
	}
}
