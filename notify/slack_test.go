package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type slackStub struct {
	mu    sync.Mutex
	forms []map[string]string
	reply string
}

func (s *slackStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	s.mu.Lock()
	s.forms = append(s.forms, form)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, s.reply)
}

func newSlackStub(t *testing.T, reply string) (*slackStub, *httptest.Server) {
	t.Helper()
	stub := &slackStub{reply: reply}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return stub, srv
}

func TestSlack_Enabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  SlackConfig
		want bool
	}{
		{name: "empty", cfg: SlackConfig{}, want: false},
		{name: "token only", cfg: SlackConfig{BotToken: "xoxb-1"}, want: false},
		{name: "channel only", cfg: SlackConfig{ChannelID: "C1"}, want: false},
		{name: "both", cfg: SlackConfig{BotToken: "xoxb-1", ChannelID: "C1"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewSlack(tt.cfg).Enabled(); got != tt.want {
				t.Fatalf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlack_PostSummary(t *testing.T) {
	stub, srv := newSlackStub(t, `{"ok":true,"channel":"C123","ts":"1700000000.000100"}`)
	s := NewSlack(SlackConfig{BotToken: "xoxb-test", ChannelID: "C123", APIURL: srv.URL + "/"})

	receipt, err := s.PostSummary(context.Background(), "Great call.", "https://app.gong.io/call?id=42", PostOptions{ThreadTS: "1699999999.000001"})
	if err != nil {
		t.Fatalf("PostSummary() error = %v", err)
	}
	if receipt.Channel != "C123" || receipt.Timestamp != "1700000000.000100" {
		t.Fatalf("receipt = %+v", receipt)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.forms) != 1 {
		t.Fatalf("posts = %d, want 1", len(stub.forms))
	}
	form := stub.forms[0]
	if form["channel"] != "C123" {
		t.Errorf("channel = %q", form["channel"])
	}
	if form["text"] != "Great call.\n\n*Recording:* https://app.gong.io/call?id=42" {
		t.Errorf("text = %q", form["text"])
	}
	if form["thread_ts"] != "1699999999.000001" {
		t.Errorf("thread_ts = %q", form["thread_ts"])
	}
}

func TestSlack_PostSummaryAPIError(t *testing.T) {
	_, srv := newSlackStub(t, `{"ok":false,"error":"channel_not_found"}`)
	s := NewSlack(SlackConfig{BotToken: "xoxb-test", ChannelID: "C404", APIURL: srv.URL + "/"})

	_, err := s.PostSummary(context.Background(), "x", "", PostOptions{})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v", err)
	}
}

func TestSlack_PostSummaryDisabled(t *testing.T) {
	_, err := NewSlack(SlackConfig{}).PostSummary(context.Background(), "x", "", PostOptions{})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name    string
		summary string
		url     string
		tags    []string
		want    string
	}{
		{name: "summary only", summary: "s", want: "s"},
		{name: "with recording", summary: "s", url: "https://x", want: "s\n\n*Recording:* https://x"},
		{name: "with mentions", summary: "s", tags: []string{"U1", "U2"}, want: "<@U1> <@U2> s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.summary, tt.url, tt.tags); got != tt.want {
				t.Fatalf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}
