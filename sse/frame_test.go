package sse

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/callstream/runtime"
)

func TestFrame_Encode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{"single line", Frame{Data: `{"a":1}`}, "data: {\"a\":1}\n\n"},
		{"with id", Frame{ID: "7", Data: "x"}, "id: 7\ndata: x\n\n"},
		{"multi line", Frame{Data: "Files ready (2 files):\n  → a.md\n  → b.md"}, "data: Files ready (2 files):\ndata:   → a.md\ndata:   → b.md\n\n"},
		{"crlf normalized", Frame{Data: "a\r\nb\rc"}, "data: a\ndata: b\ndata: c\n\n"},
		{"blank line inside payload", Frame{Data: "a\n\nb"}, "data: a\ndata: \ndata: b\n\n"},
		{"empty", Frame{}, "data: \n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(tt.frame.Encode())
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
			body := strings.TrimSuffix(got, "\n\n")
			if strings.Contains(body, "\n\n") {
				t.Errorf("frame contains the delimiter before its end: %q", got)
			}
		})
	}
}

func TestEncodeComment(t *testing.T) {
	if got := string(EncodeComment("ping")); got != ": ping\n\n" {
		t.Errorf("EncodeComment() = %q", got)
	}
}

func TestSentinel_Payload(t *testing.T) {
	if got := SentinelDone.Payload(); got != `"[DONE]"` {
		t.Errorf("SentinelDone.Payload() = %s", got)
	}
	if got := SentinelTimeout.Payload(); got != `"[TIMEOUT]"` {
		t.Errorf("SentinelTimeout.Payload() = %s", got)
	}
	if ReasonTimeout.Sentinel() != SentinelTimeout {
		t.Error("timeout should end with the timeout sentinel")
	}
	for _, r := range []Reason{ReasonCompleted, ReasonFailed, ReasonProducerError, ReasonDisconnect} {
		if r.Sentinel() != SentinelDone {
			t.Errorf("%s.Sentinel() = %s", r, r.Sentinel())
		}
	}
}

func fixedEvent() runtime.LogEvent {
	return runtime.LogEvent{
		Seq:     3,
		Time:    time.Date(2025, 1, 1, 14, 5, 9, 0, time.UTC),
		Context: runtime.ContextBash,
		Level:   runtime.LevelInfo,
		Message: "$ ls gong-calls",
	}
}

func TestFormatter_Text(t *testing.T) {
	f := Formatter{Mode: ModeText, Location: time.UTC}

	got, err := f.Format(fixedEvent())
	if err != nil {
		t.Fatal(err)
	}
	if want := "[14:05:09] [bash] $ ls gong-calls"; got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}

	withData := fixedEvent().WithData(runtime.Fields{
		"exit_code": runtime.Int(0),
		"command":   runtime.String("ls"),
	})
	got, err = f.Format(withData)
	if err != nil {
		t.Fatal(err)
	}
	if want := `[14:05:09] [bash] $ ls gong-calls {"command":"ls","exit_code":0}`; got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestFormatter_TextUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	got, err := Formatter{Mode: ModeText, Location: loc}.Format(fixedEvent())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "[16:05:09]") {
		t.Errorf("Format() = %q, want local time 16:05:09", got)
	}
}

func TestFormatter_JSON(t *testing.T) {
	frame, err := Formatter{Mode: ModeJSON}.Frame(fixedEvent())
	if err != nil {
		t.Fatal(err)
	}
	if frame.ID != "3" {
		t.Errorf("frame ID = %q, want 3", frame.ID)
	}
	want := `{"seq":3,"time":"2025-01-01T14:05:09Z","context":"bash","level":"info","message":"$ ls gong-calls"}`
	if frame.Data != want {
		t.Errorf("frame data = %s, want %s", frame.Data, want)
	}
}

func TestModeFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
		ua     string
		want   Mode
	}{
		{"default", "/api/logs", "text/event-stream", "Mozilla/5.0", ModeJSON},
		{"curl", "/api/logs", "text/event-stream", "curl/8.4.0", ModeText},
		{"accept plain", "/api/logs", "text/event-stream, text/plain", "", ModeText},
		{"query wins over curl", "/api/logs?format=json", "", "curl/8.4.0", ModeJSON},
		{"query text", "/api/logs?format=text", "", "Mozilla/5.0", ModeText},
		{"unknown query ignored", "/api/logs?format=xml", "", "", ModeJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			r.Header.Set("Accept", tt.accept)
			r.Header.Set("User-Agent", tt.ua)
			if got := ModeFromRequest(r); got != tt.want {
				t.Errorf("ModeFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
