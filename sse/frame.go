package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/petal-labs/callstream/runtime"
)

// Mode selects how events are rendered inside a frame.
type Mode string

const (
	// ModeJSON renders each event as a self-describing JSON record.
	ModeJSON Mode = "json"
	// ModeText renders each event as one human-readable line.
	ModeText Mode = "text"
)

// ParseMode converts a query value into a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return ModeJSON, true
	case "text", "human", "plain":
		return ModeText, true
	}
	return "", false
}

// ModeFromRequest picks the rendering mode for a client. An explicit
// ?format= query wins, then an Accept header naming text/plain, then a curl
// User-Agent. Everything else gets JSON.
func ModeFromRequest(r *http.Request) Mode {
	if m, ok := ParseMode(r.URL.Query().Get("format")); ok {
		return m
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		return ModeText
	}
	if strings.Contains(strings.ToLower(r.UserAgent()), "curl") {
		return ModeText
	}
	return ModeJSON
}

// Sentinel is the end-of-stream marker written as the last frame of every
// session.
type Sentinel string

const (
	// SentinelDone ends a stream whose job finished, failed to start, or
	// whose client went away.
	SentinelDone Sentinel = "[DONE]"
	// SentinelTimeout ends a stream whose session budget elapsed while the
	// job was still running.
	SentinelTimeout Sentinel = "[TIMEOUT]"
)

// Payload returns the sentinel as it appears on the wire: a JSON string, so
// it can never be mistaken for an event record.
func (s Sentinel) Payload() string {
	return strconv.Quote(string(s))
}

// Frame is one unit of the push protocol.
type Frame struct {
	// ID is optional; event frames carry the bus sequence number.
	ID   string
	Data string
}

// Encode renders the frame in SSE wire format. Each payload line becomes its
// own data: line so the payload can never contain the blank-line delimiter.
func (f Frame) Encode() []byte {
	var b strings.Builder
	if f.ID != "" {
		b.WriteString("id: ")
		b.WriteString(f.ID)
		b.WriteByte('\n')
	}
	for _, line := range splitLines(f.Data) {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// EncodeComment renders an SSE comment. Comments are ignored by consumers
// and are used as keep-alives.
func EncodeComment(text string) []byte {
	var b strings.Builder
	for _, line := range splitLines(text) {
		b.WriteString(": ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

// Formatter turns LogEvents into frame payloads.
type Formatter struct {
	Mode Mode

	// Location is the zone used for text-mode timestamps (default: time.Local).
	Location *time.Location
}

// Format renders one event.
func (f Formatter) Format(e runtime.LogEvent) (string, error) {
	if f.Mode == ModeText {
		return f.text(e)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("sse: encode event %d: %w", e.Seq, err)
	}
	return string(data), nil
}

// Frame renders one event as a frame carrying its sequence number.
func (f Formatter) Frame(e runtime.LogEvent) (Frame, error) {
	payload, err := f.Format(e)
	if err != nil {
		return Frame{}, err
	}
	frame := Frame{Data: payload}
	if e.Seq > 0 {
		frame.ID = strconv.FormatUint(e.Seq, 10)
	}
	return frame, nil
}

func (f Formatter) text(e runtime.LogEvent) (string, error) {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	line := fmt.Sprintf("[%s] [%s] %s", e.Time.In(loc).Format("15:04:05"), e.Context, e.Message)
	if len(e.Data) == 0 {
		return line, nil
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return "", fmt.Errorf("sse: encode event %d data: %w", e.Seq, err)
	}
	return line + " " + string(data), nil
}
