package gong

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantID  string
		wantErr bool
	}{
		{"valid", `{"callData":{"metaData":{"id":"42","url":"https://x"}}}`, "42", false},
		{"missing id", `{"callData":{"metaData":{"url":"https://x"}}}`, "", true},
		{"malformed", `{"callData":`, "", true},
		{"empty", ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWebhook(strings.NewReader(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidWebhook) {
					t.Fatalf("ParseWebhook() error = %v, want ErrInvalidWebhook", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWebhook() error = %v", err)
			}
			if w.CallData.MetaData.ID != tt.wantID {
				t.Errorf("id = %q, want %q", w.CallData.MetaData.ID, tt.wantID)
			}
		})
	}
}

func TestCallData_AccountID(t *testing.T) {
	w, err := DemoWebhook()
	if err != nil {
		t.Fatal(err)
	}
	if got := w.CallData.AccountID("Salesforce"); got != "001DEMO000NWLOG" {
		t.Errorf("AccountID(Salesforce) = %q", got)
	}
	if got := w.CallData.AccountID("HubSpot"); got != "" {
		t.Errorf("AccountID(HubSpot) = %q", got)
	}
}

func TestClient_FetchTranscript(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.Method + " " + r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"callTranscripts":[{"callId":"42","transcript":[{"speakerId":"s1","topic":"Pricing","sentences":[{"start":61000,"end":62000,"text":"Too expensive."}]}]}]}`))
	}))
	defer ts.Close()

	c := NewClient(ClientConfig{BaseURL: ts.URL + "/", AccessKey: "key", SecretKey: "secret"})
	resp, err := c.FetchTranscript(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchTranscript() error = %v", err)
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
	if gotAuth != wantAuth {
		t.Errorf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
	if gotPath != "POST /v2/calls/transcript" {
		t.Errorf("request = %q", gotPath)
	}
	filter, _ := gotBody["filter"].(map[string]any)
	ids, _ := filter["callIds"].([]any)
	if len(ids) != 1 || ids[0] != "42" {
		t.Errorf("request filter = %v", gotBody)
	}
	if len(resp.CallTranscripts) != 1 || resp.CallTranscripts[0].Transcript[0].Sentences[0].Text != "Too expensive." {
		t.Errorf("response = %+v", resp)
	}
}

func TestClient_FetchTranscriptErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := NewClient(ClientConfig{BaseURL: ts.URL, AccessKey: "k", SecretKey: "s"}).FetchTranscript(context.Background(), "1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %v, want 401 APIError", err)
	}
	if !strings.Contains(apiErr.Message, "invalid credentials") {
		t.Errorf("message = %q", apiErr.Message)
	}

	_, err = NewClient(ClientConfig{BaseURL: ts.URL}).FetchTranscript(context.Background(), "1")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestMarkdown(t *testing.T) {
	call := CallData{
		MetaData: MetaData{ID: "42", Title: "Renewal", Duration: 3725, System: "Zoom"},
		Parties: []Party{
			{Name: "Ana", Affiliation: "Internal", EmailAddress: "ana@acme.example", SpeakerID: "s1"},
			{Name: "Bo", Affiliation: "External", Title: "CTO", SpeakerID: "s2"},
		},
	}
	resp := TranscriptResponse{CallTranscripts: []CallTranscript{{
		CallID: "42",
		Transcript: []TranscriptSegment{
			{SpeakerID: "s1", Topic: "", Sentences: []Sentence{{Start: 5000, Text: "Hello."}}},
			{SpeakerID: "s2", Topic: "Pricing", Sentences: []Sentence{{Start: 125000, Text: "Too expensive."}}},
			{SpeakerID: "s9", Topic: "Pricing", Sentences: []Sentence{{Start: 130999, Text: "Hmm."}}},
		},
	}}}

	want := `# Call Transcript

## Call Information

- **Call ID:** 42
- **Title:** Renewal
- **Duration:** 1h 2m 5s
- **System:** Zoom

## Participants

- **Ana** (Internal) - ana@acme.example
- **Bo** (External) - CTO

## Transcript

**Ana** _(Internal, ana@acme.example)_

> [00:05] Hello.

### Pricing

**Bo** _(External, CTO)_

> [02:05] Too expensive.

**Speaker s9** (ID: s9)

> [02:10] Hmm.

`
	if got := Markdown(resp, call); got != want {
		t.Errorf("Markdown() mismatch\n got:\n%s\nwant:\n%s", got, want)
	}

	if got := Markdown(TranscriptResponse{}, call); got != NoTranscript {
		t.Errorf("Markdown(empty) = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0s"},
		{59, "59s"},
		{61, "1m 1s"},
		{1834, "30m 34s"},
		{3600, "1h 0m 0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestFilename(t *testing.T) {
	got := Filename(MetaData{ID: "demo-call-001", Title: "Northwind Logistics - Technical Deep Dive"})
	if want := "demo-call-001-northwind-logistics---technical-deep-dive.md"; got != want {
		t.Errorf("Filename() = %q, want %q", got, want)
	}
	if got := Filename(MetaData{ID: "7"}); got != "7-call.md" {
		t.Errorf("Filename(untitled) = %q", got)
	}
}

func TestDemoData(t *testing.T) {
	w, err := DemoWebhook()
	if err != nil {
		t.Fatal(err)
	}
	tr, err := DemoTranscript()
	if err != nil {
		t.Fatal(err)
	}
	if tr.CallTranscripts[0].CallID != w.CallData.MetaData.ID {
		t.Errorf("demo transcript is for %q, webhook is %q", tr.CallTranscripts[0].CallID, w.CallData.MetaData.ID)
	}
	md := Markdown(tr, w.CallData)
	if !strings.Contains(md, "**Priya Castellano**") {
		t.Error("demo markdown missing speaker names")
	}

	files, err := DemoContextFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 8 {
		t.Fatalf("got %d demo context files, want 8", len(files))
	}
	for _, f := range files {
		if strings.TrimSpace(f.Content) == "" {
			t.Errorf("demo file %s is empty", f.Path)
		}
	}
}
