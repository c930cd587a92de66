// Package gong models Gong call webhooks and transcripts, fetches
// transcripts from the Gong API and renders them as markdown for the agent.
package gong

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidWebhook is returned when a webhook payload cannot be used.
var ErrInvalidWebhook = errors.New("gong: invalid webhook payload")

// Webhook is the payload Gong posts when a call is processed.
type Webhook struct {
	CallData  CallData `json:"callData"`
	IsTest    bool     `json:"isTest,omitempty"`
	IsPrivate bool     `json:"isPrivate,omitempty"`
}

// CallData carries call metadata, participants and content.
type CallData struct {
	MetaData    MetaData       `json:"metaData"`
	Context     []ContextEntry `json:"context,omitempty"`
	Parties     []Party        `json:"parties,omitempty"`
	Content     *Content       `json:"content,omitempty"`
	Interaction *Interaction   `json:"interaction,omitempty"`
}

// MetaData describes one call.
type MetaData struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Title      string  `json:"title,omitempty"`
	Scheduled  string  `json:"scheduled,omitempty"`
	Started    string  `json:"started,omitempty"`
	Duration   float64 `json:"duration,omitempty"` // seconds
	Direction  string  `json:"direction,omitempty"`
	System     string  `json:"system,omitempty"`
	Scope      string  `json:"scope,omitempty"`
	Media      string  `json:"media,omitempty"`
	Language   string  `json:"language,omitempty"`
	Purpose    string  `json:"purpose,omitempty"`
	MeetingURL string  `json:"meetingUrl,omitempty"`
}

// ContextEntry is CRM context attached to a call or party.
type ContextEntry struct {
	System  string          `json:"system"`
	Objects []ContextObject `json:"objects,omitempty"`
}

// ContextObject is one CRM record reference.
type ContextObject struct {
	ObjectType string         `json:"objectType"`
	ObjectID   string         `json:"objectId,omitempty"`
	Fields     []ContextField `json:"fields,omitempty"`
	Timing     string         `json:"timing,omitempty"`
}

// ContextField is a CRM field value of any JSON type.
type ContextField struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Party is a call participant.
type Party struct {
	ID           string         `json:"id"`
	EmailAddress string         `json:"emailAddress,omitempty"`
	Name         string         `json:"name,omitempty"`
	Title        string         `json:"title,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	SpeakerID    string         `json:"speakerId,omitempty"`
	Context      []ContextEntry `json:"context,omitempty"`
	Affiliation  string         `json:"affiliation,omitempty"`
	PhoneNumber  string         `json:"phoneNumber,omitempty"`
	Methods      []string       `json:"methods,omitempty"`
}

// Content holds trackers and topics.
type Content struct {
	Trackers []Tracker `json:"trackers,omitempty"`
	Topics   []Topic   `json:"topics,omitempty"`
}

type Tracker struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
	Type  string `json:"type"`
}

type Topic struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
}

// Interaction holds talk statistics.
type Interaction struct {
	Speakers         []Speaker         `json:"speakers,omitempty"`
	InteractionStats []InteractionStat `json:"interactionStats,omitempty"`
}

type Speaker struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId,omitempty"`
	TalkTime float64 `json:"talkTime"`
}

type InteractionStat struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// TranscriptResponse is the body of POST /v2/calls/transcript.
type TranscriptResponse struct {
	CallTranscripts []CallTranscript `json:"callTranscripts"`
}

type CallTranscript struct {
	CallID     string              `json:"callId"`
	Transcript []TranscriptSegment `json:"transcript"`
}

// TranscriptSegment is a run of sentences by one speaker under one topic.
type TranscriptSegment struct {
	SpeakerID string     `json:"speakerId"`
	Topic     string     `json:"topic"`
	Sentences []Sentence `json:"sentences"`
}

// Sentence offsets are milliseconds from the start of the call.
type Sentence struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Text  string `json:"text"`
}

// ParseWebhook decodes and validates a webhook body.
func ParseWebhook(r io.Reader) (Webhook, error) {
	var w Webhook
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return Webhook{}, fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	if strings.TrimSpace(w.CallData.MetaData.ID) == "" {
		return Webhook{}, fmt.Errorf("%w: callData.metaData.id is required", ErrInvalidWebhook)
	}
	return w, nil
}

// AccountID returns the ID of the first Account object the given CRM system
// attached to the call, or "".
func (c CallData) AccountID(system string) string {
	for _, entry := range c.Context {
		if entry.System != system {
			continue
		}
		for _, obj := range entry.Objects {
			if obj.ObjectType == "Account" {
				return obj.ObjectID
			}
		}
		return ""
	}
	return ""
}
