// Package notify posts finished call summaries to chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
)

// ErrDisabled is returned when posting through an unconfigured notifier.
var ErrDisabled = errors.New("notify: slack is not configured")

// Notifier delivers a call summary.
type Notifier interface {
	Enabled() bool
	PostSummary(ctx context.Context, summary, recordingURL string, opts PostOptions) (Receipt, error)
}

// PostOptions tweak a single post.
type PostOptions struct {
	// ThreadTS posts as a reply in an existing thread.
	ThreadTS string
	// TagUsers are Slack user IDs mentioned ahead of the message.
	TagUsers []string
}

// Receipt identifies a posted message.
type Receipt struct {
	Channel   string
	Timestamp string
}

// SlackConfig configures a Slack notifier.
type SlackConfig struct {
	BotToken  string
	ChannelID string

	// APIURL overrides https://slack.com/api/ (tests). Must end in "/".
	APIURL     string
	HTTPClient *http.Client
}

// Slack posts summaries to a single channel via chat.postMessage.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack creates a notifier. It is disabled unless both the token and the
// channel are set.
func NewSlack(cfg SlackConfig) *Slack {
	s := &Slack{channel: cfg.ChannelID}
	if cfg.BotToken == "" {
		return s
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	s.client = slack.New(cfg.BotToken, opts...)
	return s
}

// Enabled reports whether posting is configured.
func (s *Slack) Enabled() bool {
	return s != nil && s.client != nil && s.channel != ""
}

// PostSummary posts the summary, followed by the recording link when set.
func (s *Slack) PostSummary(ctx context.Context, summary, recordingURL string, opts PostOptions) (Receipt, error) {
	if !s.Enabled() {
		return Receipt{}, ErrDisabled
	}

	msgOpts := []slack.MsgOption{slack.MsgOptionText(Message(summary, recordingURL, opts.TagUsers), false)}
	if opts.ThreadTS != "" {
		msgOpts = append(msgOpts, slack.MsgOptionTS(opts.ThreadTS))
	}

	channel, ts, err := s.client.PostMessageContext(ctx, s.channel, msgOpts...)
	if err != nil {
		return Receipt{}, fmt.Errorf("notify: post to %s: %w", s.channel, err)
	}
	return Receipt{Channel: channel, Timestamp: ts}, nil
}

// Message renders the Slack text for a summary.
func Message(summary, recordingURL string, tagUsers []string) string {
	msg := summary
	if recordingURL != "" {
		msg += "\n\n*Recording:* " + recordingURL
	}
	if len(tagUsers) > 0 {
		mentions := make([]string, len(tagUsers))
		for i, id := range tagUsers {
			mentions[i] = "<@" + id + ">"
		}
		msg = strings.Join(mentions, " ") + " " + msg
	}
	return msg
}
