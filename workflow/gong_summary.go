// Package workflow implements the gong-summary background job: fetch a call
// transcript, stage it in a sandbox, let the agent analyse it and post the
// result to Slack.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petal-labs/callstream/agent"
	"github.com/petal-labs/callstream/gong"
	"github.com/petal-labs/callstream/notify"
	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/sandbox"
)

// JobName identifies gong-summary runs.
const JobName = "gong-summary"

// CRMSystem is the context system whose Account ID is extracted.
const CRMSystem = "Salesforce"

// ErrNoTranscript ends a run when the call has no transcript.
var ErrNoTranscript = errors.New("no transcript available")

// TranscriptSource fetches call transcripts. *gong.Client satisfies it.
type TranscriptSource interface {
	FetchTranscript(ctx context.Context, callID string) (gong.TranscriptResponse, error)
}

// DemoTranscripts serves the embedded demo transcript for any call.
type DemoTranscripts struct{}

// FetchTranscript returns the demo transcript.
func (DemoTranscripts) FetchTranscript(ctx context.Context, _ string) (gong.TranscriptResponse, error) {
	if err := ctx.Err(); err != nil {
		return gong.TranscriptResponse{}, err
	}
	return gong.DemoTranscript()
}

// Deps are the collaborators a GongSummary run uses.
type Deps struct {
	Transcripts TranscriptSource
	Model       agent.Model
	Notifier    notify.Notifier

	// Sandbox configures the per-run workspace.
	Sandbox sandbox.Config

	// ContextFiles are extra sandbox files (demo CRM records, earlier calls).
	ContextFiles []gong.ContextFile

	Company   string
	MaxSteps  int
	MaxTokens int
	Demo      bool

	Logger *slog.Logger
}

// GongSummary is the job for one call.
type GongSummary struct {
	webhook gong.Webhook
	deps    Deps
	logger  *slog.Logger
}

// NewGongSummary creates the job for a webhook.
func NewGongSummary(webhook gong.Webhook, deps Deps) *GongSummary {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GongSummary{webhook: webhook, deps: deps, logger: logger}
}

// Name implements runtime.Job.
func (j *GongSummary) Name() string {
	return JobName
}

// CallID returns the call this job analyses.
func (j *GongSummary) CallID() string {
	return j.webhook.CallData.MetaData.ID
}

// Validate implements runtime.Validator.
func (j *GongSummary) Validate() error {
	if strings.TrimSpace(j.CallID()) == "" {
		return fmt.Errorf("%w: callData.metaData.id is required", gong.ErrInvalidWebhook)
	}
	if j.deps.Transcripts == nil {
		return errors.New("workflow: transcript source is required")
	}
	if j.deps.Model == nil {
		return errors.New("workflow: model is required")
	}
	return nil
}

// Run implements runtime.Job.
func (j *GongSummary) Run(ctx context.Context, log *runtime.Logger) error {
	call := j.webhook.CallData
	meta := call.MetaData

	log.Info(runtime.ContextWorkflow, "Workflow started", runtime.Fields{
		"callId":    runtime.String(meta.ID),
		"callTitle": runtime.String(meta.Title),
		"callUrl":   runtime.String(meta.URL),
		"scheduled": runtime.String(meta.Scheduled),
		"duration":  runtime.Float(meta.Duration),
		"demo":      runtime.Bool(j.deps.Demo),
	})

	accountID := call.AccountID(CRMSystem)
	log.Info(runtime.ContextWorkflow, "Extracted context", runtime.Fields{
		"sfdcAccountId": runtime.String(accountID),
	})

	markdown, err := j.transcript(ctx, log)
	if err != nil {
		return err
	}

	sb, err := j.stage(log, markdown)
	if err != nil {
		return err
	}
	defer func() {
		if err := sb.Close(); err != nil {
			j.logger.Warn("sandbox cleanup failed", "run_id", log.RunID(), "error", err)
		}
	}()

	out, err := j.analyse(ctx, log, sb)
	if err != nil {
		return err
	}

	log.Info(runtime.ContextWorkflow, "Agent completed", runtime.Fields{
		"tasksCount":      runtime.Int(int64(len(out.Tasks))),
		"objectionsCount": runtime.Int(int64(len(out.Objections))),
	})
	log.Info(runtime.ContextResult, out.Summary, resultFields(out))

	j.notify(ctx, log, out.Summary, meta.URL)
	return nil
}

func (j *GongSummary) transcript(ctx context.Context, log *runtime.Logger) (string, error) {
	callID := j.CallID()
	log.Info(runtime.ContextWorkflow, "Fetching transcript", runtime.Fields{"callId": runtime.String(callID)})

	resp, err := j.deps.Transcripts.FetchTranscript(ctx, callID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Error(runtime.ContextWorkflow, "Failed to fetch transcript: "+err.Error(), nil)
		log.Warn(runtime.ContextWorkflow, "No transcript available, ending workflow", nil)
		return "", ErrNoTranscript
	}

	markdown := gong.Markdown(resp, j.webhook.CallData)
	if markdown == gong.NoTranscript {
		log.Warn(runtime.ContextWorkflow, "No transcript available, ending workflow", nil)
		return "", ErrNoTranscript
	}
	log.Info(runtime.ContextWorkflow, "Transcript fetched", runtime.Fields{
		"callId": runtime.String(callID),
		"length": runtime.Int(int64(len(markdown))),
	})
	return markdown, nil
}

// stage creates the sandbox and writes the call files into it.
func (j *GongSummary) stage(log *runtime.Logger, markdown string) (*sandbox.Sandbox, error) {
	log.Info(runtime.ContextSandbox, "Creating sandbox...", nil)
	sb, err := sandbox.New(j.deps.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("workflow: create sandbox: %w", err)
	}
	log.Info(runtime.ContextSandbox, "Sandbox created", nil)

	log.Info(runtime.ContextSandbox, "Generating context files...", nil)
	files, err := j.files(markdown)
	if err != nil {
		_ = sb.Close()
		return nil, err
	}
	if err := sb.WriteFiles(files); err != nil {
		_ = sb.Close()
		return nil, fmt.Errorf("workflow: write sandbox files: %w", err)
	}

	paths := sb.Files()
	var list strings.Builder
	for _, p := range paths {
		list.WriteString("\n  → " + p)
	}
	log.Info(runtime.ContextSandbox, fmt.Sprintf("Files ready (%d files):%s", len(paths), list.String()), runtime.Fields{
		"files": runtime.Strings(paths),
	})
	return sb, nil
}

func (j *GongSummary) files(markdown string) (map[string]string, error) {
	call := j.webhook.CallData
	meta, err := metadataJSON(call)
	if err != nil {
		return nil, err
	}

	files := make(map[string]string, len(j.deps.ContextFiles)+2)
	files["gong-calls/"+gong.Filename(call.MetaData)] = markdown
	files["gong-calls/metadata.json"] = meta
	for _, f := range j.deps.ContextFiles {
		files[f.Path] = f.Content
	}
	return files, nil
}

func (j *GongSummary) analyse(ctx context.Context, log *runtime.Logger, sb *sandbox.Sandbox) (agent.Output, error) {
	call := j.webhook.CallData
	paths := sb.Files()

	log.Info(runtime.ContextAgent, "Building agent context and instructions", nil)
	log.Info(runtime.ContextAgent, "Call: "+orDefault(call.MetaData.Title, "Untitled"), nil)
	log.Info(runtime.ContextAgent, fmt.Sprintf("Participants: %d", len(call.Parties)), nil)

	instructions := agent.Instructions(agent.PromptInput{
		Meta:     call.MetaData,
		Parties:  call.Parties,
		FileTree: sandbox.FileTree(paths),
		Company:  j.deps.Company,
	})

	log.Info(runtime.ContextAgent, "Initializing bash tools...", nil)
	a, err := agent.New(agent.Config{
		Model:           j.deps.Model,
		Commands:        sb,
		AllowedCommands: sb.Commands(),
		MaxSteps:        j.deps.MaxSteps,
		MaxTokens:       j.deps.MaxTokens,
	})
	if err != nil {
		return agent.Output{}, err
	}
	log.Info(runtime.ContextAgent, "Agent ready", nil)

	return a.Run(ctx, log, instructions)
}

// notify posts the summary. Delivery problems are reported but never fail
// the run.
func (j *GongSummary) notify(ctx context.Context, log *runtime.Logger, summary, recordingURL string) {
	if j.deps.Notifier == nil || !j.deps.Notifier.Enabled() {
		log.Info(runtime.ContextSlack, "Slack not enabled, skipping notification", nil)
		return
	}

	log.Info(runtime.ContextSlack, "Sending Slack summary", nil)
	receipt, err := j.deps.Notifier.PostSummary(ctx, summary, recordingURL, notify.PostOptions{})
	if err != nil {
		j.logger.Warn("slack post failed", "run_id", log.RunID(), "error", err)
		log.Warn(runtime.ContextSlack, "Failed to send Slack summary: "+err.Error(), nil)
		return
	}
	log.Info(runtime.ContextSlack, "Slack summary sent successfully", runtime.Fields{
		"channel": runtime.String(receipt.Channel),
		"ts":      runtime.String(receipt.Timestamp),
	})
}

type participant struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	Title       string `json:"title,omitempty"`
}

type callMetadata struct {
	CallID       string        `json:"callId"`
	Title        string        `json:"title,omitempty"`
	Scheduled    string        `json:"scheduled,omitempty"`
	Duration     float64       `json:"duration,omitempty"`
	System       string        `json:"system,omitempty"`
	Participants []participant `json:"participants"`
}

func metadataJSON(call gong.CallData) (string, error) {
	meta := callMetadata{
		CallID:       call.MetaData.ID,
		Title:        call.MetaData.Title,
		Scheduled:    call.MetaData.Scheduled,
		Duration:     call.MetaData.Duration,
		System:       call.MetaData.System,
		Participants: make([]participant, 0, len(call.Parties)),
	}
	for _, p := range call.Parties {
		meta.Participants = append(meta.Participants, participant{
			Name:        p.Name,
			Email:       p.EmailAddress,
			Affiliation: p.Affiliation,
			Title:       p.Title,
		})
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("workflow: encode metadata: %w", err)
	}
	return string(b), nil
}

func resultFields(out agent.Output) runtime.Fields {
	objections := make([]runtime.Value, len(out.Objections))
	for i, o := range out.Objections {
		objections[i] = runtime.Map(runtime.Fields{
			"description":    runtime.String(o.Description),
			"handling_score": runtime.Int(int64(o.HandlingScore)),
		})
	}
	tasks := make([]runtime.Value, len(out.Tasks))
	for i, t := range out.Tasks {
		tasks[i] = runtime.Map(runtime.Fields{
			"description": runtime.String(t.Description),
			"owner":       runtime.String(t.Owner),
		})
	}
	return runtime.Fields{
		"objectionsCount": runtime.Int(int64(len(out.Objections))),
		"tasksCount":      runtime.Int(int64(len(out.Tasks))),
		"objections":      runtime.List(objections...),
		"tasks":           runtime.List(tasks...),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
