package workflow

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/petal-labs/callstream/agent"
	"github.com/petal-labs/callstream/config"
	"github.com/petal-labs/callstream/gong"
	"github.com/petal-labs/callstream/notify"
	"github.com/petal-labs/callstream/sandbox"
)

// FactoryOptions override the collaborators a Factory derives from config.
type FactoryOptions struct {
	Transcripts TranscriptSource
	Model       agent.Model
	Notifier    notify.Notifier

	// SandboxDir is where per-run workspaces are created.
	SandboxDir string

	// HTTPClient is used for Gong, Anthropic and Slack calls.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Factory builds gong-summary jobs for the configured mode.
type Factory struct {
	demo         bool
	company      string
	maxTokens    int
	transcripts  TranscriptSource
	model        agent.Model
	notifier     notify.Notifier
	contextFiles []gong.ContextFile
	sandbox      sandbox.Config
	logger       *slog.Logger
}

// NewFactory wires jobs from cfg. In demo mode the embedded call, transcript
// and context files are used; the model is Anthropic when an API key is set
// and the offline scripted model otherwise.
func NewFactory(cfg config.Config, opts FactoryOptions) (*Factory, error) {
	f := &Factory{
		demo:        cfg.IsDemo(),
		company:     cfg.CompanyName,
		maxTokens:   cfg.Anthropic.MaxTokens,
		transcripts: opts.Transcripts,
		model:       opts.Model,
		notifier:    opts.Notifier,
		sandbox:     sandbox.Config{BaseDir: opts.SandboxDir},
		logger:      opts.Logger,
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}

	if f.transcripts == nil {
		if f.demo {
			f.transcripts = DemoTranscripts{}
		} else {
			f.transcripts = gong.NewClient(gong.ClientConfig{
				BaseURL:    cfg.Gong.BaseURL,
				AccessKey:  cfg.Gong.AccessKey,
				SecretKey:  cfg.Gong.SecretKey,
				HTTPClient: opts.HTTPClient,
			})
		}
	}

	if f.model == nil {
		if cfg.AnthropicConfigured() {
			m, err := agent.NewAnthropicModel(agent.AnthropicConfig{
				APIKey:     cfg.Anthropic.APIKey,
				Model:      cfg.Anthropic.Model,
				HTTPClient: opts.HTTPClient,
			})
			if err != nil {
				return nil, fmt.Errorf("workflow: %w", err)
			}
			f.model = m
		} else {
			f.model = agent.NewScriptedModel()
		}
	}

	if f.notifier == nil {
		f.notifier = notify.NewSlack(notify.SlackConfig{
			BotToken:   cfg.Slack.BotToken,
			ChannelID:  cfg.Slack.ChannelID,
			HTTPClient: opts.HTTPClient,
		})
	}

	if f.demo {
		files, err := gong.DemoContextFiles()
		if err != nil {
			return nil, fmt.Errorf("workflow: %w", err)
		}
		f.contextFiles = files
	}
	return f, nil
}

// Demo reports whether jobs run against the embedded demo call.
func (f *Factory) Demo() bool {
	return f.demo
}

// ModelName names the model jobs will use.
func (f *Factory) ModelName() string {
	return f.model.Name()
}

// FromWebhook builds a job from a webhook body. In demo mode the body is
// ignored and the demo call is used.
func (f *Factory) FromWebhook(body io.Reader) (*GongSummary, error) {
	if f.demo {
		return f.DemoJob()
	}
	w, err := gong.ParseWebhook(body)
	if err != nil {
		return nil, err
	}
	return f.Job(w), nil
}

// DemoJob builds a job for the embedded demo call.
func (f *Factory) DemoJob() (*GongSummary, error) {
	w, err := gong.DemoWebhook()
	if err != nil {
		return nil, fmt.Errorf("workflow: load demo webhook: %w", err)
	}
	return f.Job(w), nil
}

// Job builds a job for an already parsed webhook.
func (f *Factory) Job(w gong.Webhook) *GongSummary {
	return NewGongSummary(w, Deps{
		Transcripts:  f.transcripts,
		Model:        f.model,
		Notifier:     f.notifier,
		Sandbox:      f.sandbox,
		ContextFiles: f.contextFiles,
		Company:      f.company,
		MaxTokens:    f.maxTokens,
		Demo:         f.demo,
		Logger:       f.logger,
	})
}
