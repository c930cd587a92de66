// Package config loads callstream settings from an optional YAML file and
// the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "callstream.yaml"
	homeConfigName    = "config.yaml"
)

// Defaults.
const (
	DefaultGongBaseURL   = "https://api.gong.io"
	DefaultModel         = "claude-haiku-4-5"
	DefaultMaxTokens     = 4096
	DefaultStreamTimeout = 2 * time.Minute
	DefaultHistorySize   = 500
	DefaultHeartbeat     = 15 * time.Second
	DefaultJobTimeout    = 10 * time.Minute
)

// ErrConfig marks a configuration problem that prevents jobs from starting.
var ErrConfig = errors.New("configuration error")

// Config is the full runtime configuration.
type Config struct {
	CompanyName string `yaml:"company_name" env:"COMPANY_NAME"`

	// DemoMode forces demo (true) or live (false) mode. Unset means demo
	// mode whenever Gong credentials are missing.
	DemoMode *bool `yaml:"demo_mode" env:"DEMO_MODE"`

	JobTimeout time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`

	Gong      GongConfig      `yaml:"gong"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Slack     SlackConfig     `yaml:"slack"`
	Stream    StreamConfig    `yaml:"stream"`
}

// GongConfig holds transcript API credentials.
type GongConfig struct {
	BaseURL   string `yaml:"base_url" env:"GONG_BASE_URL"`
	AccessKey string `yaml:"access_key" env:"GONG_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"GONG_SECRET_KEY"`
}

// AnthropicConfig selects the model used by the agent.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	Model     string `yaml:"model" env:"AI_MODEL"`
	MaxTokens int    `yaml:"max_tokens" env:"AI_MAX_TOKENS"`
}

// SlackConfig enables summary notifications.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
	ChannelID string `yaml:"channel_id" env:"SLACK_CHANNEL_ID"`
}

// StreamConfig tunes the event bus and streaming sessions.
type StreamConfig struct {
	Timeout     time.Duration `yaml:"timeout" env:"STREAM_TIMEOUT"`
	HistorySize int           `yaml:"history_size" env:"STREAM_HISTORY_SIZE"`
	Heartbeat   time.Duration `yaml:"heartbeat" env:"STREAM_HEARTBEAT"`
}

// Load discovers the config file (see DiscoverPath), decodes it and applies
// the process environment on top. It returns the file used, if any.
func Load(explicitPath string) (Config, string, error) {
	path, found, err := DiscoverPath(explicitPath)
	if err != nil {
		return Config{}, "", err
	}
	if !found {
		path = ""
	}
	cfg, err := LoadFrom(path, env.ToMap(os.Environ()))
	if err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// LoadFrom is a testable variant of Load. An empty path skips the file.
func LoadFrom(path string, environ map[string]string) (Config, error) {
	var cfg Config
	if path != "" {
		// #nosec G304 -- path resolved from explicit local config discovery.
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// DiscoverPath resolves the config file with first-match semantics: an
// explicit path, then ./callstream.yaml, then ~/.callstream/config.yaml.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	var candidates []string
	if explicit != "" {
		candidates = []string{filepath.Clean(explicit)}
	} else {
		candidates = []string{
			filepath.Join(cwd, projectConfigName),
			filepath.Join(homeDir, ".callstream", homeConfigName),
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

func (c *Config) applyDefaults() {
	if c.CompanyName == "" {
		c.CompanyName = "Acme"
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.Gong.BaseURL == "" {
		c.Gong.BaseURL = DefaultGongBaseURL
	}
	c.Gong.BaseURL = strings.TrimRight(c.Gong.BaseURL, "/")
	// Gateway-style names ("anthropic/claude-haiku-4-5") are accepted.
	c.Anthropic.Model = strings.TrimPrefix(c.Anthropic.Model, "anthropic/")
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = DefaultModel
	}
	if c.Anthropic.MaxTokens <= 0 {
		c.Anthropic.MaxTokens = DefaultMaxTokens
	}
	if c.Stream.Timeout <= 0 {
		c.Stream.Timeout = DefaultStreamTimeout
	}
	if c.Stream.HistorySize <= 0 {
		c.Stream.HistorySize = DefaultHistorySize
	}
	if c.Stream.Heartbeat == 0 {
		c.Stream.Heartbeat = DefaultHeartbeat
	}
}

// GongConfigured reports whether live transcript fetching is possible.
func (c Config) GongConfigured() bool {
	return c.Gong.AccessKey != "" && c.Gong.SecretKey != ""
}

// AnthropicConfigured reports whether the hosted model can be used.
func (c Config) AnthropicConfigured() bool {
	return c.Anthropic.APIKey != ""
}

// SlackConfigured reports whether summaries are posted to Slack.
func (c Config) SlackConfigured() bool {
	return c.Slack.BotToken != "" && c.Slack.ChannelID != ""
}

// IsDemo reports whether jobs use the embedded demo call.
func (c Config) IsDemo() bool {
	if c.DemoMode != nil {
		return *c.DemoMode
	}
	return !c.GongConfigured()
}

// Missing lists the environment variables live mode still needs.
func (c Config) Missing() []string {
	var missing []string
	if c.Gong.AccessKey == "" {
		missing = append(missing, "GONG_ACCESS_KEY")
	}
	if c.Gong.SecretKey == "" {
		missing = append(missing, "GONG_SECRET_KEY")
	}
	return missing
}

// Validate checks that the selected mode can run. Failures wrap ErrConfig.
func (c Config) Validate() error {
	if c.Stream.Timeout <= 0 {
		return fmt.Errorf("%w: stream timeout must be positive", ErrConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrConfig)
	}
	if c.IsDemo() {
		return nil
	}
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: live mode requires %s", ErrConfig, strings.Join(missing, ", "))
	}
	if (c.Slack.BotToken == "") != (c.Slack.ChannelID == "") {
		return fmt.Errorf("%w: SLACK_BOT_TOKEN and SLACK_CHANNEL_ID must be set together", ErrConfig)
	}
	return nil
}

// Status describes the configuration for the status endpoint.
type Status struct {
	DemoMode     bool         `json:"demoMode"`
	Configured   bool         `json:"configured"`
	Missing      []string     `json:"missing"`
	Integrations Integrations `json:"integrations"`
}

// Integrations reports which external services are wired.
type Integrations struct {
	Gong      bool `json:"gong"`
	Anthropic bool `json:"anthropic"`
	Slack     bool `json:"slack"`
}

// Status summarizes c without exposing secrets.
func (c Config) Status() Status {
	missing := c.Missing()
	if missing == nil {
		missing = []string{}
	}
	return Status{
		DemoMode:   c.IsDemo(),
		Configured: c.Validate() == nil,
		Missing:    missing,
		Integrations: Integrations{
			Gong:      c.GongConfigured(),
			Anthropic: c.AnthropicConfigured(),
			Slack:     c.SlackConfigured(),
		},
	}
}
