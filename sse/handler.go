// Package sse streams bus events to HTTP clients as Server-Sent Events.
// It provides the frame encoding, the terminal-event detector and the
// Session state machine that governs one client's feed from subscribe to
// the final sentinel.
package sse

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/petal-labs/callstream/bus"
)

// HeartbeatInterval is the default interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// Stream sends streaming headers on w and runs a session until it closes.
// The writer is created here; the formatter mode follows the request unless
// cfg already sets one. It fails only when w cannot stream.
func Stream(w http.ResponseWriter, r *http.Request, cfg SessionConfig) (Result, error) {
	if cfg.Bus == nil {
		return Result{}, errors.New("sse: session requires a bus")
	}
	fw, err := NewFrameWriter(w)
	if err != nil {
		return Result{}, err
	}
	cfg.Writer = fw
	if cfg.Formatter.Mode == "" {
		cfg.Formatter.Mode = ModeFromRequest(r)
	}

	session, err := NewSession(cfg)
	if err != nil {
		return Result{}, err
	}
	return session.Run(r.Context()), nil
}

// HistoryConfig configures a HistoryHandler.
type HistoryConfig struct {
	Bus bus.EventBus

	// Timeout is the per-client session budget (default: DefaultTimeout).
	Timeout time.Duration

	// Heartbeat is the keep-alive interval (default: HeartbeatInterval).
	// Negative disables heartbeats.
	Heartbeat time.Duration

	// Location is the zone for text-mode timestamps.
	Location *time.Location
	Detector *Detector
	Logger   *slog.Logger

	// OnSession receives every finished session's result.
	OnSession func(Result)
}

// HistoryHandler serves the shared log feed: it replays the bus history,
// then streams live events from whatever job is running. It never starts a
// job.
type HistoryHandler struct {
	cfg    HistoryConfig
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(cfg HistoryConfig) *HistoryHandler {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = HeartbeatInterval
	}
	if cfg.Heartbeat < 0 {
		cfg.Heartbeat = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{cfg: cfg, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := Stream(w, r, SessionConfig{
		Bus:       h.cfg.Bus,
		Formatter: Formatter{Mode: ModeFromRequest(r), Location: h.cfg.Location},
		Detector:  h.cfg.Detector,
		Timeout:   h.cfg.Timeout,
		Replay:    true,
		Heartbeat: h.cfg.Heartbeat,
		Logger:    h.logger,
		OnClose:   h.cfg.OnSession,
	})
	if err != nil {
		h.logger.Error("log feed unavailable", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Debug("log feed closed", "reason", string(result.Reason), "replayed", result.Replayed)
}
