package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/petal-labs/callstream/config"
	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/sse"
)

// webhookResponse is the non-streaming POST /api/gong-webhook payload.
type webhookResponse struct {
	Message string `json:"message"`
	CallID  string `json:"callId,omitempty"`
	RunID   string `json:"runId"`
}

// callJob is implemented by jobs bound to one Gong call.
type callJob interface {
	CallID() string
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Validate(); err != nil {
		s.logger.Warn("webhook rejected", "error", err)
		writeError(w, http.StatusServiceUnavailable, "CONFIG_ERROR", err.Error(), s.cfg.Missing()...)
		return
	}
	if s.triggerLimit != nil && !s.triggerLimit.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many workflow triggers, try again later")
		return
	}

	job, err := s.newJob(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	if wantsStream(r) {
		s.streamJob(w, r, job)
		return
	}

	run, err := s.runner.Start(job)
	if err != nil {
		writeStartError(w, err)
		return
	}
	s.logger.Info("workflow triggered", "run_id", run.ID, "job", run.Job)

	resp := webhookResponse{Message: "Workflow triggered", RunID: run.ID}
	if cj, ok := job.(callJob); ok {
		resp.CallID = cj.CallID()
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamJob starts job from inside a streaming session so the session is
// subscribed before the first event. A start failure is reported on the
// stream itself.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request, job runtime.Job) {
	heartbeat := s.cfg.Stream.Heartbeat
	if heartbeat < 0 {
		heartbeat = 0
	}

	result, err := sse.Stream(w, r, sse.SessionConfig{
		Bus:       s.bus,
		Formatter: sse.Formatter{Location: s.location},
		Detector:  s.detector,
		Timeout:   s.cfg.Stream.Timeout,
		Heartbeat: heartbeat,
		Logger:    s.logger,
		Start: func(context.Context) (string, error) {
			run, err := s.runner.Start(job)
			if err != nil {
				return "", err
			}
			return run.ID, nil
		},
		OnClose: s.recordSession(routeWebhook),
	})
	if err != nil {
		s.logger.Error("webhook stream unavailable", "error", err)
		writeError(w, http.StatusInternalServerError, "STREAM_ERROR", err.Error())
		return
	}
	s.logger.Info("webhook stream closed",
		"run_id", result.RunID,
		"reason", string(result.Reason),
		"delivered", result.Delivered,
	)
}

func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runtime.ErrRunnerClosed):
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	case errors.Is(err, config.ErrConfig):
		writeError(w, http.StatusServiceUnavailable, "CONFIG_ERROR", err.Error())
	default:
		writeError(w, http.StatusUnprocessableEntity, "INVALID_JOB", err.Error())
	}
}

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
