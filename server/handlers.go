package server

import (
	"net/http"

	"github.com/petal-labs/callstream/config"
	callotel "github.com/petal-labs/callstream/otel"
	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/sse"
)

// Route labels attached to session metrics.
const (
	routeWebhook = "webhook"
	routeLogs    = "logs"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the GET /api/gong-webhook payload.
type statusResponse struct {
	State string `json:"status"`
	config.Status
	ActiveRuns []runtime.RunInfo `json:"activeRuns"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.cfg.Status()
	state := "ready"
	if !st.Configured {
		state = "misconfigured"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		State:      state,
		Status:     st,
		ActiveRuns: s.runner.Active(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metricsReader == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "metrics are not enabled")
		return
	}
	points, err := callotel.Snapshot(r.Context(), s.metricsReader)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "METRICS_ERROR", err.Error())
		return
	}
	if points == nil {
		points = []callotel.MetricPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": points})
}

// recordSession returns a session close hook that reports to metrics.
func (s *Server) recordSession(route string) func(sse.Result) {
	return func(res sse.Result) {
		if s.metrics != nil {
			s.metrics.RecordSession(route, res)
		}
	}
}
