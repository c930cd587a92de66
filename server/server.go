// Package server exposes the callstream HTTP API: the Gong webhook that
// starts (and optionally streams) a summary job, the shared log feed, the
// status and health probes, and the demo trigger schedule.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/time/rate"

	"github.com/petal-labs/callstream/bus"
	"github.com/petal-labs/callstream/config"
	callotel "github.com/petal-labs/callstream/otel"
	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/sse"
)

// JobFactory builds a job from a webhook request body.
type JobFactory func(body io.Reader) (runtime.Job, error)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Config config.Config
	Bus    bus.EventBus
	Runner *runtime.Runner
	NewJob JobFactory

	// Detector recognizes terminal events (default: sse.DefaultDetector()).
	Detector *sse.Detector

	// Metrics records finished streaming sessions. Optional.
	Metrics *callotel.MetricsHandler

	// MetricsReader backs GET /api/metrics. Optional.
	MetricsReader *sdkmetric.ManualReader

	// Location is the zone for text-mode timestamps.
	Location *time.Location

	// TriggerLimit throttles webhook job starts. Nil disables throttling.
	TriggerLimit *rate.Limiter

	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the callstream HTTP API server.
type Server struct {
	cfg           config.Config
	bus           bus.EventBus
	runner        *runtime.Runner
	newJob        JobFactory
	detector      *sse.Detector
	metrics       *callotel.MetricsHandler
	metricsReader *sdkmetric.ManualReader
	location      *time.Location
	triggerLimit  *rate.Limiter
	corsOrigin    string
	maxBody       int64
	logger        *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Bus == nil {
		return nil, errors.New("server: bus is nil")
	}
	if cfg.Runner == nil {
		return nil, errors.New("server: runner is nil")
	}
	if cfg.NewJob == nil {
		return nil, errors.New("server: job factory is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	detector := cfg.Detector
	if detector == nil {
		detector = sse.DefaultDetector()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		cfg:           cfg.Config,
		bus:           cfg.Bus,
		runner:        cfg.Runner,
		newJob:        cfg.NewJob,
		detector:      detector,
		metrics:       cfg.Metrics,
		metricsReader: cfg.MetricsReader,
		location:      cfg.Location,
		triggerLimit:  cfg.TriggerLimit,
		corsOrigin:    corsOrigin,
		maxBody:       maxBody,
		logger:        logger,
	}, nil
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/gong-webhook", s.handleWebhook)
	mux.HandleFunc("GET /api/gong-webhook", s.handleStatus)
	mux.Handle("GET /api/logs", sse.NewHistoryHandler(sse.HistoryConfig{
		Bus:       s.bus,
		Timeout:   s.cfg.Stream.Timeout,
		Heartbeat: s.cfg.Stream.Heartbeat,
		Location:  s.location,
		Detector:  s.detector,
		Logger:    s.logger,
		OnSession: s.recordSession(routeLogs),
	}))
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}

func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
