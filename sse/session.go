package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petal-labs/callstream/bus"
	"github.com/petal-labs/callstream/runtime"
)

// DefaultTimeout bounds how long a session watches a job.
const DefaultTimeout = 2 * time.Minute

// MessageUnrecoverable prefixes the synthetic event published when a job
// cannot be started.
const MessageUnrecoverable = "Unrecoverable error"

// State is the lifecycle position of a Session.
type State int32

const (
	StateActive State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Reason records what moved a session out of the active state.
type Reason string

const (
	ReasonCompleted     Reason = "completed"
	ReasonFailed        Reason = "failed"
	ReasonTimeout       Reason = "timeout"
	ReasonProducerError Reason = "producer_error"
	ReasonDisconnect    Reason = "disconnect"
)

// Sentinel returns the end-of-stream marker written for this reason.
func (r Reason) Sentinel() Sentinel {
	if r == ReasonTimeout {
		return SentinelTimeout
	}
	return SentinelDone
}

// StartFunc starts the job a session reports on. It runs after the session
// has subscribed, so no event the job publishes can be missed. A non-empty
// run ID restricts the session to that run's events.
type StartFunc func(ctx context.Context) (runID string, err error)

// SessionConfig configures a Session.
type SessionConfig struct {
	Bus       bus.EventBus
	Writer    Writer
	Formatter Formatter

	// Detector recognizes terminal events (default: DefaultDetector()).
	Detector *Detector

	// Timeout is the session budget (default: DefaultTimeout).
	Timeout time.Duration

	// Replay writes the bus history before live events.
	Replay bool

	// Filter drops events the client should not see. Nil accepts all.
	Filter func(runtime.LogEvent) bool

	Start StartFunc

	// Heartbeat is the keep-alive comment interval. Zero disables it.
	Heartbeat time.Duration

	Logger *slog.Logger

	// OnClose is called once with the final result.
	OnClose func(Result)
}

// Result summarizes a finished session.
type Result struct {
	Reason    Reason
	RunID     string
	Delivered int
	Replayed  int
	Duration  time.Duration
	// Err is the producer or transport error that ended the session, if any.
	Err error
}

// Session bridges the bus to one client. It moves from active to draining
// on the first terminal trigger and from draining to closed once the
// sentinel is written and its subscription, timer and writer are released.
type Session struct {
	cfg     SessionConfig
	logger  *slog.Logger
	mailbox *mailbox

	state   atomic.Int32
	drainCh chan struct{}

	mu     sync.Mutex
	reason Reason
	err    error

	runID     string
	scoped    bool // only events tagged with runID are forwarded
	lastSeq   uint64
	delivered int
	replayed  int
}

// NewSession validates cfg and returns an active session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Bus == nil {
		return nil, errors.New("sse: session requires a bus")
	}
	if cfg.Writer == nil {
		return nil, errors.New("sse: session requires a writer")
	}
	if cfg.Detector == nil {
		cfg.Detector = DefaultDetector()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger,
		mailbox: newMailbox(),
		drainCh: make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// drain moves the session to draining. Only the first caller wins; later
// triggers are ignored and return false.
func (s *Session) drain(reason Reason, err error) bool {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
		return false
	}
	s.mu.Lock()
	s.reason = reason
	s.err = err
	s.mu.Unlock()
	close(s.drainCh)
	return true
}

// Run drives the session until it closes. Cancelling ctx is treated as a
// client disconnect. Run must be called at most once.
func (s *Session) Run(ctx context.Context) Result {
	started := time.Now()

	sub := s.cfg.Bus.Subscribe(s.mailbox.push)
	timer := time.AfterFunc(s.cfg.Timeout, func() {
		s.drain(ReasonTimeout, nil)
	})
	stopCtx := context.AfterFunc(ctx, func() {
		s.drain(ReasonDisconnect, ctx.Err())
	})

	if s.cfg.Replay {
		s.replay()
	}
	if s.cfg.Start != nil && s.State() == StateActive {
		s.start(ctx)
	}
	s.loop()

	reason, err := s.finalReason()
	if reason == ReasonProducerError || reason == ReasonTimeout {
		s.flush()
	}
	if werr := s.cfg.Writer.WriteFrame(Frame{Data: reason.Sentinel().Payload()}); werr != nil && reason != ReasonDisconnect {
		s.logger.Debug("sse: write sentinel", "error", werr)
	}

	sub.Close()
	timer.Stop()
	stopCtx()
	_ = s.cfg.Writer.Close()
	s.state.Store(int32(StateClosed))

	result := Result{
		Reason:    reason,
		RunID:     s.runID,
		Delivered: s.delivered,
		Replayed:  s.replayed,
		Duration:  time.Since(started),
		Err:       err,
	}
	s.logger.Debug("sse: session closed",
		"reason", string(result.Reason),
		"run_id", result.RunID,
		"delivered", result.Delivered,
		"replayed", result.Replayed,
		"duration", result.Duration,
	)
	if s.cfg.OnClose != nil {
		s.cfg.OnClose(result)
	}
	return result
}

func (s *Session) finalReason() (Reason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.err
}

// replay writes the history window. Replayed events are context only; they
// never end the session.
func (s *Session) replay() {
	for _, e := range s.cfg.Bus.Snapshot() {
		if s.State() != StateActive {
			return
		}
		s.lastSeq = e.Seq
		if !s.accept(e) {
			continue
		}
		if err := s.write(e); err != nil {
			s.drain(ReasonDisconnect, err)
			return
		}
		s.replayed++
	}
}

func (s *Session) start(ctx context.Context) {
	runID, err := s.cfg.Start(ctx)
	if err == nil {
		s.runID = runID
		s.scoped = runID != ""
		return
	}
	// The failure belongs to this client only, so it is written here and
	// never published where other sessions would see it.
	s.scoped = true
	s.logger.Warn("sse: job failed to start", "error", err)
	e := runtime.NewLogEvent(runtime.LevelError, runtime.ContextWorkflow,
		fmt.Sprintf("%s: %v", MessageUnrecoverable, err))
	if werr := s.write(e); werr != nil {
		s.drain(ReasonDisconnect, werr)
		return
	}
	s.delivered++
	s.drain(ReasonProducerError, err)
}

func (s *Session) loop() {
	var heartbeat <-chan time.Time
	if s.cfg.Heartbeat > 0 {
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-s.drainCh:
			return

		case <-s.mailbox.ready():
			s.deliverPending(true)

		case <-heartbeat:
			if err := s.cfg.Writer.WriteComment("ping"); err != nil {
				s.drain(ReasonDisconnect, err)
			}
		}
	}
}

// flush writes whatever is still queued after draining began.
func (s *Session) flush() {
	s.deliverPending(false)
}

func (s *Session) deliverPending(live bool) {
	pending := s.mailbox.take()
	for i, e := range pending {
		if live && s.State() != StateActive {
			s.mailbox.requeue(pending[i:])
			return
		}
		if e.Seq <= s.lastSeq {
			continue
		}
		s.lastSeq = e.Seq
		if !s.accept(e) {
			continue
		}
		if err := s.write(e); err != nil {
			s.drain(ReasonDisconnect, err)
			return
		}
		s.delivered++

		if !live {
			continue
		}
		switch s.cfg.Detector.Detect(e) {
		case runtime.OutcomeSuccess:
			s.drain(ReasonCompleted, nil)
		case runtime.OutcomeFailure:
			s.drain(ReasonFailed, nil)
		}
	}
}

func (s *Session) accept(e runtime.LogEvent) bool {
	if s.scoped && e.RunID != s.runID {
		return false
	}
	return s.cfg.Filter == nil || s.cfg.Filter(e)
}

func (s *Session) write(e runtime.LogEvent) error {
	frame, err := s.cfg.Formatter.Frame(e)
	if err != nil {
		s.logger.Warn("sse: dropping unencodable event", "seq", e.Seq, "error", err)
		return nil
	}
	return s.cfg.Writer.WriteFrame(frame)
}
