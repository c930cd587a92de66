package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultJobTimeout bounds a single run when RunnerConfig.Timeout is unset.
const DefaultJobTimeout = 10 * time.Minute

// ErrRunnerClosed is returned by Start after Close has been called.
var ErrRunnerClosed = errors.New("runtime: runner closed")

// Job is one unit of background work. Run reports progress through log and
// returns nil on success. The Runner publishes the terminal event, so jobs
// should not emit "Workflow complete" themselves.
type Job interface {
	Name() string
	Run(ctx context.Context, log *Logger) error
}

// Validator is implemented by jobs that can reject their input before the
// run starts. A validation error is returned synchronously from Start.
type Validator interface {
	Validate() error
}

// JobFunc adapts a function into a Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context, log *Logger) error
}

func (j JobFunc) Name() string { return j.JobName }

func (j JobFunc) Run(ctx context.Context, log *Logger) error {
	return j.Fn(ctx, log)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Publisher receives every event the job emits (normally the bus).
	Publisher EventPublisher

	// Timeout bounds each run (default DefaultJobTimeout).
	Timeout time.Duration

	// EmitDecorator wraps the per-run emitter (tracing, metadata...).
	EmitDecorator EventEmitterDecorator

	// NewID generates run IDs (default uuid.NewString).
	NewID func() string

	Logger *slog.Logger
}

// Runner executes jobs in the background, detached from the request that
// started them.
type Runner struct {
	publisher EventPublisher
	timeout   time.Duration
	decorator EventEmitterDecorator
	newID     func() string
	logger    *slog.Logger

	mu     sync.RWMutex
	runs   map[string]*Run
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("runtime: runner publisher is nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJobTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		publisher: cfg.Publisher,
		timeout:   cfg.Timeout,
		decorator: cfg.EmitDecorator,
		newID:     cfg.NewID,
		logger:    cfg.Logger,
		runs:      make(map[string]*Run),
	}, nil
}

// Run tracks one started job.
type Run struct {
	ID        string
	Job       string
	StartedAt time.Time

	done chan struct{}
	err  error
}

// Done is closed when the run finishes.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the run's error once Done is closed.
func (r *Run) Err() error {
	<-r.done
	return r.err
}

// RunInfo is a point-in-time description of an active run.
type RunInfo struct {
	ID        string    `json:"id"`
	Job       string    `json:"job"`
	StartedAt time.Time `json:"started_at"`
}

// Start validates job and launches it in its own goroutine. Validation
// failures are returned synchronously and nothing is published.
func (r *Runner) Start(job Job) (*Run, error) {
	if job == nil {
		return nil, errors.New("runtime: job is nil")
	}
	if v, ok := job.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("runtime: invalid %s job: %w", job.Name(), err)
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRunnerClosed
	}
	run := &Run{
		ID:        r.newID(),
		Job:       job.Name(),
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	r.runs[run.ID] = run
	r.wg.Add(1)
	r.mu.Unlock()

	go r.execute(run, job)
	return run, nil
}

func (r *Runner) execute(run *Run, job Job) {
	defer r.wg.Done()

	emit := EventEmitter(func(e LogEvent) { r.publisher.Publish(e) })
	if r.decorator != nil {
		emit = r.decorator(emit)
	}
	log := NewLogger(emit, run.ID)

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ctx = ContextWithLogger(ctx, log)

	r.logger.Info("job started", "run_id", run.ID, "job", run.Job)

	err := r.invoke(ctx, job, log)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("job exceeded %s: %w", r.timeout, err)
	}

	elapsed := time.Since(run.StartedAt)
	if err != nil {
		r.logger.Warn("job failed", "run_id", run.ID, "job", run.Job, "error", err)
		log.Emit(NewLogEvent(LevelError, ContextWorkflow, MessageWorkflowFailed+": "+err.Error()).
			WithOutcome(OutcomeFailure).
			WithField("elapsed_ms", Int(elapsed.Milliseconds())))
	} else {
		r.logger.Info("job finished", "run_id", run.ID, "job", run.Job, "elapsed", elapsed)
		log.Emit(NewLogEvent(LevelInfo, ContextWorkflow, MessageWorkflowComplete).
			WithOutcome(OutcomeSuccess).
			WithField("elapsed_ms", Int(elapsed.Milliseconds())))
	}

	r.mu.Lock()
	delete(r.runs, run.ID)
	r.mu.Unlock()

	run.err = err
	close(run.done)
}

// invoke runs the job, converting a panic into an error.
func (r *Runner) invoke(ctx context.Context, job Job, log *Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked", "run_id", log.RunID(), "panic", p)
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return job.Run(ctx, log)
}

// Get returns an active run by ID.
func (r *Runner) Get(runID string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	return run, ok
}

// Wait returns a channel closed when the run finishes. Unknown or already
// finished runs yield a closed channel and false.
func (r *Runner) Wait(runID string) (<-chan struct{}, bool) {
	if run, ok := r.Get(runID); ok {
		return run.Done(), true
	}
	closed := make(chan struct{})
	close(closed)
	return closed, false
}

// Active lists the runs that have not finished, oldest first.
func (r *Runner) Active() []RunInfo {
	r.mu.RLock()
	out := make([]RunInfo, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, RunInfo{ID: run.ID, Job: run.Job, StartedAt: run.StartedAt})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Close stops accepting new jobs and waits for running ones until ctx ends.
// Running jobs are never cancelled by Close.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
