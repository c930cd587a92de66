package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/callstream/runtime"
)

// ErrRunInProgress is returned by RunOnce while the previous scheduled run
// has not finished.
var ErrRunInProgress = errors.New("scheduled run still active")

// DemoSchedulerConfig configures the cron-driven demo trigger.
type DemoSchedulerConfig struct {
	// Schedule is a 5-field UTC cron expression.
	Schedule string
	Runner   *runtime.Runner
	NewJob   func() (runtime.Job, error)
	Logger   *slog.Logger
}

// DemoScheduler starts the demo job on a cron schedule so the log feed has
// something to show without an external webhook. Overlapping runs are
// skipped.
type DemoScheduler struct {
	schedule cron.Schedule
	runner   *runtime.Runner
	newJob   func() (runtime.Job, error)
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	lastRun string
}

// NewDemoScheduler creates a demo scheduler instance.
func NewDemoScheduler(cfg DemoSchedulerConfig) (*DemoScheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("demo scheduler runner is nil")
	}
	if cfg.NewJob == nil {
		return nil, errors.New("demo scheduler job factory is nil")
	}
	schedule, err := parseCronExpressionUTC(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DemoScheduler{
		schedule: schedule,
		runner:   cfg.Runner,
		newJob:   cfg.NewJob,
		logger:   cfg.Logger,
	}, nil
}

// Next returns the first trigger time after now.
func (s *DemoScheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.UTC())
}

// Start begins triggering on the schedule. Calling Start twice is a no-op.
func (s *DemoScheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.logger.Error("scheduled demo run failed to start", "error", err)
		}
	}))
	c.Start()
	s.cron = c
	return nil
}

// Stop stops the schedule and waits for an in-flight trigger to return.
// Runs already started keep going on the Runner.
func (s *DemoScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce starts one demo run and returns its ID. It refuses to start
// while the previous scheduled run is still active.
func (s *DemoScheduler) RunOnce() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun != "" {
		if _, active := s.runner.Get(s.lastRun); active {
			s.logger.Info("skipping scheduled demo run", "active_run_id", s.lastRun)
			return "", ErrRunInProgress
		}
	}

	job, err := s.newJob()
	if err != nil {
		return "", fmt.Errorf("build demo job: %w", err)
	}
	run, err := s.runner.Start(job)
	if err != nil {
		return "", err
	}
	s.lastRun = run.ID
	s.logger.Info("scheduled demo run started", "run_id", run.ID)
	return run.ID, nil
}
