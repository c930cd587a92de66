package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petal-labs/callstream/bus"
	"github.com/petal-labs/callstream/runtime"
)

func newSchedulerRunner(t *testing.T) *runtime.Runner {
	t.Helper()
	eb := bus.NewMemBus(bus.MemBusConfig{})
	t.Cleanup(func() { _ = eb.Close() })
	runner, err := runtime.NewRunner(runtime.RunnerConfig{Publisher: eb})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner
}

func TestNewDemoScheduler_Validation(t *testing.T) {
	runner := newSchedulerRunner(t)
	newJob := func() (runtime.Job, error) { return runtime.JobFunc{}, nil }

	tests := []struct {
		name string
		cfg  DemoSchedulerConfig
	}{
		{name: "no runner", cfg: DemoSchedulerConfig{Schedule: "* * * * *", NewJob: newJob}},
		{name: "no job", cfg: DemoSchedulerConfig{Schedule: "* * * * *", Runner: runner}},
		{name: "bad schedule", cfg: DemoSchedulerConfig{Schedule: "every minute", Runner: runner, NewJob: newJob}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDemoScheduler(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDemoScheduler_Next(t *testing.T) {
	s, err := NewDemoScheduler(DemoSchedulerConfig{
		Schedule: "0 */6 * * *",
		Runner:   newSchedulerRunner(t),
		NewJob:   func() (runtime.Job, error) { return runtime.JobFunc{}, nil },
	})
	if err != nil {
		t.Fatalf("NewDemoScheduler: %v", err)
	}
	got := s.Next(time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC))
	if want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got, want)
	}
}

func TestDemoScheduler_RunOnceSkipsOverlap(t *testing.T) {
	runner := newSchedulerRunner(t)
	release := make(chan struct{})
	s, err := NewDemoScheduler(DemoSchedulerConfig{
		Schedule: "* * * * *",
		Runner:   runner,
		NewJob: func() (runtime.Job, error) {
			return runtime.JobFunc{JobName: "demo", Fn: func(ctx context.Context, _ *runtime.Logger) error {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return nil
			}}, nil
		},
	})
	if err != nil {
		t.Fatalf("NewDemoScheduler: %v", err)
	}

	first, err := s.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, err := s.RunOnce(); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second RunOnce err = %v, want ErrRunInProgress", err)
	}

	close(release)
	done, _ := runner.Wait(first)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	second, err := s.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce after finish: %v", err)
	}
	if second == first {
		t.Fatal("expected a new run ID")
	}
}

func TestDemoScheduler_JobFactoryError(t *testing.T) {
	s, err := NewDemoScheduler(DemoSchedulerConfig{
		Schedule: "* * * * *",
		Runner:   newSchedulerRunner(t),
		NewJob:   func() (runtime.Job, error) { return nil, errors.New("demo data missing") },
	})
	if err != nil {
		t.Fatalf("NewDemoScheduler: %v", err)
	}
	if _, err := s.RunOnce(); err == nil {
		t.Fatal("expected error")
	}
}

func TestDemoScheduler_StartStop(t *testing.T) {
	s, err := NewDemoScheduler(DemoSchedulerConfig{
		Schedule: "0 0 1 1 *",
		Runner:   newSchedulerRunner(t),
		NewJob:   func() (runtime.Job, error) { return runtime.JobFunc{}, nil },
	})
	if err != nil {
		t.Fatalf("NewDemoScheduler: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
