package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/petal-labs/callstream/bus"
	"github.com/petal-labs/callstream/config"
	callotel "github.com/petal-labs/callstream/otel"
	"github.com/petal-labs/callstream/runtime"
	"github.com/petal-labs/callstream/server"
	"github.com/petal-labs/callstream/workflow"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and log streaming HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("config", "", "Path to callstream.yaml (default: ./callstream.yaml, then ~/.callstream/config.yaml)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (0 or longer than the stream timeout)")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Bool("demo", false, "Force demo mode (embedded call data)")
	cmd.Flags().String("demo-schedule", "", "Cron expression (UTC, 5 fields) that triggers the demo job")
	cmd.Flags().Duration("stream-timeout", 0, "Streaming session budget (overrides config)")
	cmd.Flags().Int("trigger-rate", 0, "Max webhook triggers per minute (0 = unlimited)")
	cmd.Flags().String("sandbox-dir", "", "Directory for per-run sandboxes (default: system temp)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace collector endpoint")
	cmd.Flags().Bool("otlp-insecure", false, "Use plain HTTP for the OTLP exporter")
	cmd.Flags().String("log-format", "text", "Log format: text | json")

	return cmd
}

// serveStack holds everything runServe wires together.
type serveStack struct {
	cfg       config.Config
	telemetry *callotel.Providers
	bus       *bus.MemBus
	runner    *runtime.Runner
	factory   *workflow.Factory
	server    *server.Server
	scheduler *server.DemoScheduler
	logger    *slog.Logger
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildServeStack(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := st.close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	if writeTimeout > 0 && writeTimeout <= st.cfg.Stream.Timeout {
		return exitError(exitValidation, "--write-timeout (%s) must be 0 or longer than the stream timeout (%s)", writeTimeout, st.cfg.Stream.Timeout)
	}

	// Request contexts end when shutdown begins, so open streams drain and
	// send their sentinel instead of holding Shutdown open.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      st.server.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "callstream listening on %s (%s)\n", addr, st.describe())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return exitError(exitRuntime, "server error: %v", err)
	}
	return nil
}

// buildServeStack loads configuration and wires telemetry, the bus, the job
// runner, the job factory and the HTTP server.
func buildServeStack(ctx context.Context, cmd *cobra.Command, logger *slog.Logger) (*serveStack, error) {
	explicitConfigPath, _ := cmd.Flags().GetString("config")
	cfg, configPath, err := config.Load(explicitConfigPath)
	if err != nil {
		return nil, exitError(exitConfig, "loading config: %v", err)
	}
	if configPath != "" {
		logger.Info("loaded config", "path", configPath)
	}
	if err := applyServeOverrides(cmd, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("webhook triggers will be rejected until configuration is fixed", "error", err)
	}

	st := &serveStack{cfg: cfg, logger: logger}

	endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	insecure, _ := cmd.Flags().GetBool("otlp-insecure")
	st.telemetry, err = callotel.Setup(ctx, callotel.SetupConfig{
		ServiceName: "callstream",
		Version:     Version,
		Endpoint:    endpoint,
		Insecure:    insecure,
	})
	if err != nil {
		return nil, exitError(exitConfig, "initializing telemetry: %v", err)
	}
	otelapi.SetTracerProvider(st.telemetry.TracerProvider)
	otelapi.SetMeterProvider(st.telemetry.MeterProvider)

	metrics, err := callotel.NewMetricsHandler(st.telemetry.Meter())
	if err != nil {
		_ = st.close(context.Background())
		return nil, exitError(exitRuntime, "initializing metrics: %v", err)
	}
	tracing := callotel.NewTracingHandler(st.telemetry.Tracer())

	st.bus = bus.NewMemBus(bus.MemBusConfig{HistorySize: cfg.Stream.HistorySize, Logger: logger})
	st.bus.Subscribe(metrics.Handle)

	st.runner, err = runtime.NewRunner(runtime.RunnerConfig{
		Publisher:     st.bus,
		Timeout:       cfg.JobTimeout,
		EmitDecorator: tracing.Decorator(),
		Logger:        logger,
	})
	if err != nil {
		_ = st.close(context.Background())
		return nil, exitError(exitRuntime, "creating job runner: %v", err)
	}

	sandboxDir, _ := cmd.Flags().GetString("sandbox-dir")
	st.factory, err = workflow.NewFactory(cfg, workflow.FactoryOptions{SandboxDir: sandboxDir, Logger: logger})
	if err != nil {
		_ = st.close(context.Background())
		return nil, exitError(exitConfig, "creating workflow factory: %v", err)
	}

	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	triggerRate, _ := cmd.Flags().GetInt("trigger-rate")
	var limiter *rate.Limiter
	if triggerRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(triggerRate)/60), triggerRate)
	}

	st.server, err = server.NewServer(server.ServerConfig{
		Config:        cfg,
		Bus:           st.bus,
		Runner:        st.runner,
		NewJob:        st.webhookJob,
		Metrics:       metrics,
		MetricsReader: st.telemetry.Reader,
		TriggerLimit:  limiter,
		CORSOrigin:    corsOrigin,
		MaxBody:       maxBody,
		Logger:        logger,
	})
	if err != nil {
		_ = st.close(context.Background())
		return nil, exitError(exitRuntime, "creating server: %v", err)
	}

	schedule, _ := cmd.Flags().GetString("demo-schedule")
	if schedule != "" {
		if !st.factory.Demo() {
			_ = st.close(context.Background())
			return nil, exitError(exitValidation, "--demo-schedule requires demo mode")
		}
		st.scheduler, err = server.NewDemoScheduler(server.DemoSchedulerConfig{
			Schedule: schedule,
			Runner:   st.runner,
			NewJob:   st.demoJob,
			Logger:   logger,
		})
		if err != nil {
			_ = st.close(context.Background())
			return nil, exitError(exitValidation, "--demo-schedule: %v", err)
		}
		if err := st.scheduler.Start(ctx); err != nil {
			_ = st.close(context.Background())
			return nil, exitError(exitRuntime, "starting demo scheduler: %v", err)
		}
		logger.Info("demo schedule enabled", "cron", schedule, "next", st.scheduler.Next(time.Now()))
	}

	return st, nil
}

// applyServeOverrides lets explicit flags win over file and environment.
func applyServeOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("demo") {
		demo, _ := cmd.Flags().GetBool("demo")
		cfg.DemoMode = &demo
	}
	if cmd.Flags().Changed("stream-timeout") {
		timeout, _ := cmd.Flags().GetDuration("stream-timeout")
		if timeout <= 0 {
			return exitError(exitValidation, "--stream-timeout must be positive")
		}
		cfg.Stream.Timeout = timeout
	}
	return nil
}

func (st *serveStack) webhookJob(body io.Reader) (runtime.Job, error) {
	job, err := st.factory.FromWebhook(body)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (st *serveStack) demoJob() (runtime.Job, error) {
	job, err := st.factory.DemoJob()
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (st *serveStack) describe() string {
	mode := "live mode"
	if st.factory.Demo() {
		mode = "demo mode"
	}
	return fmt.Sprintf("%s, model %s", mode, st.factory.ModelName())
}

// close releases the stack in reverse order of construction. Running jobs
// get until ctx ends to finish.
func (st *serveStack) close(ctx context.Context) error {
	var errs []error
	if st.scheduler != nil {
		errs = append(errs, st.scheduler.Stop(ctx))
	}
	if st.runner != nil {
		errs = append(errs, st.runner.Close(ctx))
	}
	if st.bus != nil {
		errs = append(errs, st.bus.Close())
	}
	if st.telemetry != nil {
		errs = append(errs, st.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
