package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/engine"
	"github.com/AntonStoeckl/contention-simulator/scenario"
)

type runOptions struct {
	*rootOptions
	bootstrap bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a contention scenario until interrupted or the run duration elapses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenario(cmd, opts)
		},
	}

	addScenarioFlags(cmd)
	cmd.Flags().Duration("run-duration", 0, "stop automatically after this duration, 0 runs until interrupted")
	cmd.Flags().Duration("grace-timeout", 0, "how long to wait for in-flight instances on shutdown")
	cmd.Flags().Uint64("seed", 0, "seed for reproducible key selection, 0 for a random seed")
	cmd.Flags().Float64("hotspot-probability", 0, "probability of drawing a key from the hot range")
	cmd.Flags().Float64("skew-probability", 0, "probability of acquiring keys in the role's skew order")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().Bool("observability-enabled", false, "export traces and metrics via OTLP gRPC")
	cmd.Flags().String("otlp-endpoint", "", "OTLP gRPC endpoint")
	cmd.Flags().Duration("report-interval", 0, "interval of the progress log line")
	cmd.Flags().BoolVar(&opts.bootstrap, "bootstrap", false, "create and seed the scenario's tables before running")

	return cmd
}

// addScenarioFlags adds the flags that select the scenario and the backing store.
func addScenarioFlags(cmd *cobra.Command) {
	cmd.Flags().String("scenario", scenario.Deadlock, "scenario preset: "+fmt.Sprint(scenario.Names()))
	cmd.Flags().String("backend", scenario.BackendPostgres,
		"backing store: postgres, postgres-sql, postgres-sqlx, mysql, redis")
	cmd.Flags().String("dsn", "", "connection string of the backing store")
	cmd.Flags().Int("max-connections", 0, "connection pool size, 0 sizes the pool to the worker count")
}

func runScenario(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()

	cfg, scenarioConfig, logger, err := loadConfig(cmd, opts.configPath)
	if err != nil {
		return err
	}

	obs, err := setupObservability(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("set up observability: %w", err)
	}
	defer func() {
		if shutdownErr := obs.Shutdown(); shutdownErr != nil {
			logger.Warn("observability shutdown failed", "error", shutdownErr.Error())
		}
	}()

	backend, closeBackend, err := openBackend(ctx, cfg.Backend, scenarioConfig.TotalWorkers(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeBackend() }()

	if opts.bootstrap {
		if err := bootstrap(ctx, backend, scenarioConfig); err != nil {
			return err
		}
	}

	supervisor, err := engine.NewSupervisor(backend, obs.options...)
	if err != nil {
		return err
	}

	// Signals stop the run through the handle, so in-flight instances are not cancelled.
	handle, err := supervisor.Start(context.WithoutCancel(ctx), scenarioConfig)
	if err != nil {
		return fmt.Errorf("start scenario %s: %w", scenarioConfig.Name, err)
	}

	go handle.ReportProgress(ctx, cfg.ReportInterval)

	signalCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	select {
	case <-signalCtx.Done():
		logger.Info("shutdown requested", "scenario", scenarioConfig.Name)
	case <-handle.Stopping():
	}

	timedOut := false
	if err := handle.Stop(scenarioConfig.GraceTimeout); err != nil {
		if !errors.Is(err, engine.ErrShutdownTimeout) {
			return err
		}

		timedOut = true
	}

	return writeSummary(cmd.OutOrStdout(), runSummary{
		RunID:            handle.ID(),
		Scenario:         handle.Scenario(),
		Backend:          backend.Name(),
		StartedAt:        handle.StartedAt(),
		Duration:         time.Since(handle.StartedAt()).Round(time.Millisecond).String(),
		ShutdownTimedOut: timedOut,
		Metrics:          handle.Metrics(),
	})
}

// loadConfig loads and validates the configuration and builds the process logger.
func loadConfig(cmd *cobra.Command, configPath string) (scenario.FileConfig, anomaly.ScenarioConfig, *slog.Logger, error) {
	cfg, err := scenario.Load(configPath, cmd.Flags())
	if err != nil {
		return scenario.FileConfig{}, anomaly.ScenarioConfig{}, nil, err
	}

	scenarioConfig, err := cfg.ScenarioConfig()
	if err != nil {
		return scenario.FileConfig{}, anomaly.ScenarioConfig{}, nil, err
	}

	logger, err := newLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return scenario.FileConfig{}, anomaly.ScenarioConfig{}, nil, err
	}

	return cfg, scenarioConfig, logger, nil
}

// runSummary is printed to stdout when a run ends.
type runSummary struct {
	RunID            uuid.UUID              `json:"run_id"`
	Scenario         string                 `json:"scenario"`
	Backend          string                 `json:"backend"`
	StartedAt        time.Time              `json:"started_at"`
	Duration         string                 `json:"duration"`
	ShutdownTimedOut bool                   `json:"shutdown_timed_out"`
	Metrics          engine.MetricsSnapshot `json:"metrics"`
}

func writeSummary(w io.Writer, summary runSummary) error {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(out))

	return err
}
