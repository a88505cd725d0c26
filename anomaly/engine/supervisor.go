package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

var ErrNilBackend = errors.New("nil backend supplied")
var ErrNilProvider = errors.New("nil session provider supplied")
var ErrNilMetrics = errors.New("nil metrics supplied")

// ErrShutdownTimeout is returned by RunHandle.Stop when workers are still running after the grace period.
var ErrShutdownTimeout = errors.New("shutdown grace period elapsed with workers still running")

// RunState is the run flag shared by all workers of one run. Only the Supervisor writes it.
type RunState struct {
	running   atomic.Bool
	startedAt time.Time
}

// Running reports whether workers should start new iterations.
func (s *RunState) Running() bool {
	return s.running.Load()
}

// StartedAt returns when the run was started.
func (s *RunState) StartedAt() time.Time {
	return s.startedAt
}

// Supervisor starts and stops runs against one backend.
type Supervisor struct {
	backend anomaly.Backend
	options []Option
	observers
}

// NewSupervisor creates a Supervisor. The options are passed on to the SessionProvider and
// Executor of every run.
func NewSupervisor(backend anomaly.Backend, options ...Option) (*Supervisor, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}

	o, err := applyOptions(options)
	if err != nil {
		return nil, err
	}

	return &Supervisor{backend: backend, options: options, observers: o}, nil
}

// Start validates cfg, verifies the backing store is reachable, and spawns exactly
// cfg.TotalWorkers() workers. ctx bounds the whole run: cancelling it aborts in-flight
// instances as fatal, so graceful shutdowns go through RunHandle.Stop instead.
func (s *Supervisor) Start(ctx context.Context, cfg anomaly.ScenarioConfig) (*RunHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy, err := anomaly.NewPolicy(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := NewSessionProvider(s.backend, cfg.Connect, s.options...)
	if err != nil {
		return nil, err
	}

	if err := provider.Ping(ctx); err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	executor, err := NewExecutor(provider, cfg.Retry, metrics, s.options...)
	if err != nil {
		return nil, err
	}

	handle := &RunHandle{
		id:        uuid.New(),
		scenario:  cfg.Name,
		backend:   s.backend.Name(),
		state:     &RunState{startedAt: time.Now()},
		metrics:   metrics,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		observers: s.observers,
	}
	handle.state.running.Store(true)

	var wg sync.WaitGroup
	fatalBackoff := cfg.FatalBackoffOrDefault()
	for _, role := range cfg.Roles() {
		for i := range cfg.Workers[role] {
			w := &worker{
				id:           fmt.Sprintf("%s-%d", role, i),
				role:         role,
				policy:       policy,
				executor:     executor,
				metrics:      metrics,
				state:        handle.state,
				stop:         handle.stop,
				pacing:       cfg.PacingFor(role),
				fatalBackoff: fatalBackoff,
				observers:    s.observers,
			}

			wg.Add(1)
			handle.active.Add(1)
			go func() {
				defer wg.Done()
				defer handle.workerStopped(ctx)
				w.run(ctx)
			}()
		}
	}

	handle.recordActiveWorkers(ctx, handle.active.Load())
	s.info(ctx, logMsgRunStarted,
		logAttrScenario, cfg.Name,
		logAttrBackend, s.backend.Name(),
		logAttrWorkers, cfg.TotalWorkers(),
		logAttrRunDuration, cfg.RunDuration.String())

	go func() {
		wg.Wait()
		close(handle.done)
		s.info(ctx, logMsgRunStopped, logAttrScenario, cfg.Name)
	}()

	go handle.watch(ctx, cfg.RunDuration)

	return handle, nil
}

// RunHandle controls a started run.
type RunHandle struct {
	id       uuid.UUID
	scenario string
	backend  string
	state    *RunState
	metrics  *Metrics
	active   atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	observers
}

// ID identifies the run in logs and summaries.
func (h *RunHandle) ID() uuid.UUID {
	return h.id
}

// Scenario returns the name of the scenario being run.
func (h *RunHandle) Scenario() string {
	return h.scenario
}

// StartedAt returns when the run was started.
func (h *RunHandle) StartedAt() time.Time {
	return h.state.StartedAt()
}

// Running reports whether the run flag is still set.
func (h *RunHandle) Running() bool {
	return h.state.Running()
}

// ActiveWorkers returns the number of workers that have not stopped yet.
func (h *RunHandle) ActiveWorkers() int64 {
	return h.active.Load()
}

// Metrics returns a snapshot of the run's aggregate metrics.
func (h *RunHandle) Metrics() MetricsSnapshot {
	return h.metrics.Snapshot()
}

// Done is closed once every worker has stopped.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Stopping is closed as soon as a stop was requested, by Stop, by ctx, or by the run duration.
func (h *RunHandle) Stopping() <-chan struct{} {
	return h.stop
}

// Stop clears the run flag, interrupts pacing sleeps, and waits up to grace for all workers
// to finish their in-flight instance. Workers still running after grace are abandoned and
// ErrShutdownTimeout is returned.
func (h *RunHandle) Stop(grace time.Duration) error {
	h.requestStop(context.Background(), logMsgRunStopRequested)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
		// The last worker may have stopped just as grace elapsed.
		select {
		case <-h.done:
			return nil
		default:
		}

		remaining := h.active.Load()
		h.warn(context.Background(), logMsgShutdownTimeout,
			logAttrRemaining, remaining,
			logAttrGraceDuration, grace.String())

		return fmt.Errorf("%w: %d remaining", ErrShutdownTimeout, remaining)
	}
}

// Wait blocks until every worker has stopped or ctx is done.
func (h *RunHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *RunHandle) requestStop(ctx context.Context, reason string) {
	h.stopOnce.Do(func() {
		h.state.running.Store(false)
		close(h.stop)
		h.info(ctx, reason, logAttrScenario, h.scenario)
	})
}

// watch requests a stop when the run duration elapses or ctx is cancelled.
func (h *RunHandle) watch(ctx context.Context, runDuration time.Duration) {
	var elapsed <-chan time.Time
	if runDuration > 0 {
		timer := time.NewTimer(runDuration)
		defer timer.Stop()
		elapsed = timer.C
	}

	select {
	case <-elapsed:
		h.requestStop(ctx, logMsgRunDurationElapsed)
	case <-ctx.Done():
		h.requestStop(context.WithoutCancel(ctx), logMsgRunStopRequested)
	case <-h.stop:
	case <-h.done:
	}
}

func (h *RunHandle) workerStopped(ctx context.Context) {
	h.recordActiveWorkers(context.WithoutCancel(ctx), h.active.Add(-1))
}

func (h *RunHandle) recordActiveWorkers(ctx context.Context, active int64) {
	h.recordValue(ctx, MetricActiveWorkers, float64(active), map[string]string{metricLabelBackend: h.backend})
}
