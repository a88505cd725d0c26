package engine_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/engine"
	. "github.com/AntonStoeckl/contention-simulator/testutil/helper"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func givenStartedRun(
	t *testing.T,
	backend anomaly.Backend,
	cfg anomaly.ScenarioConfig,
	options ...engine.Option,
) *engine.RunHandle {
	t.Helper()

	supervisor, err := engine.NewSupervisor(backend, options...)
	require.NoError(t, err)

	handle, err := supervisor.Start(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = handle.Stop(waitFor) })

	return handle
}

func assertOutcomeCountersBalance(t *testing.T, snapshot engine.MetricsSnapshot) {
	t.Helper()

	assert.Equal(t, snapshot.Completed, snapshot.Successes+snapshot.ConflictsExhausted+snapshot.FatalErrors)
}

func Test_Start_SpawnsExactlyTheConfiguredWorkers(t *testing.T) {
	// setup
	cfg := ScenarioFixture()
	metricsSpy := NewMetricsCollectorSpy()

	// act
	handle := givenStartedRun(t, NewStubBackend(), cfg, engine.WithMetrics(metricsSpy))

	// assert
	assert.Equal(t, int64(cfg.TotalWorkers()), handle.ActiveWorkers())
	assert.True(t, handle.Running())
	assert.Equal(t, "fixture", handle.Scenario())
	assert.False(t, handle.StartedAt().IsZero())

	require.NoError(t, handle.Stop(waitFor))
	assert.Equal(t, int64(0), handle.ActiveWorkers())
	assert.False(t, handle.Running())

	activeWorkers := metricsSpy.Values(engine.MetricActiveWorkers, map[string]string{"backend": "stub"})
	require.Len(t, activeWorkers, cfg.TotalWorkers()+1)
	assert.Equal(t, float64(cfg.TotalWorkers()), activeWorkers[0])
	assert.Contains(t, activeWorkers, 0.0)

	select {
	case <-handle.Done():
	default:
		assert.Fail(t, "done channel not closed after Stop returned")
	}
}

func Test_Stop_NoInstanceStartsAfterStopReturns(t *testing.T) {
	// setup
	backend := NewStubBackend()
	handle := givenStartedRun(t, backend, ScenarioFixture())
	require.Eventually(t, func() bool { return handle.Metrics().Completed > 20 }, waitFor, tick)

	// act
	require.NoError(t, handle.Stop(waitFor))
	stoppedAt := handle.Metrics()
	time.Sleep(50 * time.Millisecond)
	later := handle.Metrics()

	// assert
	assert.Equal(t, stoppedAt.Started, later.Started)
	assert.Equal(t, stoppedAt.Started, stoppedAt.Completed)
	assert.Equal(t, backend.Acquired(), backend.Released())
	assertOutcomeCountersBalance(t, later)
}

func Test_Stop_InterruptsLongPacing(t *testing.T) {
	// setup
	cfg := ScenarioFixture()
	cfg.Pacing = anomaly.DelayRange{Min: time.Hour, Max: time.Hour}
	handle := givenStartedRun(t, NewStubBackend(), cfg)
	require.Eventually(t, func() bool { return handle.Metrics().Completed == int64(cfg.TotalWorkers()) }, waitFor, tick)

	// act
	start := time.Now()
	err := handle.Stop(waitFor)

	// assert
	require.NoError(t, err)
	assert.Less(t, time.Since(start), waitFor)
}

func Test_Run_OutcomeCountersBalance_WithDeterministicInjection(t *testing.T) {
	// setup
	const hotKey = anomaly.ResourceKey(42)
	var hotKeyAttempts atomic.Int64

	backend := NewStubBackend()
	backend.ExecuteFunc = func(op anomaly.Operation) error {
		if op.Key%10 == 7 {
			return ErrStubFatal
		}

		return nil
	}
	backend.CommitFunc = func(executed []anomaly.Operation) error {
		if executed[0].Key == hotKey && hotKeyAttempts.Add(1) == 5 {
			return nil
		}

		return ErrStubConflict
	}

	cfg := ScenarioFixture()
	cfg.Templates = []anomaly.Template{{
		Role: "writer",
		Keys: anomaly.KeyCount{Min: 1, Max: 1},
		Steps: []anomaly.Step{
			{Kind: anomaly.OpLockingRead, Table: FixtureResourceTable, Slot: 0},
			{Kind: anomaly.OpWrite, Table: FixtureResourceTable, Slot: 0, Delta: 1},
		},
	}}
	cfg.Workers = map[anomaly.Role]int{"writer": 8}
	cfg.KeySpace = anomaly.KeySpace{Size: 100, Hot: anomaly.KeyRange{From: hotKey, To: hotKey}}
	cfg.HotspotProbability = 0.5
	cfg.Retry = anomaly.RetryPolicy{MaxAttempts: 3}
	cfg.Pacing = anomaly.DelayRange{Max: time.Millisecond}

	handle := givenStartedRun(t, backend, cfg)
	require.Eventually(t, func() bool { return hotKeyAttempts.Load() >= 5 && handle.Metrics().FatalErrors > 0 }, waitFor, tick)

	// act
	require.NoError(t, handle.Stop(waitFor))

	// assert
	snapshot := handle.Metrics()
	assertOutcomeCountersBalance(t, snapshot)
	assert.Equal(t, snapshot.Started, snapshot.Completed)
	assert.Equal(t, int64(1), snapshot.Successes)
	assert.Positive(t, snapshot.ConflictsExhausted)
	assert.Positive(t, snapshot.FatalErrors)
	assert.Equal(t, backend.Begins(), snapshot.Attempts)
	assert.Equal(t, backend.Commits()-1, snapshot.RetryableConflicts)
	assert.Equal(t, backend.Acquired(), backend.Released())
}

func Test_Run_CanonicalLockOrderOnly_NeverConflicts(t *testing.T) {
	// setup
	backend := NewStubBackend()
	backend.CommitFunc = RequireCanonicalLockOrder
	cfg := ScenarioFixture()
	cfg.SkewProbability = 0.0

	// act
	handle := givenStartedRun(t, backend, cfg)
	require.Eventually(t, func() bool { return handle.Metrics().Completed > 200 }, waitFor, tick)
	require.NoError(t, handle.Stop(waitFor))

	// assert
	snapshot := handle.Metrics()
	assert.Equal(t, int64(0), snapshot.RetryableConflicts)
	assert.Equal(t, int64(0), snapshot.ConflictsExhausted)
	assert.Equal(t, snapshot.Completed, snapshot.Successes)
}

func Test_Run_SkewedLockOrder_ProducesConflicts(t *testing.T) {
	// setup
	backend := NewStubBackend()
	backend.CommitFunc = RequireCanonicalLockOrder
	cfg := ScenarioFixture()
	cfg.SkewProbability = 1.0

	// act
	handle := givenStartedRun(t, backend, cfg)
	require.Eventually(t, func() bool { return handle.Metrics().ConflictsExhausted > 0 }, waitFor, tick)
	require.NoError(t, handle.Stop(waitFor))

	// assert
	snapshot := handle.Metrics()
	assert.Positive(t, snapshot.RetryableConflicts)
	assertOutcomeCountersBalance(t, snapshot)
}

func Test_Stop_GracePeriodElapsed_ReturnsShutdownTimeout(t *testing.T) {
	// setup
	logHandler := NewLogHandlerSpy(false)
	release := make(chan struct{})
	backend := NewStubBackend()
	backend.CommitFunc = func([]anomaly.Operation) error {
		<-release
		return nil
	}
	cfg := ScenarioFixture()
	cfg.Workers = map[anomaly.Role]int{FixtureRoleReporter: 1}
	handle := givenStartedRun(t, backend, cfg, engine.WithLogger(logHandler.Logger()))
	require.Eventually(t, func() bool { return backend.Commits() > 0 }, waitFor, tick)

	// act
	err := handle.Stop(20 * time.Millisecond)

	// assert
	assert.ErrorIs(t, err, engine.ErrShutdownTimeout)
	assert.Equal(t, int64(1), handle.ActiveWorkers())
	assert.True(t, logHandler.HasWarnLogWithMessage("shutdown grace period elapsed with workers still running").
		WithAttr("remaining_workers", "1").Assert())

	close(release)
	require.Eventually(t, func() bool {
		select {
		case <-handle.Done():
			return true
		default:
			return false
		}
	}, waitFor, tick)
	assert.Equal(t, int64(1), handle.Metrics().Successes)
}

func Test_Start_UnreachableBackend_FailsWithConnectionFailed(t *testing.T) {
	// setup
	backend := NewStubBackend()
	backend.ConnectFunc = func(int64) error { return ErrStubConnectRefused }
	supervisor, err := engine.NewSupervisor(backend)
	require.NoError(t, err)

	// act
	handle, err := supervisor.Start(context.Background(), ScenarioFixture())

	// assert
	assert.Nil(t, handle)
	assert.ErrorIs(t, err, anomaly.ErrConnectionFailed)
	assert.ErrorIs(t, err, ErrStubConnectRefused)
}

func Test_Start_InvalidConfiguration_Fails(t *testing.T) {
	// setup
	supervisor, err := engine.NewSupervisor(NewStubBackend())
	require.NoError(t, err)
	cfg := ScenarioFixture()
	cfg.Workers = map[anomaly.Role]int{}

	// act
	_, err = supervisor.Start(context.Background(), cfg)

	// assert
	assert.ErrorIs(t, err, anomaly.ErrInvalidScenario)
}

func Test_Run_DurationElapsed_StopsAutomatically(t *testing.T) {
	// setup
	cfg := ScenarioFixture()
	cfg.RunDuration = 30 * time.Millisecond

	// act
	handle := givenStartedRun(t, NewStubBackend(), cfg)

	// assert
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, handle.Wait(ctx))
	assert.False(t, handle.Running())
	assertOutcomeCountersBalance(t, handle.Metrics())
}

func Test_Stop_ZeroGraceAfterWorkersFinished_ReportsCleanShutdown(t *testing.T) {
	// setup
	logHandler := NewLogHandlerSpy(false)
	cfg := ScenarioFixture()
	cfg.RunDuration = 10 * time.Millisecond
	handle := givenStartedRun(t, NewStubBackend(), cfg, engine.WithLogger(logHandler.Logger()))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, handle.Wait(ctx))

	// act & assert
	for range 200 {
		require.NoError(t, handle.Stop(0))
	}

	assert.Equal(t, 0, logHandler.CountLogs(slog.LevelWarn, "shutdown grace period elapsed with workers still running"))
}

func Test_Run_ContextCancelled_StopsWorkers(t *testing.T) {
	// setup
	supervisor, err := engine.NewSupervisor(NewStubBackend())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	handle, err := supervisor.Start(ctx, ScenarioFixture())
	require.NoError(t, err)

	// act
	cancel()

	// assert
	waitCtx, waitCancel := context.WithTimeout(context.Background(), waitFor)
	defer waitCancel()
	require.NoError(t, handle.Wait(waitCtx))
	assertOutcomeCountersBalance(t, handle.Metrics())
}

func Test_Run_PanicInIteration_IsRecoveredAndCountedAsFatal(t *testing.T) {
	// setup
	logHandler := NewLogHandlerSpy(false)
	backend := NewStubBackend()
	backend.ExecuteFunc = func(anomaly.Operation) error { panic("driver bug") }
	handle := givenStartedRun(t, backend, ScenarioFixture(), engine.WithLogger(logHandler.Logger()))
	require.Eventually(t, func() bool { return handle.Metrics().RecoveredPanics > 10 }, waitFor, tick)

	// act
	require.NoError(t, handle.Stop(waitFor))

	// assert
	snapshot := handle.Metrics()
	assertOutcomeCountersBalance(t, snapshot)
	assert.Equal(t, snapshot.Completed, snapshot.FatalErrors)
	assert.Equal(t, snapshot.RecoveredPanics, snapshot.FatalErrors)
	assert.Equal(t, backend.Acquired(), backend.Released())
	assert.True(t, logHandler.HasErrorLogWithMessage("worker iteration panicked").WithAttr("panic", "driver bug").Assert())
}

func Test_ReportProgress_LogsAggregateCounters(t *testing.T) {
	// setup
	logHandler := NewLogHandlerSpy(false)
	handle := givenStartedRun(t, NewStubBackend(), ScenarioFixture(), engine.WithLogger(logHandler.Logger()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// act
	go handle.ReportProgress(ctx, 10*time.Millisecond)

	// assert
	require.Eventually(t, func() bool {
		return logHandler.HasInfoLogWithMessage("workload progress").WithAttrKey("completed").WithAttrKey("fatal_errors").Assert()
	}, waitFor, tick)
}

func Test_NewSupervisor_RejectsNilBackend(t *testing.T) {
	// act
	_, err := engine.NewSupervisor(nil)

	// assert
	assert.ErrorIs(t, err, engine.ErrNilBackend)
}
