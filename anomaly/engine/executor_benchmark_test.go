package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/engine"
	. "github.com/AntonStoeckl/contention-simulator/testutil/helper"
)

func Benchmark_Execute_AgainstStubBackend(b *testing.B) {
	// setup
	ctx := context.Background()
	cfg := ScenarioFixture()
	backend := NewStubBackend()

	provider, err := engine.NewSessionProvider(backend, cfg.Connect)
	require.NoError(b, err)

	metrics := engine.NewMetrics()
	executor, err := engine.NewExecutor(provider, cfg.Retry, metrics)
	require.NoError(b, err)

	policy, err := anomaly.NewPolicy(cfg)
	require.NoError(b, err)

	// act
	b.Run("execute buyer instance", func(b *testing.B) {
		b.ResetTimer()
		var executeTime time.Duration

		for i := 0; i < b.N; i++ {
			b.StopTimer()
			instance, resolveErr := policy.Resolve(FixtureRoleBuyer)
			require.NoError(b, resolveErr)

			b.StartTimer()
			start := time.Now()
			outcome := executor.Execute(ctx, instance)
			executeTime += time.Since(start)
			b.StopTimer()

			assert.Equal(b, anomaly.StatusSuccess, outcome.Status)
		}

		b.ReportMetric(float64(executeTime.Microseconds())/float64(b.N), "µs/execute-op")
	})

	// assert
	assert.Equal(b, backend.Acquired(), backend.Released())
}

func Benchmark_Resolve_Parallel(b *testing.B) {
	// setup
	cfg := ScenarioFixture()
	policy, err := anomaly.NewPolicy(cfg)
	require.NoError(b, err)

	// act
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, resolveErr := policy.Resolve(FixtureRoleRestocker); resolveErr != nil {
				b.Error(resolveErr)
				return
			}
		}
	})
}
