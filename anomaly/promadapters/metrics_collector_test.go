package promadapters_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/promadapters"
)

func Test_MetricsCollector_ImplementsContextualInterface(t *testing.T) {
	var collector anomaly.MetricsCollector = promadapters.NewMetricsCollector(prometheus.NewRegistry(), nil)

	_, ok := collector.(anomaly.ContextualMetricsCollector)

	assert.True(t, ok)
}

func Test_IncrementCounter_CountsPerLabelSet(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry, nil)

	// act
	collector.IncrementCounter("test_transactions_total", map[string]string{"role": "buyer", "status": "success"})
	collector.IncrementCounter("test_transactions_total", map[string]string{"role": "buyer", "status": "success"})
	collector.IncrementCounterContext(context.Background(), "test_transactions_total",
		map[string]string{"status": "fatal", "role": "buyer"})

	// assert
	expected := `
# HELP test_transactions_total test_transactions_total
# TYPE test_transactions_total counter
test_transactions_total{role="buyer",status="fatal"} 1
test_transactions_total{role="buyer",status="success"} 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_transactions_total"))
}

func Test_IncrementCounter_MismatchingLabelSetIsDropped(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry, nil)
	collector.IncrementCounter("test_conflicts_total", map[string]string{"role": "buyer"})

	// act
	collector.IncrementCounter("test_conflicts_total", map[string]string{"backend": "redis"})

	// assert
	count, err := testutil.GatherAndCount(registry, "test_conflicts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func Test_RecordValue_SetsGauge(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry, nil)

	// act
	collector.RecordValue("test_active_workers", 4, map[string]string{"backend": "stub"})
	collector.RecordValueContext(context.Background(), "test_active_workers", 3, map[string]string{"backend": "stub"})

	// assert
	expected := `
# HELP test_active_workers test_active_workers
# TYPE test_active_workers gauge
test_active_workers{backend="stub"} 3
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_active_workers"))
}

func Test_RecordDuration_ObservesSecondsIntoBuckets(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry, []float64{0.3, 1})

	// act
	collector.RecordDuration("test_duration_seconds", 250*time.Millisecond, map[string]string{"role": "buyer"})
	collector.RecordDurationContext(context.Background(), "test_duration_seconds", 500*time.Millisecond,
		map[string]string{"role": "buyer"})

	// assert
	expected := `
# HELP test_duration_seconds test_duration_seconds
# TYPE test_duration_seconds histogram
test_duration_seconds_bucket{role="buyer",le="0.3"} 1
test_duration_seconds_bucket{role="buyer",le="1"} 2
test_duration_seconds_bucket{role="buyer",le="+Inf"} 2
test_duration_seconds_sum{role="buyer"} 0.75
test_duration_seconds_count{role="buyer"} 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_duration_seconds"))
}

func Test_NewMetricsCollector_ReusesCollectorsRegisteredByAnEarlierRun(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	first := promadapters.NewMetricsCollector(registry, nil)
	second := promadapters.NewMetricsCollector(registry, nil)

	// act
	first.IncrementCounter("contention_transactions_total", map[string]string{"role": "buyer", "status": "success"})
	second.IncrementCounter("contention_transactions_total", map[string]string{"role": "buyer", "status": "success"})

	// assert
	expected := `
# HELP contention_transactions_total Completed transaction instances by role and terminal status.
# TYPE contention_transactions_total counter
contention_transactions_total{role="buyer",status="success"} 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "contention_transactions_total"))
}
