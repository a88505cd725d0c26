package oteladapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AntonStoeckl/contention-simulator/anomaly/oteladapters"
)

func givenMetricsCollector(t *testing.T) (*oteladapters.MetricsCollector, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return oteladapters.NewMetricsCollector(provider.Meter("test")), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var resourceMetrics metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &resourceMetrics))

	return resourceMetrics
}

func findMetric(t *testing.T, resourceMetrics metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()

	for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name == name {
				return m
			}
		}
	}

	t.Fatalf("metric %s not found", name)

	return metricdata.Metrics{}
}

func Test_MetricsCollector_RecordDuration_InSeconds(t *testing.T) {
	// setup
	collector, reader := givenMetricsCollector(t)
	labels := map[string]string{"role": "buyer", "status": "success"}

	// act
	collector.RecordDuration("contention_transaction_duration_seconds", 150*time.Millisecond, labels)

	// assert
	histogram, ok := findMetric(t, collect(t, reader), "contention_transaction_duration_seconds").
		Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, histogram.DataPoints, 1)
	assert.Equal(t, uint64(1), histogram.DataPoints[0].Count)
	assert.InDelta(t, 0.15, histogram.DataPoints[0].Sum, 0.001)

	expectedAttrs := attribute.NewSet(attribute.String("role", "buyer"), attribute.String("status", "success"))
	assert.True(t, histogram.DataPoints[0].Attributes.Equals(&expectedAttrs))
}

func Test_MetricsCollector_IncrementCounter_DropsTotalSuffix(t *testing.T) {
	// setup
	collector, reader := givenMetricsCollector(t)
	labels := map[string]string{"role": "restocker"}

	// act
	collector.IncrementCounter("contention_conflicts_total", labels)
	collector.IncrementCounterContext(context.Background(), "contention_conflicts_total", labels)

	// assert
	sum, ok := findMetric(t, collect(t, reader), "contention_conflicts").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func Test_MetricsCollector_RecordValue_KeepsLastValue(t *testing.T) {
	// setup
	collector, reader := givenMetricsCollector(t)
	labels := map[string]string{"backend": "stub"}

	// act
	collector.RecordValue("contention_active_workers", 4, labels)
	collector.RecordValueContext(context.Background(), "contention_active_workers", 2, labels)

	// assert
	gauge, ok := findMetric(t, collect(t, reader), "contention_active_workers").Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 2.0, gauge.DataPoints[0].Value)
}

func Test_MetricsCollector_ConcurrentFirstUse(t *testing.T) {
	// setup
	collector, reader := givenMetricsCollector(t)
	labels := map[string]string{"role": "buyer"}

	// act
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.IncrementCounter("contention_attempts_total", labels)
		}()
	}
	wg.Wait()

	// assert
	sum, ok := findMetric(t, collect(t, reader), "contention_attempts").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(16), sum.DataPoints[0].Value)
}
