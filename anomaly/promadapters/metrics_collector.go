// Package promadapters exports the engine's metrics to Prometheus.
package promadapters

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultDurationBuckets are the histogram buckets in seconds, from 1ms to 10s.
var DefaultDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// MetricsCollector implements anomaly.MetricsCollector on a Prometheus registerer.
// Instruments are created on first use and registered under the metric name:
//   - RecordDuration -> HistogramVec in seconds
//   - IncrementCounter -> CounterVec
//   - RecordValue -> GaugeVec
//
// The label names of a metric are fixed by its first recording; later recordings with a
// different label set are dropped.
type MetricsCollector struct {
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewMetricsCollector creates a collector that registers its instruments with registerer.
// buckets may be nil to use DefaultDurationBuckets.
func NewMetricsCollector(registerer prometheus.Registerer, buckets []float64) *MetricsCollector {
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}

	return &MetricsCollector{
		registerer: registerer,
		buckets:    buckets,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// RecordDuration observes duration in seconds.
func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	histogram := m.getOrCreateHistogram(metricName, labelNames(labels))
	if histogram == nil {
		return
	}

	observer, err := histogram.GetMetricWith(labels)
	if err != nil {
		return
	}

	observer.Observe(duration.Seconds())
}

// RecordDurationContext is RecordDuration; Prometheus has no use for the context.
func (m *MetricsCollector) RecordDurationContext(_ context.Context, metricName string, duration time.Duration, labels map[string]string) {
	m.RecordDuration(metricName, duration, labels)
}

// IncrementCounter adds one to the counter series selected by labels.
func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	counter := m.getOrCreateCounter(metricName, labelNames(labels))
	if counter == nil {
		return
	}

	series, err := counter.GetMetricWith(labels)
	if err != nil {
		return
	}

	series.Inc()
}

// IncrementCounterContext is IncrementCounter; Prometheus has no use for the context.
func (m *MetricsCollector) IncrementCounterContext(_ context.Context, metricName string, labels map[string]string) {
	m.IncrementCounter(metricName, labels)
}

// RecordValue sets the gauge series selected by labels.
func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	gauge := m.getOrCreateGauge(metricName, labelNames(labels))
	if gauge == nil {
		return
	}

	series, err := gauge.GetMetricWith(labels)
	if err != nil {
		return
	}

	series.Set(value)
}

// RecordValueContext is RecordValue; Prometheus has no use for the context.
func (m *MetricsCollector) RecordValueContext(_ context.Context, metricName string, value float64, labels map[string]string) {
	m.RecordValue(metricName, value, labels)
}

func (m *MetricsCollector) getOrCreateHistogram(name string, labels []string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[name]; exists {
		return histogram
	}

	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help(name),
		Buckets: m.buckets,
	}, labels)

	histogram, ok := register(m.registerer, histogram)
	if !ok {
		return nil
	}

	m.histograms[name] = histogram

	return histogram
}

func (m *MetricsCollector) getOrCreateCounter(name string, labels []string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[name]; exists {
		return counter
	}

	counter, ok := register(m.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help(name),
	}, labels))
	if !ok {
		return nil
	}

	m.counters[name] = counter

	return counter
}

func (m *MetricsCollector) getOrCreateGauge(name string, labels []string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[name]; exists {
		return gauge
	}

	gauge, ok := register(m.registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
		Help: help(name),
	}, labels))
	if !ok {
		return nil
	}

	m.gauges[name] = gauge

	return gauge
}

// register registers collector, reusing an identical collector registered earlier
// (e.g. by a previous run in the same process).
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, bool) {
	err := registerer.Register(collector)
	if err == nil {
		return collector, true
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(C)
		return existing, ok
	}

	var zero C

	return zero, false
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

var helpTexts = map[string]string{
	"contention_transactions_total":             "Completed transaction instances by role and terminal status.",
	"contention_attempts_total":                 "Transaction attempts by role and classified status.",
	"contention_conflicts_total":                "Retryable conflicts (deadlocks, lock timeouts, serialization failures) by role.",
	"contention_transaction_duration_seconds":   "Duration of single transaction attempts.",
	"contention_retry_delay_seconds":            "Backoff slept before retrying a conflicted instance.",
	"contention_session_acquire_failures_total": "Sessions that could not be acquired within the connect policy.",
	"contention_active_workers":                 "Workers that have not stopped yet.",
	"contention_recovered_panics_total":         "Worker iterations that panicked and were recovered.",
}

func help(name string) string {
	if text, ok := helpTexts[name]; ok {
		return text
	}

	return name
}
