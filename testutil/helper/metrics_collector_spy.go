package helper

import (
	"maps"
	"sync"
	"time"
)

// SpyMetricKind tells which collector method produced a SpyMetricRecord.
type SpyMetricKind int

const (
	SpyCounter SpyMetricKind = iota
	SpyDuration
	SpyValue
)

// SpyMetricRecord is one call on MetricsCollectorSpy.
type SpyMetricRecord struct {
	Kind     SpyMetricKind
	Metric   string
	Labels   map[string]string
	Duration time.Duration
	Value    float64
}

// MetricsCollectorSpy is an anomaly.MetricsCollector that records every call in order.
type MetricsCollectorSpy struct {
	records []SpyMetricRecord
	mu      sync.Mutex
}

// NewMetricsCollectorSpy creates an empty MetricsCollectorSpy.
func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

// RecordDuration implements anomaly.MetricsCollector.
func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.record(SpyMetricRecord{Kind: SpyDuration, Metric: metric, Labels: maps.Clone(labels), Duration: duration})
}

// IncrementCounter implements anomaly.MetricsCollector.
func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.record(SpyMetricRecord{Kind: SpyCounter, Metric: metric, Labels: maps.Clone(labels)})
}

// RecordValue implements anomaly.MetricsCollector.
func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.record(SpyMetricRecord{Kind: SpyValue, Metric: metric, Labels: maps.Clone(labels), Value: value})
}

func (s *MetricsCollectorSpy) record(r SpyMetricRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, r)
}

// matching returns the records of kind and metric whose labels contain every pair of want.
func (s *MetricsCollectorSpy) matching(kind SpyMetricKind, metric string, want map[string]string) []SpyMetricRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []SpyMetricRecord
	for _, r := range s.records {
		if r.Kind == kind && r.Metric == metric && containsLabels(r.Labels, want) {
			matched = append(matched, r)
		}
	}

	return matched
}

// CountCounterRecords counts the increments of metric whose labels contain want.
func (s *MetricsCollectorSpy) CountCounterRecords(metric string, want map[string]string) int {
	return len(s.matching(SpyCounter, metric, want))
}

// Durations returns the recorded durations of metric whose labels contain want, in call order.
func (s *MetricsCollectorSpy) Durations(metric string, want map[string]string) []time.Duration {
	matched := s.matching(SpyDuration, metric, want)
	durations := make([]time.Duration, 0, len(matched))
	for _, r := range matched {
		durations = append(durations, r.Duration)
	}

	return durations
}

// Values returns the recorded values of metric whose labels contain want, in call order.
func (s *MetricsCollectorSpy) Values(metric string, want map[string]string) []float64 {
	matched := s.matching(SpyValue, metric, want)
	values := make([]float64, 0, len(matched))
	for _, r := range matched {
		values = append(values, r.Value)
	}

	return values
}

func containsLabels(labels, want map[string]string) bool {
	for k, v := range want {
		if labels[k] != v {
			return false
		}
	}

	return true
}
