package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// attemptDurationBounds are the upper bounds of the attempt duration histogram buckets.
var attemptDurationBounds = []time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
}

// Metrics is the in-process aggregate of one run. It is shared by all workers and never reset.
//
// Per-attempt counters are plain atomics. The terminal counters of completed instances are
// updated together under a mutex, so every Snapshot satisfies
// Successes + ConflictsExhausted + FatalErrors == Completed.
type Metrics struct {
	started            atomic.Int64
	attempts           atomic.Int64
	retryableConflicts atomic.Int64
	recoveredPanics    atomic.Int64

	mu                 sync.Mutex
	successes          int64
	conflictsExhausted int64
	fatalErrors        int64
	completed          int64

	durationBuckets  []atomic.Int64
	durationCount    atomic.Int64
	durationSumNanos atomic.Int64
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		durationBuckets: make([]atomic.Int64, len(attemptDurationBounds)+1),
	}
}

func (m *Metrics) recordStarted() {
	m.started.Add(1)
}

func (m *Metrics) recordAttempt(status anomaly.Status, duration time.Duration) {
	m.attempts.Add(1)
	if status == anomaly.StatusRetryableConflict {
		m.retryableConflicts.Add(1)
	}

	bucket := len(attemptDurationBounds)
	for i, bound := range attemptDurationBounds {
		if duration <= bound {
			bucket = i
			break
		}
	}

	m.durationBuckets[bucket].Add(1)
	m.durationCount.Add(1)
	m.durationSumNanos.Add(int64(duration))
}

// recordOutcome counts a completed instance in exactly one terminal counter.
func (m *Metrics) recordOutcome(outcome anomaly.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case outcome.Status == anomaly.StatusSuccess:
		m.successes++
	case outcome.Status == anomaly.StatusRetryableConflict:
		m.conflictsExhausted++
	default:
		m.fatalErrors++
	}

	m.completed++
}

func (m *Metrics) recordPanic() {
	m.recoveredPanics.Add(1)
}

// HistogramBucket is one bucket of a cumulative latency histogram.
type HistogramBucket struct {
	// UpperBoundMS is the inclusive upper bound in milliseconds; the last bucket has -1 for +Inf.
	UpperBoundMS float64 `json:"le_ms"`
	Count        int64   `json:"count"`
}

// DurationHistogram is a cumulative snapshot of attempt durations.
type DurationHistogram struct {
	Buckets []HistogramBucket `json:"buckets"`
	Count   int64             `json:"count"`
	SumMS   float64           `json:"sum_ms"`
}

// MeanMS returns the mean attempt duration in milliseconds.
func (h DurationHistogram) MeanMS() float64 {
	if h.Count == 0 {
		return 0
	}

	return h.SumMS / float64(h.Count)
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Started            int64             `json:"started"`
	Attempts           int64             `json:"attempts"`
	RetryableConflicts int64             `json:"retryable_conflicts"`
	Successes          int64             `json:"successes"`
	ConflictsExhausted int64             `json:"conflicts_exhausted"`
	FatalErrors        int64             `json:"fatal_errors"`
	Completed          int64             `json:"completed"`
	RecoveredPanics    int64             `json:"recovered_panics"`
	AttemptDurations   DurationHistogram `json:"attempt_durations"`
}

// Snapshot returns a consistent copy of the terminal counters and a best-effort copy of the rest.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	snapshot := MetricsSnapshot{
		Successes:          m.successes,
		ConflictsExhausted: m.conflictsExhausted,
		FatalErrors:        m.fatalErrors,
		Completed:          m.completed,
	}
	m.mu.Unlock()

	snapshot.Started = m.started.Load()
	snapshot.Attempts = m.attempts.Load()
	snapshot.RetryableConflicts = m.retryableConflicts.Load()
	snapshot.RecoveredPanics = m.recoveredPanics.Load()

	buckets := make([]HistogramBucket, 0, len(m.durationBuckets))
	var cumulative int64
	for i := range m.durationBuckets {
		cumulative += m.durationBuckets[i].Load()
		bound := -1.0
		if i < len(attemptDurationBounds) {
			bound = toMilliseconds(attemptDurationBounds[i])
		}

		buckets = append(buckets, HistogramBucket{UpperBoundMS: bound, Count: cumulative})
	}

	snapshot.AttemptDurations = DurationHistogram{
		Buckets: buckets,
		Count:   m.durationCount.Load(),
		SumMS:   toMilliseconds(time.Duration(m.durationSumNanos.Load())),
	}

	return snapshot
}
