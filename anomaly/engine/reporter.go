package engine

import (
	"context"
	"time"
)

// ReportProgress logs the aggregate counters of the run every interval until the run is done
// or ctx ends. It blocks, so callers run it in its own goroutine.
func (h *RunHandle) ReportProgress(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var previous MetricsSnapshot
	for {
		select {
		case <-ticker.C:
			current := h.Metrics()
			h.logProgress(ctx, current, previous, interval)
			previous = current
		case <-h.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *RunHandle) logProgress(ctx context.Context, current, previous MetricsSnapshot, interval time.Duration) {
	throughput := float64(current.Completed-previous.Completed) / interval.Seconds()

	h.info(ctx, logMsgProgress,
		logAttrScenario, h.scenario,
		logAttrWorkers, h.active.Load(),
		logAttrStarted, current.Started,
		logAttrCompleted, current.Completed,
		logAttrSuccesses, current.Successes,
		logAttrConflicts, current.RetryableConflicts,
		logAttrExhausted, current.ConflictsExhausted,
		logAttrFatal, current.FatalErrors,
		logAttrThroughput, throughput,
		logAttrDurationMS, current.AttemptDurations.MeanMS())
}
