package engine

import (
	"context"
	"math"
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// Metric names exported through the anomaly.MetricsCollector.
const (
	MetricTransactionsTotal       = "contention_transactions_total"
	MetricAttemptsTotal           = "contention_attempts_total"
	MetricConflictsTotal          = "contention_conflicts_total"
	MetricTransactionDuration     = "contention_transaction_duration_seconds"
	MetricRetryDelay              = "contention_retry_delay_seconds"
	MetricSessionAcquireFailures  = "contention_session_acquire_failures_total"
	MetricActiveWorkers           = "contention_active_workers"
	MetricRecoveredPanicsTotal    = "contention_recovered_panics_total"
	metricLabelRole               = "role"
	metricLabelStatus             = "status"
	metricLabelBackend            = "backend"
	metricStatusConflictExhausted = "conflict_exhausted"
)

// Span names and attributes.
const (
	spanNameExecute      = "contention.execute_instance"
	spanAttrRole         = "contention.role"
	spanAttrInstanceID   = "contention.instance_id"
	spanAttrKeys         = "contention.key_count"
	spanAttrSkewed       = "contention.skewed"
	spanAttrAttempts     = "contention.attempts"
	spanAttrErrorMessage = "contention.error"
	spanStatusOK         = "ok"
	spanStatusError      = "error"
)

// Log messages.
const (
	logMsgInstanceSucceeded    = "transaction instance succeeded"
	logMsgRetryingConflict     = "retryable conflict, retrying instance"
	logMsgAttemptsExhausted    = "attempts exhausted"
	logMsgInstanceFatal        = "transaction instance failed fatally"
	logMsgRollbackFailed       = "rollback failed"
	logMsgSessionReleaseFailed = "session release failed"
	logMsgConnectRetry         = "connect attempt failed, retrying"
	logMsgConnectFailed        = "could not acquire session"
	logMsgResolveFailed        = "could not resolve transaction instance"
	logMsgWorkerPanic          = "worker iteration panicked"
	logMsgRunStarted           = "workload started"
	logMsgRunStopRequested     = "workload stop requested"
	logMsgRunStopped           = "workload stopped"
	logMsgRunDurationElapsed   = "run duration elapsed"
	logMsgShutdownTimeout      = "shutdown grace period elapsed with workers still running"
	logMsgProgress             = "workload progress"
)

// Log attribute keys.
const (
	logAttrRole          = "role"
	logAttrInstanceID    = "instance_id"
	logAttrKeys          = "keys"
	logAttrSkewed        = "skewed"
	logAttrAttempt       = "attempt"
	logAttrAttempts      = "attempts"
	logAttrMaxAttempts   = "max_attempts"
	logAttrDurationMS    = "duration_ms"
	logAttrBackoffMS     = "backoff_ms"
	logAttrError         = "error"
	logAttrBackend       = "backend"
	logAttrScenario      = "scenario"
	logAttrWorkers       = "workers"
	logAttrRemaining     = "remaining_workers"
	logAttrPanic         = "panic"
	logAttrStarted       = "started"
	logAttrCompleted     = "completed"
	logAttrSuccesses     = "successes"
	logAttrConflicts     = "retryable_conflicts"
	logAttrExhausted     = "conflicts_exhausted"
	logAttrFatal         = "fatal_errors"
	logAttrThroughput    = "completed_per_second"
	logAttrRunDuration   = "run_duration"
	logAttrGraceDuration = "grace"
	logAttrWorkerID      = "worker_id"
)

func (o observers) debug(ctx context.Context, msg string, args ...any) {
	switch {
	case o.contextualLogger != nil:
		o.contextualLogger.DebugContext(ctx, msg, args...)
	case o.logger != nil:
		o.logger.Debug(msg, args...)
	}
}

func (o observers) info(ctx context.Context, msg string, args ...any) {
	switch {
	case o.contextualLogger != nil:
		o.contextualLogger.InfoContext(ctx, msg, args...)
	case o.logger != nil:
		o.logger.Info(msg, args...)
	}
}

func (o observers) warn(ctx context.Context, msg string, args ...any) {
	switch {
	case o.contextualLogger != nil:
		o.contextualLogger.WarnContext(ctx, msg, args...)
	case o.logger != nil:
		o.logger.Warn(msg, args...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (o observers) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := make([]any, 0, len(args)+2)
	if err != nil {
		allArgs = append(allArgs, logAttrError, err.Error())
	}
	allArgs = append(allArgs, args...)

	switch {
	case o.contextualLogger != nil:
		o.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	case o.logger != nil:
		o.logger.Error(msg, allArgs...)
	}
}

// incrementCounter uses the context-aware method if the collector supports it.
func (o observers) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := o.metricsCollector.(anomaly.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metric, labels)
		return
	}

	o.metricsCollector.IncrementCounter(metric, labels)
}

// recordDuration uses the context-aware method if the collector supports it.
func (o observers) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := o.metricsCollector.(anomaly.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	o.metricsCollector.RecordDuration(metric, d, labels)
}

// recordValue uses the context-aware method if the collector supports it.
func (o observers) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := o.metricsCollector.(anomaly.ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metric, value, labels)
		return
	}

	o.metricsCollector.RecordValue(metric, value, labels)
}

// startSpan starts a tracing span if the tracing collector is configured.
func (o observers) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, anomaly.SpanContext) {
	if o.tracingCollector == nil {
		return ctx, nil
	}

	return o.tracingCollector.StartSpan(ctx, name, attrs)
}

// finishSpan finishes a tracing span if both the collector and the span are present.
func (o observers) finishSpan(span anomaly.SpanContext, status string, attrs map[string]string) {
	if o.tracingCollector == nil || span == nil {
		return
	}

	o.tracingCollector.FinishSpan(span, status, attrs)
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
