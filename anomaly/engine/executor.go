package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// rollbackTimeout bounds a rollback issued after the caller's context is already done.
const rollbackTimeout = 5 * time.Second

// Executor runs TransactionInstances against the backing store. It owns the retry loop for
// retryable conflicts and the classification of every attempt.
type Executor struct {
	provider *SessionProvider
	retry    anomaly.RetryPolicy
	metrics  *Metrics
	observers
}

// NewExecutor creates an Executor. metrics may be shared with other executors of the same run.
func NewExecutor(
	provider *SessionProvider,
	retry anomaly.RetryPolicy,
	metrics *Metrics,
	options ...Option,
) (*Executor, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}

	if metrics == nil {
		return nil, ErrNilMetrics
	}

	if err := retry.Validate(); err != nil {
		return nil, err
	}

	o, err := applyOptions(options)
	if err != nil {
		return nil, err
	}

	return &Executor{provider: provider, retry: retry, metrics: metrics, observers: o}, nil
}

// Execute runs instance until it succeeds, fails fatally, or runs out of attempts.
// It never panics on data-access errors and always returns a classified Outcome.
func (e *Executor) Execute(ctx context.Context, instance anomaly.TransactionInstance) anomaly.Outcome {
	ctx, span := e.startSpan(ctx, spanNameExecute, map[string]string{
		spanAttrRole:       string(instance.Role),
		spanAttrInstanceID: instance.ID.String(),
		spanAttrKeys:       strconv.Itoa(len(instance.Keys)),
		spanAttrSkewed:     strconv.FormatBool(instance.Skewed),
	})

	start := time.Now()
	outcome := anomaly.Outcome{InstanceID: instance.ID, Role: instance.Role}

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			delay := e.retry.JitteredDelay(attempt - 1)
			e.recordDuration(ctx, MetricRetryDelay, delay, map[string]string{metricLabelRole: string(instance.Role)})

			if err := sleep(ctx, delay, nil); err != nil {
				outcome.Status = anomaly.StatusFatal
				outcome.Err = errors.Join(err, outcome.Err)
				outcome.Detail = "interrupted during retry backoff"

				break
			}

			outcome.TotalBackoff += delay
		}

		attemptStart := time.Now()
		err := e.attempt(ctx, instance)
		attemptDuration := time.Since(attemptStart)
		status := e.classify(err)

		e.metrics.recordAttempt(status, attemptDuration)
		e.recordAttemptMetrics(ctx, instance.Role, status, attemptDuration)

		outcome.Attempts = attempt
		outcome.Status = status
		outcome.Err = err

		if status != anomaly.StatusRetryableConflict {
			break
		}

		if attempt >= e.retry.MaxAttempts {
			outcome.Exhausted = true
			outcome.Detail = anomaly.ErrAttemptsExhausted.Error()

			break
		}

		e.debug(ctx, logMsgRetryingConflict,
			logAttrRole, string(instance.Role),
			logAttrInstanceID, instance.ID.String(),
			logAttrAttempt, attempt,
			logAttrMaxAttempts, e.retry.MaxAttempts,
			logAttrError, err.Error())
	}

	outcome.Duration = time.Since(start)

	e.logOutcome(ctx, instance, outcome)
	e.finishExecuteSpan(span, outcome)
	e.recordOutcomeMetrics(ctx, outcome)
	e.metrics.recordOutcome(outcome)

	return outcome
}

// attempt runs one begin/execute/commit cycle on a fresh session.
func (e *Executor) attempt(ctx context.Context, instance anomaly.TransactionInstance) error {
	return e.provider.WithSession(ctx, func(session anomaly.Session) error {
		if err := session.Begin(ctx); err != nil {
			e.rollback(ctx, session)
			return fmt.Errorf("begin: %w", err)
		}

		for i, op := range instance.Operations {
			if i > 0 && !instance.ThinkTime.IsZero() {
				if err := sleep(ctx, instance.ThinkTime.Draw(), nil); err != nil {
					e.rollback(ctx, session)
					return err
				}
			}

			if err := session.Execute(ctx, op); err != nil {
				e.rollback(ctx, session)
				return fmt.Errorf("%s on %s key %d: %w", op.Kind, op.Table, op.Key, err)
			}
		}

		if err := session.Commit(ctx); err != nil {
			e.rollback(ctx, session)
			return fmt.Errorf("commit: %w", err)
		}

		return nil
	})
}

// rollback is always attempted, even when ctx is already done; its failure is only logged.
func (e *Executor) rollback(ctx context.Context, session anomaly.Session) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := session.Rollback(rollbackCtx); err != nil {
		e.warn(ctx, logMsgRollbackFailed, logAttrBackend, e.provider.Backend().Name(), logAttrError, err.Error())
	}
}

// classify maps an attempt error to a Status. Connection failures and cancellation are always fatal.
func (e *Executor) classify(err error) anomaly.Status {
	switch {
	case err == nil:
		return anomaly.StatusSuccess
	case errors.Is(err, anomaly.ErrConnectionFailed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return anomaly.StatusFatal
	default:
		return e.provider.Backend().Classify(err)
	}
}

func (e *Executor) logOutcome(ctx context.Context, instance anomaly.TransactionInstance, outcome anomaly.Outcome) {
	args := []any{
		logAttrRole, string(instance.Role),
		logAttrInstanceID, instance.ID.String(),
		logAttrKeys, fmt.Sprint(instance.Keys),
		logAttrSkewed, instance.Skewed,
		logAttrAttempts, outcome.Attempts,
		logAttrDurationMS, toMilliseconds(outcome.Duration),
		logAttrBackoffMS, toMilliseconds(outcome.TotalBackoff),
	}

	switch {
	case outcome.Status == anomaly.StatusSuccess:
		e.debug(ctx, logMsgInstanceSucceeded, args...)
	case outcome.Exhausted:
		e.warn(ctx, logMsgAttemptsExhausted, append(args, logAttrError, errorString(outcome.Err))...)
	default:
		e.logError(ctx, logMsgInstanceFatal, outcome.Err, args...)
	}
}

func (e *Executor) recordAttemptMetrics(ctx context.Context, role anomaly.Role, status anomaly.Status, d time.Duration) {
	labels := map[string]string{metricLabelRole: string(role), metricLabelStatus: status.String()}
	e.incrementCounter(ctx, MetricAttemptsTotal, labels)
	e.recordDuration(ctx, MetricTransactionDuration, d, labels)

	if status == anomaly.StatusRetryableConflict {
		e.incrementCounter(ctx, MetricConflictsTotal, map[string]string{metricLabelRole: string(role)})
	}
}

func (e *Executor) recordOutcomeMetrics(ctx context.Context, outcome anomaly.Outcome) {
	status := outcome.Status.String()
	if outcome.Exhausted {
		status = metricStatusConflictExhausted
	}

	e.incrementCounter(ctx, MetricTransactionsTotal, map[string]string{
		metricLabelRole:   string(outcome.Role),
		metricLabelStatus: status,
	})
}

func (e *Executor) finishExecuteSpan(span anomaly.SpanContext, outcome anomaly.Outcome) {
	attrs := map[string]string{spanAttrAttempts: strconv.Itoa(outcome.Attempts)}
	if outcome.Status == anomaly.StatusSuccess {
		e.finishSpan(span, spanStatusOK, attrs)
		return
	}

	attrs[spanAttrErrorMessage] = errorString(outcome.Err)
	e.finishSpan(span, spanStatusError, attrs)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

// sleep waits for d, returning early with ctx.Err() when ctx is done or nil when stop is closed.
func sleep(ctx context.Context, d time.Duration, stop <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
