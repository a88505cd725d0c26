package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// worker repeatedly resolves and executes instances of one role until the run stops.
// The run flag is only checked at the top of the loop, so an in-flight instance always finishes.
type worker struct {
	id           string
	role         anomaly.Role
	policy       *anomaly.Policy
	executor     *Executor
	metrics      *Metrics
	state        *RunState
	stop         <-chan struct{}
	pacing       anomaly.DelayRange
	fatalBackoff time.Duration
	observers
}

func (w *worker) run(ctx context.Context) {
	for w.state.Running() && ctx.Err() == nil {
		pause := w.iterate(ctx)
		_ = sleep(ctx, pause, w.stop)
	}
}

// iterate runs one Resolving -> Executing cycle and returns the pause before the next one.
func (w *worker) iterate(ctx context.Context) (pause time.Duration) {
	started, recorded := false, false

	defer func() {
		if r := recover(); r != nil {
			w.metrics.recordPanic()
			w.incrementCounter(ctx, MetricRecoveredPanicsTotal, map[string]string{metricLabelRole: string(w.role)})

			if started && !recorded {
				w.metrics.recordOutcome(anomaly.Outcome{Role: w.role, Status: anomaly.StatusFatal})
			}

			w.logError(ctx, logMsgWorkerPanic, nil, logAttrRole, string(w.role), logAttrWorkerID, w.id, logAttrPanic, fmt.Sprint(r))
			pause = w.fatalBackoff
		}
	}()

	instance, err := w.policy.Resolve(w.role)
	if err != nil {
		w.logError(ctx, logMsgResolveFailed, err, logAttrRole, string(w.role), logAttrWorkerID, w.id)
		return w.fatalBackoff
	}

	// a stop may have been requested while resolving
	if !w.state.Running() {
		return 0
	}

	started = true
	w.metrics.recordStarted()

	outcome := w.executor.Execute(ctx, instance)
	recorded = true

	if outcome.Status == anomaly.StatusFatal {
		return w.fatalBackoff
	}

	return w.pacing.Draw()
}
