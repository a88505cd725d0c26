// Package engine runs a contention workload: a Supervisor spawns one goroutine per configured
// role instance, each worker resolves TransactionInstances from the anomaly Policy, and an
// Executor runs them against an anomaly.Backend with whole-instance retries on retryable conflicts.
//
// Shared mutable state is limited to the run flag (RunState) and the aggregate Metrics.
// Sessions and instances are never shared between workers.
//
// Usage:
//
//	supervisor, err := engine.NewSupervisor(backend, engine.WithLogger(logger))
//	if err != nil {
//		// handle error
//	}
//
//	handle, err := supervisor.Start(ctx, cfg)
//	if err != nil {
//		// backing store unreachable or invalid configuration
//	}
//
//	<-signals
//	if err := handle.Stop(cfg.GraceTimeout); errors.Is(err, engine.ErrShutdownTimeout) {
//		// some workers were abandoned
//	}
package engine
