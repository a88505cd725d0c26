package engine

import (
	"errors"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

var ErrNilLogger = errors.New("nil logger supplied")
var ErrNilMetricsCollector = errors.New("nil metrics collector supplied")
var ErrNilTracingCollector = errors.New("nil tracing collector supplied")
var ErrNilContextualLogger = errors.New("nil contextual logger supplied")

// observers bundles the optional observability dependencies shared by all engine components.
type observers struct {
	logger           anomaly.Logger
	contextualLogger anomaly.ContextualLogger
	metricsCollector anomaly.MetricsCollector
	tracingCollector anomaly.TracingCollector
}

// Option defines a functional option for configuring the Supervisor, Executor, and SessionProvider.
type Option func(*observers) error

// WithLogger sets the logger.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: successful instances, retry decisions, session lifecycle
// Info level: run start/stop, periodic progress reports
// Warn level: retryable conflicts, exhausted attempts, rollback failures, shutdown timeouts
// Error level: fatal outcomes and recovered panics.
func WithLogger(logger anomaly.Logger) Option {
	return func(o *observers) error {
		if logger == nil {
			return ErrNilLogger
		}

		o.logger = logger

		return nil
	}
}

// WithMetrics sets the metrics collector that exports counters and latencies.
func WithMetrics(collector anomaly.MetricsCollector) Option {
	return func(o *observers) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		o.metricsCollector = collector

		return nil
	}
}

// WithTracing sets the tracing collector; every transaction instance becomes one span.
func WithTracing(collector anomaly.TracingCollector) Option {
	return func(o *observers) error {
		if collector == nil {
			return ErrNilTracingCollector
		}

		o.tracingCollector = collector

		return nil
	}
}

// WithContextualLogger sets a context-aware logger that correlates log lines with the active span.
// When set it takes precedence over the plain logger for outcome logging.
func WithContextualLogger(logger anomaly.ContextualLogger) Option {
	return func(o *observers) error {
		if logger == nil {
			return ErrNilContextualLogger
		}

		o.contextualLogger = logger

		return nil
	}
}

func applyOptions(options []Option) (observers, error) {
	var o observers
	for _, option := range options {
		if err := option(&o); err != nil {
			return observers{}, err
		}
	}

	return o, nil
}
