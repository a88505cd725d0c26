package postgresengine

import (
	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// Option defines a functional option for configuring a Backend.
type Option func(*Backend) error

// WithLogger sets the logger for the Backend.
// Debug level: every executed statement with its timing (development use)
// Info level: schema bootstrap progress
// Warn level: cleanup failures like a rollback on session close.
func WithLogger(logger anomaly.Logger) Option {
	return func(b *Backend) error {
		if logger == nil {
			return anomaly.ErrNilBackendLogger
		}

		b.logger = logger

		return nil
	}
}
