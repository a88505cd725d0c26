package anomaly

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the classification of an attempt or of a completed TransactionInstance.
type Status int

const (
	StatusSuccess Status = iota
	StatusRetryableConflict
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryableConflict:
		return "retryable_conflict"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of executing one TransactionInstance, retries included.
type Outcome struct {
	InstanceID uuid.UUID
	Role       Role
	Status     Status
	Attempts   int
	Duration   time.Duration
	// TotalBackoff is the time spent waiting between attempts.
	TotalBackoff time.Duration
	// Exhausted is set when the last attempt was a retryable conflict and no attempts were left.
	Exhausted bool
	Detail    string
	Err       error
}

// Session is one dedicated connection to the backing store. A session runs at most one
// transaction at a time and is never shared between goroutines.
type Session interface {
	Begin(ctx context.Context) error
	Execute(ctx context.Context, op Operation) error
	Commit(ctx context.Context) error
	// Rollback must be safe to call when no transaction is active.
	Rollback(ctx context.Context) error
	// Close returns the session to its pool, rolling back any transaction still open.
	Close() error
}

// Backend is an opaque transactional store with an explicit error classification table.
type Backend interface {
	Name() string
	Connect(ctx context.Context) (Session, error)
	// Classify maps a data-access error to a Status; nil maps to StatusSuccess.
	Classify(err error) Status
}

// SchemaBootstrapper is implemented by backends that can create and seed a scenario's tables.
type SchemaBootstrapper interface {
	Bootstrap(ctx context.Context, tables []Table, keys KeySpace) error
}
