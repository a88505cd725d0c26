package anomaly

import (
	"errors"
)

var ErrUnknownRole = errors.New("no template registered for role")
var ErrInvalidKeySpace = errors.New("invalid key space")
var ErrInvalidProbability = errors.New("probability must be within [0, 1]")
var ErrInvalidTemplate = errors.New("invalid transaction template")
var ErrKeyCountExceedsUniverse = errors.New("key count exceeds the reachable key set")
var ErrEmptyColdRange = errors.New("hot range covers the whole key space but hotspot probability is below 1")
var ErrInvalidDelayRange = errors.New("invalid delay range")
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")
var ErrInvalidConnectPolicy = errors.New("invalid connect policy")
var ErrInvalidScenario = errors.New("invalid scenario configuration")

// ErrConnectionFailed is returned when no session could be acquired within the connect policy's attempts.
var ErrConnectionFailed = errors.New("connection to backing store failed")

// ErrAttemptsExhausted is attached to outcomes whose retryable conflicts outlasted the retry policy.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// ErrNoTransaction is returned by sessions when an operation is executed outside Begin/Commit.
var ErrNoTransaction = errors.New("no transaction in progress")

// ErrTransactionInProgress is returned by sessions when Begin is called twice.
var ErrTransactionInProgress = errors.New("transaction already in progress")

// ResourceKey identifies one contended row, document or shard bucket. Keys are drawn from [1, N].
type ResourceKey int64

// Role names a class of worker, e.g. "buyer" or "restocker".
type Role string

// ErrResourceNotSeeded is returned by sessions when an operation targets a resource row that does not exist.
var ErrResourceNotSeeded = errors.New("resource not seeded")

// ErrNilDatabaseConnection is returned by backend constructors when no connection pool or client is supplied.
var ErrNilDatabaseConnection = errors.New("nil database connection supplied")

// ErrNilBackendLogger is returned by the WithLogger options of the backends.
var ErrNilBackendLogger = errors.New("nil logger supplied")
