package postgresengine

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// retryableStates are the SQLSTATEs after which re-running the whole transaction can succeed.
var retryableStates = map[string]struct{}{
	pgerrcode.DeadlockDetected:     {},
	pgerrcode.SerializationFailure: {},
	pgerrcode.LockNotAvailable:     {},
	pgerrcode.TransactionRollback:  {},
}

// Classify maps a pgx or lib/pq error to a Status. Errors without a SQLSTATE are fatal.
func Classify(err error) anomaly.Status {
	if err == nil {
		return anomaly.StatusSuccess
	}

	if _, ok := retryableStates[sqlState(err)]; ok {
		return anomaly.StatusRetryableConflict
	}

	return anomaly.StatusFatal
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	return ""
}
