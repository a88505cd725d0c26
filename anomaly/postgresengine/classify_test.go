package postgresengine_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/postgresengine"
)

func Test_Classify_MapsSQLStates(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want anomaly.Status
	}{
		{name: "nil", err: nil, want: anomaly.StatusSuccess},
		{name: "pgx deadlock", err: &pgconn.PgError{Code: "40P01"}, want: anomaly.StatusRetryableConflict},
		{name: "pgx serialization failure", err: &pgconn.PgError{Code: "40001"}, want: anomaly.StatusRetryableConflict},
		{name: "pgx lock not available", err: &pgconn.PgError{Code: "55P03"}, want: anomaly.StatusRetryableConflict},
		{name: "pgx transaction rollback", err: &pgconn.PgError{Code: "40000"}, want: anomaly.StatusRetryableConflict},
		{name: "pgx unique violation", err: &pgconn.PgError{Code: "23505"}, want: anomaly.StatusFatal},
		{name: "pgx undefined table", err: &pgconn.PgError{Code: "42P01"}, want: anomaly.StatusFatal},
		{name: "pq deadlock", err: &pq.Error{Code: "40P01"}, want: anomaly.StatusRetryableConflict},
		{name: "pq query canceled", err: &pq.Error{Code: "57014"}, want: anomaly.StatusFatal},
		{name: "wrapped pgx deadlock", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), want: anomaly.StatusRetryableConflict},
		{name: "without sqlstate", err: errors.New("connection reset by peer"), want: anomaly.StatusFatal},
		{name: "not seeded", err: anomaly.ErrResourceNotSeeded, want: anomaly.StatusFatal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			got := postgresengine.Classify(tc.err)

			// assert
			assert.Equal(t, tc.want, got)
		})
	}
}

func Test_NewBackend_NilConnection_Fails(t *testing.T) {
	// act
	_, pgxErr := postgresengine.NewBackendFromPGXPool(nil)
	_, sqlErr := postgresengine.NewBackendFromSQLDB(nil)
	_, sqlxErr := postgresengine.NewBackendFromSQLX(nil)

	// assert
	assert.ErrorIs(t, pgxErr, anomaly.ErrNilDatabaseConnection)
	assert.ErrorIs(t, sqlErr, anomaly.ErrNilDatabaseConnection)
	assert.ErrorIs(t, sqlxErr, anomaly.ErrNilDatabaseConnection)
}

