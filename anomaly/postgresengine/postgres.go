package postgresengine

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/adapters"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/sqlbackend"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/statements"
)

const backendName = "postgres"

// Backend is the PostgreSQL anomaly.Backend. It is safe for concurrent use.
type Backend struct {
	sql    *sqlbackend.Backend
	logger anomaly.Logger
}

// NewBackendFromPGXPool creates a new Backend using a pgx Pool with optional configuration.
func NewBackendFromPGXPool(db *pgxpool.Pool, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, anomaly.ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewPGXAdapter(db), options)
}

// NewBackendFromSQLDB creates a new Backend using a sql.DB (lib/pq driver) with optional configuration.
func NewBackendFromSQLDB(db *sql.DB, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, anomaly.ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewSQLAdapter(db), options)
}

// NewBackendFromSQLX creates a new Backend using a sqlx.DB with optional configuration.
func NewBackendFromSQLX(db *sqlx.DB, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, anomaly.ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewSQLXAdapter(db), options)
}

func newBackend(db adapters.DBAdapter, options []Option) (*Backend, error) {
	b := &Backend{}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	builder, err := statements.New(statements.Postgres)
	if err != nil {
		return nil, err
	}

	b.sql = sqlbackend.New(backendName, db, builder, Classify, b.logger)

	return b, nil
}

// Name returns "postgres".
func (b *Backend) Name() string {
	return b.sql.Name()
}

// Connect pins a pooled connection for a new session.
func (b *Backend) Connect(ctx context.Context) (anomaly.Session, error) {
	return b.sql.Connect(ctx)
}

// Classify maps err to a Status using the SQLSTATE table.
func (b *Backend) Classify(err error) anomaly.Status {
	return b.sql.Classify(err)
}

// Bootstrap creates the scenario tables if missing and seeds resource rows 1..N.
func (b *Backend) Bootstrap(ctx context.Context, tables []anomaly.Table, keys anomaly.KeySpace) error {
	return b.sql.Bootstrap(ctx, tables, keys)
}
