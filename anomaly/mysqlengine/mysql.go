package mysqlengine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/adapters"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/sqlbackend"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/statements"
)

const backendName = "mysql"

// InnoDB error numbers after which re-running the whole transaction can succeed.
const (
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
)

// Option defines a functional option for configuring a Backend.
type Option func(*Backend) error

// WithLogger sets the logger that receives executed statements at debug level
// and bootstrap progress at info level.
func WithLogger(logger anomaly.Logger) Option {
	return func(b *Backend) error {
		if logger == nil {
			return anomaly.ErrNilBackendLogger
		}

		b.logger = logger

		return nil
	}
}

// Backend is the MySQL anomaly.Backend. It is safe for concurrent use.
type Backend struct {
	sql    *sqlbackend.Backend
	logger anomaly.Logger
}

// NewBackend creates a new Backend using a sql.DB opened with the go-sql-driver/mysql driver.
func NewBackend(db *sql.DB, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, anomaly.ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewSQLAdapter(db), options)
}

// NewBackendFromSQLX creates a new Backend using a sqlx.DB.
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

	builder, err := statements.New(statements.MySQL)
	if err != nil {
		return nil, err
	}

	b.sql = sqlbackend.New(backendName, db, builder, Classify, b.logger)

	return b, nil
}

func (b *Backend) Name() string {
	return b.sql.Name()
}

func (b *Backend) Connect(ctx context.Context) (anomaly.Session, error) {
	return b.sql.Connect(ctx)
}

func (b *Backend) Classify(err error) anomaly.Status {
	return b.sql.Classify(err)
}

func (b *Backend) Bootstrap(ctx context.Context, tables []anomaly.Table, keys anomaly.KeySpace) error {
	return b.sql.Bootstrap(ctx, tables, keys)
}

// Classify maps a go-sql-driver/mysql error to a Status.
func Classify(err error) anomaly.Status {
	if err == nil {
		return anomaly.StatusSuccess
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockDeadlock, errLockWaitTimeout:
			return anomaly.StatusRetryableConflict
		}
	}

	return anomaly.StatusFatal
}
