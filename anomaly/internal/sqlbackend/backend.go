// Package sqlbackend implements anomaly.Backend on top of a database adapter and a statement
// builder. The Postgres and MySQL engines differ only in adapter, dialect and classification table.
package sqlbackend

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/adapters"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/statements"
)

const (
	logMsgSQLExecuted      = "executed sql for: "
	logMsgTableBootstrap   = "table bootstrapped"
	logMsgCloseRowsFailed  = "failed to close database rows"
	logMsgRollbackOnClose  = "rollback on session close failed"
	logAttrQuery           = "query"
	logAttrDurationMS      = "duration_ms"
	logAttrRowsAffected    = "rows_affected"
	logAttrTable           = "table"
	logAttrStatementsCount = "statements"
	logAttrError           = "error"
	closeRollbackTimeout   = 5 * time.Second
)

// Classifier maps a driver error to a Status.
type Classifier func(err error) anomaly.Status

// Backend is a SQL anomaly.Backend. It is safe for concurrent use; every session owns a
// dedicated connection.
type Backend struct {
	name     string
	db       adapters.DBAdapter
	builder  statements.Builder
	classify Classifier
	logger   anomaly.Logger
}

// New creates a Backend. logger may be nil.
func New(
	name string,
	db adapters.DBAdapter,
	builder statements.Builder,
	classify Classifier,
	logger anomaly.Logger,
) *Backend {
	return &Backend{name: name, db: db, builder: builder, classify: classify, logger: logger}
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Classify(err error) anomaly.Status {
	if err == nil {
		return anomaly.StatusSuccess
	}

	return b.classify(err)
}

// Connect takes a dedicated connection for a new session.
func (b *Backend) Connect(ctx context.Context) (anomaly.Session, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	return &session{backend: b, conn: conn}, nil
}

// Bootstrap creates the tables if missing and seeds resource tables with keys 1..N.
func (b *Backend) Bootstrap(ctx context.Context, tables []anomaly.Table, keys anomaly.KeySpace) error {
	for _, table := range tables {
		ddl, err := b.builder.CreateTable(table)
		if err != nil {
			return err
		}

		seed, err := b.builder.Seed(table, keys)
		if err != nil {
			return err
		}

		for _, query := range append(ddl, seed...) {
			if _, err := b.db.Exec(ctx, query); err != nil {
				return fmt.Errorf("bootstrapping table %s: %w", table.Name, err)
			}
		}

		b.info(logMsgTableBootstrap, logAttrTable, table.Name, logAttrStatementsCount, len(ddl)+len(seed))
	}

	return nil
}

func (b *Backend) debug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *Backend) info(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Backend) warn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
