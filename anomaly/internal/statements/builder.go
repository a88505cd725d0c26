// Package statements renders anomaly operations and schema DDL into SQL for the supported dialects.
package statements

import (
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"    // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// Dialect names a SQL dialect known to goqu.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

const (
	colID         = "id"
	colCounter    = "counter"
	colPayload    = "payload"
	colUpdatedAt  = "updated_at"
	colResourceID = "resource_id"

	// SeedCounter is the initial counter value of every seeded resource row.
	SeedCounter = 1000
	// SeedBatchSize bounds the number of rows per seeding INSERT.
	SeedBatchSize = 1000

	emptyPayload = "{}"
)

var ErrUnknownDialect = errors.New("unknown sql dialect")
var ErrUnsupportedOperation = errors.New("operation not supported on table kind")

// Builder renders statements for one dialect. Values are interpolated, not bound,
// so the rendered strings can be sent through any adapter unchanged.
type Builder struct {
	dialect Dialect
	sql     goqu.DialectWrapper
}

// New creates a Builder for dialect.
func New(dialect Dialect) (Builder, error) {
	switch dialect {
	case Postgres, MySQL:
		return Builder{dialect: dialect, sql: goqu.Dialect(string(dialect))}, nil
	default:
		return Builder{}, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
}

// Dialect returns the dialect the Builder renders.
func (b Builder) Dialect() Dialect {
	return b.dialect
}

// Operation renders a single transaction operation.
func (b Builder) Operation(op anomaly.Operation) (string, error) {
	var (
		query string
		err   error
	)

	switch op.Kind {
	case anomaly.OpLockingRead:
		query, _, err = b.selectResource(op).ForUpdate(exp.Wait).ToSQL()
	case anomaly.OpRead:
		query, _, err = b.selectResource(op).ToSQL()
	case anomaly.OpWrite:
		record := goqu.Record{
			colCounter:   goqu.L(colCounter+" + ?", op.Delta),
			colUpdatedAt: goqu.L("CURRENT_TIMESTAMP"),
		}
		if len(op.Payload) > 0 {
			record[colPayload] = string(op.Payload)
		}

		query, _, err = b.sql.Update(op.Table).
			Set(record).
			Where(goqu.C(colID).Eq(int64(op.Key))).
			ToSQL()
	case anomaly.OpInsert:
		payload := emptyPayload
		if len(op.Payload) > 0 {
			payload = string(op.Payload)
		}

		query, _, err = b.sql.Insert(op.Table).
			Rows(goqu.Record{colResourceID: int64(op.Key), colPayload: payload}).
			ToSQL()
	case anomaly.OpDelete:
		query, _, err = b.sql.Delete(op.Table).
			Where(goqu.C(colResourceID).Eq(int64(op.Key))).
			ToSQL()
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOperation, op.Kind)
	}

	if err != nil {
		return "", fmt.Errorf("building %s statement: %w", op.Kind, err)
	}

	return query, nil
}

func (b Builder) selectResource(op anomaly.Operation) *goqu.SelectDataset {
	return b.sql.From(op.Table).
		Select(colID, colCounter).
		Where(goqu.C(colID).Eq(int64(op.Key)))
}
