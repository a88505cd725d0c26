package statements

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// CreateTable renders the idempotent DDL for table. Resource tables hold one row per key,
// log tables are append-only and indexed by resource_id.
func (b Builder) CreateTable(table anomaly.Table) ([]string, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	name := b.quote(table.Name)

	switch {
	case b.dialect == Postgres && table.Kind == anomaly.TableResource:
		return []string{fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s ("+
				"id BIGINT PRIMARY KEY, "+
				"counter BIGINT NOT NULL DEFAULT 0, "+
				"payload JSONB NOT NULL DEFAULT '{}'::jsonb, "+
				"updated_at TIMESTAMPTZ NOT NULL DEFAULT now())", name)}, nil

	case b.dialect == Postgres && table.Kind == anomaly.TableLog:
		return []string{
			fmt.Sprintf(
				"CREATE TABLE IF NOT EXISTS %s ("+
					"id BIGSERIAL PRIMARY KEY, "+
					"resource_id BIGINT NOT NULL, "+
					"payload JSONB NOT NULL DEFAULT '{}'::jsonb, "+
					"created_at TIMESTAMPTZ NOT NULL DEFAULT now())", name),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (resource_id)",
				b.quote(table.Name+"_resource_id_idx"), name),
		}, nil

	case b.dialect == MySQL && table.Kind == anomaly.TableResource:
		return []string{fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s ("+
				"id BIGINT NOT NULL PRIMARY KEY, "+
				"counter BIGINT NOT NULL DEFAULT 0, "+
				"payload JSON NULL, "+
				"updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)"+
				") ENGINE=InnoDB", name)}, nil

	case b.dialect == MySQL && table.Kind == anomaly.TableLog:
		return []string{fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s ("+
				"id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, "+
				"resource_id BIGINT NOT NULL, "+
				"payload JSON NULL, "+
				"created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6), "+
				"INDEX idx_resource_id (resource_id)"+
				") ENGINE=InnoDB", name)}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDialect, b.dialect)
	}
}

// Seed renders batched inserts of rows 1..keys.Size into a resource table. Existing rows are
// left untouched, so seeding is idempotent. Log tables start empty and yield no statements.
func (b Builder) Seed(table anomaly.Table, keys anomaly.KeySpace) ([]string, error) {
	if table.Kind != anomaly.TableResource {
		return nil, nil
	}

	if err := keys.Validate(); err != nil {
		return nil, err
	}

	statements := make([]string, 0, (keys.Size+SeedBatchSize-1)/SeedBatchSize)
	for from := int64(1); from <= keys.Size; from += SeedBatchSize {
		to := min(from+SeedBatchSize-1, keys.Size)

		rows := make([][]any, 0, to-from+1)
		for id := from; id <= to; id++ {
			rows = append(rows, []any{id, SeedCounter, emptyPayload})
		}

		query, _, err := b.sql.Insert(table.Name).
			Cols(colID, colCounter, colPayload).
			Vals(rows...).
			OnConflict(goqu.DoNothing()).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("building seed statement for %s: %w", table.Name, err)
		}

		statements = append(statements, query)
	}

	return statements, nil
}

func (b Builder) quote(identifier string) string {
	if b.dialect == MySQL {
		return "`" + identifier + "`"
	}

	return `"` + identifier + `"`
}
