// Package postgreswrapper creates postgresengine backends for integration tests over the adapter
// selected by the ADAPTER_TYPE environment variable (pgxpool, sqldb, sqlx).
package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/postgresengine"
)

// DSNEnv names the environment variable holding the test database DSN. Tests skip when it is unset.
const DSNEnv = "CONTENTION_TEST_POSTGRES_DSN"

// Engine type constants
const (
	typePGXPool = "pgxpool"
	typeSQLDB   = "sqldb"
	typeSQLX    = "sqlx"
)

// Wrapper abstracts over the different adapter types.
type Wrapper interface {
	Backend() *postgresengine.Backend
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing
type PGXPoolWrapper struct {
	pool    *pgxpool.Pool
	backend *postgresengine.Backend
}

func (w *PGXPoolWrapper) Backend() *postgresengine.Backend {
	return w.backend
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing
type SQLDBWrapper struct {
	db      *sql.DB
	backend *postgresengine.Backend
}

func (w *SQLDBWrapper) Backend() *postgresengine.Backend {
	return w.backend
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps sqlx-based testing
type SQLXWrapper struct {
	db      *sqlx.DB
	backend *postgresengine.Backend
}

func (w *SQLXWrapper) Backend() *postgresengine.Backend {
	return w.backend
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// CreateWrapper creates the wrapper for the adapter named in ADAPTER_TYPE, defaulting to pgxpool.
// It skips the test when no test database is configured and closes the wrapper on cleanup.
func CreateWrapper(t testing.TB, options ...postgresengine.Option) Wrapper {
	t.Helper()

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}

	var wrapper Wrapper
	engineTypeFromEnv := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	switch engineTypeFromEnv {
	case typePGXPool, "":
		pool, err := pgxpool.New(context.Background(), dsn)
		require.NoError(t, err, "error connecting to DB pool in test setup")
		backend, err := postgresengine.NewBackendFromPGXPool(pool, options...)
		require.NoError(t, err)
		wrapper = &PGXPoolWrapper{pool: pool, backend: backend}

	case typeSQLDB:
		db, err := sql.Open("postgres", dsn)
		require.NoError(t, err, "error opening DB in test setup")
		backend, err := postgresengine.NewBackendFromSQLDB(db, options...)
		require.NoError(t, err)
		wrapper = &SQLDBWrapper{db: db, backend: backend}

	case typeSQLX:
		db, err := sqlx.Open("postgres", dsn)
		require.NoError(t, err, "error opening DB in test setup")
		backend, err := postgresengine.NewBackendFromSQLX(db, options...)
		require.NoError(t, err)
		wrapper = &SQLXWrapper{db: db, backend: backend}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", engineTypeFromEnv))
	}

	t.Cleanup(wrapper.Close)

	return wrapper
}

// CounterOf reads the counter of a resource row outside of any simulator session.
func CounterOf(t testing.TB, wrapper Wrapper, table string, key anomaly.ResourceKey) int64 {
	t.Helper()

	query := fmt.Sprintf(`SELECT counter FROM %q WHERE id = $1`, table)

	var counter int64
	var err error

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		err = w.pool.QueryRow(context.Background(), query, int64(key)).Scan(&counter)

	case *SQLDBWrapper:
		err = w.db.QueryRow(query, int64(key)).Scan(&counter)

	case *SQLXWrapper:
		err = w.db.Get(&counter, query, int64(key))

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	require.NoError(t, err, "error reading the counter")

	return counter
}

// ResetCounters puts every counter of table back to its seed value.
func ResetCounters(t testing.TB, wrapper Wrapper, table string, seed int64) {
	t.Helper()

	query := fmt.Sprintf(`UPDATE %q SET counter = $1`, table)

	var err error

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		_, err = w.pool.Exec(context.Background(), query, seed)

	case *SQLDBWrapper:
		_, err = w.db.Exec(query, seed)

	case *SQLXWrapper:
		_, err = w.db.Exec(query, seed)

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	require.NoError(t, err, "error resetting the counters")
}
