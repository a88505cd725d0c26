package sqlbackend_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/adapters"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/sqlbackend"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/statements"
	. "github.com/AntonStoeckl/contention-simulator/testutil/helper"
)

var errDeadlock = errors.New("fake: deadlock detected")

// fakeDB records every statement and answers each with the configured row count.
type fakeDB struct {
	mu         sync.Mutex
	statements []string
	rows       int64
	failOn     string
	connClosed int
	commits    int
	rollbacks  int
}

func (f *fakeDB) record(query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statements = append(f.statements, query)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return errDeadlock
	}

	return nil
}

func (f *fakeDB) Conn(context.Context) (adapters.DBConn, error) { return &fakeConn{db: f}, nil }

func (f *fakeDB) Query(_ context.Context, query string) (adapters.DBRows, error) {
	if err := f.record(query); err != nil {
		return nil, err
	}

	return &fakeRows{remaining: f.rows}, nil
}

func (f *fakeDB) Exec(_ context.Context, query string) (adapters.DBResult, error) {
	if err := f.record(query); err != nil {
		return nil, err
	}

	return fakeResult(f.rows), nil
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Begin(context.Context) (adapters.DBTx, error) { return &fakeTx{db: c.db}, nil }

func (c *fakeConn) Close() error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.connClosed++

	return nil
}

type fakeTx struct{ db *fakeDB }

func (t *fakeTx) Query(ctx context.Context, query string) (adapters.DBRows, error) {
	return t.db.Query(ctx, query)
}

func (t *fakeTx) Exec(ctx context.Context, query string) (adapters.DBResult, error) {
	return t.db.Exec(ctx, query)
}

func (t *fakeTx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.commits++

	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rollbacks++

	return nil
}

type fakeRows struct{ remaining int64 }

func (r *fakeRows) Next() bool {
	if r.remaining == 0 {
		return false
	}
	r.remaining--

	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	for _, d := range dest {
		*(d.(*int64)) = 1
	}

	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

type fakeResult int64

func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

func givenBackend(t *testing.T, db *fakeDB, logger anomaly.Logger) *sqlbackend.Backend {
	t.Helper()

	builder, err := statements.New(statements.Postgres)
	require.NoError(t, err)

	classify := func(err error) anomaly.Status {
		if errors.Is(err, errDeadlock) {
			return anomaly.StatusRetryableConflict
		}

		return anomaly.StatusFatal
	}

	return sqlbackend.New("fake", db, builder, classify, logger)
}

func Test_Session_RunsOperationsInsideOneTransaction(t *testing.T) {
	// setup
	logHandler := NewLogHandlerSpy(false)
	db := &fakeDB{rows: 1}
	backend := givenBackend(t, db, logHandler.Logger())
	ctx := context.Background()

	session, err := backend.Connect(ctx)
	require.NoError(t, err)

	// act
	require.NoError(t, session.Begin(ctx))
	require.NoError(t, session.Execute(ctx, anomaly.Operation{Kind: anomaly.OpLockingRead, Table: "inventory", Key: 4}))
	require.NoError(t, session.Execute(ctx, anomaly.Operation{Kind: anomaly.OpWrite, Table: "inventory", Key: 4, Delta: 1}))
	require.NoError(t, session.Commit(ctx))
	require.NoError(t, session.Close())

	// assert
	require.Len(t, db.statements, 2)
	assert.Contains(t, db.statements[0], "FOR UPDATE")
	assert.Contains(t, db.statements[1], "UPDATE")
	assert.Equal(t, 1, db.commits)
	assert.Equal(t, 0, db.rollbacks)
	assert.Equal(t, 1, db.connClosed)
	assert.True(t, logHandler.HasDebugLogWithMessage("executed sql for: locking_read").WithAttrKey("query").Assert())
}

func Test_Session_EnforcesTransactionBoundaries(t *testing.T) {
	// setup
	db := &fakeDB{rows: 1}
	ctx := context.Background()
	session, err := givenBackend(t, db, nil).Connect(ctx)
	require.NoError(t, err)

	// act & assert
	assert.ErrorIs(t, session.Execute(ctx, anomaly.Operation{Kind: anomaly.OpRead, Table: "inventory", Key: 1}),
		anomaly.ErrNoTransaction)
	assert.ErrorIs(t, session.Commit(ctx), anomaly.ErrNoTransaction)
	assert.NoError(t, session.Rollback(ctx))

	require.NoError(t, session.Begin(ctx))
	assert.ErrorIs(t, session.Begin(ctx), anomaly.ErrTransactionInProgress)
}

func Test_Session_MissingRow_IsReported(t *testing.T) {
	// setup
	db := &fakeDB{rows: 0}
	ctx := context.Background()
	backend := givenBackend(t, db, nil)
	session, err := backend.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Begin(ctx))

	// act
	err = session.Execute(ctx, anomaly.Operation{Kind: anomaly.OpLockingRead, Table: "inventory", Key: 99})
	deleteErr := session.Execute(ctx, anomaly.Operation{Kind: anomaly.OpDelete, Table: "orders", Key: 99})

	// assert
	assert.ErrorIs(t, err, anomaly.ErrResourceNotSeeded)
	assert.Equal(t, anomaly.StatusFatal, backend.Classify(err))
	assert.NoError(t, deleteErr)
}

func Test_Session_DriverErrorIsClassifiedByTheBackendTable(t *testing.T) {
	// setup
	db := &fakeDB{rows: 1, failOn: "UPDATE"}
	ctx := context.Background()
	backend := givenBackend(t, db, nil)
	session, err := backend.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Begin(ctx))

	// act
	err = session.Execute(ctx, anomaly.Operation{Kind: anomaly.OpWrite, Table: "inventory", Key: 1, Delta: 1})

	// assert
	assert.Equal(t, anomaly.StatusRetryableConflict, backend.Classify(err))
	assert.Equal(t, anomaly.StatusSuccess, backend.Classify(nil))
}

func Test_Session_CloseRollsBackOpenTransaction(t *testing.T) {
	// setup
	db := &fakeDB{rows: 1}
	ctx := context.Background()
	session, err := givenBackend(t, db, nil).Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Begin(ctx))

	// act
	require.NoError(t, session.Close())

	// assert
	assert.Equal(t, 1, db.rollbacks)
	assert.Equal(t, 1, db.connClosed)
}

func Test_Bootstrap_CreatesAndSeedsTables(t *testing.T) {
	// setup
	logHandler := NewLogHandlerSpy(false)
	db := &fakeDB{rows: 1}
	backend := givenBackend(t, db, logHandler.Logger())
	tables := []anomaly.Table{
		{Name: "inventory", Kind: anomaly.TableResource},
		{Name: "orders", Kind: anomaly.TableLog},
	}

	// act
	err := backend.Bootstrap(context.Background(), tables, anomaly.KeySpace{Size: 10})

	// assert
	require.NoError(t, err)
	require.Len(t, db.statements, 4)
	assert.Contains(t, db.statements[0], `CREATE TABLE IF NOT EXISTS "inventory"`)
	assert.Contains(t, db.statements[1], `INSERT INTO "inventory"`)
	assert.Contains(t, db.statements[2], `CREATE TABLE IF NOT EXISTS "orders"`)
	assert.Contains(t, db.statements[3], "CREATE INDEX")
	assert.Equal(t, 2, logHandler.CountLogs(slog.LevelInfo, "table bootstrapped"))
}
