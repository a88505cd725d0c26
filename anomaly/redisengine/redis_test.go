package redisengine_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/engine"
	"github.com/AntonStoeckl/contention-simulator/anomaly/redisengine"
)

const (
	sensors  = "device_metadata"
	readings = "sensor_readings"
)

var testTables = []anomaly.Table{
	{Name: sensors, Kind: anomaly.TableResource},
	{Name: readings, Kind: anomaly.TableLog},
}

func givenBackend(t *testing.T) (*redisengine.Backend, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend, err := redisengine.NewBackend(client)
	require.NoError(t, err)

	return backend, server
}

func givenSeededBackend(t *testing.T, size int64) (*redisengine.Backend, *miniredis.Miniredis) {
	t.Helper()

	backend, server := givenBackend(t)
	require.NoError(t, backend.Bootstrap(context.Background(), testTables, anomaly.KeySpace{Size: size}))

	return backend, server
}

func givenOpenTransaction(t *testing.T, backend *redisengine.Backend) anomaly.Session {
	t.Helper()

	session, err := backend.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	require.NoError(t, session.Begin(context.Background()))

	return session
}

func lockKey(key anomaly.ResourceKey) anomaly.Operation {
	return anomaly.Operation{Kind: anomaly.OpLockingRead, Table: sensors, Key: key}
}

func increment(key anomaly.ResourceKey) anomaly.Operation {
	return anomaly.Operation{Kind: anomaly.OpWrite, Table: sensors, Key: key, Delta: 1, Payload: []byte(`{"v":1}`)}
}

func Test_Bootstrap_SeedsCountersIdempotently(t *testing.T) {
	// setup
	backend, server := givenSeededBackend(t, 5)
	server.HSet("device_metadata:{3}", "counter", "7")

	// act
	err := backend.Bootstrap(context.Background(), testTables, anomaly.KeySpace{Size: 5})

	// assert
	require.NoError(t, err)
	assert.Equal(t, "1000", server.HGet("device_metadata:{1}", "counter"))
	assert.Equal(t, "7", server.HGet("device_metadata:{3}", "counter"))
	assert.Equal(t, "1000", server.HGet("device_metadata:{5}", "counter"))
	assert.False(t, server.Exists("device_metadata:{6}"))
}

func Test_Session_CommitAppliesBufferedWrites(t *testing.T) {
	// setup
	backend, server := givenSeededBackend(t, 5)
	ctx := context.Background()
	session := givenOpenTransaction(t, backend)

	// act
	require.NoError(t, session.Execute(ctx, lockKey(2)))
	require.NoError(t, session.Execute(ctx, increment(2)))
	require.NoError(t, session.Execute(ctx, anomaly.Operation{
		Kind: anomaly.OpInsert, Table: readings, Key: 2, Payload: []byte(`{"reading":1}`),
	}))
	assert.Equal(t, "1000", server.HGet("device_metadata:{2}", "counter"), "writes are buffered until commit")
	err := session.Commit(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "1001", server.HGet("device_metadata:{2}", "counter"))
	assert.Equal(t, `{"v":1}`, server.HGet("device_metadata:{2}", "payload"))

	entries, listErr := server.List("sensor_readings:{2}:log")
	require.NoError(t, listErr)
	assert.Equal(t, []string{`{"reading":1}`}, entries)
}

func Test_Session_ConcurrentWriterBetweenReadAndCommit_IsRetryableConflict(t *testing.T) {
	// setup
	backend, server := givenSeededBackend(t, 5)
	ctx := context.Background()
	slow := givenOpenTransaction(t, backend)
	fast := givenOpenTransaction(t, backend)

	require.NoError(t, slow.Execute(ctx, lockKey(1)))
	require.NoError(t, slow.Execute(ctx, increment(1)))

	require.NoError(t, fast.Execute(ctx, lockKey(1)))
	require.NoError(t, fast.Execute(ctx, increment(1)))
	require.NoError(t, fast.Commit(ctx))

	// act
	err := slow.Commit(ctx)

	// assert
	assert.ErrorIs(t, err, redisengine.ErrOptimisticConflict)
	assert.Equal(t, anomaly.StatusRetryableConflict, backend.Classify(err))
	assert.Equal(t, "1001", server.HGet("device_metadata:{1}", "counter"))
}

func Test_Session_RollbackDiscardsBufferedWrites(t *testing.T) {
	// setup
	backend, server := givenSeededBackend(t, 5)
	ctx := context.Background()
	session := givenOpenTransaction(t, backend)
	require.NoError(t, session.Execute(ctx, lockKey(4)))
	require.NoError(t, session.Execute(ctx, increment(4)))

	// act
	require.NoError(t, session.Rollback(ctx))

	// assert
	assert.ErrorIs(t, session.Commit(ctx), anomaly.ErrNoTransaction)
	assert.Equal(t, "1000", server.HGet("device_metadata:{4}", "counter"))
}

func Test_Session_UnseededKey_IsFatal(t *testing.T) {
	// setup
	backend, _ := givenSeededBackend(t, 5)
	session := givenOpenTransaction(t, backend)

	// act
	err := session.Execute(context.Background(), lockKey(99))

	// assert
	assert.ErrorIs(t, err, anomaly.ErrResourceNotSeeded)
	assert.Equal(t, anomaly.StatusFatal, backend.Classify(err))
}

func Test_Session_WriteWithoutLockingRead_UnseededKey_IsFatalAndCreatesNothing(t *testing.T) {
	// setup
	backend, server := givenSeededBackend(t, 5)
	ctx := context.Background()
	session := givenOpenTransaction(t, backend)
	require.NoError(t, session.Execute(ctx, increment(3)))
	require.NoError(t, session.Execute(ctx, increment(99)))

	// act
	err := session.Commit(ctx)

	// assert
	assert.ErrorIs(t, err, anomaly.ErrResourceNotSeeded)
	assert.Equal(t, anomaly.StatusFatal, backend.Classify(err))
	assert.False(t, server.Exists("device_metadata:{99}"))
	assert.Equal(t, "1000", server.HGet("device_metadata:{3}", "counter"))
}

func Test_Session_WriteWithoutLockingRead_SeededKey_Commits(t *testing.T) {
	// setup
	backend, server := givenSeededBackend(t, 5)
	ctx := context.Background()
	session := givenOpenTransaction(t, backend)
	require.NoError(t, session.Execute(ctx, increment(5)))

	// act
	err := session.Commit(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "1001", server.HGet("device_metadata:{5}", "counter"))
}

func Test_Connect_ServerDown_Fails(t *testing.T) {
	// setup
	backend, server := givenBackend(t)
	server.Close()

	// act
	_, err := backend.Connect(context.Background())

	// assert
	assert.Error(t, err)
}

func Test_Run_HotKey_SuccessfulCommitsMatchCounter(t *testing.T) {
	// setup
	backend, server := givenSeededBackend(t, 1)
	cfg := anomaly.ScenarioConfig{
		Name:   "hot-counter",
		Tables: testTables,
		Templates: []anomaly.Template{{
			Role:      "sensor_writer",
			Keys:      anomaly.KeyCount{Min: 1, Max: 1},
			ThinkTime: anomaly.DelayRange{Min: time.Millisecond, Max: 2 * time.Millisecond},
			Steps: []anomaly.Step{
				{Kind: anomaly.OpLockingRead, Table: sensors, Slot: 0},
				{Kind: anomaly.OpWrite, Table: sensors, Slot: 0, Delta: 1},
			},
		}},
		Workers:  map[anomaly.Role]int{"sensor_writer": 4},
		KeySpace: anomaly.KeySpace{Size: 1},
		Pacing:   anomaly.DelayRange{Max: time.Millisecond},
		Retry:    anomaly.RetryPolicy{MaxAttempts: 2},
		Connect:  anomaly.ConnectPolicy{MaxAttempts: 1},
	}
	supervisor, err := engine.NewSupervisor(backend)
	require.NoError(t, err)

	// act
	handle, err := supervisor.Start(context.Background(), cfg)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snapshot := handle.Metrics()
		return snapshot.Completed > 50 && snapshot.RetryableConflicts > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, handle.Stop(2*time.Second))

	// assert
	snapshot := handle.Metrics()
	assert.Equal(t, snapshot.Completed, snapshot.Successes+snapshot.ConflictsExhausted+snapshot.FatalErrors)
	assert.Equal(t, int64(0), snapshot.FatalErrors)
	assert.Equal(t, strconv.FormatInt(1000+snapshot.Successes, 10), server.HGet("device_metadata:{1}", "counter"))
}

func Test_NewBackend_NilClient_Fails(t *testing.T) {
	// act
	_, err := redisengine.NewBackend(nil)

	// assert
	assert.ErrorIs(t, err, anomaly.ErrNilDatabaseConnection)
}
