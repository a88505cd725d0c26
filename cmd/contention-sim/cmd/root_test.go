package cmd_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/engine"
	"github.com/AntonStoeckl/contention-simulator/cmd/contention-sim/cmd"
	"github.com/AntonStoeckl/contention-simulator/scenario"
)

type summary struct {
	RunID            string                 `json:"run_id"`
	Scenario         string                 `json:"scenario"`
	Backend          string                 `json:"backend"`
	ShutdownTimedOut bool                   `json:"shutdown_timed_out"`
	Metrics          engine.MetricsSnapshot `json:"metrics"`
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := cmd.NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func givenRedisServer(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	return server
}

func Test_Scenarios_ListsAllPresets(t *testing.T) {
	// act
	stdout, _, err := execute(t, "scenarios")

	// assert
	require.NoError(t, err)
	assert.Contains(t, stdout, "NAME")
	assert.Contains(t, stdout, scenario.Deadlock)
	assert.Contains(t, stdout, "buyer=20,reporter=1,restocker=5")
	assert.Contains(t, stdout, scenario.Bloat)
	assert.Contains(t, stdout, scenario.Hotspot)
	assert.Contains(t, stdout, "1000-2000")
}

func Test_Run_AgainstRedis_PrintsSummary(t *testing.T) {
	// setup
	server := givenRedisServer(t)

	// act
	stdout, stderr, err := execute(t, "run",
		"--scenario", scenario.Hotspot,
		"--backend", scenario.BackendRedis,
		"--dsn", "redis://"+server.Addr()+"/0",
		"--run-duration", "300ms",
		"--grace-timeout", "5s",
		"--bootstrap",
		"--log-format", "text",
	)

	// assert
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "table bootstrapped")
	assert.Contains(t, stderr, "workload started")

	var result summary
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(stdout, &result))
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, scenario.Hotspot, result.Scenario)
	assert.Equal(t, "redis", result.Backend)
	assert.False(t, result.ShutdownTimedOut)
	assert.Positive(t, result.Metrics.Completed)
	assert.Equal(t, result.Metrics.Completed,
		result.Metrics.Successes+result.Metrics.ConflictsExhausted+result.Metrics.FatalErrors)
}

func Test_Schema_BootstrapsRedis(t *testing.T) {
	// setup
	server := givenRedisServer(t)

	// act
	stdout, _, err := execute(t, "schema",
		"--scenario", scenario.Deadlock,
		"--backend", scenario.BackendRedis,
		"--dsn", "redis://"+server.Addr()+"/0",
	)

	// assert
	require.NoError(t, err)
	assert.Contains(t, stdout, "bootstrapped 3 tables of scenario deadlock on redis")
	assert.True(t, server.Exists("inventory:{1}"))
	assert.True(t, server.Exists("inventory:{100}"))
}

func Test_Run_UnreachableBackend_Fails(t *testing.T) {
	// setup
	server := givenRedisServer(t)
	addr := server.Addr()
	server.Close()
	t.Setenv("CONTENTION_CONNECT_MAX_ATTEMPTS", "1")

	// act
	_, _, err := execute(t, "run",
		"--backend", scenario.BackendRedis,
		"--dsn", "redis://"+addr+"/0",
	)

	// assert
	assert.ErrorIs(t, err, anomaly.ErrConnectionFailed)
}

func Test_Run_InvalidConfiguration_Fails(t *testing.T) {
	// act
	_, _, err := execute(t, "run", "--backend", "oracle", "--dsn", "oracle://nowhere")

	// assert
	assert.ErrorIs(t, err, scenario.ErrInvalidConfig)
}
