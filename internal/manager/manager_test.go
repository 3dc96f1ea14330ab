package manager

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptbox/internal/config"
	"scriptbox/internal/sandbox"
	"scriptbox/internal/sandboxerr"
	"scriptbox/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	t.Cleanup(config.Reset)
	return cfg
}

func newTestManager(t *testing.T, db *storage.DB) *Manager {
	t.Helper()
	m := New(testConfig(t), db, zerolog.Nop())
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)
	return m
}

func TestManagerCreateAndExecute(t *testing.T) {
	m := newTestManager(t, nil)

	inst, err := m.Create(context.Background(), "tenant-a", nil)
	require.NoError(t, err)
	require.NotEmpty(t, inst.ID())
	assert.Equal(t, "tenant-a", inst.TenantID())
	assert.Equal(t, sandbox.StatusCreated, inst.Status())

	result, err := m.Execute(context.Background(), inst.ID(), `__result__ = 6 * 7;`, nil)
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusCompleted, result.Status)
	assert.EqualValues(t, 42, result.Value)
}

func TestManagerExecuteUnknownInstance(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Execute(context.Background(), "no-such-instance", `1;`, nil)
	require.Error(t, err)

	var notFound *sandboxerr.NotFoundError
	assert.True(t, errors.As(err, &notFound))
	assert.Equal(t, "no-such-instance", notFound.InstanceID)
}

func TestManagerPolicyClamping(t *testing.T) {
	m := newTestManager(t, nil)

	loose := sandbox.DefaultConfig()
	loose.MaxExecutionTime = 24 * time.Hour
	loose.MaxMemoryMB = 1 << 20

	inst, err := m.Create(context.Background(), "tenant-a", &loose)
	require.NoError(t, err)

	got := inst.Config()
	assert.LessOrEqual(t, got.MaxExecutionTime, m.defaults.MaxExecutionTime)
	assert.LessOrEqual(t, got.MaxMemoryMB, m.defaults.MaxMemoryMB)
}

func TestManagerInspect(t *testing.T) {
	m := newTestManager(t, nil)

	inst, err := m.Create(context.Background(), "tenant-a", nil)
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), inst.ID(), `marker = "present";`, nil)
	require.NoError(t, err)

	state, err := m.Inspect(inst.ID())
	require.NoError(t, err)
	assert.Equal(t, inst.ID(), state.InstanceID)
	assert.Equal(t, sandbox.StatusCompleted, state.Status)
	assert.Contains(t, state.Globals, "marker")
}

func TestManagerCleanupIdempotent(t *testing.T) {
	m := newTestManager(t, nil)

	inst, err := m.Create(context.Background(), "tenant-a", nil)
	require.NoError(t, err)

	require.NoError(t, m.Cleanup(inst.ID()))
	require.NoError(t, m.Cleanup(inst.ID()))
	require.NoError(t, m.Cleanup("never-existed"))

	_, err = m.Get(inst.ID())
	var notFound *sandboxerr.NotFoundError
	assert.True(t, errors.As(err, &notFound))
	assert.Equal(t, 0, m.Metrics().ActiveInstances)
}

func TestManagerCleanupInterruptsRunning(t *testing.T) {
	m := newTestManager(t, nil)

	inst, err := m.Create(context.Background(), "tenant-a", nil)
	require.NoError(t, err)

	done := make(chan *sandbox.ExecutionResult, 1)
	go func() {
		result, _ := m.Execute(context.Background(), inst.ID(), `while (true) {}`, nil)
		done <- result
	}()

	require.Eventually(t, inst.Running, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Cleanup(inst.ID()))

	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Equal(t, sandbox.StatusCancelled, result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not stop after cleanup")
	}
}

func TestManagerCleanupStopsExecutionEveryTime(t *testing.T) {
	m := newTestManager(t, nil)

	for round := 0; round < 10; round++ {
		inst, err := m.Create(context.Background(), "tenant-a", nil)
		require.NoError(t, err)

		done := make(chan *sandbox.ExecutionResult, 1)
		go func() {
			result, _ := m.Execute(context.Background(), inst.ID(), `while (true) {}`, nil)
			done <- result
		}()

		require.Eventually(t, inst.Running, time.Second, time.Millisecond)
		require.NoError(t, m.Cleanup(inst.ID()))

		select {
		case result := <-done:
			require.NotNil(t, result, "round %d", round)
			assert.Equal(t, sandbox.StatusCancelled, result.Status, "round %d", round)
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: execution did not stop after cleanup", round)
		}
	}
}

func TestManagerSweep(t *testing.T) {
	m := newTestManager(t, nil)
	m.cfg.MaxLifetime = "1ms"

	_, err := m.Create(context.Background(), "tenant-a", nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	m.Sweep()

	assert.Equal(t, 0, m.Metrics().ActiveInstances)
	assert.EqualValues(t, 1, m.Metrics().InstancesCleaned)
}

func TestManagerHistoryAndMetrics(t *testing.T) {
	m := newTestManager(t, nil)

	inst, err := m.Create(context.Background(), "tenant-a", nil)
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), inst.ID(), `__result__ = "one";`, nil)
	require.NoError(t, err)
	_, err = m.Execute(context.Background(), inst.ID(), `throw new Error("two");`, nil)
	require.NoError(t, err)

	history := m.History(inst.ID(), 10)
	require.Len(t, history, 2)
	assert.Equal(t, sandbox.StatusFailed, history[0].Status)
	assert.Equal(t, sandbox.StatusCompleted, history[1].Status)

	metrics := m.Metrics()
	assert.EqualValues(t, 2, metrics.TotalExecutions)
	assert.EqualValues(t, 1, metrics.Succeeded)
	assert.EqualValues(t, 1, metrics.Failed)
	assert.Greater(t, metrics.AvgExecutionTime, time.Duration(0))
}

func TestManagerQueryCapability(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("CREATE TABLE readings (id INTEGER PRIMARY KEY, value REAL)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO readings (value) VALUES (1.5), (2.5)")
	require.NoError(t, err)

	m := newTestManager(t, db)
	inst, err := m.Create(context.Background(), "tenant-a", nil)
	require.NoError(t, err)

	result, err := m.Execute(context.Background(), inst.ID(), `
		var rows = db_query("SELECT value FROM readings ORDER BY id");
		__result__ = rows.length;
	`, nil)
	require.NoError(t, err)
	require.Equal(t, sandbox.StatusCompleted, result.Status, result.Error)
	assert.EqualValues(t, 2, result.Value)

	state, err := m.Inspect(inst.ID())
	require.NoError(t, err)
	require.Len(t, state.QueryLog, 1)
	assert.Contains(t, state.QueryLog[0].Query, "FROM readings")
	assert.Equal(t, 2, state.QueryLog[0].RowCount)
	assert.False(t, state.QueryLog[0].Denied)
}

func TestManagerStopRefusesCreate(t *testing.T) {
	m := New(testConfig(t), nil, zerolog.Nop())
	require.NoError(t, m.Start())
	m.Stop()

	_, err := m.Create(context.Background(), "tenant-a", nil)
	assert.ErrorIs(t, err, sandboxerr.ErrVMUnavailable)
}
