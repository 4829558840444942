package driver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/forge/internal/config"
	"github.com/tonimelisma/forge/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Store.DBPath = ":memory:"
	cfg.Store.WorkspaceRoot = t.TempDir()
	cfg.Pool = map[string]config.WorkerPool{
		"notebook": {Count: 1, ExecutionMode: "direct"},
	}

	return cfg
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()

	d, err := New(context.Background(), testConfig(t), testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { d.Close() })

	return d
}

func TestNewGroupsDirectWorkersIntoOneLifecycleManager(t *testing.T) {
	d := newTestDriver(t)

	require.Len(t, d.groups, 1)

	for key, group := range d.groups {
		assert.Equal(t, store.ExecutionModeDirect, key.mode)
		require.Len(t, group.configs, 1)
		assert.Equal(t, "notebook", group.configs[0].WorkerType)
	}
}

func TestNewRejectsUnknownExecutionMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool["notebook"] = config.WorkerPool{Count: 1, ExecutionMode: "teleport"}

	_, err := New(context.Background(), cfg, testLogger())
	require.Error(t, err)

	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
}

func TestStartWorkersFailsFatalWhenNoPoolConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool = map[string]config.WorkerPool{}

	d, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	err = d.StartWorkers(context.Background(), true)
	require.Error(t, err)

	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
}

func TestStartWorkersFailsInfrastructureWhenBinaryMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.WorkerBinaryPath = "/nonexistent/forge-worker-binary"

	d, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	err = d.StartWorkers(context.Background(), true)
	require.Error(t, err)

	var ie *InfrastructureError
	require.ErrorAs(t, err, &ie)
}

func TestStatusReportsWorkerAndJobCounts(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	workerID, err := d.Store.PreRegister(ctx, "notebook", store.ExecutionModeDirect, "exec-1", os.Getpid(), d.SessionID)
	require.NoError(t, err)
	require.NoError(t, d.Store.Activate(ctx, workerID))

	_, err = d.Store.AddJob(ctx, "notebook", "in.ipynb", "out.html", "hash1", "corr-1", nil, 0)
	require.NoError(t, err)

	status, err := d.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, status.Workers[store.WorkerIdle])
	assert.Equal(t, 1, status.Jobs[store.JobPending])
}

func TestCancelForInputSupersedesPendingJob(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	jobID, err := d.Store.AddJob(ctx, "notebook", "in.ipynb", "out.html", "hash1", "corr-1", nil, 0)
	require.NoError(t, err)

	cancelled, err := d.CancelForInput(ctx, "in.ipynb")
	require.NoError(t, err)
	require.Contains(t, cancelled, jobID)

	job, err := d.Store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, job.Status)
}

func TestCleanupStaleDeletesStuckCreatedRows(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Lifecycle.CreatedGraceSeconds = 0

	d, err := New(ctx, cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	_, err = d.Store.PreRegister(ctx, "notebook", store.ExecutionModeDirect, "exec-1", 1, d.SessionID)
	require.NoError(t, err)

	require.NoError(t, d.CleanupStale(ctx))

	workers, err := d.Store.AllWorkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers)
}
