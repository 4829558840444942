package pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/forge/internal/executor"
	"github.com/tonimelisma/forge/internal/store"
)

type fakeExecutor struct {
	mu      sync.Mutex
	started map[string]bool
	nextID  int64
	failAll bool
	lastEnv map[string]string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{started: make(map[string]bool)}
}

func (f *fakeExecutor) Start(ctx context.Context, workerType string, index int, preAssignedWorkerID int64, env map[string]string) (string, error) {
	if f.failAll {
		return "", fmt.Errorf("forced failure")
	}

	id := atomic.AddInt64(&f.nextID, 1)
	executorID := fmt.Sprintf("fake-%d", id)

	f.mu.Lock()
	f.started[executorID] = true
	f.lastEnv = env
	f.mu.Unlock()

	return executorID, nil
}

func (f *fakeExecutor) Stop(ctx context.Context, executorID string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started[executorID] {
		return fmt.Errorf("fakeExecutor: unknown executor id %q", executorID)
	}

	delete(f.started, executorID)

	return nil
}

func (f *fakeExecutor) IsAlive(ctx context.Context, executorID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.started[executorID], nil
}

func (f *fakeExecutor) Stats(ctx context.Context, executorID string) (*executor.Stats, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartAllRegistersAndStartsWorkers(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	exec := newFakeExecutor()
	m := New(s, exec, testLogger(), "sess-1")

	infos, err := m.StartAll(ctx, []TypeConfig{
		{WorkerType: "notebook", Count: 5, ExecutionMode: store.ExecutionModeDirect},
	})
	require.NoError(t, err)
	require.Len(t, infos, 5)

	workers, err := s.WorkersByType(ctx, "notebook")
	require.NoError(t, err)
	require.Len(t, workers, 5)

	for _, w := range workers {
		require.Equal(t, store.WorkerCreated, w.Status)
	}
}

func TestStartAllForwardsWorkerContractEnv(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	exec := newFakeExecutor()
	m := New(s, exec, testLogger(), "sess-1")
	m.DBPath = "/tmp/jobs.db"
	m.WorkspacePath = "/tmp/workspace"
	m.LogLevel = "debug"

	_, err = m.StartAll(ctx, []TypeConfig{
		{WorkerType: "notebook", Count: 1, ExecutionMode: store.ExecutionModeDirect},
	})
	require.NoError(t, err)

	exec.mu.Lock()
	env := exec.lastEnv
	exec.mu.Unlock()

	require.Equal(t, "/tmp/jobs.db", env["DB_PATH"])
	require.Equal(t, "/tmp/workspace", env["WORKSPACE_PATH"])
	require.Equal(t, "debug", env["LOG_LEVEL"])
	require.NotEmpty(t, env["PARENT_PID"])
}

func TestStopDeletesWorkerRows(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	exec := newFakeExecutor()
	m := New(s, exec, testLogger(), "sess-1")

	_, err = m.StartAll(ctx, []TypeConfig{{WorkerType: "notebook", Count: 3, ExecutionMode: store.ExecutionModeDirect}})
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx, time.Second))

	workers, err := s.AllWorkers(ctx)
	require.NoError(t, err)
	require.Empty(t, workers)

	// Stop must have addressed the real executor ids Start returned, not the
	// placeholder pre-registration ids — otherwise every instance would
	// still be in exec.started.
	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Empty(t, exec.started)
}

func TestStartOneRecordsRealExecutorIDOnWorkerRow(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	exec := newFakeExecutor()
	m := New(s, exec, testLogger(), "sess-1")

	infos, err := m.StartAll(ctx, []TypeConfig{{WorkerType: "notebook", Count: 1, ExecutionMode: store.ExecutionModeDirect}})
	require.NoError(t, err)
	require.Len(t, infos, 1)

	w, err := s.GetWorker(ctx, infos[0].WorkerID)
	require.NoError(t, err)
	require.Equal(t, infos[0].ExecutorID, w.ExecutorID)
	require.NotContains(t, w.ExecutorID, "pending-")
}
