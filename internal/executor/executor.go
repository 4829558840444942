// Package executor implements the two WorkerExecutor variants — container
// and subprocess — behind a single contract the PoolManager drives.
package executor

import (
	"context"
	"time"
)

// Stats is the optional resource snapshot returned by a running worker
// instance. A nil return from Executor.Stats means the variant does not
// support sampling.
type Stats struct {
	CPUPercent  float64
	MemoryBytes uint64
}

// Executor starts, stops, and inspects one worker instance. Neither variant
// registers the worker in the store; pre-registration is the PoolManager's
// job, performed before Start is ever called.
type Executor interface {
	// Start launches a worker instance of workerType and returns its stable,
	// unique executor id. preAssignedWorkerID and env are passed through to
	// the worker process via the §6.1 environment contract.
	Start(ctx context.Context, workerType string, index int, preAssignedWorkerID int64, env map[string]string) (executorID string, err error)

	// Stop sends a soft termination signal, waits up to grace, then forces
	// termination of survivors.
	Stop(ctx context.Context, executorID string, grace time.Duration) error

	// IsAlive reports whether the instance is still running. A false
	// negative here (reporting dead while actually alive) is considered
	// worse than a slow true negative, so implementations favor blocking
	// liveness checks over heuristics.
	IsAlive(ctx context.Context, executorID string) (bool, error)

	// Stats returns a resource usage snapshot, or nil if unsupported.
	Stats(ctx context.Context, executorID string) (*Stats, error)
}
