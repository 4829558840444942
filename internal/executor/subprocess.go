package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// SubprocessExecutor launches worker modules as plain OS processes, one per
// instance, each in its own process group so a soft signal reaches every
// descendant the worker itself may have spawned.
type SubprocessExecutor struct {
	// Command builds the exec.Cmd for a worker instance. Tests substitute a
	// fake command; production wires the real worker binary path.
	Command func(workerType string, index int) *exec.Cmd
	Logger  *slog.Logger

	mu        sync.Mutex
	instances map[string]*subprocessInstance
}

type subprocessInstance struct {
	cmd *exec.Cmd
}

// NewSubprocessExecutor constructs an executor that runs binary with
// WORKER_TYPE=<workerType> and --index=<index> for each instance.
func NewSubprocessExecutor(binary string, logger *slog.Logger) *SubprocessExecutor {
	return &SubprocessExecutor{
		Command: func(workerType string, index int) *exec.Cmd {
			return exec.Command(binary, "--index", fmt.Sprint(index))
		},
		Logger:    logger,
		instances: make(map[string]*subprocessInstance),
	}
}

func (e *SubprocessExecutor) Start(ctx context.Context, workerType string, index int, preAssignedWorkerID int64, env map[string]string) (string, error) {
	cmd := e.Command(workerType, index)

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	cmd.Env = append(cmd.Env,
		fmt.Sprintf("WORKER_ID=%d", preAssignedWorkerID),
		"WORKER_TYPE="+workerType,
	)

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("executor: starting subprocess worker: %w", err)
	}

	executorID := fmt.Sprintf("subproc-%s", uuid.NewString())

	e.mu.Lock()
	e.instances[executorID] = &subprocessInstance{cmd: cmd}
	e.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			e.Logger.Warn("worker subprocess exited",
				slog.String("executor_id", executorID), slog.Any("error", err))
		}
	}()

	return executorID, nil
}

func (e *SubprocessExecutor) Stop(ctx context.Context, executorID string, grace time.Duration) error {
	e.mu.Lock()
	inst, ok := e.instances[executorID]
	e.mu.Unlock()

	if !ok {
		// Already gone — one of the distinctive "already-gone" conditions the
		// silent-failure prohibition explicitly permits to pass quietly.
		return nil
	}

	pgid := -inst.cmd.Process.Pid

	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		if killErr := inst.cmd.Process.Signal(syscall.SIGTERM); killErr != nil {
			e.Logger.Warn("soft signal failed, falling back to single-process kill",
				slog.String("executor_id", executorID), slog.Any("error", killErr))
		}
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	alive := make(chan struct{})

	go func() {
		for {
			if !processGroupAlive(pgid) {
				close(alive)

				return
			}

			time.Sleep(50 * time.Millisecond)
		}
	}()

	select {
	case <-alive:
		return nil
	case <-deadline.C:
	}

	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return inst.cmd.Process.Kill()
	}

	return nil
}

func (e *SubprocessExecutor) IsAlive(ctx context.Context, executorID string) (bool, error) {
	e.mu.Lock()
	inst, ok := e.instances[executorID]
	e.mu.Unlock()

	if !ok {
		return false, nil
	}

	return inst.cmd.Process.Signal(syscall.Signal(0)) == nil, nil
}

// Stats is unsupported for subprocess workers without a platform-specific
// /proc reader; returns nil per the "may return none" contract.
func (e *SubprocessExecutor) Stats(ctx context.Context, executorID string) (*Stats, error) {
	return nil, nil
}

func processGroupAlive(pgid int) bool {
	return syscall.Kill(pgid, syscall.Signal(0)) == nil
}
