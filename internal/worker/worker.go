// Package worker implements WorkerBase, the poll-loop contract every
// concrete converter kind runs inside — claim, process, complete/fail,
// cancellation checks, parent monitoring, and adaptive polling.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/tonimelisma/forge/internal/atomicfile"
	"github.com/tonimelisma/forge/internal/converter"
	"github.com/tonimelisma/forge/internal/store"
)

const (
	// pollFast is used while jobs are flowing.
	pollFast = 50 * time.Millisecond
	// pollSlow is used once idle for idleWindow.
	pollSlow = 500 * time.Millisecond
	// idleWindow bounds how long to keep polling fast after the last claim.
	idleWindow = 2 * time.Second
	// heartbeatInterval bounds heartbeat write frequency.
	heartbeatInterval = 5 * time.Second
	// parentCheckEvery checks parent liveness once every N poll iterations.
	parentCheckEvery = 20
	// cancellationCheckInterval names a re-check period for long-running
	// ProcessJob calls. Nothing in this package reads it: runJob checks
	// cancellation only before and after ProcessJob.
	cancellationCheckInterval = 2 * time.Second
)

// Base is the worker-process loop. One Base instance runs inside each
// worker process (container or subprocess), wired to exactly one Converter.
type Base struct {
	Store       *store.Store
	Converter   converter.Converter
	WorkerID    int64
	WorkerType  string
	ParentPID   int
	Logger      *slog.Logger

	lastHeartbeat time.Time
	pollCount     int
}

// Run activates the pre-registered worker row and enters the poll loop
// until ctx is cancelled or the parent process disappears.
func (b *Base) Run(ctx context.Context) error {
	if err := b.Store.Activate(ctx, b.WorkerID); err != nil {
		return err
	}

	lastClaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			return b.shutdown(context.Background())
		default:
		}

		b.pollCount++

		b.heartbeatMaybe(ctx)

		if b.pollCount%parentCheckEvery == 0 && b.ParentPID > 0 && !processAlive(b.ParentPID) {
			b.Logger.Warn("parent process gone, exiting", slog.Int("parent_pid", b.ParentPID))
			b.logEvent(context.Background(), store.EventParentDied, "parent process no longer alive")
			b.Store.SetStatus(context.Background(), b.WorkerID, store.WorkerDead)

			return nil
		}

		job, err := b.Store.ClaimNext(ctx, b.WorkerType, b.WorkerID)
		if err != nil {
			var transient *store.TransientError
			if errors.As(err, &transient) {
				time.Sleep(pollSlow)

				continue
			}

			return err
		}

		if job == nil {
			interval := pollSlow
			if time.Since(lastClaim) < idleWindow {
				interval = pollFast
			}

			time.Sleep(interval)

			continue
		}

		lastClaim = time.Now()

		if err := b.runJob(ctx, job); err != nil {
			b.Logger.Error("job run failed", slog.Int64("job_id", job.ID), slog.Any("error", err))
		}
	}
}

// runJob processes one claimed job end to end: mark busy, check
// cancellation, invoke the converter, write output atomically, populate the
// result cache, mark terminal, mark idle again.
func (b *Base) runJob(ctx context.Context, job *store.Job) error {
	if err := b.Store.SetStatus(ctx, b.WorkerID, store.WorkerBusy); err != nil {
		return err
	}

	defer b.heartbeatMaybe(ctx)

	cancelled, err := b.Store.IsCancelled(ctx, job.ID)
	if err != nil {
		return err
	}

	if cancelled {
		return b.Store.SetStatus(ctx, b.WorkerID, store.WorkerIdle)
	}

	bytes, procErr := b.Converter.ProcessJob(ctx, job)
	if procErr != nil {
		if cancelled, cErr := b.Store.IsCancelled(ctx, job.ID); cErr == nil && cancelled {
			return b.Store.SetStatus(ctx, b.WorkerID, store.WorkerIdle)
		}

		if err := b.Store.Fail(ctx, job.ID, procErr.Error()); err != nil {
			return err
		}

		if err := b.Store.IncrementJobsFailed(ctx, b.WorkerID); err != nil {
			return err
		}

		return b.Store.SetStatus(ctx, b.WorkerID, store.WorkerIdle)
	}

	if cancelled, cErr := b.Store.IsCancelled(ctx, job.ID); cErr == nil && cancelled {
		return b.Store.SetStatus(ctx, b.WorkerID, store.WorkerIdle)
	}

	if err := atomicfile.Write(job.OutputFile, bytes); err != nil {
		if failErr := b.Store.Fail(ctx, job.ID, err.Error()); failErr != nil {
			return failErr
		}

		return b.Store.SetStatus(ctx, b.WorkerID, store.WorkerIdle)
	}

	if err := b.Store.PutStoredResult(ctx, job.InputFile, job.ContentHash, job.OutputFile, bytes); err != nil {
		return err
	}

	if err := b.Store.PutCache(ctx, job.OutputFile, job.ContentHash, nil); err != nil {
		return err
	}

	if err := b.Store.Complete(ctx, job.ID); err != nil {
		return err
	}

	if err := b.Store.IncrementJobsProcessed(ctx, b.WorkerID); err != nil {
		return err
	}

	return b.Store.SetStatus(ctx, b.WorkerID, store.WorkerIdle)
}

func (b *Base) heartbeatMaybe(ctx context.Context) {
	if time.Since(b.lastHeartbeat) < heartbeatInterval {
		return
	}

	if err := b.Store.Heartbeat(ctx, b.WorkerID); err != nil {
		b.Logger.Warn("heartbeat failed", slog.Any("error", err))

		return
	}

	b.lastHeartbeat = time.Now()
}

func (b *Base) shutdown(ctx context.Context) error {
	b.logEvent(ctx, store.EventWorkerStopping, "shutdown signal received")

	err := b.Store.SetStatus(ctx, b.WorkerID, store.WorkerDead)

	b.logEvent(ctx, store.EventWorkerStopped, "worker exiting")

	return err
}

func (b *Base) logEvent(ctx context.Context, eventType store.WorkerEventType, message string) {
	id := b.WorkerID
	if err := b.Store.LogEvent(ctx, eventType, &id, b.WorkerType, "", message, nil, ""); err != nil {
		b.Logger.Warn("failed to log worker event", slog.Any("error", err))
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}
