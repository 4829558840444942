// Package backend implements the cache-check + job-submit +
// wait-for-completion facade the Orchestrator drives.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tonimelisma/forge/internal/atomicfile"
	"github.com/tonimelisma/forge/internal/course"
	"github.com/tonimelisma/forge/internal/store"
)

const (
	workersReadyTimeout      = 30 * time.Second
	workersReadyPollInterval = 500 * time.Millisecond
	waitPollInterval         = 100 * time.Millisecond
	freshHeartbeatWindow     = 15 * time.Second
)

// Backend is the Orchestrator's only point of contact with the store and
// worker availability.
type Backend struct {
	Store  *store.Store
	Logger *slog.Logger
}

// New constructs a Backend.
func New(st *store.Store, logger *slog.Logger) *Backend {
	return &Backend{Store: st, Logger: logger}
}

// ExecuteOperation checks tier-1 then tier-2 cache, and on a full miss
// ensures at least one worker is ready before enqueuing. Never waits for job
// completion. Returns the job ID to track for completion, or 0 if the
// operation was already satisfied from cache.
func (b *Backend) ExecuteOperation(ctx context.Context, op course.Operation) (int64, error) {
	p := op.Payload

	if result, err := b.Store.GetStoredResult(ctx, p.InputFile, p.ContentHash, p.OutputFile); err != nil {
		return 0, fmt.Errorf("backend: checking tier-1 cache: %w", err)
	} else if result != nil {
		return 0, atomicfile.Write(p.OutputFile, result.ResultBytes)
	}

	if metadata, err := b.Store.CheckCache(ctx, p.OutputFile, p.ContentHash); err != nil {
		return 0, fmt.Errorf("backend: checking tier-2 cache: %w", err)
	} else if metadata != nil {
		if _, statErr := os.Stat(p.OutputFile); statErr == nil {
			return 0, nil
		}
	}

	if err := b.workersReady(ctx, p.JobType); err != nil {
		return 0, err
	}

	jobID, err := b.Store.AddJob(ctx, p.JobType, p.InputFile, p.OutputFile, p.ContentHash, p.CorrelationID, encodeExtra(p.Extra), p.Priority)
	if errors.Is(err, store.ErrDuplicateJob) {
		existing, findErr := b.Store.FindActiveJob(ctx, p.OutputFile, p.ContentHash)
		if findErr != nil {
			return 0, findErr
		}

		if existing == nil {
			return 0, nil
		}

		return existing.ID, nil
	}

	return jobID, err
}

// workersReady is the only place Backend (and therefore the driver) waits
// for worker readiness, and it is bounded.
func (b *Backend) workersReady(ctx context.Context, workerType string) error {
	workers, err := b.Store.WorkersByType(ctx, workerType)
	if err != nil {
		return err
	}

	if hasFreshActiveWorker(workers) {
		return nil
	}

	if !hasStartingWorker(workers) {
		return fmt.Errorf("backend: %w: %s", store.ErrNoWorkersForType, workerType)
	}

	deadline := time.Now().Add(workersReadyTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(workersReadyPollInterval):
		}

		workers, err := b.Store.WorkersByType(ctx, workerType)
		if err != nil {
			return err
		}

		if hasFreshActiveWorker(workers) {
			return nil
		}
	}

	return fmt.Errorf("backend: %w: %s (timed out waiting for activation)", store.ErrNoWorkersForType, workerType)
}

func hasFreshActiveWorker(workers []*store.Worker) bool {
	cutoff := time.Now().Add(-freshHeartbeatWindow).UnixNano()

	for _, w := range workers {
		if (w.Status == store.WorkerIdle || w.Status == store.WorkerBusy) && w.LastHeartbeat >= cutoff {
			return true
		}
	}

	return false
}

func hasStartingWorker(workers []*store.Worker) bool {
	for _, w := range workers {
		if w.Status == store.WorkerCreated {
			return true
		}
	}

	return false
}

// WaitForCompletion polls jobIDs until every row is terminal or timeout
// elapses, synthesizing tier-1 cache entries for every successful job.
// Returns true iff every job reached completed.
func (b *Backend) WaitForCompletion(ctx context.Context, jobIDs []int64, timeout time.Duration) (bool, error) {
	if len(jobIDs) == 0 {
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	synthesized := make(map[int64]bool, len(jobIDs))

	for {
		jobs, err := b.Store.GetJobs(ctx, jobIDs)
		if err != nil {
			return false, err
		}

		allTerminal := true
		allCompleted := true

		for _, job := range jobs {
			switch job.Status {
			case store.JobCompleted:
				if !synthesized[job.ID] {
					if err := b.synthesizeTier1(ctx, job); err != nil {
						b.Logger.Warn("synthesizing tier-1 cache entry failed",
							slog.Int64("job_id", job.ID), slog.Any("error", err))
					}

					synthesized[job.ID] = true
				}
			case store.JobFailed, store.JobCancelled:
				allCompleted = false
			default:
				allTerminal = false
				allCompleted = false
			}
		}

		if allTerminal {
			return allCompleted, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}

func (b *Backend) synthesizeTier1(ctx context.Context, job *store.Job) error {
	if _, err := os.Stat(job.OutputFile); err != nil {
		return nil
	}

	data, err := os.ReadFile(job.OutputFile)
	if err != nil {
		return err
	}

	return b.Store.PutStoredResult(ctx, job.InputFile, job.ContentHash, job.OutputFile, data)
}

// encodeExtra serializes a payload's per-converter parameters into the
// opaque bytes column; nil when there is nothing to carry.
func encodeExtra(extra map[string]string) []byte {
	if len(extra) == 0 {
		return nil
	}

	buf := make([]byte, 0, 64)
	for k, v := range extra {
		buf = append(buf, []byte(k+"="+v+";")...)
	}

	return buf
}

// SuppressImplicitOutputs removes every implicit operation's output file
// once a build has finished. An implicit operation exists only to populate
// the cache a later, explicitly-requested operation reuses (per the
// resolver's reuses_cache contract); its artifact must never be left at a
// user-visible output path. Call once per Build, after every stage that
// might still need to read it has completed.
func (b *Backend) SuppressImplicitOutputs(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			b.Logger.Warn("removing implicit output failed", slog.String("path", p), slog.Any("error", err))
		}
	}
}

// CancelForInput supersedes any in-flight obsolete work for inputFile before
// new jobs for it are enqueued.
func (b *Backend) CancelForInput(ctx context.Context, inputFile, cancelledBy string) ([]int64, error) {
	return b.Store.CancelForInput(ctx, inputFile, cancelledBy)
}
