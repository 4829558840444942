// Package pool implements PoolManager: bounded concurrent worker startup,
// periodic health monitoring, stuck-row cleanup, and graceful shutdown.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/forge/internal/executor"
	"github.com/tonimelisma/forge/internal/store"
)

const (
	defaultMaxStartupConcurrency = 10
	healthCheckInterval          = 10 * time.Second
	heartbeatGrace               = 30 * time.Second
	deadGrace                    = 30 * time.Second
	createdGrace                 = 30 * time.Second
	lowCPUThresholdPercent       = 2.0
)

// TypeConfig describes how many workers of one job type to start and under
// which execution mode.
type TypeConfig struct {
	WorkerType    string
	Count         int
	ExecutionMode store.ExecutionMode
}

// WorkerInfo describes a successfully started worker instance.
type WorkerInfo struct {
	WorkerID   int64
	ExecutorID string
	WorkerType string
}

// Manager owns a set of worker instances of possibly several types, all
// started under one session id.
type Manager struct {
	Store                 *store.Store
	Executor              executor.Executor
	Logger                *slog.Logger
	SessionID             string
	MaxStartupConcurrency int

	// HeartbeatGrace, DeadGrace, and CreatedGrace override the health-pass
	// timing windows; New defaults them to the package's historical
	// constants so callers that don't care about tuning need not set them.
	HeartbeatGrace time.Duration
	DeadGrace      time.Duration
	CreatedGrace   time.Duration

	// DBPath, WorkspacePath, and LogLevel are forwarded to every worker
	// instance as DB_PATH, WORKSPACE_PATH, and LOG_LEVEL so it can open the
	// same store and workspace without its own config file.
	DBPath        string
	WorkspacePath string
	LogLevel      string

	cancelHealth context.CancelFunc
}

// New constructs a Manager. SessionID groups every worker and event this
// manager creates, bounding event-log queries to one pool run.
func New(st *store.Store, exec executor.Executor, logger *slog.Logger, sessionID string) *Manager {
	return &Manager{
		Store:                 st,
		Executor:              exec,
		Logger:                logger,
		SessionID:             sessionID,
		MaxStartupConcurrency: defaultMaxStartupConcurrency,
		HeartbeatGrace:        heartbeatGrace,
		DeadGrace:             deadGrace,
		CreatedGrace:          createdGrace,
	}
}

// StartAll pre-registers and starts every configured worker type
// concurrently, bounded by MaxStartupConcurrency. A failure to start one
// worker does not abort the others; the returned error is non-nil only if
// every worker in a type failed, leaving that type wholly unavailable.
func (m *Manager) StartAll(ctx context.Context, configs []TypeConfig) ([]WorkerInfo, error) {
	m.logEvent(ctx, store.EventPoolStarting, "", "pool starting")

	type task struct {
		workerType string
		index      int
		mode       store.ExecutionMode
	}

	var tasks []task

	for _, cfg := range configs {
		for i := 0; i < cfg.Count; i++ {
			tasks = append(tasks, task{workerType: cfg.WorkerType, index: i, mode: cfg.ExecutionMode})
		}
	}

	concurrency := m.MaxStartupConcurrency
	if concurrency <= 0 {
		concurrency = defaultMaxStartupConcurrency
	}

	sem := semaphore.NewWeighted(int64(concurrency))

	g, gctx := errgroup.WithContext(ctx)

	results := make([]*WorkerInfo, len(tasks))
	failures := 0

	for i, t := range tasks {
		i, t := i, t

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			info, err := m.startOne(gctx, t.workerType, t.index, t.mode)
			if err != nil {
				m.Logger.Error("worker start failed",
					slog.String("worker_type", t.workerType), slog.Int("index", t.index), slog.Any("error", err))
				failures++

				return nil
			}

			results[i] = info

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var infos []WorkerInfo

	started := make(map[string]int, len(configs))

	for _, r := range results {
		if r != nil {
			infos = append(infos, *r)
			started[r.WorkerType]++
		}
	}

	for _, cfg := range configs {
		if cfg.Count > 0 && started[cfg.WorkerType] == 0 {
			return nil, fmt.Errorf("pool: every %s worker failed to start (%d attempted)", cfg.WorkerType, cfg.Count)
		}
	}

	m.logEvent(ctx, store.EventPoolStarted, "", fmt.Sprintf("pool started with %d workers", len(infos)))

	return infos, nil
}

// startOne pre-registers a row, then starts the underlying executor with
// the pre-assigned worker id — this ordering is what lets the driver avoid
// polling for the worker to "phone home".
func (m *Manager) startOne(ctx context.Context, workerType string, index int, mode store.ExecutionMode) (*WorkerInfo, error) {
	placeholderExecutorID := fmt.Sprintf("pending-%s-%d", workerType, index)

	workerID, err := m.Store.PreRegister(ctx, workerType, mode, placeholderExecutorID, os.Getpid(), m.SessionID)
	if err != nil {
		return nil, fmt.Errorf("pool: pre-registering worker: %w", err)
	}

	executorID, err := m.Executor.Start(ctx, workerType, index, workerID, map[string]string{
		"SESSION_ID":     m.SessionID,
		"DB_PATH":        m.DBPath,
		"WORKSPACE_PATH": m.WorkspacePath,
		"LOG_LEVEL":      m.LogLevel,
		"PARENT_PID":     fmt.Sprint(os.Getpid()),
	})
	if err != nil {
		m.Store.DeleteWorker(ctx, workerID)

		return nil, fmt.Errorf("pool: starting executor: %w", err)
	}

	if err := m.Store.UpdateExecutorID(ctx, workerID, executorID); err != nil {
		return nil, fmt.Errorf("pool: recording executor id: %w", err)
	}

	m.logEvent(ctx, store.EventWorkerRegistered, workerType, fmt.Sprintf("worker %d registered as %s", workerID, executorID))

	return &WorkerInfo{WorkerID: workerID, ExecutorID: executorID, WorkerType: workerType}, nil
}

// StartHealthMonitor launches the periodic health-check and stuck-row
// cleanup loop in the background. Call the returned stop function during
// shutdown.
func (m *Manager) StartHealthMonitor(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancelHealth = cancel

	go func() {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.runHealthPass(ctx); err != nil {
					m.Logger.Error("health pass failed", slog.Any("error", err))
				}

				if err := m.runCleanupPass(ctx); err != nil {
					m.Logger.Error("cleanup pass failed", slog.Any("error", err))
				}
			}
		}
	}()

	return cancel
}

func (m *Manager) runHealthPass(ctx context.Context) error {
	if err := m.markLowCPUBusyWorkersHung(ctx); err != nil {
		m.Logger.Warn("low-cpu busy sweep failed", slog.Any("error", err))
	}

	hungIDs, deadIDs, err := m.Store.MarkHungAndDead(ctx, m.HeartbeatGrace.Nanoseconds(), m.DeadGrace.Nanoseconds())
	if err != nil {
		return err
	}

	for _, id := range hungIDs {
		w, err := m.Store.GetWorker(ctx, id)
		if err != nil || w == nil {
			continue
		}

		stats, _ := m.Executor.Stats(ctx, w.ExecutorID)

		if stats != nil {
			m.Logger.Warn("worker hung",
				slog.Int64("worker_id", id),
				slog.Float64("cpu_percent", stats.CPUPercent),
				slog.String("memory", humanize.Bytes(stats.MemoryBytes)))
		} else {
			m.Logger.Warn("worker hung", slog.Int64("worker_id", id))
		}
	}

	for _, id := range deadIDs {
		w, err := m.Store.GetWorker(ctx, id)
		if err != nil || w == nil {
			continue
		}

		alive, _ := m.Executor.IsAlive(ctx, w.ExecutorID)
		if alive {
			continue
		}

		m.logEvent(ctx, store.EventWorkerFailed, w.WorkerType, fmt.Sprintf("worker %d confirmed dead", id))
	}

	return nil
}

// markLowCPUBusyWorkersHung catches a stuck converter before the plain
// heartbeat-age sweep would: a worker reporting status=busy with negligible
// CPU and a heartbeat older than half the grace window is very likely stuck
// inside a hung converter call rather than doing real work.
func (m *Manager) markLowCPUBusyWorkersHung(ctx context.Context) error {
	workers, err := m.Store.AllWorkers(ctx)
	if err != nil {
		return err
	}

	for _, w := range workers {
		if w.Status != store.WorkerBusy {
			continue
		}

		stats, err := m.Executor.Stats(ctx, w.ExecutorID)
		if err != nil || stats == nil {
			continue
		}

		staleness := time.Duration(time.Now().UnixNano()-w.LastHeartbeat) * time.Nanosecond
		if stats.CPUPercent < lowCPUThresholdPercent && staleness > m.HeartbeatGrace/2 {
			if err := m.Store.SetStatus(ctx, w.ID, store.WorkerHung); err != nil {
				return err
			}

			m.Logger.Warn("busy worker marked hung due to low CPU utilisation",
				slog.Int64("worker_id", w.ID), slog.Float64("cpu_percent", stats.CPUPercent))
		}
	}

	return nil
}

func (m *Manager) runCleanupPass(ctx context.Context) error {
	deleted, failedParentAlive, err := m.Store.CleanupStale(ctx, m.CreatedGrace.Nanoseconds())
	if err != nil {
		return err
	}

	for _, id := range failedParentAlive {
		m.logEvent(ctx, store.EventWorkerFailed, "", fmt.Sprintf("worker %d failed to activate in time", id))
	}

	if len(deleted) > 0 {
		m.Logger.Info("cleaned up stuck created rows", slog.Int("count", len(deleted)))
	}

	return nil
}

// Stop sends soft termination to every worker, waits up to grace, hard-kills
// survivors, deletes worker rows, and stops the health monitor.
func (m *Manager) Stop(ctx context.Context, grace time.Duration) error {
	if m.cancelHealth != nil {
		m.cancelHealth()
	}

	m.logEvent(ctx, store.EventPoolStopping, "", "pool stopping")

	workers, err := m.Store.AllWorkers(ctx)
	if err != nil {
		return err
	}

	for _, w := range workers {
		m.logEvent(ctx, store.EventWorkerStopping, w.WorkerType, fmt.Sprintf("stopping worker %d", w.ID))

		if err := m.Executor.Stop(ctx, w.ExecutorID, grace); err != nil {
			m.Logger.Warn("worker stop failed", slog.Int64("worker_id", w.ID), slog.Any("error", err))
		}

		if err := m.Store.DeleteWorker(ctx, w.ID); err != nil {
			m.Logger.Warn("deleting worker row failed", slog.Int64("worker_id", w.ID), slog.Any("error", err))
		}
	}

	m.logEvent(ctx, store.EventPoolStopped, "", "pool stopped")

	return nil
}

func (m *Manager) logEvent(ctx context.Context, eventType store.WorkerEventType, workerType, message string) {
	if err := m.Store.LogEvent(ctx, eventType, nil, workerType, "", message, nil, m.SessionID); err != nil {
		m.Logger.Warn("failed to log pool event", slog.Any("error", err))
	}
}
