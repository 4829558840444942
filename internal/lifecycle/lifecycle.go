// Package lifecycle implements the policy layer above pool.Manager: whether
// to start workers at all, and for which types, given a reuse/persistent
// session model.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/forge/internal/pool"
	"github.com/tonimelisma/forge/internal/store"
)

// Mode selects how workers already running (or not) are treated.
type Mode string

const (
	// ModeManaged starts fresh workers and stops them on exit.
	ModeManaged Mode = "managed"
	// ModePersistent reuses workers already running from a prior session;
	// starts none unless reuse is disabled, and never stops any.
	ModePersistent Mode = "persistent"
	// ModeMixed reuses healthy workers of types that already have enough,
	// and starts the rest.
	ModeMixed Mode = "mixed"
)

// Manager wraps pool.Manager with reuse-vs-start policy.
type Manager struct {
	Store  *store.Store
	Pool   *pool.Manager
	Logger *slog.Logger
	Mode   Mode
}

// ShouldStartWorkers reports whether cfg's worker type needs starting given
// the current mode and the healthy workers already present. reuseWorkers
// being false forces a fresh start even in mixed/persistent mode.
func (m *Manager) ShouldStartWorkers(ctx context.Context, cfg pool.TypeConfig, reuseWorkers bool) (bool, error) {
	if m.Mode == ModeManaged || !reuseWorkers {
		return true, nil
	}

	healthy, err := m.healthyCount(ctx, cfg.WorkerType)
	if err != nil {
		return false, err
	}

	if m.Mode == ModePersistent {
		return false, nil
	}

	// mixed: start iff the existing healthy pool is short of the requested count.
	return healthy < cfg.Count, nil
}

// StartManaged starts workers for every config whose type ShouldStartWorkers
// reports needs starting, skipping the rest. In mixed mode, the skipped
// configs' existing healthy workers are reused as-is.
func (m *Manager) StartManaged(ctx context.Context, configs []pool.TypeConfig, reuseWorkers bool) ([]pool.WorkerInfo, error) {
	var toStart []pool.TypeConfig

	for _, cfg := range configs {
		should, err := m.ShouldStartWorkers(ctx, cfg, reuseWorkers)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: evaluating %s: %w", cfg.WorkerType, err)
		}

		if should {
			if m.Mode == ModeMixed && reuseWorkers {
				healthy, err := m.healthyCount(ctx, cfg.WorkerType)
				if err != nil {
					return nil, err
				}

				cfg.Count -= healthy
			}

			if cfg.Count > 0 {
				toStart = append(toStart, cfg)
			}
		} else {
			m.Logger.Info("reusing existing healthy workers", slog.String("worker_type", cfg.WorkerType))
		}
	}

	if len(toStart) == 0 {
		return nil, nil
	}

	return m.Pool.StartAll(ctx, toStart)
}

// StopManaged tears down the pool unless the session is persistent, in
// which case workers are deliberately left running for reuse.
func (m *Manager) StopManaged(ctx context.Context, grace int64) error {
	if m.Mode == ModePersistent {
		m.Logger.Info("persistent mode: leaving workers running")

		return nil
	}

	return m.Pool.Stop(ctx, time.Duration(grace)*time.Second)
}

func (m *Manager) healthyCount(ctx context.Context, workerType string) (int, error) {
	workers, err := m.Store.WorkersByType(ctx, workerType)
	if err != nil {
		return 0, err
	}

	count := 0

	for _, w := range workers {
		if w.Status == store.WorkerIdle || w.Status == store.WorkerBusy {
			count++
		}
	}

	return count, nil
}
