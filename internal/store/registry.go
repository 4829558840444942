package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"syscall"
)

// PreRegister inserts a created row before the worker process exists,
// eliminating the "wait for the worker to phone home" race: the driver
// already knows the worker_id before it calls WorkerExecutor.start.
func (s *Store) PreRegister(ctx context.Context, workerType string, mode ExecutionMode, executorID string, parentPID int, sessionID string) (int64, error) {
	now := s.clock.NowNano()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (worker_type, executor_id, status, execution_mode, parent_pid,
			session_id, started_at, last_heartbeat, jobs_processed, jobs_failed)
		VALUES (?, ?, 'created', ?, ?, ?, ?, ?, 0, 0)`,
		workerType, executorID, mode, parentPID, sessionID, now, now)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

// Activate transitions a pre-registered created row to idle, called once
// the worker process confirms readiness.
func (s *Store) Activate(ctx context.Context, workerID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET status = 'idle', last_heartbeat = ? WHERE id = ? AND status = 'created'`,
		s.clock.NowNano(), workerID)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("store: worker not in created state, cannot activate")
	}

	return nil
}

// UpdateExecutorID replaces a worker row's placeholder executor id with the
// real one Executor.Start returned, once it's known. Every later lookup
// keys the executor's internal maps by this value, so a row left on the
// placeholder is unreachable to Stop/IsAlive/Stats.
func (s *Store) UpdateExecutorID(ctx context.Context, workerID int64, executorID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET executor_id = ? WHERE id = ?`, executorID, workerID)

	return err
}

// Heartbeat touches last_heartbeat. Callers throttle this to at most once
// every few seconds to keep write contention on the workers table bounded.
func (s *Store) Heartbeat(ctx context.Context, workerID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET last_heartbeat = ? WHERE id = ?`, s.clock.NowNano(), workerID)

	return err
}

// SetStatus sets a worker's status directly (idle/busy/dead), used around
// job claim/complete and on shutdown.
func (s *Store) SetStatus(ctx context.Context, workerID int64, status WorkerStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET status = ? WHERE id = ?`, status, workerID)

	return err
}

// IncrementJobsProcessed bumps the counter on successful job completion.
func (s *Store) IncrementJobsProcessed(ctx context.Context, workerID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET jobs_processed = jobs_processed + 1 WHERE id = ?`, workerID)

	return err
}

// IncrementJobsFailed bumps the counter on job failure.
func (s *Store) IncrementJobsFailed(ctx context.Context, workerID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET jobs_failed = jobs_failed + 1 WHERE id = ?`, workerID)

	return err
}

// GetWorker fetches a single worker row, or nil if absent.
func (s *Store) GetWorker(ctx context.Context, workerID int64) (*Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, workerID)

	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return w, err
}

// WorkersByType lists every non-dead worker row of the given type, used by
// Backend.workersReady and the LifecycleManager's healthy-worker count.
func (s *Store) WorkersByType(ctx context.Context, workerType string) ([]*Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workerColumns+` FROM workers WHERE worker_type = ? AND status != 'dead'`, workerType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []*Worker

	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}

		workers = append(workers, w)
	}

	return workers, rows.Err()
}

// AllWorkers lists every worker row, for the status snapshot and the pool
// health monitor's full sweep.
func (s *Store) AllWorkers(ctx context.Context) ([]*Worker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []*Worker

	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}

		workers = append(workers, w)
	}

	return workers, rows.Err()
}

// DeleteWorker removes a worker row, used when the executor fails to start a
// pre-registered worker and on graceful pool shutdown.
func (s *Store) DeleteWorker(ctx context.Context, workerID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, workerID)

	return err
}

// MarkHungAndDead applies the health-monitor sweep: idle/busy rows whose
// heartbeat is older than heartbeatGrace move to hung; hung rows older than
// a further deadGrace move to dead. Returns the ids that transitioned to
// each state, so the caller can log/emit events and ask the executor to
// confirm liveness for rows just marked dead.
func (s *Store) MarkHungAndDead(ctx context.Context, heartbeatGraceNanos, deadGraceNanos int64) (hungIDs, deadIDs []int64, err error) {
	now := s.clock.NowNano()

	hungCutoff := now - heartbeatGraceNanos
	deadCutoff := now - heartbeatGraceNanos - deadGraceNanos

	hungIDs, err = queryIDs(ctx, s.db, `
		SELECT id FROM workers WHERE status IN ('idle', 'busy') AND last_heartbeat < ?`, hungCutoff)
	if err != nil {
		return nil, nil, err
	}

	if len(hungIDs) > 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE workers SET status = 'hung' WHERE status IN ('idle', 'busy') AND last_heartbeat < ?`, hungCutoff); err != nil {
			return nil, nil, err
		}
	}

	deadIDs, err = queryIDs(ctx, s.db, `
		SELECT id FROM workers WHERE status = 'hung' AND last_heartbeat < ?`, deadCutoff)
	if err != nil {
		return nil, nil, err
	}

	if len(deadIDs) > 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE workers SET status = 'dead' WHERE status = 'hung' AND last_heartbeat < ?`, deadCutoff); err != nil {
			return nil, nil, err
		}
	}

	return hungIDs, deadIDs, nil
}

// CleanupStale handles the created-row cleanup pass: rows older than
// createdGraceNanos are deleted, either because the parent process is dead
// (silently) or because the worker failed to activate in time (returned in
// failedParentAlive for the caller to emit worker_failed events over).
func (s *Store) CleanupStale(ctx context.Context, createdGraceNanos int64) (deletedIDs []int64, failedParentAlive []int64, err error) {
	cutoff := s.clock.NowNano() - createdGraceNanos

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_pid FROM workers WHERE status = 'created' AND started_at < ?`, cutoff)
	if err != nil {
		return nil, nil, err
	}

	type stale struct {
		id        int64
		parentPID int
	}

	var candidates []stale

	for rows.Next() {
		var c stale
		if err := rows.Scan(&c.id, &c.parentPID); err != nil {
			rows.Close()

			return nil, nil, err
		}

		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows.Close()

	for _, c := range candidates {
		deletedIDs = append(deletedIDs, c.id)

		if processAlive(c.parentPID) {
			failedParentAlive = append(failedParentAlive, c.id)
		}

		if _, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, c.id); err != nil {
			return nil, nil, err
		}
	}

	return deletedIDs, failedParentAlive, nil
}

// processAlive reports whether pid names a live process, using a null
// signal — the same liveness probe a supervising driver uses to detect its
// own orphaned children.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}

func queryIDs(ctx context.Context, db *sql.DB, query string, args ...any) ([]int64, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}
