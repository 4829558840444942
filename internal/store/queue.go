package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AddJob inserts a pending row, failing with ErrDuplicateJob if an identical
// (output_file, content_hash) row already exists with status pending or
// processing. The orchestrator is responsible for deciding whether a
// duplicate is an error or an expected no-op.
func (s *Store) AddJob(ctx context.Context, jobType, inputFile, outputFile, contentHash, correlationID string, payload []byte, priority int) (int64, error) {
	var id int64

	err := withBusyRetry(ctx, func() error {
		conn, err := s.beginImmediate(ctx)
		if err != nil {
			return err
		}

		var dupErr error

		err = func() error {
			var count int

			row := conn.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM jobs
				WHERE output_file = ? AND content_hash = ? AND status IN ('pending', 'processing')`,
				outputFile, contentHash)
			if scanErr := row.Scan(&count); scanErr != nil {
				return scanErr
			}

			if count > 0 {
				dupErr = ErrDuplicateJob

				return nil
			}

			res, execErr := conn.ExecContext(ctx, `
				INSERT INTO jobs (job_type, status, priority, input_file, output_file,
					content_hash, correlation_id, payload, attempts, max_attempts, created_at)
				VALUES (?, 'pending', ?, ?, ?, ?, ?, ?, 0, 1, ?)`,
				jobType, priority, inputFile, outputFile, contentHash, correlationID, payload, s.clock.NowNano())
			if execErr != nil {
				return execErr
			}

			id, execErr = res.LastInsertId()

			return execErr
		}()

		if commitErr := commitImmediate(ctx, conn, err); commitErr != nil {
			return commitErr
		}

		return dupErr
	})

	return id, err
}

// SetMaxAttempts overrides the default max_attempts=1 set at insertion,
// used by callers that want a bounded retry budget for a specific job type.
func (s *Store) SetMaxAttempts(ctx context.Context, jobID int64, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET max_attempts = ? WHERE id = ?`, maxAttempts, jobID)

	return err
}

// ClaimNext is the atomic claim transaction: selection and update happen
// inside one immediate-mode write transaction, so no other caller can ever
// observe or claim the same row. Returns (nil, nil) if no row qualifies.
func (s *Store) ClaimNext(ctx context.Context, workerType string, workerID int64) (*Job, error) {
	var claimed *Job

	err := withBusyRetry(ctx, func() error {
		conn, err := s.beginImmediate(ctx)
		if err != nil {
			return err
		}

		runErr := func() error {
			row := conn.QueryRowContext(ctx, `
				SELECT `+jobColumns+` FROM jobs
				WHERE job_type = ? AND status = 'pending' AND attempts < max_attempts
				ORDER BY priority DESC, created_at ASC, id ASC
				LIMIT 1`, workerType)

			job, scanErr := scanJob(row)
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil
			}

			if scanErr != nil {
				return scanErr
			}

			now := s.clock.NowNano()

			if _, execErr := conn.ExecContext(ctx, `
				UPDATE jobs SET status = 'processing', started_at = ?, worker_id = ?,
					attempts = attempts + 1
				WHERE id = ?`, now, workerID, job.ID); execErr != nil {
				return execErr
			}

			job.Status = JobProcessing
			job.StartedAt = &now
			job.WorkerID = &workerID
			job.Attempts++
			claimed = job

			return nil
		}()

		return commitImmediate(ctx, conn, runErr)
	})

	return claimed, err
}

// Complete marks a job completed and clears any previously recorded error.
func (s *Store) Complete(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = ?, error = NULL WHERE id = ?`,
		s.clock.NowNano(), jobID)

	return err
}

// Fail marks a job failed and stores the error text. The caller decides
// separately whether to re-enqueue; this store never auto-requeues.
func (s *Store) Fail(ctx context.Context, jobID int64, errText string) error {
	now := s.clock.NowNano()

	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', completed_at = ?, error = ? WHERE id = ?`,
		now, errText, jobID)

	return err
}

// CancelForInput atomically marks every pending or processing row with
// matching input_file as cancelled, recording cancelled_by. Returns the ids
// of every row it cancelled.
func (s *Store) CancelForInput(ctx context.Context, inputFile, cancelledBy string) ([]int64, error) {
	var ids []int64

	err := withBusyRetry(ctx, func() error {
		conn, err := s.beginImmediate(ctx)
		if err != nil {
			return err
		}

		runErr := func() error {
			rows, err := conn.QueryContext(ctx, `
				SELECT id FROM jobs WHERE input_file = ? AND status IN ('pending', 'processing')`, inputFile)
			if err != nil {
				return err
			}

			ids = nil

			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					rows.Close()

					return err
				}

				ids = append(ids, id)
			}

			if err := rows.Err(); err != nil {
				return err
			}

			if len(ids) == 0 {
				return nil
			}

			now := s.clock.NowNano()
			_, execErr := conn.ExecContext(ctx, `
				UPDATE jobs SET status = 'cancelled', cancelled_at = ?, completed_at = ?, cancelled_by = ?
				WHERE input_file = ? AND status IN ('pending', 'processing')`,
				now, now, cancelledBy, inputFile)

			return execErr
		}()

		return commitImmediate(ctx, conn, runErr)
	})

	return ids, err
}

// IsCancelled is a single-row read used by workers during long operations.
func (s *Store) IsCancelled(ctx context.Context, jobID int64) (bool, error) {
	var status string

	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if err != nil {
		return false, fmt.Errorf("store: checking cancellation for job %d: %w", jobID, err)
	}

	return status == string(JobCancelled), nil
}

// FindActiveJob returns the pending or processing row for (outputFile,
// contentHash), or nil if none exists — used to recover the job ID behind
// an ErrDuplicateJob from AddJob.
func (s *Store) FindActiveJob(ctx context.Context, outputFile, contentHash string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE output_file = ? AND content_hash = ? AND status IN ('pending', 'processing')
		ORDER BY id DESC LIMIT 1`, outputFile, contentHash)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return job, err
}

// JobCounts returns the number of job rows in each status, for a build
// status snapshot. Statuses with zero rows are omitted.
func (s *Store) JobCounts(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: counting jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("store: scanning job count row: %w", err)
		}

		counts[JobStatus(status)] = count
	}

	return counts, rows.Err()
}

// GetJob fetches a single job row by id.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return job, err
}

// GetJobs fetches a batch of job rows by id, in no particular order.
func (s *Store) GetJobs(ctx context.Context, ids []int64) ([]*Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args := inClause(`SELECT `+jobColumns+` FROM jobs WHERE id IN (%s)`, ids)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func inClause(query string, ids []int64) (string, []any) {
	placeholders := ""
	args := make([]any, len(ids))

	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}

		placeholders += "?"
		args[i] = id
	}

	return fmt.Sprintf(query, placeholders), args
}
