package store

import "database/sql"

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j         Job
		errText   sql.NullString
		startedAt sql.NullInt64
		completed sql.NullInt64
		cancelled sql.NullInt64
		workerID  sql.NullInt64
		cancelBy  sql.NullString
	)

	if err := row.Scan(
		&j.ID, &j.JobType, &j.Status, &j.Priority, &j.InputFile, &j.OutputFile,
		&j.ContentHash, &j.CorrelationID, &j.Payload, &j.Attempts, &j.MaxAttempts,
		&errText, &j.CreatedAt, &startedAt, &completed, &cancelled, &workerID, &cancelBy,
	); err != nil {
		return nil, err
	}

	if errText.Valid {
		j.Error = &errText.String
	}

	if startedAt.Valid {
		j.StartedAt = &startedAt.Int64
	}

	if completed.Valid {
		j.CompletedAt = &completed.Int64
	}

	if cancelled.Valid {
		j.CancelledAt = &cancelled.Int64
	}

	if workerID.Valid {
		j.WorkerID = &workerID.Int64
	}

	if cancelBy.Valid {
		j.CancelledBy = &cancelBy.String
	}

	return &j, nil
}

const jobColumns = `id, job_type, status, priority, input_file, output_file,
	content_hash, correlation_id, payload, attempts, max_attempts,
	error, created_at, started_at, completed_at, cancelled_at, worker_id, cancelled_by`

func scanWorker(row rowScanner) (*Worker, error) {
	var w Worker

	if err := row.Scan(
		&w.ID, &w.WorkerType, &w.ExecutorID, &w.Status, &w.ExecutionMode,
		&w.ParentPID, &w.SessionID, &w.StartedAt, &w.LastHeartbeat,
		&w.JobsProcessed, &w.JobsFailed,
	); err != nil {
		return nil, err
	}

	return &w, nil
}

const workerColumns = `id, worker_type, executor_id, status, execution_mode,
	parent_pid, session_id, started_at, last_heartbeat, jobs_processed, jobs_failed`
