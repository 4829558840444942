package store

import (
	"context"
	"database/sql"
)

// LogEvent appends one WorkerEvent row. Per the silent-failure prohibition,
// callers must not swallow the returned error outright — they should at
// least log it — but a logging failure here must never fail the caller's
// own operation, so this never returns an error that aborts a transaction
// the caller is inside of; it is always called outside any job/worker
// transaction.
func (s *Store) LogEvent(ctx context.Context, eventType WorkerEventType, workerID *int64, workerType, executionMode, message string, metadata []byte, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_events (event_type, worker_id, worker_type, execution_mode, message, metadata, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		eventType, workerID, workerType, executionMode, message, metadata, sessionID, s.clock.NowNano())

	return err
}

// EventsForSession returns every event for a session, ordered oldest-first,
// bounding event-log queries to one logical pool-startup/session run.
func (s *Store) EventsForSession(ctx context.Context, sessionID string) ([]*WorkerEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, worker_id, worker_type, execution_mode, message, metadata, session_id, created_at
		FROM worker_events WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*WorkerEvent

	for rows.Next() {
		var (
			e        WorkerEvent
			workerID sql.NullInt64
		)

		if err := rows.Scan(&e.ID, &e.EventType, &workerID, &e.WorkerType, &e.ExecutionMode,
			&e.Message, &e.Metadata, &e.SessionID, &e.CreatedAt); err != nil {
			return nil, err
		}

		if workerID.Valid {
			id := workerID.Int64
			e.WorkerID = &id
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}
