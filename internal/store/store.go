package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// busyTimeout bounds how long a connection waits on SQLITE_BUSY before the
// driver surfaces the error to the caller's retry loop.
const busyTimeout = 5 * time.Second

// Store owns the embedded database connection pool and schema lifecycle. It
// is the only component that issues DDL. JobQueue, the worker registry, and
// the result cache are thin method sets over the same *sql.DB, grouped into
// separate files by domain rather than separate types, since they all share
// one connection pool and one migration history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	clock  Clock
}

// Open creates (if absent) and migrates the database at path, configures
// rollback-journal durability pragmas, and returns a ready Store. path may
// be ":memory:" for tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	return OpenWithClock(ctx, path, logger, SystemClock)
}

// OpenWithClock is Open with an injectable Clock, for deterministic tests.
func OpenWithClock(ctx context.Context, path string, logger *slog.Logger, clock Clock) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	// Every connection to ":memory:" opens its own empty database, so an
	// in-memory store is held to a single connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db, logger: logger, clock: clock}, nil
}

// setPragmas configures the connection for rollback-journal durability —
// the default journal_mode is already DELETE (the rollback journal) for a
// freshly created file, but it is set explicitly here in case the database
// was previously opened in WAL mode by another tool.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close releases the connection pool. Safe to call once; the caller owns
// the Store's lifetime, mirroring every connection factory this package
// exposes.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components (e.g. a status reporter)
// that need read-only ad-hoc queries outside the JobQueue/registry method
// sets.
func (s *Store) DB() *sql.DB {
	return s.db
}

// beginImmediate starts a write transaction using SQLite's immediate-mode
// locking, acquiring the write lock at BEGIN rather than at the first write
// statement. This is what makes claim_next race-free: two concurrent callers
// cannot both proceed past BEGIN IMMEDIATE believing they hold the lock.
// database/sql's ordinary BeginTx issues a plain deferred BEGIN, so the
// immediate mode is requested with a literal statement on a dedicated
// connection instead.
func (s *Store) beginImmediate(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquiring connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		conn.Close()

		return nil, classifyBusy(err)
	}

	return conn, nil
}

// commitImmediate commits (or rolls back on err != nil) a transaction opened
// with beginImmediate, and always releases the connection back to the pool.
func commitImmediate(ctx context.Context, conn *sql.Conn, err error) error {
	defer conn.Close()

	if err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("store: rollback after %w failed: %w", err, rbErr)
		}

		return err
	}

	if _, commitErr := conn.ExecContext(ctx, "COMMIT"); commitErr != nil {
		return fmt.Errorf("store: commit: %w", commitErr)
	}

	return nil
}
