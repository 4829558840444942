// Command forge-worker is the standalone worker process a PoolManager
// launches under execution_mode "direct". It reads its identity and
// collaborators entirely from the environment the executor sets — there is
// no forge.toml here, since a worker process outlives any one CLI
// invocation and must not depend on the driver's working directory.
//
// Environment:
//
//	WORKER_ID       pre-assigned database id (set by the pool manager)
//	WORKER_TYPE     matches a configured job type, e.g. "notebook"
//	DB_PATH         path to the shared store
//	WORKSPACE_PATH  root of input/output files
//	LOG_LEVEL       "debug", "info" (default), "warn", or "error"
//	PARENT_PID      pid to monitor for liveness; exit if it disappears
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/tonimelisma/forge/internal/converter"
	"github.com/tonimelisma/forge/internal/shutdown"
	"github.com/tonimelisma/forge/internal/store"
	"github.com/tonimelisma/forge/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "forge-worker:", err)
		os.Exit(1)
	}
}

func run() error {
	workerID, err := strconv.ParseInt(os.Getenv("WORKER_ID"), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing WORKER_ID: %w", err)
	}

	workerType := os.Getenv("WORKER_TYPE")
	if workerType == "" {
		return fmt.Errorf("WORKER_TYPE not set")
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		return fmt.Errorf("DB_PATH not set")
	}

	parentPID, _ := strconv.Atoi(os.Getenv("PARENT_PID"))
	workspacePath := os.Getenv("WORKSPACE_PATH")

	logger := newLogger(os.Getenv("LOG_LEVEL")).With(
		slog.Int64("worker_id", workerID),
		slog.String("worker_type", workerType),
		slog.String("workspace_path", workspacePath),
	)

	conv, err := converter.New(workerType)
	if err != nil {
		return fmt.Errorf("resolving converter: %w", err)
	}

	ctx := shutdown.New(logger).Context(context.Background())

	st, err := store.Open(ctx, dbPath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	base := &worker.Base{
		Store:      st,
		Converter:  conv,
		WorkerID:   workerID,
		WorkerType: workerType,
		ParentPID:  parentPID,
		Logger:     logger,
	}

	return base.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo

	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
