// Package shutdown implements the two-signal graceful-then-forced shutdown
// discipline shared by every long-running forge process (driver, pool
// manager, workers).
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Coordinator installs OS signal handling exactly once per process and
// exposes a context that is cancelled on the first SIGINT/SIGTERM. A second
// signal forces an immediate exit, for callers stuck in a non-cancellable
// operation. Handlers must be installed before the cooperative scheduler
// (pool manager, orchestrator) starts running, so that a signal arriving
// during startup is never lost.
type Coordinator struct {
	logger   *slog.Logger
	finished atomic.Bool
}

// New creates a Coordinator. Call Context once to install signal handling.
func New(logger *slog.Logger) *Coordinator {
	return &Coordinator{logger: logger}
}

// Context returns a context derived from parent that is cancelled on the
// first SIGINT/SIGTERM. A second signal calls os.Exit(1) directly — this
// coordinator never logs from inside the raw signal delivery path, only
// from the goroutine below, so handler latency stays minimal.
func (c *Coordinator) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			c.logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			c.logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()))
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// MarkFinished records that the build has reached a terminal state. After
// this is set, ReportError becomes a no-op: errors surfacing from teardown
// goroutines racing a completed build (e.g. a worker's poll loop observing
// context cancellation after the orchestrator already reported success) are
// not failures and must not be logged as if they were.
func (c *Coordinator) MarkFinished() {
	c.finished.Store(true)
}

// Finished reports whether MarkFinished has been called.
func (c *Coordinator) Finished() bool {
	return c.finished.Load()
}

// ReportError logs err at error level unless the build has already
// finished, in which case it is suppressed. internal/driver routes its
// target-build failures and executor close errors through this, so that a
// late teardown error (a worker exiting after a successful build) doesn't
// mislead an operator watching the logs; the orchestrator and pool manager
// log their own errors directly.
func (c *Coordinator) ReportError(msg string, err error) {
	if c.finished.Load() {
		return
	}

	c.logger.Error(msg, slog.Any("error", err))
}
