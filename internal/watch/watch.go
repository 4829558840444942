// Package watch implements WatchCoordinator: fsnotify-driven rebuild
// triggering with per-path debounce, cancellation of superseded work before
// a rebuild starts, and containment of sustained watcher errors.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounceDelay      = 300 * time.Millisecond
	errBackoffInitial  = 1 * time.Second
	errBackoffMax      = 30 * time.Second
	errBackoffMultiple = 2
	maxConsecutiveErrs = 10
)

// ErrTooManyConsecutiveErrors is returned when the watcher error channel
// produces maxConsecutiveErrs errors in a row with no intervening
// successful event, indicating the underlying watch is no longer healthy.
var ErrTooManyConsecutiveErrors = errors.New("watch: too many consecutive filesystem watcher errors")

// FsWatcher abstracts fsnotify.Watcher so tests can inject a fake.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

// Rebuilder is the single callback WatchCoordinator drives on a debounced
// change: cancel whatever work is outstanding for path, then rebuild it.
// fastMode mirrors Coordinator.FastMode, so a Rebuilder can suppress
// expensive formats during a watch session without reading config itself.
type Rebuilder interface {
	CancelForInput(ctx context.Context, inputFile, cancelledBy string) ([]int64, error)
	RebuildInput(ctx context.Context, inputFile string, fastMode bool) error
}

// Coordinator watches a directory tree and, per changed path, debounces
// bursts of fsnotify events into a single cancel-then-rebuild cycle.
type Coordinator struct {
	Rebuilder Rebuilder
	Logger    *slog.Logger
	FastMode  bool

	watcherFactory func() (FsWatcher, error)
	// sleepFunc backs off between watcher errors; returns early (false) if
	// ctx is cancelled first. Overridden in tests to avoid real sleeps.
	sleepFunc func(ctx context.Context, d time.Duration) bool

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New constructs a Coordinator backed by a real fsnotify.Watcher.
func New(rebuilder Rebuilder, logger *slog.Logger, fastMode bool) *Coordinator {
	return &Coordinator{
		Rebuilder: rebuilder,
		Logger:    logger,
		FastMode:  fastMode,
		timers:    make(map[string]*time.Timer),
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
		sleepFunc: func(ctx context.Context, d time.Duration) bool {
			select {
			case <-time.After(d):
				return true
			case <-ctx.Done():
				return false
			}
		},
	}
}

// Watch adds a watch on root itself (its subdirectories are not watched)
// and blocks processing events until ctx is cancelled or the error budget
// is exhausted.
func (c *Coordinator) Watch(ctx context.Context, root string) error {
	watcher, err := c.watcherFactory()
	if err != nil {
		return fmt.Errorf("watch: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("watch: adding root watch: %w", err)
	}

	return c.loop(ctx, watcher)
}

func (c *Coordinator) loop(ctx context.Context, watcher FsWatcher) error {
	backoff := errBackoffInitial
	consecutiveErrs := 0

	for {
		select {
		case <-ctx.Done():
			c.stopAllTimers()

			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			c.scheduleDebounced(ctx, ev.Name)
			consecutiveErrs = 0
			backoff = errBackoffInitial

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			consecutiveErrs++

			c.Logger.Warn("filesystem watcher error",
				slog.Any("error", watchErr), slog.Int("consecutive", consecutiveErrs))

			if consecutiveErrs >= maxConsecutiveErrs {
				c.stopAllTimers()

				return ErrTooManyConsecutiveErrors
			}

			if !c.sleepFunc(ctx, backoff) {
				return nil
			}

			backoff *= errBackoffMultiple
			if backoff > errBackoffMax {
				backoff = errBackoffMax
			}
		}
	}
}

// scheduleDebounced resets path's debounce timer, coalescing a burst of
// events (e.g. an editor's write-then-rename save pattern) into one rebuild.
func (c *Coordinator) scheduleDebounced(ctx context.Context, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.timers[path]; ok {
		existing.Stop()
	}

	c.timers[path] = time.AfterFunc(debounceDelay, func() {
		c.rebuild(ctx, path)
	})
}

func (c *Coordinator) rebuild(ctx context.Context, path string) {
	c.mu.Lock()
	delete(c.timers, path)
	c.mu.Unlock()

	if _, err := c.Rebuilder.CancelForInput(ctx, path, "watch-debounce"); err != nil {
		c.Logger.Warn("cancelling superseded work failed", slog.String("path", path), slog.Any("error", err))
	}

	if err := c.Rebuilder.RebuildInput(ctx, path, c.FastMode); err != nil {
		c.Logger.Error("rebuild failed", slog.String("path", path), slog.Any("error", err))
	}
}

func (c *Coordinator) stopAllTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.timers {
		t.Stop()
	}

	c.timers = make(map[string]*time.Timer)
}
