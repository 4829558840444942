package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

// mockFsWatcher implements FsWatcher with injectable channels, mirroring
// the fsnotify mock shape used for the other observer in this module.
type mockFsWatcher struct {
	events   chan fsnotify.Event
	errs     chan error
	closeOne sync.Once
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 10),
		errs:   make(chan error, 10),
	}
}

func (m *mockFsWatcher) Add(string) error              { return nil }
func (m *mockFsWatcher) Remove(string) error           { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

func (m *mockFsWatcher) Close() error {
	m.closeOne.Do(func() { close(m.events); close(m.errs) })

	return nil
}

type fakeRebuilder struct {
	mu        sync.Mutex
	cancelled []string
	rebuilt   []string
	fastModes []bool
}

func (f *fakeRebuilder) CancelForInput(ctx context.Context, inputFile, cancelledBy string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, inputFile)

	return nil, nil
}

func (f *fakeRebuilder) RebuildInput(ctx context.Context, inputFile string, fastMode bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rebuilt = append(f.rebuilt, inputFile)
	f.fastModes = append(f.fastModes, fastMode)

	return nil
}

func (f *fakeRebuilder) snapshot() (cancelled, rebuilt []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string{}, f.cancelled...), append([]string{}, f.rebuilt...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(mock *mockFsWatcher, rebuilder *fakeRebuilder) *Coordinator {
	c := New(rebuilder, testLogger(), false)
	c.watcherFactory = func() (FsWatcher, error) { return mock, nil }
	c.sleepFunc = func(ctx context.Context, d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	return c
}

func TestWatchDebouncesBurstIntoOneRebuild(t *testing.T) {
	mock := newMockFsWatcher()
	rebuilder := &fakeRebuilder{}
	c := newTestCoordinator(mock, rebuilder)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, "/tmp/course") }()

	for i := 0; i < 5; i++ {
		mock.events <- fsnotify.Event{Name: "/tmp/course/lecture1.ipynb", Op: fsnotify.Write}
	}

	require.Eventually(t, func() bool {
		_, rebuilt := rebuilder.snapshot()

		return len(rebuilt) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	cancelled, rebuilt := rebuilder.snapshot()
	require.Equal(t, []string{"/tmp/course/lecture1.ipynb"}, cancelled)
	require.Equal(t, []string{"/tmp/course/lecture1.ipynb"}, rebuilt)
}

func TestWatchPassesFastModeToRebuilder(t *testing.T) {
	mock := newMockFsWatcher()
	rebuilder := &fakeRebuilder{}
	c := New(rebuilder, testLogger(), true)
	c.watcherFactory = func() (FsWatcher, error) { return mock, nil }
	c.sleepFunc = func(ctx context.Context, d time.Duration) bool { return true }

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, "/tmp/course") }()

	mock.events <- fsnotify.Event{Name: "/tmp/course/lecture1.ipynb", Op: fsnotify.Write}

	require.Eventually(t, func() bool {
		_, rebuilt := rebuilder.snapshot()

		return len(rebuilt) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	rebuilder.mu.Lock()
	defer rebuilder.mu.Unlock()
	require.Equal(t, []bool{true}, rebuilder.fastModes)
}

func TestWatchIgnoresChmodOnlyEvents(t *testing.T) {
	mock := newMockFsWatcher()
	rebuilder := &fakeRebuilder{}
	c := newTestCoordinator(mock, rebuilder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, "/tmp/course") }()

	mock.events <- fsnotify.Event{Name: "/tmp/course/lecture1.ipynb", Op: fsnotify.Chmod}

	time.Sleep(50 * time.Millisecond)

	cancelled, rebuilt := rebuilder.snapshot()
	require.Empty(t, cancelled)
	require.Empty(t, rebuilt)

	cancel()
	<-done
}

func TestWatchStopsAfterTooManyConsecutiveErrors(t *testing.T) {
	mock := newMockFsWatcher()
	rebuilder := &fakeRebuilder{}
	c := newTestCoordinator(mock, rebuilder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, "/tmp/course") }()

	go func() {
		for i := 0; i < maxConsecutiveErrs; i++ {
			mock.errs <- errors.New("kernel buffer overflow")
		}
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTooManyConsecutiveErrors)
	case <-time.After(10 * time.Second):
		t.Fatal("watch loop did not stop after exhausting the error budget")
	}
}
