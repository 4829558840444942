package store

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), ":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestAddJobRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddJob(ctx, "notebook", "in.ipynb", "out.html", "hash1", "corr1", nil, 0)
	require.NoError(t, err)

	_, err = s.AddJob(ctx, "notebook", "in.ipynb", "out.html", "hash1", "corr2", nil, 0)
	require.ErrorIs(t, err, ErrDuplicateJob)
}

func TestClaimNextOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lowID, err := s.AddJob(ctx, "notebook", "a", "a.out", "h1", "c1", nil, 0)
	require.NoError(t, err)

	_, err = s.AddJob(ctx, "notebook", "b", "b.out", "h2", "c1", nil, 5)
	require.NoError(t, err)

	highID, err := s.AddJob(ctx, "notebook", "c", "c.out", "h3", "c1", nil, 10)
	require.NoError(t, err)

	job, err := s.ClaimNext(ctx, "notebook", 1)
	require.NoError(t, err)
	require.Equal(t, highID, job.ID)

	job2, err := s.ClaimNext(ctx, "notebook", 1)
	require.NoError(t, err)
	require.Equal(t, lowID+1, job2.ID) // mid-priority job b

	job3, err := s.ClaimNext(ctx, "notebook", 1)
	require.NoError(t, err)
	require.Equal(t, lowID, job3.ID)

	none, err := s.ClaimNext(ctx, "notebook", 1)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestClaimNextIsExclusiveUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 40

	for i := 0; i < n; i++ {
		_, err := s.AddJob(ctx, "notebook", "in", "out", randHash(i), "c", nil, 0)
		require.NoError(t, err)
	}

	const workers = 4

	claimed := make([]int, workers)

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		w := w

		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				job, err := s.ClaimNext(ctx, "notebook", int64(w+1))
				require.NoError(t, err)

				if job == nil {
					return
				}

				claimed[w]++
			}
		}()
	}

	wg.Wait()

	total := 0
	for _, c := range claimed {
		total += c
	}

	require.Equal(t, n, total)
}

func TestCompleteMarksJobCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddJob(ctx, "notebook", "in", "out", "h", "c", nil, 0)
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, "notebook", 1)
	require.NoError(t, err)

	require.NoError(t, s.Complete(ctx, id))

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, JobCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
}

func TestCancelForInputSupersedesInFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j1, err := s.AddJob(ctx, "notebook", "A", "A.out", "h1", "c1", nil, 0)
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, "notebook", 1)
	require.NoError(t, err)

	ids, err := s.CancelForInput(ctx, "A", "c2")
	require.NoError(t, err)
	require.Equal(t, []int64{j1}, ids)

	job, err := s.GetJob(ctx, j1)
	require.NoError(t, err)
	require.Equal(t, JobCancelled, job.Status)
	require.Equal(t, "c2", *job.CancelledBy)
}

func TestResultCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCache(ctx, "out.html", "h1", []byte("meta")))

	meta, err := s.CheckCache(ctx, "out.html", "h1")
	require.NoError(t, err)
	require.Equal(t, []byte("meta"), meta)

	meta2, err := s.CheckCache(ctx, "out.html", "h1")
	require.NoError(t, err)
	require.Equal(t, []byte("meta"), meta2)

	missing, err := s.CheckCache(ctx, "out.html", "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestWorkerRegistryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.PreRegister(ctx, "notebook", ExecutionModeDirect, "exec-1", 12345, "sess-1")
	require.NoError(t, err)

	w, err := s.GetWorker(ctx, id)
	require.NoError(t, err)
	require.Equal(t, WorkerCreated, w.Status)

	require.NoError(t, s.Activate(ctx, id))

	w, err = s.GetWorker(ctx, id)
	require.NoError(t, err)
	require.Equal(t, WorkerIdle, w.Status)
}

func randHash(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"

	b := make([]byte, 8)
	for j := range b {
		b[j] = letters[(i*7+j*13)%len(letters)]
	}

	b[0] = letters[(i/len(letters))%len(letters)]

	return string(b)
}
