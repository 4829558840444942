package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/forge/internal/backend"
	"github.com/tonimelisma/forge/internal/converter"
	"github.com/tonimelisma/forge/internal/course"
	"github.com/tonimelisma/forge/internal/store"
	"github.com/tonimelisma/forge/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runFakeWorker pre-registers and activates one worker of workerType, then
// drives it with worker.Base in the background until ctx is cancelled.
func runFakeWorker(t *testing.T, ctx context.Context, s *store.Store, workerType string) {
	t.Helper()

	workerID, err := s.PreRegister(ctx, workerType, store.ExecutionModeDirect, "exec-"+workerType, os.Getpid(), "sess-1")
	require.NoError(t, err)

	conv, err := converter.New(workerType)
	require.NoError(t, err)

	base := &worker.Base{
		Store:      s,
		Converter:  conv,
		WorkerID:   workerID,
		WorkerType: workerType,
		ParentPID:  os.Getpid(),
		Logger:     testLogger(),
	}

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = base.Run(ctx)
	}()

	t.Cleanup(wg.Wait)
}

func TestBuildRunsSingleStageToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	runFakeWorker(t, ctx, s, "notebook")

	dir := t.TempDir()

	file := course.NewMemoryFile(dir+"/lecture1.ipynb", "notebook", dir+"/out", []int{0}, nil)
	c := course.NewMemoryCourse(file)

	b := backend.New(s, testLogger())
	o := New(c, b, testLogger(), course.ResolverTable{}, course.ProviderTable{})

	target := course.OutputTarget{Formats: map[string]bool{"html": true}}
	requested := []course.Tuple{{Language: "en", Format: "html", Kind: "completed"}}

	result, err := o.Build(ctx, target, requested, "build-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.StagesRun)
	require.Equal(t, 1, result.OperationsRun)
	require.Empty(t, result.FailedStages)

	data, err := os.ReadFile(dir + "/out/en.html.completed")
	require.NoError(t, err)
	require.NotEmpty(t, data)
}

func TestBuildRunsStagesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	runFakeWorker(t, ctx, s, "notebook")

	dir := t.TempDir()

	stageFor := func(t course.Tuple) int {
		if t.Kind == "speaker" {
			return 0
		}

		return 1
	}

	file := course.NewMemoryFile(dir+"/lecture1.ipynb", "notebook", dir+"/out", []int{0, 1}, stageFor)
	c := course.NewMemoryCourse(file)

	requirements := course.ResolverTable{
		{Format: "html", Kind: "completed"}: course.RequirementReusesCache,
	}
	providers := course.ProviderTable{
		{Format: "html", Kind: "completed"}: {Format: "html", Kind: "speaker"},
	}

	b := backend.New(s, testLogger())
	o := New(c, b, testLogger(), requirements, providers)

	target := course.OutputTarget{Formats: map[string]bool{"html": true}, Kinds: map[string]bool{"completed": true}}
	requested := []course.Tuple{{Language: "en", Format: "html", Kind: "completed"}}

	result, err := o.Build(ctx, target, requested, "build-2")
	require.NoError(t, err)
	require.Equal(t, 2, result.StagesRun)
	require.Equal(t, 2, result.OperationsRun)

	_, ok := result.JobIDsByStage[0]
	require.True(t, ok, "implicit speaker stage must run before the completed stage")

	_, err = os.Stat(dir + "/out/en.html.speaker")
	require.True(t, os.IsNotExist(err), "implicit operation's output must not remain at the target path")

	data, err := os.ReadFile(dir + "/out/en.html.completed")
	require.NoError(t, err)
	require.NotEmpty(t, data, "the explicitly requested tuple's output must still be written")
}

func TestBuildReportsFailedStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	dir := t.TempDir()

	file := course.NewMemoryFile(dir+"/lecture1.ipynb", "notebook", dir+"/out", []int{0}, nil)
	c := course.NewMemoryCourse(file)

	b := backend.New(s, testLogger())
	o := New(c, b, testLogger(), course.ResolverTable{}, course.ProviderTable{})

	target := course.OutputTarget{Formats: map[string]bool{"html": true}}
	requested := []course.Tuple{{Language: "en", Format: "html", Kind: "completed"}}

	_, err = o.Build(ctx, target, requested, "build-3")
	require.ErrorIs(t, err, store.ErrNoWorkersForType)
}

func TestBuildReusesStoredResultWithoutNewJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	dir := t.TempDir()
	inputFile := dir + "/lecture1.ipynb"
	outputFile := dir + "/out/en.html.completed"

	tuple := course.Tuple{Language: "en", Format: "html", Kind: "completed"}
	require.NoError(t, s.PutStoredResult(ctx, inputFile, course.ContentHash(inputFile, tuple), outputFile, []byte("precomputed")))

	file := course.NewMemoryFile(inputFile, "notebook", dir+"/out", []int{0}, nil)
	c := course.NewMemoryCourse(file)

	b := backend.New(s, testLogger())
	o := New(c, b, testLogger(), course.ResolverTable{}, course.ProviderTable{})

	target := course.OutputTarget{Formats: map[string]bool{"html": true}}

	result, err := o.Build(ctx, target, []course.Tuple{tuple}, "build-4")
	require.NoError(t, err)
	require.Empty(t, result.JobIDsByStage[0], "a tier-1 hit must not enqueue a job")

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	require.Equal(t, "precomputed", string(data))
}
