// Package orchestrator drives a Course through Backend stage by stage:
// generate operations, resolve implicit execution, execute a stage,
// barrier on its completion, then move to the next stage.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/forge/internal/backend"
	"github.com/tonimelisma/forge/internal/course"
)

// StageTimeout bounds how long a single stage's WaitForCompletion barrier
// waits before giving up on straggling jobs.
const StageTimeout = 10 * time.Minute

// defaultMaxJobConcurrency is New's fallback when the caller doesn't set
// MaxJobConcurrency, matching internal/config's own default.
const defaultMaxJobConcurrency = 8

// Orchestrator turns a Course plus a requested OutputTarget into executed
// jobs, stage by stage.
type Orchestrator struct {
	Course       course.Course
	Backend      *backend.Backend
	Logger       *slog.Logger
	Requirements course.ResolverTable
	Providers    course.ProviderTable

	// MaxJobConcurrency bounds how many ExecuteOperation submissions within
	// one stage run at once; the stage then waits for all submitted jobs
	// together, so it does not bound how many jobs are pending. New
	// defaults it; internal/driver overrides it from the configured
	// lifecycle.max_job_concurrency.
	MaxJobConcurrency int
}

// New constructs an Orchestrator.
func New(c course.Course, b *backend.Backend, logger *slog.Logger, requirements course.ResolverTable, providers course.ProviderTable) *Orchestrator {
	return &Orchestrator{
		Course:            c,
		Backend:           b,
		Logger:            logger,
		Requirements:      requirements,
		Providers:         providers,
		MaxJobConcurrency: defaultMaxJobConcurrency,
	}
}

// BuildResult summarizes one Build call.
type BuildResult struct {
	StagesRun     int
	OperationsRun int
	JobIDsByStage map[int][]int64
	FailedStages  []int
}

// Build runs every stage present across the course's files, in ascending
// stage order, for the tuples requested in target (plus whatever tuples
// Resolve determines must run implicitly to populate a cache). A stage
// that reports any job failure stops the build before starting the next
// stage — later stages may depend on earlier ones' outputs.
func (o *Orchestrator) Build(ctx context.Context, target course.OutputTarget, requested []course.Tuple, correlationID string) (*BuildResult, error) {
	valid := make([]course.Tuple, 0, len(requested))

	for _, t := range requested {
		if t.Invalid() {
			o.Logger.Warn("ignoring invalid format/kind combination",
				slog.String("format", t.Format), slog.String("kind", t.Kind))

			continue
		}

		valid = append(valid, t)
	}

	implicit := course.Resolve(valid, o.Requirements, o.Providers)
	tuples := append(append([]course.Tuple{}, valid...), implicit...)

	files := o.Course.Files()

	stages := collectStages(files)

	result := &BuildResult{JobIDsByStage: make(map[int][]int64)}

	var implicitPaths []string

	for _, stage := range stages {
		ops := operationsForStage(files, target, tuples, correlationID, stage)
		if len(ops) == 0 {
			continue
		}

		for _, op := range ops {
			if op.Implicit {
				implicitPaths = append(implicitPaths, op.Payload.OutputFile)
			}
		}

		jobIDs, err := o.runStage(ctx, ops)

		result.JobIDsByStage[stage] = jobIDs
		result.StagesRun++
		result.OperationsRun += len(ops)

		if err != nil {
			result.FailedStages = append(result.FailedStages, stage)

			return result, fmt.Errorf("orchestrator: stage %d: %w", stage, err)
		}
	}

	// Every stage that might still read an implicit operation's artifact has
	// now run; safe to remove them before reporting the build done.
	o.Backend.SuppressImplicitOutputs(implicitPaths)

	return result, nil
}

// runStage submits every operation in the stage (bounded concurrency) then
// barriers on all of them completing before returning.
func (o *Orchestrator) runStage(ctx context.Context, ops []course.Operation) ([]int64, error) {
	var (
		mu     sync.Mutex
		jobIDs []int64
	)

	concurrency := o.MaxJobConcurrency
	if concurrency <= 0 {
		concurrency = defaultMaxJobConcurrency
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for _, op := range ops {
		op := op

		group.Go(func() error {
			jobID, err := o.Backend.ExecuteOperation(groupCtx, op)
			if err != nil {
				return err
			}

			if jobID != 0 {
				mu.Lock()
				jobIDs = append(jobIDs, jobID)
				mu.Unlock()
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("submitting operations: %w", err)
	}

	ok, err := o.Backend.WaitForCompletion(ctx, jobIDs, StageTimeout)
	if err != nil {
		return jobIDs, err
	}

	if !ok {
		return jobIDs, fmt.Errorf("one or more jobs in stage did not complete successfully")
	}

	return jobIDs, nil
}

func collectStages(files []course.CourseFile) []int {
	seen := make(map[int]bool)

	for _, f := range files {
		for _, stage := range f.Stages() {
			seen[stage] = true
		}
	}

	stages := make([]int, 0, len(seen))
	for s := range seen {
		stages = append(stages, s)
	}

	sort.Ints(stages)

	return stages
}

func operationsForStage(files []course.CourseFile, target course.OutputTarget, tuples []course.Tuple, correlationID string, stage int) []course.Operation {
	var ops []course.Operation

	for _, f := range files {
		ops = append(ops, f.Operations(target, tuples, correlationID, stage)...)
	}

	return ops
}
