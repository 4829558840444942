package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tonimelisma/forge/internal/course"
	"github.com/tonimelisma/forge/internal/orchestrator"
	"github.com/tonimelisma/forge/internal/store"
	"github.com/tonimelisma/forge/internal/watch"
)

// Exit codes per the driver's external contract: 0 success, 1 non-fatal
// completion with some jobs failed, 2 fatal (no workers, store
// inaccessible, configuration invalid).
const (
	ExitSuccess       = 0
	ExitPartialFailed = 1
	ExitFatal         = 2
)

// BuildOptions parameterizes one build() call. Course is accepted directly
// — parsing a course specification into Course/CourseFile values is an
// external collaborator's job, outside this package's scope.
type BuildOptions struct {
	Course        course.Course
	Targets       []course.OutputTarget
	Requested     []course.Tuple
	Requirements  course.ResolverTable
	Providers     course.ProviderTable
	Watch         bool
	ReuseWorkers  bool
	CorrelationID string
}

// BuildReport summarizes a build() call across every requested target.
type BuildReport struct {
	PerTarget []*orchestrator.BuildResult
	JobCounts map[store.JobStatus]int
	// Failures holds one UserError per job row that ended failed — a
	// converter rejected its source artifact. Never fatal to the build.
	Failures []error
}

// Build starts (or reuses) workers, runs the orchestrator once per
// requested target, and — if opts.Watch is set — hands off to a
// WatchCoordinator that stays running until ctx is cancelled. It returns
// the build report and the process exit code the CLI should use.
func (d *Driver) Build(ctx context.Context, opts BuildOptions) (*BuildReport, int, error) {
	if opts.CorrelationID == "" {
		opts.CorrelationID = uuid.NewString()
	}

	// Once Build returns by any path, teardown racing the now-finished build
	// (a worker's poll loop observing context cancellation after the
	// orchestrator already reported success) must not be logged as a failure.
	defer d.Shutdown.MarkFinished()

	if err := d.StartWorkers(ctx, opts.ReuseWorkers); err != nil {
		return nil, ExitFatal, err
	}

	report := &BuildReport{}

	for _, target := range opts.Targets {
		o := d.newOrchestrator(opts.Course, opts.Requirements, opts.Providers)

		result, err := o.Build(ctx, target, opts.Requested, opts.CorrelationID)
		report.PerTarget = append(report.PerTarget, result)

		if err != nil {
			if errors.Is(err, store.ErrNoWorkersForType) {
				return report, ExitFatal, asInfrastructureError(err)
			}

			// A stage reporting failed jobs is a non-fatal, per-file condition;
			// later targets still run so their independent outputs are produced.
			d.Shutdown.ReportError("target build finished with failures", err)
		}
	}

	counts, err := d.Store.JobCounts(ctx)
	if err != nil {
		return report, ExitFatal, asInfrastructureError(fmt.Errorf("driver: reading job counts: %w", err))
	}

	report.JobCounts = counts

	if counts[store.JobFailed] > 0 {
		failures, err := d.failedJobErrors(ctx, report)
		if err != nil {
			return report, ExitFatal, asInfrastructureError(err)
		}

		report.Failures = failures
	}

	if opts.Watch {
		if err := d.watchLoop(ctx, opts); err != nil {
			return report, ExitFatal, asInfrastructureError(err)
		}

		return report, ExitSuccess, nil
	}

	if counts[store.JobFailed] > 0 {
		return report, ExitPartialFailed, nil
	}

	return report, ExitSuccess, nil
}

// failedJobErrors fetches every job this build submitted and wraps the
// failed ones' recorded error text as UserErrors — a converter rejecting
// its source artifact is bad input, not an infrastructure problem.
func (d *Driver) failedJobErrors(ctx context.Context, report *BuildReport) ([]error, error) {
	var ids []int64

	for _, per := range report.PerTarget {
		for _, stageIDs := range per.JobIDsByStage {
			ids = append(ids, stageIDs...)
		}
	}

	if len(ids) == 0 {
		return nil, nil
	}

	jobs, err := d.Store.GetJobs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("driver: fetching jobs for failure report: %w", err)
	}

	var failures []error

	for _, job := range jobs {
		if job.Status != store.JobFailed {
			continue
		}

		msg := "job " + fmt.Sprint(job.ID) + " (" + job.InputFile + ") failed"
		if job.Error != nil {
			msg += ": " + *job.Error
		}

		failures = append(failures, asUserError(errors.New(msg)))
	}

	return failures, nil
}

// watchLoop runs the WatchCoordinator over the store's workspace root until
// ctx is cancelled, rebuilding whichever single input file changed.
func (d *Driver) watchLoop(ctx context.Context, opts BuildOptions) error {
	rebuilder := &courseRebuilder{driver: d, opts: opts}

	coordinator := watch.New(rebuilder, d.Logger, d.Config.Watch.FastMode)

	return coordinator.Watch(ctx, d.Config.Store.WorkspaceRoot)
}

// courseRebuilder adapts Driver to watch.Rebuilder: cancel obsolete work
// for the changed path, then rebuild just that file against every
// originally requested target.
type courseRebuilder struct {
	driver *Driver
	opts   BuildOptions
}

func (r *courseRebuilder) CancelForInput(ctx context.Context, inputFile, cancelledBy string) ([]int64, error) {
	return r.driver.Backend.CancelForInput(ctx, inputFile, cancelledBy)
}

func (r *courseRebuilder) RebuildInput(ctx context.Context, inputFile string, fastMode bool) error {
	single := singleFileCourse{inner: r.opts.Course, path: inputFile}
	correlationID := uuid.NewString()

	requested := r.opts.Requested
	if fastMode {
		requested = filterExpensiveFormats(requested)
	}

	for _, target := range r.opts.Targets {
		o := r.driver.newOrchestrator(single, r.opts.Requirements, r.opts.Providers)

		if _, err := o.Build(ctx, target, requested, correlationID); err != nil {
			return err
		}
	}

	return nil
}

// expensiveWatchFormats lists the formats fast mode suppresses during a
// watch-triggered rebuild to tighten the feedback loop.
var expensiveWatchFormats = map[string]bool{"html": true}

// filterExpensiveFormats drops any tuple naming a format fast mode
// suppresses, leaving the rest of the requested set untouched.
func filterExpensiveFormats(tuples []course.Tuple) []course.Tuple {
	filtered := make([]course.Tuple, 0, len(tuples))

	for _, t := range tuples {
		if expensiveWatchFormats[t.Format] {
			continue
		}

		filtered = append(filtered, t)
	}

	return filtered
}

// singleFileCourse filters an underlying Course down to the one file whose
// Path() matches, so a watch-triggered rebuild touches only the changed
// input instead of re-walking the entire course.
type singleFileCourse struct {
	inner course.Course
	path  string
}

func (c singleFileCourse) Files() []course.CourseFile {
	for _, f := range c.inner.Files() {
		if f.Path() == c.path {
			return []course.CourseFile{f}
		}
	}

	return nil
}

// CancelForInput supersedes in-flight obsolete work for path.
func (d *Driver) CancelForInput(ctx context.Context, path string) ([]int64, error) {
	cancelledBy := "cancel-" + uuid.NewString()

	ids, err := d.Backend.CancelForInput(ctx, path, cancelledBy)
	if err != nil {
		return nil, asInfrastructureError(err)
	}

	return ids, nil
}

// CleanupStale runs one pass of stuck `created`-row cleanup directly,
// independent of the periodic sweep each pool's health monitor already
// runs in the background.
func (d *Driver) CleanupStale(ctx context.Context) error {
	graceNanos := int64(d.Config.Lifecycle.CreatedGraceSeconds) * 1_000_000_000

	_, _, err := d.Store.CleanupStale(ctx, graceNanos)
	if err != nil {
		return asInfrastructureError(err)
	}

	return nil
}
