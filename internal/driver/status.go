package driver

import (
	"context"
	"fmt"

	"github.com/tonimelisma/forge/internal/store"
)

// StatusReport is the status() snapshot: worker-row counts by status and
// job-row counts by status, for an external status reporter to render.
type StatusReport struct {
	Workers map[store.WorkerStatus]int
	Jobs    map[store.JobStatus]int
}

// Status returns a point-in-time snapshot of worker and job row counts.
func (d *Driver) Status(ctx context.Context) (*StatusReport, error) {
	workers, err := d.Store.AllWorkers(ctx)
	if err != nil {
		return nil, asInfrastructureError(fmt.Errorf("driver: listing workers: %w", err))
	}

	workerCounts := make(map[store.WorkerStatus]int)
	for _, w := range workers {
		workerCounts[w.Status]++
	}

	jobCounts, err := d.Store.JobCounts(ctx)
	if err != nil {
		return nil, asInfrastructureError(fmt.Errorf("driver: counting jobs: %w", err))
	}

	return &StatusReport{Workers: workerCounts, Jobs: jobCounts}, nil
}
