// Package converter defines the Converter contract WorkerBase drives, and
// provides fake converters (notebook, plantuml, drawio) sufficient to
// exercise the core end-to-end. Real converters — actual notebook
// execution, diagram rendering — are external collaborators outside this
// module's scope.
package converter

import (
	"context"
	"fmt"

	"github.com/tonimelisma/forge/internal/store"
)

// Converter is the opaque, domain-specific job processor each worker kind
// implements. The core never inspects payload contents beyond the three
// universally-required fields on Job; everything else is passed through.
type Converter interface {
	ProcessJob(ctx context.Context, job *store.Job) ([]byte, error)
}

// Fake is a Converter that copies input bytes through a deterministic
// transform, good enough to exercise claim/complete/cache round-trips in
// tests and the demo CLI without a real notebook/diagram toolchain.
type Fake struct {
	Kind string
}

func (f *Fake) ProcessJob(ctx context.Context, job *store.Job) ([]byte, error) {
	if job.InputFile == "" {
		return nil, fmt.Errorf("converter %s: job %d has no input_file", f.Kind, job.ID)
	}

	return []byte(fmt.Sprintf("%s:%s:%s", f.Kind, job.InputFile, job.ContentHash)), nil
}

// New returns the fake converter registered for jobType, or an error if
// jobType is unrecognized — standing in for a real converter registry.
func New(jobType string) (Converter, error) {
	switch jobType {
	case "notebook", "plantuml", "drawio":
		return &Fake{Kind: jobType}, nil
	default:
		return nil, fmt.Errorf("converter: unknown job type %q", jobType)
	}
}
