package course

import "fmt"

// MemoryCourse is a Course backed by a fixed, in-memory list of files —
// good enough to drive the orchestrator end to end in tests and the `forge`
// demo CLI, but never a stand-in for a real course-spec parser.
type MemoryCourse struct {
	files []CourseFile
}

// NewMemoryCourse builds a Course over the given files.
func NewMemoryCourse(files ...CourseFile) *MemoryCourse {
	return &MemoryCourse{files: files}
}

func (c *MemoryCourse) Files() []CourseFile { return c.files }

// MemoryFile is a CourseFile whose (format, kind) -> job_type mapping and
// output path convention are fixed at construction.
type MemoryFile struct {
	path      string
	jobType   string
	outputDir string
	stages    []int
	stageFor  func(Tuple) int
}

// NewMemoryFile builds a CourseFile at path, producing jobType jobs, with
// outputs under outputDir. stageFor assigns a stage number per requested
// tuple (defaults to stage 0 for every tuple when nil). stages must list
// every distinct value stageFor can return, ascending.
func NewMemoryFile(path, jobType, outputDir string, stages []int, stageFor func(Tuple) int) *MemoryFile {
	if stageFor == nil {
		stageFor = func(Tuple) int { return 0 }
	}

	if stages == nil {
		stages = []int{0}
	}

	return &MemoryFile{path: path, jobType: jobType, outputDir: outputDir, stages: stages, stageFor: stageFor}
}

func (f *MemoryFile) Path() string { return f.path }

func (f *MemoryFile) Stages() []int { return f.stages }

func (f *MemoryFile) Operations(target OutputTarget, tuples []Tuple, correlationID string, stage int) []Operation {
	var ops []Operation

	for _, t := range tuples {
		if f.stageFor(t) != stage {
			continue
		}

		implicit := !target.Matches(t)

		outputFile := fmt.Sprintf("%s/%s.%s.%s", f.outputDir, t.Language, t.Format, t.Kind)

		ops = append(ops, Operation{
			Stage: stage,
			Payload: Payload{
				InputFile:     f.path,
				OutputFile:    outputFile,
				CorrelationID: correlationID,
				JobType:       f.jobType,
				ContentHash:   ContentHash(f.path, t),
				Extra: map[string]string{
					"language": t.Language,
					"format":   t.Format,
					"kind":     t.Kind,
				},
			},
			Implicit: implicit,
		})
	}

	return ops
}
