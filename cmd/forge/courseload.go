package main

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/forge/internal/course"
)

// extensionJobTypes maps a source file extension to the job type its
// converter registers under. A real course-spec parser would read this
// mapping (and per-file stage/output config) from the course's own
// declarative spec; this is the minimal convention the demo CLI assumes
// until that collaborator exists.
var extensionJobTypes = map[string]string{
	".ipynb":  "notebook",
	".puml":   "plantuml",
	".drawio": "drawio",
}

// loadCourse walks root and builds an in-memory Course from every file
// whose extension is in extensionJobTypes, writing outputs next to the
// course under an "out" directory. This is the demo-CLI course loader
// course.MemoryCourse was built for — not a stand-in for a real
// course-spec parser.
func loadCourse(root string) (course.Course, error) {
	outputDir := filepath.Join(root, "out")

	var files []course.CourseFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path == outputDir {
				return filepath.SkipDir
			}

			return nil
		}

		jobType, ok := extensionJobTypes[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}

		files = append(files, course.NewMemoryFile(path, jobType, outputDir, nil, nil))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return course.NewMemoryCourse(files...), nil
}
