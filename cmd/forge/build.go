package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/forge/internal/course"
	"github.com/tonimelisma/forge/internal/driver"
)

func newBuildCmd() *cobra.Command {
	var (
		languages    []string
		formats      []string
		kinds        []string
		watch        bool
		reuseWorkers bool
		pidFilePath  string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the course, enqueuing converter jobs through the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := cliContextFrom(cmd.Context())
			if err != nil {
				return err
			}

			if watch {
				cleanup, err := writePIDFile(pidFilePath)
				if err != nil {
					return err
				}
				defer cleanup()
			}

			c, err := loadCourse(flagCoursePath)
			if err != nil {
				return fmt.Errorf("loading course: %w", err)
			}

			d, err := newDriver(cmd.Context(), cc)
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := d.Shutdown.Context(cmd.Context())

			target := course.OutputTarget{
				Languages: toFilterSet(languages),
				Formats:   toFilterSet(formats),
				Kinds:     toFilterSet(kinds),
			}

			requested := requestedTuples(languages, formats, kinds)

			report, code, err := d.Build(ctx, driver.BuildOptions{
				Course:       c,
				Targets:      []course.OutputTarget{target},
				Requested:    requested,
				Watch:        watch,
				ReuseWorkers: reuseWorkers,
			})

			exitCode = code

			if err != nil {
				return err
			}

			printBuildSummary(cc, report)

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&languages, "language", nil, "languages to build (default: all)")
	cmd.Flags().StringSliceVar(&formats, "format", nil, "output formats to build (default: all)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "output kinds to build (default: all)")
	cmd.Flags().BoolVar(&watch, "watch", false, "stay running and rebuild on file changes")
	cmd.Flags().BoolVar(&reuseWorkers, "reuse-workers", true, "reuse already-running healthy workers instead of restarting")
	cmd.Flags().StringVar(&pidFilePath, "pidfile", "forge.pid", "PID/lock file path for --watch's single-instance guard")

	return cmd
}

// toFilterSet converts a flag's string slice into an OutputTarget filter
// set, or nil (meaning "all") when the flag was not set.
func toFilterSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}

	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}

	return set
}

// requestedTuples expands the language/format/kind flags into the
// requested tuple set. Every combination is requested; the orchestrator's
// OutputTarget filter narrows which of a file's (language, format, kind)
// capabilities actually execute.
func requestedTuples(languages, formats, kinds []string) []course.Tuple {
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	if len(formats) == 0 {
		formats = []string{"html"}
	}

	if len(kinds) == 0 {
		kinds = []string{"completed"}
	}

	var tuples []course.Tuple

	for _, l := range languages {
		for _, f := range formats {
			for _, k := range kinds {
				tuples = append(tuples, course.Tuple{Language: l, Format: f, Kind: k})
			}
		}
	}

	return tuples
}

func printBuildSummary(cc *cliContext, report *driver.BuildReport) {
	if report == nil {
		return
	}

	cc.Logger.Info("build finished",
		"operations_run", sumOperationsRun(report),
		"jobs_completed", report.JobCounts["completed"],
		"jobs_failed", report.JobCounts["failed"],
		"jobs_cancelled", report.JobCounts["cancelled"])

	for _, f := range report.Failures {
		cc.Logger.Warn(strings.TrimSpace(f.Error()))
	}
}

func sumOperationsRun(report *driver.BuildReport) int {
	total := 0

	for _, per := range report.PerTarget {
		if per != nil {
			total += per.OperationsRun
		}
	}

	return total
}
