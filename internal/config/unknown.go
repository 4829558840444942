package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSections are the valid top-level table names in the config file,
// each mapping to the set of fields valid inside it.
var knownSections = map[string]map[string]bool{
	"store": {
		"db_path": true, "workspace_root": true, "worker_binary_path": true,
	},
	"lifecycle": {
		"mode": true, "max_startup_concurrency": true, "max_job_concurrency": true,
		"heartbeat_grace_seconds": true, "dead_grace_seconds": true, "created_grace_seconds": true,
	},
	"container": {
		"socket_path": true, "namespace": true, "escape_paths": true,
	},
	"watch": {
		"debounce_millis": true, "fast_mode": true,
	},
	"logging": {
		"level": true, "format": true,
	},
}

// knownSectionsList is the sorted slice of top-level table names, used to
// suggest a section name when a whole table header is unrecognized.
var knownSectionsList = func() []string {
	keys := make([]string, 0, len(knownSections))
	for k := range knownSections {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// knownSectionKeysList returns the sorted field names valid inside section,
// for Levenshtein matching.
func knownSectionKeysList(section string) []string {
	fields := knownSections[section]
	keys := make([]string, 0, len(fields))

	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// knownWorkerKeys are the valid keys inside a [worker.<type>] section.
var knownWorkerKeys = map[string]bool{
	"count": true, "execution_mode": true, "container_image": true,
}

// knownWorkerKeysList is the sorted slice form for Levenshtein matching.
var knownWorkerKeysList = func() []string {
	keys := make([]string, 0, len(knownWorkerKeys))
	for k := range knownWorkerKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. Keys
// under a "worker.<type>." section are matched against knownWorkerKeys;
// all other keys are matched against knownSections.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		keyStr := key.String()

		parts := strings.SplitN(keyStr, ".", 3)
		if parts[0] == "worker" && len(parts) == 3 {
			if err := buildWorkerKeyError(parts[1], parts[2]); err != nil {
				errs = append(errs, err)
			}

			continue
		}

		if err := buildGlobalKeyError(keyStr); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// buildWorkerKeyError reports an unrecognized key inside a
// [worker.<workerType>] table, suggesting the closest known worker key.
func buildWorkerKeyError(workerType, fieldName string) error {
	fieldName = strings.SplitN(fieldName, ".", 2)[0]

	if knownWorkerKeys[fieldName] {
		return nil
	}

	suggestion := closestMatch(fieldName, knownWorkerKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown key %q in worker type %q — did you mean %q?", fieldName, workerType, suggestion)
	}

	return fmt.Errorf("unknown key %q in worker type %q", fieldName, workerType)
}

// buildGlobalKeyError creates a descriptive error for an unknown key under
// a top-level section (e.g. "store.db_paht"), or for an unrecognized
// section name entirely (e.g. a bare "stroe" table with no dotted field).
func buildGlobalKeyError(keyStr string) error {
	parts := strings.SplitN(keyStr, ".", 2)
	section := parts[0]

	fields, known := knownSections[section]
	if !known {
		suggestion := closestMatch(section, knownSectionsList)
		if suggestion != "" {
			return fmt.Errorf("unknown config section %q — did you mean %q?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if len(parts) < 2 {
		return nil
	}

	fieldName := strings.SplitN(parts[1], ".", 2)[0]
	if fields[fieldName] {
		return nil
	}

	suggestion := closestMatch(fieldName, knownSectionKeysList(section))
	if suggestion != "" {
		return fmt.Errorf("unknown key %q in section %q — did you mean %q?", fieldName, section, suggestion)
	}

	return fmt.Errorf("unknown key %q in section %q", fieldName, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
