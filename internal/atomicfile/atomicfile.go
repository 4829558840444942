// Package atomicfile implements the write-to-temp-then-rename pattern used
// by both workers and Backend so readers never observe a half-written
// output file.
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write writes data to path via a temp file in the same directory followed
// by a rename, creating the parent directory first if it does not exist.
func Write(path string, data []byte) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".forge-tmp-*")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return err
	}

	return os.Rename(tmpPath, path)
}
