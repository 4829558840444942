package course

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// ContentHash computes a stable hash over an input file's bytes plus
// semantically-significant output metadata (here, the requested tuple),
// used as the Job/cache key. Returns an empty hash (not an error) when the
// input file cannot be read, mirroring the fixture nature of MemoryFile —
// a real Course implementation would surface a ConfigurationError instead.
func ContentHash(inputFile string, t Tuple) string {
	h := sha256.New()

	if data, err := os.ReadFile(inputFile); err == nil {
		h.Write(data)
	}

	fmt.Fprintf(h, "|%s|%s|%s", t.Language, t.Format, t.Kind)

	return hex.EncodeToString(h.Sum(nil))
}
