// Command forge is the CLI entrypoint wiring internal/driver to the shell:
// argument parsing, exit-code mapping, and process lifecycle only. It is
// deliberately thin — every behavior it exhibits is internal/driver's.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "forge:", err)

		if exitCode == 0 {
			exitCode = exitCodeFor(err)
		}
	}

	os.Exit(exitCode)
}
