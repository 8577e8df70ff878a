// driftbox uploads files and folders to a resumable-upload server and
// manages the files already stored there.
//
// Build with: go build -ldflags "-X github.com/driftbox/driftbox/internal/version.Version=v1.2.3"
package main

import (
	"os"
	"slices"

	"github.com/driftbox/driftbox/internal/cli"
)

func main() {
	// Enable chunk timing output
	if slices.Contains(os.Args, "--timing") {
		os.Setenv("DRIFTBOX_TIMING", "1")
		os.Args = slices.DeleteFunc(os.Args, func(a string) bool { return a == "--timing" })
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
