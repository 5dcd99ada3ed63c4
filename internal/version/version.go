// Package version carries the build identity stamped into the barwatch
// binary by the release linker flags.
package version

import "fmt"

var (
	// Version is the barwatch release tag. Overridden at build time.
	Version = "dev"
	// Commit is the git commit the binary was built from. Overridden at
	// build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String renders the one-line identity used by the version command and the
// startup log.
func String() string {
	return fmt.Sprintf("barwatch %s (commit %s, built %s)", Version, Commit, BuildDate)
}
