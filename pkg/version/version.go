// Package version carries build metadata stamped via -ldflags at release
// time.
package version

import "fmt"

// Build metadata, overridden by the linker:
//
//	-X github.com/Sumatoshi-tech/filesplit/pkg/version.Version=v1.2.3
var (
	// Version is the semantic version of the binary.
	Version = "dev"

	// Commit is the VCS revision the binary was built from.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full version line.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
