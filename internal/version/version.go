package version

import "fmt"

// Build metadata, set through -ldflags "-X autolender/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("autolender %s (commit %s, built %s)", Version, Commit, BuildDate)
}
