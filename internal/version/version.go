// Package version exposes build metadata stamped in through ldflags.
package version

import "fmt"

var (
	// Release is the tagged version, "dev" for untagged builds.
	Release = "dev"

	// GitCommit is the short hash of the commit built from.
	GitCommit = "unknown"

	GOOS   = "unknown"
	GOARCH = "unknown"
)

// Full renders the release and commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform renders the release, commit and target platform.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s)", Release, GitCommit, GOOS, GOARCH)
}
