// Package version carries build identification set with -ldflags, e.g.
//
//	-X github.com/banshee-data/downlink/internal/version.Version=v0.3.0
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build identification for -version and session records.
func String() string {
	return fmt.Sprintf("downlink %s (%s, built %s)", Version, GitSHA, BuildTime)
}
