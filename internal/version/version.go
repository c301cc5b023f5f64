// Package version provides build information for the beacon-locator tools
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables, set with -ldflags "-X beacon-locator/internal/version.Version=..."
var (
	Version   = "0.3.1"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns complete build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// shortCommit trims a full sha to the usual seven characters.
func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

// GetFullVersion returns the version with the commit appended when known,
// e.g. "0.3.1-1a2b3c4".
func GetFullVersion() string {
	if GitCommit == "unknown" {
		return Version
	}
	return Version + "-" + shortCommit(GitCommit)
}

// GetVersionInfo returns the multi-line text printed by --version.
func GetVersionInfo(appName string) string {
	info := GetBuildInfo()

	var b strings.Builder
	fmt.Fprintf(&b, "%s version %s", appName, info.Version)
	if info.GitCommit != "unknown" {
		fmt.Fprintf(&b, " (commit %s)", shortCommit(info.GitCommit))
	}
	if info.BuildDate != "unknown" {
		fmt.Fprintf(&b, "\nBuilt: %s", info.BuildDate)
	}
	fmt.Fprintf(&b, "\nGo: %s\nPlatform: %s", info.GoVersion, info.Platform)
	return b.String()
}
