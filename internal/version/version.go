// Package version exposes build metadata for tunerr. Version, Commit,
// and Date default to dev values and are overridden at release time:
//
//	go build -ldflags "-X github.com/jmylchreest/tunerr/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/tunerr/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/tunerr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// Commit is the full git commit SHA.
	Commit = "unknown"
	// Date is the build timestamp, RFC3339.
	Date = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "tunerr"

// Info is the structured form served by the version command and the
// health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo collects the build metadata plus runtime details.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// shortCommit truncates the SHA for display, or returns "" when the
// build carries no commit.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// String renders the full one-line version description.
func String() string {
	info := GetInfo()
	if sc := shortCommit(); sc != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, sc, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)",
		ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short renders the compact form used for cobra's --version output.
func Short() string {
	if sc := shortCommit(); sc != "" {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, sc)
	}
	return ApplicationName + " " + Version
}

// UserAgent identifies tunerr to upstream IPTV providers.
func UserAgent() string {
	return ApplicationName + "/" + Version
}
