package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stashBuildVars(t *testing.T) {
	t.Helper()
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestStringFormats(t *testing.T) {
	stashBuildVars(t)

	Version = "1.2.3"
	Commit = "unknown"
	s := String()
	assert.Contains(t, s, "tunerr version 1.2.3")
	assert.NotContains(t, s, "commit:")

	Commit = "abc123def456789"
	Date = "2026-01-15T10:30:00Z"
	s = String()
	assert.Contains(t, s, "commit: abc123de")
	assert.Contains(t, s, "2026-01-15")
}

func TestShort(t *testing.T) {
	stashBuildVars(t)

	Version = "1.2.3"
	Commit = "unknown"
	assert.Equal(t, "tunerr 1.2.3", Short())

	Commit = "abc123def456789"
	assert.Equal(t, "tunerr 1.2.3 (abc123de)", Short())
}

func TestUserAgent(t *testing.T) {
	stashBuildVars(t)

	Version = "1.2.3"
	assert.Equal(t, "tunerr/1.2.3", UserAgent())
}
