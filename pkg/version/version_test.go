package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semverRegex.MatchString(Version), "Version should follow semver format, got: %s", Version)
}

func TestString_ReturnsFormattedString(t *testing.T) {
	str := String()

	assert.Contains(t, str, "searchme "+Version)
	assert.Contains(t, str, "commit:")
	assert.Contains(t, str, GoVersion)
}

func TestShortAndUserAgent(t *testing.T) {
	assert.Equal(t, Version, Short())
	assert.Equal(t, "searchme/"+Version, UserAgent())
}

func TestGetInfo_JSON(t *testing.T) {
	// When: marshalling build info
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	// Then: snake_case fields carry the platform
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, runtime.GOOS, m["os"])
	assert.Equal(t, runtime.GOARCH, m["arch"])
	assert.Equal(t, runtime.Version(), m["go_version"])
	assert.Contains(t, m, "commit")
}

func TestApplyBuildSettings(t *testing.T) {
	// Given: defaults restored after the test
	oldCommit, oldDate, oldModified := Commit, Date, modified
	t.Cleanup(func() { Commit, Date, modified = oldCommit, oldDate, oldModified })
	Commit, Date = "unknown", "unknown"

	// When: applying a VCS stamp
	applyBuildSettings([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		{Key: "vcs.modified", Value: "true"},
	})

	// Then: the short revision and time are used
	assert.Equal(t, "0123456789ab", Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", Date)
	assert.Contains(t, String(), "0123456789ab-dirty")
}

func TestApplyBuildSettings_KeepsLinkerValues(t *testing.T) {
	oldCommit := Commit
	t.Cleanup(func() { Commit = oldCommit })
	Commit = "abc123"

	applyBuildSettings([]debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffff"}})

	assert.Equal(t, "abc123", Commit)
}
