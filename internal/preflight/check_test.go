package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Text(t *testing.T) {
	for _, s := range []Status{StatusPass, StatusWarn, StatusFail} {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var back Status
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	assert.Equal(t, "UNKNOWN", Status(9).String())

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("maybe")))
}

func TestResult_JSONUsesStatusNames(t *testing.T) {
	b, err := json.Marshal(Result{Name: "disk_space", Status: StatusWarn})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"warn"`)
}

func TestResult_Blocking(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{"required pass", Result{Status: StatusPass, Required: true}, false},
		{"required fail", Result{Status: StatusFail, Required: true}, true},
		{"optional fail", Result{Status: StatusFail}, false},
		{"required warn", Result{Status: StatusWarn, Required: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Blocking())
		})
	}
}

func TestFirstCritical(t *testing.T) {
	results := []Result{
		{Name: "a", Status: StatusWarn},
		{Name: "b", Status: StatusFail, Required: true},
		{Name: "c", Status: StatusFail, Required: true},
	}

	r, ok := FirstCritical(results)
	require.True(t, ok)
	assert.Equal(t, "b", r.Name)

	_, ok = FirstCritical(results[:1])
	assert.False(t, ok)
}

func TestVerdict(t *testing.T) {
	assert.Equal(t, "ready", Verdict([]Result{{Status: StatusPass, Required: true}}))
	assert.Equal(t, "ready_with_warnings", Verdict([]Result{{Status: StatusWarn}}))
	assert.Equal(t, "ready_with_warnings", Verdict([]Result{{Status: StatusFail}}))
	assert.Equal(t, "failed", Verdict([]Result{{Status: StatusWarn}, {Status: StatusFail, Required: true}}))
}

func TestWritable(t *testing.T) {
	// Given: a writable directory
	dir := t.TempDir()

	// When: checking it
	r := writable(dir)

	// Then: it passes and leaves nothing behind
	assert.Equal(t, StatusPass, r.Status)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWritable_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	r := writable(dir)

	assert.True(t, r.Blocking())
	assert.NotEmpty(t, r.Hint)
}

func TestReadable(t *testing.T) {
	assert.Equal(t, StatusPass, readable(t.TempDir()).Status)

	missing := readable(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, missing.Blocking())
}

func TestDiskSpace_Reports(t *testing.T) {
	r := diskSpace(t.TempDir())

	assert.Equal(t, "disk_space", r.Name)
	assert.True(t, r.Required)
	assert.Contains(t, r.Message, "free under")
}

func TestExistingAncestor(t *testing.T) {
	base := t.TempDir()

	assert.Equal(t, base, existingAncestor(filepath.Join(base, "a", "b")))
	assert.Equal(t, base, existingAncestor(base))
}

func TestChecker_RunAll_MissingDataDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	base := t.TempDir()
	target := Target{DataDir: filepath.Join(base, "a", "b", "index"), Root: t.TempDir()}

	// When: running every check
	results := New().RunAll(context.Background(), target)

	// Then: the checks run against the existing parent and the data dir is not created
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"disk_space", "data_dir_writable", "root_readable", "file_descriptors"}, names)
	assert.Equal(t, StatusPass, results[1].Status)
	assert.Equal(t, base, results[1].Message)
	assert.NoDirExists(t, target.DataDir)
}

func TestChecker_RunAll_Probes(t *testing.T) {
	// Given: one passing and one failing probe
	c := New(
		WithProbe(Probe{Name: "embedder", Check: func(context.Context) (string, error) { return "nomic-embed-text", nil }}),
		WithProbe(Probe{Name: "llm", Hint: "Start Ollama with 'ollama serve'", Check: func(context.Context) (string, error) {
			return "", errors.New("ollama not reachable")
		}}),
	)

	// When: running every check
	results := c.RunAll(context.Background(), Target{DataDir: t.TempDir()})

	// Then: probes come last and only warn
	last := results[len(results)-2:]
	assert.Equal(t, StatusPass, last[0].Status)
	assert.Equal(t, "nomic-embed-text", last[0].Message)
	assert.Equal(t, StatusWarn, last[1].Status)
	assert.Equal(t, "Start Ollama with 'ollama serve'", last[1].Hint)
	_, failed := FirstCritical(last)
	assert.False(t, failed)
}

func TestChecker_RunRequired(t *testing.T) {
	results := New().RunRequired(Target{DataDir: t.TempDir()})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Required, r.Name)
	}
}

func TestChecker_Report(t *testing.T) {
	var buf bytes.Buffer
	c := New(WithOutput(&buf), WithNoColor(true))

	c.Report([]Result{
		{Name: "disk_space", Status: StatusPass, Message: "10 GiB free under /srv", Hint: "unused", Required: true},
		{Name: "llm", Status: StatusWarn, Message: "ollama not reachable", Hint: "Start Ollama"},
	})

	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space: 10 GiB free under /srv")
	assert.Contains(t, out, "[WARN] llm: ollama not reachable")
	assert.Contains(t, out, "Start Ollama")
	assert.NotContains(t, out, "unused", "hints of passing checks need --verbose")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")
}
