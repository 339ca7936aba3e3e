package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchme/internal/validation"
)

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEvalCmd_Passes(t *testing.T) {
	// Given: an index and a suite it can answer
	isolate(t)
	_, dataDir := indexDocs(t)
	suite := writeSuite(t, `
tier1:
  - id: T1-1
    name: cluster
    query: kubernetes cluster pods
    expected: [k8s.txt]
negative:
  - id: N-1
    query: "   "
`)

	// When: evaluating
	out, _, err := run(t, "eval", suite, "--data-dir", dataDir)

	// Then: the query passes at rank 1
	require.NoError(t, err)
	assert.Contains(t, out, "✓ T1-1 cluster (rank 1)")
	assert.Contains(t, out, "Tier 1: 1/1")
	assert.Contains(t, out, "Negative: 1/1")
}

func TestEvalCmd_FailsBelowMinPass(t *testing.T) {
	isolate(t)
	_, dataDir := indexDocs(t)
	suite := writeSuite(t, `
tier1:
  - id: T1-1
    query: kubernetes cluster pods
    expected: [no-such-file.txt]
`)

	out, _, err := run(t, "eval", suite, "--json", "--data-dir", dataDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "below 50%")
	var res validation.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 0, res.Tier1.Passed)
	assert.Equal(t, "static", res.Embedder)
}

func TestEvalCmd_NotRecorded(t *testing.T) {
	isolate(t)
	_, dataDir := indexDocs(t)
	suite := writeSuite(t, "tier1:\n  - query: chocolate cake\n    expected: [cake.txt]\n")

	_, _, err := run(t, "eval", suite, "--data-dir", dataDir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dataDir, "telemetry.db"))
	if err == nil {
		out, _, err := run(t, "stats", "--json", "--data-dir", dataDir)
		require.NoError(t, err)
		assert.NotContains(t, out, `"queries"`)
	}
}

func TestEvalCmd_BadSuite(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "eval", writeSuite(t, "tier1: []\n"))
	require.Error(t, err)
}
