package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/ui"
)

func TestSearchCmd_JSON(t *testing.T) {
	// Given: an index of the document tree
	isolate(t)
	root, dataDir := indexDocs(t)

	// When: searching
	out, _, err := run(t, "search", "kubernetes cluster pods", "--json", "--data-dir", dataDir)
	require.NoError(t, err)

	// Then: the best match comes first
	var results []SearchResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, filepath.Join(root, "k8s.txt"), results[0].Path)
	assert.Equal(t, "text", results[0].Type)
}

func TestSearchCmd_Limit(t *testing.T) {
	isolate(t)
	_, dataDir := indexDocs(t)

	out, _, err := run(t, "search", "anything at all", "--json", "-n", "2", "--data-dir", dataDir)
	require.NoError(t, err)

	var results []SearchResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.LessOrEqual(t, len(results), 2)
}

func TestQueryCmd_NoLLMListsFiles(t *testing.T) {
	// Given: an index of the document tree
	isolate(t)
	root, dataDir := indexDocs(t)

	// When: asking without the language model
	out, _, err := run(t, "query", "chocolate cake recipe", "--no-llm", "--data-dir", dataDir)

	// Then: matching files are listed
	require.NoError(t, err)
	assert.Contains(t, out, "Search Results")
	assert.Contains(t, out, filepath.Join(root, "cake.txt"))
}

func TestQueryCmd_RequiresQuestion(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "query", "--no-llm")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "question is required")
}

func TestQueryCmd_NoIndex(t *testing.T) {
	// Given: an empty data directory
	isolate(t)
	dataDir := filepath.Join(t.TempDir(), "index")

	// When: asking a question
	_, _, err := run(t, "query", "anything", "--no-llm", "--data-dir", dataDir)

	// Then: the user is told to build an index
	require.Error(t, err)
	se, ok := serrors.As(err)
	require.True(t, ok)
	assert.Contains(t, se.Suggestion, "searchme index")
}

func TestSearchCmd_RecordsTelemetry(t *testing.T) {
	// Given: an index that has been searched twice
	isolate(t)
	_, dataDir := indexDocs(t)
	for _, q := range []string{"kubernetes pods", "chocolate cake"} {
		_, _, err := run(t, "search", q, "--json", "--data-dir", dataDir)
		require.NoError(t, err)
	}

	// When: reading stats
	out, _, err := run(t, "stats", "--json", "--data-dir", dataDir)
	require.NoError(t, err)

	// Then: both searches were recorded
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.NotNil(t, info.Queries)
	assert.Equal(t, int64(2), info.Queries.Total)
	assert.Equal(t, int64(2), info.Queries.ByKind["search"])
	assert.Len(t, info.Queries.Latency, 5)
}
