package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchme/internal/query"
	"github.com/Aman-CERP/searchme/internal/store"
)

// fakeRetriever answers each query with a fixed list of paths.
type fakeRetriever struct {
	results map[string][]string
	err     map[string]error
	limits  []int
}

func (f *fakeRetriever) Retrieve(_ context.Context, text string, k int) (*query.Result, error) {
	f.limits = append(f.limits, k)
	if err := f.err[text]; err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, query.ErrEmptyQuery
	}
	paths, ok := f.results[text]
	if !ok {
		return nil, query.ErrNoRelevantContent
	}
	res := &query.Result{Query: text}
	for i, p := range paths {
		res.Hits = append(res.Hits, query.Hit{
			Record: &store.Record{ID: uint64(i + 1), Path: p},
			Score:  1 - float32(i)/10,
		})
	}
	return res, nil
}

const suiteYAML = `
tier1:
  - id: T1-1
    name: cake
    query: chocolate cake
    expected: [recipes/cake.txt]
  - id: T1-2
    query: kubernetes
    expected: [k8s.txt]
tier2:
  - id: T2-1
    query: tax deadline
    expected: [notes/tax.md]
negative:
  - id: N-1
    query: "   "
  - id: N-2
    query: zzzz
`

func TestParseSuite(t *testing.T) {
	// Given: suite YAML
	// When: parsing
	s, err := ParseSuite([]byte(suiteYAML))

	// Then: tiers are assigned
	require.NoError(t, err)
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 1, s.Tier1[0].Tier)
	assert.Equal(t, 2, s.Tier2[0].Tier)
	assert.Equal(t, 0, s.Negative[0].Tier)
	assert.Equal(t, []string{"recipes/cake.txt"}, s.Tier1[0].Expected)
}

func TestParseSuite_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "tier1: []\n", "no queries"},
		{"missing expected", "tier1:\n  - id: X\n    query: cake\n", "X: tier 1 queries need expected files"},
		{"tier2 missing expected", "tier2:\n  - query: cake\n", `"cake": tier 2`},
		{"bad yaml", "tier1: [", "parse suite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadSuite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suiteYAML), 0o644))

	s, err := LoadSuite(path)
	require.NoError(t, err)
	assert.Len(t, s.Tier1, 2)

	_, err = LoadSuite(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidator_RunQuery(t *testing.T) {
	r := &fakeRetriever{results: map[string][]string{
		"chocolate cake": {"/docs/notes/trip.txt", "/docs/recipes/cake.txt", "/docs/recipes/cake.txt"},
	}}
	v := NewValidator(r, "static", 5)

	t.Run("match reports rank", func(t *testing.T) {
		res := v.RunQuery(context.Background(), QuerySpec{Query: "chocolate cake", Expected: []string{"recipes/cake.txt"}, Tier: 1})

		assert.True(t, res.Passed)
		assert.Equal(t, 1, res.MatchedAt)
		assert.Equal(t, []string{"/docs/notes/trip.txt", "/docs/recipes/cake.txt"}, res.TopResults)
	})

	t.Run("miss fails", func(t *testing.T) {
		res := v.RunQuery(context.Background(), QuerySpec{Query: "chocolate cake", Expected: []string{"k8s.txt"}, Tier: 1})

		assert.False(t, res.Passed)
		assert.Equal(t, -1, res.MatchedAt)
	})

	t.Run("no results fails a positive query", func(t *testing.T) {
		res := v.RunQuery(context.Background(), QuerySpec{Query: "nothing", Expected: []string{"x"}, Tier: 2})

		assert.False(t, res.Passed)
		assert.Contains(t, res.Error, "no relevant content")
	})

	assert.Equal(t, []int{5, 5, 5}, r.limits)
}

func TestValidator_NegativeQueries(t *testing.T) {
	r := &fakeRetriever{err: map[string]error{"boom": errors.New("vector search failed")}}
	v := NewValidator(r, "static", 0)

	for _, q := range []string{"", "zzzz"} {
		res := v.RunQuery(context.Background(), QuerySpec{Query: q})
		assert.True(t, res.Passed, q)
	}

	res := v.RunQuery(context.Background(), QuerySpec{Query: "boom"})
	assert.False(t, res.Passed)
	assert.Equal(t, "vector search failed", res.Error)
	assert.Equal(t, []int{10, 10, 10}, r.limits)
}

func TestValidator_RunAll(t *testing.T) {
	// Given: a suite where one tier 1 query misses
	s, err := ParseSuite([]byte(suiteYAML))
	require.NoError(t, err)
	r := &fakeRetriever{results: map[string][]string{
		"chocolate cake": {"/d/recipes/cake.txt"},
		"kubernetes":     {"/d/recipes/cake.txt"},
		"tax deadline":   {"/d/notes/tax.md"},
	}}

	// When: running the suite
	res := NewValidator(r, "static", 3).RunAll(context.Background(), s)

	// Then: each tier is tallied
	assert.Equal(t, "static", res.Embedder)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 1, res.Tier1.Passed)
	assert.Equal(t, 2, res.Tier1.Total)
	assert.InDelta(t, 50.0, res.Tier1.PassRate(), 0.001)
	assert.Equal(t, 1, res.Tier2.Passed)
	assert.Equal(t, 2, res.Negative.Passed)
	assert.False(t, res.Timestamp.IsZero())
}

func TestTierResult_PassRateEmpty(t *testing.T) {
	assert.Equal(t, 100.0, TierResult{}.PassRate())
}
