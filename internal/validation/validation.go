// Package validation measures retrieval quality against a suite of known
// questions.
//
// A suite is a YAML file listing queries with the files that should come
// back. Tier 1 queries are the ones that must work, tier 2 queries are
// harder, and negative queries only have to complete without failing:
//
//	tier1:
//	  - id: T1-1
//	    name: recipe lookup
//	    query: how long do I bake the chocolate cake
//	    expected: [recipes/cake.txt]
//	negative:
//	  - id: N-1
//	    query: "?!"
package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/searchme/internal/query"
)

// QuerySpec is one question and the files expected among its results.
type QuerySpec struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name,omitempty"`
	Query    string   `yaml:"query" json:"query"`
	Expected []string `yaml:"expected" json:"expected,omitempty"` // path suffixes or substrings
	Notes    string   `yaml:"notes" json:"notes,omitempty"`
	Tier     int      `yaml:"-" json:"tier"` // 0 for negative queries
}

// Suite holds every query of one suite file.
type Suite struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// Len returns the number of queries.
func (s *Suite) Len() int {
	return len(s.Tier1) + len(s.Tier2) + len(s.Negative)
}

// LoadSuite reads a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite %s: %w", path, err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes suite YAML and assigns tiers.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}
	if s.Len() == 0 {
		return nil, errors.New("suite has no queries")
	}

	for i := range s.Tier1 {
		s.Tier1[i].Tier = 1
		if len(s.Tier1[i].Expected) == 0 {
			return nil, fmt.Errorf("query %s: tier 1 queries need expected files", s.Tier1[i].label())
		}
	}
	for i := range s.Tier2 {
		s.Tier2[i].Tier = 2
		if len(s.Tier2[i].Expected) == 0 {
			return nil, fmt.Errorf("query %s: tier 2 queries need expected files", s.Tier2[i].label())
		}
	}
	for i := range s.Negative {
		s.Negative[i].Tier = 0
	}
	return &s, nil
}

func (q QuerySpec) label() string {
	if q.ID != "" {
		return q.ID
	}
	return fmt.Sprintf("%q", q.Query)
}

// TestResult is the outcome of one query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"` // -1 if no expected file was found
	Error      string        `json:"error,omitempty"`
}

// TierResult aggregates one tier.
type TierResult struct {
	Results []TestResult `json:"results"`
	Passed  int          `json:"passed"`
	Total   int          `json:"total"`
}

// PassRate returns the percentage of passing queries, 100 for an empty tier.
func (t TierResult) PassRate() float64 {
	if t.Total == 0 {
		return 100
	}
	return float64(t.Passed) / float64(t.Total) * 100
}

func (t *TierResult) add(r TestResult) {
	t.Results = append(t.Results, r)
	t.Total++
	if r.Passed {
		t.Passed++
	}
}

// Result captures a whole run.
type Result struct {
	Timestamp time.Time  `json:"timestamp"`
	Embedder  string     `json:"embedder"`
	Limit     int        `json:"limit"`
	Tier1     TierResult `json:"tier1"`
	Tier2     TierResult `json:"tier2"`
	Negative  TierResult `json:"negative"`
}

// Retriever is the part of the query engine a validator needs.
type Retriever interface {
	Retrieve(ctx context.Context, text string, k int) (*query.Result, error)
}

// Validator runs suites against a retriever.
type Validator struct {
	retriever Retriever
	embedder  string
	limit     int
}

// NewValidator creates a validator that checks the top limit results.
func NewValidator(r Retriever, embedderModel string, limit int) *Validator {
	if limit <= 0 {
		limit = 10
	}
	return &Validator{retriever: r, embedder: embedderModel, limit: limit}
}

// RunQuery executes a single query.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := time.Now()
	result := TestResult{Spec: spec, MatchedAt: -1}

	res, err := v.retriever.Retrieve(ctx, spec.Query, v.limit)
	result.Duration = time.Since(start)
	if err != nil {
		// A negative query may legitimately find nothing or be rejected.
		if spec.Tier == 0 && (errors.Is(err, query.ErrNoRelevantContent) || errors.Is(err, query.ErrEmptyQuery)) {
			result.Passed = true
			return result
		}
		result.Error = err.Error()
		return result
	}

	seen := make(map[string]bool, len(res.Hits))
	for _, h := range res.Hits {
		if h.Record == nil || seen[h.Record.Path] {
			continue
		}
		seen[h.Record.Path] = true
		result.TopResults = append(result.TopResults, h.Record.Path)
	}

	if len(spec.Expected) == 0 {
		result.Passed = true
	} else {
		result.Passed, result.MatchedAt = checkExpected(result.TopResults, spec.Expected)
	}
	return result
}

// RunAll executes every query in the suite in order.
func (v *Validator) RunAll(ctx context.Context, suite *Suite) *Result {
	result := &Result{
		Timestamp: time.Now(),
		Embedder:  v.embedder,
		Limit:     v.limit,
	}
	for _, spec := range suite.Tier1 {
		result.Tier1.add(v.RunQuery(ctx, spec))
	}
	for _, spec := range suite.Tier2 {
		result.Tier2.add(v.RunQuery(ctx, spec))
	}
	for _, spec := range suite.Negative {
		result.Negative.add(v.RunQuery(ctx, spec))
	}
	return result
}

// checkExpected reports the rank of the first result containing any
// expected path.
func checkExpected(results []string, expected []string) (bool, int) {
	for i, path := range results {
		slashed := strings.ReplaceAll(path, "\\", "/")
		for _, exp := range expected {
			if strings.Contains(slashed, exp) {
				return true, i
			}
		}
	}
	return false, -1
}
