// Package query answers natural-language questions over the index.
//
// Retrieval embeds the question once, searches the vector index and resolves
// hits through the metadata store. Query then assembles a bounded prompt from
// the best snippets and the recent conversation and hands it to the language
// model. When the model is unreachable the retrieved files are returned as a
// formatted fallback instead.
package query

import (
	"errors"
	"time"

	"github.com/Aman-CERP/searchme/internal/config"
	"github.com/Aman-CERP/searchme/internal/llm"
	"github.com/Aman-CERP/searchme/internal/store"
)

// ErrNoRelevantContent is returned when the index is empty or nothing
// matches the question.
var ErrNoRelevantContent = errors.New("no relevant content found in the index")

// ErrEmptyQuery is returned for blank questions.
var ErrEmptyQuery = errors.New("query is empty")

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Hit is one retrieved record with its similarity score.
type Hit struct {
	Record *store.Record
	Score  float32
}

// Result is the retrieval half of a query, ordered by descending score.
type Result struct {
	Query    string
	Hits     []Hit
	Duration time.Duration
}

// Answer is the outcome of Query.
type Answer struct {
	Text string
	Hits []Hit

	// Fallback is set when Text is the formatted hit list because the
	// language model could not be reached. BackendErr holds the reason.
	Fallback   bool
	BackendErr error

	Duration time.Duration
}

// Stream is the outcome of QueryStream.
type Stream struct {
	Result *Result

	// Fragments yields the reply. On fallback it yields the formatted hit
	// list as a single Done fragment.
	Fragments <-chan llm.Fragment

	Fallback   bool
	BackendErr error
}

// Config tunes retrieval and context assembly.
type Config struct {
	// TopK is the number of records retrieved when the caller passes k <= 0.
	TopK int

	// MinScore drops hits below this similarity (0 keeps everything).
	MinScore float64

	// ContextChars bounds the characters of snippets and history sent to the
	// model. The question itself is always sent.
	ContextChars int

	// HistoryTurns is the number of recent turns considered.
	HistoryTurns int

	// Timeout bounds a whole query, model reply included.
	Timeout time.Duration
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return ConfigFrom(config.NewConfig().Query)
}

// ConfigFrom maps the query section of the configuration file.
func ConfigFrom(q config.QueryConfig) Config {
	return Config{
		TopK:         q.TopK,
		MinScore:     q.MinScore,
		ContextChars: q.ContextChars,
		HistoryTurns: q.HistoryTurns,
		Timeout:      q.Timeout,
	}
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.ContextChars <= 0 {
		c.ContextChars = 6000
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}
