package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"
)

// errClosed is returned by a closed embedder.
var errClosed = errors.New("embedder is closed")

// StaticEmbedder hashes words and character trigrams into a fixed-size
// vector. It needs no model or network. Texts that share vocabulary land
// close together, which is enough for file names and keyword questions.
type StaticEmbedder struct {
	closed atomic.Bool
}

var _ Embedder = (*StaticEmbedder)(nil)

const (
	wordWeight    = 0.7
	trigramWeight = 0.3
)

var (
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

	stopWords = map[string]bool{
		"a": true, "an": true, "and": true, "are": true, "as": true,
		"at": true, "be": true, "by": true, "for": true, "from": true,
		"in": true, "is": true, "it": true, "of": true, "on": true,
		"or": true, "that": true, "the": true, "this": true, "to": true,
		"was": true, "were": true, "with": true,
	}
)

// NewStaticEmbedder returns a ready embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed returns a unit vector for text, or the zero vector for blank text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, errClosed
	}
	v := make([]float32, StaticDimensions)
	text = strings.TrimSpace(text)
	if text == "" {
		return v, nil
	}
	for _, w := range filterStopWords(tokenize(text)) {
		addFeature(v, "w:"+w, wordWeight)
	}
	for _, g := range extractNgrams(foldForNgrams(text), 3) {
		addFeature(v, "g:"+g, trigramWeight)
	}
	return unit(v), nil
}

// addFeature adds weight to the bucket of f. The top hash bit picks the
// sign so unrelated features that collide tend to cancel.
func addFeature(v []float32, f string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(f))
	sum := h.Sum64()
	if sum>>63 == 1 {
		weight = -weight
	}
	v[sum%uint64(len(v))] += weight
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.closed.Load() {
		return nil, errClosed
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns StaticDimensions.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// ModelName returns "static".
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available reports whether the embedder is still open.
func (e *StaticEmbedder) Available(context.Context) bool { return !e.closed.Load() }

// Close marks the embedder closed. It is safe to call twice.
func (e *StaticEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}

// tokenize lowercases the words of text. Compound names such as
// quarterlyReport_2024 or HTTPServer are split into their parts.
func tokenize(text string) []string {
	var out []string
	for _, word := range wordPattern.FindAllString(text, -1) {
		for _, part := range splitCase(word) {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

// splitCase breaks a word before an upper-case letter that follows a
// lower-case one, or that starts a capitalised word after an acronym.
func splitCase(word string) []string {
	rs := []rune(word)
	var parts []string
	start := 0
	for i := 1; i < len(rs); i++ {
		if !unicode.IsUpper(rs[i]) {
			continue
		}
		afterLower := unicode.IsLower(rs[i-1])
		endsAcronym := i+1 < len(rs) && unicode.IsLower(rs[i+1])
		if afterLower || endsAcronym {
			parts = append(parts, string(rs[start:i]))
			start = i
		}
	}
	return append(parts, string(rs[start:]))
}

func filterStopWords(words []string) []string {
	var out []string
	for _, w := range words {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// foldForNgrams lowercases text and drops everything but letters and digits.
func foldForNgrams(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, text)
}

// extractNgrams returns every run of n consecutive runes.
func extractNgrams(s string, n int) []string {
	rs := []rune(s)
	if len(rs) < n {
		return nil
	}
	out := make([]string, 0, len(rs)-n+1)
	for i := 0; i+n <= len(rs); i++ {
		out = append(out, string(rs[i:i+n]))
	}
	return out
}
