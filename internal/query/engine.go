package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/searchme/internal/embed"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/llm"
	"github.com/Aman-CERP/searchme/internal/session"
	"github.com/Aman-CERP/searchme/internal/store"
	"github.com/Aman-CERP/searchme/internal/telemetry"
)

// Engine runs retrieval and answer generation. It only reads the stores and
// is safe for concurrent use.
type Engine struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	metadata store.MetadataStore
	backend  llm.Backend
	metrics  *telemetry.QueryMetrics
	config   Config
}

// Option configures the engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithBackend sets the language model. Without one every answer is a fallback.
func WithBackend(b llm.Backend) Option {
	return func(e *Engine) {
		e.backend = b
	}
}

// WithMetrics records every completed query in m.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine over open stores.
func New(embedder embed.Embedder, vectors store.VectorStore, metadata store.MetadataStore, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector store", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store", ErrNilDependency)
	}

	e := &Engine{
		embedder: embedder,
		vectors:  vectors,
		metadata: metadata,
		config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.config = e.config.withDefaults()
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Retrieve returns the k records most similar to text, bounded by the
// query timeout.
func (e *Engine) Retrieve(ctx context.Context, text string, k int) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	res, err := e.retrieve(ctx, text, k)
	if err != nil {
		e.recordMiss(text, telemetry.KindSearch, err, start)
		return nil, e.timeoutError(ctx, err)
	}
	e.record(text, telemetry.KindSearch, len(res.Hits), start)
	return res, nil
}

// Query retrieves context for text and asks the language model. history is
// the conversation so far, oldest first.
//
// An unreachable model is not an error: the answer then carries the
// formatted hits with Fallback set. A timeout discards any partial work.
func (e *Engine) Query(ctx context.Context, text string, history []session.Turn, k int) (*Answer, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	res, err := e.retrieve(ctx, text, k)
	if err != nil {
		e.recordMiss(text, telemetry.KindAnswer, err, start)
		return nil, e.timeoutError(ctx, err)
	}

	if e.backend == nil {
		e.record(text, telemetry.KindFallback, len(res.Hits), start)
		return e.fallback(res, nil, start), nil
	}

	messages := BuildContext(text, res.Hits, e.recentHistory(history), e.config.ContextChars)
	reply, err := e.backend.Chat(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return nil, e.timeoutError(ctx, err)
		}
		slog.Warn("llm_fallback", slog.String("error", err.Error()))
		e.record(text, telemetry.KindFallback, len(res.Hits), start)
		return e.fallback(res, err, start), nil
	}

	e.record(text, telemetry.KindAnswer, len(res.Hits), start)
	slog.Info("query_answered",
		slog.Int("hits", len(res.Hits)),
		slog.Int("history", len(history)),
		slog.Duration("duration", time.Since(start)))
	return &Answer{Text: reply, Hits: res.Hits, Duration: time.Since(start)}, nil
}

// QueryStream is Query with the reply delivered as fragments. The query
// timeout covers the whole stream; if it fires mid-reply the last fragment
// carries ERR_304 and the caller should discard what it printed.
func (e *Engine) QueryStream(ctx context.Context, text string, history []session.Turn, k int) (*Stream, error) {
	start := time.Now()
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)

	res, err := e.retrieve(ctx, text, k)
	if err != nil {
		e.recordMiss(text, telemetry.KindAnswer, err, start)
		err = e.timeoutError(ctx, err)
		cancel()
		return nil, err
	}

	if e.backend == nil {
		cancel()
		e.record(text, telemetry.KindFallback, len(res.Hits), start)
		return fallbackStream(res, nil), nil
	}

	messages := BuildContext(text, res.Hits, e.recentHistory(history), e.config.ContextChars)
	in, err := e.backend.ChatStream(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			err = e.timeoutError(ctx, err)
			cancel()
			return nil, err
		}
		cancel()
		slog.Warn("llm_fallback", slog.String("error", err.Error()))
		e.record(text, telemetry.KindFallback, len(res.Hits), start)
		return fallbackStream(res, err), nil
	}

	out := make(chan llm.Fragment)
	go func() {
		defer cancel()
		defer close(out)

		// Sends give up only when the caller goes away, so a timeout
		// fragment still reaches a reader.
		send := func(f llm.Fragment) bool {
			select {
			case out <- f:
				return true
			case <-parent.Done():
				return false
			}
		}
		for f := range in {
			if f.Done && f.Err == nil {
				e.record(text, telemetry.KindAnswer, len(res.Hits), start)
			}
			if !send(f) || f.Err != nil || f.Done {
				return
			}
		}
		// The backend closes without Done or Err only when ctx ended.
		if ctx.Err() != nil {
			send(llm.Fragment{Err: e.timeoutError(ctx, ctx.Err())})
		}
	}()
	return &Stream{Result: res, Fragments: out}, nil
}

func (e *Engine) retrieve(ctx context.Context, text string, k int) (*Result, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = e.config.TopK
	}
	if e.vectors.Count() == 0 {
		return nil, ErrNoRelevantContent
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, serrors.New(serrors.ErrCodeSearchUnavailable, "cannot embed query", err).
			WithDetail("model", e.embedder.ModelName())
	}

	found, err := e.vectors.Search(ctx, vec, k)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		se := serrors.New(serrors.ErrCodeSearchUnavailable, "vector search failed", err)
		var dm store.ErrDimensionMismatch
		if errors.As(err, &dm) {
			se = se.WithSuggestion("The embedding model changed. Rebuild with: searchme index --force")
		}
		return nil, se
	}

	ids := make([]uint64, 0, len(found))
	scores := make(map[uint64]float32, len(found))
	for _, r := range found {
		if e.config.MinScore > 0 && float64(r.Score) < e.config.MinScore {
			continue
		}
		ids = append(ids, r.ID)
		scores[r.ID] = r.Score
	}
	if len(ids) == 0 {
		return nil, ErrNoRelevantContent
	}

	records, err := e.metadata.GetMany(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, serrors.New(serrors.ErrCodeSearchUnavailable, "cannot resolve search results", err)
	}

	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		rec, ok := records[id]
		if !ok || rec == nil {
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: scores[id]})
	}
	if dropped := len(ids) - len(hits); dropped > 0 {
		slog.Debug("query_unresolved_ids", slog.Int("dropped", dropped))
	}
	if len(hits) == 0 {
		return nil, ErrNoRelevantContent
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	slog.Debug("query_retrieved",
		slog.Int("k", k),
		slog.Int("hits", len(hits)),
		slog.Duration("duration", time.Since(start)))
	return &Result{Query: text, Hits: hits, Duration: time.Since(start)}, nil
}

func (e *Engine) record(text string, kind telemetry.Kind, hits int, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       strings.TrimSpace(text),
		Kind:        kind,
		ResultCount: hits,
		Latency:     time.Since(start),
		Timestamp:   time.Now(),
	})
}

// recordMiss records a query that found nothing. Other failures are not
// query outcomes and are left to the error log.
func (e *Engine) recordMiss(text string, kind telemetry.Kind, err error, start time.Time) {
	if errors.Is(err, ErrNoRelevantContent) {
		e.record(text, kind, 0, start)
	}
}

func (e *Engine) recentHistory(history []session.Turn) []session.Turn {
	n := e.config.HistoryTurns
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}

// timeoutError maps an expired query deadline to ERR_304. Caller
// cancellation and other errors are returned unchanged.
func (e *Engine) timeoutError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return serrors.New(serrors.ErrCodeQueryTimeout, "query timed out", err).
			WithDetail("timeout", e.config.Timeout.String()).
			WithSuggestion("Increase query.timeout or ask a narrower question")
	}
	return err
}

func (e *Engine) fallback(res *Result, cause error, start time.Time) *Answer {
	return &Answer{
		Text:       FormatFallback(res.Hits),
		Hits:       res.Hits,
		Fallback:   true,
		BackendErr: cause,
		Duration:   time.Since(start),
	}
}

func fallbackStream(res *Result, cause error) *Stream {
	ch := make(chan llm.Fragment, 1)
	ch <- llm.Fragment{Text: FormatFallback(res.Hits), Done: true}
	close(ch)
	return &Stream{Result: res, Fragments: ch, Fallback: true, BackendErr: cause}
}
