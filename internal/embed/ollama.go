package embed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

// OllamaEmbedder calls a local Ollama's /api/embed. Requests are split into
// sub-batches, rate limited, retried with backoff and guarded by a circuit
// breaker.
type OllamaEmbedder struct {
	config    OllamaConfig
	client    *http.Client
	transport *http.Transport
	limiter   *rate.Limiter
	breaker   *serrors.Breaker
	closed    atomic.Bool

	mu    sync.RWMutex
	model string
	dims  int
}

var _ Embedder = (*OllamaEmbedder)(nil)

// statusError is a non-200 reply.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.code, e.body)
}

// NewOllamaEmbedder creates an embedder for cfg. Unless SkipHealthCheck is
// set it resolves the model against the installed ones and probes the
// vector dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	cfg = cfg.withDefaults()

	// Deadlines come from contexts, so the client itself has no Timeout.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		config:    cfg,
		client:    &http.Client{Transport: transport},
		transport: transport,
		breaker:   serrors.NewBreaker("ollama-embed", 5, 30*time.Second),
		model:     cfg.Model,
		dims:      cfg.Dimensions,
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	if cfg.SkipHealthCheck {
		return e, nil
	}

	if err := e.resolve(ctx); err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}
	return e, nil
}

// resolve picks the installed model and, unless configured, its dimension.
func (e *OllamaEmbedder) resolve(ctx context.Context) error {
	lookup, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	installed, err := e.installed(lookup)
	cancel()
	if err == nil {
		candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
		var ok bool
		if e.model, ok = installed.first(candidates); !ok {
			err = fmt.Errorf("no embedding model installed (tried %s)", strings.Join(candidates, ", "))
		}
	}
	if err != nil {
		return serrors.BackendError("ollama embedding backend unavailable", err).
			WithDetail("host", e.config.Host).
			WithSuggestion("Start Ollama and run: ollama pull " + e.config.Model)
	}
	if e.dims > 0 {
		return nil
	}

	probe, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()
	vecs, err := e.post(probe, []string{"dimension probe"})
	if err != nil {
		return serrors.BackendError("detect embedding dimensions", err)
	}
	if err := checkBatch(vecs, 1, 0); err != nil {
		return err
	}
	e.dims = len(vecs[0])
	return nil
}

// models maps lower-cased names, with and without their tag, to the name
// Ollama reports.
type models map[string]string

func (m models) first(candidates []string) (string, bool) {
	for _, c := range candidates {
		c = strings.ToLower(c)
		if name, ok := m[c]; ok {
			return name, true
		}
		if name, ok := m[untagged(c)]; ok {
			return name, true
		}
	}
	return "", false
}

func untagged(name string) string {
	base, _, _ := strings.Cut(name, ":")
	return base
}

func (e *OllamaEmbedder) installed(ctx context.Context) (models, error) {
	var tags tagsResponse
	if err := e.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	m := make(models, 2*len(tags.Models))
	for _, t := range tags.Models {
		name := strings.ToLower(t.Name)
		m[name] = t.Name
		if _, ok := m[untagged(name)]; !ok {
			m[untagged(name)] = t.Name
		}
	}
	return m, nil
}

// call sends in as JSON (when non-nil) and decodes a 200 reply into out.
func (e *OllamaEmbedder) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.config.Host+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return serrors.BackendError("malformed ollama response", err)
	}
	return nil
}

// post performs one /api/embed request and returns unit vectors.
func (e *OllamaEmbedder) post(ctx context.Context, texts []string) ([][]float32, error) {
	slog.Debug("embedding_request", slog.Int("texts_count", len(texts)), slog.String("model", e.ModelName()))

	var resp embedResponse
	if err := e.call(ctx, http.MethodPost, "/api/embed", embedRequest{Model: e.ModelName(), Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, serrors.BackendError(
			fmt.Sprintf("backend returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts)), nil)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, raw := range resp.Embeddings {
		v := make([]float32, len(raw))
		for j, x := range raw {
			v[j] = float32(x)
		}
		out[i] = unit(v)
	}
	return out, nil
}

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in sub-batches of BatchSize. A sub-batch that
// still fails after its retries fails the whole call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.closed.Load() {
		return nil, stderrors.New("embedder is closed")
	}

	out := make([][]float32, 0, len(texts))
	for part := range slices.Chunk(texts, e.config.BatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vecs, err := e.embedPart(ctx, part)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) embedPart(ctx context.Context, texts []string) ([][]float32, error) {
	policy := serrors.DefaultRetryConfig()
	policy.MaxRetries = e.config.MaxRetries
	policy.ShouldRetry = retryable
	policy.Op = "ollama_embed"
	if e.config.RetryDelay > 0 {
		policy.BaseDelay = e.config.RetryDelay
	}

	vecs, err := serrors.RetryWithResult(ctx, policy, func() ([][]float32, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return serrors.Guard(e.breaker, func() ([][]float32, error) {
			reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			return e.post(reqCtx, texts)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if se, ok := serrors.As(err); ok && se.Code == serrors.ErrCodeEmbedBackend {
			return nil, se
		}
		return nil, serrors.BackendError(fmt.Sprintf("embed %d texts", len(texts)), err).
			WithDetail("host", e.config.Host).
			WithDetail("model", e.ModelName())
	}

	e.mu.Lock()
	if e.dims == 0 {
		e.dims = len(vecs[0])
	}
	dims := e.dims
	e.mu.Unlock()
	if err := checkBatch(vecs, len(texts), dims); err != nil {
		return nil, err
	}
	return vecs, nil
}

// retryable reports whether another attempt could succeed: network errors,
// 5xx and 429 replies. Malformed output and an open breaker are final.
func retryable(err error) bool {
	if stderrors.Is(err, serrors.ErrCircuitOpen) {
		return false
	}
	var status *statusError
	if stderrors.As(err, &status) {
		return status.code >= 500 || status.code == http.StatusTooManyRequests
	}
	if se, ok := serrors.As(err); ok {
		return se.Retryable && se.Code != serrors.ErrCodeEmbedBackend
	}
	return true
}

// Dimensions is 0 until the first vector is seen, unless configured.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName is the resolved model, including its tag.
func (e *OllamaEmbedder) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

// Available reports whether Ollama answers and still has the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.closed.Load() {
		return false
	}
	installed, err := e.installed(ctx)
	if err != nil {
		return false
	}
	_, ok := installed.first([]string{e.ModelName()})
	return ok
}

// Close drops idle connections. It is safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.transport.CloseIdleConnections()
	}
	return nil
}
