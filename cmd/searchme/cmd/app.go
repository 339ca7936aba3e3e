package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/searchme/internal/config"
	"github.com/Aman-CERP/searchme/internal/embed"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/index"
	"github.com/Aman-CERP/searchme/internal/llm"
	"github.com/Aman-CERP/searchme/internal/logging"
	"github.com/Aman-CERP/searchme/internal/query"
	"github.com/Aman-CERP/searchme/internal/telemetry"
)

// embedderInitTimeout bounds the Ollama probe at startup.
const embedderInitTimeout = 15 * time.Second

// loadConfig loads configuration for root and applies the global flags.
func loadConfig(root string) (*config.Config, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		abs, err := filepath.Abs(dataDirFlag)
		if err != nil {
			return nil, serrors.New(serrors.ErrCodeConfigInvalid, "invalid --data-dir", err)
		}
		cfg.Index.DataDir = abs
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	if fileLogging {
		logging.SetLevel(cfg.Logging.Level)
	}
	return cfg, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	ctx, cancel := context.WithTimeout(ctx, embedderInitTimeout)
	defer cancel()
	return embed.NewEmbedder(ctx, cfg.Embeddings)
}

func newBackend(cfg *config.Config) *llm.Client {
	return llm.NewClient(llm.Config{
		Host:    cfg.LLM.Host,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
}

// reader bundles what the query commands need. Close releases all of it.
type reader struct {
	cfg      *config.Config
	embedder embed.Embedder
	stores   *index.Stores
	engine   *query.Engine
	backend  *llm.Client
	metrics  *telemetry.QueryMetrics
}

// openReader opens the index in cfg's data directory for querying. With
// withLLM the engine answers through the configured language model.
func openReader(ctx context.Context, cfg *config.Config, withLLM bool) (*reader, error) {
	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stores, err := index.OpenReader(ctx, cfg.Index.DataDir, embedder)
	if err != nil {
		_ = embedder.Close()
		return nil, explainMismatch(ctx, cfg, embedder, err)
	}

	r := &reader{cfg: cfg, embedder: embedder, stores: stores}
	opts := []query.Option{query.WithConfig(query.ConfigFrom(cfg.Query))}
	if m := openMetrics(cfg.Index.DataDir); m != nil {
		r.metrics = m
		opts = append(opts, query.WithMetrics(m))
	}
	if withLLM {
		r.backend = newBackend(cfg)
		opts = append(opts, query.WithBackend(r.backend))
	}

	r.engine, err = query.New(embedder, stores.Vectors, stores.Metadata, opts...)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *reader) Close() error {
	if r.metrics != nil {
		if err := r.metrics.Close(); err != nil {
			slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
	}
	err := r.stores.Close()
	_ = r.embedder.Close()
	return err
}

// openMetrics opens query telemetry next to the index. Telemetry is best
// effort: on failure queries run unrecorded.
func openMetrics(dataDir string) *telemetry.QueryMetrics {
	st, err := telemetry.OpenSQLiteStore(filepath.Join(dataDir, telemetry.FileName))
	if err != nil {
		slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		return nil
	}
	return telemetry.New(st, telemetry.DefaultConfig())
}

// explainMismatch rewrites a model mismatch caused by the offline fallback:
// the index is fine, Ollama is just not running.
func explainMismatch(ctx context.Context, cfg *config.Config, e embed.Embedder, err error) error {
	if serrors.GetCode(err) != serrors.ErrCodeSchemaMismatch || cfg.Embeddings.Provider != "" {
		return err
	}
	if embed.GetInfo(ctx, e).Provider != embed.ProviderStatic {
		return err
	}
	slog.Warn("embedder_unavailable_for_index", slog.String("error", err.Error()))
	return serrors.New(serrors.ErrCodeSearchUnavailable,
		"the index was built with Ollama embeddings but Ollama is not reachable", err).
		WithDetail("ollama_host", cfg.Embeddings.OllamaHost).
		WithSuggestion("Start Ollama with 'ollama serve', or rebuild offline with: searchme index --force")
}

// printf writes unless --quiet is set.
func printf(w io.Writer, format string, args ...any) {
	if quietMode {
		return
	}
	_, _ = fmt.Fprintf(w, format, args...)
}
