package embed

import (
	"cmp"
	"context"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/searchme/internal/config"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

// ProviderType selects an embedding backend.
type ProviderType string

const (
	ProviderAuto   ProviderType = ""       // Ollama, static when Ollama is down
	ProviderOllama ProviderType = "ollama" // Ollama only
	ProviderStatic ProviderType = "static" // offline hashing
)

func (p ProviderType) String() string {
	return cmp.Or(string(p), "auto")
}

// ParseProvider maps a config value to a provider. Unknown values mean auto.
func ParseProvider(s string) ProviderType {
	p := ProviderType(strings.ToLower(strings.TrimSpace(s)))
	if p == ProviderOllama || p == ProviderStatic {
		return p
	}
	return ProviderAuto
}

// NewEmbedder builds the configured embedder behind an LRU cache. In auto
// mode an unreachable Ollama is logged and replaced by the static embedder;
// with provider "ollama" it is an error.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	inner, err := newProvider(ctx, ParseProvider(cfg.Provider), cfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("embedder_ready",
		slog.String("model", inner.ModelName()),
		slog.Int("dimensions", inner.Dimensions()))
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newProvider(ctx context.Context, p ProviderType, cfg config.EmbeddingsConfig) (Embedder, error) {
	if p == ProviderStatic {
		return NewStaticEmbedder(), nil
	}
	o, err := NewOllamaEmbedder(ctx, ollamaConfig(cfg))
	switch {
	case err == nil:
		return o, nil
	case p == ProviderOllama:
		return nil, err
	}
	slog.Warn("embedder_fallback",
		slog.String("from", ProviderOllama.String()),
		slog.String("to", ProviderStatic.String()),
		slog.String("error", err.Error()))
	return NewStaticEmbedder(), nil
}

// ollamaConfig overlays the non-zero settings of cfg on the Ollama defaults.
func ollamaConfig(cfg config.EmbeddingsConfig) OllamaConfig {
	oc := DefaultOllamaConfig()
	oc.Host = cmp.Or(cfg.OllamaHost, oc.Host)
	oc.Model = cmp.Or(cfg.Model, oc.Model)
	if cfg.Dimensions > 0 {
		oc.Dimensions = cfg.Dimensions
	}
	if cfg.BatchSize > 0 {
		oc.BatchSize = cfg.BatchSize
	}
	if cfg.Timeout > 0 {
		oc.Timeout = cfg.Timeout
	}
	oc.MaxRetries = cfg.MaxRetries
	oc.RequestsPerSecond = cfg.RequestsPerSecond
	return oc
}

// EmbedderInfo describes an embedder for status output.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo looks through the cache to report which backend is in use.
func GetInfo(ctx context.Context, e Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Provider:   ProviderStatic,
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
		Available:  e.Available(ctx),
	}
	if c, ok := e.(*CachedEmbedder); ok {
		e = c.Inner()
	}
	if _, ok := e.(*OllamaEmbedder); ok {
		info.Provider = ProviderOllama
	}
	return info
}

// CheckCompatible returns ERR_403 when an index built with one model and
// dimension is opened with another.
func CheckCompatible(e Embedder, model string, dims int) error {
	if model == "" && dims == 0 {
		return nil
	}
	if model == e.ModelName() && (dims == 0 || e.Dimensions() == 0 || dims == e.Dimensions()) {
		return nil
	}
	return serrors.New(serrors.ErrCodeSchemaMismatch, "index was built with a different embedding model", nil).
		WithDetail("index_model", model).
		WithDetail("embedder_model", e.ModelName()).
		WithSuggestion("Rebuild with: searchme index --force")
}
