package embed

import (
	"strings"
	"time"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
	// OllamaConnectTimeout bounds the model lookup in NewOllamaEmbedder.
	OllamaConnectTimeout = 5 * time.Second
	OllamaPoolSize       = 4
)

// FallbackOllamaModels are tried in order when the configured model is
// not installed.
var FallbackOllamaModels = []string{"mxbai-embed-large", "all-minilm", "embeddinggemma"}

// OllamaConfig configures an OllamaEmbedder. Zero fields take the
// defaults of DefaultOllamaConfig.
type OllamaConfig struct {
	Host           string
	Model          string
	FallbackModels []string
	// Dimensions overrides the size probed from the model.
	Dimensions int
	// BatchSize caps the inputs of one /api/embed call.
	BatchSize      int
	Timeout        time.Duration
	ConnectTimeout time.Duration
	// MaxRetries and RetryDelay govern retries of 5xx and network errors.
	MaxRetries int
	RetryDelay time.Duration
	// RequestsPerSecond throttles calls; 0 means unlimited.
	RequestsPerSecond float64
	PoolSize          int
	// SkipHealthCheck skips the model lookup and the dimension probe.
	SkipHealthCheck bool
}

// withDefaults fills zero fields from DefaultOllamaConfig and clamps the
// batch size.
func (c OllamaConfig) withDefaults() OllamaConfig {
	d := DefaultOllamaConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	c.Host = strings.TrimRight(c.Host, "/")
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.FallbackModels == nil {
		c.FallbackModels = d.FallbackModels
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	c.BatchSize = min(c.BatchSize, MaxBatchSize)
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	c.MaxRetries = max(c.MaxRetries, 0)
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	return c
}

// DefaultOllamaConfig returns the configuration for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,
	}
}

// Wire types of the Ollama HTTP API.
type (
	embedRequest struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}

	embedResponse struct {
		Model      string      `json:"model"`
		Embeddings [][]float64 `json:"embeddings"`
	}

	tagsResponse struct {
		Models []tagInfo `json:"models"`
	}

	tagInfo struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
)
