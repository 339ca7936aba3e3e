// Package config loads searchme configuration from defaults, the user
// config file, a project file in the indexed root, .env and SEARCHME_*
// environment variables, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

// AppName is used for config, data and log directory names.
const AppName = "searchme"

// Config represents the complete searchme configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Query      QueryConfig      `yaml:"query" json:"query"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig configures which files the walker yields.
type PathsConfig struct {
	Include            []string `yaml:"include" json:"include"`
	Exclude            []string `yaml:"exclude" json:"exclude"`
	SkipHidden         bool     `yaml:"skip_hidden" json:"skip_hidden"`
	SkipSystem         bool     `yaml:"skip_system" json:"skip_system"`
	RespectIgnoreFiles bool     `yaml:"respect_ignore_files" json:"respect_ignore_files"`
	FollowSymlinks     bool     `yaml:"follow_symlinks" json:"follow_symlinks"`
	MaxFileSize        int64    `yaml:"max_file_size" json:"max_file_size"`
	MaxDepth           int      `yaml:"max_depth" json:"max_depth"` // 0 = unlimited
}

// ChunkingConfig bounds the text chunks sent to the embedder.
type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider          string        `yaml:"provider" json:"provider"` // ollama, static, or empty for auto
	Model             string        `yaml:"model" json:"model"`
	OllamaHost        string        `yaml:"ollama_host" json:"ollama_host"`
	Dimensions        int           `yaml:"dimensions" json:"dimensions"`
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	CacheSize         int           `yaml:"cache_size" json:"cache_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"` // 0 = unlimited
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
}

// IndexConfig configures storage and the indexing pipeline.
type IndexConfig struct {
	DataDir       string        `yaml:"data_dir" json:"data_dir"`
	Workers       int           `yaml:"workers" json:"workers"`
	QueueSize     int           `yaml:"queue_size" json:"queue_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
}

// QueryConfig configures retrieval and context assembly.
type QueryConfig struct {
	TopK         int           `yaml:"top_k" json:"top_k"`
	MinScore     float64       `yaml:"min_score" json:"min_score"`
	ContextChars int           `yaml:"context_chars" json:"context_chars"`
	HistoryTurns int           `yaml:"history_turns" json:"history_turns"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures the conversational backend.
type LLMConfig struct {
	Host    string        `yaml:"host" json:"host"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Stream  bool          `yaml:"stream" json:"stream"`
}

// SessionConfig configures conversation history retention.
type SessionConfig struct {
	MaxTurns int `yaml:"max_turns" json:"max_turns"`
}

// LoggingConfig configures the log level.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include:            []string{},
			Exclude:            []string{},
			SkipHidden:         false,
			SkipSystem:         true,
			RespectIgnoreFiles: true,
			MaxFileSize:        50 * 1024 * 1024,
		},
		Chunking: ChunkingConfig{
			Size:    1500,
			Overlap: 150,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "nomic-embed-text",
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			CacheSize:  1000,
			MaxRetries: 3,
			Timeout:    60 * time.Second,
		},
		Index: IndexConfig{
			DataDir:       DefaultDataDir(),
			Workers:       runtime.NumCPU(),
			QueueSize:     256,
			BatchTimeout:  500 * time.Millisecond,
			WatchDebounce: 500 * time.Millisecond,
		},
		Query: QueryConfig{
			TopK:         5,
			ContextChars: 6000,
			HistoryTurns: 6,
			Timeout:      30 * time.Second,
		},
		LLM: LLMConfig{
			Host:    "http://localhost:11434",
			Model:   "mistral",
			Timeout: 10 * time.Second,
			Stream:  true,
		},
		Session: SessionConfig{
			MaxTurns: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultDataDir returns ~/.searchme/index.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "."+AppName, "index")
	}
	return filepath.Join(home, "."+AppName, "index")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/searchme/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/searchme/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", AppName, "config.yaml")
	}
	return filepath.Join(home, ".config", AppName, "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for an index rooted at dir.
// Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/searchme/config.yaml)
//  3. Project config (.searchme.yaml or .searchme.yml in dir)
//  4. .env in dir (never overrides variables already set)
//  5. Environment variables (SEARCHME_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	if dir != "" {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !os.IsNotExist(err) {
			return nil, serrors.New(serrors.ErrCodeConfigParse, "failed to parse .env", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"." + AppName + ".yaml", "." + AppName + ".yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over the current values so keys absent from the
// file keep their earlier value. Exclude patterns accumulate across layers.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return serrors.New(serrors.ErrCodeConfigParse, fmt.Sprintf("failed to read config file %s", path), err)
	}

	prevExclude := append([]string(nil), c.Paths.Exclude...)
	c.Paths.Exclude = nil

	if err := yaml.Unmarshal(data, c); err != nil {
		c.Paths.Exclude = prevExclude
		return serrors.New(serrors.ErrCodeConfigParse, fmt.Sprintf("failed to parse config file %s", path), err).
			WithSuggestion("check the YAML syntax and field types")
	}

	c.Paths.Exclude = append(prevExclude, c.Paths.Exclude...)
	return nil
}

// applyEnvOverrides applies SEARCHME_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("SEARCHME_DATA_DIR", &c.Index.DataDir)
	str("SEARCHME_EMBEDDER", &c.Embeddings.Provider)
	str("SEARCHME_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	str("SEARCHME_OLLAMA_HOST", &c.Embeddings.OllamaHost)
	str("SEARCHME_LLM_HOST", &c.LLM.Host)
	str("SEARCHME_LLM_MODEL", &c.LLM.Model)
	str("SEARCHME_LOG_LEVEL", &c.Logging.Level)

	ints := map[string]*int{
		"SEARCHME_WORKERS":    &c.Index.Workers,
		"SEARCHME_BATCH_SIZE": &c.Embeddings.BatchSize,
		"SEARCHME_TOP_K":      &c.Query.TopK,
		"SEARCHME_CHUNK_SIZE": &c.Chunking.Size,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return serrors.New(serrors.ErrCodeConfigInvalid, fmt.Sprintf("%s must be an integer, got %q", key, v), err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("SEARCHME_SKIP_HIDDEN"); v != "" {
		c.Paths.SkipHidden = parseBool(v)
	}
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate validates the configuration.
// Every failure is a configuration error and fatal at startup.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return serrors.New(serrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
	}

	if c.Chunking.Size <= 0 {
		return invalid("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return invalid("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Embeddings.BatchSize <= 0 {
		return invalid("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.MaxRetries < 0 {
		return invalid("embeddings.max_retries must be non-negative, got %d", c.Embeddings.MaxRetries)
	}
	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "ollama", "static":
	default:
		return invalid("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
	}
	if c.Index.Workers <= 0 {
		return invalid("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.QueueSize <= 0 {
		return invalid("index.queue_size must be positive, got %d", c.Index.QueueSize)
	}
	if c.Index.DataDir == "" {
		return invalid("index.data_dir must be set")
	}
	if c.Paths.MaxFileSize < 0 || c.Paths.MaxDepth < 0 {
		return invalid("paths.max_file_size and paths.max_depth must be non-negative")
	}
	if c.Query.TopK < 0 {
		return invalid("query.top_k must be non-negative, got %d", c.Query.TopK)
	}
	if c.Query.ContextChars <= 0 {
		return invalid("query.context_chars must be positive, got %d", c.Query.ContextChars)
	}
	if c.Session.MaxTurns <= 0 {
		return invalid("session.max_turns must be positive, got %d", c.Session.MaxTurns)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return CheckRuleConflicts(c.Paths.Include, c.Paths.Exclude)
}

// CheckRuleConflicts rejects a pattern that is both included and excluded.
func CheckRuleConflicts(include, exclude []string) error {
	seen := make(map[string]bool, len(include))
	for _, p := range include {
		seen[normalizePattern(p)] = true
	}
	for _, p := range exclude {
		if seen[normalizePattern(p)] {
			return serrors.New(serrors.ErrCodeConflictingRules,
				fmt.Sprintf("pattern %q is both included and excluded", p), nil).
				WithSuggestion("remove the pattern from either paths.include or paths.exclude")
		}
	}
	return nil
}

func normalizePattern(p string) string {
	return strings.TrimSuffix(strings.TrimSpace(filepath.ToSlash(p)), "/")
}

// ResolveRoot returns the absolute form of root after checking it is a
// readable directory.
func ResolveRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", serrors.New(serrors.ErrCodeInvalidRoot, fmt.Sprintf("invalid root path %q", root), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", serrors.New(serrors.ErrCodeInvalidRoot, fmt.Sprintf("root path %s is not accessible", abs), err).
			WithSuggestion("pass an existing directory to 'searchme index'")
	}
	if !info.IsDir() {
		return "", serrors.New(serrors.ErrCodeInvalidRoot, fmt.Sprintf("root path %s is not a directory", abs), nil)
	}
	return abs, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
