// Package ui renders indexing progress, run summaries and index status for
// the terminal: a bubbletea dashboard when attached to a TTY and throttled
// plain lines everywhere else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of an indexing run as shown to the user.
type Stage int

// Stages in pipeline order.
const (
	StageWalking Stage = iota
	StageExtracting
	StageEmbedding
	StageCommitting
	StageDraining
	StageComplete
)

var stageNames = [...]struct{ name, tag string }{
	StageWalking:    {"Walking", "WALK"},
	StageExtracting: {"Extracting", "READ"},
	StageEmbedding:  {"Embedding", "EMBED"},
	StageCommitting: {"Committing", "WRITE"},
	StageDraining:   {"Draining", "DRAIN"},
	StageComplete:   {"Complete", "DONE"},
}

func (s Stage) known() bool { return s >= 0 && int(s) < len(stageNames) }

func (s Stage) String() string {
	if !s.known() {
		return "Unknown"
	}
	return stageNames[s].name
}

// Icon is the bracketed tag used by the plain renderer.
func (s Stage) Icon() string {
	if !s.known() {
		return "???"
	}
	return stageNames[s].tag
}

// ProgressEvent reports how far a stage has come. Message, when set, is a
// one-off notice rather than a counter update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent is a file that failed (or was skipped, when IsWarn is set).
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// EmbedderInfo names the embedder used for a run.
type EmbedderInfo struct {
	Backend    string
	Model      string
	Dimensions int
}

// CompletionStats is the summary of a finished or interrupted run.
type CompletionStats struct {
	Scanned  int
	Indexed  int
	Updated  int
	Skipped  int
	Failed   int
	Deleted  int
	Chunks   int
	Bytes    int64
	Duration time.Duration
	Aborted  bool
	Embedder EmbedderInfo
}

// Renderer displays one indexing run. UpdateProgress and AddError may be
// called from any goroutine between Start and Stop.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config selects and configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// ProjectDir is the indexed root, shown in the dashboard title.
	ProjectDir string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain selects the plain renderer even on a terminal.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor strips colors from the dashboard.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithProjectDir sets the root shown in the dashboard title.
func WithProjectDir(dir string) ConfigOption {
	return func(c *Config) { c.ProjectDir = dir }
}

// NewConfig builds a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the dashboard for interactive terminals and the plain
// renderer for pipes, CI, --no-tui, or when the dashboard cannot start.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectNoColor reports whether NO_COLOR is present, whatever its value.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

var ciEnv = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS", "BUILDKITE"}

// DetectCI reports whether a known CI environment variable is set.
func DetectCI() bool {
	for _, v := range ciEnv {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}
