package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the name of the live log file.
const FileName = "searchme.log"

// Config selects where records go and from which level.
type Config struct {
	// Level is debug, info, warn or error.
	Level string
	// File is the log file; empty logs to stderr only.
	File    string
	MaxSize int64
	Backups int
	// Stderr mirrors every record to stderr.
	Stderr bool
}

// DefaultConfig logs info and above to the default file only, keeping the
// terminal free for progress output.
func DefaultConfig() Config {
	return Config{Level: "info", File: DefaultPath(), MaxSize: 10 << 20, Backups: 5}
}

// DebugConfig is used for --debug.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.Stderr = true
	return cfg
}

// Dir is ~/.searchme/logs, under the temp directory when there is no home.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".searchme", "logs")
}

// DefaultPath is the log file written by DefaultConfig.
func DefaultPath() string {
	return filepath.Join(Dir(), FileName)
}

// Resolve returns explicit, or the default log file when explicit is
// empty, failing when the chosen file does not exist.
func Resolve(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		if explicit == "" {
			return "", fmt.Errorf("no log file yet, expected at %s", path)
		}
		return "", fmt.Errorf("log file not found: %s", path)
	}
	return path, nil
}

// level is shared by every logger Setup builds so that SetLevel can adjust
// a logger already installed as slog.Default.
var level = new(slog.LevelVar)

// SetLevel changes the minimum level of loggers built by Setup.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// Setup builds a JSON slog logger for cfg and a cleanup function that
// flushes and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var (
		sinks   []io.Writer
		cleanup = func() {}
	)
	if cfg.File != "" {
		w, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.Backups)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, w)
		cleanup = func() {
			_ = w.Sync()
			_ = w.Close()
		}
	}
	if cfg.Stderr || len(sinks) == 0 {
		sinks = append(sinks, os.Stderr)
	}

	SetLevel(cfg.Level)
	h := slog.NewJSONHandler(io.MultiWriter(sinks...), &slog.HandlerOptions{Level: level})
	return slog.New(h), cleanup, nil
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
