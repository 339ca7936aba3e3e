package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
)

// LogEntry is one line of a log file. Lines that are not slog JSON keep
// IsValid false and are shown raw.
type LogEntry struct {
	Time    time.Time
	Level   string
	Msg     string
	Attrs   map[string]any
	Raw     string
	IsValid bool
}

// ParseLine decodes a slog JSON line.
func ParseLine(line string) LogEntry {
	e := LogEntry{Raw: line}
	var fields map[string]any
	if json.Unmarshal([]byte(line), &fields) != nil {
		return e
	}
	e.IsValid = true
	if ts, ok := fields["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	e.Level, _ = fields["level"].(string)
	e.Msg, _ = fields["msg"].(string)
	delete(fields, "time")
	delete(fields, "level")
	delete(fields, "msg")
	e.Attrs = fields
	return e
}

type ViewerConfig struct {
	Level   string // minimum level
	Grep    string // substring of the raw line
	NoColor bool
}

// Viewer prints log files written by Setup.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

var levelStyles = map[string]lipgloss.Style{
	"DEBUG": lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	"INFO":  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

func (v *Viewer) keep(e LogEntry) bool {
	if v.config.Level != "" && ParseLevel(e.Level) < ParseLevel(v.config.Level) {
		return false
	}
	return v.config.Grep == "" || strings.Contains(e.Raw, v.config.Grep)
}

// Tail returns the entries among the last n lines of path that pass the
// filters. n <= 0 means 50.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	if n <= 0 {
		n = 50
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	last := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		if len(last) == n {
			last = slices.Delete(last, 0, 1)
		}
		last = append(last, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	var entries []LogEntry
	for _, line := range last {
		if e := ParseLine(line); v.keep(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// tailer reads complete lines appended to a file, holding back a partial
// last line until its newline arrives.
type tailer struct {
	f       *os.File
	r       *bufio.Reader
	partial string
}

func openTailer(path string, fromEnd bool) (*tailer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if fromEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seek log: %w", err)
		}
	}
	return &tailer{f: f, r: bufio.NewReader(f)}, nil
}

func (t *tailer) drain(emit func(string)) {
	for {
		chunk, err := t.r.ReadString('\n')
		if err != nil {
			t.partial += chunk
			return
		}
		if line := strings.TrimSuffix(t.partial+chunk, "\n"); line != "" {
			emit(line)
		}
		t.partial = ""
	}
}

func (t *tailer) Close() error { return t.f.Close() }

// Follow prints entries appended to path until ctx is canceled, starting at
// the current end of the file. When the writer rotates, the new file is read
// from its beginning.
func (v *Viewer) Follow(ctx context.Context, path string) error {
	t, err := openTailer(path, true)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch log: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log: %w", err)
	}

	emit := func(line string) {
		if e := ParseLine(line); v.keep(e) {
			_, _ = fmt.Fprintln(v.out, v.FormatEntry(e))
		}
	}
	// Some filesystems drop events, so poll as well.
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				t.drain(emit)
				if next, err := openTailer(path, false); err == nil {
					_ = t.Close()
					t = next
				}
			}
			t.drain(emit)
		case <-w.Errors:
		case <-poll.C:
			t.drain(emit)
		}
	}
}

func (v *Viewer) Print(entries []LogEntry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(e))
	}
}

// FormatEntry renders "15:04:05.000 LEVEL msg k=v ..." with keys sorted.
func (v *Viewer) FormatEntry(e LogEntry) string {
	if !e.IsValid {
		return e.Raw
	}

	name := strings.ToUpper(e.Level)
	level := fmt.Sprintf("%-5s", name)
	if style, ok := levelStyles[name]; ok && !v.config.NoColor {
		level = style.Render(level)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", e.Time.Format("15:04:05.000"), level, e.Msg)
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}
