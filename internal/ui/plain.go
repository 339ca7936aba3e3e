package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// plainStep is the progress step, in percent, between plain lines.
const plainStep = 10

// PlainRenderer writes line-oriented progress for pipes, CI logs and
// --no-tui. A stage prints its first event, each further 10% and its
// last event, so large trees stay readable in a log.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	stage  Stage
	shown  int // last percent printed in stage, -1 before the first line
	errors []ErrorEvent
}

// NewPlainRenderer writes to cfg.Output.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, stage: -1, shown: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Stage != r.stage {
		r.stage, r.shown = ev.Stage, -1
	}
	detail := ev.Message
	if detail == "" {
		detail = ev.CurrentFile
	}

	if ev.Total <= 0 {
		if detail != "" {
			_, _ = fmt.Fprintf(r.out, "[%s] %s\n", ev.Stage.Icon(), detail)
		}
		return
	}

	pct := min(ev.Current*100/ev.Total, 100)
	last := ev.Current >= ev.Total
	if r.shown >= 0 && !last && pct < r.shown+plainStep && ev.Message == "" {
		return
	}
	if last && r.shown == 100 {
		return
	}
	r.shown = pct
	line := fmt.Sprintf("[%s] %d/%d (%d%%)", ev.Stage.Icon(), ev.Current, ev.Total, pct)
	if detail != "" {
		line += " " + detail
	}
	_, _ = fmt.Fprintln(r.out, line)
}

// AddError implements Renderer. Warnings are files left out of the
// index; errors are files that failed.
func (r *PlainRenderer) AddError(ev ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, ev)
	label := "FAIL"
	if ev.IsWarn {
		label = "SKIP"
	}
	if ev.File == "" {
		_, _ = fmt.Fprintf(r.out, "%s %v\n", label, ev.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s %s: %v\n", label, ev.File, ev.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range SummaryLines(stats) {
		_, _ = fmt.Fprintln(r.out, line)
	}
}

// Errors returns every reported problem in order.
func (r *PlainRenderer) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}

// SummaryLines is the end-of-run report shared by both renderers.
func SummaryLines(stats CompletionStats) []string {
	verb := "Complete"
	if stats.Aborted {
		verb = "Interrupted"
	}
	lines := []string{
		fmt.Sprintf("%s: %d files scanned in %s", verb, stats.Scanned, stats.Duration.Round(100*time.Millisecond)),
		fmt.Sprintf("  indexed %d, updated %d, skipped %d, failed %d, deleted %d",
			stats.Indexed, stats.Updated, stats.Skipped, stats.Failed, stats.Deleted),
		fmt.Sprintf("  %s chunks from %s", humanize.Comma(int64(stats.Chunks)), humanize.Bytes(uint64(max(stats.Bytes, 0)))),
	}
	if secs := stats.Duration.Seconds(); secs > 0 && stats.Indexed+stats.Updated > 0 {
		lines = append(lines, fmt.Sprintf("  %.1f files/s", float64(stats.Indexed+stats.Updated)/secs))
	}
	if stats.Aborted {
		lines = append(lines, "  Run again to finish indexing the remaining files.")
	}
	if stats.Embedder.Backend != "" {
		lines = append(lines, fmt.Sprintf("Backend: %s (%s, %d dims)",
			stats.Embedder.Backend, stats.Embedder.Model, stats.Embedder.Dimensions))
	}
	return lines
}
