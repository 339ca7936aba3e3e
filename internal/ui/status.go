package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo describes the state of one index for the stats command.
type StatusInfo struct {
	DataDir     string         `json:"data_dir"`
	Roots       []string       `json:"roots"`
	Files       int            `json:"files"`
	Records     int            `json:"records"`
	Content     int64          `json:"content_bytes"`
	ByType      map[string]int `json:"by_type"`
	LastIndexed time.Time      `json:"last_indexed"`
	LastRun     time.Time      `json:"last_run"`

	SchemaVersion int `json:"schema_version"`

	// Storage sizes in bytes.
	MetadataSize int64 `json:"metadata_size"`
	VectorSize   int64 `json:"vector_size"`
	TotalSize    int64 `json:"total_size"`

	EmbedderType   string `json:"embedder_type"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "offline", "error"
	EmbedderModel  string `json:"embedder_model,omitempty"`
	Dimensions     int    `json:"dimensions"`

	Queries *QueryStats `json:"queries,omitempty"`
}

// QueryStats summarises recorded query activity.
type QueryStats struct {
	Total       int64            `json:"total"`
	ZeroResults int64            `json:"zero_results"`
	ByKind      map[string]int64 `json:"by_kind"`
	// Latency holds counts per latency bucket, fastest first.
	Latency    []int64   `json:"latency"`
	TopTerms   []string  `json:"top_terms,omitempty"`
	RecentMiss []string  `json:"recent_misses,omitempty"`
	Since      time.Time `json:"since"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index: "+info.DataDir))

	for _, root := range info.Roots {
		_, _ = fmt.Fprintf(r.out, "  Root:         %s\n", root)
	}
	_, _ = fmt.Fprintf(r.out, "  Files:        %s\n", humanize.Comma(int64(info.Files)))
	_, _ = fmt.Fprintf(r.out, "  Records:      %s\n", humanize.Comma(int64(info.Records)))
	_, _ = fmt.Fprintf(r.out, "  Content:      %s\n", FormatBytes(info.Content))
	if info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintln(r.out, "  Last indexed: never")
	} else {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", humanize.Time(info.LastIndexed))
	}
	if !info.LastRun.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last run:     %s\n", info.LastRun.Local().Format("2006-01-02 15:04:05"))
	}
	if info.SchemaVersion > 0 {
		_, _ = fmt.Fprintf(r.out, "  Schema:       v%d\n", info.SchemaVersion)
	}

	if len(info.ByType) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  By type:")
		types := make([]string, 0, len(info.ByType))
		for t := range info.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			_, _ = fmt.Fprintf(r.out, "    %-10s %s\n", t+":", humanize.Comma(int64(info.ByType[t])))
		}
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Metadata:   %s\n", FormatBytes(info.MetadataSize))
	_, _ = fmt.Fprintf(r.out, "    Vectors:    %s\n", FormatBytes(info.VectorSize))
	_, _ = fmt.Fprintf(r.out, "    Total:      %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Type:   %s\n", info.EmbedderType)
	_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:  %s (%d dims)\n", info.EmbedderModel, info.Dimensions)
	}

	if q := info.Queries; q != nil && q.Total > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "  Queries (since %s):\n", q.Since.Local().Format("2006-01-02"))
		_, _ = fmt.Fprintf(r.out, "    Total:        %s\n", humanize.Comma(q.Total))
		_, _ = fmt.Fprintf(r.out, "    No results:   %s (%.0f%%)\n", humanize.Comma(q.ZeroResults),
			float64(q.ZeroResults)/float64(q.Total)*100)
		kinds := make([]string, 0, len(q.ByKind))
		for k := range q.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			_, _ = fmt.Fprintf(r.out, "    %-13s %s\n", k+":", humanize.Comma(q.ByKind[k]))
		}
		if len(q.Latency) > 0 {
			_, _ = fmt.Fprintf(r.out, "    Latency:      %s\n", r.styles.Accent.Render(LatencyHistogram(q.Latency)))
		}
		if len(q.TopTerms) > 0 {
			_, _ = fmt.Fprintf(r.out, "    Top terms:    %s\n", strings.Join(q.TopTerms, ", "))
		}
		for _, miss := range q.RecentMiss {
			_, _ = fmt.Fprintf(r.out, "    Missed:       %q\n", miss)
		}
	}
	return nil
}

// LatencyHistogram renders bucket counts as one bar each.
func LatencyHistogram(counts []int64) string {
	values := make([]float64, len(counts))
	for i, c := range counts {
		values[i] = float64(c)
	}
	return Bars(values)
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// FormatBytes formats a byte count in binary units, e.g. "1.5 MiB".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
