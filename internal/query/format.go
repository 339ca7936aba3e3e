package query

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// previewChars is the length of the content preview in fallback output.
const previewChars = 100

// FormatFallback renders hits as a plain result list, one entry per file
// with its best-scoring chunk. It is shown when the language model cannot
// be reached.
func FormatFallback(hits []Hit) string {
	var b strings.Builder
	seen := make(map[string]bool, len(hits))
	n := 0
	for _, h := range hits {
		rec := h.Record
		if rec == nil || seen[rec.Path] {
			continue
		}
		seen[rec.Path] = true
		n++
		if n == 1 {
			b.WriteString("🔍 Search Results\n─────────────\n")
		}

		fmt.Fprintf(&b, "\n%d. %s\n", n, rec.Path)

		details := []string{fmt.Sprintf("Score: %.2f", h.Score)}
		if rec.Size > 0 {
			details = append(details, "Size: "+humanize.Bytes(uint64(rec.Size)))
		}
		var meta []string
		for _, a := range attrLabels {
			if v := rec.Attributes[a.key]; v != "" {
				meta = append(meta, a.label+": "+v)
			}
		}
		if dim := dimensions(rec.Attributes); dim != "" {
			meta = append(meta, "Dim: "+dim)
		}
		if len(meta) > 0 {
			details = append(details, strings.Join(meta, " | "))
		}
		if preview := truncateRunes(collapse(rec.Snippet), previewChars); preview != "" {
			details = append(details, fmt.Sprintf("Preview: \"%s...\"", preview))
		}

		for _, d := range details {
			fmt.Fprintf(&b, "  • %s\n", d)
		}
	}

	if n == 0 {
		return "No matching files found."
	}
	return strings.TrimRight(b.String(), "\n")
}
