package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/searchme/internal/store"
)

func TestFormatFallback(t *testing.T) {
	// Given: two chunks of one file and one image
	hits := []Hit{
		{Record: &store.Record{
			Path:       "/docs/report.pdf",
			Size:       2_500_000,
			Snippet:    "Revenue grew\nby 12 percent in the third quarter, driven by strong demand across all regions and product lines worldwide.",
			Attributes: map[string]string{"title": "Q3", "page_count": "4"},
		}, Score: 0.91},
		{Record: &store.Record{Path: "/docs/report.pdf", Snippet: "second chunk"}, Score: 0.80},
		{Record: &store.Record{
			Path:       "/pics/cat.png",
			Size:       2048,
			Attributes: map[string]string{"width": "640", "height": "480"},
		}, Score: 0.40},
	}

	// When: formatting
	out := FormatFallback(hits)

	// Then: one entry per file with humanized sizes and a short preview
	assert.True(t, strings.HasPrefix(out, "🔍 Search Results"))
	assert.Contains(t, out, "1. /docs/report.pdf")
	assert.Contains(t, out, "2. /pics/cat.png")
	assert.NotContains(t, out, "3.")
	assert.NotContains(t, out, "second chunk")
	assert.Contains(t, out, "  • Score: 0.91")
	assert.Contains(t, out, "  • Size: 2.5 MB")
	assert.Contains(t, out, "  • Size: 2.0 kB")
	assert.Contains(t, out, "Title: Q3 | Pages: 4")
	assert.Contains(t, out, "Dim: 640x480")
	assert.Contains(t, out, `Preview: "Revenue grew by 12 percent`)
	assert.NotContains(t, out, "worldwide")
}

func TestFormatFallback_Empty(t *testing.T) {
	assert.Equal(t, "No matching files found.", FormatFallback(nil))
	assert.Equal(t, "No matching files found.", FormatFallback([]Hit{{Record: nil}}))
}
