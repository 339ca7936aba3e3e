package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoColorStyles_RenderUnchanged(t *testing.T) {
	s := NoColorStyles()

	for name, st := range map[string]func(...string) string{
		"header":  s.Header.Render,
		"success": s.Success.Render,
		"warning": s.Warning.Render,
		"error":   s.Error.Render,
		"dim":     s.Dim.Render,
		"active":  s.Active.Render,
		"label":   s.Label.Render,
		"value":   s.Value.Render,
		"accent":  s.Accent.Render,
		"done":    s.Done.Render,
		"border":  s.Border.Render,
	} {
		assert.Equal(t, "report.pdf", st("report.pdf"), name)
	}
}

func TestDefaultStyles_KeepText(t *testing.T) {
	s := GetStyles(false)

	assert.Contains(t, s.Header.Render("searchme index"), "searchme index")
	assert.Contains(t, s.Accent.Render("▁▄█"), "▁▄█")
	assert.True(t, s.Header.GetBold())
	assert.True(t, s.Error.GetBold())
}

func TestGetStyles_NoColor(t *testing.T) {
	assert.Equal(t, "42 files", GetStyles(true).Success.Render("42 files"))
}
