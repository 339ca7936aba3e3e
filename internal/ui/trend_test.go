package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBars(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   string
	}{
		{"empty", nil, ""},
		{"all zero", []float64{0, 0}, "▁▁"},
		{"scaled to peak", []float64{0, 7, 14}, "▁▄█"},
		{"negative is lowest", []float64{-3, 2}, "▁█"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Bars(tt.values))
		})
	}
}

func TestTrend_KeepsNewestSamples(t *testing.T) {
	// Given: a trend holding three samples
	tr := NewTrend(3)

	// When: pushing five
	for _, v := range []float64{1, 2, 3, 4, 8} {
		tr.Push(v)
	}

	// Then: only the newest three remain
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, []float64{3, 4, 8}, tr.values)
}

func TestTrend_Render(t *testing.T) {
	tr := NewTrend(10)
	assert.Equal(t, "    ", tr.Render(4))

	tr.Push(2)
	tr.Push(4)
	assert.Equal(t, "  ▄█", tr.Render(4))
	assert.Equal(t, "█", tr.Render(1))

	tr.Reset()
	assert.Equal(t, 0, tr.Len())
}
