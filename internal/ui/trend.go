package ui

import "strings"

// barRunes are the bar heights, lowest first.
var barRunes = []rune("▁▂▃▄▅▆▇█")

// Bars draws one bar per value, scaled to the largest value. Negative
// values draw as the lowest bar.
func Bars(values []float64) string {
	peak := 0.0
	for _, v := range values {
		peak = max(peak, v)
	}
	var b strings.Builder
	for _, v := range values {
		i := 0
		if peak > 0 && v > 0 {
			i = min(int(v/peak*float64(len(barRunes)-1)), len(barRunes)-1)
		}
		b.WriteRune(barRunes[i])
	}
	return b.String()
}

// Trend keeps the most recent samples of a series.
type Trend struct {
	size   int
	values []float64
}

// NewTrend keeps up to size samples, 60 if size is not positive.
func NewTrend(size int) *Trend {
	if size <= 0 {
		size = 60
	}
	return &Trend{size: size, values: make([]float64, 0, size)}
}

// Push appends v, dropping the oldest sample when full.
func (t *Trend) Push(v float64) {
	if len(t.values) == t.size {
		copy(t.values, t.values[1:])
		t.values = t.values[:t.size-1]
	}
	t.values = append(t.values, v)
}

// Len returns the number of samples held.
func (t *Trend) Len() int { return len(t.values) }

// Reset drops all samples.
func (t *Trend) Reset() { t.values = t.values[:0] }

// Render draws the newest width samples right-aligned in width cells.
func (t *Trend) Render(width int) string {
	if width <= 0 {
		width = t.size
	}
	shown := t.values
	if len(shown) > width {
		shown = shown[len(shown)-width:]
	}
	return strings.Repeat(" ", width-len(shown)) + Bars(shown)
}
