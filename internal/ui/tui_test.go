package ui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainDashboard(tr *Tracker) *dashboard {
	return newDashboard(tr, "/home/ana/Documents", NoColorStyles())
}

func TestNewTUIRenderer_RequiresTerminal(t *testing.T) {
	r, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))

	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestDashboard_ShowsPipelineAndRoot(t *testing.T) {
	// Given: a tracker in the extract stage
	tr := NewTracker()
	tr.SetStage(StageExtracting, 0)

	// When: rendering
	view := plainDashboard(tr).View()

	// Then: every stage and the root are shown, earlier ones ticked
	assert.Contains(t, view, "searchme index · /home/ana/Documents")
	assert.Contains(t, view, "✓ Walk")
	assert.Contains(t, view, "Extract")
	assert.Contains(t, view, "· Embed")
	assert.Contains(t, view, "· Commit")
	assert.Contains(t, view, "Extracting...")
}

func TestDashboard_Progress(t *testing.T) {
	// Given: half of the chunks embedded
	tr, c := newTestTracker()
	tr.SetStage(StageEmbedding, 2400)
	c.advance(2 * time.Second)
	tr.Update(1200, "music/album/track01.mp3")

	// When: rendering
	view := plainDashboard(tr).View()

	// Then: counts, rate, remaining time and file are shown
	assert.Contains(t, view, "1,200 / 2,400")
	assert.Contains(t, view, "600.0/s")
	assert.Contains(t, view, "2s left")
	assert.Contains(t, view, " 50%")
	assert.Contains(t, view, "track01.mp3")
	assert.Contains(t, view, "files/s")
}

func TestDashboard_Draining(t *testing.T) {
	tr := NewTracker()
	tr.SetStage(StageDraining, 0)

	view := plainDashboard(tr).View()

	assert.Contains(t, view, "✓ Commit")
	assert.Contains(t, view, "Finishing")
}

func TestDashboard_Footer(t *testing.T) {
	tr := NewTracker()
	tr.AddError(ErrorEvent{File: "broken.pdf", Err: assert.AnError})
	tr.AddError(ErrorEvent{File: "huge.bin", Err: assert.AnError, IsWarn: true})
	tr.AddError(ErrorEvent{File: "odd.bin", Err: assert.AnError, IsWarn: true})

	view := plainDashboard(tr).View()

	assert.Contains(t, view, "1 failed")
	assert.Contains(t, view, "2 skipped")
	assert.Contains(t, view, "q quit")
}

func TestDashboard_CompleteMessageQuits(t *testing.T) {
	// Given: a running dashboard
	m := plainDashboard(NewTracker())

	// When: the run completes
	_, cmd := m.Update(completeMsg(CompletionStats{Scanned: 100, Indexed: 90, Chunks: 500, Bytes: 2_000_000, Duration: 3 * time.Second}))

	// Then: the summary replaces the dashboard
	require.NotNil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "Indexing complete")
	assert.Contains(t, view, "100 files scanned")
	assert.Contains(t, view, "2.0 MB")
}

func TestDashboard_InterruptedSummary(t *testing.T) {
	m := plainDashboard(NewTracker())

	m.Update(completeMsg(CompletionStats{Scanned: 10, Failed: 2, Aborted: true}))

	view := m.View()
	assert.Contains(t, view, "Indexing interrupted")
	assert.Contains(t, view, "2 files failed")
}

func TestDashboard_QuitKey(t *testing.T) {
	m := plainDashboard(NewTracker())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	require.NotNil(t, cmd)
	assert.Equal(t, "Stopping...\n", m.View())
}

func TestDashboard_Resize(t *testing.T) {
	m := plainDashboard(NewTracker())

	m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Equal(t, 16, m.bar.Width)

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 96, m.bar.Width)
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		4 * time.Second:                 "4s",
		90 * time.Second:                "1m 30s",
		3 * time.Minute:                 "3m",
		2*time.Hour + 5*time.Minute:     "2h 5m",
		1500 * time.Millisecond:         "2s",
		59*time.Minute + 59*time.Second: "59m 59s",
	}
	for d, want := range tests {
		assert.Equal(t, want, formatDuration(d), d.String())
	}
}

func TestTruncateFilePath(t *testing.T) {
	tests := []struct {
		name, path string
		max        int
		want       string
	}{
		{"fits", "docs/report.pdf", 50, "docs/report.pdf"},
		{"empty", "", 10, ""},
		{"keeps name", "photos/2024/summer/beach.jpg", 20, ".../summer/beach.jpg"},
		{"long name", "a/very-long-file-name.txt", 12, "...-name.txt"},
		{"no dir", "averyveryverylongname.txt", 10, "...ame.txt"},
		{"tiny", "photos/beach.jpg", 3, "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateFilePath(tt.path, tt.max)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), max(tt.max, 3))
		})
	}
}

var _ tea.Model = (*dashboard)(nil)
