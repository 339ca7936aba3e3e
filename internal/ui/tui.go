package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// quitWait bounds how long Stop waits for the program to exit.
const quitWait = 2 * time.Second

// TUIRenderer draws a live dashboard with bubbletea.
type TUIRenderer struct {
	cfg     Config
	tracker *Tracker
	model   *dashboard

	mu      sync.Mutex
	program *tea.Program
	exited  chan struct{}
}

// NewTUIRenderer fails when cfg.Output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a terminal")
	}
	tracker := NewTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newDashboard(tracker, cfg.ProjectDir, GetStyles(cfg.NoColor || DetectNoColor())),
		exited:  make(chan struct{}),
	}, nil
}

// Start implements Renderer. The dashboard runs until Stop; ctx is not
// watched because the indexer owns cancellation.
func (r *TUIRenderer) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	go func() {
		defer close(r.exited)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Stage != r.tracker.Snapshot().Stage {
		r.tracker.SetStage(ev.Stage, ev.Total)
	}
	r.tracker.Update(ev.Current, ev.CurrentFile)
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(ev ErrorEvent) {
	r.tracker.AddError(ev)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.SetStage(StageComplete, 0)
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.exited:
	case <-time.After(quitWait):
	}
	return nil
}

type completeMsg CompletionStats

type frameMsg time.Time

// pipeline lists the stages shown in the header row.
var pipeline = []struct {
	stage Stage
	label string
}{
	{StageWalking, "Walk"},
	{StageExtracting, "Extract"},
	{StageEmbedding, "Embed"},
	{StageCommitting, "Commit"},
}

// dashboard is the bubbletea model. All progress state lives in the
// tracker, so the model redraws on a fixed frame tick.
type dashboard struct {
	tracker *Tracker
	root    string
	styles  Styles
	spin    spinner.Model
	bar     progress.Model
	width   int

	cancelled bool
	finished  *CompletionStats
}

func newDashboard(tracker *Tracker, root string, styles Styles) *dashboard {
	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(styles.Active))
	bar := progress.New(
		progress.WithSolidFill(colorAccent),
		progress.WithoutPercentage(),
		progress.WithWidth(48),
	)
	return &dashboard{tracker: tracker, root: root, styles: styles, spin: sp, bar: bar, width: 80}
}

func frame() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// Init implements tea.Model.
func (m *dashboard) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, frame())
}

// Update implements tea.Model.
func (m *dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if k := msg.String(); k == "q" || k == "ctrl+c" {
			m.cancelled = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-24, 16)
	case completeMsg:
		stats := CompletionStats(msg)
		m.finished = &stats
		return m, tea.Quit
	case frameMsg:
		return m, frame()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *dashboard) View() string {
	switch {
	case m.cancelled:
		return "Stopping...\n"
	case m.finished != nil:
		return m.summary(*m.finished)
	}

	s := m.tracker.Snapshot()
	inner := max(m.width-4, 40)
	text := inner - 2
	rule := m.styles.Border.Render(strings.Repeat("─", text))

	lines := []string{m.stages(s.Stage), rule}
	lines = append(lines, m.progressLines(s)...)
	lines = append(lines, m.styles.Accent.Render(m.tracker.Trend(text-10))+" "+m.styles.Dim.Render("files/s"))
	if s.File != "" {
		lines = append(lines, rule, m.styles.Dim.Render(truncateFilePath(s.File, text)))
	}

	title := "searchme index"
	if m.root != "" {
		title += " · " + m.root
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorFaint)).
		Padding(0, 1).
		Width(inner)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		box.Render(strings.Join(lines, "\n")),
		m.footer(s))
}

func (m *dashboard) stages(current Stage) string {
	parts := make([]string, 0, len(pipeline))
	for _, p := range pipeline {
		switch {
		case p.stage < current:
			parts = append(parts, m.styles.Done.Render("✓ "+p.label))
		case p.stage == current:
			parts = append(parts, m.styles.Active.Render(m.spin.View()+" "+p.label))
		default:
			parts = append(parts, m.styles.Dim.Render("· "+p.label))
		}
	}
	if current == StageDraining {
		parts = append(parts, m.styles.Warning.Render(m.spin.View()+" Finishing"))
	}
	return strings.Join(parts, m.styles.Dim.Render("  "))
}

func (m *dashboard) progressLines(s Snapshot) []string {
	if s.Total == 0 {
		return []string{m.styles.Label.Render(s.Stage.String() + "...")}
	}
	bar := m.bar.ViewAs(s.Fraction()) + " " + m.styles.Active.Render(fmt.Sprintf("%3.0f%%", s.Fraction()*100))
	detail := fmt.Sprintf("%s / %s", humanize.Comma(int64(s.Done)), humanize.Comma(int64(s.Total)))
	if s.Rate > 0 {
		detail += fmt.Sprintf(" · %.1f/s", s.Rate)
	}
	if s.ETA > 0 {
		detail += " · " + formatDuration(s.ETA) + " left"
	}
	return []string{bar, m.styles.Label.Render(detail)}
}

func (m *dashboard) footer(s Snapshot) string {
	var parts []string
	if s.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("%d failed", s.Errors)))
	}
	if s.Warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("%d skipped", s.Warnings)))
	}
	parts = append(parts, m.styles.Dim.Render("q quit"))
	return strings.Join(parts, m.styles.Dim.Render(" │ "))
}

func (m *dashboard) summary(st CompletionStats) string {
	head := m.styles.Success.Render("Indexing complete")
	if st.Aborted {
		head = m.styles.Warning.Render("Indexing interrupted")
	}
	lines := []string{head, ""}
	for _, l := range SummaryLines(st) {
		lines = append(lines, m.styles.Value.Render(l))
	}
	if st.Failed > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("%d files failed, see searchme logs", st.Failed)))
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "45s", "3m 5s" or "2h 10m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, mnt, sec := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, mnt)
	case mnt > 0 && sec > 0:
		return fmt.Sprintf("%dm %ds", mnt, sec)
	case mnt > 0:
		return fmt.Sprintf("%dm", mnt)
	}
	return fmt.Sprintf("%ds", sec)
}

// truncateFilePath shortens path to at most maxLen bytes, keeping the
// file name and as much of the tail of the directory as fits.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return "..."
	}
	dir, file := "", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir, file = path[:i], path[i+1:]
	}
	if dir == "" || len(file)+4 > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}
	keep := maxLen - len(file) - 4
	if keep <= 0 {
		return ".../" + file
	}
	return "..." + dir[len(dir)-keep:] + "/" + file
}

var _ Renderer = (*TUIRenderer)(nil)
