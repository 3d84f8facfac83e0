package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cindex-dev/cindex/internal/index"
)

// tuiErrorLines caps the per-file error listing in the completion panel.
const tuiErrorLines = 5

// TUIRenderer drives a bubbletea program on an interactive terminal. The
// pipeline renders as one row per stage since per-file stages progress
// concurrently.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *Tracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Errors when the output is not a
// terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewTracker()
	model := newIndexingModel(tracker, cfg.RootPath)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	_, r.cancel = context.WithCancel(ctx)

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	opts = append(opts, tea.WithAltScreen())

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(event index.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.Observe(event)
	if r.program != nil {
		r.program.Send(progressMsg(event))
	}
}

// Complete implements Renderer. The alternate screen is restored before the
// summary prints, so the panel lands on the normal screen and stays in the
// scrollback.
func (r *TUIRenderer) Complete(stats index.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(stats))
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	_, _ = fmt.Fprint(r.cfg.Output, r.model.renderComplete(stats))
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()

		// Bounded wait so an unresponsive terminal cannot hang shutdown.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// Message types for bubbletea.
type progressMsg index.Event
type completeMsg index.Stats
type tickMsg time.Time

// indexingModel is the bubbletea model for one indexing run.
type indexingModel struct {
	tracker     *Tracker
	width       int
	height      int
	quitting    bool
	complete    bool
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	rootPath    string
}

func newIndexingModel(tracker *Tracker, rootPath string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	p := progress.New(
		progress.WithSolidFill(ColorAccent),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)

	return &indexingModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
		rootPath:    rootPath,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// tickCmd re-renders every 100ms so speed and elapsed stay live between
// events.
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case progressMsg:
		// The renderer already folded the event into the tracker.
		return m, nil

	case completeMsg:
		m.complete = true
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting || m.complete {
		return ""
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}
	m.progressBar.Width = stageBarWidth(contentWidth)

	var sections []string
	sections = append(sections, m.renderStages())
	sections = append(sections, m.renderDivider(contentWidth))
	sections = append(sections, m.renderSpeedMetrics())
	sections = append(sections, m.renderSparkline(contentWidth))
	if file := m.tracker.CurrentFile(); file != "" {
		sections = append(sections, m.renderDivider(contentWidth))
		sections = append(sections, m.styles.Dim.Render(truncateFilePath(file, contentWidth-2)))
	}

	content := strings.Join(sections, "\n")

	title := "cindex"
	if m.rootPath != "" {
		title = fmt.Sprintf("cindex • %s", m.rootPath)
	}
	panel := m.wrapInPanel(title, content, contentWidth)

	return panel + "\n" + m.renderStatusBar()
}

// stageBarWidth fits the per-stage bar between the label and the count
// columns.
func stageBarWidth(contentWidth int) int {
	w := contentWidth - 28
	if w < 10 {
		w = 10
	}
	return w
}

// renderStages renders one row per stage seen so far. Active stages share
// the spinner; each row carries its own progress since the worker pool keeps
// several stages in flight at once.
func (m *indexingModel) renderStages() string {
	rows := m.tracker.Rows()
	if len(rows) == 0 {
		return m.spinner.View() + m.styles.Dim.Render("Starting...")
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, m.renderStageRow(row))
	}
	return strings.Join(lines, "\n")
}

func (m *indexingModel) renderStageRow(row StageRow) string {
	label := fmt.Sprintf("%-10s", row.Label)

	switch {
	case row.Status == StageDone:
		return fmt.Sprintf("%s %s %s",
			m.styles.Success.Render("●"),
			m.styles.Stage.Render(label),
			m.styles.Label.Render(fmt.Sprintf("%d/%d", row.Current, row.Total)))
	case row.Total > 0:
		return fmt.Sprintf("%s%s %s %s",
			m.spinner.View(),
			m.styles.Active.Render(label),
			m.progressBar.ViewAs(row.Fraction()),
			m.styles.Label.Render(fmt.Sprintf("%d/%d", row.Current, row.Total)))
	case row.Current > 0:
		return fmt.Sprintf("%s%s %s",
			m.spinner.View(),
			m.styles.Active.Render(label),
			m.styles.Label.Render(fmt.Sprintf("%d", row.Current)))
	default:
		return m.spinner.View() + m.styles.Active.Render(label)
	}
}

// renderSpeedMetrics renders throughput and the smoothed ETA.
func (m *indexingModel) renderSpeedMetrics() string {
	speed := m.tracker.Speed()

	var parts []string
	speedStr := fmt.Sprintf("Speed: %.0f files/s", speed.Current)
	if speed.Average > 0 {
		speedStr += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", speed.Average, speed.Peak)
	}
	parts = append(parts, m.styles.Speed.Render(speedStr))

	if eta := m.tracker.ETA(); eta > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(eta)))
	}

	separator := m.styles.Dim.Render("  •  ")
	return strings.Join(parts, separator)
}

// renderSparkline renders the throughput history.
func (m *indexingModel) renderSparkline(width int) string {
	sparkWidth := width - 14
	if sparkWidth < 10 {
		sparkWidth = 10
	}

	spark := m.tracker.RenderSparkline(sparkWidth)
	label := m.styles.Dim.Render("throughput ─")
	return m.styles.Sparkline.Render(spark) + " " + label
}

// renderDivider renders a horizontal line.
func (m *indexingModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

// wrapInPanel wraps content in a rounded border with a title line above.
func (m *indexingModel) wrapInPanel(title, content string, width int) string {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(content),
	)
}

// renderStatusBar renders overall completion, elapsed time and the quit hint.
func (m *indexingModel) renderStatusBar() string {
	var parts []string
	if f := m.tracker.OverallFraction(); f > 0 {
		parts = append(parts, m.styles.Active.Render(fmt.Sprintf("%3.0f%%", f*100)))
	}
	if e := m.tracker.Elapsed(); e > 0 {
		parts = append(parts, m.styles.Label.Render("elapsed "+formatDuration(e)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))

	separator := m.styles.Dim.Render("  •  ")
	return strings.Join(parts, separator)
}

// renderComplete renders the run summary panel. Printed to the normal
// screen after the program exits.
func (m *indexingModel) renderComplete(stats index.Stats) string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	var lines []string
	if stats.NoOp {
		lines = append(lines, m.styles.Success.Render("✓ Index up to date"))
		lines = append(lines, "")
		lines = append(lines, m.styles.Dim.Render("No changes detected."))
	} else {
		lines = append(lines, m.styles.Success.Render("✓ Indexing complete"))
		lines = append(lines, "")
		lines = append(lines, m.summaryRow("Files:", fmt.Sprintf("%d", stats.FilesIndexed)))
		lines = append(lines, m.summaryRow("Chunks:", fmt.Sprintf("%d", stats.ChunksCreated)))
		lines = append(lines, m.summaryRow("Symbols:", fmt.Sprintf("%d", stats.SymbolsExtracted)))
		lines = append(lines, m.summaryRow("Duration:", formatDuration(stats.Duration)))
		if speed := m.tracker.Speed(); speed.Average > 0 {
			lines = append(lines, m.summaryRow("Avg speed:", fmt.Sprintf("%.0f files/s", speed.Average)))
		}
		if stats.WorkspacesDetected > 0 || stats.ServicesDetected > 0 || stats.EndpointsDetected > 0 {
			lines = append(lines, "")
			lines = append(lines, m.styles.Label.Render(fmt.Sprintf(
				"Workspaces: %d  Services: %d  Endpoints: %d",
				stats.WorkspacesDetected, stats.ServicesDetected, stats.EndpointsDetected)))
		}
		if stats.FilesSkipped > 0 {
			lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("Skipped %d files", stats.FilesSkipped)))
		}
	}

	if len(stats.Errors) > 0 {
		lines = append(lines, "")
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", len(stats.Errors))))
		shown := stats.Errors
		if len(shown) > tuiErrorLines {
			shown = shown[:tuiErrorLines]
		}
		for _, fe := range shown {
			lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("  %s (%s)", fe.File, fe.Stage)))
		}
		if extra := len(stats.Errors) - len(shown); extra > 0 {
			lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("  ... and %d more", extra)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(contentWidth)

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

func (m *indexingModel) summaryRow(label, value string) string {
	return fmt.Sprintf("%s %s",
		m.styles.Label.Render(fmt.Sprintf("%-10s", label)),
		m.styles.Active.Render(value))
}

// truncateFilePath shortens a path to maxLen runes, preferring to keep the
// filename intact.
func truncateFilePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}

	parts := strings.Split(path, "/")
	if len(parts) == 1 {
		if maxLen < 4 {
			return "..."
		}
		return "..." + path[len(path)-maxLen+3:]
	}

	filename := parts[len(parts)-1]
	if len(filename)+4 > maxLen {
		return "..." + filename[len(filename)-maxLen+3:]
	}

	remaining := maxLen - len(filename) - 4
	if remaining <= 0 {
		return ".../" + filename
	}

	prefix := strings.Join(parts[:len(parts)-1], "/")
	if len(prefix) <= remaining {
		return path
	}
	return "..." + prefix[len(prefix)-remaining:] + "/" + filename
}

var _ Renderer = (*TUIRenderer)(nil)
var _ Renderer = (*PlainRenderer)(nil)
