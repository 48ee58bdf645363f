package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/mosaic/cli/reader"
)

// DefaultWatchInterval is the dashboard refresh period.
const DefaultWatchInterval = 2 * time.Second

// tickMsg fires a refresh.
type tickMsg time.Time

// refreshMsg carries one round of freshly loaded data.
type refreshMsg struct {
	items []reader.SessionItem
	stats *reader.StatsReport
	err   error
}

// WatchModel is the live transfer dashboard: session rows with progress
// bars plus the aggregate counters, refreshed on a timer.
type WatchModel struct {
	ctx      context.Context
	reader   reader.Reader
	interval time.Duration

	items     []reader.SessionItem
	stats     *reader.StatsReport
	err       error
	updatedAt time.Time

	width    int
	height   int
	quitting bool
}

// NewWatchModel creates a watch model. Interval <= 0 uses the default.
func NewWatchModel(ctx context.Context, r reader.Reader, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return WatchModel{
		ctx:      ctx,
		reader:   r,
		interval: interval,
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())

	case refreshMsg:
		m.items = msg.items
		m.stats = msg.stats
		m.err = msg.err
		m.updatedAt = time.Now()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.load()
		}
	}

	return m, nil
}

// load reads one round of dashboard data.
func (m WatchModel) load() tea.Cmd {
	return func() tea.Msg {
		items, err := m.reader.ListSessions(m.ctx, reader.ListOptions{})
		if err != nil {
			return refreshMsg{err: err}
		}
		stats, err := m.reader.Stats(m.ctx)
		if err != nil {
			return refreshMsg{items: items, err: err}
		}
		return refreshMsg{items: items, stats: stats}
	}
}

func (m WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("mosaic — live transfers"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n\n")
	}

	if m.stats != nil {
		b.WriteString(renderSessionBoxes(m.stats.Sessions))
		b.WriteString("\n\n")
	}

	b.WriteString(m.renderSessionRows())

	footer := fmt.Sprintf("refresh %s · updated %s · r refresh · q quit",
		m.interval, m.updatedAt.Format("15:04:05"))
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(footer))
	return b.String()
}

func (m WatchModel) renderSessionRows() string {
	if len(m.items) == 0 {
		return HelpStyle.Render("(no sessions)")
	}

	var b strings.Builder
	for _, item := range m.items {
		name := item.Filename
		if name == "" {
			name = item.SessionID
		}
		name = truncate(name, 28)

		ratio := chunkRatio(item.Received, item.Total)
		row := fmt.Sprintf("%s %s %s %s",
			lipgloss.NewStyle().Width(30).Render(name),
			ProgressBar(ratio, 20),
			lipgloss.NewStyle().Width(22).Render(chunkFraction(item.Received, item.Total)),
			StateStyle(item.Status).Render(item.Status))
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}

// truncate shortens s to at most n runes with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// RunWatchTUI runs the live dashboard until the user quits or ctx is
// canceled.
func RunWatchTUI(ctx context.Context, r reader.Reader, interval time.Duration) error {
	model := NewWatchModel(ctx, r, interval)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
