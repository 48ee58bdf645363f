package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/mosaic/cli/reader"
)

// StatsModel is a Bubble Tea model for the stats view.
type StatsModel struct {
	data     *reader.StatsReport
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(data *reader.StatsReport) StatsModel {
	return StatsModel{data: data}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	if m.data == nil {
		return "No stats available"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Transfer Statistics"))
	b.WriteString("\n\n")
	b.WriteString(renderSessionBoxes(m.data.Sessions))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Bytes:"),
		ValueStyle.Render(formatBytes(m.data.BytesReceived))))

	if m.data.Metrics != nil {
		b.WriteString("\n")
		b.WriteString(renderMetricsSection(m.data.Metrics))
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

// renderSessionBoxes renders the session count boxes row.
func renderSessionBoxes(counts reader.SessionCounts) string {
	boxes := []string{
		renderStatBox("Total", int64(counts.Total), highlightColor),
		renderStatBox("Active", int64(counts.Active), warningColor),
		renderStatBox("Completed", int64(counts.Completed), successColor),
		renderStatBox("Failed", int64(counts.Failed), errorColor),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

// renderMetricsSection renders the heartbeat counters below the boxes.
func renderMetricsSection(view *reader.MetricsView) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Daemon Counters"))
	b.WriteString("\n")

	rows := [][2]string{
		{"Scans", fmt.Sprintf("%d (%d decoded, %d failed)",
			view.ScansTotal, view.ScansDecoded, view.DecodeFailed)},
		{"Chunks", fmt.Sprintf("%d new, %d duplicate, %d persisted",
			view.ChunksNew, view.ChunksDuplicate, view.ChunksPersisted)},
		{"Verify", fmt.Sprintf("%d ok, %d failed", view.VerifySuccess, view.VerifyFailure)},
		{"Policy", view.Policy},
		{"Store", view.StoreBackend},
		{"Heartbeat", view.At.Format("2006-01-02 15:04:05")},
	}
	if view.ArchiveBackend != "" && view.ArchiveBackend != "none" {
		rows = append(rows, [2]string{"Archive", view.ArchiveBackend})
	}

	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render(row[0]+":"),
			ValueStyle.Render(row[1])))
	}
	return b.String()
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(data *reader.StatsReport) error {
	model := NewStatsModel(data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats without full TUI (for tests and
// fallback).
func RenderStatsStatic(data *reader.StatsReport) string {
	model := NewStatsModel(data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
