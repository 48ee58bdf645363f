package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/mosaic/cli/reader"
)

// InspectModel is a Bubble Tea model for the session detail view.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_session":
		content = m.renderSessionDetail()
	case "missing_chunks":
		content = m.renderMissingReport()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderSessionDetail() string {
	data, ok := m.data.(*reader.SessionDetail)
	if !ok {
		return "Invalid data type for inspect_session"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Details"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Session ID", data.SessionID},
		{"Status", data.Status},
		{"Protocol", data.Protocol},
	}
	if data.Filename != "" {
		rows = append(rows, []string{"Filename", data.Filename})
	}
	if data.Checksum != "" {
		rows = append(rows, []string{"Checksum", data.Checksum})
	}
	if data.DeclaredSize > 0 {
		rows = append(rows, []string{"Declared Size", formatBytes(data.DeclaredSize)})
	}
	rows = append(rows,
		[]string{"Received", formatBytes(data.BytesReceived)},
		[]string{"Created At", data.CreatedAt.Format("2006-01-02 15:04:05")},
		[]string{"Updated At", data.UpdatedAt.Format("2006-01-02 15:04:05")},
	)

	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		if row[0] == "Status" {
			value = StateStyle(data.Status).Render(value)
		} else {
			value = ValueStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s %s\n",
		LabelStyle.Render("Progress:"),
		ProgressBar(chunkRatio(data.Received, data.Total), 24),
		ValueStyle.Render(chunkFraction(data.Received, data.Total))))

	if len(data.Missing) > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Missing:"),
			ErrorStyle.Render(summarizeIndices(data.Missing, 12))))
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderMissingReport() string {
	data, ok := m.data.(*reader.MissingReport)
	if !ok {
		return "Invalid data type for missing_chunks"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Missing Chunks"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Session ID:"),
		ValueStyle.Render(data.SessionID)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Received:"),
		ValueStyle.Render(chunkFraction(data.Received, data.Total))))

	switch {
	case data.Total <= 0:
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Missing:"),
			WarningStyle.Render("total not yet declared")))
	case len(data.Missing) == 0:
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Missing:"),
			SuccessStyle.Render("none")))
	default:
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Missing:"),
			ErrorStyle.Render(summarizeIndices(data.Missing, 20))))
	}

	return BoxStyle.Render(b.String())
}

// chunkRatio is received/total, -1 while the total is unknown.
func chunkRatio(received, total int) float64 {
	if total <= 0 {
		return -1
	}
	return float64(received) / float64(total)
}

// chunkFraction renders "n/m chunks", or "n chunks (total unknown)".
func chunkFraction(received, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%d chunks (total unknown)", received)
	}
	return fmt.Sprintf("%d/%d chunks", received, total)
}

// summarizeIndices joins up to limit indices, eliding the rest.
func summarizeIndices(indices []int, limit int) string {
	parts := make([]string, 0, limit+1)
	for i, idx := range indices {
		if i == limit {
			parts = append(parts, fmt.Sprintf("… (+%d more)", len(indices)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("%d", idx))
	}
	return strings.Join(parts, ", ")
}

// keyMap defines key bindings.
type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for tests
// and fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
