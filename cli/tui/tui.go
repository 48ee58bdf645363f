package tui

import (
	"fmt"

	"github.com/justapithecus/mosaic/cli/reader"
)

// Run starts the appropriate TUI for the view type. Returns an error if
// the view type doesn't support TUI.
func Run(viewType string, data any) error {
	switch viewType {
	case "inspect_session", "missing_chunks":
		return RunInspectTUI(viewType, data)
	case "stats":
		report, ok := data.(*reader.StatsReport)
		if !ok {
			return fmt.Errorf("stats TUI requires a stats report, got %T", data)
		}
		return RunStatsTUI(report)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
}

// IsTUISupported reports whether a view type has a TUI. Only read-only
// views qualify; the watch dashboard has its own entrypoint.
func IsTUISupported(viewType string) bool {
	switch viewType {
	case "inspect_session", "missing_chunks", "stats":
		return true
	default:
		return false
	}
}

// SupportedTUIViews returns the view types that support TUI mode.
func SupportedTUIViews() []string {
	return []string{
		"inspect_session",
		"missing_chunks",
		"stats",
	}
}
