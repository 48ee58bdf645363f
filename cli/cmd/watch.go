package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/cli/tui"
)

// WatchCommand returns the watch command: a live full-screen dashboard
// over the store, refreshed on a timer. Watch is always a TUI; there is
// no plain rendering mode.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch live transfer progress in a dashboard",
		Flags: []cli.Flag{
			ConfigFlag,
			DBFlag,
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"n"},
				Usage:   "Refresh interval",
				Value:   tui.DefaultWatchInterval,
			},
		},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	rd, st, err := openReader(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	interval := c.Duration("interval")
	if interval <= 0 {
		interval = tui.DefaultWatchInterval
	}
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	return tui.RunWatchTUI(c.Context, rd, interval)
}
