package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/cli/render"
)

// StatsCommand returns the stats command: session counts plus the last
// persisted metrics heartbeat, without talking to the daemon.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show transfer statistics and pipeline counters",
		Flags:  TUIReadOnlyFlags(),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	rd, st, err := openReader(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	report, err := rd.Stats(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats", report)
	}
	return r.Render(report)
}
