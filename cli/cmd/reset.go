package cmd

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/cli/render"
	"github.com/justapithecus/mosaic/ipc"
	"github.com/justapithecus/mosaic/log"
)

// ResetResult reports which sessions a reset discarded.
type ResetResult struct {
	Reset []string `json:"reset"`
}

// ResetCommand returns the reset command: discard sessions and their
// stored chunks. With --socket the reset goes through the running
// daemon so its in-memory state is cleared too; without it the store is
// edited directly, which is only safe while no daemon is running.
func ResetCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "Discard sessions and their stored chunks",
		ArgsUsage: "<session-id> [session-id ...]",
		Flags: []cli.Flag{
			ConfigFlag,
			DBFlag,
			FormatFlag,
			NoColorFlag,
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Send resets through the daemon feed socket instead of the store",
			},
		},
		Action: resetAction,
	}
}

func resetAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("reset requires at least one session id", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ids := c.Args().Slice()

	if socket := c.String("socket"); socket != "" {
		client, err := ipc.DialFeed(os.ExpandEnv(socket))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer client.Close()

		for _, id := range ids {
			if err := client.SendReset(id); err != nil {
				return cli.Exit(err.Error(), 1)
			}
		}
		return r.Render(&ResetResult{Reset: ids})
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	st, err := openStore(cfg, log.NewLogger("cli"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	for _, id := range ids {
		if err := st.DeleteSession(c.Context, id); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}
	return r.Render(&ResetResult{Reset: ids})
}
