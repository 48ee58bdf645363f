package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/ipc"
)

// FeedCommand returns the feed command: forward scan payloads to a
// running daemon over its unix feed socket. This is the bridge a
// scanner wrapper pipes into.
func FeedCommand() *cli.Command {
	return &cli.Command{
		Name:      "feed",
		Usage:     "Forward scan payloads to a running daemon",
		ArgsUsage: "[file ...] (no args or \"-\" reads stdin)",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Daemon feed socket path (overrides config)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source tag attached to forwarded scans",
			},
		},
		Action: feedAction,
	}
}

func feedAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	socket := c.String("socket")
	if socket == "" {
		socket = cfg.Feed.Socket
	}
	if socket == "" {
		return cli.Exit("feed: no socket configured (set feed.socket or pass --socket)", exitFatal)
	}
	source := c.String("source")
	if source == "" {
		source = cfg.Feed.Source
	}

	client, err := ipc.DialFeed(os.ExpandEnv(socket))
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer client.Close()

	send := func(raw string) error {
		return client.SendScan(raw, source)
	}

	if c.NArg() == 0 {
		if err := ipc.FeedLines(c.Context, os.Stdin, send); err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
		return nil
	}
	for _, arg := range c.Args().Slice() {
		if arg == "-" {
			if err := ipc.FeedLines(c.Context, os.Stdin, send); err != nil {
				return cli.Exit(err.Error(), exitFatal)
			}
			continue
		}
		f, err := os.Open(arg)
		if err != nil {
			return cli.Exit(fmt.Sprintf("open input %s: %v", arg, err), exitFatal)
		}
		err = ipc.FeedLines(c.Context, f, send)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
	}
	return nil
}
