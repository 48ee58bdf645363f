package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/cli/reader"
	"github.com/justapithecus/mosaic/cli/render"
	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/store"
)

// SessionsCommand returns the sessions command group: read-only views
// over tracked transfers, plus prune for retention housekeeping.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect and manage transfer sessions",
		Subcommands: []*cli.Command{
			sessionsListCommand(),
			sessionsInspectCommand(),
			sessionsMissingCommand(),
			sessionsPruneCommand(),
		},
	}
}

func sessionsListCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		&cli.StringFlag{
			Name:  "status",
			Usage: "Filter by status: active, completing, completed, failed",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of sessions to show",
		},
	)
	return &cli.Command{
		Name:   "list",
		Usage:  "List tracked sessions, newest activity first",
		Flags:  flags,
		Action: sessionsListAction,
	}
}

func sessionsListAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for sessions list", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	rd, st, err := openReader(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	items, err := rd.ListSessions(c.Context, reader.ListOptions{
		Status: c.String("status"),
		Limit:  c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(items)
}

func sessionsInspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the full state of one session",
		ArgsUsage: "<session-id>",
		Flags:     TUIReadOnlyFlags(),
		Action:    sessionsInspectAction,
	}
}

func sessionsInspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("sessions inspect requires exactly one session id", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	rd, st, err := openReader(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	detail, err := rd.InspectSession(c.Context, c.Args().First())
	if err != nil {
		if store.IsNotFound(err) {
			return cli.Exit(fmt.Sprintf("session not found: %s", c.Args().First()), 1)
		}
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_session", detail)
	}
	return r.Render(detail)
}

func sessionsMissingCommand() *cli.Command {
	return &cli.Command{
		Name:      "missing",
		Usage:     "Show the missing chunk indices for one session",
		ArgsUsage: "<session-id>",
		Flags:     TUIReadOnlyFlags(),
		Action:    sessionsMissingAction,
	}
}

func sessionsMissingAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("sessions missing requires exactly one session id", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	rd, st, err := openReader(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	report, err := rd.MissingChunks(c.Context, c.Args().First())
	if err != nil {
		if store.IsNotFound(err) {
			return cli.Exit(fmt.Sprintf("session not found: %s", c.Args().First()), 1)
		}
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("missing_chunks", report)
	}
	return r.Render(report)
}

// PruneResult reports what a prune removed.
type PruneResult struct {
	Pruned []string `json:"pruned"`
	Cutoff string   `json:"cutoff"`
}

func sessionsPruneCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		&cli.DurationFlag{
			Name:  "older",
			Usage: "Prune terminal sessions idle longer than this (default: retention.completed_retention)",
		},
	)
	return &cli.Command{
		Name:   "prune",
		Usage:  "Delete terminal sessions past the retention window",
		Flags:  flags,
		Action: sessionsPruneAction,
	}
}

func sessionsPruneAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for sessions prune", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	age := c.Duration("older")
	if age <= 0 {
		age = cfg.Retention.CompletedRetention.Duration
	}
	cutoff := time.Now().Add(-age)

	st, err := openStore(cfg, log.NewLogger("cli"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	records, err := st.ListSessions(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	result := &PruneResult{
		Pruned: []string{},
		Cutoff: cutoff.UTC().Format(time.RFC3339),
	}
	for _, rec := range records {
		if !rec.Status.IsTerminal() || rec.UpdatedAt.After(cutoff) {
			continue
		}
		if err := st.DeleteSession(c.Context, rec.SessionID); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		result.Pruned = append(result.Pruned, rec.SessionID)
	}

	return r.Render(result)
}

// openReader loads config and opens the store behind a read-side
// Reader. The caller closes the returned store.
func openReader(c *cli.Context) (*reader.StoreReader, store.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	st, err := openStore(cfg, log.NewLogger("cli"))
	if err != nil {
		return nil, nil, err
	}
	return reader.NewStoreReader(st), st, nil
}
