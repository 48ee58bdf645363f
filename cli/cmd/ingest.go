package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/cli/config"
	"github.com/justapithecus/mosaic/cli/render"
	"github.com/justapithecus/mosaic/ipc"
	"github.com/justapithecus/mosaic/reconstruct"
)

// Exit codes for ingest.
const (
	// exitComplete: every touched session reached completed.
	exitComplete = 0
	// exitIncomplete: at least one session is still waiting for chunks.
	exitIncomplete = 1
	// exitSessionFailed: at least one session failed.
	exitSessionFailed = 2
	// exitFatal: the pipeline itself could not run (store, input).
	exitFatal = 3
)

// IngestCommand returns the ingest command: batch-process scan payloads
// from files or stdin through the full reconstruction pipeline.
func IngestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Ingest scan payloads from files or stdin",
		ArgsUsage: "[file ...] (no args or \"-\" reads stdin)",
		Flags: []cli.Flag{
			ConfigFlag,
			DBFlag,
			FormatFlag,
			NoColorFlag,
			&cli.StringFlag{
				Name:  "store",
				Usage: "Store backend: sqlite, memory (overrides config)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Persistence policy: strict, buffered, streaming, noop",
			},
			&cli.StringFlag{
				Name:  "flush-mode",
				Usage: "Buffered flush mode: at_least_once, chunks_first, two_phase",
			},
			&cli.IntFlag{
				Name:  "buffer-records",
				Usage: "Buffered policy record cap",
			},
			&cli.Int64Flag{
				Name:  "buffer-bytes",
				Usage: "Buffered policy byte cap",
			},
			&cli.IntFlag{
				Name:  "flush-count",
				Usage: "Streaming policy flush record count",
			},
			&cli.DurationFlag{
				Name:  "flush-interval",
				Usage: "Streaming policy flush interval",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Assembled file output directory (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Reject scans with malformed payload encoding",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON ingest report to this path (\"-\" for stderr)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress the rendered summary on stdout",
			},
		},
		Action: ingestAction,
	}
}

func ingestAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	applyIngestOverrides(c, cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	p, err := buildPipeline(c.Context, cfg, "ingest")
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer func() {
		if err := p.Close(c.Context); err != nil {
			p.logger.Warn("pipeline close failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	if _, err := p.coord.Recover(c.Context); err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	start := time.Now()
	if err := feedInputs(c, p); err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	report := p.coord.BuildIngestReport(policyName(cfg), time.Since(start))

	if path := c.String("report"); path != "" {
		if err := reconstruct.WriteIngestReport(report, path); err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
	}

	if !c.Bool("quiet") {
		if err := r.Render(report); err != nil {
			return cli.Exit(err.Error(), exitFatal)
		}
	}

	return cli.Exit("", ingestExitCode(report))
}

// applyIngestOverrides folds ingest flags over the loaded config.
func applyIngestOverrides(c *cli.Context, cfg *config.Config) {
	if v := c.String("store"); v != "" {
		cfg.Store.Backend = v
	}
	if v := c.String("policy"); v != "" {
		cfg.Policy.Name = v
	}
	if v := c.String("flush-mode"); v != "" {
		cfg.Policy.FlushMode = v
	}
	if v := c.Int("buffer-records"); v > 0 {
		cfg.Policy.BufferRecords = v
	}
	if v := c.Int64("buffer-bytes"); v > 0 {
		cfg.Policy.BufferBytes = v
	}
	if v := c.Int("flush-count"); v > 0 {
		cfg.Policy.FlushCount = v
	}
	if v := c.Duration("flush-interval"); v > 0 {
		cfg.Policy.FlushInterval.Duration = v
	}
	if v := c.String("output"); v != "" {
		cfg.Output.Dir = v
	}
	if c.Bool("strict") {
		cfg.Decode.Strict = true
	}
}

// feedInputs streams every input source through the coordinator.
// Scan-level failures (bad scans, dropped chunks, failed sessions) are
// absorbed here; they are already logged and land in the report. Only
// input read errors propagate.
func feedInputs(c *cli.Context, p *pipeline) error {
	ingest := func(raw string) error {
		_, _ = p.coord.IngestScan(c.Context, raw)
		return c.Context.Err()
	}

	if c.NArg() == 0 {
		return ipc.FeedLines(c.Context, os.Stdin, ingest)
	}
	for _, arg := range c.Args().Slice() {
		if arg == "-" {
			if err := ipc.FeedLines(c.Context, os.Stdin, ingest); err != nil {
				return err
			}
			continue
		}
		f, err := os.Open(arg)
		if err != nil {
			return fmt.Errorf("open input %s: %w", arg, err)
		}
		err = ipc.FeedLines(c.Context, f, ingest)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ingestExitCode maps the final session states onto the exit code.
// Failure dominates incompleteness.
func ingestExitCode(report *reconstruct.IngestReport) int {
	switch {
	case report.Failed > 0:
		return exitSessionFailed
	case report.Incomplete > 0:
		return exitIncomplete
	default:
		return exitComplete
	}
}
