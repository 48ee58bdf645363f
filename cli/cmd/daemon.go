package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/ipc"
	"github.com/justapithecus/mosaic/spool"
	"github.com/justapithecus/mosaic/store"
)

// DefaultFeedSocket is the daemon feed socket path when neither config
// nor flags name one.
const DefaultFeedSocket = "${HOME}/.mosaic/feed.sock"

// DefaultHeartbeatInterval is how often the daemon persists a metrics
// snapshot for the read-only commands.
const DefaultHeartbeatInterval = 30 * time.Second

// DaemonCommand returns the serve command: the long-running daemon that
// accepts scans over the feed socket (and optionally a spool directory),
// reconstructs transfers, and sweeps retention on a ticker.
func DaemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the reconstruction daemon",
		Flags: []cli.Flag{
			ConfigFlag,
			DBFlag,
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Feed socket path (overrides config)",
			},
			&cli.StringFlag{
				Name:  "spool",
				Usage: "Spool directory to watch for scan files (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "stdin",
				Usage: "Also read newline-delimited scans from stdin",
			},
			&cli.DurationFlag{
				Name:  "heartbeat",
				Usage: "Metrics heartbeat interval",
				Value: DefaultHeartbeatInterval,
			},
		},
		Action: daemonAction,
	}
}

func daemonAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if v := c.String("socket"); v != "" {
		cfg.Feed.Socket = v
	}
	if v := c.String("spool"); v != "" {
		cfg.Feed.SpoolDir = v
	}
	if cfg.Feed.Socket == "" {
		cfg.Feed.Socket = DefaultFeedSocket
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	p, err := buildPipeline(c.Context, cfg, "mosaicd")
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() {
		if err := p.Close(context.Background()); err != nil {
			p.logger.Warn("pipeline close failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	restored, err := p.coord.Recover(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if restored > 0 {
		p.logger.Info("sessions restored from store", map[string]any{
			"count": restored,
		})
	}

	socket := os.ExpandEnv(cfg.Feed.Socket)
	if dir := filepath.Dir(socket); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return cli.Exit(fmt.Sprintf("create socket directory %s: %v", dir, err), 1)
		}
	}
	server, err := ipc.NewFeedServer(socket, p.coord, p.logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx)
	}()
	p.logger.Info("daemon listening", map[string]any{
		"socket": socket,
	})

	ingest := func(ctx context.Context, raw string) error {
		_, _ = p.coord.IngestScan(ctx, raw)
		return ctx.Err()
	}

	if cfg.Feed.SpoolDir != "" {
		watcher, err := spool.New(spool.Config{
			Dir: os.ExpandEnv(cfg.Feed.SpoolDir),
		}, ingest, p.logger)
		if err != nil {
			cancel()
			<-errCh
			return cli.Exit(err.Error(), 1)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("spool watcher stopped", map[string]any{
					"error": err.Error(),
				})
			}
		}()
	}

	if c.Bool("stdin") {
		go func() {
			err := ipc.FeedLines(ctx, os.Stdin, func(raw string) error {
				return ingest(ctx, raw)
			})
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("stdin feed stopped", map[string]any{
					"error": err.Error(),
				})
			}
		}()
	}

	go retentionLoop(ctx, p)
	go heartbeatLoop(ctx, p, c.Duration("heartbeat"))

	// Serve returns nil on orderly shutdown (ctx cancel / signal).
	if err := <-errCh; err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

// retentionLoop sweeps stale and expired sessions on the configured
// interval until ctx is canceled.
func retentionLoop(ctx context.Context, p *pipeline) {
	interval := p.cfg.Retention.SweepInterval.Duration
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			result, err := p.coord.SweepRetention(ctx, now)
			if err != nil {
				p.logger.Warn("retention sweep failed", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			if len(result.Expired) > 0 || len(result.Purged) > 0 {
				p.logger.Info("retention sweep", map[string]any{
					"expired": len(result.Expired),
					"purged":  len(result.Purged),
				})
			}
		}
	}
}

// heartbeatLoop persists a metrics snapshot so sessions/stats commands
// can report counters without talking to the daemon.
func heartbeatLoop(ctx context.Context, p *pipeline, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := p.collector.Snapshot()
			payload, err := json.Marshal(snap)
			if err != nil {
				p.logger.Warn("metrics snapshot marshal failed", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			if err := p.store.PutMetrics(ctx, &store.MetricsSnapshot{
				At:      now.UTC(),
				Payload: payload,
			}); err != nil {
				p.logger.Warn("metrics heartbeat not persisted", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}
