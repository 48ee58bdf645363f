package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/adapter"
	"github.com/justapithecus/mosaic/adapter/redis"
	"github.com/justapithecus/mosaic/adapter/webhook"
	"github.com/justapithecus/mosaic/archive"
	"github.com/justapithecus/mosaic/cli/config"
	"github.com/justapithecus/mosaic/format"
	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/metrics"
	"github.com/justapithecus/mosaic/policy"
	"github.com/justapithecus/mosaic/reconstruct"
	"github.com/justapithecus/mosaic/session"
	"github.com/justapithecus/mosaic/store"
)

// loadConfig loads mosaic.yaml named by --config (or defaults) and
// applies flag overrides that are shared across commands. Validation
// runs in the command action, after command-specific overrides landed.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return nil, err
	}
	if db := c.String("db"); db != "" {
		cfg.Store.Backend = "sqlite"
		cfg.Store.Path = db
	}
	return cfg, nil
}

// openStore opens the configured store backend. For SQLite the parent
// directory is created on demand so a fresh install works without a
// setup step.
func openStore(cfg *config.Config, logger *log.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite", "":
		path := os.ExpandEnv(cfg.Store.Path)
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory %s: %w", dir, err)
			}
		}
		return store.OpenSQLite(store.SQLiteConfig{Path: path, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildPolicy constructs the configured persistence policy over the
// store's sink adapter.
func buildPolicy(cfg *config.Config, st store.Store, logger *log.Logger) (policy.Policy, error) {
	sink := store.NewSinkAdapter(st)

	switch cfg.Policy.Name {
	case "strict", "":
		return policy.NewStrictPolicy(sink), nil
	case "noop":
		return policy.NewNoopPolicy(), nil
	case "buffered":
		return policy.NewBufferedPolicy(sink, policy.BufferedConfig{
			MaxBufferRecords: cfg.Policy.BufferRecords,
			MaxBufferBytes:   cfg.Policy.BufferBytes,
			FlushMode:        policy.FlushMode(cfg.Policy.FlushMode),
			Logger:           logger,
		})
	case "streaming":
		return policy.NewStreamingPolicy(sink, policy.StreamingConfig{
			FlushCount:    cfg.Policy.FlushCount,
			FlushInterval: cfg.Policy.FlushInterval.Duration,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown policy %q", cfg.Policy.Name)
	}
}

// buildArchive constructs the archive chain: the output directory sink
// always, plus the optional Lode dataset sink behind it.
func buildArchive(ctx context.Context, cfg *config.Config) (archive.Sink, error) {
	dir, err := archive.NewDirSink(os.ExpandEnv(cfg.Output.Dir))
	if err != nil {
		return nil, err
	}

	lodeCfg := archive.LodeConfig{
		Dataset: cfg.Archive.Dataset,
		Source:  cfg.Archive.Source,
	}

	switch cfg.Archive.Backend {
	case "none", "":
		return dir, nil
	case "lode-fs":
		lode, err := archive.NewLodeSink(lodeCfg, os.ExpandEnv(cfg.Archive.Root))
		if err != nil {
			return nil, err
		}
		return archive.NewMulti(dir, lode), nil
	case "lode-s3":
		lode, err := archive.NewLodeS3Sink(ctx, lodeCfg, archive.S3Config{
			Bucket:       cfg.Archive.Bucket,
			Prefix:       cfg.Archive.Prefix,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return archive.NewMulti(dir, lode), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

// buildAdapters constructs the configured transfer-event adapters. Nil
// means no adapters are configured.
func buildAdapters(cfg *config.Config) (adapter.Adapter, error) {
	if len(cfg.Adapters) == 0 {
		return nil, nil
	}

	adapters := make([]adapter.Adapter, 0, len(cfg.Adapters))
	for i, ac := range cfg.Adapters {
		retries := -1
		if ac.Retries != nil {
			retries = *ac.Retries
		}

		switch ac.Type {
		case "webhook":
			wcfg := webhook.Config{
				URL:     ac.URL,
				Headers: ac.Headers,
				Timeout: ac.Timeout.Duration,
				Retries: webhook.DefaultRetries,
			}
			if retries >= 0 {
				wcfg.Retries = retries
			}
			a, err := webhook.New(wcfg)
			if err != nil {
				return nil, fmt.Errorf("adapters[%d]: %w", i, err)
			}
			adapters = append(adapters, a)
		case "redis":
			rcfg := redis.Config{
				URL:     ac.URL,
				Channel: ac.Channel,
				Timeout: ac.Timeout.Duration,
				Retries: redis.DefaultRetries,
			}
			if retries >= 0 {
				rcfg.Retries = retries
			}
			a, err := redis.New(rcfg)
			if err != nil {
				return nil, fmt.Errorf("adapters[%d]: %w", i, err)
			}
			adapters = append(adapters, a)
		default:
			return nil, fmt.Errorf("adapters[%d]: unknown adapter type %q", i, ac.Type)
		}
	}

	return adapter.NewMulti(adapters...), nil
}

// pipeline bundles the live reconstruction collaborators behind one
// Close. Commands that write (ingest, the daemon) build one of these;
// read-only commands open just the store.
type pipeline struct {
	cfg       *config.Config
	store     store.Store
	policy    policy.Policy
	archive   archive.Sink
	adapters  adapter.Adapter
	collector *metrics.Collector
	coord     *reconstruct.Coordinator
	logger    *log.Logger
}

// buildPipeline wires the full reconstruction pipeline from config.
// The component name scopes the logger.
func buildPipeline(ctx context.Context, cfg *config.Config, component string) (*pipeline, error) {
	logger := log.NewLogger(component)

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pol, err := buildPolicy(cfg, st, logger)
	if err != nil {
		closeQuiet(st)
		return nil, fmt.Errorf("build policy: %w", err)
	}

	sink, err := buildArchive(ctx, cfg)
	if err != nil {
		closeQuiet(pol, st)
		return nil, fmt.Errorf("build archive: %w", err)
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		closeQuiet(sink, pol, st)
		return nil, fmt.Errorf("build adapters: %w", err)
	}

	collector := metrics.NewCollector(policyName(cfg), cfg.Store.Backend, archiveName(cfg))

	coord, err := reconstruct.New(reconstruct.Config{
		Decoder: format.NewDecoder(format.Config{
			StrictBytes: cfg.Decode.Strict,
		}, logger),
		Registry: session.NewRegistry(session.Limits{
			MaxSessions: cfg.Limits.MaxSessions,
			MaxChunks:   cfg.Limits.MaxChunks,
			MaxFileSize: cfg.Limits.MaxFileSize,
		}),
		Store:              st,
		Policy:             pol,
		Archive:            sink,
		Adapters:           adapters,
		Collector:          collector,
		Logger:             logger,
		StaleTimeout:       cfg.Retention.StaleTimeout.Duration,
		CompletedRetention: cfg.Retention.CompletedRetention.Duration,
	})
	if err != nil {
		closeQuiet(adapters, sink, pol, st)
		return nil, err
	}

	return &pipeline{
		cfg:       cfg,
		store:     st,
		policy:    pol,
		archive:   sink,
		adapters:  adapters,
		collector: collector,
		coord:     coord,
		logger:    logger,
	}, nil
}

// Close flushes the policy and releases every collaborator, newest
// first. The first error wins; later closes still run.
func (p *pipeline) Close(ctx context.Context) error {
	var first error
	if err := p.policy.Flush(ctx); err != nil {
		first = err
	}
	for _, c := range []interface{ Close() error }{p.policy, p.archive, p.store} {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if p.adapters != nil {
		if err := p.adapters.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// policyName returns the effective policy name with the default applied.
func policyName(cfg *config.Config) string {
	if cfg.Policy.Name == "" {
		return "strict"
	}
	return cfg.Policy.Name
}

// archiveName returns the effective archive backend name.
func archiveName(cfg *config.Config) string {
	if cfg.Archive.Backend == "" {
		return "none"
	}
	return cfg.Archive.Backend
}

// closeQuiet closes partially built collaborators during construction
// error paths, ignoring close errors.
func closeQuiet(closers ...interface{ Close() error }) {
	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}
