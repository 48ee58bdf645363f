package config

import (
	"fmt"
	"time"
)

// Defaults applied by DefaultConfig.
const (
	DefaultMaxFileSize        = 500 << 20
	DefaultMaxChunks          = 10000
	DefaultMaxSessions        = 10
	DefaultStaleTimeout       = 30 * time.Minute
	DefaultCompletedRetention = 168 * time.Hour
	DefaultSweepInterval      = 60 * time.Second
	DefaultStorePath          = "${HOME}/.mosaic/mosaic.db"
	DefaultOutputDir          = "./received"
)

// Config represents a mosaic.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Policy    PolicyConfig    `yaml:"policy"`
	Limits    LimitsConfig    `yaml:"limits"`
	Retention RetentionConfig `yaml:"retention"`
	Output    OutputConfig    `yaml:"output"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Adapters  []AdapterConfig `yaml:"adapters"`
	Feed      FeedConfig      `yaml:"feed"`
	Decode    DecodeConfig    `yaml:"decode"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig selects and tunes the chunk store backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "memory".
	Backend string `yaml:"backend"`
	// Path is the SQLite database file. Supports ${VAR} expansion.
	Path string `yaml:"path"`
}

// PolicyConfig selects the persistence policy.
type PolicyConfig struct {
	// Name is "strict" (default), "buffered", "streaming", or "noop".
	Name string `yaml:"name"`
	// BufferRecords caps the buffered policy's record count.
	BufferRecords int `yaml:"buffer_records"`
	// BufferBytes caps the buffered policy's estimated byte size.
	BufferBytes int64 `yaml:"buffer_bytes"`
	// FlushMode is at_least_once, chunks_first, or two_phase.
	FlushMode string `yaml:"flush_mode"`
	// FlushCount triggers a streaming flush after N records.
	FlushCount int `yaml:"flush_count"`
	// FlushInterval triggers a streaming flush on a timer.
	FlushInterval Duration `yaml:"flush_interval"`
}

// LimitsConfig bounds what a transfer may declare.
type LimitsConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"`
	MaxChunks   int   `yaml:"max_chunks"`
	MaxSessions int   `yaml:"max_sessions"`
}

// RetentionConfig tunes session eviction and purging.
type RetentionConfig struct {
	// StaleTimeout evicts incomplete sessions idle this long.
	StaleTimeout Duration `yaml:"stale_timeout"`
	// CompletedRetention purges terminal sessions older than this.
	CompletedRetention Duration `yaml:"completed_retention"`
	// SweepInterval is the daemon's retention ticker period.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// OutputConfig names the assembled-file output directory.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// ArchiveConfig selects an optional dataset archive alongside the
// output directory.
type ArchiveConfig struct {
	// Backend is "none" (default), "lode-fs", or "lode-s3".
	Backend string `yaml:"backend"`
	// Dataset is the Lode dataset ID.
	Dataset string `yaml:"dataset"`
	// Source is the partition key naming this scanner site.
	Source string `yaml:"source"`
	// Root is the filesystem root for lode-fs.
	Root string `yaml:"root"`
	// Bucket/Prefix locate lode-s3 storage.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	// Region, Endpoint, S3PathStyle tune the S3 client.
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig defines one transfer-event destination.
type AdapterConfig struct {
	// Type is "webhook" or "redis".
	Type string `yaml:"type"`
	// URL is the webhook endpoint or redis URL.
	URL string `yaml:"url"`
	// Channel overrides the redis publish channel.
	Channel string `yaml:"channel,omitempty"`
	// Headers are added to webhook requests.
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	// Retries overrides the attempt count; nil keeps the default.
	Retries *int `yaml:"retries,omitempty"`
}

// FeedConfig tunes the daemon's intake surfaces.
type FeedConfig struct {
	// Socket is the unix socket path for framed scan feeds.
	Socket string `yaml:"socket"`
	// SpoolDir enables the drop-directory watcher when set.
	SpoolDir string `yaml:"spool_dir"`
	// Source tags scans forwarded by `mosaic feed`.
	Source string `yaml:"source"`
}

// DecodeConfig tunes the format decoder.
type DecodeConfig struct {
	// Strict rejects scans with broken base64/hex payloads instead of
	// degrading them to empty payloads.
	Strict bool `yaml:"strict"`
}

// LogConfig tunes logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// DefaultConfig returns the built-in defaults. Load starts from this
// and lets the file override.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    DefaultStorePath,
		},
		Policy: PolicyConfig{
			Name: "strict",
		},
		Limits: LimitsConfig{
			MaxFileSize: DefaultMaxFileSize,
			MaxChunks:   DefaultMaxChunks,
			MaxSessions: DefaultMaxSessions,
		},
		Retention: RetentionConfig{
			StaleTimeout:       Duration{DefaultStaleTimeout},
			CompletedRetention: Duration{DefaultCompletedRetention},
			SweepInterval:      Duration{DefaultSweepInterval},
		},
		Output: OutputConfig{
			Dir: DefaultOutputDir,
		},
		Archive: ArchiveConfig{
			Backend: "none",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks cross-field consistency. It runs after flag merging,
// so values here are final.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite backend requires a path")
		}
	case "memory":
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	switch c.Policy.Name {
	case "strict", "noop", "":
	case "buffered":
		if c.Policy.BufferRecords <= 0 && c.Policy.BufferBytes <= 0 {
			return fmt.Errorf("policy: buffered requires buffer_records or buffer_bytes")
		}
	case "streaming":
		if c.Policy.FlushCount <= 0 && c.Policy.FlushInterval.Duration <= 0 {
			return fmt.Errorf("policy: streaming requires flush_count or flush_interval")
		}
	default:
		return fmt.Errorf("policy: unknown policy %q", c.Policy.Name)
	}

	switch c.Archive.Backend {
	case "none", "":
	case "lode-fs":
		if c.Archive.Root == "" {
			return fmt.Errorf("archive: lode-fs requires a root")
		}
		if c.Archive.Source == "" {
			return fmt.Errorf("archive: lode backends require a source")
		}
	case "lode-s3":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive: lode-s3 requires a bucket")
		}
		if c.Archive.Source == "" {
			return fmt.Errorf("archive: lode backends require a source")
		}
	default:
		return fmt.Errorf("archive: unknown backend %q", c.Archive.Backend)
	}

	for i, a := range c.Adapters {
		switch a.Type {
		case "webhook", "redis":
			if a.URL == "" {
				return fmt.Errorf("adapters[%d]: %s adapter requires a url", i, a.Type)
			}
		default:
			return fmt.Errorf("adapters[%d]: unknown adapter type %q", i, a.Type)
		}
	}

	if c.Limits.MaxFileSize < 0 || c.Limits.MaxChunks < 0 || c.Limits.MaxSessions < 0 {
		return fmt.Errorf("limits: values must be >= 0")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}

	return nil
}
