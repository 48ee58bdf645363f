package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/archive"
	"github.com/justapithecus/mosaic/cli/config"
	"github.com/justapithecus/mosaic/policy"
	"github.com/justapithecus/mosaic/reconstruct"
	"github.com/justapithecus/mosaic/store"
)

// newTestApp wraps commands in an app whose exit handler does not call
// os.Exit, so tests can inspect the returned error instead.
func newTestApp(commands ...*cli.Command) *cli.App {
	return &cli.App{
		Name:           "mosaic",
		Commands:       commands,
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// exitCode extracts the cli.ExitCoder code from an action error.
// nil means success (0); a non-exit error reports -1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}

// writeConfig writes a memory-backed test config and returns its path.
func writeConfig(t *testing.T, outDir string) string {
	t.Helper()
	content := "store:\n  backend: memory\noutput:\n  dir: " + outDir + "\n"
	path := filepath.Join(t.TempDir(), "mosaic.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scans.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestIngest_CompleteTransfer(t *testing.T) {
	outDir := t.TempDir()
	cfgPath := writeConfig(t, outDir)
	input := writeLines(t,
		"FILE:1:2:s1:QQ==", // "A"
		"FILE:2:2:s1:Qg==", // "B"
	)

	app := newTestApp(IngestCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "ingest", "--config", cfgPath, "--quiet", input})
	if got := exitCode(err); got != exitComplete {
		t.Fatalf("exit code = %d, want %d (err=%v)", got, exitComplete, err)
	}

	// The FILE: grammar declares no filename; the assembled file falls
	// back to <session>.bin.
	data, err := os.ReadFile(filepath.Join(outDir, "s1.bin"))
	if err != nil {
		t.Fatalf("assembled file missing: %v", err)
	}
	if string(data) != "AB" {
		t.Errorf("assembled bytes = %q, want %q", data, "AB")
	}
}

func TestIngest_IncompleteTransfer(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	input := writeLines(t, "FILE:1:3:s2:QQ==")

	app := newTestApp(IngestCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "ingest", "--config", cfgPath, "--quiet", input})
	if got := exitCode(err); got != exitIncomplete {
		t.Fatalf("exit code = %d, want %d (err=%v)", got, exitIncomplete, err)
	}
}

func TestIngest_MissingInputFile(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	app := newTestApp(IngestCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "ingest", "--config", cfgPath, "--quiet", "/nonexistent/scans.txt"})
	if got := exitCode(err); got != exitFatal {
		t.Fatalf("exit code = %d, want %d (err=%v)", got, exitFatal, err)
	}
}

func TestIngest_ReportWritten(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	input := writeLines(t, "FILE:1:1:s3:QQ==")
	reportPath := filepath.Join(t.TempDir(), "report.json")

	app := newTestApp(IngestCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "ingest", "--config", cfgPath, "--quiet",
			"--report", reportPath, input})
	if got := exitCode(err); got != exitComplete {
		t.Fatalf("exit code = %d, want %d (err=%v)", got, exitComplete, err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var report reconstruct.IngestReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report not valid JSON: %v", err)
	}
	if report.Completed != 1 {
		t.Errorf("report completed = %d, want 1", report.Completed)
	}
	if report.Scans == nil || report.Scans.Total != 1 {
		t.Errorf("report scans = %+v, want total 1", report.Scans)
	}
}

func TestIngestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		report *reconstruct.IngestReport
		want   int
	}{
		{"all complete", &reconstruct.IngestReport{Completed: 2}, exitComplete},
		{"incomplete", &reconstruct.IngestReport{Completed: 1, Incomplete: 1}, exitIncomplete},
		{"failed", &reconstruct.IngestReport{Completed: 1, Failed: 1}, exitSessionFailed},
		{"failed beats incomplete", &reconstruct.IngestReport{Incomplete: 1, Failed: 1}, exitSessionFailed},
		{"empty", &reconstruct.IngestReport{}, exitComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ingestExitCode(tt.report); got != tt.want {
				t.Errorf("ingestExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestApplyIngestOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	app := &cli.App{
		Flags: IngestCommand().Flags,
		Action: func(c *cli.Context) error {
			applyIngestOverrides(c, cfg)
			return nil
		},
	}
	err := app.Run([]string{"mosaic",
		"--store", "memory",
		"--policy", "buffered",
		"--flush-mode", "chunks_first",
		"--buffer-records", "500",
		"--output", "/tmp/out",
		"--strict",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if cfg.Store.Backend != "memory" {
		t.Errorf("store backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Policy.Name != "buffered" || cfg.Policy.FlushMode != "chunks_first" {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if cfg.Policy.BufferRecords != 500 {
		t.Errorf("buffer records = %d, want 500", cfg.Policy.BufferRecords)
	}
	if cfg.Output.Dir != "/tmp/out" {
		t.Errorf("output dir = %q", cfg.Output.Dir)
	}
	if !cfg.Decode.Strict {
		t.Error("strict not applied")
	}
}

func TestOpenStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Store.Backend = "memory"
		st, err := openStore(cfg, nil)
		if err != nil {
			t.Fatalf("openStore: %v", err)
		}
		defer st.Close()
		if _, ok := st.(*store.Memory); !ok {
			t.Errorf("backend = %T, want *store.Memory", st)
		}
	})

	t.Run("sqlite creates parent dir", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Store.Path = filepath.Join(t.TempDir(), "nested", "mosaic.db")
		st, err := openStore(cfg, nil)
		if err != nil {
			t.Fatalf("openStore: %v", err)
		}
		defer st.Close()
		if _, err := os.Stat(filepath.Dir(cfg.Store.Path)); err != nil {
			t.Errorf("parent dir not created: %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Store.Backend = "etcd"
		if _, err := openStore(cfg, nil); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}

func TestBuildPolicy(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		want    string
		wantErr bool
	}{
		{"default strict", func(c *config.Config) { c.Policy.Name = "" }, "*policy.StrictPolicy", false},
		{"noop", func(c *config.Config) { c.Policy.Name = "noop" }, "*policy.NoopPolicy", false},
		{"buffered", func(c *config.Config) {
			c.Policy.Name = "buffered"
			c.Policy.BufferRecords = 100
		}, "*policy.BufferedPolicy", false},
		{"streaming", func(c *config.Config) {
			c.Policy.Name = "streaming"
			c.Policy.FlushCount = 10
		}, "*policy.StreamingPolicy", false},
		{"buffered without bounds", func(c *config.Config) {
			c.Policy.Name = "buffered"
		}, "", true},
		{"unknown", func(c *config.Config) { c.Policy.Name = "eventual" }, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)
			p, err := buildPolicy(cfg, st, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildPolicy error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer p.Close()
			var got string
			switch p.(type) {
			case *policy.StrictPolicy:
				got = "*policy.StrictPolicy"
			case *policy.NoopPolicy:
				got = "*policy.NoopPolicy"
			case *policy.BufferedPolicy:
				got = "*policy.BufferedPolicy"
			case *policy.StreamingPolicy:
				got = "*policy.StreamingPolicy"
			}
			if got != tt.want {
				t.Errorf("policy type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildArchive(t *testing.T) {
	t.Run("none is dir only", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Output.Dir = t.TempDir()
		sink, err := buildArchive(t.Context(), cfg)
		if err != nil {
			t.Fatalf("buildArchive: %v", err)
		}
		defer sink.Close()
		if _, ok := sink.(*archive.DirSink); !ok {
			t.Errorf("sink = %T, want *archive.DirSink", sink)
		}
	})

	t.Run("lode-fs chains dir and lode", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Output.Dir = t.TempDir()
		cfg.Archive.Backend = "lode-fs"
		cfg.Archive.Source = "scanner-1"
		cfg.Archive.Root = t.TempDir()
		sink, err := buildArchive(t.Context(), cfg)
		if err != nil {
			t.Fatalf("buildArchive: %v", err)
		}
		defer sink.Close()
		if _, ok := sink.(*archive.Multi); !ok {
			t.Errorf("sink = %T, want *archive.Multi", sink)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Output.Dir = t.TempDir()
		cfg.Archive.Backend = "tape"
		if _, err := buildArchive(t.Context(), cfg); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}

func TestBuildAdapters(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		cfg := config.DefaultConfig()
		a, err := buildAdapters(cfg)
		if err != nil {
			t.Fatalf("buildAdapters: %v", err)
		}
		if a != nil {
			t.Errorf("adapters = %v, want nil", a)
		}
	})

	t.Run("webhook and redis", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Adapters = []config.AdapterConfig{
			{Type: "webhook", URL: "http://localhost:9999/hook"},
			{Type: "redis", URL: "redis://localhost:6379", Channel: "transfers"},
		}
		a, err := buildAdapters(cfg)
		if err != nil {
			t.Fatalf("buildAdapters: %v", err)
		}
		defer a.Close()
		if a == nil {
			t.Fatal("adapters = nil")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Adapters = []config.AdapterConfig{{Type: "kafka", URL: "kafka://x"}}
		if _, err := buildAdapters(cfg); err == nil {
			t.Error("expected error for unknown adapter type")
		}
	})

	t.Run("webhook without url", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Adapters = []config.AdapterConfig{{Type: "webhook"}}
		if _, err := buildAdapters(cfg); err == nil {
			t.Error("expected error for empty webhook url")
		}
	})
}

func TestBuildPipeline_CloseReleasesAll(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Output.Dir = t.TempDir()

	p, err := buildPipeline(t.Context(), cfg, "test")
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	if p.coord == nil || p.store == nil || p.policy == nil {
		t.Fatal("pipeline collaborators missing")
	}
	if err := p.Close(t.Context()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestDecode_InvalidPayloadExitsNonZero(t *testing.T) {
	app := newTestApp(DecodeCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "decode", "--format", "json", "not-a-scan"})
	if got := exitCode(err); got != 1 {
		t.Fatalf("exit code = %d, want 1 (err=%v)", got, err)
	}
}

func TestDecode_ValidPayload(t *testing.T) {
	app := newTestApp(DecodeCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "decode", "--format", "json", "FILE:1:3:abc:SGVsbG8="})
	if got := exitCode(err); got != 0 {
		t.Fatalf("exit code = %d, want 0 (err=%v)", got, err)
	}
}

func TestVersion_RejectsTUI(t *testing.T) {
	app := newTestApp(VersionCommand("abc123"))
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "version", "--tui"})
	if got := exitCode(err); got != 1 {
		t.Fatalf("exit code = %d, want 1 (err=%v)", got, err)
	}
}

func TestSessionsInspect_RequiresArg(t *testing.T) {
	app := newTestApp(SessionsCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "sessions", "inspect"})
	if got := exitCode(err); got != 1 {
		t.Fatalf("exit code = %d, want 1 (err=%v)", got, err)
	}
}

func TestSessionsList_RejectsTUI(t *testing.T) {
	app := newTestApp(SessionsCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "sessions", "list", "--tui"})
	if got := exitCode(err); got != 1 {
		t.Fatalf("exit code = %d, want 1 (err=%v)", got, err)
	}
}

func TestSessionsList_EmptyStore(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	app := newTestApp(SessionsCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "sessions", "list", "--config", cfgPath, "--format", "json"})
	if got := exitCode(err); got != 0 {
		t.Fatalf("exit code = %d, want 0 (err=%v)", got, err)
	}
}

func TestSessionsPrune_EmptyStore(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	app := newTestApp(SessionsCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "sessions", "prune", "--config", cfgPath,
			"--format", "json", "--older", "1h"})
	if got := exitCode(err); got != 0 {
		t.Fatalf("exit code = %d, want 0 (err=%v)", got, err)
	}
}

func TestReset_RequiresArg(t *testing.T) {
	app := newTestApp(ResetCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "reset"})
	if got := exitCode(err); got != 1 {
		t.Fatalf("exit code = %d, want 1 (err=%v)", got, err)
	}
}

func TestReset_DeletesFromStore(t *testing.T) {
	dbDir := t.TempDir()
	dbPath := filepath.Join(dbDir, "mosaic.db")

	// Seed a session directly.
	st, err := openStore(&config.Config{
		Store: config.StoreConfig{Backend: "sqlite", Path: dbPath},
	}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rec := &store.SessionRecord{
		SessionID: "sess-del",
		Status:    "active",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := st.PutSession(t.Context(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	app := newTestApp(ResetCommand())
	err = app.RunContext(t.Context(),
		[]string{"mosaic", "reset", "--db", dbPath, "--format", "json", "sess-del"})
	if got := exitCode(err); got != 0 {
		t.Fatalf("exit code = %d, want 0 (err=%v)", got, err)
	}

	st, err = openStore(&config.Config{
		Store: config.StoreConfig{Backend: "sqlite", Path: dbPath},
	}, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	if _, err := st.GetSession(t.Context(), "sess-del"); !store.IsNotFound(err) {
		t.Errorf("session still present, err = %v", err)
	}
}

func TestFeed_NoSocketConfigured(t *testing.T) {
	app := newTestApp(FeedCommand())
	err := app.RunContext(t.Context(),
		[]string{"mosaic", "feed"})
	if got := exitCode(err); got != exitFatal {
		t.Fatalf("exit code = %d, want %d (err=%v)", got, exitFatal, err)
	}
}
