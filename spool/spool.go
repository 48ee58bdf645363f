// Package spool ingests scans dropped as files into a directory.
//
// Scanner apps that cannot speak the feed socket write one decoded QR
// payload per file into the spool directory. The watcher picks each
// file up, emits its contents to the pipeline, and moves the file into
// a processed/ or rejected/ subdirectory so nothing is consumed twice.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/justapithecus/mosaic/log"
)

// Subdirectories files are moved into after handling.
const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// DefaultMaxFileSize bounds how large a spool file may be. QR payloads
// top out under 3KB; anything bigger is not a scan.
const DefaultMaxFileSize = 1 << 20

// settleDelay is how long a newly created file gets to finish being
// written before the watcher reads it. Scanner apps write spool files
// in one syscall, but a rename-into-place pattern needs a beat.
const settleDelay = 50 * time.Millisecond

// Emit receives one raw scan payload. A returned error marks the
// originating file rejected; the error itself is logged, not
// propagated, so one bad scan never stops the intake.
type Emit func(ctx context.Context, raw string) error

// Config tunes the spool watcher.
type Config struct {
	// Dir is the spool directory to watch. Required.
	Dir string
	// Extensions lists accepted file extensions (with dot). Defaults to
	// .txt and .scan.
	Extensions []string
	// MaxFileSize rejects files larger than this many bytes. Defaults
	// to DefaultMaxFileSize.
	MaxFileSize int64
}

// Watcher consumes spool files, by fsnotify events or explicit sweeps.
type Watcher struct {
	cfg    Config
	emit   Emit
	logger *log.Logger
}

// New validates the spool directory, creates the processed/ and
// rejected/ subdirectories, and returns a watcher. Logger may be nil.
func New(cfg Config, emit Emit, logger *log.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("spool: directory is required")
	}
	if emit == nil {
		return nil, errors.New("spool: emit func is required")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".txt", ".scan"}
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("spool directory %s: %w", cfg.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("spool path %s is not a directory", cfg.Dir)
	}
	for _, sub := range []string{ProcessedDir, RejectedDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create spool subdirectory %s: %w", sub, err)
		}
	}

	return &Watcher{cfg: cfg, emit: emit, logger: logger}, nil
}

// Run watches the spool directory until ctx is canceled. Files already
// present when Run starts are swept first, so scans dropped while the
// daemon was down are not lost.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch spool directory %s: %w", w.cfg.Dir, err)
	}

	if _, err := w.ScanDir(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if !w.accepts(event.Name) {
				continue
			}
			time.Sleep(settleDelay)
			w.handleFile(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logWarn("spool watch error", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// ScanDir sweeps every matching file currently in the spool directory.
// Returns how many files were handled (processed or rejected). This is
// the poll path for --once runs and the startup sweep for Run.
func (w *Watcher) ScanDir(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("read spool directory %s: %w", w.cfg.Dir, err)
	}

	handled := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		if entry.IsDir() {
			continue
		}
		name := filepath.Join(w.cfg.Dir, entry.Name())
		if !w.accepts(name) {
			continue
		}
		w.handleFile(ctx, name)
		handled++
	}
	return handled, nil
}

// accepts reports whether path names a spool file this watcher handles.
func (w *Watcher) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.cfg.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// handleFile emits one spool file's payload and files it away. Every
// outcome moves the file: emit errors, unreadable files, and oversized
// files go to rejected/, everything else to processed/.
func (w *Watcher) handleFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Already moved by a concurrent sweep, or deleted out from
		// under us. Nothing to do.
		return
	}
	if info.Size() > w.cfg.MaxFileSize {
		w.logWarn("spool file too large", map[string]any{
			"file": path,
			"size": info.Size(),
		})
		w.moveTo(path, RejectedDir)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logWarn("spool file unreadable", map[string]any{
			"file":  path,
			"error": err.Error(),
		})
		w.moveTo(path, RejectedDir)
		return
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		w.logWarn("spool file empty", map[string]any{
			"file": path,
		})
		w.moveTo(path, RejectedDir)
		return
	}

	if err := w.emit(ctx, raw); err != nil {
		w.logWarn("spool scan rejected", map[string]any{
			"file":  path,
			"error": err.Error(),
		})
		w.moveTo(path, RejectedDir)
		return
	}
	w.moveTo(path, ProcessedDir)
}

// moveTo renames the file into a subdirectory, suffixing the name with
// a timestamp when the destination already exists.
func (w *Watcher) moveTo(path, sub string) {
	base := filepath.Base(path)
	target := filepath.Join(w.cfg.Dir, sub, base)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		target = filepath.Join(w.cfg.Dir, sub,
			fmt.Sprintf("%s_%d%s", stem, time.Now().UnixNano(), ext))
	}
	if err := os.Rename(path, target); err != nil {
		w.logWarn("spool file not moved", map[string]any{
			"file":  path,
			"error": err.Error(),
		})
	}
}

func (w *Watcher) logWarn(message string, fields map[string]any) {
	if w.logger == nil {
		return
	}
	w.logger.Warn(message, fields)
}
