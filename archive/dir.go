package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/justapithecus/mosaic/iox"
	"github.com/justapithecus/mosaic/types"
)

// DirSink writes assembled files into a local output directory. Writes
// are atomic (temp file, fsync, rename), so a crash mid-store never
// leaves a partial file for a watching process to pick up.
type DirSink struct {
	dir  string
	mode os.FileMode

	mu sync.Mutex // serializes the exists-check-then-write pair
}

// NewDirSink creates the output directory if needed and returns a sink
// writing into it.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &DirSink{dir: dir, mode: 0o644}, nil
}

// Store implements Sink. The declared filename is sanitized to a single
// path element; an existing file with the same name is never
// overwritten, the new one gets a _1, _2, ... suffix before the
// extension.
func (s *DirSink) Store(_ context.Context, file *types.AssembledFile) (string, error) {
	name := SanitizeFilename(file.Filename)
	if name == "" {
		name = file.SessionID + ".bin"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.uniquePath(name)
	if err := iox.WriteFileAtomic(target, file.Bytes, s.mode); err != nil {
		return "", WrapWriteError(err, target)
	}
	return target, nil
}

// Close implements Sink. A DirSink holds no resources.
func (s *DirSink) Close() error {
	return nil
}

// uniquePath returns the first non-existing path for name in the output
// directory, suffixing the stem with a counter on collision.
func (s *DirSink) uniquePath(name string) string {
	target := filepath.Join(s.dir, name)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return target
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		candidate := filepath.Join(s.dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// SanitizeFilename reduces a wire-declared filename to a single safe
// path element. Directory components are dropped, not escaped: the name
// comes off the wire and must never navigate out of the destination
// directory. Returns "" when nothing safe remains.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	// Windows senders declare backslash paths
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name = b.String()

	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

// Verify DirSink implements Sink.
var _ Sink = (*DirSink)(nil)
