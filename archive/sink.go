// Package archive delivers assembled files to their final destination.
//
// A Sink receives the reconstruction output once a session completes.
// DirSink drops the file into a local directory; LodeSink writes a
// manifest and payload segments to a Lode dataset (filesystem or S3).
// The storage layout is documented in STORAGE.md.
package archive

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/justapithecus/mosaic/types"
)

// Sink stores one assembled file per call. Store returns a
// backend-specific location string (a path, a dataset partition) that is
// surfaced to callbacks and adapters.
type Sink interface {
	Store(ctx context.Context, file *types.AssembledFile) (location string, err error)
	Close() error
}

// StubSink records stored files for testing.
type StubSink struct {
	mu sync.Mutex

	// Stored collects every file passed to Store, in call order.
	Stored []*types.AssembledFile
	// Closed is true after Close.
	Closed bool
	// ErrorOnStore, if non-nil, is returned by Store.
	ErrorOnStore error
	// Location is returned on successful Store. Defaults to
	// "stub://<session_id>" when empty.
	Location string
}

// NewStubSink creates a stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// Store implements Sink by recording the file.
func (s *StubSink) Store(_ context.Context, file *types.AssembledFile) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrorOnStore != nil {
		return "", s.ErrorOnStore
	}
	s.Stored = append(s.Stored, file)
	if s.Location != "" {
		return s.Location, nil
	}
	return "stub://" + file.SessionID, nil
}

// Close implements Sink.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// StoredCount returns the number of recorded files.
func (s *StubSink) StoredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Stored)
}

// Verify StubSink implements Sink.
var _ Sink = (*StubSink)(nil)

// Multi fans one assembled file out to several sinks. Every sink is
// attempted even when an earlier one fails; errors are aggregated. The
// returned location is the first sink's, since sinks[0] is the primary
// destination by convention.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out sink. The first sink is the primary: its
// location is the one reported upstream.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Store implements Sink.
func (m *Multi) Store(ctx context.Context, file *types.AssembledFile) (string, error) {
	var location string
	var errs error
	for i, sink := range m.sinks {
		loc, err := sink.Store(ctx, file)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if i == 0 {
			location = loc
		}
	}
	return location, errs
}

// Close closes every sink and aggregates their errors.
func (m *Multi) Close() error {
	var errs error
	for _, sink := range m.sinks {
		errs = multierr.Append(errs, sink.Close())
	}
	return errs
}

// Verify Multi implements Sink.
var _ Sink = (*Multi)(nil)
