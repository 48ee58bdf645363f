// Package policy defines the chunk persistence policy interface.
package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/mosaic/store"
)

// Sink abstracts persistence for policies.
// Implementations may write to a chunk store, forward to a queue, or stub
// for testing. The store backends satisfy it via store.SinkAdapter.
//
// Methods are batch-oriented to support both strict (batch of 1) and
// buffered policies.
type Sink interface {
	// WriteChunks persists a batch of chunk records.
	// Must preserve ordering within the batch.
	// Returns error on failure; caller decides whether to retry or fail.
	WriteChunks(ctx context.Context, chunks []*store.ChunkRecord) error

	// WriteSessions persists a batch of session snapshot records.
	// Must preserve ordering within the batch.
	// Returns error on failure; caller decides whether to retry or fail.
	WriteSessions(ctx context.Context, sessions []*store.SessionRecord) error

	// Close releases any resources held by the sink.
	Close() error
}

// WriteOp represents a write operation for ordering verification.
type WriteOp struct {
	Type     string // "chunks" or "sessions"
	Chunks   []*store.ChunkRecord
	Sessions []*store.SessionRecord
}

// StubSink is a test sink that accepts writes without persisting.
// Tracks write statistics for test assertions.
type StubSink struct {
	mu sync.Mutex

	// ChunksWritten is the total count of chunk records written.
	ChunksWritten int64
	// SessionsWritten is the total count of session records written.
	SessionsWritten int64
	// ChunkBatches is the number of WriteChunks calls.
	ChunkBatches int64
	// SessionBatches is the number of WriteSessions calls.
	SessionBatches int64
	// Closed indicates whether Close was called.
	Closed bool

	// WrittenChunks stores all written chunk records for inspection.
	WrittenChunks []*store.ChunkRecord
	// WrittenSessions stores all written session records for inspection.
	WrittenSessions []*store.SessionRecord

	// WriteOrder tracks the order of write operations for ordering tests.
	WriteOrder []WriteOp

	// ErrorOnWrite, if non-nil, is returned by WriteChunks/WriteSessions.
	ErrorOnWrite error

	// errorOnSessions, if non-nil, is returned by WriteSessions only.
	// Chunk writes still succeed, simulating partial backend failure.
	errorOnSessions error
}

// NewStubSink creates a new stub sink for testing.
func NewStubSink() *StubSink {
	return &StubSink{
		WrittenChunks:   make([]*store.ChunkRecord, 0),
		WrittenSessions: make([]*store.SessionRecord, 0),
		WriteOrder:      make([]WriteOp, 0),
	}
}

// WriteChunks records the chunk records without persisting.
func (s *StubSink) WriteChunks(_ context.Context, chunks []*store.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}

	s.ChunkBatches++
	s.ChunksWritten += int64(len(chunks))
	s.WrittenChunks = append(s.WrittenChunks, chunks...)
	s.WriteOrder = append(s.WriteOrder, WriteOp{Type: "chunks", Chunks: chunks})

	return nil
}

// WriteSessions records the session records without persisting.
func (s *StubSink) WriteSessions(_ context.Context, sessions []*store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	if s.errorOnSessions != nil {
		return s.errorOnSessions
	}

	s.SessionBatches++
	s.SessionsWritten += int64(len(sessions))
	s.WrittenSessions = append(s.WrittenSessions, sessions...)
	s.WriteOrder = append(s.WriteOrder, WriteOp{Type: "sessions", Sessions: sessions})

	return nil
}

// FailSessionsOnly makes WriteSessions return err while WriteChunks
// continues to succeed. Pass nil to clear.
func (s *StubSink) FailSessionsOnly(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorOnSessions = err
}

// Close marks the sink as closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Closed = true
	return nil
}

// Stats returns a snapshot of sink statistics.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StubSinkStats{
		ChunksWritten:   s.ChunksWritten,
		SessionsWritten: s.SessionsWritten,
		ChunkBatches:    s.ChunkBatches,
		SessionBatches:  s.SessionBatches,
		Closed:          s.Closed,
	}
}

// StubSinkStats is a snapshot of StubSink statistics.
type StubSinkStats struct {
	ChunksWritten   int64
	SessionsWritten int64
	ChunkBatches    int64
	SessionBatches  int64
	Closed          bool
}
