// Package policy defines the chunk persistence policy interface.
package policy

import (
	"context"

	"github.com/justapithecus/mosaic/store"
)

// Policy defines the persistence policy interface.
// Policies control buffering, dropping, and write batching between the
// reconstruction pipeline and the chunk store.
//
// Rules:
//   - May drop: session snapshot records (the registry re-emits them on
//     the next chunk, so a dropped upsert loses nothing durable)
//   - Must NOT drop: chunk payload records
//   - Policy must not alter record contents
//   - Policy failure fails the owning session
type Policy interface {
	// IngestChunk handles a chunk payload record.
	// Must buffer or persist chunks; never drops them.
	// Returns error on persistence failure.
	IngestChunk(ctx context.Context, rec *store.ChunkRecord) error

	// IngestSession handles a session snapshot record (upsert).
	// May drop under buffer pressure; a later snapshot supersedes it.
	IngestSession(ctx context.Context, rec *store.SessionRecord) error

	// Flush flushes any buffered data.
	// Called before assembly and on shutdown.
	Flush(ctx context.Context) error

	// Close cleans up policy resources.
	Close() error

	// Stats returns policy statistics for observability.
	// Returns an atomic snapshot of policy metrics at a point in time.
	// All counters in the returned Stats are consistent with each other.
	Stats() Stats
}

// Stats represents policy observability metrics.
type Stats struct {
	// TotalChunks is the total number of chunk records received.
	TotalChunks int64
	// ChunksPersisted is the number of chunk records persisted.
	ChunksPersisted int64
	// TotalSessions is the total number of session snapshots received.
	TotalSessions int64
	// SessionsPersisted is the number of session snapshots persisted.
	SessionsPersisted int64
	// SessionsDropped is the number of session snapshots dropped under pressure.
	SessionsDropped int64
	// BufferSize is the current buffer size in bytes (if buffered).
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the count of non-fatal errors encountered.
	Errors int64
}

// statsRecorder accumulates Stats for the buffering policies.
// It carries no lock of its own: every method requires the owning
// policy's mu, which keeps counters and buffer state atomic with each
// other. The Locked suffix marks that contract.
type statsRecorder struct {
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{}
}

func (r *statsRecorder) incTotalChunksLocked() {
	r.stats.TotalChunks++
}

func (r *statsRecorder) incChunksPersistedLocked(n int64) {
	r.stats.ChunksPersisted += n
}

func (r *statsRecorder) incTotalSessionsLocked() {
	r.stats.TotalSessions++
}

func (r *statsRecorder) incSessionsPersistedLocked(n int64) {
	r.stats.SessionsPersisted += n
}

func (r *statsRecorder) incSessionsDroppedLocked() {
	r.stats.SessionsDropped++
}

func (r *statsRecorder) incErrorsLocked() {
	r.stats.Errors++
}

func (r *statsRecorder) incFlushLocked() {
	r.stats.FlushCount++
}

func (r *statsRecorder) setBufferSizeLocked(bytes int64) {
	r.stats.BufferSize = bytes
}

// snapshotLocked returns an atomic snapshot of stats with the given bufferSize.
// Caller must hold the policy's own mu.
func (r *statsRecorder) snapshotLocked(bufferSize int64) Stats {
	s := r.stats
	s.BufferSize = bufferSize
	return s
}
