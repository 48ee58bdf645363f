// Package store persists chunk payloads and session records so an
// interrupted transfer survives a process restart. Two backends satisfy
// the same interface: a SQLite file in WAL mode for real runs and an
// in-memory map for tests and ephemeral pipelines. STORAGE.md documents
// the schema and the durability contract.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/justapithecus/mosaic/types"
)

// ChunkRecord is one persisted chunk row: the decoded payload bytes for
// a (session, index) key.
type ChunkRecord struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Payload   []byte `json:"-"`
	// Checksum is the first 16 hex chars of the payload's sha256,
	// computed at store time for audit queries.
	Checksum string `json:"checksum"`
	// Verified is set when a declared per-chunk checksum matched the
	// payload at decode time.
	Verified bool      `json:"verified"`
	StoredAt time.Time `json:"stored_at"`
}

// SessionRecord is the persisted view of one session, written alongside
// chunks so recovery can restore declared totals and metadata.
type SessionRecord struct {
	SessionID     string              `json:"session_id"`
	Filename      string              `json:"filename,omitempty"`
	DeclaredSize  int64               `json:"declared_size"`
	Checksum      string              `json:"checksum,omitempty"`
	TotalChunks   int                 `json:"total_chunks"`
	Status        types.SessionStatus `json:"status"`
	Protocol      string              `json:"protocol,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	BytesReceived int64               `json:"bytes_received"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// MetricsSnapshot is one persisted collector snapshot. The daemon
// writes these on a heartbeat so read-only commands can report counters
// without talking to the daemon.
type MetricsSnapshot struct {
	At      time.Time `json:"at"`
	Payload []byte    `json:"payload"`
}

// Store is the durable persistence boundary. All methods are safe for
// concurrent use.
//
// WriteChunks and WriteSessions persist batches in a single transaction
// each; they exist so both backends satisfy the policy sink interface
// directly.
type Store interface {
	// PutChunk persists one chunk. First write wins: storing identical
	// bytes again reports stored=false with no error; different bytes
	// at the same (session, index) key return ErrConflict and leave the
	// stored row untouched.
	PutChunk(ctx context.Context, rec *ChunkRecord) (stored bool, err error)

	// GetChunk returns the payload for one chunk, ErrNotFound if absent.
	GetChunk(ctx context.Context, sessionID string, index int) ([]byte, error)

	// HasChunk reports whether a chunk row exists.
	HasChunk(ctx context.Context, sessionID string, index int) (bool, error)

	// ChunkIndices returns the stored indices for a session, ascending.
	ChunkIndices(ctx context.Context, sessionID string) ([]int, error)

	// LoadAll returns the payloads for indices [0,total) in ascending
	// order. Any gap returns *IncompleteError naming the missing
	// indices; a stored index at or beyond total returns ErrCorrupt.
	LoadAll(ctx context.Context, sessionID string, total int) ([][]byte, error)

	// DeleteSession removes the session row and all its chunks.
	// Deleting an unknown session is a no-op.
	DeleteSession(ctx context.Context, sessionID string) error

	// PutSession upserts a session record.
	PutSession(ctx context.Context, rec *SessionRecord) error

	// GetSession returns one session record, ErrNotFound if absent.
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)

	// ListSessions returns all session records, oldest first.
	ListSessions(ctx context.Context) ([]*SessionRecord, error)

	// PutMetrics appends a collector snapshot. The backend keeps a
	// bounded history; old snapshots are trimmed automatically.
	PutMetrics(ctx context.Context, snap *MetricsSnapshot) error

	// LatestMetrics returns the newest snapshot, ErrNotFound when none
	// has been written yet.
	LatestMetrics(ctx context.Context) (*MetricsSnapshot, error)

	// WriteChunks persists a batch of chunks in one transaction,
	// preserving batch order. Per-chunk first-write-wins semantics
	// apply; a byte conflict aborts the whole batch.
	WriteChunks(ctx context.Context, chunks []*ChunkRecord) error

	// WriteSessions upserts a batch of session records in one
	// transaction.
	WriteSessions(ctx context.Context, sessions []*SessionRecord) error

	// Close releases the backend. Blocks until in-flight borrowed
	// connections are returned.
	Close() error
}

// PayloadChecksum returns the first 16 hex chars of the sha256 of the
// payload, the form stored in the chunk row.
func PayloadChecksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}
