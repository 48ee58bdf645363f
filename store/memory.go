package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is a map-backed Store for tests and ephemeral pipelines. It
// honors the same first-write-wins and gap-reporting semantics as the
// SQLite backend but nothing survives the process.
type Memory struct {
	mu       sync.RWMutex
	chunks   map[string]map[int]*ChunkRecord
	sessions map[string]*SessionRecord
	metrics  []*MetricsSnapshot
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		chunks:   make(map[string]map[int]*ChunkRecord),
		sessions: make(map[string]*SessionRecord),
	}
}

// PutChunk persists one chunk under first-write-wins semantics.
func (m *Memory) PutChunk(_ context.Context, rec *ChunkRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putChunkLocked(rec)
}

func (m *Memory) putChunkLocked(rec *ChunkRecord) (bool, error) {
	byIndex, ok := m.chunks[rec.SessionID]
	if !ok {
		byIndex = make(map[int]*ChunkRecord)
		m.chunks[rec.SessionID] = byIndex
	}

	if existing, dup := byIndex[rec.Index]; dup {
		if bytes.Equal(existing.Payload, rec.Payload) {
			return false, nil
		}
		return false, NewStoreError(ErrConflict, "put chunk", rec.SessionID,
			fmt.Errorf("index %d holds %d bytes, refused %d-byte rewrite",
				rec.Index, len(existing.Payload), len(rec.Payload)))
	}

	stored := *rec
	stored.Payload = append([]byte(nil), rec.Payload...)
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}
	byIndex[rec.Index] = &stored
	return true, nil
}

// GetChunk returns the payload for one chunk.
func (m *Memory) GetChunk(_ context.Context, sessionID string, index int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.chunks[sessionID][index]
	if !ok {
		return nil, NewStoreError(ErrNotFound, "get chunk", sessionID,
			fmt.Errorf("index %d", index))
	}
	return append([]byte(nil), rec.Payload...), nil
}

// HasChunk reports whether a chunk row exists.
func (m *Memory) HasChunk(_ context.Context, sessionID string, index int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.chunks[sessionID][index]
	return ok, nil
}

// ChunkIndices returns the stored indices for a session, ascending.
func (m *Memory) ChunkIndices(_ context.Context, sessionID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byIndex := m.chunks[sessionID]
	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// LoadAll returns the payloads for indices [0,total) in ascending
// order, or *IncompleteError naming the gaps.
func (m *Memory) LoadAll(_ context.Context, sessionID string, total int) ([][]byte, error) {
	if total <= 0 {
		return nil, NewStoreError(ErrIncomplete, "load", sessionID,
			fmt.Errorf("total %d", total))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	byIndex := m.chunks[sessionID]
	for idx := range byIndex {
		if idx < 0 || idx >= total {
			return nil, NewStoreError(ErrCorrupt, "load", sessionID,
				fmt.Errorf("stored index %d outside declared range [0,%d)", idx, total))
		}
	}

	payloads := make([][]byte, total)
	var missing []int
	for i := 0; i < total; i++ {
		rec, ok := byIndex[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		payloads[i] = append([]byte(nil), rec.Payload...)
	}
	if len(missing) > 0 {
		return nil, &IncompleteError{SessionID: sessionID, Total: total, Missing: missing}
	}
	return payloads, nil
}

// DeleteSession removes the session row and all its chunks.
func (m *Memory) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.chunks, sessionID)
	delete(m.sessions, sessionID)
	return nil
}

// PutSession upserts a session record.
func (m *Memory) PutSession(_ context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putSessionLocked(rec)
	return nil
}

func (m *Memory) putSessionLocked(rec *SessionRecord) {
	stored := cloneSessionRecord(rec)
	if stored.CreatedAt.IsZero() {
		if prev, ok := m.sessions[rec.SessionID]; ok {
			stored.CreatedAt = prev.CreatedAt
		} else {
			stored.CreatedAt = time.Now()
		}
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	m.sessions[rec.SessionID] = stored
}

// GetSession returns one session record.
func (m *Memory) GetSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, NewStoreError(ErrNotFound, "get session", sessionID, fmt.Errorf("no row"))
	}
	return cloneSessionRecord(rec), nil
}

// ListSessions returns all session records, oldest first.
func (m *Memory) ListSessions(_ context.Context) ([]*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		records = append(records, cloneSessionRecord(rec))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// PutMetrics appends a collector snapshot, trimming history beyond
// metricsHistory entries.
func (m *Memory) PutMetrics(_ context.Context, snap *MetricsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := &MetricsSnapshot{
		At:      snap.At,
		Payload: append([]byte(nil), snap.Payload...),
	}
	if stored.At.IsZero() {
		stored.At = time.Now()
	}
	m.metrics = append(m.metrics, stored)
	if len(m.metrics) > metricsHistory {
		m.metrics = m.metrics[len(m.metrics)-metricsHistory:]
	}
	return nil
}

// LatestMetrics returns the newest snapshot.
func (m *Memory) LatestMetrics(_ context.Context) (*MetricsSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.metrics) == 0 {
		return nil, NewStoreError(ErrNotFound, "latest metrics", "", fmt.Errorf("no snapshots"))
	}
	last := m.metrics[len(m.metrics)-1]
	return &MetricsSnapshot{
		At:      last.At,
		Payload: append([]byte(nil), last.Payload...),
	}, nil
}

// WriteChunks persists a batch of chunks. The batch is atomic: a byte
// conflict rolls back everything written before it.
func (m *Memory) WriteChunks(_ context.Context, chunks []*ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	written := make([]*ChunkRecord, 0, len(chunks))
	for _, rec := range chunks {
		stored, err := m.putChunkLocked(rec)
		if err != nil {
			for _, undo := range written {
				delete(m.chunks[undo.SessionID], undo.Index)
			}
			return err
		}
		if stored {
			written = append(written, rec)
		}
	}
	return nil
}

// WriteSessions upserts a batch of session records.
func (m *Memory) WriteSessions(_ context.Context, sessions []*SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range sessions {
		m.putSessionLocked(rec)
	}
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error {
	return nil
}

func cloneSessionRecord(rec *SessionRecord) *SessionRecord {
	out := *rec
	if rec.Metadata != nil {
		out.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
