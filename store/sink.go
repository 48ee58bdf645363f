package store

import "context"

// SinkAdapter exposes a Store's batch writers behind the persistence
// policy's sink boundary without giving the policy ownership of the
// store lifecycle. Policy Close is a no-op; the store is closed by
// whoever opened it.
type SinkAdapter struct {
	store Store
}

// NewSinkAdapter wraps a Store for use as a policy sink.
func NewSinkAdapter(s Store) *SinkAdapter {
	return &SinkAdapter{store: s}
}

// WriteChunks persists the batch through the wrapped store.
func (a *SinkAdapter) WriteChunks(ctx context.Context, chunks []*ChunkRecord) error {
	return a.store.WriteChunks(ctx, chunks)
}

// WriteSessions upserts the batch through the wrapped store.
func (a *SinkAdapter) WriteSessions(ctx context.Context, sessions []*SessionRecord) error {
	return a.store.WriteSessions(ctx, sessions)
}

// Close is a no-op. The wrapped store outlives the policy.
func (a *SinkAdapter) Close() error {
	return nil
}
