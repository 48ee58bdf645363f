package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/mosaic/store"
)

// StrictPolicy implements synchronous, unbuffered persistence.
//
// Rules:
//   - No buffering: each chunk/session record is written immediately
//   - No drops: every record is persisted
//   - Backpressure: caller blocks on sink latency
//   - Sink errors propagate to the caller
//
// This is the default policy. It preserves the durability guarantee
// that a chunk acknowledged to the scanner survives a process restart.
type StrictPolicy struct {
	sink Sink

	mu    sync.Mutex
	stats Stats
}

// NewStrictPolicy creates a new strict policy writing to the given sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink}
}

// IngestChunk writes the chunk record immediately to the sink.
// Returns error on sink failure.
func (p *StrictPolicy) IngestChunk(ctx context.Context, rec *store.ChunkRecord) error {
	p.mu.Lock()
	p.stats.TotalChunks++
	p.mu.Unlock()

	// Write immediately (batch of 1)
	if err := p.sink.WriteChunks(ctx, []*store.ChunkRecord{rec}); err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.stats.ChunksPersisted++
	p.mu.Unlock()

	return nil
}

// IngestSession writes the session snapshot immediately to the sink.
// Returns error on sink failure.
func (p *StrictPolicy) IngestSession(ctx context.Context, rec *store.SessionRecord) error {
	p.mu.Lock()
	p.stats.TotalSessions++
	p.mu.Unlock()

	// Write immediately (batch of 1)
	if err := p.sink.WriteSessions(ctx, []*store.SessionRecord{rec}); err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.stats.SessionsPersisted++
	p.mu.Unlock()

	return nil
}

// Flush is a no-op for strict policy (nothing is buffered).
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.FlushCount++
	return nil
}

// Close closes the underlying sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
