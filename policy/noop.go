package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/mosaic/store"
)

// NoopPolicy is a no-op policy for testing.
// Accepts all records but does not actually persist them.
//
// Stats reflect drop semantics: session snapshots are counted as dropped
// (nothing durable holds them), chunk records are counted as persisted
// even though noop does not actually persist.
type NoopPolicy struct {
	mu    sync.Mutex
	stats Stats
}

// NewNoopPolicy creates a new no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{}
}

// IngestChunk accepts the chunk but does not persist it.
func (p *NoopPolicy) IngestChunk(_ context.Context, _ *store.ChunkRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalChunks++
	p.stats.ChunksPersisted++

	return nil
}

// IngestSession accepts the session snapshot but does not persist it.
// Counted as dropped to keep stats honest about durability.
func (p *NoopPolicy) IngestSession(_ context.Context, _ *store.SessionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalSessions++
	p.stats.SessionsDropped++

	return nil
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.FlushCount++

	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error {
	return nil
}

// Stats returns the policy statistics.
func (p *NoopPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
