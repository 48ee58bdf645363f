package policy_test

import (
	"testing"

	"github.com/justapithecus/mosaic/policy"
)

func TestNoopPolicy_AcceptChunkReturnsNil(t *testing.T) {
	pol := policy.NewNoopPolicy()

	err := pol.IngestChunk(t.Context(), chunkRec("s1", 0))
	if err != nil {
		t.Errorf("IngestChunk() = %v, want nil", err)
	}
}

func TestNoopPolicy_AcceptSessionReturnsNil(t *testing.T) {
	pol := policy.NewNoopPolicy()

	err := pol.IngestSession(t.Context(), sessionRec("s1", 1))
	if err != nil {
		t.Errorf("IngestSession() = %v, want nil", err)
	}
}

func TestNoopPolicy_StatsDefensiveCopy(t *testing.T) {
	pol := policy.NewNoopPolicy()

	if err := pol.IngestChunk(t.Context(), chunkRec("s1", 0)); err != nil {
		t.Fatalf("IngestChunk failed: %v", err)
	}

	// Get stats and mutate the returned copy
	stats1 := pol.Stats()
	stats1.TotalChunks = 999

	// Get stats again - should reflect original values, not the mutation
	stats2 := pol.Stats()
	if stats2.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d after mutation, want 1 (defensive copy broken)", stats2.TotalChunks)
	}
}

func TestNoopPolicy_CloseReturnsNil(t *testing.T) {
	pol := policy.NewNoopPolicy()

	err := pol.Close()
	if err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestNoopPolicy_FlushReturnsNil(t *testing.T) {
	pol := policy.NewNoopPolicy()

	err := pol.Flush(t.Context())
	if err != nil {
		t.Errorf("Flush() = %v, want nil", err)
	}
}

func TestNoopPolicy_DurabilityStats(t *testing.T) {
	pol := policy.NewNoopPolicy()

	if err := pol.IngestChunk(t.Context(), chunkRec("s1", 0)); err != nil {
		t.Fatalf("IngestChunk failed: %v", err)
	}
	if err := pol.IngestSession(t.Context(), sessionRec("s1", 1)); err != nil {
		t.Fatalf("IngestSession failed: %v", err)
	}

	stats := pol.Stats()

	if stats.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1", stats.TotalChunks)
	}
	if stats.ChunksPersisted != 1 {
		t.Errorf("ChunksPersisted = %d, want 1", stats.ChunksPersisted)
	}
	if stats.TotalSessions != 1 {
		t.Errorf("TotalSessions = %d, want 1", stats.TotalSessions)
	}
	// Noop holds nothing durable, so snapshots count as dropped
	if stats.SessionsDropped != 1 {
		t.Errorf("SessionsDropped = %d, want 1", stats.SessionsDropped)
	}
	if stats.SessionsPersisted != 0 {
		t.Errorf("SessionsPersisted = %d, want 0", stats.SessionsPersisted)
	}
}
