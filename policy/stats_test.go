package policy_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/justapithecus/mosaic/policy"
)

// TestBufferedPolicy_Stats_ConcurrentAccess verifies that Stats() is safe
// under concurrent ingestion and flush operations. Run with -race.
func TestBufferedPolicy_Stats_ConcurrentAccess(t *testing.T) {
	sink := policy.NewStubSink()
	config := policy.BufferedConfig{
		MaxBufferRecords: 1000,
		MaxBufferBytes:   100 * 1024,
	}
	pol, err := policy.NewBufferedPolicy(sink, config)
	if err != nil {
		t.Fatalf("NewBufferedPolicy failed: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var wg sync.WaitGroup
	const numIngesters = 4
	const numChunksPerIngester = 100

	// Spawn chunk ingesters
	for i := 0; i < numIngesters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numChunksPerIngester; j++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				sid := fmt.Sprintf("s%d", id)
				_ = pol.IngestChunk(ctx, chunkRec(sid, j))
			}
		}(i)
	}

	// Spawn session snapshot ingesters
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = pol.IngestSession(ctx, sessionRec("s0", int64(i)))
		}
	}()

	// Spawn stats readers
	statsResults := make(chan policy.Stats, 1000)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			stats := pol.Stats()
			statsResults <- stats
		}
	}()

	// Spawn flushers
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = pol.Flush(ctx)
		}
	}()

	wg.Wait()
	close(statsResults)

	// Validate all snapshots have non-negative values
	for stats := range statsResults {
		if stats.BufferSize < 0 {
			t.Errorf("BufferSize should never be negative, got %d", stats.BufferSize)
		}
		if stats.TotalChunks < 0 {
			t.Errorf("TotalChunks should never be negative, got %d", stats.TotalChunks)
		}
		if stats.ChunksPersisted < 0 {
			t.Errorf("ChunksPersisted should never be negative, got %d", stats.ChunksPersisted)
		}
	}
}

// TestBufferedPolicy_Stats_BufferSizeZeroAfterFlush verifies that BufferSize
// is zero after a successful flush when all ingestion has completed.
func TestBufferedPolicy_Stats_BufferSizeZeroAfterFlush(t *testing.T) {
	sink := policy.NewStubSink()
	config := policy.BufferedConfig{MaxBufferBytes: 10000}
	pol, _ := policy.NewBufferedPolicy(sink, config)

	ctx := t.Context()

	// Ingest some data
	for i := 0; i < 10; i++ {
		_ = pol.IngestChunk(ctx, chunkRec("s1", i))
	}
	_ = pol.IngestSession(ctx, sessionRec("s1", 10))

	// Verify non-zero before flush
	statsBefore := pol.Stats()
	if statsBefore.BufferSize == 0 {
		t.Fatal("BufferSize should be non-zero before flush")
	}

	// Flush
	if err := pol.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// Verify zero after flush
	statsAfter := pol.Stats()
	if statsAfter.BufferSize != 0 {
		t.Errorf("BufferSize should be 0 after successful flush, got %d", statsAfter.BufferSize)
	}
}

// TestPolicy_Stats_CrossPolicyConsistency verifies that stats semantics are
// uniform across policy implementations (interface-level contract).
func TestPolicy_Stats_CrossPolicyConsistency(t *testing.T) {
	type policyFactory func(policy.Sink) policy.Policy

	factories := map[string]policyFactory{
		"StrictPolicy": func(sink policy.Sink) policy.Policy {
			return policy.NewStrictPolicy(sink)
		},
		"BufferedPolicy": func(sink policy.Sink) policy.Policy {
			pol, _ := policy.NewBufferedPolicy(sink, policy.BufferedConfig{
				MaxBufferRecords: 100,
				MaxBufferBytes:   10000,
			})
			return pol
		},
		"StreamingPolicy": func(sink policy.Sink) policy.Policy {
			pol, _ := policy.NewStreamingPolicy(sink, policy.StreamingConfig{
				FlushCount: 100,
			})
			return pol
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			sink := policy.NewStubSink()
			pol := factory(sink)
			ctx := t.Context()

			// Ingest chunks
			for i := 0; i < 5; i++ {
				if err := pol.IngestChunk(ctx, chunkRec("s1", i)); err != nil {
					t.Fatalf("IngestChunk failed: %v", err)
				}
			}

			// Ingest snapshots for distinct sessions (no coalescing)
			for i := 0; i < 3; i++ {
				sid := fmt.Sprintf("s%d", i)
				if err := pol.IngestSession(ctx, sessionRec(sid, 1)); err != nil {
					t.Fatalf("IngestSession failed: %v", err)
				}
			}

			// Flush
			if err := pol.Flush(ctx); err != nil {
				t.Fatalf("Flush failed: %v", err)
			}

			stats := pol.Stats()

			// Common invariants across all policies
			if stats.TotalChunks != 5 {
				t.Errorf("expected TotalChunks=5, got %d", stats.TotalChunks)
			}
			if stats.ChunksPersisted != 5 {
				t.Errorf("expected ChunksPersisted=5, got %d", stats.ChunksPersisted)
			}
			if stats.TotalSessions != 3 {
				t.Errorf("expected TotalSessions=3, got %d", stats.TotalSessions)
			}
			if stats.SessionsPersisted != 3 {
				t.Errorf("expected SessionsPersisted=3, got %d", stats.SessionsPersisted)
			}
			if stats.SessionsDropped != 0 {
				t.Errorf("expected SessionsDropped=0, got %d", stats.SessionsDropped)
			}
			if stats.Errors != 0 {
				t.Errorf("expected Errors=0, got %d", stats.Errors)
			}

			_ = pol.Close()
		})
	}
}

// TestPolicy_Stats_ErrorsOnSinkFailure verifies that Errors counter increments
// on sink failures across policy implementations.
func TestPolicy_Stats_ErrorsOnSinkFailure(t *testing.T) {
	type policyFactory func(policy.Sink) policy.Policy

	factories := map[string]policyFactory{
		"StrictPolicy": func(sink policy.Sink) policy.Policy {
			return policy.NewStrictPolicy(sink)
		},
		"BufferedPolicy": func(sink policy.Sink) policy.Policy {
			pol, _ := policy.NewBufferedPolicy(sink, policy.BufferedConfig{
				MaxBufferBytes: 10000,
			})
			return pol
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			sink := policy.NewStubSink()
			sink.ErrorOnWrite = errors.New("sink failure")
			pol := factory(sink)
			ctx := t.Context()

			// Attempt to ingest (fails on StrictPolicy, buffers on BufferedPolicy)
			_ = pol.IngestChunk(ctx, chunkRec("s1", 0))

			// For BufferedPolicy, flush to trigger the error
			_ = pol.Flush(ctx)

			stats := pol.Stats()
			if stats.Errors < 1 {
				t.Errorf("expected Errors >= 1 on sink failure, got %d", stats.Errors)
			}
		})
	}
}

// TestStats_FlushCount_IncrementsOnEachFlush verifies FlushCount increments
// exactly once per Flush call.
func TestStats_FlushCount_IncrementsOnEachFlush(t *testing.T) {
	sink := policy.NewStubSink()
	config := policy.BufferedConfig{MaxBufferBytes: 10000}
	pol, _ := policy.NewBufferedPolicy(sink, config)
	ctx := t.Context()

	if pol.Stats().FlushCount != 0 {
		t.Errorf("expected FlushCount=0 initially, got %d", pol.Stats().FlushCount)
	}

	for i := 1; i <= 5; i++ {
		_ = pol.Flush(ctx)
		if pol.Stats().FlushCount != int64(i) {
			t.Errorf("expected FlushCount=%d after %d flushes, got %d", i, i, pol.Stats().FlushCount)
		}
	}
}

// TestStats_FlushCount_IncrementsEvenOnFailure verifies that FlushCount
// increments even when the flush operation fails.
func TestStats_FlushCount_IncrementsEvenOnFailure(t *testing.T) {
	sink := policy.NewStubSink()
	config := policy.BufferedConfig{MaxBufferBytes: 10000}
	pol, _ := policy.NewBufferedPolicy(sink, config)
	ctx := t.Context()

	// Add data to buffer
	_ = pol.IngestChunk(ctx, chunkRec("s1", 0))

	// Make sink fail
	sink.ErrorOnWrite = errors.New("write failed")

	// Flush fails
	_ = pol.Flush(ctx)

	stats := pol.Stats()
	if stats.FlushCount != 1 {
		t.Errorf("expected FlushCount=1 even on failure, got %d", stats.FlushCount)
	}
	if stats.Errors != 1 {
		t.Errorf("expected Errors=1, got %d", stats.Errors)
	}
}

// TestStats_ChunksPersisted_OnlyOnSuccess verifies that ChunksPersisted
// only increments after successful writes.
func TestStats_ChunksPersisted_OnlyOnSuccess(t *testing.T) {
	sink := policy.NewStubSink()
	config := policy.BufferedConfig{MaxBufferBytes: 10000}
	pol, _ := policy.NewBufferedPolicy(sink, config)
	ctx := t.Context()

	// Add chunks
	for i := 0; i < 3; i++ {
		_ = pol.IngestChunk(ctx, chunkRec("s1", i))
	}

	// Fail flush
	sink.ErrorOnWrite = errors.New("write failed")
	_ = pol.Flush(ctx)

	stats := pol.Stats()
	if stats.ChunksPersisted != 0 {
		t.Errorf("expected ChunksPersisted=0 after failed flush, got %d", stats.ChunksPersisted)
	}

	// Succeed flush
	sink.ErrorOnWrite = nil
	_ = pol.Flush(ctx)

	stats = pol.Stats()
	if stats.ChunksPersisted != 3 {
		t.Errorf("expected ChunksPersisted=3 after successful flush, got %d", stats.ChunksPersisted)
	}
}
