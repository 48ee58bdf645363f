package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/store"
)

// StreamingConfig configures a StreamingPolicy.
type StreamingConfig struct {
	// FlushCount triggers a flush after N chunk records accumulate.
	// Zero means count-based flush is disabled.
	FlushCount int

	// FlushInterval triggers a flush every interval.
	// Zero means interval-based flush is disabled.
	FlushInterval time.Duration

	// Logger is an optional logger for policy observability.
	Logger *log.Logger
}

// FlushTrigger identifies which trigger caused a flush.
type FlushTrigger string

const (
	// FlushTriggerCount indicates a count-threshold flush.
	FlushTriggerCount FlushTrigger = "count"
	// FlushTriggerInterval indicates an interval-based flush.
	FlushTriggerInterval FlushTrigger = "interval"
	// FlushTriggerTermination indicates a shutdown or pre-assembly flush.
	FlushTriggerTermination FlushTrigger = "termination"
)

// ErrStreamingInvalidConfig is returned when StreamingConfig is invalid.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: at least one of FlushCount or FlushInterval must be set")

// StreamingPolicy implements continuous persistence with batched writes.
// Intended for daemon mode where scans trickle in over hours.
//
// Rules:
//   - No drops: chunks and session snapshots are all persisted
//   - Unbounded buffer between flushes; the triggers bound it in practice
//   - Periodic flush: buffer flushed to the store when any trigger fires
//
// Flush semantics: chunks first, then sessions (chunks_first equivalent).
// On flush failure, buffered data is preserved and retried on the next
// trigger.
//
// Thread safety:
//   - mu guards buffer state (append, size tracking, stats)
//   - flushMu serializes flush operations to prevent concurrent writes
//   - IngestChunk/IngestSession hold mu briefly to append
//   - triggerFlush holds flushMu for the duration of the write,
//     and mu briefly to swap/restore buffers
type StreamingPolicy struct {
	sink   Sink
	config StreamingConfig
	logger *log.Logger

	mu            sync.Mutex // guards buffer state and stats
	chunkBuffer   []*store.ChunkRecord
	sessionBuffer []*store.SessionRecord
	bufferBytes   int64
	stats         *statsRecorder

	// flushMu serializes flush operations.
	// Prevents concurrent flushes from interval goroutine and count trigger.
	flushMu sync.Mutex

	// flushTriggerCounts tracks how many times each trigger type fired.
	// Guarded by mu.
	flushByCount       int64
	flushByInterval    int64
	flushByTermination int64

	// stopCh signals the interval goroutine to stop.
	stopCh chan struct{}
	// stopped indicates Close has been called. Guarded by mu.
	stopped bool
}

// NewStreamingPolicy creates a new streaming policy.
// Returns error if config is invalid.
func NewStreamingPolicy(sink Sink, config StreamingConfig) (*StreamingPolicy, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}

	p := &StreamingPolicy{
		sink:          sink,
		config:        config,
		logger:        config.Logger,
		chunkBuffer:   make([]*store.ChunkRecord, 0, 128),
		sessionBuffer: make([]*store.SessionRecord, 0),
		stats:         newStatsRecorder(),
		stopCh:        make(chan struct{}),
	}

	// Start interval flush goroutine if configured
	if config.FlushInterval > 0 {
		go p.intervalLoop()
	}

	return p, nil
}

// IngestChunk adds the chunk record to the buffer.
// Never drops. If the count threshold is reached, triggers a flush.
func (p *StreamingPolicy) IngestChunk(ctx context.Context, rec *store.ChunkRecord) error {
	p.mu.Lock()

	p.stats.incTotalChunksLocked()
	chunkSize := int64(len(rec.Payload)) + 120
	p.chunkBuffer = append(p.chunkBuffer, rec)
	p.bufferBytes += chunkSize
	p.stats.setBufferSizeLocked(p.bufferBytes)

	// Check count trigger
	shouldFlush := p.config.FlushCount > 0 && len(p.chunkBuffer) >= p.config.FlushCount
	p.mu.Unlock()

	if shouldFlush {
		return p.triggerFlush(ctx, FlushTriggerCount)
	}

	return nil
}

// IngestSession adds the session snapshot to the buffer, coalescing with
// any buffered snapshot for the same session.
func (p *StreamingPolicy) IngestSession(_ context.Context, rec *store.SessionRecord) error {
	p.mu.Lock()

	p.stats.incTotalSessionsLocked()

	replaced := false
	for i, buffered := range p.sessionBuffer {
		if buffered.SessionID == rec.SessionID {
			p.sessionBuffer[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		p.sessionBuffer = append(p.sessionBuffer, rec)
		p.bufferBytes += p.estimateSessionSize(rec)
		p.stats.setBufferSizeLocked(p.bufferBytes)
	}

	p.mu.Unlock()

	return nil
}

// Flush flushes all buffered data (termination trigger).
// Called before assembly and on shutdown.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.triggerFlush(ctx, FlushTriggerTermination)
}

// triggerFlush performs a flush with the given trigger reason.
// Serialized by flushMu to prevent concurrent writes.
//
// Strategy: swap buffers under mu, write outside mu, restore on failure.
// This allows IngestChunk/IngestSession to continue appending to fresh
// buffers during a write, without blocking on the sink.
func (p *StreamingPolicy) triggerFlush(ctx context.Context, trigger FlushTrigger) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	// Swap buffers under mu
	p.mu.Lock()

	// Record trigger type
	switch trigger {
	case FlushTriggerCount:
		p.flushByCount++
	case FlushTriggerInterval:
		p.flushByInterval++
	case FlushTriggerTermination:
		p.flushByTermination++
	}

	p.stats.incFlushLocked()

	chunks := p.chunkBuffer
	sessions := p.sessionBuffer

	// Nothing to flush
	if len(chunks) == 0 && len(sessions) == 0 {
		p.mu.Unlock()
		return nil
	}

	// Install fresh buffers so ingestion can continue during write
	p.chunkBuffer = make([]*store.ChunkRecord, 0, 128)
	p.sessionBuffer = make([]*store.SessionRecord, 0)
	p.recalculateBufferBytes()

	p.mu.Unlock()

	// Write chunks first so a durable snapshot never references chunks
	// the store has not seen
	if len(chunks) > 0 {
		if err := p.sink.WriteChunks(ctx, chunks); err != nil {
			// Restore both buffers: prepend old data before any new data
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.chunkBuffer = append(chunks, p.chunkBuffer...)
			p.sessionBuffer = append(sessions, p.sessionBuffer...)
			p.recalculateBufferBytes()
			p.mu.Unlock()
			p.logFlushFailure("chunks", trigger, err)
			return err
		}
		p.mu.Lock()
		p.stats.incChunksPersistedLocked(int64(len(chunks)))
		p.mu.Unlock()
	}

	// Write sessions
	if len(sessions) > 0 {
		if err := p.sink.WriteSessions(ctx, sessions); err != nil {
			// Chunks succeeded; restore only sessions
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.sessionBuffer = append(sessions, p.sessionBuffer...)
			p.recalculateBufferBytes()
			p.mu.Unlock()
			p.logFlushFailure("sessions", trigger, err)
			return err
		}
		p.mu.Lock()
		p.stats.incSessionsPersistedLocked(int64(len(sessions)))
		p.mu.Unlock()
	}

	p.logFlush(trigger, len(chunks), len(sessions))

	return nil
}

// Close stops the interval goroutine and closes the sink.
func (p *StreamingPolicy) Close() error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()

	// Best-effort flush on close
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns policy statistics.
// Returns an atomic snapshot: the buffer mutex is held while taking the
// snapshot, ensuring all counters and buffer size are consistent.
func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats.snapshotLocked(p.bufferBytes)
}

// FlushTriggerStats returns per-trigger flush counts for observability.
// These are additive to the base Stats.
func (p *StreamingPolicy) FlushTriggerStats() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[FlushTrigger]int64{
		FlushTriggerCount:       p.flushByCount,
		FlushTriggerInterval:    p.flushByInterval,
		FlushTriggerTermination: p.flushByTermination,
	}
}

// intervalLoop runs in a goroutine and triggers flushes on the configured interval.
func (p *StreamingPolicy) intervalLoop() {
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			hasData := len(p.chunkBuffer) > 0 || len(p.sessionBuffer) > 0
			p.mu.Unlock()

			if hasData {
				// Best-effort interval flush — errors logged but not fatal
				_ = p.triggerFlush(context.Background(), FlushTriggerInterval)
			}
		case <-p.stopCh:
			return
		}
	}
}

// estimateSessionSize returns an estimated size in bytes for a session record.
func (p *StreamingPolicy) estimateSessionSize(rec *store.SessionRecord) int64 {
	size := int64(200)
	if rec.Metadata != nil {
		size += int64(len(rec.Metadata) * 50)
	}
	return size
}

// recalculateBufferBytes recalculates bufferBytes from all buffers. Caller must hold mu.
func (p *StreamingPolicy) recalculateBufferBytes() {
	var total int64
	for _, rec := range p.chunkBuffer {
		total += int64(len(rec.Payload)) + 120
	}
	for _, rec := range p.sessionBuffer {
		total += p.estimateSessionSize(rec)
	}
	p.bufferBytes = total
	p.stats.setBufferSizeLocked(p.bufferBytes)
}

// --- Logging helpers ---

func (p *StreamingPolicy) logFlush(trigger FlushTrigger, chunks, sessions int) {
	if p.logger == nil {
		return
	}
	p.logger.Info("streaming flush", map[string]any{
		"trigger":  string(trigger),
		"chunks":   chunks,
		"sessions": sessions,
		"policy":   "streaming",
	})
}

func (p *StreamingPolicy) logFlushFailure(bufferType string, trigger FlushTrigger, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("streaming flush failed", map[string]any{
		"buffer_type": bufferType,
		"trigger":     string(trigger),
		"error":       err.Error(),
		"policy":      "streaming",
	})
}

// Verify StreamingPolicy implements Policy.
var _ Policy = (*StreamingPolicy)(nil)
