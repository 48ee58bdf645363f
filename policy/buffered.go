package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/store"
)

// FlushMode controls flush semantics for BufferedPolicy.
type FlushMode string

const (
	// FlushAtLeastOnce preserves all buffers on any failure.
	// May cause duplicate writes on retry, but guarantees no data loss.
	// This is the default and safest mode.
	FlushAtLeastOnce FlushMode = "at_least_once"

	// FlushChunksFirst writes chunks before session snapshots.
	// If chunks fail, sessions are not written (no duplicates).
	// If chunks succeed but sessions fail, chunks are not re-written.
	FlushChunksFirst FlushMode = "chunks_first"

	// FlushTwoPhase tracks per-buffer success to avoid duplicates.
	// Chunks written successfully are not re-written on retry even if
	// the session batch fails. Requires internal state tracking.
	FlushTwoPhase FlushMode = "two_phase"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferRecords is the maximum number of records to buffer
	// (chunks and session snapshots combined).
	// Zero means no limit (use MaxBufferBytes instead).
	MaxBufferRecords int

	// MaxBufferBytes is the maximum buffer size in bytes (estimated).
	// Zero means no limit (use MaxBufferRecords instead).
	// At least one limit must be set.
	MaxBufferBytes int64

	// FlushMode controls flush failure semantics.
	// Default is FlushAtLeastOnce (safest, may duplicate on retry).
	FlushMode FlushMode

	// Logger is an optional logger for policy observability.
	// If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultBufferedConfig returns sensible defaults for buffered policy.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferRecords: 1000,
		MaxBufferBytes:   10 * 1024 * 1024, // 10 MB
		FlushMode:        FlushAtLeastOnce,
	}
}

// ErrBufferFull is returned when the buffer is full and the record is a
// chunk, which must never be dropped.
var ErrBufferFull = errors.New("buffer full: cannot accept chunk record")

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferRecords or MaxBufferBytes must be set")

// ErrInvalidFlushMode is returned when FlushMode is unknown.
var ErrInvalidFlushMode = errors.New("invalid flush mode")

// BufferedPolicy implements buffered persistence with drop rules.
//
// Rules:
//   - Bounded buffer with explicit limits
//   - May drop: session snapshots (superseded by the next one)
//   - Must NOT drop: chunk records
//   - Batch writes on flush; chunks always written before sessions so a
//     durable session snapshot never claims chunks the store lacks
//   - Flush before assembly and on shutdown
//
// Session snapshots coalesce: a newer snapshot for the same session
// replaces the buffered one instead of appending, so the session buffer
// holds at most one record per live session.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu              sync.Mutex // guards buffer state only
	chunkBuffer     []*store.ChunkRecord
	chunkBufferNext []*store.ChunkRecord // TwoPhase: chunks added after chunksFlushed=true
	sessionBuffer   []*store.SessionRecord
	bufferBytes     int64
	chunksFlushed   bool // TwoPhase: chunkBuffer written, awaiting session success
	stats           *statsRecorder
}

// NewBufferedPolicy creates a new buffered policy.
// Returns error if config is invalid.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferRecords <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}

	// Default flush mode
	if config.FlushMode == "" {
		config.FlushMode = FlushAtLeastOnce
	}

	// Validate flush mode
	switch config.FlushMode {
	case FlushAtLeastOnce, FlushChunksFirst, FlushTwoPhase:
		// valid
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidFlushMode, config.FlushMode)
	}

	return &BufferedPolicy{
		sink:            sink,
		config:          config,
		logger:          config.Logger,
		chunkBuffer:     make([]*store.ChunkRecord, 0, max(config.MaxBufferRecords, 100)),
		chunkBufferNext: make([]*store.ChunkRecord, 0),
		sessionBuffer:   make([]*store.SessionRecord, 0),
		stats:           newStatsRecorder(),
	}, nil
}

// IngestChunk buffers the chunk record.
// Chunk records are never dropped. If the buffer is full, the policy
// first tries to evict buffered session snapshots (re-derivable), then
// fails with ErrBufferFull.
//
// In TwoPhase mode, chunks added after a partial flush go to chunkBufferNext.
func (p *BufferedPolicy) IngestChunk(ctx context.Context, rec *store.ChunkRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.incTotalChunksLocked()

	chunkSize := p.estimateChunkSize(rec)

	if p.hasRoomForRecord(chunkSize) {
		p.appendChunk(rec, chunkSize)
		return nil
	}

	// Buffer full: evict session snapshots until the chunk fits
	for p.dropOldestSession() {
		if p.hasRoomForRecord(chunkSize) {
			p.appendChunk(rec, chunkSize)
			return nil
		}
	}

	// No room even with an empty session buffer
	p.stats.incErrorsLocked()
	p.logBufferOverflow(rec.SessionID)
	return fmt.Errorf("%w: chunk size %d exceeds remaining capacity", ErrBufferFull, chunkSize)
}

// appendChunk adds a chunk to the appropriate buffer. Caller must hold mu.
// In TwoPhase mode with chunksFlushed=true, appends to chunkBufferNext.
func (p *BufferedPolicy) appendChunk(rec *store.ChunkRecord, chunkSize int64) {
	if p.config.FlushMode == FlushTwoPhase && p.chunksFlushed {
		// Chunks added after partial flush go to next buffer
		p.chunkBufferNext = append(p.chunkBufferNext, rec)
	} else {
		p.chunkBuffer = append(p.chunkBuffer, rec)
	}
	p.bufferBytes += chunkSize
	p.stats.setBufferSizeLocked(p.bufferBytes)
}

// IngestSession buffers a session snapshot, coalescing with any buffered
// snapshot for the same session. If the buffer is full the snapshot is
// dropped; the next one carries the same information and more.
func (p *BufferedPolicy) IngestSession(ctx context.Context, rec *store.SessionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.incTotalSessionsLocked()

	recSize := p.estimateSessionSize(rec)

	// Coalesce: replace an in-buffer snapshot for the same session
	for i, buffered := range p.sessionBuffer {
		if buffered.SessionID == rec.SessionID {
			p.bufferBytes += recSize - p.estimateSessionSize(buffered)
			p.sessionBuffer[i] = rec
			p.stats.setBufferSizeLocked(p.bufferBytes)
			return nil
		}
	}

	if p.hasRoomForRecord(recSize) {
		p.sessionBuffer = append(p.sessionBuffer, rec)
		p.bufferBytes += recSize
		p.stats.setBufferSizeLocked(p.bufferBytes)
		return nil
	}

	// Buffer full: snapshots are droppable
	p.stats.incSessionsDroppedLocked()
	p.logDrop(rec.SessionID, "buffer_full")
	return nil
}

// Flush writes all buffered chunks and session snapshots to the sink.
// Behavior depends on FlushMode configuration.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	switch p.config.FlushMode {
	case FlushChunksFirst:
		return p.flushChunksFirst(ctx)
	case FlushTwoPhase:
		return p.flushTwoPhase(ctx)
	default:
		return p.flushAtLeastOnce(ctx)
	}
}

// flushAtLeastOnce writes chunks then sessions; preserves all buffers on
// any failure. Chunks go first so a durable snapshot never references
// chunks the store has not seen.
func (p *BufferedPolicy) flushAtLeastOnce(ctx context.Context) error {
	p.mu.Lock()
	p.stats.incFlushLocked()
	chunks := p.chunkBuffer
	sessions := p.sessionBuffer
	p.mu.Unlock()

	if len(chunks) > 0 {
		if err := p.sink.WriteChunks(ctx, chunks); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.mu.Unlock()
			p.logFlushFailure("chunks", err)
			// Keep all buffers intact - prefer duplicates over loss
			return err
		}
		p.mu.Lock()
		p.stats.incChunksPersistedLocked(int64(len(chunks)))
		p.mu.Unlock()
	}

	if len(sessions) > 0 {
		if err := p.sink.WriteSessions(ctx, sessions); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.mu.Unlock()
			p.logFlushFailure("sessions", err)
			// Keep all buffers intact - prefer duplicates over loss
			return err
		}
		p.mu.Lock()
		p.stats.incSessionsPersistedLocked(int64(len(sessions)))
		p.mu.Unlock()
	}

	// Clear buffers only after full success
	p.mu.Lock()
	p.clearChunkBuffer()
	p.clearSessionBuffer()
	p.mu.Unlock()

	return nil
}

// flushChunksFirst writes chunks, then sessions.
// If chunks fail, sessions are not written.
func (p *BufferedPolicy) flushChunksFirst(ctx context.Context) error {
	p.mu.Lock()
	p.stats.incFlushLocked()
	chunks := p.chunkBuffer
	sessions := p.sessionBuffer
	p.mu.Unlock()

	if len(chunks) > 0 {
		if err := p.sink.WriteChunks(ctx, chunks); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.mu.Unlock()
			// Keep all buffers - sessions not attempted
			return err
		}
		p.mu.Lock()
		p.stats.incChunksPersistedLocked(int64(len(chunks)))
		p.mu.Unlock()
	}

	if len(sessions) > 0 {
		if err := p.sink.WriteSessions(ctx, sessions); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			// Chunks succeeded, sessions failed - clear chunks only
			p.clearChunkBuffer()
			p.mu.Unlock()
			return err
		}
		p.mu.Lock()
		p.stats.incSessionsPersistedLocked(int64(len(sessions)))
		p.mu.Unlock()
	}

	// Clear all buffers after full success
	p.mu.Lock()
	p.clearChunkBuffer()
	p.clearSessionBuffer()
	p.mu.Unlock()

	return nil
}

// flushTwoPhase tracks per-buffer success to avoid duplicates on retry.
// Handles chunks added after a partial flush via chunkBufferNext.
func (p *BufferedPolicy) flushTwoPhase(ctx context.Context) error {
	p.mu.Lock()
	p.stats.incFlushLocked()
	chunks := p.chunkBuffer
	chunksNext := p.chunkBufferNext
	sessions := p.sessionBuffer
	chunksFlushed := p.chunksFlushed
	p.mu.Unlock()

	// Write original chunks if not already flushed
	if len(chunks) > 0 && !chunksFlushed {
		if err := p.sink.WriteChunks(ctx, chunks); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.mu.Unlock()
			return err
		}
		p.mu.Lock()
		p.stats.incChunksPersistedLocked(int64(len(chunks)))
		p.chunksFlushed = true // Mark original chunks as written
		p.mu.Unlock()
	}

	// Write new chunks added after partial flush
	if len(chunksNext) > 0 {
		if err := p.sink.WriteChunks(ctx, chunksNext); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.mu.Unlock()
			return err
		}
		p.mu.Lock()
		p.stats.incChunksPersistedLocked(int64(len(chunksNext)))
		p.mu.Unlock()
	}

	// Write sessions
	if len(sessions) > 0 {
		if err := p.sink.WriteSessions(ctx, sessions); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			// Chunks written; chunksFlushed remains true
			// Clear chunkBufferNext and update buffer accounting
			p.clearChunkBufferNext()
			p.mu.Unlock()
			return err
		}
		p.mu.Lock()
		p.stats.incSessionsPersistedLocked(int64(len(sessions)))
		p.mu.Unlock()
	}

	// Clear all buffers and reset state after full success
	p.mu.Lock()
	p.clearChunkBuffer()
	p.clearChunkBufferNext()
	p.clearSessionBuffer()
	p.chunksFlushed = false
	p.mu.Unlock()

	return nil
}

// clearChunkBuffer resets the chunk buffer. Caller must hold mu.
func (p *BufferedPolicy) clearChunkBuffer() {
	p.chunkBuffer = make([]*store.ChunkRecord, 0, max(p.config.MaxBufferRecords, 100))
	p.recalculateBufferBytes()
}

// clearChunkBufferNext resets the next chunk buffer (TwoPhase). Caller must hold mu.
func (p *BufferedPolicy) clearChunkBufferNext() {
	p.chunkBufferNext = make([]*store.ChunkRecord, 0)
	p.recalculateBufferBytes()
}

// clearSessionBuffer resets the session buffer. Caller must hold mu.
func (p *BufferedPolicy) clearSessionBuffer() {
	p.sessionBuffer = make([]*store.SessionRecord, 0)
	p.recalculateBufferBytes()
}

// recalculateBufferBytes recalculates bufferBytes from all buffers. Caller must hold mu.
func (p *BufferedPolicy) recalculateBufferBytes() {
	var total int64
	for _, rec := range p.chunkBuffer {
		total += p.estimateChunkSize(rec)
	}
	for _, rec := range p.chunkBufferNext {
		total += p.estimateChunkSize(rec)
	}
	for _, rec := range p.sessionBuffer {
		total += p.estimateSessionSize(rec)
	}
	p.bufferBytes = total
	p.stats.setBufferSizeLocked(p.bufferBytes)
}

// Close flushes remaining data and closes the sink.
func (p *BufferedPolicy) Close() error {
	// Best-effort flush on close
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns policy statistics.
// Returns an atomic snapshot: the buffer mutex is held while taking the
// snapshot, ensuring all counters and buffer size are captured from the
// same point in time.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats.snapshotLocked(p.bufferBytes)
}

// hasRoomForRecord checks if the buffer can accept a record of the given size.
func (p *BufferedPolicy) hasRoomForRecord(size int64) bool {
	// Check record count limit (all buffers combined)
	totalRecords := len(p.chunkBuffer) + len(p.chunkBufferNext) + len(p.sessionBuffer)
	if p.config.MaxBufferRecords > 0 && totalRecords >= p.config.MaxBufferRecords {
		return false
	}

	return p.hasRoomForBytes(size)
}

// hasRoomForBytes checks if adding bytes would exceed the byte limit.
func (p *BufferedPolicy) hasRoomForBytes(size int64) bool {
	if p.config.MaxBufferBytes > 0 && p.bufferBytes+size > p.config.MaxBufferBytes {
		return false
	}
	return true
}

// dropOldestSession removes the oldest buffered session snapshot.
// Returns true if a snapshot was dropped, false if none are buffered.
// Caller must hold mu.
func (p *BufferedPolicy) dropOldestSession() bool {
	if len(p.sessionBuffer) == 0 {
		return false
	}

	rec := p.sessionBuffer[0]
	recSize := p.estimateSessionSize(rec)
	p.sessionBuffer = p.sessionBuffer[1:]
	p.bufferBytes -= recSize
	p.stats.setBufferSizeLocked(p.bufferBytes)
	p.stats.incSessionsDroppedLocked()
	p.logDrop(rec.SessionID, "evicted_for_chunk")
	return true
}

// estimateChunkSize returns an estimated size in bytes for a chunk record.
func (p *BufferedPolicy) estimateChunkSize(rec *store.ChunkRecord) int64 {
	// Payload dominates; 120 covers the row fields
	return int64(len(rec.Payload)) + 120
}

// estimateSessionSize returns an estimated size in bytes for a session record.
// This is a rough estimate for buffer management.
func (p *BufferedPolicy) estimateSessionSize(rec *store.SessionRecord) int64 {
	size := int64(200)
	if rec.Metadata != nil {
		size += int64(len(rec.Metadata) * 50) // rough estimate per field
	}
	return size
}

// --- Logging helpers ---

func (p *BufferedPolicy) logDrop(sessionID, reason string) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("session snapshot dropped", map[string]any{
		"session_id": sessionID,
		"reason":     reason,
		"policy":     "buffered",
	})
}

func (p *BufferedPolicy) logBufferOverflow(sessionID string) {
	if p.logger == nil {
		return
	}
	p.logger.Error("buffer overflow", map[string]any{
		"session_id": sessionID,
		"policy":     "buffered",
	})
}

func (p *BufferedPolicy) logFlushFailure(bufferType string, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("flush failed", map[string]any{
		"buffer_type": bufferType,
		"error":       err.Error(),
		"policy":      "buffered",
	})
}
