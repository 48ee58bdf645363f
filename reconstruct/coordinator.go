// Package reconstruct orchestrates the reconstruction pipeline: raw scan
// strings are decoded, folded into session state, persisted through the
// policy layer, and assembled into complete files once every declared
// chunk has arrived.
//
// The coordinator is purely reactive. It performs no timed retries of
// its own; missing-chunk prompting belongs to an external scheduler fed
// by the OnMissingChunks callback, and retention sweeps run only when
// the host calls SweepRetention.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/mosaic/adapter"
	"github.com/justapithecus/mosaic/archive"
	"github.com/justapithecus/mosaic/format"
	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/metrics"
	"github.com/justapithecus/mosaic/policy"
	"github.com/justapithecus/mosaic/session"
	"github.com/justapithecus/mosaic/store"
	"github.com/justapithecus/mosaic/types"
)

// DefaultStaleTimeout is how long an incomplete session may sit idle
// before a retention sweep evicts it.
const DefaultStaleTimeout = 30 * time.Minute

// DefaultCompletedRetention is how long terminal sessions and their
// stored chunks are kept before a retention sweep purges them.
const DefaultCompletedRetention = 168 * time.Hour

// Callbacks are the outward notification surface. All fields are
// optional. Callbacks run synchronously on the ingestion path; panics
// are collaborator programming errors and are NOT recovered.
type Callbacks struct {
	// OnProgress fires after every ingested chunk, duplicates included.
	OnProgress func(sessionID string, progress float64, status types.SessionStatus)
	// OnComplete fires once per transfer, after assembly and
	// verification succeed.
	OnComplete func(file *types.AssembledFile)
	// OnFailed fires when a session hits a conflict or fails
	// verification. Verification failures are recoverable; the session
	// returns to active and more scans may still complete it.
	OnFailed func(sessionID string, reason error)
	// OnMissingChunks fires when assembly finds gaps, naming the
	// missing indices. The external retry scheduler decides what to do.
	OnMissingChunks func(sessionID string, missing []int)
}

// Config wires the coordinator's collaborators and tuning.
// Decoder, Registry, Store, and Policy are required.
type Config struct {
	Decoder  *format.Decoder
	Registry *session.Registry
	Store    store.Store
	Policy   policy.Policy

	// Archive receives assembled files. Nil disables archiving; the
	// file is still delivered through OnComplete.
	Archive archive.Sink
	// Adapters receives transfer terminal events. Nil disables
	// publication. Publish failures are logged, never fatal.
	Adapters adapter.Adapter

	Callbacks Callbacks
	// Collector records pipeline metrics. Nil disables collection
	// (all collector methods are nil-safe).
	Collector *metrics.Collector
	// Logger defaults to a stderr logger scoped to reconstruct.
	Logger *log.Logger

	// StaleTimeout is the idle eviction age for incomplete sessions
	// (default 30m).
	StaleTimeout time.Duration
	// CompletedRetention is the purge age for terminal sessions
	// (default 168h).
	CompletedRetention time.Duration
}

// ScanResult reports what one scan did to its session.
type ScanResult struct {
	// SessionID is the session the scan was routed to.
	SessionID string `json:"session_id"`
	// Kind is the decoded record classification.
	Kind types.ChunkKind `json:"kind"`
	// Protocol is the wire grammar that produced the record.
	Protocol string `json:"protocol"`
	// Update is the registry state after the fold.
	Update types.SessionUpdate `json:"update"`
	// Duplicate is true when the scan re-delivered an already received
	// chunk index.
	Duplicate bool `json:"duplicate,omitempty"`
	// File is set when this scan completed the transfer and assembly
	// succeeded.
	File *types.AssembledFile `json:"-"`
}

// Coordinator drives the reconstruction state machine. One coordinator
// serves all sessions; ingestion is serialized per session, so scans for
// different transfers proceed independently.
type Coordinator struct {
	decoder   *format.Decoder
	registry  *session.Registry
	store     store.Store
	policy    policy.Policy
	archive   archive.Sink
	adapters  adapter.Adapter
	callbacks Callbacks
	collector *metrics.Collector
	logger    *log.Logger

	staleTimeout       time.Duration
	completedRetention time.Duration

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	assembling map[string]context.CancelFunc
}

// New creates a coordinator. Returns an error when a required
// collaborator is missing.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Decoder == nil {
		return nil, errors.New("reconstruct: decoder is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("reconstruct: registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("reconstruct: store is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("reconstruct: policy is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger("reconstruct")
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = DefaultCompletedRetention
	}

	return &Coordinator{
		decoder:            cfg.Decoder,
		registry:           cfg.Registry,
		store:              cfg.Store,
		policy:             cfg.Policy,
		archive:            cfg.Archive,
		adapters:           cfg.Adapters,
		callbacks:          cfg.Callbacks,
		collector:          cfg.Collector,
		logger:             cfg.Logger,
		staleTimeout:       cfg.StaleTimeout,
		completedRetention: cfg.CompletedRetention,
		locks:              make(map[string]*sync.Mutex),
		assembling:         make(map[string]context.CancelFunc),
	}, nil
}

// IngestScan processes one raw scan string end to end: decode, fold
// into the session, persist, and assemble when the scan completes the
// transfer.
//
// Error classes:
//   - *format.FormatError: the scan was unreadable; no session touched.
//   - *session.OutOfRangeError: the chunk was dropped; session stays
//     live.
//   - *session.ProtocolConflictError, *session.LimitError, store
//     conflicts: the session moved to failed.
//   - *store.IncompleteError, *VerificationError: assembly could not
//     finish; the session stays live and more scans may complete it.
//
// The returned ScanResult is non-nil whenever a session was touched,
// including on error.
func (c *Coordinator) IngestScan(ctx context.Context, raw string) (*ScanResult, error) {
	c.collector.IncScan()

	chunk, err := c.decoder.Decode(raw)
	if err != nil {
		c.collector.IncDecodeFailed()
		c.logger.Warn("scan discarded", map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}
	c.collector.IncDecoded(chunk.ProtocolTag)

	// Verification and completion records may arrive without a session
	// id. They can only be routed when exactly one transfer is live.
	if chunk.SessionID == "" {
		id, ok := c.registry.SoleActive()
		if !ok {
			c.logger.Warn("unroutable record", map[string]any{
				"kind":     string(chunk.Kind),
				"protocol": chunk.ProtocolTag,
			})
			return nil, fmt.Errorf("unroutable %s record: %w", chunk.Kind, session.ErrNoSessionID)
		}
		chunk.SessionID = id
	}

	unlock := c.lockSession(chunk.SessionID)
	defer unlock()

	return c.ingestLocked(ctx, chunk)
}

// ingestLocked folds one decoded chunk while holding the session lock.
func (c *Coordinator) ingestLocked(ctx context.Context, chunk *types.NormalizedChunk) (*ScanResult, error) {
	_, existed := c.registry.Snapshot(chunk.SessionID)

	update, err := c.registry.Ingest(chunk)
	result := &ScanResult{
		SessionID: chunk.SessionID,
		Kind:      chunk.Kind,
		Protocol:  chunk.ProtocolTag,
		Update:    update,
	}

	if !existed && update.SessionID != "" {
		c.collector.IncSessionStarted()
		c.logger.Info("session opened", map[string]any{
			"session_id": chunk.SessionID,
			"protocol":   chunk.ProtocolTag,
		})
	}

	if err != nil {
		switch {
		case session.IsOutOfRange(err):
			// One mis-scan must not kill a transfer.
			c.logger.Warn("chunk dropped", map[string]any{
				"session_id": chunk.SessionID,
				"error":      err.Error(),
			})
			return result, err
		case errors.Is(err, session.ErrSessionLimit):
			c.logger.Warn("session rejected", map[string]any{
				"error": err.Error(),
			})
			return result, err
		default:
			// Protocol conflicts and limit violations are terminal for
			// the session.
			c.failSession(ctx, chunk.SessionID, err)
			return result, err
		}
	}

	if chunk.Kind.OccupiesSlot() {
		if update.IsNewChunk {
			c.collector.IncChunkNew()
		} else {
			c.collector.IncChunkDuplicate()
			result.Duplicate = true
		}

		// Duplicates are persisted too: the store's byte-equality check
		// is what detects a re-scanned index carrying different bytes.
		if err := c.policy.IngestChunk(ctx, chunkRecord(chunk)); err != nil {
			c.collector.IncStoreWriteFailure()
			c.failSession(ctx, chunk.SessionID, err)
			return result, err
		}
		c.collector.IncStoreWriteSuccess()
	}

	c.persistSession(ctx, chunk.SessionID)
	c.notifyProgress(update)

	if update.IsComplete && update.Status == types.StatusActive {
		file, err := c.assembleLocked(ctx, chunk.SessionID)
		if err != nil {
			return result, err
		}
		result.File = file
	}

	return result, nil
}

// HandleScan implements the feed handler boundary for the daemon
// socket. Scan-level failures are already logged and counted here, so
// only unroutable records surface to the feed server's warning log.
func (c *Coordinator) HandleScan(ctx context.Context, frame *types.ScanFrame) error {
	_, err := c.IngestScan(ctx, frame.Raw)
	if err != nil && errors.Is(err, session.ErrNoSessionID) {
		return err
	}
	return nil
}

// HandleReset implements the reset control frame for the daemon socket.
func (c *Coordinator) HandleReset(ctx context.Context, frame *types.ResetFrame) error {
	return c.Reset(ctx, frame.SessionID)
}

// MissingChunks returns the ascending missing indices for a session, or
// false if the session is unknown. This is the delegation point for the
// external retry scheduler.
func (c *Coordinator) MissingChunks(sessionID string) ([]int, bool) {
	return c.registry.MissingChunks(sessionID)
}

// Reset discards a session: any in-flight assembly is canceled, the
// registry entry is removed, and all stored chunks are deleted. Other
// sessions are untouched.
func (c *Coordinator) Reset(ctx context.Context, sessionID string) error {
	// Cancel before taking the session lock: an in-flight assembly
	// holds the lock and must abort first.
	c.cancelAssembly(sessionID)

	unlock := c.lockSession(sessionID)
	defer unlock()

	removed := c.registry.Remove(sessionID)
	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session %s: %w", sessionID, err)
	}
	c.dropLock(sessionID)

	if removed {
		c.logger.Info("session reset", map[string]any{
			"session_id": sessionID,
		})
	}
	return nil
}

// failSession moves a session to failed and notifies collaborators.
// Failed sessions accept no further chunks; only Reset clears them.
func (c *Coordinator) failSession(ctx context.Context, sessionID string, cause error) {
	c.registry.MarkStatus(sessionID, types.StatusFailed)
	c.collector.IncSessionFailed()
	c.persistSession(ctx, sessionID)

	c.logger.Error("session failed", map[string]any{
		"session_id": sessionID,
		"error":      cause.Error(),
	})

	if c.callbacks.OnFailed != nil {
		c.callbacks.OnFailed(sessionID, cause)
	}
	c.publishFailed(ctx, sessionID, cause)
}

// persistSession pushes the current session snapshot through the policy.
// Snapshots are droppable: the next chunk re-emits a superseding one, so
// a failed upsert is only worth a warning.
func (c *Coordinator) persistSession(ctx context.Context, sessionID string) {
	snap, ok := c.registry.Snapshot(sessionID)
	if !ok {
		return
	}
	if err := c.policy.IngestSession(ctx, sessionRecord(snap)); err != nil {
		c.logger.Warn("session snapshot not persisted", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func (c *Coordinator) notifyProgress(update types.SessionUpdate) {
	if c.callbacks.OnProgress != nil {
		c.callbacks.OnProgress(update.SessionID, update.Progress, update.Status)
	}
}

// publishFailed sends a transfer_failed event, best effort.
func (c *Coordinator) publishFailed(ctx context.Context, sessionID string, cause error) {
	if c.adapters == nil {
		return
	}
	protocol := ""
	if snap, ok := c.registry.Snapshot(sessionID); ok {
		protocol = snap.Protocol
	}
	if err := c.adapters.Publish(ctx, adapter.NewFailedEvent(sessionID, protocol, cause)); err != nil {
		c.logger.Warn("transfer event publish failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// lockSession acquires the per-session ingestion lock and returns its
// release func. Scans for one session are strictly serialized; distinct
// sessions never contend.
func (c *Coordinator) lockSession(sessionID string) func() {
	c.mu.Lock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// dropLock forgets a session's lock entry. Call only while holding the
// lock for a session that is being discarded.
func (c *Coordinator) dropLock(sessionID string) {
	c.mu.Lock()
	delete(c.locks, sessionID)
	c.mu.Unlock()
}

// chunkRecord builds the persisted row for a slot-occupying chunk.
func chunkRecord(chunk *types.NormalizedChunk) *store.ChunkRecord {
	return &store.ChunkRecord{
		SessionID: chunk.SessionID,
		Index:     chunk.Index,
		Payload:   chunk.Payload,
		Checksum:  store.PayloadChecksum(chunk.Payload),
		Verified:  chunkChecksumMatches(chunk),
		StoredAt:  time.Now(),
	}
}

// sessionRecord maps a registry snapshot onto the persisted session row.
func sessionRecord(snap *session.Session) *store.SessionRecord {
	return &store.SessionRecord{
		SessionID:     snap.ID,
		Filename:      snap.Filename,
		DeclaredSize:  snap.DeclaredSize,
		Checksum:      snap.DeclaredChecksum,
		TotalChunks:   snap.TotalChunks,
		Status:        snap.Status,
		Protocol:      snap.Protocol,
		Metadata:      snap.Metadata,
		BytesReceived: snap.BytesReceived,
		CreatedAt:     snap.CreatedAt,
		UpdatedAt:     snap.LastActivity,
	}
}
