package reconstruct

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/mosaic/adapter"
	"github.com/justapithecus/mosaic/session"
	"github.com/justapithecus/mosaic/store"
	"github.com/justapithecus/mosaic/types"
)

// ErrUnknownSession is returned when an operation names a session the
// registry is not tracking.
var ErrUnknownSession = errors.New("unknown session")

// ErrTotalUnknown is returned when assembly is requested before any
// chunk has declared the transfer's total chunk count.
var ErrTotalUnknown = errors.New("chunk total not yet declared")

// VerificationError reports a file-level checksum mismatch after
// assembly. Recoverable: the session returns to active, and replacement
// scans or an explicit Reassemble may still produce a matching file.
type VerificationError struct {
	SessionID string
	Declared  string
	Computed  string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("session %s: assembled checksum %s does not match declared %s",
		e.SessionID, e.Computed, e.Declared)
}

// IsVerificationError reports whether err is a checksum mismatch.
func IsVerificationError(err error) bool {
	var verr *VerificationError
	return errors.As(err, &verr)
}

// Reassemble re-drives assembly for a session whose chunks are already
// stored. This is the retry path after a verification failure or an
// archive write error, and the manual completion path after Recover.
func (c *Coordinator) Reassemble(ctx context.Context, sessionID string) (*types.AssembledFile, error) {
	unlock := c.lockSession(sessionID)
	defer unlock()

	snap, ok := c.registry.Snapshot(sessionID)
	if !ok {
		return nil, fmt.Errorf("reassemble %s: %w", sessionID, ErrUnknownSession)
	}
	if snap.Status == types.StatusFailed {
		return nil, fmt.Errorf("reassemble %s: session is failed; reset it first", sessionID)
	}
	if snap.TotalChunks == 0 {
		return nil, fmt.Errorf("reassemble %s: %w", sessionID, ErrTotalUnknown)
	}

	return c.assembleLocked(ctx, sessionID)
}

// assembleLocked runs the assembly state machine for a complete session:
// load all chunks in index order, concatenate, verify, archive, emit.
// Caller holds the session lock.
//
// On a gap or checksum mismatch the session returns to active; on an
// archive write failure it also returns to active so a re-scan or
// Reassemble retries. Only load errors other than IncompleteError fail
// the session.
func (c *Coordinator) assembleLocked(ctx context.Context, sessionID string) (*types.AssembledFile, error) {
	c.registry.MarkStatus(sessionID, types.StatusCompleting)

	actx, done := c.trackAssembly(ctx, sessionID)
	defer done()

	// Assembly reads from the store, so everything buffered must land
	// first. A flush failure is a policy failure and fails the session.
	if err := c.policy.Flush(actx); err != nil {
		c.failSession(actx, sessionID, fmt.Errorf("flush before assembly: %w", err))
		return nil, err
	}

	snap, ok := c.registry.Snapshot(sessionID)
	if !ok {
		return nil, fmt.Errorf("assemble %s: %w", sessionID, ErrUnknownSession)
	}

	payloads, err := c.store.LoadAll(actx, sessionID, snap.TotalChunks)
	if err != nil {
		switch {
		case store.IsIncomplete(err):
			// Recoverable: the registry believed the session complete
			// but the store disagrees. Stay receiving, report the gaps.
			c.registry.MarkStatus(sessionID, types.StatusActive)
			var incomplete *store.IncompleteError
			if errors.As(err, &incomplete) && c.callbacks.OnMissingChunks != nil {
				c.callbacks.OnMissingChunks(sessionID, incomplete.Missing)
			}
			return nil, err
		case errors.Is(err, context.Canceled):
			// A concurrent Reset canceled the load; the reset owns
			// cleanup.
			return nil, err
		default:
			c.failSession(actx, sessionID, err)
			return nil, err
		}
	}

	assembled := make([]byte, 0, snap.BytesReceived)
	for _, payload := range payloads {
		assembled = append(assembled, payload...)
	}

	digest := sha256.Sum256(assembled)
	computed := hex.EncodeToString(digest[:])

	// Declared file hashes arrive both full-length and truncated, so
	// the comparison is prefix-based over the lowercase hex digest.
	if snap.DeclaredChecksum != "" && !strings.HasPrefix(computed, snap.DeclaredChecksum) {
		c.collector.IncVerifyFailure()
		c.registry.MarkStatus(sessionID, types.StatusActive)
		c.persistSession(actx, sessionID)

		verr := &VerificationError{
			SessionID: sessionID,
			Declared:  snap.DeclaredChecksum,
			Computed:  computed,
		}
		c.logger.Warn("verification failed", map[string]any{
			"session_id": sessionID,
			"declared":   verr.Declared,
			"computed":   verr.Computed,
		})
		if c.callbacks.OnFailed != nil {
			c.callbacks.OnFailed(sessionID, verr)
		}
		return nil, verr
	}
	if snap.DeclaredChecksum != "" {
		c.collector.IncVerifySuccess()
	}

	if snap.DeclaredSize >= 0 && snap.DeclaredSize != int64(len(assembled)) {
		// The checksum (when present) has already vouched for the
		// bytes; a size disagreement is diagnostic, not fatal.
		c.logger.Warn("assembled size differs from declared", map[string]any{
			"session_id": sessionID,
			"declared":   snap.DeclaredSize,
			"assembled":  len(assembled),
		})
	}

	now := time.Now()
	file := &types.AssembledFile{
		SessionID:   sessionID,
		Filename:    transferFilename(snap),
		Size:        int64(len(assembled)),
		SHA256:      computed,
		ChunkCount:  snap.TotalChunks,
		Protocol:    snap.Protocol,
		Verified:    snap.DeclaredChecksum != "",
		Metadata:    snap.Metadata,
		CompletedAt: now,
		Duration:    now.Sub(snap.CreatedAt),
		Bytes:       assembled,
	}

	location := ""
	if c.archive != nil {
		location, err = c.archive.Store(actx, file)
		if err != nil {
			c.collector.IncArchiveWriteFailure()
			c.registry.MarkStatus(sessionID, types.StatusActive)
			c.logger.Error("archive write failed", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			return nil, fmt.Errorf("archive %s: %w", sessionID, err)
		}
		c.collector.IncArchiveWriteSuccess()
	}

	c.registry.MarkStatus(sessionID, types.StatusCompleted)
	c.collector.IncSessionCompleted()
	c.persistSession(actx, sessionID)
	if err := c.policy.Flush(actx); err != nil {
		c.logger.Warn("final flush failed (best effort)", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	c.logger.Info("transfer complete", map[string]any{
		"session_id": sessionID,
		"filename":   file.Filename,
		"size":       file.Size,
		"chunks":     file.ChunkCount,
		"verified":   file.Verified,
		"location":   location,
	})

	if c.callbacks.OnComplete != nil {
		c.callbacks.OnComplete(file)
	}
	if c.adapters != nil {
		if err := c.adapters.Publish(actx, adapter.NewCompletedEvent(file, location)); err != nil {
			c.logger.Warn("transfer event publish failed", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}

	return file, nil
}

// trackAssembly registers a cancelable context for an in-flight
// assembly so Reset can abort it. The returned done func unregisters
// and releases the context.
func (c *Coordinator) trackAssembly(ctx context.Context, sessionID string) (context.Context, func()) {
	actx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.assembling[sessionID] = cancel
	c.mu.Unlock()

	return actx, func() {
		c.mu.Lock()
		delete(c.assembling, sessionID)
		c.mu.Unlock()
		cancel()
	}
}

// cancelAssembly aborts an in-flight assembly for the session, if any.
func (c *Coordinator) cancelAssembly(sessionID string) {
	c.mu.Lock()
	cancel, ok := c.assembling[sessionID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Recover rebuilds registry state from the store after a restart.
// Non-terminal sessions come back as active with their received set
// restored from stored chunk indices; terminal sessions stay on disk
// for the retention sweep. Returns the number of restored sessions.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	records, err := c.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}

	restored := 0
	for _, rec := range records {
		if rec.Status.IsTerminal() {
			continue
		}

		indices, err := c.store.ChunkIndices(ctx, rec.SessionID)
		if err != nil {
			return restored, fmt.Errorf("recover %s: %w", rec.SessionID, err)
		}

		received := make(map[int]struct{}, len(indices))
		for _, idx := range indices {
			received[idx] = struct{}{}
		}

		c.registry.Restore(&session.Session{
			ID:               rec.SessionID,
			Filename:         rec.Filename,
			DeclaredSize:     rec.DeclaredSize,
			DeclaredChecksum: rec.Checksum,
			TotalChunks:      rec.TotalChunks,
			Received:         received,
			BytesReceived:    rec.BytesReceived,
			Status:           types.StatusActive,
			Protocol:         rec.Protocol,
			Metadata:         rec.Metadata,
			CreatedAt:        rec.CreatedAt,
			LastActivity:     time.Now(),
		})
		restored++

		c.logger.Info("session restored", map[string]any{
			"session_id": rec.SessionID,
			"chunks":     len(indices),
			"total":      rec.TotalChunks,
		})
	}

	return restored, nil
}

// SweepResult names the sessions a retention sweep removed.
type SweepResult struct {
	// Expired are incomplete sessions evicted for inactivity.
	Expired []string `json:"expired,omitempty"`
	// Purged are terminal sessions removed after the retention window.
	Purged []string `json:"purged,omitempty"`
}

// SweepRetention evicts incomplete sessions idle past the stale timeout
// and purges terminal sessions older than the retention window, store
// rows included. The daemon calls this on a ticker.
func (c *Coordinator) SweepRetention(ctx context.Context, now time.Time) (*SweepResult, error) {
	result := &SweepResult{}

	for _, sessionID := range c.registry.EvictStale(now, c.staleTimeout) {
		if err := c.store.DeleteSession(ctx, sessionID); err != nil {
			return result, fmt.Errorf("sweep expired %s: %w", sessionID, err)
		}
		c.dropLock(sessionID)
		c.collector.IncSessionExpired()
		result.Expired = append(result.Expired, sessionID)
		c.logger.Info("stale session evicted", map[string]any{
			"session_id": sessionID,
		})
	}

	records, err := c.store.ListSessions(ctx)
	if err != nil {
		return result, fmt.Errorf("sweep: %w", err)
	}
	for _, rec := range records {
		if !rec.Status.IsTerminal() || now.Sub(rec.UpdatedAt) <= c.completedRetention {
			continue
		}
		if err := c.store.DeleteSession(ctx, rec.SessionID); err != nil {
			return result, fmt.Errorf("sweep purge %s: %w", rec.SessionID, err)
		}
		c.registry.Remove(rec.SessionID)
		c.dropLock(rec.SessionID)
		result.Purged = append(result.Purged, rec.SessionID)
		c.logger.Info("terminal session purged", map[string]any{
			"session_id": rec.SessionID,
			"status":     string(rec.Status),
		})
	}

	return result, nil
}

// chunkChecksumMatches reports whether a declared per-chunk checksum
// matches the payload. Declared hashes may be truncated prefixes of the
// full sha256 hex digest. Records without a declared checksum report
// false: unverified, not failed.
func chunkChecksumMatches(chunk *types.NormalizedChunk) bool {
	if chunk.Checksum == "" {
		return false
	}
	digest := sha256.Sum256(chunk.Payload)
	full := hex.EncodeToString(digest[:])
	return strings.HasPrefix(full, strings.ToLower(chunk.Checksum))
}

// transferFilename picks the output name: the declared filename when
// any grammar carried one, otherwise a session-derived fallback.
func transferFilename(snap *session.Session) string {
	if snap.Filename != "" {
		return snap.Filename
	}
	return snap.ID + ".bin"
}
