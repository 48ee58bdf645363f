package session

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/mosaic/types"
)

// Limits caps what a single transfer may declare. Zero values disable
// the corresponding check.
type Limits struct {
	// MaxSessions caps concurrently tracked non-terminal sessions.
	MaxSessions int
	// MaxChunks caps the declared chunk total per transfer.
	MaxChunks int
	// MaxFileSize caps the declared file size in bytes.
	MaxFileSize int64
}

// Registry multiplexes decoded chunk records into per-session state. It
// is safe for concurrent use; every ingest is atomic with respect to the
// session it touches.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	limits   Limits
}

// NewRegistry creates an empty registry with the given limits.
func NewRegistry(limits Limits) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		limits:   limits,
	}
}

// Ingest folds one decoded chunk into its session, creating the session
// on first contact. The returned update always reflects the session's
// state after the fold, including when an error is returned.
//
// Errors:
//   - ErrNoSessionID when the chunk carries no session id
//   - ErrSessionLimit when a new session would exceed MaxSessions
//   - *ProtocolConflictError on contradictory declarations; the session
//     moves to failed
//   - *LimitError when a declaration exceeds a configured cap; the
//     session moves to failed
//   - *OutOfRangeError when a chunk index falls outside the declared
//     range; the chunk is dropped, the session stays live
//
// Terminal sessions absorb further chunks silently: the update reports
// the frozen state with IsNewChunk false.
func (r *Registry) Ingest(chunk *types.NormalizedChunk) (types.SessionUpdate, error) {
	if chunk.SessionID == "" {
		return types.SessionUpdate{}, ErrNoSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[chunk.SessionID]
	if !ok {
		if r.limits.MaxSessions > 0 && r.liveCountLocked() >= r.limits.MaxSessions {
			return types.SessionUpdate{}, ErrSessionLimit
		}
		now := time.Now()
		sess = &Session{
			ID:           chunk.SessionID,
			DeclaredSize: types.SizeUnknown,
			Received:     make(map[int]struct{}),
			Status:       types.StatusActive,
			Protocol:     chunk.ProtocolTag,
			CreatedAt:    now,
			LastActivity: now,
		}
		r.sessions[chunk.SessionID] = sess
	}

	if sess.Status.IsTerminal() {
		return updateFor(sess, false), nil
	}

	sess.LastActivity = time.Now()

	if err := r.foldDeclarations(sess, chunk); err != nil {
		sess.Status = types.StatusFailed
		return updateFor(sess, false), err
	}

	if chunk.TotalChunks > 0 {
		if err := r.foldTotal(sess, chunk.TotalChunks); err != nil {
			sess.Status = types.StatusFailed
			return updateFor(sess, false), err
		}
	}

	// Verification and completion records carry declarations only; they
	// never occupy a chunk slot or count toward received progress.
	if !chunk.Kind.OccupiesSlot() {
		return updateFor(sess, false), nil
	}

	if chunk.Index < 0 || (sess.TotalChunks > 0 && chunk.Index >= sess.TotalChunks) {
		return updateFor(sess, false), &OutOfRangeError{
			SessionID: sess.ID,
			Index:     chunk.Index,
			Total:     sess.TotalChunks,
		}
	}

	if _, dup := sess.Received[chunk.Index]; dup {
		return updateFor(sess, false), nil
	}

	sess.Received[chunk.Index] = struct{}{}
	sess.BytesReceived += chunk.PayloadLen()
	return updateFor(sess, true), nil
}

// foldDeclarations merges filename, size, checksum, and metadata
// declarations. First-declared values are authoritative; a later record
// disagreeing with them is a protocol conflict.
func (r *Registry) foldDeclarations(sess *Session, chunk *types.NormalizedChunk) error {
	if chunk.DeclaredFilename != "" {
		switch {
		case sess.Filename == "":
			sess.Filename = chunk.DeclaredFilename
		case sess.Filename != chunk.DeclaredFilename:
			return &ProtocolConflictError{
				SessionID: sess.ID,
				Field:     "filename",
				Have:      sess.Filename,
				Got:       chunk.DeclaredFilename,
			}
		}
	}

	if chunk.DeclaredFileSize >= 0 {
		if r.limits.MaxFileSize > 0 && chunk.DeclaredFileSize > r.limits.MaxFileSize {
			return &LimitError{
				SessionID: sess.ID,
				Limit:     "declared file size",
				Value:     chunk.DeclaredFileSize,
				Max:       r.limits.MaxFileSize,
			}
		}
		switch {
		case sess.DeclaredSize < 0:
			sess.DeclaredSize = chunk.DeclaredFileSize
		case sess.DeclaredSize != chunk.DeclaredFileSize:
			return &ProtocolConflictError{
				SessionID: sess.ID,
				Field:     "file size",
				Have:      strconv.FormatInt(sess.DeclaredSize, 10),
				Got:       strconv.FormatInt(chunk.DeclaredFileSize, 10),
			}
		}
	}

	if chunk.Kind == types.KindVerification && chunk.Checksum != "" {
		if err := mergeChecksum(sess, chunk.Checksum); err != nil {
			return err
		}
	}
	if fileHash := extraChecksum(chunk.Extra); fileHash != "" {
		if err := mergeChecksum(sess, fileHash); err != nil {
			return err
		}
	}

	if len(chunk.Extra) > 0 {
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]any, len(chunk.Extra))
		}
		for k, v := range chunk.Extra {
			sess.Metadata[k] = v
		}
	}

	return nil
}

// foldTotal applies a declared chunk total. The first declaration wins;
// a different later total, or a total that excludes an already received
// index, is a protocol conflict.
func (r *Registry) foldTotal(sess *Session, total int) error {
	if r.limits.MaxChunks > 0 && total > r.limits.MaxChunks {
		return &LimitError{
			SessionID: sess.ID,
			Limit:     "declared chunk total",
			Value:     int64(total),
			Max:       int64(r.limits.MaxChunks),
		}
	}

	if sess.TotalChunks == 0 {
		sess.TotalChunks = total
		for idx := range sess.Received {
			if idx >= total {
				return &ProtocolConflictError{
					SessionID: sess.ID,
					Field:     "chunk total",
					Have:      "received index " + strconv.Itoa(idx),
					Got:       strconv.Itoa(total),
				}
			}
		}
		return nil
	}

	if sess.TotalChunks != total {
		return &ProtocolConflictError{
			SessionID: sess.ID,
			Field:     "chunk total",
			Have:      strconv.Itoa(sess.TotalChunks),
			Got:       strconv.Itoa(total),
		}
	}

	return nil
}

// mergeChecksum folds a declared file-level checksum. Checksums arrive
// both full-length and as truncated prefixes, so prefix-compatible
// values refine each other; only genuinely different values conflict.
func mergeChecksum(sess *Session, checksum string) error {
	checksum = strings.ToLower(checksum)
	have := sess.DeclaredChecksum
	switch {
	case have == "":
		sess.DeclaredChecksum = checksum
	case strings.HasPrefix(have, checksum):
		// Shorter prefix of what we already hold; nothing new.
	case strings.HasPrefix(checksum, have):
		sess.DeclaredChecksum = checksum
	default:
		return &ProtocolConflictError{
			SessionID: sess.ID,
			Field:     "checksum",
			Have:      have,
			Got:       checksum,
		}
	}
	return nil
}

// extraChecksum pulls a file-level hash out of format metadata. Rich
// grammars carry it on data records under file_sha256 or file_hash.
func extraChecksum(extra map[string]any) string {
	for _, key := range []string{"file_sha256", "file_hash"} {
		if v, ok := extra[key].(string); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func updateFor(sess *Session, isNew bool) types.SessionUpdate {
	return types.SessionUpdate{
		SessionID:     sess.ID,
		IsNewChunk:    isNew,
		Progress:      sess.Progress(),
		IsComplete:    sess.IsComplete(),
		Status:        sess.Status,
		TotalChunks:   sess.TotalChunks,
		ReceivedCount: len(sess.Received),
	}
}

func (r *Registry) liveCountLocked() int {
	n := 0
	for _, sess := range r.sessions {
		if !sess.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy of one session, or false if unknown.
func (r *Registry) Snapshot(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// List returns deep copies of every tracked session, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MissingChunks returns the ascending missing indices for a session, or
// false if the session is unknown.
func (r *Registry) MissingChunks(sessionID string) ([]int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.MissingChunks(), true
}

// MarkStatus transitions a session's lifecycle state and bumps its
// activity timestamp. Returns false if the session is unknown.
func (r *Registry) MarkStatus(sessionID string, status types.SessionStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	sess.Status = status
	sess.LastActivity = time.Now()
	return true
}

// Remove drops a session from the registry. Returns false if unknown.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// Restore installs a session rebuilt from persistent storage, taking
// ownership of sess. Used during startup recovery.
func (r *Registry) Restore(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
}

// SoleActive returns the only non-terminal session when exactly one
// exists. Verification records without a session id route here.
func (r *Registry) SoleActive() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := ""
	for id, sess := range r.sessions {
		if sess.Status.IsTerminal() {
			continue
		}
		if found != "" {
			return "", false
		}
		found = id
	}
	return found, found != ""
}

// EvictStale removes non-terminal sessions idle longer than maxIdle as
// of now, returning their ids in ascending order.
func (r *Registry) EvictStale(now time.Time, maxIdle time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, sess := range r.sessions {
		if sess.Status.IsTerminal() {
			continue
		}
		if now.Sub(sess.LastActivity) > maxIdle {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Count returns the number of tracked sessions, terminal included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RegistryStats summarizes tracked sessions by lifecycle state.
type RegistryStats struct {
	Active     int   `json:"active"`
	Completing int   `json:"completing"`
	Completed  int   `json:"completed"`
	Failed     int   `json:"failed"`
	Chunks     int   `json:"chunks"`
	Bytes      int64 `json:"bytes"`
}

// Stats returns aggregate counts across all tracked sessions.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats RegistryStats
	for _, sess := range r.sessions {
		switch sess.Status {
		case types.StatusActive:
			stats.Active++
		case types.StatusCompleting:
			stats.Completing++
		case types.StatusCompleted:
			stats.Completed++
		case types.StatusFailed:
			stats.Failed++
		}
		stats.Chunks += len(sess.Received)
		stats.Bytes += sess.BytesReceived
	}
	return stats
}
