// Package metrics provides ingest metrics collection.
//
// The Collector accumulates counters while scans flow through the pipeline.
// It is a leaf package with no internal dependencies. Persistence policy
// metrics are absorbed from policy.Stats at flush boundaries rather than
// recorded live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all ingest metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation. The JSON form is the daemon's persisted heartbeat payload,
// so field names are part of the on-disk format.
type Snapshot struct {
	// Scan intake
	ScansTotal    int64            `json:"scans_total"`
	ScansDecoded  int64            `json:"scans_decoded"`
	DecodeFailed  int64            `json:"decode_failed"`
	CountByFormat map[string]int64 `json:"count_by_format,omitempty"`

	// Chunk dedup
	ChunksNew       int64 `json:"chunks_new"`
	ChunksDuplicate int64 `json:"chunks_duplicate"`

	// Session lifecycle
	SessionsStarted   int64 `json:"sessions_started"`
	SessionsCompleted int64 `json:"sessions_completed"`
	SessionsFailed    int64 `json:"sessions_failed"`
	SessionsExpired   int64 `json:"sessions_expired"`

	// Verification
	VerifySuccess int64 `json:"verify_success"`
	VerifyFailure int64 `json:"verify_failure"`

	// Persistence (absorbed from policy.Stats)
	ChunksPersisted int64 `json:"chunks_persisted"`
	FlushCount      int64 `json:"flush_count"`
	PolicyErrors    int64 `json:"policy_errors"`

	// Store / archive write operations (per-call)
	StoreWriteSuccess   int64 `json:"store_write_success"`
	StoreWriteFailure   int64 `json:"store_write_failure"`
	ArchiveWriteSuccess int64 `json:"archive_write_success"`
	ArchiveWriteFailure int64 `json:"archive_write_failure"`

	// Dimensions (informational, set at construction)
	Policy         string `json:"policy"`
	StoreBackend   string `json:"store_backend"`
	ArchiveBackend string `json:"archive_backend"`
}

// Collector accumulates metrics during an ingest run or daemon lifetime.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	// Scan intake
	scansTotal    int64
	scansDecoded  int64
	decodeFailed  int64
	countByFormat map[string]int64

	// Chunk dedup
	chunksNew       int64
	chunksDuplicate int64

	// Session lifecycle
	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64
	sessionsExpired   int64

	// Verification
	verifySuccess int64
	verifyFailure int64

	// Persistence (set via AbsorbPolicyStats)
	chunksPersisted int64
	flushCount      int64
	policyErrors    int64

	// Store / archive
	storeWriteSuccess   int64
	storeWriteFailure   int64
	archiveWriteSuccess int64
	archiveWriteFailure int64

	// Dimensions
	policy         string
	storeBackend   string
	archiveBackend string
}

// NewCollector creates a Collector with dimension labels.
// Dimensions identify the active policy, store backend, and archive backend
// so that emitted snapshots are self-describing.
func NewCollector(policy, storeBackend, archiveBackend string) *Collector {
	return &Collector{
		countByFormat:  make(map[string]int64),
		policy:         policy,
		storeBackend:   storeBackend,
		archiveBackend: archiveBackend,
	}
}

// --- Scan intake ---

// IncScan records an arriving raw scan, decoded or not.
func (c *Collector) IncScan() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.scansTotal++
	c.mu.Unlock()
}

// IncDecoded records a scan that matched a wire format.
// The tag is the protocol tag of the matching format.
func (c *Collector) IncDecoded(tag string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.scansDecoded++
	c.countByFormat[tag]++
	c.mu.Unlock()
}

// IncDecodeFailed records a scan no format recognized or that was malformed.
func (c *Collector) IncDecodeFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeFailed++
	c.mu.Unlock()
}

// --- Chunk dedup ---

// IncChunkNew records a chunk occupying a previously empty slot.
func (c *Collector) IncChunkNew() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksNew++
	c.mu.Unlock()
}

// IncChunkDuplicate records a re-scan of an already held slot.
func (c *Collector) IncChunkDuplicate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksDuplicate++
	c.mu.Unlock()
}

// --- Session lifecycle ---

// IncSessionStarted records a newly created session.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncSessionCompleted records a session reaching Completed.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCompleted++
	c.mu.Unlock()
}

// IncSessionFailed records a session transitioning to Failed.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	c.mu.Unlock()
}

// IncSessionExpired records a stale session evicted by the retention sweep.
func (c *Collector) IncSessionExpired() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsExpired++
	c.mu.Unlock()
}

// --- Verification ---

// IncVerifySuccess records an assembled file whose checksum matched.
func (c *Collector) IncVerifySuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.verifySuccess++
	c.mu.Unlock()
}

// IncVerifyFailure records a checksum mismatch on assembled bytes.
func (c *Collector) IncVerifyFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.verifyFailure++
	c.mu.Unlock()
}

// --- Store / archive writes ---
// Write counters are per-call, not per-record. A single WriteChunks call
// with N chunks counts as 1 success. Per-record granularity is tracked
// separately by policy.Stats.

// IncStoreWriteSuccess records a successful store write operation.
func (c *Collector) IncStoreWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeWriteSuccess++
	c.mu.Unlock()
}

// IncStoreWriteFailure records a failed store write operation.
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeWriteFailure++
	c.mu.Unlock()
}

// IncArchiveWriteSuccess records a successful archive sink write.
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteSuccess++
	c.mu.Unlock()
}

// IncArchiveWriteFailure records a failed archive sink write.
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteFailure++
	c.mu.Unlock()
}

// --- Persistence (absorbed from policy.Stats) ---

// AbsorbPolicyStats copies persistence counters from policy.Stats into the
// collector. Called at flush boundaries with the latest policy snapshot.
// The arguments are plain integers to keep this package free of dependencies
// on the policy package.
func (c *Collector) AbsorbPolicyStats(chunksPersisted, flushCount, errors int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksPersisted = chunksPersisted
	c.flushCount = flushCount
	c.policyErrors = errors
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byFormat := make(map[string]int64, len(c.countByFormat))
	for k, v := range c.countByFormat {
		byFormat[k] = v
	}

	return Snapshot{
		ScansTotal:    c.scansTotal,
		ScansDecoded:  c.scansDecoded,
		DecodeFailed:  c.decodeFailed,
		CountByFormat: byFormat,

		ChunksNew:       c.chunksNew,
		ChunksDuplicate: c.chunksDuplicate,

		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,
		SessionsExpired:   c.sessionsExpired,

		VerifySuccess: c.verifySuccess,
		VerifyFailure: c.verifyFailure,

		ChunksPersisted: c.chunksPersisted,
		FlushCount:      c.flushCount,
		PolicyErrors:    c.policyErrors,

		StoreWriteSuccess:   c.storeWriteSuccess,
		StoreWriteFailure:   c.storeWriteFailure,
		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,

		Policy:         c.policy,
		StoreBackend:   c.storeBackend,
		ArchiveBackend: c.archiveBackend,
	}
}
