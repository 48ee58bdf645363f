//nolint:revive // types is a common Go package naming convention
package types

// SessionStatus represents the lifecycle state of a transfer session.
type SessionStatus string

// Session status constants.
const (
	// StatusActive means the session is accepting chunks.
	StatusActive SessionStatus = "active"
	// StatusCompleting means every declared chunk has arrived and assembly
	// is in progress.
	StatusCompleting SessionStatus = "completing"
	// StatusCompleted means the file was assembled and verified.
	StatusCompleted SessionStatus = "completed"
	// StatusFailed means the session hit an unrecoverable protocol or
	// storage conflict. Failed sessions accept no further chunks.
	StatusFailed SessionStatus = "failed"
)

// IsTerminal returns true if no further chunks can change this session.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SessionUpdate is the result of ingesting one chunk into the registry.
type SessionUpdate struct {
	// SessionID is the session the chunk was routed to.
	SessionID string `json:"session_id"`
	// IsNewChunk is true if the chunk occupied a previously empty slot.
	// Duplicates and non-slot records (verification, completion) are false.
	IsNewChunk bool `json:"is_new_chunk"`
	// Progress is received/total in [0,1]. 0 while the total is unknown.
	Progress float64 `json:"progress"`
	// IsComplete is true once every declared chunk has been received.
	IsComplete bool `json:"is_complete"`
	// Status is the session status after the update.
	Status SessionStatus `json:"status"`
	// TotalChunks is the declared total, 0 while unknown.
	TotalChunks int `json:"total_chunks"`
	// ReceivedCount is the number of distinct chunk indices received.
	ReceivedCount int `json:"received_count"`
}
