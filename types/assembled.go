//nolint:revive // types is a common Go package naming convention
package types

import "time"

// AssembledFile is the reconstruction output handed to archive sinks,
// completion callbacks, and adapters once a session reaches Completed.
// Bytes are the authoritative content; Size always equals len(Bytes).
type AssembledFile struct {
	// SessionID is the transfer session that produced this file.
	SessionID string `json:"session_id"`
	// Filename is the declared transfer filename, or a session-derived
	// fallback when no grammar carried one.
	Filename string `json:"filename"`
	// Size is the assembled length in bytes.
	Size int64 `json:"size"`
	// SHA256 is the full lowercase hex digest of the assembled bytes.
	SHA256 string `json:"sha256"`
	// ChunkCount is the number of chunks concatenated.
	ChunkCount int `json:"chunk_count"`
	// Protocol is the wire grammar tag of the first chunk seen.
	Protocol string `json:"protocol"`
	// Verified is true if a declared file checksum was present and matched.
	// False means verification was skipped, not that it failed.
	Verified bool `json:"verified"`
	// Metadata is the folded format metadata for downstream collaborators
	// (compression, encryption, error-correction parameters).
	Metadata map[string]any `json:"metadata,omitempty"`
	// CompletedAt is when assembly and verification finished.
	CompletedAt time.Time `json:"completed_at"`
	// Duration is the time from session creation to completion.
	Duration time.Duration `json:"duration"`
	// Bytes is the assembled file content.
	Bytes []byte `json:"-"`
}
