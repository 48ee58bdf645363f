// Package types defines core domain types for the Mosaic reconstruction engine.
// Wire field names conform to PROTOCOL.md.
//
//nolint:revive // types is a common Go package naming convention
package types

// ChunkKind classifies a normalized chunk per PROTOCOL.md.
type ChunkKind string

// Chunk kind constants per PROTOCOL.md.
const (
	// KindHeader is the first data chunk of a transfer (index 0). It may carry
	// transfer metadata in addition to payload bytes.
	KindHeader ChunkKind = "header"
	// KindData is a payload chunk at index >= 1.
	KindData ChunkKind = "data"
	// KindVerification carries a file-level checksum and metadata, no payload.
	KindVerification ChunkKind = "verification"
	// KindCompletion is a bare end-of-transfer marker, no payload.
	KindCompletion ChunkKind = "completion"
)

// OccupiesSlot returns true if chunks of this kind count toward the received
// set and the declared total. Verification and completion records never do.
func (k ChunkKind) OccupiesSlot() bool {
	return k == KindHeader || k == KindData
}

// Protocol tags identify which wire grammar produced a chunk.
// Diagnostic only; they never change reconstruction semantics.
const (
	ProtocolVQR2JSON    = "vqr2-json"
	ProtocolVQR2B64     = "vqr2-b64"
	ProtocolQRVComplete = "qrv-complete"
	ProtocolFileColon   = "file-colon"
	ProtocolCompactJSON = "compact-json"
	ProtocolQRFileJSON  = "qrfile-json"
	ProtocolLegacyColon = "legacy-colon"
)

// SizeUnknown marks an absent declared file size on the wire.
// Totals use 0 as the absent marker instead: a real total is always >= 1.
const SizeUnknown int64 = -1

// NormalizedChunk is the single internal record every wire grammar decodes
// into, per PROTOCOL.md. Downstream components never see raw scan strings.
type NormalizedChunk struct {
	// Kind is the chunk classification.
	Kind ChunkKind `json:"kind"`
	// Index is the 0-based chunk position. -1 for verification and
	// completion records; never consulted there.
	Index int `json:"index"`
	// TotalChunks is the declared chunk count. 0 means the grammar did not
	// carry a total; a grammar that implies a standalone record declares 1.
	TotalChunks int `json:"total_chunks"`
	// Payload is the decoded chunk bytes. Empty for verification and
	// completion records.
	Payload []byte `json:"-"`
	// SessionID routes the chunk to its transfer session. Synthetic for
	// grammars that carry no identifier (md5 prefix of stable identity
	// fields, see PROTOCOL.md).
	SessionID string `json:"session_id"`
	// Checksum is a lowercase hex digest: per-chunk payload hash on
	// header/data records, file-level hash on verification records.
	// May be a truncated prefix of the full digest. Empty when absent.
	Checksum string `json:"checksum,omitempty"`
	// DeclaredFilename is the transfer filename if the wire carried one.
	DeclaredFilename string `json:"declared_filename,omitempty"`
	// DeclaredFileSize is the declared total file size in bytes, or
	// SizeUnknown when the wire carried nothing.
	DeclaredFileSize int64 `json:"declared_file_size"`
	// ProtocolTag names the grammar that produced this chunk.
	ProtocolTag string `json:"protocol_tag"`
	// Extra holds format metadata for downstream collaborators
	// (compression, encryption, error-correction parameters).
	Extra map[string]any `json:"extra,omitempty"`
}

// PayloadLen returns the decoded payload length in bytes.
func (c *NormalizedChunk) PayloadLen() int64 {
	return int64(len(c.Payload))
}
