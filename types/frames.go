//nolint:revive // types is a common Go package naming convention
package types

// Frame type discriminants per PROTOCOL.md. Every feed frame carries a
// `type` field; decoders probe it before choosing a concrete decode.
const (
	// ScanFrameType marks a scan frame.
	ScanFrameType = "scan"
	// ResetFrameType marks a reset control frame.
	ResetFrameType = "reset"
)

// ScanFrame carries one raw QR payload string into the daemon feed.
// All fields use msgpack tags to match the scanner-side wire format.
type ScanFrame struct {
	// Type is always "scan" for scan frames.
	Type string `msgpack:"type"`
	// Raw is the QR payload exactly as decoded from the image, undecoded
	// and untrimmed. The format decoder owns all interpretation.
	Raw string `msgpack:"raw"`
	// Source names the scanner that produced the frame (free-form).
	Source string `msgpack:"source,omitempty"`
	// Ts is the capture timestamp in ISO 8601 UTC format, if known.
	Ts string `msgpack:"ts,omitempty"`
}

// ResetFrame is a control frame that discards a session and its stored
// chunks. This is a control frame, NOT a scan; it bypasses the decoder.
type ResetFrame struct {
	// Type is always "reset" for reset frames.
	Type string `msgpack:"type"`
	// SessionID is the session to discard.
	SessionID string `msgpack:"session_id"`
}
