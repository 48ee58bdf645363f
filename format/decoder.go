// Package format normalizes raw QR scan strings into chunk records per PROTOCOL.md.
//
// Seven wire grammars are supported. Classification is ordered and
// first-match: reserved literal prefixes are checked before JSON field
// signatures, and the legacy colon grammar is only consulted when the
// string is not valid JSON. Each grammar decoder is total over its
// accepted shape: missing optional fields decode to documented defaults
// instead of failing.
package format

import (
	"crypto/md5" //nolint:gosec // session ids are routing tokens, not integrity checks
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/types"
)

// Reserved literal prefixes per PROTOCOL.md. Checked in declaration order
// before any JSON parse is attempted.
const (
	// PrefixVQR2JSON marks a plain-JSON verification record.
	PrefixVQR2JSON = "VQR2JSON:"
	// PrefixVQR2B64 marks a base64-wrapped JSON verification record.
	PrefixVQR2B64 = "VQR2B64:"
	// PrefixQRVMarker marks a bare completion marker.
	PrefixQRVMarker = "QRVFILE_"
	// PrefixFile marks a 5-field colon-delimited data record.
	PrefixFile = "FILE:"
)

// Config controls decoder behavior.
type Config struct {
	// StrictBytes makes malformed hex/base64 payloads a decode error.
	// When false (the default), a malformed payload degrades to an empty
	// payload with a logged warning and the record is otherwise kept.
	StrictBytes bool
}

// Stats is a snapshot of decoder counters.
type Stats struct {
	// Total is the number of Decode calls.
	Total int64 `json:"total"`
	// Decoded is the number of successful decodes.
	Decoded int64 `json:"decoded"`
	// Failed is the number of decodes that produced a FormatError.
	Failed int64 `json:"failed"`
	// ByProtocol counts successful decodes per protocol tag.
	ByProtocol map[string]int64 `json:"by_protocol"`
}

// Decoder classifies raw scan strings and decodes them into normalized
// chunk records. Decoding is stateless; the decoder only accumulates
// counters, so one Decoder is safe for concurrent use.
type Decoder struct {
	cfg    Config
	logger *log.Logger

	mu    sync.Mutex
	stats Stats
}

// NewDecoder creates a decoder. A nil logger defaults to a stderr logger
// scoped to the format component.
func NewDecoder(cfg Config, logger *log.Logger) *Decoder {
	if logger == nil {
		logger = log.NewLogger("format")
	}
	return &Decoder{
		cfg:    cfg,
		logger: logger,
		stats:  Stats{ByProtocol: make(map[string]int64)},
	}
}

// Decode normalizes one raw scan string.
//
// Returns a *FormatError when no grammar accepts the string or when an
// accepted grammar finds the record structurally invalid. Duplicate and
// out-of-range indices are not the decoder's concern; the registry owns
// those rules.
func (d *Decoder) Decode(raw string) (*types.NormalizedChunk, error) {
	chunk, err := d.decode(strings.TrimSpace(raw))

	d.mu.Lock()
	d.stats.Total++
	if err != nil {
		d.stats.Failed++
	} else {
		d.stats.Decoded++
		d.stats.ByProtocol[chunk.ProtocolTag]++
	}
	d.mu.Unlock()

	return chunk, err
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := d.stats
	snapshot.ByProtocol = make(map[string]int64, len(d.stats.ByProtocol))
	for tag, n := range d.stats.ByProtocol {
		snapshot.ByProtocol[tag] = n
	}
	return snapshot
}

// decode runs the ordered first-match classification.
func (d *Decoder) decode(raw string) (*types.NormalizedChunk, error) {
	switch {
	case strings.HasPrefix(raw, PrefixVQR2JSON):
		return d.decodeVQR2JSON(raw)
	case strings.HasPrefix(raw, PrefixVQR2B64):
		return d.decodeVQR2B64(raw)
	case strings.HasPrefix(raw, PrefixQRVMarker):
		return d.decodeQRVMarker(raw)
	case strings.HasPrefix(raw, PrefixFile):
		return d.decodeFileColon(raw)
	}

	// Not a reserved prefix: try the whole string as a JSON object and
	// classify by field signature. Only when JSON parsing fails does the
	// legacy colon grammar get a chance.
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return d.decodeJSONObject(obj)
	}

	return d.decodeLegacyColon(raw)
}

// decodeJSONObject classifies a parsed JSON object by field signature.
// No version tag is trusted on its own; the compact signature is checked
// first, then the qrfile signatures.
func (d *Decoder) decodeJSONObject(obj map[string]any) (*types.NormalizedChunk, error) {
	if hasKey(obj, "i") && hasKey(obj, "d") {
		return d.decodeCompact(obj)
	}

	if fmtTag, ok := stringField(obj, "fmt"); ok && strings.HasPrefix(fmtTag, "qrfile/") {
		return d.decodeQRFile(obj)
	}
	if hasKey(obj, "index") && hasKey(obj, "data_b64") {
		return d.decodeQRFile(obj)
	}

	return nil, &FormatError{
		Kind: FormatErrorUnrecognized,
		Msg:  "json object matches no known grammar",
	}
}

// syntheticSessionID derives a stable session id from identity fields for
// grammars that carry no identifier. Routing token only, not an integrity
// check; matches the engine derivation documented in PROTOCOL.md.
func syntheticSessionID(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "_"))) //nolint:gosec // routing token
	return hex.EncodeToString(sum[:])[:16]
}

// kindForIndex classifies a slot-occupying record by position.
func kindForIndex(index int) types.ChunkKind {
	if index == 0 {
		return types.KindHeader
	}
	return types.KindData
}

// defaultTotal applies the standalone-record default: a grammar that omits
// the total on its first chunk declares a single-chunk transfer; on any
// later chunk an omitted total stays unknown so the header can declare it.
func defaultTotal(index int) int {
	if index == 0 {
		return 1
	}
	return 0
}
