package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/justapithecus/mosaic/types"
)

// decodeCompact decodes the compact single-letter generator grammar:
// i (index), d (hex payload), t (total), s (session id, sci fallback),
// c (per-chunk checksum), m (metadata object, meaningful only when i==0).
// Sentinel indices -1/-2 on the wire become verification/completion kinds.
func (d *Decoder) decodeCompact(obj map[string]any) (*types.NormalizedChunk, error) {
	index, ok := intField(obj, "i")
	if !ok {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "compact record has a non-numeric index",
		}
	}
	if index < -2 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  fmt.Sprintf("compact record index %d out of range", index),
		}
	}

	session, sessionOK := stringField(obj, "s", "sci")
	checksum, _ := stringField(obj, "c")

	switch index {
	case -1:
		return &types.NormalizedChunk{
			Kind:             types.KindVerification,
			Index:            -1,
			Payload:          []byte{},
			SessionID:        session,
			Checksum:         strings.ToLower(checksum),
			DeclaredFileSize: types.SizeUnknown,
			ProtocolTag:      types.ProtocolCompactJSON,
		}, nil
	case -2:
		return &types.NormalizedChunk{
			Kind:             types.KindCompletion,
			Index:            -1,
			Payload:          []byte{},
			SessionID:        session,
			DeclaredFileSize: types.SizeUnknown,
			ProtocolTag:      types.ProtocolCompactJSON,
		}, nil
	}

	// Data records must route somewhere; verification and completion may
	// fall back to sole-active-session routing upstream, data cannot.
	if !sessionOK {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "compact record lacks a session id",
		}
	}

	hexPayload, _ := stringField(obj, "d")
	payload, err := d.decodeHexPayload(hexPayload, types.ProtocolCompactJSON)
	if err != nil {
		return nil, err
	}

	total, totalOK := intField(obj, "t")
	if totalOK && total < 1 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  fmt.Sprintf("compact record total must be >= 1, got %d", total),
		}
	}
	if !totalOK {
		total = defaultTotal(index)
	}

	chunk := &types.NormalizedChunk{
		Kind:             kindForIndex(index),
		Index:            index,
		TotalChunks:      total,
		Payload:          payload,
		SessionID:        session,
		Checksum:         strings.ToLower(checksum),
		DeclaredFileSize: types.SizeUnknown,
		ProtocolTag:      types.ProtocolCompactJSON,
	}

	if index == 0 {
		if meta, ok := obj["m"].(map[string]any); ok && len(meta) > 0 {
			chunk.Extra = meta
			if name, ok := stringField(meta, "name", "filename"); ok {
				chunk.DeclaredFilename = name
			}
			if size, ok := int64Field(meta, "size", "file_size"); ok {
				chunk.DeclaredFileSize = size
			}
		}
	}
	return chunk, nil
}

// decodeQRFile decodes the named-field qrfile grammar (base64 payload).
// Several field-name generations coexist on the wire; aliases are checked
// in priority order, first non-null wins. Sentinel indices -1/-2 become
// verification/completion kinds. A record dispatched by its fmt tag alone
// is a standalone single-chunk transfer: index defaults to 0.
func (d *Decoder) decodeQRFile(obj map[string]any) (*types.NormalizedChunk, error) {
	index, indexOK := intField(obj, "index")
	if !indexOK {
		index = 0
	}
	if index < -2 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  fmt.Sprintf("qrfile record index %d out of range", index),
		}
	}

	name, _ := stringField(obj, "name", "filename")
	size, sizeOK := int64Field(obj, "size", "file_size")
	if !sizeOK {
		size = types.SizeUnknown
	}
	total, totalOK := intField(obj, "total")
	if totalOK && total < 1 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  fmt.Sprintf("qrfile record total must be >= 1, got %d", total),
		}
	}

	session, sessionOK := stringField(obj, "session_id", "session")
	if !sessionOK {
		session = syntheticSessionID(name, strconv.Itoa(total), strconv.FormatInt(size, 10))
	}

	switch index {
	case -1:
		checksum, _ := stringField(obj, "file_sha256", "file_hash", "sha256", "hash", "checksum")
		return &types.NormalizedChunk{
			Kind:             types.KindVerification,
			Index:            -1,
			TotalChunks:      total,
			Payload:          []byte{},
			SessionID:        session,
			Checksum:         strings.ToLower(checksum),
			DeclaredFilename: name,
			DeclaredFileSize: size,
			ProtocolTag:      types.ProtocolQRFileJSON,
			Extra: extraFields(obj,
				"fmt", "index", "name", "filename", "total", "size", "file_size",
				"session_id", "session", "data_b64",
				"file_sha256", "file_hash", "sha256", "hash", "checksum",
			),
		}, nil
	case -2:
		return &types.NormalizedChunk{
			Kind:             types.KindCompletion,
			Index:            -1,
			TotalChunks:      total,
			Payload:          []byte{},
			SessionID:        session,
			DeclaredFilename: name,
			DeclaredFileSize: size,
			ProtocolTag:      types.ProtocolQRFileJSON,
			Extra: extraFields(obj,
				"fmt", "index", "name", "filename", "total", "size", "file_size",
				"session_id", "session", "data_b64",
			),
		}, nil
	}

	if !totalOK {
		total = defaultTotal(index)
		if !sessionOK {
			// Keep the synthetic id stable with the defaulted total.
			session = syntheticSessionID(name, strconv.Itoa(total), strconv.FormatInt(size, 10))
		}
	}

	b64Payload, _ := stringField(obj, "data_b64")
	payload, err := d.decodeBase64Payload(b64Payload, types.ProtocolQRFileJSON)
	if err != nil {
		return nil, err
	}

	checksum, _ := stringField(obj, "chunk_hash", "chunk_sha256", "checksum")

	return &types.NormalizedChunk{
		Kind:             kindForIndex(index),
		Index:            index,
		TotalChunks:      total,
		Payload:          payload,
		SessionID:        session,
		Checksum:         strings.ToLower(checksum),
		DeclaredFilename: name,
		DeclaredFileSize: size,
		ProtocolTag:      types.ProtocolQRFileJSON,
		Extra: extraFields(obj,
			"fmt", "index", "name", "filename", "total", "size", "file_size",
			"session_id", "session", "data_b64",
			"chunk_hash", "chunk_sha256", "checksum",
		),
	}, nil
}
