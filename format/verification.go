package format

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/justapithecus/mosaic/types"
)

// decodeVQR2JSON decodes a VQR2JSON: verification record. The remainder
// after the prefix is a JSON object with tolerant named fields.
func (d *Decoder) decodeVQR2JSON(raw string) (*types.NormalizedChunk, error) {
	body := raw[len(PrefixVQR2JSON):]

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "vqr2 verification record is not valid json",
			Err:  err,
		}
	}
	return buildVerification(obj, types.ProtocolVQR2JSON), nil
}

// decodeVQR2B64 decodes a VQR2B64: verification record: the remainder is
// base64-wrapped JSON. A broken envelope is a malformed record even in
// lenient mode; there is no payload to degrade, only structure.
func (d *Decoder) decodeVQR2B64(raw string) (*types.NormalizedChunk, error) {
	body := raw[len(PrefixVQR2B64):]

	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		if decoded, err = base64.RawStdEncoding.DecodeString(body); err != nil {
			return nil, &FormatError{
				Kind: FormatErrorMalformed,
				Msg:  "vqr2 verification envelope is not valid base64",
				Err:  err,
			}
		}
	}

	var obj map[string]any
	if err := json.Unmarshal(decoded, &obj); err != nil {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "vqr2 verification envelope does not wrap valid json",
			Err:  err,
		}
	}
	return buildVerification(obj, types.ProtocolVQR2B64), nil
}

// buildVerification folds a verification object into a normalized record.
// Field aliases per PROTOCOL.md: hash/sha256/checksum, name/filename,
// size/file_size, session/session_id. Unrecognized fields ride along in
// Extra for downstream collaborators.
func buildVerification(obj map[string]any, tag string) *types.NormalizedChunk {
	checksum, _ := stringField(obj, "hash", "sha256", "checksum")
	name, _ := stringField(obj, "name", "filename")
	size, sizeOK := int64Field(obj, "size", "file_size")
	if !sizeOK {
		size = types.SizeUnknown
	}
	total, _ := intField(obj, "total", "total_chunks")

	session, sessionOK := stringField(obj, "session", "session_id")
	if !sessionOK && name != "" {
		session = syntheticSessionID(name)
	}

	return &types.NormalizedChunk{
		Kind:             types.KindVerification,
		Index:            -1,
		TotalChunks:      total,
		Payload:          []byte{},
		SessionID:        session,
		Checksum:         strings.ToLower(checksum),
		DeclaredFilename: name,
		DeclaredFileSize: size,
		ProtocolTag:      tag,
		Extra: extraFields(obj,
			"hash", "sha256", "checksum",
			"name", "filename",
			"size", "file_size",
			"total", "total_chunks",
			"session", "session_id",
		),
	}
}

// decodeQRVMarker decodes a QRVFILE_ completion marker. The marker has no
// structure beyond the substring check; anything else under the prefix is
// malformed rather than a chunk of some other grammar.
func (d *Decoder) decodeQRVMarker(raw string) (*types.NormalizedChunk, error) {
	rest := raw[len(PrefixQRVMarker):]
	if !strings.Contains(rest, "COMPLETE") && !strings.Contains(rest, "END") {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "qrv marker lacks a completion keyword",
		}
	}

	return &types.NormalizedChunk{
		Kind:             types.KindCompletion,
		Index:            -1,
		Payload:          []byte{},
		DeclaredFileSize: types.SizeUnknown,
		ProtocolTag:      types.ProtocolQRVComplete,
		Extra:            map[string]any{"marker": raw},
	}, nil
}
