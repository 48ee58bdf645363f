package format

import (
	"strconv"
	"strings"

	"github.com/justapithecus/mosaic/types"
)

// decodeFileColon decodes the 5-field FILE: grammar:
//
//	FILE:<1-based index>:<total>:<session id>:<base64 payload>
//
// The wire index is 1-based and converted to 0-based here; nothing
// downstream ever sees a 1-based index.
func (d *Decoder) decodeFileColon(raw string) (*types.NormalizedChunk, error) {
	parts := strings.SplitN(raw, ":", 5)
	if len(parts) != 5 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "FILE record needs 5 colon-delimited fields",
		}
	}

	wireIndex, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "FILE record has a non-numeric index",
			Err:  err,
		}
	}
	total, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "FILE record has a non-numeric total",
			Err:  err,
		}
	}
	if wireIndex < 1 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "FILE record index is 1-based, got " + parts[1],
		}
	}
	if total < 1 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "FILE record total must be >= 1, got " + parts[2],
		}
	}
	if parts[3] == "" {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "FILE record has an empty session id",
		}
	}

	payload, err := d.decodeBase64Payload(parts[4], types.ProtocolFileColon)
	if err != nil {
		return nil, err
	}

	index := wireIndex - 1
	return &types.NormalizedChunk{
		Kind:             kindForIndex(index),
		Index:            index,
		TotalChunks:      total,
		Payload:          payload,
		SessionID:        parts[3],
		DeclaredFileSize: types.SizeUnknown,
		ProtocolTag:      types.ProtocolFileColon,
	}, nil
}

// decodeLegacyColon decodes the legacy 8-token grammar:
//
//	F:<filename>:I:<index>:T:<total>:D:<base64 payload>
//
// This is the last grammar consulted; its rejection is the terminal
// "unrecognized scan" error. The grammar carries no session id, so a
// synthetic id is derived from the filename and total.
func (d *Decoder) decodeLegacyColon(raw string) (*types.NormalizedChunk, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 8 || parts[0] != "F" || parts[2] != "I" || parts[4] != "T" || parts[6] != "D" {
		return nil, &FormatError{
			Kind: FormatErrorUnrecognized,
			Msg:  "unrecognized scan format",
		}
	}

	index, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "legacy record has a non-numeric index",
			Err:  err,
		}
	}
	total, err := strconv.Atoi(parts[5])
	if err != nil {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "legacy record has a non-numeric total",
			Err:  err,
		}
	}
	if index < 0 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "legacy record index must be >= 0, got " + parts[3],
		}
	}
	if total < 1 {
		return nil, &FormatError{
			Kind: FormatErrorMalformed,
			Msg:  "legacy record total must be >= 1, got " + parts[5],
		}
	}

	payload, err := d.decodeBase64Payload(parts[7], types.ProtocolLegacyColon)
	if err != nil {
		return nil, err
	}

	name := parts[1]
	return &types.NormalizedChunk{
		Kind:             kindForIndex(index),
		Index:            index,
		TotalChunks:      total,
		Payload:          payload,
		SessionID:        syntheticSessionID(name, strconv.Itoa(total)),
		DeclaredFilename: name,
		DeclaredFileSize: types.SizeUnknown,
		ProtocolTag:      types.ProtocolLegacyColon,
	}, nil
}
