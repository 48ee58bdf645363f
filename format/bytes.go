package format

import (
	"encoding/base64"
	"encoding/hex"
)

// decodeHexPayload decodes a hex-encoded chunk payload. An odd-length or
// otherwise malformed string degrades to an empty payload with a warning
// in lenient mode and fails in strict mode.
func (d *Decoder) decodeHexPayload(s, tag string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}

	if len(s)%2 != 0 {
		return d.degradedPayload(tag, "odd-length hex payload", nil)
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return d.degradedPayload(tag, "invalid hex payload", err)
	}
	return data, nil
}

// decodeBase64Payload decodes a base64-encoded chunk payload. Unpadded
// input is tolerated; a malformed string degrades to an empty payload with
// a warning in lenient mode and fails in strict mode.
func (d *Decoder) decodeBase64Payload(s, tag string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return raw, nil
	}

	return d.degradedPayload(tag, "invalid base64 payload", err)
}

// degradedPayload implements the lenient/strict split for payload byte
// failures: empty payload plus a warning, or a byte-decode error.
func (d *Decoder) degradedPayload(tag, msg string, cause error) ([]byte, error) {
	if d.cfg.StrictBytes {
		return nil, &FormatError{
			Kind: FormatErrorByteDecode,
			Msg:  msg,
			Err:  cause,
		}
	}

	fields := map[string]any{"protocol": tag, "reason": msg}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	d.logger.Warn("payload degraded to empty bytes", fields)
	return []byte{}, nil
}
