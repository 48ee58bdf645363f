package format

import (
	"errors"
	"fmt"
)

// FormatErrorKind classifies scan decoding failures.
type FormatErrorKind int

const (
	// FormatErrorUnrecognized indicates no grammar accepted the string.
	FormatErrorUnrecognized FormatErrorKind = iota
	// FormatErrorMalformed indicates a grammar claimed the string but the
	// record was structurally invalid (bad token count, non-numeric index).
	FormatErrorMalformed
	// FormatErrorByteDecode indicates a payload hex/base64 failure in
	// strict mode. Never produced in lenient mode.
	FormatErrorByteDecode
)

// FormatError reports a scan that could not be normalized. It is local to
// the offending scan: the session it would have joined is unaffected.
//
//nolint:revive // name matches the wire contract vocabulary in PROTOCOL.md
type FormatError struct {
	Kind FormatErrorKind
	Msg  string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError returns true if err is a *FormatError.
func IsFormatError(err error) bool {
	var formatErr *FormatError
	return errors.As(err, &formatErr)
}
