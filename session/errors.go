package session

import (
	"errors"
	"fmt"
)

// ErrNoSessionID is returned when a chunk reaches the registry without a
// session identifier. The coordinator resolves bare verification records
// before ingestion, so this indicates a routing bug upstream.
var ErrNoSessionID = errors.New("chunk carries no session id")

// ErrSessionLimit is returned when a chunk would create a session beyond
// the configured concurrent-session cap. The chunk is dropped; existing
// sessions are unaffected.
var ErrSessionLimit = errors.New("active session limit reached")

// ProtocolConflictError reports contradictory declarations within one
// session, such as two records declaring different chunk totals. The
// session is unrecoverable and moves to failed.
type ProtocolConflictError struct {
	SessionID string
	Field     string
	Have      string
	Got       string
}

func (e *ProtocolConflictError) Error() string {
	return fmt.Sprintf("session %s: conflicting %s declarations (%q then %q)", e.SessionID, e.Field, e.Have, e.Got)
}

// IsProtocolConflict reports whether err is a ProtocolConflictError.
func IsProtocolConflict(err error) bool {
	var conflictErr *ProtocolConflictError
	return errors.As(err, &conflictErr)
}

// OutOfRangeError reports a chunk whose index falls outside the declared
// range [0,Total). The chunk is rejected as corrupt; the session itself
// stays live.
type OutOfRangeError struct {
	SessionID string
	Index     int
	Total     int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("session %s: chunk index %d outside declared range [0,%d)", e.SessionID, e.Index, e.Total)
}

// IsOutOfRange reports whether err is an OutOfRangeError.
func IsOutOfRange(err error) bool {
	var rangeErr *OutOfRangeError
	return errors.As(err, &rangeErr)
}

// LimitError reports a declaration that exceeds a configured safety
// limit, such as a chunk total beyond max_chunks. The session moves to
// failed since it can never complete.
type LimitError struct {
	SessionID string
	Limit     string
	Value     int64
	Max       int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("session %s: %s exceeded (%d > %d)", e.SessionID, e.Limit, e.Value, e.Max)
}

// IsLimitError reports whether err is a LimitError.
func IsLimitError(err error) bool {
	var limitErr *LimitError
	return errors.As(err, &limitErr)
}
