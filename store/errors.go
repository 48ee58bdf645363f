package store

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates different bytes are already stored at the
	// same (session, index) key. First write wins; the stored row is
	// never overwritten.
	ErrConflict = errors.New("conflicting bytes already stored")

	// ErrIncomplete indicates a full-session load hit a gap. The error
	// value is an *IncompleteError naming the missing indices.
	ErrIncomplete = errors.New("session incomplete")

	// ErrCorrupt indicates a stored row violates an invariant, such as
	// a chunk index at or beyond the declared total.
	ErrCorrupt = errors.New("corrupt record")

	// ErrBusy indicates the database is locked by another writer.
	ErrBusy = errors.New("database busy")
)

// StoreError wraps an underlying error with storage classification. It
// preserves the original error in the chain for inspection via
// errors.As.
//
//nolint:revive // name matches the taxonomy vocabulary in STORAGE.md
type StoreError struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Op is the operation that failed (e.g. "put chunk", "load").
	Op string
	// Session is the session id involved, if any.
	Session string
	// Err is the underlying error.
	Err error
}

func (e *StoreError) Error() string {
	if e.Session != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Session, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewStoreError creates a classified storage error.
func NewStoreError(kind error, op, session string, err error) *StoreError {
	return &StoreError{
		Kind:    kind,
		Op:      op,
		Session: session,
		Err:     err,
	}
}

// IncompleteError reports the gap set that blocked a full-session load.
// It matches ErrIncomplete under errors.Is; use errors.As to read the
// missing indices.
type IncompleteError struct {
	SessionID string
	Total     int
	Missing   []int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("session %s incomplete: %d/%d chunks stored, missing %v",
		e.SessionID, e.Total-len(e.Missing), e.Total, e.Missing)
}

// Is reports whether the target is the incomplete sentinel.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncomplete
}

// IsNotFound reports whether err indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err indicates a byte conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsIncomplete reports whether err indicates a gapped session.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

// classifyError determines the appropriate sentinel for a raw backend
// error. Classification is by message pattern; the underlying error
// stays in the chain for callers that need more.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "sqlite_busy"), strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "sqlite_locked"):
		return ErrBusy
	case strings.Contains(msg, "sqlite_corrupt"), strings.Contains(msg, "malformed"),
		strings.Contains(msg, "not a database"):
		return ErrCorrupt
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "unable to open"):
		return ErrNotFound
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "sqlite_constraint"):
		return ErrConflict
	default:
		return errors.New("storage error")
	}
}
