package reader

import "context"

// Reader abstracts read-only data access for CLI commands. All methods
// must leave the underlying store untouched; mutating commands (reset,
// prune) talk to the store directly.
type Reader interface {
	// ListSessions returns session rows, newest activity first.
	ListSessions(ctx context.Context, opts ListOptions) ([]SessionItem, error)

	// InspectSession returns the full view of one session,
	// store.ErrNotFound if absent.
	InspectSession(ctx context.Context, sessionID string) (*SessionDetail, error)

	// MissingChunks reports the chunk gaps of one session.
	MissingChunks(ctx context.Context, sessionID string) (*MissingReport, error)

	// Stats aggregates session counts and the latest metrics heartbeat.
	Stats(ctx context.Context) (*StatsReport, error)
}
