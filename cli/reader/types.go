// Package reader provides the read-side data access layer for the CLI.
//
// Read-only commands (sessions, stats, watch) go through a Reader
// rather than touching the store interface directly, so view shapes
// stay stable when the store grows columns and so tests and the TUI can
// run against canned data.
package reader

import "time"

// SessionItem is one row of `sessions list`.
type SessionItem struct {
	SessionID     string    `json:"session_id"`
	Filename      string    `json:"filename,omitempty"`
	Status        string    `json:"status"`
	Received      int       `json:"received"`
	Total         int       `json:"total"`
	Progress      float64   `json:"progress"`
	BytesReceived int64     `json:"bytes_received"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SessionDetail is the full view of one session for `sessions inspect`.
type SessionDetail struct {
	SessionID     string         `json:"session_id"`
	Filename      string         `json:"filename,omitempty"`
	Status        string         `json:"status"`
	Protocol      string         `json:"protocol,omitempty"`
	DeclaredSize  int64          `json:"declared_size"`
	Checksum      string         `json:"checksum,omitempty"`
	Total         int            `json:"total"`
	Received      int            `json:"received"`
	BytesReceived int64          `json:"bytes_received"`
	Missing       []int          `json:"missing,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// MissingReport lists the chunk gaps of one session.
type MissingReport struct {
	SessionID string `json:"session_id"`
	Total     int    `json:"total"`
	Received  int    `json:"received"`
	// Missing is the sorted list of absent indices. Empty when the
	// session is complete; nil when the total is still unknown.
	Missing []int `json:"missing"`
}

// SessionCounts breaks the session population down by status.
type SessionCounts struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Completing int `json:"completing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// StatsReport is the `stats` command payload: session counts plus the
// latest persisted metrics heartbeat, when one exists.
type StatsReport struct {
	Sessions      SessionCounts `json:"sessions"`
	BytesReceived int64         `json:"bytes_received"`
	Metrics       *MetricsView  `json:"metrics,omitempty"`
}

// MetricsView is a parsed metrics heartbeat. Field names mirror the
// persisted payload keys.
type MetricsView struct {
	At time.Time `json:"at"`

	ScansTotal    int64            `json:"scans_total"`
	ScansDecoded  int64            `json:"scans_decoded"`
	DecodeFailed  int64            `json:"decode_failed"`
	CountByFormat map[string]int64 `json:"count_by_format,omitempty"`

	ChunksNew       int64 `json:"chunks_new"`
	ChunksDuplicate int64 `json:"chunks_duplicate"`

	SessionsStarted   int64 `json:"sessions_started"`
	SessionsCompleted int64 `json:"sessions_completed"`
	SessionsFailed    int64 `json:"sessions_failed"`
	SessionsExpired   int64 `json:"sessions_expired"`

	VerifySuccess int64 `json:"verify_success"`
	VerifyFailure int64 `json:"verify_failure"`

	ChunksPersisted int64 `json:"chunks_persisted"`
	FlushCount      int64 `json:"flush_count"`
	PolicyErrors    int64 `json:"policy_errors"`

	StoreWriteSuccess   int64 `json:"store_write_success"`
	StoreWriteFailure   int64 `json:"store_write_failure"`
	ArchiveWriteSuccess int64 `json:"archive_write_success"`
	ArchiveWriteFailure int64 `json:"archive_write_failure"`

	Policy         string `json:"policy"`
	StoreBackend   string `json:"store_backend"`
	ArchiveBackend string `json:"archive_backend"`
}

// ListOptions filters `sessions list`.
type ListOptions struct {
	// Status keeps only sessions in this state when non-empty.
	Status string
	// Limit caps the result count; 0 means unlimited.
	Limit int
}
