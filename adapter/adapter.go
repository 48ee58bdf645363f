// Package adapter defines the transfer event publication boundary.
//
// Adapters notify downstream systems when a transfer session reaches a
// terminal state. The daemon owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/justapithecus/mosaic/types"
)

// SchemaVersion is the transfer event schema identifier.
const SchemaVersion = "mosaic/v1"

// Event type discriminants.
const (
	// EventTransferCompleted marks a successfully assembled transfer.
	EventTransferCompleted = "transfer_completed"
	// EventTransferFailed marks a session that ended in failure.
	EventTransferFailed = "transfer_failed"
)

// TransferEvent is the payload published when a transfer session
// terminates.
type TransferEvent struct {
	SchemaVersion string `json:"schema_version"`
	EventType     string `json:"event_type"` // transfer_completed, transfer_failed
	EventID       string `json:"event_id"`
	SessionID     string `json:"session_id"`
	Filename      string `json:"filename,omitempty"`
	SizeBytes     int64  `json:"size_bytes"`
	SHA256        string `json:"sha256,omitempty"`
	ChunkCount    int    `json:"chunk_count"`
	Protocol      string `json:"protocol,omitempty"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	Location      string `json:"location,omitempty"`
	Timestamp     string `json:"timestamp"` // ISO 8601
	DurationMs    int64  `json:"duration_ms"`
}

// NewCompletedEvent builds a transfer_completed event from an assembled
// file. Location is where the archive sink stored the file, empty when
// no sink is configured.
func NewCompletedEvent(file *types.AssembledFile, location string) *TransferEvent {
	return &TransferEvent{
		SchemaVersion: SchemaVersion,
		EventType:     EventTransferCompleted,
		EventID:       uuid.NewString(),
		SessionID:     file.SessionID,
		Filename:      file.Filename,
		SizeBytes:     file.Size,
		SHA256:        file.SHA256,
		ChunkCount:    file.ChunkCount,
		Protocol:      file.Protocol,
		Status:        string(types.StatusCompleted),
		Location:      location,
		Timestamp:     file.CompletedAt.UTC().Format(time.RFC3339),
		DurationMs:    file.Duration.Milliseconds(),
	}
}

// NewFailedEvent builds a transfer_failed event for a session that hit
// an unrecoverable conflict.
func NewFailedEvent(sessionID, protocol string, reason error) *TransferEvent {
	event := &TransferEvent{
		SchemaVersion: SchemaVersion,
		EventType:     EventTransferFailed,
		EventID:       uuid.NewString(),
		SessionID:     sessionID,
		Protocol:      protocol,
		Status:        string(types.StatusFailed),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if reason != nil {
		event.Reason = reason.Error()
	}
	return event
}

// Adapter publishes transfer events to a downstream system.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Publish sends a transfer event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TransferEvent) error

	// Close releases adapter resources.
	Close() error
}

// Multi fans one event out to several adapters. Every adapter sees every
// event; failures are aggregated, not short-circuited.
type Multi struct {
	adapters []Adapter
}

// NewMulti creates a fan-out over the given adapters.
func NewMulti(adapters ...Adapter) *Multi {
	return &Multi{adapters: adapters}
}

// Publish delivers the event to every adapter and aggregates failures.
func (m *Multi) Publish(ctx context.Context, event *TransferEvent) error {
	var errs error
	for _, a := range m.adapters {
		errs = multierr.Append(errs, a.Publish(ctx, event))
	}
	return errs
}

// Close closes every adapter and aggregates failures.
func (m *Multi) Close() error {
	var errs error
	for _, a := range m.adapters {
		errs = multierr.Append(errs, a.Close())
	}
	return errs
}

// Verify Multi implements the adapter interface.
var _ Adapter = (*Multi)(nil)
