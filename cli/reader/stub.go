package reader

import (
	"context"
	"time"
)

// StubReader returns shape-correct canned data. Render and TUI tests
// use it so they never need a populated store.
type StubReader struct{}

// NewStubReader creates a stub reader.
func NewStubReader() *StubReader {
	return &StubReader{}
}

// ListSessions returns a canned session list.
func (r *StubReader) ListSessions(_ context.Context, opts ListOptions) ([]SessionItem, error) {
	now := time.Now()
	items := []SessionItem{
		{SessionID: "sess-aaa", Filename: "report.pdf", Status: "active",
			Received: 2, Total: 3, Progress: 2.0 / 3.0, BytesReceived: 4096,
			UpdatedAt: now.Add(-1 * time.Minute)},
		{SessionID: "sess-bbb", Filename: "photo.jpg", Status: "completed",
			Received: 5, Total: 5, Progress: 1, BytesReceived: 10240,
			UpdatedAt: now.Add(-10 * time.Minute)},
		{SessionID: "sess-ccc", Status: "failed",
			Received: 1, Total: 4, Progress: 0.25, BytesReceived: 512,
			UpdatedAt: now.Add(-1 * time.Hour)},
	}

	if opts.Status != "" {
		filtered := items[:0]
		for _, item := range items {
			if item.Status == opts.Status {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

// InspectSession returns canned session detail.
func (r *StubReader) InspectSession(_ context.Context, sessionID string) (*SessionDetail, error) {
	now := time.Now()
	return &SessionDetail{
		SessionID:     sessionID,
		Filename:      "report.pdf",
		Status:        "active",
		Protocol:      "qrfile",
		DeclaredSize:  6144,
		Checksum:      "aabbccddeeff0011",
		Total:         3,
		Received:      2,
		BytesReceived: 4096,
		Missing:       []int{1},
		CreatedAt:     now.Add(-5 * time.Minute),
		UpdatedAt:     now.Add(-1 * time.Minute),
	}, nil
}

// MissingChunks returns a canned gap report.
func (r *StubReader) MissingChunks(_ context.Context, sessionID string) (*MissingReport, error) {
	return &MissingReport{
		SessionID: sessionID,
		Total:     3,
		Received:  2,
		Missing:   []int{1},
	}, nil
}

// Stats returns a canned stats report.
func (r *StubReader) Stats(_ context.Context) (*StatsReport, error) {
	return &StatsReport{
		Sessions: SessionCounts{
			Total:     3,
			Active:    1,
			Completed: 1,
			Failed:    1,
		},
		BytesReceived: 14848,
		Metrics: &MetricsView{
			At:                time.Now().Add(-30 * time.Second),
			ScansTotal:        42,
			ScansDecoded:      40,
			DecodeFailed:      2,
			CountByFormat:     map[string]int64{"file_colon": 30, "qrfile": 10},
			ChunksNew:         36,
			ChunksDuplicate:   4,
			SessionsStarted:   3,
			SessionsCompleted: 1,
			SessionsFailed:    1,
			VerifySuccess:     1,
			ChunksPersisted:   36,
			Policy:            "strict",
			StoreBackend:      "memory",
			ArchiveBackend:    "none",
		},
	}, nil
}

var _ Reader = (*StubReader)(nil)
