package reader

import (
	"context"
	"fmt"
	"sort"

	"github.com/justapithecus/mosaic/store"
	"github.com/justapithecus/mosaic/types"
)

// StoreReader serves CLI views straight from the chunk store. It works
// against a live daemon's database (SQLite in WAL mode tolerates the
// concurrent reader) as well as an offline one.
type StoreReader struct {
	st store.Store
}

// NewStoreReader wraps a store in the read-side interface.
func NewStoreReader(st store.Store) *StoreReader {
	return &StoreReader{st: st}
}

// ListSessions returns session rows, newest activity first.
func (r *StoreReader) ListSessions(ctx context.Context, opts ListOptions) ([]SessionItem, error) {
	recs, err := r.st.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	items := make([]SessionItem, 0, len(recs))
	for _, rec := range recs {
		if opts.Status != "" && string(rec.Status) != opts.Status {
			continue
		}
		indices, err := r.st.ChunkIndices(ctx, rec.SessionID)
		if err != nil {
			return nil, fmt.Errorf("chunk indices for %s: %w", rec.SessionID, err)
		}
		items = append(items, SessionItem{
			SessionID:     rec.SessionID,
			Filename:      rec.Filename,
			Status:        string(rec.Status),
			Received:      len(indices),
			Total:         rec.TotalChunks,
			Progress:      progress(len(indices), rec.TotalChunks),
			BytesReceived: rec.BytesReceived,
			UpdatedAt:     rec.UpdatedAt,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

// InspectSession returns the full view of one session.
func (r *StoreReader) InspectSession(ctx context.Context, sessionID string) (*SessionDetail, error) {
	rec, err := r.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	indices, err := r.st.ChunkIndices(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("chunk indices for %s: %w", sessionID, err)
	}

	return &SessionDetail{
		SessionID:     rec.SessionID,
		Filename:      rec.Filename,
		Status:        string(rec.Status),
		Protocol:      rec.Protocol,
		DeclaredSize:  rec.DeclaredSize,
		Checksum:      rec.Checksum,
		Total:         rec.TotalChunks,
		Received:      len(indices),
		BytesReceived: rec.BytesReceived,
		Missing:       missingIndices(indices, rec.TotalChunks),
		Metadata:      rec.Metadata,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

// MissingChunks reports the chunk gaps of one session.
func (r *StoreReader) MissingChunks(ctx context.Context, sessionID string) (*MissingReport, error) {
	rec, err := r.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	indices, err := r.st.ChunkIndices(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("chunk indices for %s: %w", sessionID, err)
	}

	return &MissingReport{
		SessionID: sessionID,
		Total:     rec.TotalChunks,
		Received:  len(indices),
		Missing:   missingIndices(indices, rec.TotalChunks),
	}, nil
}

// Stats aggregates session counts and the latest metrics heartbeat.
func (r *StoreReader) Stats(ctx context.Context) (*StatsReport, error) {
	recs, err := r.st.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	report := &StatsReport{}
	for _, rec := range recs {
		report.Sessions.Total++
		report.BytesReceived += rec.BytesReceived
		switch rec.Status {
		case types.StatusActive:
			report.Sessions.Active++
		case types.StatusCompleting:
			report.Sessions.Completing++
		case types.StatusCompleted:
			report.Sessions.Completed++
		case types.StatusFailed:
			report.Sessions.Failed++
		}
	}

	snap, err := r.st.LatestMetrics(ctx)
	switch {
	case store.IsNotFound(err):
		// No heartbeat written yet; counts alone are still useful.
	case err != nil:
		return nil, fmt.Errorf("latest metrics: %w", err)
	default:
		view, err := ParseMetricsPayload(snap.At, snap.Payload)
		if err != nil {
			return nil, fmt.Errorf("metrics heartbeat: %w", err)
		}
		report.Metrics = view
	}

	return report, nil
}

// progress is received/total in [0,1], 0 while the total is unknown.
func progress(received, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(received) / float64(total)
}

// missingIndices returns the sorted indices in [0,total) absent from
// have. Nil while the total is unknown.
func missingIndices(have []int, total int) []int {
	if total <= 0 {
		return nil
	}
	present := make(map[int]bool, len(have))
	for _, idx := range have {
		present[idx] = true
	}
	missing := make([]int, 0)
	for i := 0; i < total; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

var _ Reader = (*StoreReader)(nil)
