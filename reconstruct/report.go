package reconstruct

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/justapithecus/mosaic/format"
	"github.com/justapithecus/mosaic/metrics"
	"github.com/justapithecus/mosaic/policy"
	"github.com/justapithecus/mosaic/types"
)

// IngestReport is the structured JSON report written by --report.
// All fields use json tags matching the documented contract.
type IngestReport struct {
	Version    string `json:"version"`
	At         string `json:"at"` // ISO 8601
	DurationMs int64  `json:"duration_ms"`

	Scans    *ReportScans     `json:"scans"`
	Sessions []*ReportSession `json:"sessions"`

	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Incomplete int `json:"incomplete"`

	Policy  *ReportPolicy     `json:"policy"`
	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
}

// ReportScans summarizes decoder activity.
type ReportScans struct {
	Total    int64            `json:"total"`
	Decoded  int64            `json:"decoded"`
	Failed   int64            `json:"failed"`
	ByFormat map[string]int64 `json:"by_format,omitempty"`
}

// ReportSession is the per-session slice of the report.
type ReportSession struct {
	SessionID     string              `json:"session_id"`
	Filename      string              `json:"filename,omitempty"`
	Status        types.SessionStatus `json:"status"`
	Protocol      string              `json:"protocol,omitempty"`
	Progress      float64             `json:"progress"`
	TotalChunks   int                 `json:"total_chunks"`
	ReceivedCount int                 `json:"received_count"`
	BytesReceived int64               `json:"bytes_received"`
	Missing       []int               `json:"missing,omitempty"`
}

// ReportPolicy holds policy stats in the report.
type ReportPolicy struct {
	Name              string `json:"name"`
	TotalChunks       int64  `json:"total_chunks"`
	ChunksPersisted   int64  `json:"chunks_persisted"`
	SessionsPersisted int64  `json:"sessions_persisted"`
	SessionsDropped   int64  `json:"sessions_dropped"`
	FlushCount        int64  `json:"flush_count"`
	Errors            int64  `json:"errors"`
}

// BuildIngestReport composes an IngestReport from the coordinator's
// current state. The policyName is the configured policy name string
// (e.g. "strict", "buffered"); duration is the wall time of the ingest.
func (c *Coordinator) BuildIngestReport(policyName string, duration time.Duration) *IngestReport {
	decoderStats := c.decoder.Stats()

	report := &IngestReport{
		Version:    types.Version,
		At:         time.Now().UTC().Format(time.RFC3339),
		DurationMs: duration.Milliseconds(),
		Scans: &ReportScans{
			Total:    decoderStats.Total,
			Decoded:  decoderStats.Decoded,
			Failed:   decoderStats.Failed,
			ByFormat: decoderStats.ByProtocol,
		},
		Policy: reportPolicy(policyName, c.policy.Stats()),
	}

	for _, sess := range c.registry.List() {
		entry := &ReportSession{
			SessionID:     sess.ID,
			Filename:      sess.Filename,
			Status:        sess.Status,
			Protocol:      sess.Protocol,
			Progress:      sess.Progress(),
			TotalChunks:   sess.TotalChunks,
			ReceivedCount: len(sess.Received),
			BytesReceived: sess.BytesReceived,
		}
		switch sess.Status {
		case types.StatusCompleted:
			report.Completed++
		case types.StatusFailed:
			report.Failed++
		default:
			report.Incomplete++
			entry.Missing = sess.MissingChunks()
		}
		report.Sessions = append(report.Sessions, entry)
	}

	if c.collector != nil {
		snap := c.collector.Snapshot()
		report.Metrics = &snap
	}

	return report
}

func reportPolicy(name string, stats policy.Stats) *ReportPolicy {
	return &ReportPolicy{
		Name:              name,
		TotalChunks:       stats.TotalChunks,
		ChunksPersisted:   stats.ChunksPersisted,
		SessionsPersisted: stats.SessionsPersisted,
		SessionsDropped:   stats.SessionsDropped,
		FlushCount:        stats.FlushCount,
		Errors:            stats.Errors,
	}
}

// DecoderStats exposes the decoder counter snapshot for read surfaces.
func (c *Coordinator) DecoderStats() format.Stats {
	return c.decoder.Stats()
}

// WriteIngestReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr so stdout stays clean for renderers.
func WriteIngestReport(report *IngestReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = os.Stderr.Write(data)
		if err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeIngestReportTo writes report JSON to any writer (for testing).
func writeIngestReportTo(report *IngestReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
