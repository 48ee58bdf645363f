package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/mosaic/types"
)

// Record discriminator values for the dataset. Every record carries a
// record_kind so readers can separate manifests from payload segments
// within the session_id partition.
const (
	RecordKindManifest = "transfer_manifest"
	RecordKindSegment  = "payload_segment"
)

// DefaultSegmentSize is how many payload bytes one segment record
// carries. JSONL rows hold base64 data inline, so segments stay small
// enough to keep individual rows readable by streaming consumers.
const DefaultSegmentSize = 256 * 1024

// DefaultDataset is the dataset ID when none is configured.
const DefaultDataset = "mosaic"

// LodeConfig holds dataset identity and partitioning for LodeSink.
type LodeConfig struct {
	// Dataset is the Lode dataset ID. Defaults to "mosaic".
	Dataset string
	// Source is the partition key naming the scanner or site that
	// produced the transfers. Required.
	Source string
	// SegmentSize is the payload bytes per segment record. Defaults to
	// DefaultSegmentSize.
	SegmentSize int
}

// Validate checks required LodeConfig fields and applies defaults.
func (c *LodeConfig) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("lode sink requires a source partition key")
	}
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.SegmentSize <= 0 {
		c.SegmentSize = DefaultSegmentSize
	}
	return nil
}

// LodeSink archives assembled files as JSONL records in a Lode dataset
// with Hive layout source/day/session_id. Each Store call writes the
// payload as ordered segment records followed by one manifest record;
// the manifest is last in the batch, so a reader that finds a manifest
// knows every segment landed before it.
type LodeSink struct {
	dataset lode.Dataset
	cfg     LodeConfig
}

// NewLodeSink creates a sink writing to filesystem storage rooted at
// root.
func NewLodeSink(cfg LodeConfig, root string) (*LodeSink, error) {
	return NewLodeSinkWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeSinkWithFactory creates a sink with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeSinkWithFactory(cfg LodeConfig, factory lode.StoreFactory) (*LodeSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ds, err := lode.NewDataset(
		lode.DatasetID(cfg.Dataset),
		factory,
		lode.WithHiveLayout("source", "day", "session_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}

	return &LodeSink{dataset: ds, cfg: cfg}, nil
}

// DeriveDay computes the day partition value, YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Store implements Sink. The whole transfer goes out as one batch:
// segment records in offset order, manifest record last.
func (s *LodeSink) Store(ctx context.Context, file *types.AssembledFile) (string, error) {
	day := DeriveDay(file.CompletedAt)
	location := fmt.Sprintf("lode://%s/source=%s/day=%s/session_id=%s",
		s.cfg.Dataset, s.cfg.Source, day, file.SessionID)

	records := make([]any, 0, len(file.Bytes)/s.cfg.SegmentSize+2)

	seq := int64(0)
	for offset := 0; offset < len(file.Bytes) || seq == 0; offset += s.cfg.SegmentSize {
		end := offset + s.cfg.SegmentSize
		if end > len(file.Bytes) {
			end = len(file.Bytes)
		}
		records = append(records, s.segmentRecord(file, day, seq,
			int64(offset), file.Bytes[offset:end], end == len(file.Bytes)))
		seq++
	}

	records = append(records, s.manifestRecord(file, day, seq))

	if _, err := s.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return "", WrapWriteError(err, location)
	}
	return location, nil
}

// Close implements Sink. The dataset needs no explicit close in the
// current Lode API.
func (s *LodeSink) Close() error {
	return nil
}

// segmentRecord builds one payload segment row. The HiveLayout wants
// records as map[string]any; the JSONL codec base64-encodes the data
// bytes.
func (s *LodeSink) segmentRecord(file *types.AssembledFile, day string, seq, offset int64, data []byte, last bool) map[string]any {
	return map[string]any{
		"record_kind": RecordKindSegment,
		"seq":         seq,
		"offset":      offset,
		"length":      int64(len(data)),
		"is_last":     last,
		"data":        data,
		"source":      s.cfg.Source,
		"day":         day,
		"session_id":  file.SessionID,
	}
}

// manifestRecord builds the transfer manifest row committed after the
// segments.
func (s *LodeSink) manifestRecord(file *types.AssembledFile, day string, segments int64) map[string]any {
	m := map[string]any{
		"record_kind":  RecordKindManifest,
		"filename":     file.Filename,
		"size_bytes":   file.Size,
		"sha256":       file.SHA256,
		"chunk_count":  file.ChunkCount,
		"protocol":     file.Protocol,
		"verified":     file.Verified,
		"completed_at": file.CompletedAt.UTC().Format(time.RFC3339),
		"duration_ms":  file.Duration.Milliseconds(),
		"segments":     segments,
		"source":       s.cfg.Source,
		"day":          day,
		"session_id":   file.SessionID,
	}
	if len(file.Metadata) > 0 {
		m["metadata"] = file.Metadata
	}
	return m
}

// Verify LodeSink implements Sink.
var _ Sink = (*LodeSink)(nil)
