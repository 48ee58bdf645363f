package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/types"
)

// openTestStore creates a SQLite store backed by a temporary database
// file, closed automatically when the test completes.
func openTestStore(t *testing.T) *SQLite {
	t.Helper()

	st, err := OpenSQLite(SQLiteConfig{
		Path:   filepath.Join(t.TempDir(), "mosaic.db"),
		Logger: log.NewLogger("test").WithOutput(io.Discard),
	})
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return st
}

func testChunk(sid string, index int, payload string) *ChunkRecord {
	return &ChunkRecord{
		SessionID: sid,
		Index:     index,
		Payload:   []byte(payload),
		Checksum:  PayloadChecksum([]byte(payload)),
	}
}

func TestPutGetChunk(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	stored, err := st.PutChunk(ctx, testChunk("s1", 0, "hello"))
	if err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if !stored {
		t.Error("first write should report stored")
	}

	payload, err := st.GetChunk(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if string(payload) != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}

	has, err := st.HasChunk(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("HasChunk failed: %v", err)
	}
	if !has {
		t.Error("HasChunk should find the stored chunk")
	}
}

func TestPutChunkIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.PutChunk(ctx, testChunk("s1", 0, "hello")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	stored, err := st.PutChunk(ctx, testChunk("s1", 0, "hello"))
	if err != nil {
		t.Fatalf("duplicate PutChunk errored: %v", err)
	}
	if stored {
		t.Error("identical rewrite should report not stored")
	}
}

func TestPutChunkConflict(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.PutChunk(ctx, testChunk("s1", 0, "hello")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	_, err := st.PutChunk(ctx, testChunk("s1", 0, "HELLO"))
	if !IsConflict(err) {
		t.Fatalf("error = %v, want conflict", err)
	}

	// First write wins: the original bytes survive.
	payload, err := st.GetChunk(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if string(payload) != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}
}

func TestGetChunkNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetChunk(context.Background(), "nope", 0)
	if !IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestLoadAllOrdered(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Out-of-order arrival still loads in index order.
	for _, c := range []struct {
		index   int
		payload string
	}{{2, "C"}, {0, "A"}, {1, "B"}} {
		if _, err := st.PutChunk(ctx, testChunk("s1", c.index, c.payload)); err != nil {
			t.Fatalf("PutChunk(%d) failed: %v", c.index, err)
		}
	}

	payloads, err := st.LoadAll(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	joined := ""
	for _, p := range payloads {
		joined += string(p)
	}
	if joined != "ABC" {
		t.Errorf("assembled = %q, want %q", joined, "ABC")
	}
}

func TestLoadAllReportsGaps(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.PutChunk(ctx, testChunk("s1", 0, "A")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if _, err := st.PutChunk(ctx, testChunk("s1", 2, "C")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	_, err := st.LoadAll(ctx, "s1", 3)
	if !IsIncomplete(err) {
		t.Fatalf("error = %v, want incomplete", err)
	}

	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("error %v should carry the gap set", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != 1 {
		t.Errorf("missing = %v, want [1]", incomplete.Missing)
	}
}

func TestLoadAllRejectsOutOfRangeRows(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.PutChunk(ctx, testChunk("s1", 5, "X")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	_, err := st.LoadAll(ctx, "s1", 3)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("error = %v, want corrupt", err)
	}
}

func TestChunkIndices(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, idx := range []int{4, 0, 2} {
		if _, err := st.PutChunk(ctx, testChunk("s1", idx, "x")); err != nil {
			t.Fatalf("PutChunk(%d) failed: %v", idx, err)
		}
	}

	indices, err := st.ChunkIndices(ctx, "s1")
	if err != nil {
		t.Fatalf("ChunkIndices failed: %v", err)
	}
	want := []int{0, 2, 4}
	if len(indices) != len(want) {
		t.Fatalf("indices = %v, want %v", indices, want)
	}
	for i := range want {
		if indices[i] != want[i] {
			t.Fatalf("indices = %v, want %v", indices, want)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := &SessionRecord{
		SessionID:     "s1",
		Filename:      "report.pdf",
		DeclaredSize:  2048,
		Checksum:      "abcd1234",
		TotalChunks:   4,
		Status:        types.StatusActive,
		Protocol:      types.ProtocolQRFileJSON,
		Metadata:      map[string]any{"mime": "application/pdf"},
		BytesReceived: 512,
	}
	if err := st.PutSession(ctx, rec); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	got, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Filename != "report.pdf" || got.DeclaredSize != 2048 {
		t.Errorf("record = %q/%d, want report.pdf/2048", got.Filename, got.DeclaredSize)
	}
	if got.Status != types.StatusActive {
		t.Errorf("status = %q, want %q", got.Status, types.StatusActive)
	}
	if got.Metadata["mime"] != "application/pdf" {
		t.Errorf("metadata mime = %v, want application/pdf", got.Metadata["mime"])
	}

	// Upsert refines the same row.
	rec.Status = types.StatusCompleted
	rec.BytesReceived = 2048
	if err := st.PutSession(ctx, rec); err != nil {
		t.Fatalf("PutSession upsert failed: %v", err)
	}
	got, err = st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != types.StatusCompleted || got.BytesReceived != 2048 {
		t.Errorf("record = %q/%d, want completed/2048", got.Status, got.BytesReceived)
	}

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("len = %d, want 1", len(sessions))
	}
}

func TestDeleteSession(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.PutChunk(ctx, testChunk("s1", 0, "A")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if err := st.PutSession(ctx, &SessionRecord{SessionID: "s1", Status: types.StatusActive}); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	if err := st.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := st.GetSession(ctx, "s1"); !IsNotFound(err) {
		t.Errorf("session error = %v, want not found", err)
	}
	if _, err := st.GetChunk(ctx, "s1", 0); !IsNotFound(err) {
		t.Errorf("chunk error = %v, want not found", err)
	}

	// Idempotent.
	if err := st.DeleteSession(ctx, "s1"); err != nil {
		t.Errorf("second DeleteSession errored: %v", err)
	}
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mosaic.db")
	logger := log.NewLogger("test").WithOutput(io.Discard)
	ctx := context.Background()

	st, err := OpenSQLite(SQLiteConfig{Path: path, Logger: logger})
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if _, err := st.PutChunk(ctx, testChunk("s1", 0, "persisted")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if err := st.PutSession(ctx, &SessionRecord{SessionID: "s1", TotalChunks: 1, Status: types.StatusActive}); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh process sees everything the old one stored.
	st, err = OpenSQLite(SQLiteConfig{Path: path, Logger: logger})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st.Close()

	payload, err := st.GetChunk(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetChunk after reopen failed: %v", err)
	}
	if string(payload) != "persisted" {
		t.Errorf("payload = %q, want %q", payload, "persisted")
	}

	rec, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession after reopen failed: %v", err)
	}
	if rec.TotalChunks != 1 {
		t.Errorf("total = %d, want 1", rec.TotalChunks)
	}
}

func TestWriteChunksBatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	batch := []*ChunkRecord{
		testChunk("s1", 0, "A"),
		testChunk("s1", 1, "B"),
		testChunk("s2", 0, "X"),
	}
	if err := st.WriteChunks(ctx, batch); err != nil {
		t.Fatalf("WriteChunks failed: %v", err)
	}

	payloads, err := st.LoadAll(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if string(payloads[0])+string(payloads[1]) != "AB" {
		t.Errorf("assembled = %q%q, want AB", payloads[0], payloads[1])
	}

	// Duplicates in a later batch are no-ops; conflicts abort it.
	if err := st.WriteChunks(ctx, []*ChunkRecord{testChunk("s1", 0, "A")}); err != nil {
		t.Errorf("idempotent batch errored: %v", err)
	}
	err = st.WriteChunks(ctx, []*ChunkRecord{testChunk("s1", 1, "Z")})
	if !IsConflict(err) {
		t.Errorf("error = %v, want conflict", err)
	}
}

func TestWriteChunksConflictRollsBackBatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.PutChunk(ctx, testChunk("s1", 1, "B")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	// Index 0 is new but rides in a batch whose second record conflicts.
	err := st.WriteChunks(ctx, []*ChunkRecord{
		testChunk("s1", 0, "A"),
		testChunk("s1", 1, "WRONG"),
	})
	if !IsConflict(err) {
		t.Fatalf("error = %v, want conflict", err)
	}

	has, err := st.HasChunk(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("HasChunk failed: %v", err)
	}
	if has {
		t.Error("conflicting batch should roll back entirely")
	}
}

func TestWriteSessionsBatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.WriteSessions(ctx, []*SessionRecord{
		{SessionID: "s1", Status: types.StatusActive},
		{SessionID: "s2", Status: types.StatusCompleted},
	})
	if err != nil {
		t.Fatalf("WriteSessions failed: %v", err)
	}

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("len = %d, want 2", len(sessions))
	}
}

func TestMetricsSnapshots(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.LatestMetrics(ctx); !IsNotFound(err) {
		t.Errorf("error = %v, want not found before first snapshot", err)
	}

	base := time.Now()
	for i := 0; i < 3; i++ {
		snap := &MetricsSnapshot{
			At:      base.Add(time.Duration(i) * time.Second),
			Payload: []byte(fmt.Sprintf(`{"seq":%d}`, i)),
		}
		if err := st.PutMetrics(ctx, snap); err != nil {
			t.Fatalf("PutMetrics failed: %v", err)
		}
	}

	latest, err := st.LatestMetrics(ctx)
	if err != nil {
		t.Fatalf("LatestMetrics failed: %v", err)
	}
	if string(latest.Payload) != `{"seq":2}` {
		t.Errorf("payload = %s, want newest snapshot", latest.Payload)
	}
}

func TestPayloadChecksum(t *testing.T) {
	sum := PayloadChecksum([]byte("hello"))
	if len(sum) != 16 {
		t.Errorf("checksum length = %d, want 16", len(sum))
	}
	if sum != PayloadChecksum([]byte("hello")) {
		t.Error("checksum should be deterministic")
	}
	if sum == PayloadChecksum([]byte("world")) {
		t.Error("different payloads should not collide")
	}
}
