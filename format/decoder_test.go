package format

import (
	"errors"
	"io"
	"testing"

	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/types"
)

// newTestDecoder builds a decoder whose warnings stay out of test output.
func newTestDecoder(cfg Config) *Decoder {
	return NewDecoder(cfg, log.NewLogger("test").WithOutput(io.Discard))
}

func TestDecode_AllGrammarsClassified(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind types.ChunkKind
		wantTag  string
	}{
		{"vqr2 json", `VQR2JSON:{"hash":"aabb","name":"doc.pdf"}`, types.KindVerification, types.ProtocolVQR2JSON},
		{"vqr2 b64", "VQR2B64:eyJoYXNoIjoiYWFiYiJ9", types.KindVerification, types.ProtocolVQR2B64},
		{"qrv marker", "QRVFILE_COMPLETE", types.KindCompletion, types.ProtocolQRVComplete},
		{"file colon", "FILE:1:3:abc:SGVsbG8=", types.KindHeader, types.ProtocolFileColon},
		{"compact json", `{"i":0,"d":"48656c6c6f","s":"abc"}`, types.KindHeader, types.ProtocolCompactJSON},
		{"qrfile json", `{"fmt":"qrfile/v1","name":"a.bin","index":1,"total":2,"data_b64":"QUJD"}`, types.KindData, types.ProtocolQRFileJSON},
		{"legacy colon", "F:doc.pdf:I:0:T:4:D:QUJD", types.KindHeader, types.ProtocolLegacyColon},
	}

	d := newTestDecoder(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := d.Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if chunk.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", chunk.Kind, tt.wantKind)
			}
			if chunk.ProtocolTag != tt.wantTag {
				t.Errorf("ProtocolTag = %q, want %q", chunk.ProtocolTag, tt.wantTag)
			}
		})
	}
}

func TestDecode_CompactSignatureWinsOverQRFile(t *testing.T) {
	// A record carrying both signatures must classify as compact: the
	// single-letter signature is checked first.
	d := newTestDecoder(Config{})
	chunk, err := d.Decode(`{"i":0,"d":"41","s":"x","index":5,"data_b64":"QQ=="}`)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if chunk.ProtocolTag != types.ProtocolCompactJSON {
		t.Errorf("ProtocolTag = %q, want %q", chunk.ProtocolTag, types.ProtocolCompactJSON)
	}
	if string(chunk.Payload) != "A" {
		t.Errorf("Payload = %q, want %q (hex, not base64)", chunk.Payload, "A")
	}
}

func TestDecode_TrimsSurroundingWhitespace(t *testing.T) {
	d := newTestDecoder(Config{})
	chunk, err := d.Decode("  FILE:1:3:abc:SGVsbG8=\n")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if chunk.SessionID != "abc" {
		t.Errorf("SessionID = %q, want %q", chunk.SessionID, "abc")
	}
}

func TestDecode_UnknownJSONObject(t *testing.T) {
	d := newTestDecoder(Config{})
	_, err := d.Decode(`{"foo":1,"bar":"baz"}`)
	if err == nil {
		t.Fatal("expected FormatError for unknown json signature")
	}
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("error type = %T, want *FormatError", err)
	}
	if formatErr.Kind != FormatErrorUnrecognized {
		t.Errorf("Kind = %d, want FormatErrorUnrecognized", formatErr.Kind)
	}
}

func TestDecode_UnrecognizedString(t *testing.T) {
	d := newTestDecoder(Config{})
	_, err := d.Decode("complete garbage that is neither json nor colon")
	if err == nil {
		t.Fatal("expected FormatError for unrecognized string")
	}
	if !IsFormatError(err) {
		t.Fatalf("error type = %T, want *FormatError", err)
	}
}

func TestDecode_Stats(t *testing.T) {
	d := newTestDecoder(Config{})

	if _, err := d.Decode("FILE:1:1:s1:QQ=="); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, err := d.Decode("FILE:2:2:s1:QQ=="); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, err := d.Decode("not a scan"); err == nil {
		t.Fatal("expected decode failure")
	}

	stats := d.Stats()
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.Decoded != 2 {
		t.Errorf("Decoded = %d, want 2", stats.Decoded)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.ByProtocol[types.ProtocolFileColon] != 2 {
		t.Errorf("ByProtocol[file-colon] = %d, want 2", stats.ByProtocol[types.ProtocolFileColon])
	}
}

func TestStats_SnapshotIsolation(t *testing.T) {
	d := newTestDecoder(Config{})
	if _, err := d.Decode("FILE:1:1:s1:QQ=="); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	snapshot := d.Stats()
	snapshot.ByProtocol[types.ProtocolFileColon] = 99

	if got := d.Stats().ByProtocol[types.ProtocolFileColon]; got != 1 {
		t.Errorf("mutating a snapshot leaked into the decoder: count = %d, want 1", got)
	}
}

func TestSyntheticSessionID_StableAndHex(t *testing.T) {
	a := syntheticSessionID("doc.pdf", "4")
	b := syntheticSessionID("doc.pdf", "4")
	if a != b {
		t.Errorf("derivation not stable: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("id length = %d, want 16", len(a))
	}
	if c := syntheticSessionID("other.pdf", "4"); c == a {
		t.Error("different filenames derived the same session id")
	}
}
