package format

import (
	"testing"

	"github.com/justapithecus/mosaic/types"
)

func TestDecodeFileColon_WorkedExample(t *testing.T) {
	d := newTestDecoder(Config{})
	chunk, err := d.Decode("FILE:1:3:abc:SGVsbG8=")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if chunk.Index != 0 {
		t.Errorf("Index = %d, want 0 (1-based wire index converted)", chunk.Index)
	}
	if chunk.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", chunk.TotalChunks)
	}
	if chunk.SessionID != "abc" {
		t.Errorf("SessionID = %q, want %q", chunk.SessionID, "abc")
	}
	if string(chunk.Payload) != "Hello" {
		t.Errorf("Payload = %q, want %q", chunk.Payload, "Hello")
	}
	if chunk.Kind != types.KindHeader {
		t.Errorf("Kind = %q, want %q", chunk.Kind, types.KindHeader)
	}
	if chunk.DeclaredFileSize != types.SizeUnknown {
		t.Errorf("DeclaredFileSize = %d, want SizeUnknown", chunk.DeclaredFileSize)
	}
}

func TestDecodeFileColon_LaterIndexIsData(t *testing.T) {
	d := newTestDecoder(Config{})
	chunk, err := d.Decode("FILE:2:3:abc:QUJD")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if chunk.Index != 1 {
		t.Errorf("Index = %d, want 1", chunk.Index)
	}
	if chunk.Kind != types.KindData {
		t.Errorf("Kind = %q, want %q", chunk.Kind, types.KindData)
	}
}

func TestDecodeFileColon_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"too few fields", "FILE:1:3:abc"},
		{"non-numeric index", "FILE:x:3:abc:QUJD"},
		{"non-numeric total", "FILE:1:x:abc:QUJD"},
		{"zero index", "FILE:0:3:abc:QUJD"},
		{"zero total", "FILE:1:0:abc:QUJD"},
		{"empty session id", "FILE:1:3::QUJD"},
	}

	d := newTestDecoder(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode(tt.raw); err == nil {
				t.Errorf("Decode(%q) succeeded, want FormatError", tt.raw)
			} else if !IsFormatError(err) {
				t.Errorf("error type = %T, want *FormatError", err)
			}
		})
	}
}

func TestDecodeLegacyColon_Fields(t *testing.T) {
	d := newTestDecoder(Config{})
	chunk, err := d.Decode("F:doc.pdf:I:2:T:4:D:QUJD")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if chunk.Index != 2 {
		t.Errorf("Index = %d, want 2", chunk.Index)
	}
	if chunk.TotalChunks != 4 {
		t.Errorf("TotalChunks = %d, want 4", chunk.TotalChunks)
	}
	if chunk.DeclaredFilename != "doc.pdf" {
		t.Errorf("DeclaredFilename = %q, want %q", chunk.DeclaredFilename, "doc.pdf")
	}
	if string(chunk.Payload) != "ABC" {
		t.Errorf("Payload = %q, want %q", chunk.Payload, "ABC")
	}
	if chunk.Kind != types.KindData {
		t.Errorf("Kind = %q, want %q", chunk.Kind, types.KindData)
	}
	if len(chunk.SessionID) != 16 {
		t.Errorf("synthetic SessionID length = %d, want 16", len(chunk.SessionID))
	}
}

func TestDecodeLegacyColon_SyntheticSessionStable(t *testing.T) {
	// All chunks of one legacy transfer must route to the same session.
	d := newTestDecoder(Config{})
	first, err := d.Decode("F:doc.pdf:I:0:T:4:D:QUJD")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	second, err := d.Decode("F:doc.pdf:I:3:T:4:D:QQ==")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if first.SessionID != second.SessionID {
		t.Errorf("session ids differ: %q vs %q", first.SessionID, second.SessionID)
	}

	other, err := d.Decode("F:other.pdf:I:0:T:4:D:QUJD")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if other.SessionID == first.SessionID {
		t.Error("different filenames routed to the same session")
	}
}

func TestDecodeLegacyColon_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"wrong token count", "F:doc.pdf:I:0:T:4"},
		{"wrong markers", "F:doc.pdf:X:0:T:4:D:QUJD"},
		{"non-numeric index", "F:doc.pdf:I:x:T:4:D:QUJD"},
		{"negative index", "F:doc.pdf:I:-1:T:4:D:QUJD"},
		{"zero total", "F:doc.pdf:I:0:T:0:D:QUJD"},
	}

	d := newTestDecoder(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode(tt.raw); err == nil {
				t.Errorf("Decode(%q) succeeded, want FormatError", tt.raw)
			}
		})
	}
}
