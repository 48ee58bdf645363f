package ipc

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/mosaic/types"
)

// frameTypeProbe is the old approach: unmarshal the entire payload into a
// struct just to read the "type" field. Kept here as baseline for benchmarks.
type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// probeFrameTypeOld does a full msgpack.Unmarshal to extract just the
// type field, allocating the raw payload string along the way.
func probeFrameTypeOld(payload []byte) (string, error) {
	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return "", err
	}
	return probe.Type, nil
}

// benchScanRaw builds a realistic multi-KiB scan payload: a framed-format
// chunk line carrying ~3 KiB of base64 data.
func benchScanRaw(index int) string {
	data := strings.Repeat("QUJDREVGR0hJSktMTU5PUA==", 128)
	return fmt.Sprintf("F:cafef00d:archive.tar.gz:64:%d:%s", index, data)
}

// buildScanStream encodes n scan frames into a contiguous byte buffer.
func buildScanStream(b *testing.B, n int) []byte {
	b.Helper()
	var buf bytes.Buffer
	for i := range n {
		scan := &types.ScanFrame{
			Type:   types.ScanFrameType,
			Raw:    benchScanRaw(i),
			Source: "scanner-01",
			Ts:     "2024-01-15T10:00:00Z",
		}
		if err := WriteFrame(&buf, scan); err != nil {
			b.Fatalf("WriteFrame: %v", err)
		}
	}
	return buf.Bytes()
}

// buildMixedStream encodes a realistic feed: a session's scans with a
// reset and rescan in the middle.
func buildMixedStream(b *testing.B) []byte {
	b.Helper()
	var buf bytes.Buffer

	for i := range 16 {
		scan := &types.ScanFrame{
			Type:   types.ScanFrameType,
			Raw:    benchScanRaw(i),
			Source: "scanner-01",
			Ts:     "2024-01-15T10:00:00Z",
		}
		if err := WriteFrame(&buf, scan); err != nil {
			b.Fatalf("WriteFrame: %v", err)
		}
		if i == 7 {
			reset := &types.ResetFrame{Type: types.ResetFrameType, SessionID: "cafef00d"}
			if err := WriteFrame(&buf, reset); err != nil {
				b.Fatalf("WriteFrame(reset): %v", err)
			}
		}
	}
	return buf.Bytes()
}

// --- Type probe benchmarks ---

// BenchmarkProbeFrameType_Old measures the baseline approach: full
// msgpack.Unmarshal into a struct to extract one field. On scan frames
// this decodes (and allocates) the multi-KiB raw payload just to throw
// it away.
func BenchmarkProbeFrameType_Old(b *testing.B) {
	scan := &types.ScanFrame{
		Type:   types.ScanFrameType,
		Raw:    benchScanRaw(0),
		Source: "scanner-01",
		Ts:     "2024-01-15T10:00:00Z",
	}
	payload, err := msgpack.Marshal(scan)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		typ, err := probeFrameTypeOld(payload)
		if err != nil {
			b.Fatal(err)
		}
		if typ != types.ScanFrameType {
			b.Fatalf("got %q", typ)
		}
	}
}

// BenchmarkProbeFrameType_New measures the streaming probe that skips
// non-"type" fields without allocating.
func BenchmarkProbeFrameType_New(b *testing.B) {
	scan := &types.ScanFrame{
		Type:   types.ScanFrameType,
		Raw:    benchScanRaw(0),
		Source: "scanner-01",
		Ts:     "2024-01-15T10:00:00Z",
	}
	payload, err := msgpack.Marshal(scan)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		typ, err := probeFrameType(payload)
		if err != nil {
			b.Fatal(err)
		}
		if typ != types.ScanFrameType {
			b.Fatalf("got %q", typ)
		}
	}
}

// BenchmarkProbeFrameType_Reset exercises probing on reset frames, where
// the payload is a few dozen bytes and the probe advantage shrinks.
func BenchmarkProbeFrameType_Reset(b *testing.B) {
	reset := &types.ResetFrame{Type: types.ResetFrameType, SessionID: "cafef00d"}
	payload, err := msgpack.Marshal(reset)
	if err != nil {
		b.Fatal(err)
	}

	b.Run("old", func(b *testing.B) {
		b.ReportAllocs()
		for range b.N {
			typ, err := probeFrameTypeOld(payload)
			if err != nil {
				b.Fatal(err)
			}
			if typ != types.ResetFrameType {
				b.Fatalf("got %q", typ)
			}
		}
	})

	b.Run("new", func(b *testing.B) {
		b.ReportAllocs()
		for range b.N {
			typ, err := probeFrameType(payload)
			if err != nil {
				b.Fatal(err)
			}
			if typ != types.ResetFrameType {
				b.Fatalf("got %q", typ)
			}
		}
	})
}

// --- DecodeFrame benchmarks (type probe + full decode combined) ---

// BenchmarkDecodeFrame_Scan measures full DecodeFrame throughput for scan
// frames. This exercises probeFrameType + DecodeScanFrame.
func BenchmarkDecodeFrame_Scan(b *testing.B) {
	scan := &types.ScanFrame{
		Type:   types.ScanFrameType,
		Raw:    benchScanRaw(0),
		Source: "scanner-01",
		Ts:     "2024-01-15T10:00:00Z",
	}
	payload, err := msgpack.Marshal(scan)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		result, err := DecodeFrame(payload)
		if err != nil {
			b.Fatal(err)
		}
		if _, ok := result.(*types.ScanFrame); !ok {
			b.Fatalf("got %T", result)
		}
	}
}

// --- FrameDecoder + ReadFrame benchmarks ---

// BenchmarkReadFrame_BufferedReader measures ReadFrame over an in-memory
// stream of 100 scan frames.
func BenchmarkReadFrame_BufferedReader(b *testing.B) {
	data := buildScanStream(b, 100)

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		decoder := NewFrameDecoder(bytes.NewReader(data))
		for {
			_, err := decoder.ReadFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkReadFrame_OneByteReader measures ReadFrame through
// iotest.OneByteReader, simulating worst-case small-read behavior
// (e.g., an unbuffered socket returning 1 byte per read(2)).
// The decoder's bufio.Reader batches these into larger reads;
// without it, each io.ReadFull call would issue many syscalls.
func BenchmarkReadFrame_OneByteReader(b *testing.B) {
	data := buildScanStream(b, 20)

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		reader := iotest.OneByteReader(bytes.NewReader(data))
		decoder := NewFrameDecoder(reader)
		for {
			_, err := decoder.ReadFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkReadFrame_MixedStream measures ReadFrame + DecodeFrame on a
// realistic mixed feed (scans with a reset in the middle).
func BenchmarkReadFrame_MixedStream(b *testing.B) {
	data := buildMixedStream(b)

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		decoder := NewFrameDecoder(bytes.NewReader(data))
		for {
			payload, err := decoder.ReadFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
			if _, err := DecodeFrame(payload); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// --- Sender-side benchmarks ---

// BenchmarkEncodeFrame measures the feed client's encode path.
func BenchmarkEncodeFrame(b *testing.B) {
	scan := &types.ScanFrame{
		Type:   types.ScanFrameType,
		Raw:    benchScanRaw(0),
		Source: "scanner-01",
		Ts:     "2024-01-15T10:00:00Z",
	}

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		if _, err := EncodeFrame(scan); err != nil {
			b.Fatal(err)
		}
	}
}
