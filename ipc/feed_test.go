package ipc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/mosaic/types"
)

// captureHandler records dispatched frames and signals arrival on a
// channel so tests can wait without polling.
type captureHandler struct {
	mu      sync.Mutex
	scans   []*types.ScanFrame
	resets  []*types.ResetFrame
	scanErr error

	arrived chan struct{}
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{arrived: make(chan struct{}, 256)}
}

func (h *captureHandler) HandleScan(_ context.Context, frame *types.ScanFrame) error {
	h.mu.Lock()
	h.scans = append(h.scans, frame)
	err := h.scanErr
	h.mu.Unlock()
	h.arrived <- struct{}{}
	return err
}

func (h *captureHandler) HandleReset(_ context.Context, frame *types.ResetFrame) error {
	h.mu.Lock()
	h.resets = append(h.resets, frame)
	h.mu.Unlock()
	h.arrived <- struct{}{}
	return nil
}

// waitFrames blocks until n frames have been dispatched or the deadline hits.
func (h *captureHandler) waitFrames(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.arrived:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for frame %d of %d", i+1, n)
		}
	}
}

func (h *captureHandler) scanRaws() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	raws := make([]string, len(h.scans))
	for i, s := range h.scans {
		raws[i] = s.Raw
	}
	return raws
}

// startFeedServer starts a FeedServer on a temp socket and returns it
// with its socket path. Serve runs until the test ends.
func startFeedServer(t *testing.T, handler FeedHandler) (*FeedServer, string) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "feed.sock")
	server, err := NewFeedServer(socketPath, handler, nil)
	if err != nil {
		t.Fatalf("NewFeedServer failed: %v", err)
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(t.Context())
	}()
	t.Cleanup(func() {
		if err := server.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if err := <-serveDone; err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	})

	return server, socketPath
}

func TestFeedServer_DispatchesScans(t *testing.T) {
	handler := newCaptureHandler()
	_, socketPath := startFeedServer(t, handler)

	client, err := DialFeed(socketPath)
	if err != nil {
		t.Fatalf("DialFeed failed: %v", err)
	}
	defer client.Close()

	raws := []string{
		"F:deadbeef:report.pdf:3:0:QUJD",
		"F:deadbeef:report.pdf:3:1:REVG",
		"F:deadbeef:report.pdf:3:2:R0hJ",
	}
	for _, raw := range raws {
		if err := client.SendScan(raw, "scanner-01"); err != nil {
			t.Fatalf("SendScan failed: %v", err)
		}
	}

	handler.waitFrames(t, len(raws))

	got := handler.scanRaws()
	if len(got) != len(raws) {
		t.Fatalf("dispatched %d scans, want %d", len(got), len(raws))
	}
	for i, raw := range raws {
		if got[i] != raw {
			t.Errorf("scans[%d].Raw = %q, want %q", i, got[i], raw)
		}
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.scans[0].Source != "scanner-01" {
		t.Errorf("Source = %q, want %q", handler.scans[0].Source, "scanner-01")
	}
	if handler.scans[0].Ts == "" {
		t.Error("Ts should be stamped by SendScan")
	}
}

func TestFeedServer_DispatchesResets(t *testing.T) {
	handler := newCaptureHandler()
	_, socketPath := startFeedServer(t, handler)

	client, err := DialFeed(socketPath)
	if err != nil {
		t.Fatalf("DialFeed failed: %v", err)
	}
	defer client.Close()

	if err := client.SendReset("deadbeef"); err != nil {
		t.Fatalf("SendReset failed: %v", err)
	}

	handler.waitFrames(t, 1)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.resets) != 1 {
		t.Fatalf("dispatched %d resets, want 1", len(handler.resets))
	}
	if handler.resets[0].SessionID != "deadbeef" {
		t.Errorf("SessionID = %q, want %q", handler.resets[0].SessionID, "deadbeef")
	}
}

// TestFeedServer_SkipsUndecodableFrame verifies a decode failure costs
// one frame, not the connection.
func TestFeedServer_SkipsUndecodableFrame(t *testing.T) {
	handler := newCaptureHandler()
	_, socketPath := startFeedServer(t, handler)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Garbage msgpack, correctly framed
	if _, err := conn.Write(rawFrame([]byte{0xFF, 0xFF, 0xFF})); err != nil {
		t.Fatalf("write garbage frame: %v", err)
	}

	// A valid scan on the same connection must still arrive
	scan := &types.ScanFrame{Type: types.ScanFrameType, Raw: "F:deadbeef:a.bin:1:0:QUJD"}
	if err := WriteFrame(conn, scan); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	handler.waitFrames(t, 1)

	got := handler.scanRaws()
	if len(got) != 1 || got[0] != scan.Raw {
		t.Errorf("scans = %v, want [%q]", got, scan.Raw)
	}
}

// TestFeedServer_DropsConnectionOnFatalFrame verifies an oversized
// length prefix kills the connection but not the server.
func TestFeedServer_DropsConnectionOnFatalFrame(t *testing.T) {
	handler := newCaptureHandler()
	_, socketPath := startFeedServer(t, handler)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Length prefix claiming a payload over the limit
	oversized := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := conn.Write(oversized); err != nil {
		t.Fatalf("write oversized prefix: %v", err)
	}

	// The server should close its end; our next read sees EOF
	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected server to close connection, read err = %v", err)
	}

	// A fresh connection still works
	client, err := DialFeed(socketPath)
	if err != nil {
		t.Fatalf("DialFeed after drop failed: %v", err)
	}
	defer client.Close()

	if err := client.SendScan("F:deadbeef:a.bin:1:0:QUJD", "cam"); err != nil {
		t.Fatalf("SendScan failed: %v", err)
	}
	handler.waitFrames(t, 1)

	if got := handler.scanRaws(); len(got) != 1 {
		t.Errorf("dispatched %d scans, want 1", len(got))
	}
}

// TestFeedServer_HandlerErrorKeepsConnection verifies a rejected scan
// does not drop the scanner's connection.
func TestFeedServer_HandlerErrorKeepsConnection(t *testing.T) {
	handler := newCaptureHandler()
	handler.scanErr = errors.New("decode failure")
	_, socketPath := startFeedServer(t, handler)

	client, err := DialFeed(socketPath)
	if err != nil {
		t.Fatalf("DialFeed failed: %v", err)
	}
	defer client.Close()

	if err := client.SendScan("not-a-valid-payload", "cam"); err != nil {
		t.Fatalf("SendScan failed: %v", err)
	}
	handler.waitFrames(t, 1)

	// Clear the injected error; the connection must still be alive
	handler.mu.Lock()
	handler.scanErr = nil
	handler.mu.Unlock()

	if err := client.SendScan("F:deadbeef:a.bin:1:0:QUJD", "cam"); err != nil {
		t.Fatalf("SendScan after rejection failed: %v", err)
	}
	handler.waitFrames(t, 1)

	if got := handler.scanRaws(); len(got) != 2 {
		t.Errorf("dispatched %d scans, want 2", len(got))
	}
}

func TestFeedServer_RemovesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "feed.sock")

	// Simulate a socket file left behind by a crashed daemon
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatalf("create stale socket file: %v", err)
	}

	server, err := NewFeedServer(socketPath, newCaptureHandler(), nil)
	if err != nil {
		t.Fatalf("NewFeedServer with stale socket failed: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFeedServer_CloseUnblocksServe(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "feed.sock")
	server, err := NewFeedServer(socketPath, newCaptureHandler(), nil)
	if err != nil {
		t.Fatalf("NewFeedServer failed: %v", err)
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(context.Background())
	}()

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve returned error after Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestFeedServer_ContextCancelStopsServe(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "feed.sock")
	server, err := NewFeedServer(socketPath, newCaptureHandler(), nil)
	if err != nil {
		t.Fatalf("NewFeedServer failed: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	cancel()

	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve returned error after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}

func TestFeedServer_CloseIdempotent(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "feed.sock")
	server, err := NewFeedServer(socketPath, newCaptureHandler(), nil)
	if err != nil {
		t.Fatalf("NewFeedServer failed: %v", err)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestFeedLines(t *testing.T) {
	input := strings.Join([]string{
		"F:deadbeef:report.pdf:3:0:QUJD",
		"",
		"  F:deadbeef:report.pdf:3:1:REVG\r",
		"   ",
		"F:deadbeef:report.pdf:3:2:R0hJ",
	}, "\n")

	var raws []string
	err := FeedLines(t.Context(), strings.NewReader(input), func(raw string) error {
		raws = append(raws, raw)
		return nil
	})
	if err != nil {
		t.Fatalf("FeedLines failed: %v", err)
	}

	want := []string{
		"F:deadbeef:report.pdf:3:0:QUJD",
		"F:deadbeef:report.pdf:3:1:REVG",
		"F:deadbeef:report.pdf:3:2:R0hJ",
	}
	if len(raws) != len(want) {
		t.Fatalf("got %d lines, want %d", len(raws), len(want))
	}
	for i := range want {
		if raws[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, raws[i], want[i])
		}
	}
}

func TestFeedLines_StopsOnError(t *testing.T) {
	input := "line-one\nline-two\nline-three\n"
	errStop := errors.New("stop")

	var count int
	err := FeedLines(t.Context(), strings.NewReader(input), func(string) error {
		count++
		if count == 2 {
			return errStop
		}
		return nil
	})

	if !errors.Is(err, errStop) {
		t.Fatalf("err = %v, want %v", err, errStop)
	}
	if count != 2 {
		t.Errorf("fn called %d times, want 2", count)
	}
}

func TestFeedLines_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := FeedLines(ctx, strings.NewReader("one\ntwo\n"), func(string) error {
		t.Fatal("fn should not be called after cancel")
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFeedLines_EmptyInput(t *testing.T) {
	err := FeedLines(t.Context(), strings.NewReader(""), func(string) error {
		t.Fatal("fn should not be called for empty input")
		return nil
	})
	if err != nil {
		t.Fatalf("FeedLines failed: %v", err)
	}
}
