package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/mosaic/iox"
	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/types"
)

// FeedHandler consumes decoded feed frames. Implementations serialize
// per-session internally; the server calls handlers from per-connection
// goroutines without further ordering across connections.
type FeedHandler interface {
	HandleScan(ctx context.Context, frame *types.ScanFrame) error
	HandleReset(ctx context.Context, frame *types.ResetFrame) error
}

// FeedServer accepts framed feed connections on a unix socket and
// dispatches decoded frames to a handler. Frames within a connection are
// dispatched in arrival order.
type FeedServer struct {
	listener net.Listener
	handler  FeedHandler
	logger   *log.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// NewFeedServer binds a unix socket at path. A stale socket file left by
// a previous run is removed before binding. Logger may be nil.
func NewFeedServer(path string, handler FeedHandler, logger *log.Logger) (*FeedServer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale feed socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on feed socket %s: %w", path, err)
	}
	return &FeedServer{
		listener: listener,
		handler:  handler,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the address the server is listening on.
func (s *FeedServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts feed connections until ctx is canceled or Close is
// called. Each connection is read in its own goroutine. Returns nil on
// orderly shutdown.
func (s *FeedServer) Serve(ctx context.Context) error {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			iox.DiscardClose(s.listener)
		case <-watchDone:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return fmt.Errorf("accept feed connection: %w", err)
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

// serveConn reads frames until EOF, a fatal frame error, or ctx cancel.
// A decode error skips that frame; the stream is still framed, so the
// connection stays up. Handler errors are logged, not fatal: a scan the
// engine rejects must not take down the scanner's connection.
func (s *FeedServer) serveConn(ctx context.Context, conn net.Conn) {
	defer iox.DiscardClose(conn)

	decoder := NewFrameDecoder(conn)
	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := decoder.ReadFrame()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.logWarn("dropping feed connection", map[string]any{
				"error": err.Error(),
			})
			return
		}

		frame, err := DecodeFrame(payload)
		if err != nil {
			s.logWarn("skipping undecodable frame", map[string]any{
				"error": err.Error(),
			})
			continue
		}

		switch f := frame.(type) {
		case *types.ScanFrame:
			if err := s.handler.HandleScan(ctx, f); err != nil {
				s.logWarn("scan rejected", map[string]any{
					"source": f.Source,
					"error":  err.Error(),
				})
			}
		case *types.ResetFrame:
			if err := s.handler.HandleReset(ctx, f); err != nil {
				s.logWarn("reset rejected", map[string]any{
					"session_id": f.SessionID,
					"error":      err.Error(),
				})
			}
		}
	}
}

// Close stops the listener, closes open connections, and waits for
// connection goroutines to drain. Safe to call more than once.
func (s *FeedServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		open = append(open, conn)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		// Serve's context watcher got there first.
		err = nil
	}
	for _, conn := range open {
		iox.DiscardClose(conn)
	}
	s.wg.Wait()
	return err
}

func (s *FeedServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FeedServer) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *FeedServer) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *FeedServer) logWarn(message string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(message, fields)
}

// FeedClient streams frames to a daemon feed socket.
type FeedClient struct {
	conn net.Conn
}

// DialFeed connects to the feed socket at path.
func DialFeed(path string) (*FeedClient, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial feed socket %s: %w", path, err)
	}
	return &FeedClient{conn: conn}, nil
}

// SendScan sends one raw QR payload with a capture timestamp of now.
func (c *FeedClient) SendScan(raw, source string) error {
	return WriteFrame(c.conn, &types.ScanFrame{
		Type:   types.ScanFrameType,
		Raw:    raw,
		Source: source,
		Ts:     time.Now().UTC().Format(time.RFC3339),
	})
}

// SendReset sends a reset control frame for the given session.
func (c *FeedClient) SendReset(sessionID string) error {
	return WriteFrame(c.conn, &types.ResetFrame{
		Type:      types.ResetFrameType,
		SessionID: sessionID,
	})
}

// Close closes the feed connection.
func (c *FeedClient) Close() error {
	return c.conn.Close()
}

// FeedLines reads newline-delimited raw payloads from r and calls fn for
// each one. Lines are trimmed of surrounding whitespace (scanner apps on
// Windows emit CRLF); blank lines are skipped. Stops on the first fn
// error or when ctx is canceled.
func FeedLines(ctx context.Context, r io.Reader, fn func(raw string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxPayloadSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read feed lines: %w", err)
	}
	return nil
}
