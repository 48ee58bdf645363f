package store

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/justapithecus/mosaic/log"
	"github.com/justapithecus/mosaic/types"
)

//go:embed schema.sql
var schemaSQL string

// metricsHistory bounds the metrics snapshot table; PutMetrics trims
// older rows past this count.
const metricsHistory = 100

// SQLiteConfig holds the parameters for opening the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path. The parent directory must exist.
	// The file is created on first open.
	Path string

	// PoolSize is the connection count. Defaults to max(NumCPU, 4).
	// SQLite serializes writes regardless, so extra connections only
	// help concurrent readers.
	PoolSize int

	// Logger receives operational messages. Nil means a component
	// logger named "store".
	Logger *log.Logger
}

// SQLite is the durable Store backed by one database file in WAL mode.
// Connections carry standard pragmas and the embedded schema; the
// schema is idempotent, so opening an existing file upgrades nothing
// and loses nothing.
type SQLite struct {
	pool   *sqlitex.Pool
	logger *log.Logger
	path   string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at cfg.Path and
// prepares the schema. The caller must Close the store when done.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger("store")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, NewStoreError(classifyError(err), "open", "", err)
	}

	logger.Info("sqlite store opened", map[string]any{
		"path":      cfg.Path,
		"pool_size": poolSize,
	})

	return &SQLite{
		pool:   pool,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// prepareConn applies standard pragmas and the embedded schema. Runs
// once per pooled connection, on first use.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schemaSQL, nil)
}

// Close closes the connection pool. Blocks until borrowed connections
// are returned.
func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		return NewStoreError(classifyError(err), "close", "", err)
	}
	s.logger.Info("sqlite store closed", map[string]any{"path": s.path})
	return nil
}

// PutChunk persists one chunk under first-write-wins semantics.
func (s *SQLite) PutChunk(ctx context.Context, rec *ChunkRecord) (stored bool, err error) {
	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return false, NewStoreError(classifyError(takeErr), "put chunk", rec.SessionID, takeErr)
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, NewStoreError(classifyError(err), "put chunk", rec.SessionID, err)
	}
	defer end(&err)

	return insertChunk(conn, rec)
}

// insertChunk does the compare-then-insert inside an open transaction.
func insertChunk(conn *sqlite.Conn, rec *ChunkRecord) (bool, error) {
	var existing []byte
	found := false
	err := sqlitex.Execute(conn,
		"SELECT payload FROM chunks WHERE session_id = ? AND idx = ?",
		&sqlitex.ExecOptions{
			Args: []any{rec.SessionID, rec.Index},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				existing = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, existing)
				return nil
			},
		})
	if err != nil {
		return false, NewStoreError(classifyError(err), "put chunk", rec.SessionID, err)
	}

	if found {
		if bytes.Equal(existing, rec.Payload) {
			return false, nil
		}
		return false, NewStoreError(ErrConflict, "put chunk", rec.SessionID,
			fmt.Errorf("index %d holds %d bytes, refused %d-byte rewrite",
				rec.Index, len(existing), len(rec.Payload)))
	}

	storedAt := rec.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO chunks (session_id, idx, payload, checksum, verified, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.SessionID,
				rec.Index,
				rec.Payload,
				rec.Checksum,
				boolToInt(rec.Verified),
				storedAt.UnixNano(),
			},
		})
	if err != nil {
		return false, NewStoreError(classifyError(err), "put chunk", rec.SessionID, err)
	}
	return true, nil
}

// GetChunk returns the payload for one chunk.
func (s *SQLite) GetChunk(ctx context.Context, sessionID string, index int) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, NewStoreError(classifyError(err), "get chunk", sessionID, err)
	}
	defer s.pool.Put(conn)

	var payload []byte
	found := false
	err = sqlitex.Execute(conn,
		"SELECT payload FROM chunks WHERE session_id = ? AND idx = ?",
		&sqlitex.ExecOptions{
			Args: []any{sessionID, index},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				payload = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, payload)
				return nil
			},
		})
	if err != nil {
		return nil, NewStoreError(classifyError(err), "get chunk", sessionID, err)
	}
	if !found {
		return nil, NewStoreError(ErrNotFound, "get chunk", sessionID,
			fmt.Errorf("index %d", index))
	}
	return payload, nil
}

// HasChunk reports whether a chunk row exists.
func (s *SQLite) HasChunk(ctx context.Context, sessionID string, index int) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, NewStoreError(classifyError(err), "has chunk", sessionID, err)
	}
	defer s.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn,
		"SELECT 1 FROM chunks WHERE session_id = ? AND idx = ?",
		&sqlitex.ExecOptions{
			Args: []any{sessionID, index},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	if err != nil {
		return false, NewStoreError(classifyError(err), "has chunk", sessionID, err)
	}
	return found, nil
}

// ChunkIndices returns the stored indices for a session, ascending.
func (s *SQLite) ChunkIndices(ctx context.Context, sessionID string) ([]int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, NewStoreError(classifyError(err), "chunk indices", sessionID, err)
	}
	defer s.pool.Put(conn)

	var indices []int
	err = sqlitex.Execute(conn,
		"SELECT idx FROM chunks WHERE session_id = ? ORDER BY idx",
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				indices = append(indices, stmt.ColumnInt(0))
				return nil
			},
		})
	if err != nil {
		return nil, NewStoreError(classifyError(err), "chunk indices", sessionID, err)
	}
	return indices, nil
}

// LoadAll returns the payloads for indices [0,total) in ascending
// order, or *IncompleteError naming the gaps.
func (s *SQLite) LoadAll(ctx context.Context, sessionID string, total int) ([][]byte, error) {
	if total <= 0 {
		return nil, NewStoreError(ErrIncomplete, "load", sessionID,
			fmt.Errorf("total %d", total))
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, NewStoreError(classifyError(err), "load", sessionID, err)
	}
	defer s.pool.Put(conn)

	payloads := make([][]byte, total)
	present := make([]bool, total)
	outOfRange := -1
	err = sqlitex.Execute(conn,
		"SELECT idx, payload FROM chunks WHERE session_id = ? ORDER BY idx",
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				idx := stmt.ColumnInt(0)
				if idx < 0 || idx >= total {
					outOfRange = idx
					return nil
				}
				payload := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, payload)
				payloads[idx] = payload
				present[idx] = true
				return nil
			},
		})
	if err != nil {
		return nil, NewStoreError(classifyError(err), "load", sessionID, err)
	}
	if outOfRange >= 0 {
		return nil, NewStoreError(ErrCorrupt, "load", sessionID,
			fmt.Errorf("stored index %d outside declared range [0,%d)", outOfRange, total))
	}

	var missing []int
	for i := 0; i < total; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return nil, &IncompleteError{SessionID: sessionID, Total: total, Missing: missing}
	}
	return payloads, nil
}

// DeleteSession removes the session row and all its chunks in one
// transaction. Unknown sessions are a no-op.
func (s *SQLite) DeleteSession(ctx context.Context, sessionID string) (err error) {
	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return NewStoreError(classifyError(takeErr), "delete session", sessionID, takeErr)
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return NewStoreError(classifyError(err), "delete session", sessionID, err)
	}
	defer end(&err)

	for _, query := range []string{
		"DELETE FROM chunks WHERE session_id = ?",
		"DELETE FROM sessions WHERE session_id = ?",
	} {
		if err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: []any{sessionID}}); err != nil {
			return NewStoreError(classifyError(err), "delete session", sessionID, err)
		}
	}
	return nil
}

// PutSession upserts a session record.
func (s *SQLite) PutSession(ctx context.Context, rec *SessionRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return NewStoreError(classifyError(err), "put session", rec.SessionID, err)
	}
	defer s.pool.Put(conn)

	return upsertSession(conn, rec)
}

func upsertSession(conn *sqlite.Conn, rec *SessionRecord) error {
	var metadataJSON any
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return NewStoreError(ErrCorrupt, "put session", rec.SessionID,
				fmt.Errorf("marshal metadata: %w", err))
		}
		metadataJSON = string(data)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	err := sqlitex.Execute(conn,
		`INSERT INTO sessions
			(session_id, filename, declared_size, checksum, total_chunks,
			 status, protocol, metadata, bytes_received, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			filename = excluded.filename,
			declared_size = excluded.declared_size,
			checksum = excluded.checksum,
			total_chunks = excluded.total_chunks,
			status = excluded.status,
			protocol = excluded.protocol,
			metadata = excluded.metadata,
			bytes_received = excluded.bytes_received,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.SessionID,
				rec.Filename,
				rec.DeclaredSize,
				rec.Checksum,
				rec.TotalChunks,
				string(rec.Status),
				rec.Protocol,
				metadataJSON,
				rec.BytesReceived,
				createdAt.UnixNano(),
				updatedAt.UnixNano(),
			},
		})
	if err != nil {
		return NewStoreError(classifyError(err), "put session", rec.SessionID, err)
	}
	return nil
}

// GetSession returns one session record.
func (s *SQLite) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, NewStoreError(classifyError(err), "get session", sessionID, err)
	}
	defer s.pool.Put(conn)

	var rec *SessionRecord
	err = sqlitex.Execute(conn,
		sessionColumns+" FROM sessions WHERE session_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, scanErr := scanSession(stmt)
				if scanErr != nil {
					return scanErr
				}
				rec = scanned
				return nil
			},
		})
	if err != nil {
		return nil, NewStoreError(classifyError(err), "get session", sessionID, err)
	}
	if rec == nil {
		return nil, NewStoreError(ErrNotFound, "get session", sessionID, fmt.Errorf("no row"))
	}
	return rec, nil
}

// ListSessions returns all session records, oldest first.
func (s *SQLite) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, NewStoreError(classifyError(err), "list sessions", "", err)
	}
	defer s.pool.Put(conn)

	var records []*SessionRecord
	err = sqlitex.Execute(conn,
		sessionColumns+" FROM sessions ORDER BY created_at",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec, scanErr := scanSession(stmt)
				if scanErr != nil {
					return scanErr
				}
				records = append(records, rec)
				return nil
			},
		})
	if err != nil {
		return nil, NewStoreError(classifyError(err), "list sessions", "", err)
	}
	return records, nil
}

const sessionColumns = `SELECT session_id, filename, declared_size, checksum,
	total_chunks, status, protocol, metadata, bytes_received, created_at, updated_at`

func scanSession(stmt *sqlite.Stmt) (*SessionRecord, error) {
	rec := &SessionRecord{
		SessionID:     stmt.ColumnText(0),
		Filename:      stmt.ColumnText(1),
		DeclaredSize:  stmt.ColumnInt64(2),
		Checksum:      stmt.ColumnText(3),
		TotalChunks:   stmt.ColumnInt(4),
		Status:        types.SessionStatus(stmt.ColumnText(5)),
		Protocol:      stmt.ColumnText(6),
		BytesReceived: stmt.ColumnInt64(8),
		CreatedAt:     time.Unix(0, stmt.ColumnInt64(9)),
		UpdatedAt:     time.Unix(0, stmt.ColumnInt64(10)),
	}
	if !stmt.ColumnIsNull(7) {
		raw := stmt.ColumnText(7)
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	return rec, nil
}

// PutMetrics appends a collector snapshot and trims history beyond
// metricsHistory rows.
func (s *SQLite) PutMetrics(ctx context.Context, snap *MetricsSnapshot) (err error) {
	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return NewStoreError(classifyError(takeErr), "put metrics", "", takeErr)
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return NewStoreError(classifyError(err), "put metrics", "", err)
	}
	defer end(&err)

	at := snap.At
	if at.IsZero() {
		at = time.Now()
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO metrics (at, payload) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{at.UnixNano(), string(snap.Payload)}})
	if err != nil {
		return NewStoreError(classifyError(err), "put metrics", "", err)
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM metrics WHERE id NOT IN
			(SELECT id FROM metrics ORDER BY at DESC, id DESC LIMIT ?)`,
		&sqlitex.ExecOptions{Args: []any{metricsHistory}})
	if err != nil {
		return NewStoreError(classifyError(err), "put metrics", "", err)
	}
	return nil
}

// LatestMetrics returns the newest snapshot.
func (s *SQLite) LatestMetrics(ctx context.Context) (*MetricsSnapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, NewStoreError(classifyError(err), "latest metrics", "", err)
	}
	defer s.pool.Put(conn)

	var snap *MetricsSnapshot
	err = sqlitex.Execute(conn,
		"SELECT at, payload FROM metrics ORDER BY at DESC, id DESC LIMIT 1",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				snap = &MetricsSnapshot{
					At:      time.Unix(0, stmt.ColumnInt64(0)),
					Payload: []byte(stmt.ColumnText(1)),
				}
				return nil
			},
		})
	if err != nil {
		return nil, NewStoreError(classifyError(err), "latest metrics", "", err)
	}
	if snap == nil {
		return nil, NewStoreError(ErrNotFound, "latest metrics", "", fmt.Errorf("no snapshots"))
	}
	return snap, nil
}

// WriteChunks persists a batch of chunks in one immediate transaction.
func (s *SQLite) WriteChunks(ctx context.Context, chunks []*ChunkRecord) (err error) {
	if len(chunks) == 0 {
		return nil
	}

	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return NewStoreError(classifyError(takeErr), "write chunks", "", takeErr)
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return NewStoreError(classifyError(err), "write chunks", "", err)
	}
	defer end(&err)

	for _, rec := range chunks {
		if _, err = insertChunk(conn, rec); err != nil {
			return err
		}
	}
	return nil
}

// WriteSessions upserts a batch of session records in one immediate
// transaction.
func (s *SQLite) WriteSessions(ctx context.Context, sessions []*SessionRecord) (err error) {
	if len(sessions) == 0 {
		return nil
	}

	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return NewStoreError(classifyError(takeErr), "write sessions", "", takeErr)
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return NewStoreError(classifyError(err), "write sessions", "", err)
	}
	defer end(&err)

	for _, rec := range sessions {
		if err = upsertSession(conn, rec); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
