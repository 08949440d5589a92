package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memtrace/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS traces (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		target_pid   INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		stream_count INTEGER NOT NULL,
		token_count  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_traces_name ON traces(name);

	CREATE TABLE IF NOT EXISTS segments (
		trace_id     TEXT NOT NULL REFERENCES traces(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		heap_type    TEXT NOT NULL,
		base_address INTEGER NOT NULL,
		size         INTEGER NOT NULL,
		PRIMARY KEY (trace_id, seq)
	);

	CREATE TABLE IF NOT EXISTS tokens (
		trace_id   TEXT NOT NULL REFERENCES traces(id) ON DELETE CASCADE,
		stream     INTEGER NOT NULL,
		seq        INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		timestamp  INTEGER NOT NULL,
		thread_id  INTEGER NOT NULL,
		payload    TEXT NOT NULL,
		PRIMARY KEY (trace_id, stream, seq)
	);

	CREATE TABLE IF NOT EXISTS snapshot_points (
		id         TEXT PRIMARY KEY,
		trace_id   TEXT NOT NULL REFERENCES traces(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		timestamp  INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_points_trace ON snapshot_points(trace_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite integers are signed; 64-bit addresses and timestamps are stored bit-for-bit.
func toDB(v uint64) int64   { return int64(v) }
func fromDB(v int64) uint64 { return uint64(v) }

func (s *SQLiteStore) PutTrace(ctx context.Context, t *model.Trace) (*TraceInfo, error) {
	if t == nil {
		return nil, errors.New("nil trace")
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("validate trace: %w", err)
	}

	now := time.Now().UTC()
	t.ID = s.newID()
	t.CreatedAt = now
	info := &TraceInfo{
		ID:              t.ID,
		Name:            t.Name,
		TargetProcessID: t.TargetProcessID,
		CreatedAt:       now,
		StreamCount:     len(t.Streams),
		TokenCount:      t.TokenCount(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO traces (id, name, target_pid, created_at, stream_count, token_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.Name, toDB(info.TargetProcessID), now.Format(timeFormat),
		info.StreamCount, info.TokenCount)
	if err != nil {
		return nil, fmt.Errorf("insert trace: %w", err)
	}

	for i, seg := range t.Segments {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO segments (trace_id, seq, heap_type, base_address, size) VALUES (?, ?, ?, ?, ?)`,
			t.ID, i, seg.Heap.String(), toDB(seg.BaseAddress), toDB(seg.Size))
		if err != nil {
			return nil, fmt.Errorf("insert segment: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tokens (trace_id, stream, seq, kind, timestamp, thread_id, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare token insert: %w", err)
	}
	defer stmt.Close()

	for si, stream := range t.Streams {
		for seq, tok := range stream {
			payload, err := encodePayload(tok)
			if err != nil {
				return nil, fmt.Errorf("encode token %d/%d: %w", si, seq, err)
			}
			_, err = stmt.ExecContext(ctx, t.ID, si, seq, tok.Kind.String(),
				toDB(tok.Timestamp), toDB(tok.ThreadID), string(payload))
			if err != nil {
				return nil, fmt.Errorf("insert token %d/%d: %w", si, seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return info, nil
}

// resolveTrace maps an id or name to a trace id. Names resolve to the newest match.
func (s *SQLiteStore) resolveTrace(ctx context.Context, ref string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM traces WHERE id = ? OR name = ? ORDER BY (id = ?) DESC, created_at DESC LIMIT 1`,
		ref, ref, ref).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("trace %q: %w", ref, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) LoadTrace(ctx context.Context, ref string) (*model.Trace, error) {
	id, err := s.resolveTrace(ctx, ref)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, target_pid, created_at, stream_count, token_count FROM traces WHERE id = ?`, id)
	info, err := scanTraceInfo(row)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	t := &model.Trace{
		ID:              info.ID,
		Name:            info.Name,
		TargetProcessID: info.TargetProcessID,
		CreatedAt:       info.CreatedAt,
		Streams:         make([][]model.Token, info.StreamCount),
	}

	segRows, err := s.db.QueryContext(ctx,
		`SELECT heap_type, base_address, size FROM segments WHERE trace_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer segRows.Close()
	for segRows.Next() {
		var (
			heap       string
			base, size int64
		)
		if err := segRows.Scan(&heap, &base, &size); err != nil {
			return nil, err
		}
		h, err := model.ParseHeapType(heap)
		if err != nil {
			return nil, fmt.Errorf("read segment: %w", err)
		}
		t.Segments = append(t.Segments, model.Segment{Heap: h, BaseAddress: fromDB(base), Size: fromDB(size)})
	}
	if err := segRows.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT stream, kind, timestamp, thread_id, payload FROM tokens
		 WHERE trace_id = ? ORDER BY stream, seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		stream, tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		if stream < 0 || stream >= len(t.Streams) {
			return nil, fmt.Errorf("token stream %d out of range", stream)
		}
		t.Streams[stream] = append(t.Streams[stream], tok)
	}
	return t, rows.Err()
}

func (s *SQLiteStore) ListTraces(ctx context.Context) ([]TraceInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, target_pid, created_at, stream_count, token_count
		 FROM traces ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []TraceInfo
	for rows.Next() {
		info, err := scanTraceInfo(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, info)
	}
	return traces, rows.Err()
}

func (s *SQLiteStore) RmTrace(ctx context.Context, ref string) error {
	id, err := s.resolveTrace(ctx, ref)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM traces WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AddSnapshotPoint(ctx context.Context, p PointParams) (*model.SnapshotPoint, error) {
	if p.Name == "" {
		return nil, errors.New("snapshot point name is required")
	}
	traceID, err := s.resolveTrace(ctx, p.TraceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pt := &model.SnapshotPoint{
		ID:        s.newID(),
		TraceID:   traceID,
		Name:      p.Name,
		Timestamp: p.Timestamp,
		CreatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshot_points (id, trace_id, name, timestamp, created_at) VALUES (?, ?, ?, ?, ?)`,
		pt.ID, pt.TraceID, pt.Name, toDB(pt.Timestamp), now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("insert snapshot point: %w", err)
	}
	return pt, nil
}

func (s *SQLiteStore) ListSnapshotPoints(ctx context.Context, traceID string) ([]model.SnapshotPoint, error) {
	id, err := s.resolveTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, name, timestamp, created_at FROM snapshot_points
		 WHERE trace_id = ? ORDER BY timestamp, created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.SnapshotPoint
	for rows.Next() {
		pt, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, pt)
	}
	return points, rows.Err()
}

func (s *SQLiteStore) GetSnapshotPoint(ctx context.Context, traceID, ref string) (*model.SnapshotPoint, error) {
	id, err := s.resolveTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trace_id, name, timestamp, created_at FROM snapshot_points
		 WHERE trace_id = ? AND (id = ? OR name = ?)
		 ORDER BY (id = ?) DESC, created_at DESC LIMIT 1`, id, ref, ref, ref)
	pt, err := scanPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot point %q: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTraceInfo(row scanner) (TraceInfo, error) {
	var (
		info      TraceInfo
		pid       int64
		createdAt string
	)
	err := row.Scan(&info.ID, &info.Name, &pid, &createdAt, &info.StreamCount, &info.TokenCount)
	if err != nil {
		return info, err
	}
	info.TargetProcessID = fromDB(pid)
	info.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return info, nil
}

func scanPoint(row scanner) (model.SnapshotPoint, error) {
	var (
		pt        model.SnapshotPoint
		ts        int64
		createdAt string
	)
	err := row.Scan(&pt.ID, &pt.TraceID, &pt.Name, &ts, &createdAt)
	if err != nil {
		return pt, err
	}
	pt.Timestamp = fromDB(ts)
	pt.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return pt, nil
}

func scanToken(row scanner) (int, model.Token, error) {
	var (
		stream        int
		kind, payload string
		ts, thread    int64
		tok           model.Token
	)
	if err := row.Scan(&stream, &kind, &ts, &thread, &payload); err != nil {
		return 0, tok, err
	}
	k, err := model.ParseTokenKind(kind)
	if err != nil {
		return 0, tok, err
	}
	tok.Kind = k
	tok.Timestamp = fromDB(ts)
	tok.ThreadID = fromDB(thread)
	if err := decodePayload(&tok, []byte(payload)); err != nil {
		return 0, tok, fmt.Errorf("decode %s payload: %w", k, err)
	}
	return stream, tok, nil
}

// encodePayload marshals the payload matching the token's kind.
func encodePayload(tok model.Token) ([]byte, error) {
	if err := tok.Validate(); err != nil {
		return nil, err
	}
	switch tok.Kind {
	case model.TokenResourceCreate:
		return json.Marshal(tok.ResourceCreate)
	case model.TokenResourceDestroy:
		return json.Marshal(tok.ResourceDestroy)
	case model.TokenResourceBind:
		return json.Marshal(tok.ResourceBind)
	case model.TokenVirtualAllocate:
		return json.Marshal(tok.VirtualAllocate)
	case model.TokenVirtualFree:
		return json.Marshal(tok.VirtualFree)
	case model.TokenCPUMap:
		return json.Marshal(tok.CPUMap)
	case model.TokenResidencyUpdate:
		return json.Marshal(tok.ResidencyUpdate)
	default:
		return json.Marshal(tok.PageTableUpdate)
	}
}

func decodePayload(tok *model.Token, data []byte) error {
	switch tok.Kind {
	case model.TokenResourceCreate:
		tok.ResourceCreate = &model.ResourceCreate{}
		return json.Unmarshal(data, tok.ResourceCreate)
	case model.TokenResourceDestroy:
		tok.ResourceDestroy = &model.ResourceDestroy{}
		return json.Unmarshal(data, tok.ResourceDestroy)
	case model.TokenResourceBind:
		tok.ResourceBind = &model.ResourceBind{}
		return json.Unmarshal(data, tok.ResourceBind)
	case model.TokenVirtualAllocate:
		tok.VirtualAllocate = &model.VirtualAllocate{}
		return json.Unmarshal(data, tok.VirtualAllocate)
	case model.TokenVirtualFree:
		tok.VirtualFree = &model.VirtualFree{}
		return json.Unmarshal(data, tok.VirtualFree)
	case model.TokenCPUMap:
		tok.CPUMap = &model.CPUMap{}
		return json.Unmarshal(data, tok.CPUMap)
	case model.TokenResidencyUpdate:
		tok.ResidencyUpdate = &model.ResidencyUpdate{}
		return json.Unmarshal(data, tok.ResidencyUpdate)
	case model.TokenPageTableUpdate:
		tok.PageTableUpdate = &model.PageTableUpdate{}
		return json.Unmarshal(data, tok.PageTableUpdate)
	}
	return fmt.Errorf("unknown token kind %d", int(tok.Kind))
}
