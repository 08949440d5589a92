package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcliao/memtrace/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrace(name string) *model.Trace {
	return &model.Trace{
		Name:            name,
		TargetProcessID: 4242,
		Segments: []model.Segment{
			{Heap: model.HeapLocal, BaseAddress: 0x100000, Size: 0x100000},
			{Heap: model.HeapSystem, BaseAddress: 0, Size: 1 << 40},
		},
		Streams: [][]model.Token{
			{
				{Kind: model.TokenVirtualAllocate, Timestamp: 10, ThreadID: 1,
					VirtualAllocate: &model.VirtualAllocate{Address: 0xffff_8000_0000_0000, Size: 4096,
						Preferences: []model.HeapType{model.HeapLocal, model.HeapSystem}}},
				{Kind: model.TokenVirtualFree, Timestamp: 30, ThreadID: 1,
					VirtualFree: &model.VirtualFree{Address: 0xffff_8000_0000_0000}},
			},
			{
				{Kind: model.TokenResourceCreate, Timestamp: 20, ThreadID: 2,
					ResourceCreate: &model.ResourceCreate{ResourceID: 7, Type: model.ResourceTypeImage,
						Usage: model.UsageFlagRenderTarget, Size: 1024}},
				{Kind: model.TokenPageTableUpdate, Timestamp: 25, ThreadID: 2,
					PageTableUpdate: &model.PageTableUpdate{VirtualAddress: 0xffff_8000_0000_0000,
						PhysicalAddress: 0x100000, SizeInPages: 1, PageSize: 4096, ProcessID: 4242}},
			},
		},
	}
}

func TestPutAndLoadTrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := sampleTrace("frame")
	info, err := s.PutTrace(ctx, in)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ID == "" {
		t.Error("expected non-empty ID")
	}
	if in.ID != info.ID {
		t.Errorf("expected trace ID to be assigned, got %q", in.ID)
	}
	if info.TokenCount != 4 || info.StreamCount != 2 {
		t.Errorf("expected 2 streams / 4 tokens, got %d / %d", info.StreamCount, info.TokenCount)
	}

	got, err := s.LoadTrace(ctx, info.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "frame" || got.TargetProcessID != 4242 {
		t.Errorf("unexpected metadata: %+v", got)
	}
	if len(got.Segments) != 2 || got.Segments[1].Size != 1<<40 {
		t.Errorf("unexpected segments: %+v", got.Segments)
	}
	if len(got.Streams) != 2 || len(got.Streams[0]) != 2 || len(got.Streams[1]) != 2 {
		t.Fatalf("unexpected stream shape: %d streams", len(got.Streams))
	}

	alloc := got.Streams[0][0].VirtualAllocate
	if alloc == nil || alloc.Address != 0xffff_8000_0000_0000 {
		t.Errorf("high addresses must survive storage, got %+v", alloc)
	}
	if len(alloc.Preferences) != 2 || alloc.Preferences[1] != model.HeapSystem {
		t.Errorf("unexpected preferences: %v", alloc.Preferences)
	}
	create := got.Streams[1][0]
	if create.Kind != model.TokenResourceCreate || create.ResourceCreate.Type != model.ResourceTypeImage {
		t.Errorf("unexpected create token: %+v", create)
	}
	if create.ResourceCreate.Usage != model.UsageFlagRenderTarget {
		t.Errorf("expected render target usage, got %d", create.ResourceCreate.Usage)
	}
	pt := got.Streams[1][1].PageTableUpdate
	if pt == nil || pt.ProcessID != 4242 || ptSize(pt) != 4096 {
		t.Errorf("unexpected page table update: %+v", pt)
	}
}

func TestLoadTraceByName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.PutTrace(ctx, sampleTrace("older"))
	info, _ := s.PutTrace(ctx, sampleTrace("frame"))

	got, err := s.LoadTrace(ctx, "frame")
	if err != nil {
		t.Fatalf("load by name: %v", err)
	}
	if got.ID != info.ID {
		t.Errorf("expected %s, got %s", info.ID, got.ID)
	}
}

func TestLoadTraceNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadTrace(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutTraceRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	tr := sampleTrace("bad")
	tr.Streams[0][1].Timestamp = 1 // goes backwards
	if _, err := s.PutTrace(context.Background(), tr); err == nil {
		t.Fatal("expected validation error")
	}
	traces, _ := s.ListTraces(context.Background())
	if len(traces) != 0 {
		t.Errorf("expected nothing stored, got %d traces", len(traces))
	}
}

func TestListTraces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.PutTrace(ctx, sampleTrace("a"))
	s.PutTrace(ctx, sampleTrace("b"))

	traces, err := s.ListTraces(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(traces) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(traces))
	}
	if traces[0].Name != "b" {
		t.Errorf("expected newest first, got %q", traces[0].Name)
	}
}

func TestRmTrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	info, _ := s.PutTrace(ctx, sampleTrace("gone"))
	s.AddSnapshotPoint(ctx, PointParams{TraceID: info.ID, Name: "p", Timestamp: 5})

	if err := s.RmTrace(ctx, info.ID); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if _, err := s.LoadTrace(ctx, info.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after rm, got %v", err)
	}

	var tokens, points int
	s.db.QueryRow(`SELECT COUNT(*) FROM tokens`).Scan(&tokens)
	s.db.QueryRow(`SELECT COUNT(*) FROM snapshot_points`).Scan(&points)
	if tokens != 0 || points != 0 {
		t.Errorf("expected cascade delete, got %d tokens / %d points", tokens, points)
	}

	if err := s.RmTrace(ctx, info.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second rm, got %v", err)
	}
}

func TestSnapshotPoints(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	info, _ := s.PutTrace(ctx, sampleTrace("frame"))
	late, err := s.AddSnapshotPoint(ctx, PointParams{TraceID: info.ID, Name: "late", Timestamp: 30})
	if err != nil {
		t.Fatalf("add point: %v", err)
	}
	s.AddSnapshotPoint(ctx, PointParams{TraceID: "frame", Name: "early", Timestamp: 10})

	points, err := s.ListSnapshotPoints(ctx, info.ID)
	if err != nil {
		t.Fatalf("list points: %v", err)
	}
	if len(points) != 2 || points[0].Name != "early" || points[1].Name != "late" {
		t.Fatalf("expected [early late], got %+v", points)
	}

	byName, err := s.GetSnapshotPoint(ctx, info.ID, "late")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if byName.ID != late.ID || byName.Timestamp != 30 {
		t.Errorf("unexpected point: %+v", byName)
	}

	byID, err := s.GetSnapshotPoint(ctx, info.ID, late.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Name != "late" {
		t.Errorf("expected late, got %q", byID.Name)
	}

	if _, err := s.GetSnapshotPoint(ctx, info.ID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.AddSnapshotPoint(ctx, PointParams{TraceID: "missing", Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown trace, got %v", err)
	}
	if _, err := s.AddSnapshotPoint(ctx, PointParams{TraceID: info.ID}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "stats.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer s.Close()

	info, _ := s.PutTrace(ctx, sampleTrace("frame"))
	s.AddSnapshotPoint(ctx, PointParams{TraceID: info.ID, Name: "p", Timestamp: 5})

	st, err := s.Stats(ctx, dbPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalTraces != 1 || st.TotalTokens != 4 || st.TotalPoints != 1 || st.TotalSegments != 2 {
		t.Errorf("unexpected totals: %+v", st)
	}
	if len(st.Traces) != 1 || st.Traces[0].Points != 1 {
		t.Errorf("unexpected per-trace stats: %+v", st.Traces)
	}
	if st.DBSizeBytes == 0 {
		t.Error("expected non-zero db size")
	}
}

func TestDBPathCreation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected db file to be created")
	}
}

func ptSize(p *model.PageTableUpdate) uint64 {
	n, _ := p.SizeInBytes()
	return n
}
