package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/snapshot"
)

func buildSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	trace := &model.Trace{Streams: [][]model.Token{{
		{Kind: model.TokenVirtualAllocate, Timestamp: 1,
			VirtualAllocate: &model.VirtualAllocate{Address: 0x1000, Size: 0x1000}},
		{Kind: model.TokenResourceCreate, Timestamp: 2,
			ResourceCreate: &model.ResourceCreate{ResourceID: 9, Type: model.ResourceTypeBuffer, Size: 0x100}},
		{Kind: model.TokenResourceBind, Timestamp: 3,
			ResourceBind: &model.ResourceBind{ResourceID: 9, Address: 0x1100, Size: 0x100}},
		{Kind: model.TokenCPUMap, Timestamp: 4, CPUMap: &model.CPUMap{Address: 0x1000}},
	}}}
	s, err := snapshot.Build(trace, 10)
	require.NoError(t, err)
	return s
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, buildSnapshot(t)))

	doc := gjson.ParseBytes(buf.Bytes())
	allocs := doc.Get("allocations").Array()
	require.Len(t, allocs, 1)

	a := allocs[0]
	assert.Equal(t, uint64(0x1000), a.Get("address").Uint())
	assert.Equal(t, uint64(1), a.Get("created").Uint())
	assert.Equal(t, uint64(4), a.Get("last_cpu_map").Uint())
	assert.Equal(t, int64(1), a.Get("map_count").Int())
	assert.Equal(t, int64(2), a.Get("unbound_regions").Int())
	assert.Equal(t, int64(1), a.Get("resource_count").Int())

	r := a.Get("resources.0")
	assert.Equal(t, uint64(9), r.Get("id").Uint())
	assert.Equal(t, uint64(3), r.Get("bound").Uint())
	assert.Equal(t, "buffer", r.Get("type").String())
}

func TestWriteEmptySnapshot(t *testing.T) {
	s, err := snapshot.Build(&model.Trace{}, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s))
	assert.JSONEq(t, `{"allocations":[]}`, buf.String())
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, WriteFile(path, buildSnapshot(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, gjson.ValidBytes(data))
}

func TestWriteFileNotWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "snap.json")
	err := WriteFile(path, buildSnapshot(t))
	assert.ErrorIs(t, err, ErrNotWritable)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteFailingWriter(t *testing.T) {
	err := Write(failingWriter{}, buildSnapshot(t))
	assert.ErrorIs(t, err, ErrNotWritable)
}

func TestWriteNilSnapshot(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Write(&buf, nil), snapshot.ErrInvalidArgument)
}
