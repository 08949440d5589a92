package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/memtrace/internal/model"
)

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name                       string
		startA, endA, startB, endB uint64
		want                       bool
	}{
		{"disjoint", 0, 10, 20, 30, false},
		{"touching", 0, 10, 10, 20, false},
		{"one byte", 0, 11, 10, 20, true},
		{"nested", 0, 100, 40, 50, true},
		{"identical", 5, 9, 5, 9, true},
		{"empty a", 10, 10, 0, 20, false},
		{"empty b", 0, 20, 10, 10, false},
		{"inverted", 20, 10, 0, 30, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Overlaps(tc.startA, tc.endA, tc.startB, tc.endB))
			assert.Equal(t, tc.want, Overlaps(tc.startB, tc.endB, tc.startA, tc.endA), "symmetry")
		})
	}
}

func TestZeroSizeNeverOverlapsItself(t *testing.T) {
	for _, base := range []uint64{0, 1, 4096, ^uint64(0)} {
		assert.False(t, OverlapsSized(base, 0, base, 0))
		assert.False(t, OverlapsSized(base, 0, 0, ^uint64(0)))
	}
}

func TestEndSaturates(t *testing.T) {
	assert.Equal(t, uint64(30), End(10, 20))
	assert.Equal(t, ^uint64(0), End(^uint64(0)-1, 10))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains(0, 100, 0, 100))
	assert.True(t, Contains(0, 100, 10, 20))
	assert.False(t, Contains(0, 100, 90, 101))
	assert.True(t, Contains(0, 100, 50, 50))
	assert.False(t, Contains(0, 100, 100, 100))
}

func TestOverlapBytes(t *testing.T) {
	assert.Equal(t, uint64(5), OverlapBytes(0, 10, 5, 20))
	assert.Equal(t, uint64(10), OverlapBytes(0, 100, 40, 50))
	assert.Equal(t, uint64(0), OverlapBytes(0, 10, 10, 20))
}

func TestHeapForAddress(t *testing.T) {
	segments := []model.Segment{
		{Heap: model.HeapLocal, BaseAddress: 0x1000, Size: 0x1000},
		{Heap: model.HeapInvisible, BaseAddress: 0x2000, Size: 0x2000},
	}

	assert.Equal(t, model.HeapSystem, HeapForAddress(segments, 0))
	assert.Equal(t, model.HeapLocal, HeapForAddress(segments, 0x1000))
	assert.Equal(t, model.HeapLocal, HeapForAddress(segments, 0x1fff))
	assert.Equal(t, model.HeapInvisible, HeapForAddress(segments, 0x2000))
	assert.Equal(t, model.HeapInvisible, HeapForAddress(segments, 0x3fff))
	assert.Equal(t, model.HeapUnknown, HeapForAddress(segments, 0x4000))
	assert.Equal(t, model.HeapUnknown, HeapForAddress(nil, 0x10))
}
