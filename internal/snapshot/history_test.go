package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtrace/internal/model"
)

type eventAt struct {
	Kind      HistoryEventKind
	Timestamp uint64
}

func eventsOf(h *ResourceHistory) []eventAt {
	out := make([]eventAt, 0, len(h.Events))
	for _, e := range h.Events {
		out = append(out, eventAt{e.Kind, e.Timestamp})
	}
	return out
}

func TestHistoryOrdering(t *testing.T) {
	trace := newTrace(
		[]model.Token{create(10, 1, model.ResourceTypeBuffer, 0x100), bind(20, 1, 0x1000, 0x100)},
		[]model.Token{cpuMap(15, 0x1000, false), cpuMap(25, 0x1000, true)},
	)
	s := mustBuild(t, trace, 100)

	alloc := &VirtualAllocation{ID: 1, BaseAddress: 0x1000, Size: 0x1000}
	r := &Resource{ID: 1, Type: model.ResourceTypeBuffer, Address: 0x1000, Size: 0x100, Allocation: alloc}

	h, err := GenerateResourceHistory(s, r)
	require.NoError(t, err)
	assert.Equal(t, []eventAt{
		{EventResourceCreated, 10},
		{EventVirtualMemoryMapped, 15},
		{EventResourceBound, 20},
		{EventVirtualMemoryUnmapped, 25},
	}, eventsOf(h))
	for _, e := range h.Events {
		assert.False(t, e.Physical)
	}
}

func TestHistoryReplaysWholeTrace(t *testing.T) {
	trace := newTrace([]model.Token{
		allocate(5, 0x1000, 0x1000, model.HeapLocal),
		create(10, 1, model.ResourceTypeImage, 0x200),
		bind(20, 1, 0x1100, 0x200),
		residency(30, 0x1000, false),
		pageMap(40, 0x1000, 0x100000, 1),
		pageMap(45, 0x1000, 0, 1),
		pageUnmap(50, 0x1000, 1),
		residency(60, 0x1000, true),
		destroy(70, 1),
		free(80, 0x1000),
	})
	// Snapshot is taken mid-trace but history covers everything.
	s := mustBuild(t, trace, 20)
	r, ok := s.Resource(1)
	require.True(t, ok)
	require.True(t, r.IsBound())

	h, err := GenerateResourceHistory(s, r)
	require.NoError(t, err)
	assert.Equal(t, []eventAt{
		{EventVirtualMemoryAllocated, 5},
		{EventResourceCreated, 10},
		{EventResourceBound, 20},
		{EventVirtualMemoryMakeResident, 30},
		{EventPhysicalMapToLocal, 40},
		{EventPhysicalMapToHost, 45},
		{EventPhysicalUnmap, 50},
		{EventVirtualMemoryEvict, 60},
		{EventResourceDestroyed, 70},
		{EventVirtualMemoryFree, 80},
	}, eventsOf(h))

	physical := 0
	for _, e := range h.Events {
		if e.Physical {
			physical++
		}
	}
	assert.Equal(t, 3, physical)
}

func TestHistoryPageTableOutsideResource(t *testing.T) {
	trace := newTrace([]model.Token{
		allocate(1, 0x1000, 0x4000),
		create(2, 1, model.ResourceTypeBuffer, 0x1000),
		bind(3, 1, 0x2000, 0x1000),
		pageMap(4, 0x1000, 0x100000, 1), // ends exactly where the resource begins
		pageMap(5, 0x3000, 0x100000, 1), // begins exactly where it ends
	})
	s := mustBuild(t, trace, 10)
	r, _ := s.Resource(1)
	h, err := GenerateResourceHistory(s, r)
	require.NoError(t, err)
	for _, e := range h.Events {
		assert.False(t, e.Physical, "half-open ranges that only touch do not overlap")
	}
}

func TestHistoryUnboundResource(t *testing.T) {
	trace := newTrace([]model.Token{
		allocate(1, 0x1000, 0x1000),
		create(2, 1, model.ResourceTypeBuffer, 0x100),
		cpuMap(3, 0x1000, false),
		destroy(4, 1),
	})
	s := mustBuild(t, trace, 2)
	r, _ := s.Resource(1)
	require.False(t, r.IsBound())

	h, err := GenerateResourceHistory(s, r)
	require.NoError(t, err)
	assert.Equal(t, []eventAt{
		{EventResourceCreated, 2},
		{EventResourceDestroyed, 4},
	}, eventsOf(h))
}

func TestHistoryInvalidResource(t *testing.T) {
	s := mustBuild(t, newTrace(), 0)

	_, err := GenerateResourceHistory(s, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrResourceNotResolvable)

	_, err = GenerateResourceHistory(s, &Resource{})
	assert.ErrorIs(t, err, ErrResourceNotResolvable)

	_, err = GenerateResourceHistory(nil, &Resource{ID: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHistoryEventKindText(t *testing.T) {
	b, err := EventPhysicalMapToHost.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "physical_map_to_host", string(b))
	assert.Equal(t, "event(99)", HistoryEventKind(99).String())
}
