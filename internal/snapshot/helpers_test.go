package snapshot

import (
	"testing"

	"github.com/rcliao/memtrace/internal/model"
)

func allocate(ts, address, size uint64, heaps ...model.HeapType) model.Token {
	return model.Token{Kind: model.TokenVirtualAllocate, Timestamp: ts, ThreadID: 1,
		VirtualAllocate: &model.VirtualAllocate{Address: address, Size: size, Preferences: heaps}}
}

func free(ts, address uint64) model.Token {
	return model.Token{Kind: model.TokenVirtualFree, Timestamp: ts, ThreadID: 1,
		VirtualFree: &model.VirtualFree{Address: address}}
}

func create(ts uint64, id model.ResourceIdentifier, typ model.ResourceType, size uint64) model.Token {
	return model.Token{Kind: model.TokenResourceCreate, Timestamp: ts, ThreadID: 2,
		ResourceCreate: &model.ResourceCreate{ResourceID: id, Type: typ, Size: size}}
}

func bind(ts uint64, id model.ResourceIdentifier, address, size uint64) model.Token {
	return model.Token{Kind: model.TokenResourceBind, Timestamp: ts, ThreadID: 2,
		ResourceBind: &model.ResourceBind{ResourceID: id, Address: address, Size: size}}
}

func destroy(ts uint64, id model.ResourceIdentifier) model.Token {
	return model.Token{Kind: model.TokenResourceDestroy, Timestamp: ts, ThreadID: 2,
		ResourceDestroy: &model.ResourceDestroy{ResourceID: id}}
}

func cpuMap(ts, address uint64, unmap bool) model.Token {
	return model.Token{Kind: model.TokenCPUMap, Timestamp: ts, ThreadID: 3,
		CPUMap: &model.CPUMap{Address: address, Unmap: unmap}}
}

func residency(ts, address uint64, evict bool) model.Token {
	return model.Token{Kind: model.TokenResidencyUpdate, Timestamp: ts, ThreadID: 3,
		ResidencyUpdate: &model.ResidencyUpdate{Address: address, Evict: evict}}
}

func pageMap(ts, virtual, physical, pages uint64) model.Token {
	return model.Token{Kind: model.TokenPageTableUpdate, Timestamp: ts, ThreadID: 4,
		PageTableUpdate: &model.PageTableUpdate{VirtualAddress: virtual, PhysicalAddress: physical, SizeInPages: pages, PageSize: 4096}}
}

func pageUnmap(ts, virtual, pages uint64) model.Token {
	return model.Token{Kind: model.TokenPageTableUpdate, Timestamp: ts, ThreadID: 4,
		PageTableUpdate: &model.PageTableUpdate{VirtualAddress: virtual, SizeInPages: pages, PageSize: 4096, Unmap: true}}
}

// testSegments places local memory at 1 MiB and invisible memory right after it.
var testSegments = []model.Segment{
	{Heap: model.HeapLocal, BaseAddress: 0x100000, Size: 0x100000},
	{Heap: model.HeapInvisible, BaseAddress: 0x200000, Size: 0x100000},
	{Heap: model.HeapSystem, BaseAddress: 0x400000, Size: 0x200000},
}

func newTrace(streams ...[]model.Token) *model.Trace {
	return &model.Trace{ID: "test", Name: "test", Segments: testSegments, Streams: streams}
}

func mustBuild(t *testing.T, trace *model.Trace, cutoff uint64) *Snapshot {
	t.Helper()
	s, err := Build(trace, cutoff)
	if err != nil {
		t.Fatalf("Build(%d): %v", cutoff, err)
	}
	return s
}
