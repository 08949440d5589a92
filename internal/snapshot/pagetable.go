package snapshot

import (
	"sort"

	"github.com/rcliao/memtrace/internal/model"
)

// mapping is one virtual span with physical backing in a single heap.
type mapping struct {
	start, end uint64
	heap       model.HeapType
}

// regionMap is a sorted set of non-overlapping mappings.
type regionMap []mapping

// unmap removes [start, end) and returns the bytes removed per heap.
func (m *regionMap) unmap(start, end uint64) [model.HeapCount]uint64 {
	var removed [model.HeapCount]uint64
	regions := *m
	first := sort.Search(len(regions), func(i int) bool { return regions[i].end > start })
	last := first
	var pieces []mapping
	for ; last < len(regions) && regions[last].start < end; last++ {
		r := regions[last]
		lo, hi := max(r.start, start), min(r.end, end)
		removed[r.heap] += hi - lo
		if r.start < start {
			pieces = append(pieces, mapping{start: r.start, end: start, heap: r.heap})
		}
		if r.end > end {
			pieces = append(pieces, mapping{start: end, end: r.end, heap: r.heap})
		}
	}
	if first == last {
		return removed
	}
	out := make(regionMap, 0, len(regions)-(last-first)+len(pieces))
	out = append(out, regions[:first]...)
	out = append(out, pieces...)
	out = append(out, regions[last:]...)
	*m = out
	return removed
}

// mapRange backs [start, end) with heap, replacing whatever was there, and
// returns the bytes displaced per heap.
func (m *regionMap) mapRange(start, end uint64, heap model.HeapType) [model.HeapCount]uint64 {
	removed := m.unmap(start, end)
	regions := *m
	i := sort.Search(len(regions), func(i int) bool { return regions[i].start >= start })
	regions = append(regions, mapping{})
	copy(regions[i+1:], regions[i:])
	regions[i] = mapping{start: start, end: end, heap: heap}
	*m = regions
	return removed
}

// backing splits [start, end) into bytes per backing storage bucket.
func (m regionMap) backing(start, end uint64) [model.BackingCount]uint64 {
	var out [model.BackingCount]uint64
	if start >= end {
		return out
	}
	var mapped uint64
	i := sort.Search(len(m), func(i int) bool { return m[i].end > start })
	for ; i < len(m) && m[i].start < end; i++ {
		lo, hi := max(m[i].start, start), min(m[i].end, end)
		out[m[i].heap] += hi - lo
		mapped += hi - lo
	}
	out[model.BackingUnmapped] = (end - start) - mapped
	return out
}

// PageTable tracks which virtual spans are backed by physical memory. The
// observed process gets a full region map; other processes are tracked so
// their unmaps subtract exactly what they mapped.
type PageTable struct {
	own    regionMap
	others map[uint64]*regionMap

	mappedPerHeap  [model.HeapCount]uint64
	mappedByOthers [model.HeapCount]uint64
}

func newPageTable() *PageTable {
	return &PageTable{others: make(map[uint64]*regionMap)}
}

func (p *PageTable) regions(own bool, pid uint64) (*regionMap, *[model.HeapCount]uint64) {
	if own {
		return &p.own, &p.mappedPerHeap
	}
	rm, ok := p.others[pid]
	if !ok {
		rm = &regionMap{}
		p.others[pid] = rm
	}
	return rm, &p.mappedByOthers
}

func (p *PageTable) mapRange(own bool, pid, start, end uint64, heap model.HeapType) {
	rm, totals := p.regions(own, pid)
	removed := rm.mapRange(start, end, heap)
	for h := range removed {
		totals[h] -= removed[h]
	}
	totals[heap] += end - start
}

// unmap returns the number of bytes that were actually mapped in the span.
func (p *PageTable) unmap(own bool, pid, start, end uint64) uint64 {
	rm, totals := p.regions(own, pid)
	removed := rm.unmap(start, end)
	var n uint64
	for h := range removed {
		totals[h] -= removed[h]
		n += removed[h]
	}
	return n
}

// MappedPerHeap returns the bytes the observed process has mapped in each heap.
func (p *PageTable) MappedPerHeap() [model.HeapCount]uint64 {
	return p.mappedPerHeap
}

// MappedByOthers returns the bytes other processes have mapped in each heap.
func (p *PageTable) MappedByOthers() [model.HeapCount]uint64 {
	return p.mappedByOthers
}

// Backing splits [start, end) of the observed process's address space into
// bytes per backing storage bucket (heaps plus unmapped).
func (p *PageTable) Backing(start, end uint64) [model.BackingCount]uint64 {
	return p.own.backing(start, end)
}

// RegionCount returns the number of distinct mapped spans of the observed process.
func (p *PageTable) RegionCount() int {
	return len(p.own)
}
