// Package addr provides half-open range arithmetic over 64-bit GPU addresses.
//
// Every range is [start, end): start is inclusive, end exclusive. An empty
// range (start >= end) overlaps nothing, itself included.
package addr

import "github.com/rcliao/memtrace/internal/model"

// End returns base+size, saturating at the top of the address space.
func End(base, size uint64) uint64 {
	end := base + size
	if end < base {
		return ^uint64(0)
	}
	return end
}

// Overlaps reports whether [startA, endA) and [startB, endB) share a byte.
func Overlaps(startA, endA, startB, endB uint64) bool {
	if startA >= endA || startB >= endB {
		return false
	}
	return startA < endB && startB < endA
}

// OverlapsSized is Overlaps for base/size pairs.
func OverlapsSized(a, sizeA, b, sizeB uint64) bool {
	return Overlaps(a, End(a, sizeA), b, End(b, sizeB))
}

// Contains reports whether [start, end) lies inside [outerStart, outerEnd).
// An empty inner range is contained when its start lies inside the outer range.
func Contains(outerStart, outerEnd, start, end uint64) bool {
	if start >= end {
		return outerStart <= start && start < outerEnd
	}
	return outerStart <= start && end <= outerEnd
}

// OverlapBytes returns the number of bytes the two ranges share.
func OverlapBytes(startA, endA, startB, endB uint64) uint64 {
	if !Overlaps(startA, endA, startB, endB) {
		return 0
	}
	lo := max(startA, startB)
	hi := min(endA, endB)
	return hi - lo
}

// HeapForAddress returns the heap whose segment contains a physical address.
// Address 0 is the sentinel for host memory.
func HeapForAddress(segments []model.Segment, address uint64) model.HeapType {
	if address == 0 {
		return model.HeapSystem
	}
	for _, seg := range segments {
		if seg.BaseAddress <= address && address < End(seg.BaseAddress, seg.Size) {
			return seg.Heap
		}
	}
	return model.HeapUnknown
}
