package snapshot

import (
	"fmt"

	"github.com/rcliao/memtrace/internal/model"
)

// HeapUsage is the footprint of allocations preferring one heap.
type HeapUsage struct {
	Heap            model.HeapType `json:"heap"`
	AllocationCount int64          `json:"allocation_count"`
	ResourceCount   int64          `json:"resource_count"`
	BoundBytes      int64          `json:"bound_bytes"`
	UnboundBytes    int64          `json:"unbound_bytes"`
}

// HeapDelta measures the allocations of s whose primary heap is heap.
func HeapDelta(s *Snapshot, heap model.HeapType) (HeapUsage, error) {
	if s == nil {
		return HeapUsage{}, fmt.Errorf("%w: nil snapshot", ErrInvalidArgument)
	}
	if !heap.Valid() {
		return HeapUsage{}, fmt.Errorf("%w: heap %s", ErrInvalidArgument, heap)
	}
	u := HeapUsage{Heap: heap}
	for _, alloc := range s.Allocations {
		if alloc.PrimaryHeap() != heap {
			continue
		}
		u.AllocationCount++
		for _, r := range alloc.Resources {
			if r.Type != model.ResourceTypeHeap {
				u.ResourceCount++
			}
		}
		u.BoundBytes += int64(alloc.Size - alloc.UnboundBytes)
		u.UnboundBytes += int64(alloc.UnboundBytes)
	}
	return u, nil
}

// CompareHeap returns diff minus base for heap.
func CompareHeap(base, diff *Snapshot, heap model.HeapType) (HeapUsage, error) {
	b, err := HeapDelta(base, heap)
	if err != nil {
		return HeapUsage{}, fmt.Errorf("base: %w", err)
	}
	d, err := HeapDelta(diff, heap)
	if err != nil {
		return HeapUsage{}, fmt.Errorf("diff: %w", err)
	}
	return HeapUsage{
		Heap:            heap,
		AllocationCount: d.AllocationCount - b.AllocationCount,
		ResourceCount:   d.ResourceCount - b.ResourceCount,
		BoundBytes:      d.BoundBytes - b.BoundBytes,
		UnboundBytes:    d.UnboundBytes - b.UnboundBytes,
	}, nil
}
