// Package snapshot reconstructs GPU memory state from a token trace.
//
// A Snapshot is built by replaying a trace up to a cutoff timestamp. Once
// returned it is never modified, so any number of goroutines may read it and
// many snapshots of the same trace can coexist.
package snapshot

import (
	"sort"

	"github.com/rcliao/memtrace/internal/addr"
	"github.com/rcliao/memtrace/internal/model"
)

// VirtualAllocation is a live virtual address range reserved by the application.
type VirtualAllocation struct {
	ID                  int              `json:"id"`
	BaseAddress         uint64           `json:"address"`
	Size                uint64           `json:"size"`
	CreatedAt           uint64           `json:"created"`
	LastCPUMap          uint64           `json:"last_cpu_map"`
	LastCPUUnmap        uint64           `json:"last_cpu_unmap"`
	LastResidencyUpdate uint64           `json:"last_residency_update"`
	MapCount            int              `json:"map_count"`
	HeapPreferences     []model.HeapType `json:"heap_preferences"`
	UnboundRegionCount  int              `json:"unbound_regions"`
	UnboundBytes        uint64           `json:"unbound_bytes"`

	// Resources bound inside the allocation, in bind order.
	Resources []*Resource `json:"-"`
}

// End returns the exclusive end address.
func (a *VirtualAllocation) End() uint64 {
	return addr.End(a.BaseAddress, a.Size)
}

// PrimaryHeap returns the most preferred heap, or HeapUnknown when none was given.
func (a *VirtualAllocation) PrimaryHeap() model.HeapType {
	if len(a.HeapPreferences) == 0 {
		return model.HeapUnknown
	}
	return a.HeapPreferences[0]
}

// TotalResourceBytes sums the sizes of the non-heap resources bound in the allocation.
func (a *VirtualAllocation) TotalResourceBytes() uint64 {
	var total uint64
	for _, r := range a.Resources {
		if r.Type == model.ResourceTypeHeap {
			continue
		}
		total += r.Size
	}
	return total
}

// Resource is a logical GPU object. Allocation is a lookup-only back-reference;
// it is nil before bind and after the allocation is freed.
type Resource struct {
	ID         model.ResourceIdentifier `json:"id"`
	Type       model.ResourceType       `json:"type"`
	UsageFlags model.UsageFlags         `json:"usage_flags,omitempty"`
	Address    uint64                   `json:"address"`
	Size       uint64                   `json:"size"`
	CreatedAt  uint64                   `json:"created"`
	BoundAt    uint64                   `json:"bound"`

	Allocation *VirtualAllocation `json:"-"`

	seq int
}

// End returns the exclusive end address.
func (r *Resource) End() uint64 {
	return addr.End(r.Address, r.Size)
}

// Usage returns the accounting category of the resource.
func (r *Resource) Usage() model.UsageType {
	return model.UsageFor(r.Type, r.UsageFlags)
}

// IsBound reports whether the resource currently sits inside a live allocation.
func (r *Resource) IsBound() bool {
	return r.Allocation != nil
}

// Snapshot is the reconstructed memory state at one timestamp.
type Snapshot struct {
	Timestamp   uint64
	Allocations []*VirtualAllocation // ordered by base address
	Resources   []*Resource          // ordered by creation
	PageTable   *PageTable

	trace     *model.Trace
	resources map[model.ResourceIdentifier]*Resource
}

// Trace returns the trace the snapshot was built from.
func (s *Snapshot) Trace() *model.Trace {
	return s.trace
}

// Resource looks up a live resource by identifier.
func (s *Snapshot) Resource(id model.ResourceIdentifier) (*Resource, bool) {
	r, ok := s.resources[id]
	return r, ok
}

// AllocationAt returns the live allocation containing address.
func (s *Snapshot) AllocationAt(address uint64) (*VirtualAllocation, bool) {
	i := sort.Search(len(s.Allocations), func(i int) bool {
		return s.Allocations[i].End() > address
	})
	if i < len(s.Allocations) && s.Allocations[i].BaseAddress <= address {
		return s.Allocations[i], true
	}
	return nil, false
}

// LargestResourceSize returns the size of the biggest resource, 0 when there are none.
func (s *Snapshot) LargestResourceSize() uint64 {
	var largest uint64
	for _, r := range s.Resources {
		largest = max(largest, r.Size)
	}
	return largest
}

// SmallestResourceSize returns the size of the smallest resource, 0 when there are none.
func (s *Snapshot) SmallestResourceSize() uint64 {
	if len(s.Resources) == 0 {
		return 0
	}
	smallest := s.Resources[0].Size
	for _, r := range s.Resources[1:] {
		smallest = min(smallest, r.Size)
	}
	return smallest
}

// Summary condenses a snapshot into comparable totals.
type Summary struct {
	Timestamp           uint64                  `json:"timestamp"`
	AllocationCount     int                     `json:"allocation_count"`
	ResourceCount       int                     `json:"resource_count"`
	BoundResourceCount  int                     `json:"bound_resource_count"`
	TotalAllocatedBytes uint64                  `json:"total_allocated_bytes"`
	TotalResourceBytes  uint64                  `json:"total_resource_bytes"`
	TotalUnboundBytes   uint64                  `json:"total_unbound_bytes"`
	MappedPerHeap       [model.HeapCount]uint64 `json:"mapped_per_heap"`
	MappedByOthers      [model.HeapCount]uint64 `json:"mapped_by_others"`
}

// Summary computes aggregate totals.
func (s *Snapshot) Summary() Summary {
	sum := Summary{
		Timestamp:       s.Timestamp,
		AllocationCount: len(s.Allocations),
		ResourceCount:   len(s.Resources),
	}
	for _, a := range s.Allocations {
		sum.TotalAllocatedBytes += a.Size
		sum.TotalUnboundBytes += a.UnboundBytes
	}
	for _, r := range s.Resources {
		sum.TotalResourceBytes += r.Size
		if r.IsBound() {
			sum.BoundResourceCount++
		}
	}
	if s.PageTable != nil {
		sum.MappedPerHeap = s.PageTable.MappedPerHeap()
		sum.MappedByOthers = s.PageTable.MappedByOthers()
	}
	return sum
}
