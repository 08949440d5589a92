package snapshot

import (
	"fmt"
	"strings"

	"github.com/rcliao/memtrace/internal/model"
)

// SegmentFlags describe the capabilities of a heap.
type SegmentFlags uint32

const (
	FlagVRAM SegmentFlags = 1 << iota
	FlagHost
	FlagCPUVisible
	FlagCPUCached
	FlagGPUVisible
	FlagGPUCached
)

var segmentFlags = map[model.HeapType]SegmentFlags{
	model.HeapLocal:     FlagVRAM | FlagGPUVisible | FlagGPUCached | FlagCPUVisible,
	model.HeapInvisible: FlagVRAM | FlagGPUVisible | FlagGPUCached,
	model.HeapSystem:    FlagHost | FlagGPUVisible | FlagGPUCached | FlagCPUVisible | FlagCPUCached,
}

var segmentFlagNames = []struct {
	flag SegmentFlags
	name string
}{
	{FlagVRAM, "vram"},
	{FlagHost, "host"},
	{FlagCPUVisible, "cpu_visible"},
	{FlagCPUCached, "cpu_cached"},
	{FlagGPUVisible, "gpu_visible"},
	{FlagGPUCached, "gpu_cached"},
}

func (f SegmentFlags) String() string {
	var names []string
	for _, n := range segmentFlagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

func (f SegmentFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Has reports whether every bit of f2 is set.
func (f SegmentFlags) Has(f2 SegmentFlags) bool {
	return f&f2 == f2
}

// SubscriptionStatus classifies requested memory against physical capacity.
type SubscriptionStatus int

const (
	UnderLimit SubscriptionStatus = iota
	CloseToLimit
	OverLimit
)

func (s SubscriptionStatus) String() string {
	switch s {
	case UnderLimit:
		return "under_limit"
	case CloseToLimit:
		return "close_to_limit"
	case OverLimit:
		return "over_limit"
	default:
		return fmt.Sprintf("subscription(%d)", int(s))
	}
}

func (s SubscriptionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// closeToLimitRatio is the fraction of physical memory above which a heap is
// considered close to oversubscription.
const closeToLimitRatio = 0.8

// ClassifySubscription compares requested bytes with physical bytes.
func ClassifySubscription(requested, physical uint64) SubscriptionStatus {
	closeLimit := uint64(float64(physical) * closeToLimitRatio)
	if requested > physical {
		return OverLimit
	}
	if requested > closeLimit {
		return CloseToLimit
	}
	return UnderLimit
}

// SegmentStatus aggregates the occupancy of one heap.
type SegmentStatus struct {
	Heap                                model.HeapType `json:"heap"`
	Flags                               SegmentFlags   `json:"flags"`
	TotalPhysicalSize                   uint64         `json:"total_physical_size"`
	TotalVirtualMemoryRequested         uint64         `json:"total_virtual_memory_requested"`
	TotalBoundVirtualMemory             uint64         `json:"total_bound_virtual_memory"`
	TotalPhysicalMappedByProcess        uint64         `json:"total_physical_mapped_by_process"`
	TotalPhysicalMappedByOtherProcesses uint64         `json:"total_physical_mapped_by_other_processes"`
	AllocationCount                     uint64         `json:"allocation_count"`
	MinAllocationSize                   uint64         `json:"min_allocation_size"`
	MaxAllocationSize                   uint64         `json:"max_allocation_size"`
	MeanAllocationSize                  uint64         `json:"mean_allocation_size"`

	// PhysicalBytesPerUsage holds the bytes of this heap backing each usage category.
	PhysicalBytesPerUsage [model.UsageCount]uint64 `json:"-"`
}

// Subscription classifies the heap's requested memory against its capacity.
func (s SegmentStatus) Subscription() SubscriptionStatus {
	return ClassifySubscription(s.TotalVirtualMemoryRequested, s.TotalPhysicalSize)
}

// GetSegmentStatus aggregates the state of heap in s.
func GetSegmentStatus(s *Snapshot, heap model.HeapType) (*SegmentStatus, error) {
	if s == nil || s.trace == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidArgument)
	}
	if !heap.Valid() {
		return nil, fmt.Errorf("%w: heap %s", ErrInvalidArgument, heap)
	}

	status := &SegmentStatus{
		Heap:              heap,
		Flags:             segmentFlags[heap],
		TotalPhysicalSize: s.trace.SegmentSize(heap),
	}
	if s.PageTable != nil {
		status.TotalPhysicalMappedByProcess = s.PageTable.MappedPerHeap()[heap]
		status.TotalPhysicalMappedByOtherProcesses = s.PageTable.MappedByOthers()[heap]
	}

	var (
		minSize uint64
		maxSize uint64
	)
	for _, alloc := range s.Allocations {
		preferred := alloc.PrimaryHeap() == heap
		if preferred {
			if status.AllocationCount == 0 {
				minSize = alloc.Size
			}
			status.TotalVirtualMemoryRequested += alloc.Size
			maxSize = max(maxSize, alloc.Size)
			minSize = min(minSize, alloc.Size)
			status.AllocationCount++
		}

		// Resources may be partially backed by several heaps, so every allocation
		// contributes whatever part of it lives in this heap.
		for _, r := range alloc.Resources {
			if r.Type == model.ResourceTypeHeap {
				continue
			}
			if preferred {
				status.TotalBoundVirtualMemory += r.Size
			}
			histogram := ResourceBackingHistogram(s, r)
			status.PhysicalBytesPerUsage[r.Usage()] += histogram[heap]
		}
	}

	status.MinAllocationSize = minSize
	status.MaxAllocationSize = maxSize
	if status.AllocationCount > 0 {
		status.MeanAllocationSize = status.TotalVirtualMemoryRequested / status.AllocationCount
	}
	return status, nil
}

// ResourceBackingHistogram splits a resource's bytes by backing storage. A
// resource without a live allocation is entirely unmapped.
func ResourceBackingHistogram(s *Snapshot, r *Resource) [model.BackingCount]uint64 {
	var out [model.BackingCount]uint64
	if r == nil || r.Size == 0 {
		return out
	}
	if r.Allocation == nil || s == nil || s.PageTable == nil {
		out[model.BackingUnmapped] = r.Size
		return out
	}
	return s.PageTable.Backing(r.Address, r.End())
}
