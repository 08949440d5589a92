package snapshot

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memtrace/internal/addr"
	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/stream"
)

// HistoryEventKind is one step in a resource's life.
type HistoryEventKind int

const (
	EventResourceCreated HistoryEventKind = iota
	EventResourceBound
	EventResourceDestroyed
	EventVirtualMemoryAllocated
	EventVirtualMemoryFree
	EventVirtualMemoryMapped
	EventVirtualMemoryUnmapped
	EventVirtualMemoryMakeResident
	EventVirtualMemoryEvict
	EventPhysicalMapToLocal
	EventPhysicalMapToHost
	EventPhysicalUnmap
)

var historyEventNames = map[HistoryEventKind]string{
	EventResourceCreated:           "resource_created",
	EventResourceBound:             "resource_bound",
	EventResourceDestroyed:         "resource_destroyed",
	EventVirtualMemoryAllocated:    "virtual_memory_allocated",
	EventVirtualMemoryFree:         "virtual_memory_free",
	EventVirtualMemoryMapped:       "cpu_mapped",
	EventVirtualMemoryUnmapped:     "cpu_unmapped",
	EventVirtualMemoryMakeResident: "make_resident",
	EventVirtualMemoryEvict:        "evict",
	EventPhysicalMapToLocal:        "physical_map_to_local",
	EventPhysicalMapToHost:         "physical_map_to_host",
	EventPhysicalUnmap:             "physical_unmap",
}

func (k HistoryEventKind) String() string {
	if name, ok := historyEventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

func (k HistoryEventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// HistoryEvent is a single entry of a ResourceHistory.
type HistoryEvent struct {
	Kind      HistoryEventKind `json:"kind"`
	ThreadID  uint64           `json:"thread_id"`
	Timestamp uint64           `json:"timestamp"`
	Physical  bool             `json:"physical"`
}

// ResourceHistory is the chronological life of one resource. It belongs to the
// caller and is independent of the snapshot it was generated from.
type ResourceHistory struct {
	Resource   *Resource          `json:"resource"`
	Allocation *VirtualAllocation `json:"allocation,omitempty"`
	Events     []HistoryEvent     `json:"events"`
}

func (h *ResourceHistory) add(kind HistoryEventKind, tok model.Token, physical bool) {
	h.Events = append(h.Events, HistoryEvent{
		Kind:      kind,
		ThreadID:  tok.ThreadID,
		Timestamp: tok.Timestamp,
		Physical:  physical,
	})
}

// GenerateResourceHistory replays the whole trace behind s and collects every
// event touching resource or the allocation it is bound to.
func GenerateResourceHistory(s *Snapshot, resource *Resource, opts ...Option) (*ResourceHistory, error) {
	if s == nil || s.trace == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidArgument)
	}
	if resource == nil {
		return nil, fmt.Errorf("%w: nil resource", ErrInvalidArgument)
	}
	if resource.ID == 0 {
		return nil, fmt.Errorf("%w: resource has no identifier", ErrResourceNotResolvable)
	}
	o := buildOptions(opts)

	h := &ResourceHistory{
		Resource:   resource,
		Allocation: resource.Allocation,
	}

	m := stream.NewMerger(s.trace.Streams)
	m.Reset()
	for !m.IsEmpty() {
		tok, err := m.Advance()
		if err != nil {
			return nil, err
		}
		h.consider(tok)
	}

	o.log.Debug("resource history generated",
		zap.Uint64("resource", uint64(resource.ID)),
		zap.Int("events", len(h.Events)))
	return h, nil
}

func (h *ResourceHistory) consider(tok model.Token) {
	r := h.Resource
	alloc := h.Allocation

	switch tok.Kind {
	case model.TokenResourceCreate:
		if tok.ResourceCreate != nil && tok.ResourceCreate.ResourceID == r.ID {
			h.add(EventResourceCreated, tok, false)
		}
	case model.TokenResourceBind:
		if tok.ResourceBind != nil && tok.ResourceBind.ResourceID == r.ID {
			h.add(EventResourceBound, tok, false)
		}
	case model.TokenResourceDestroy:
		if tok.ResourceDestroy != nil && tok.ResourceDestroy.ResourceID == r.ID {
			h.add(EventResourceDestroyed, tok, false)
		}
	}

	// Everything below is scoped to the allocation; without one it cannot be evaluated.
	if alloc == nil {
		return
	}

	switch tok.Kind {
	case model.TokenVirtualAllocate:
		p := tok.VirtualAllocate
		if p != nil && addr.OverlapsSized(p.Address, p.Size, r.Address, r.Size) {
			h.add(EventVirtualMemoryAllocated, tok, false)
		}
	case model.TokenVirtualFree:
		p := tok.VirtualFree
		if p != nil && (p.Address == alloc.BaseAddress || addr.Overlaps(p.Address, p.Address+1, r.Address, r.End())) {
			h.add(EventVirtualMemoryFree, tok, false)
		}
	case model.TokenCPUMap:
		// The driver maps whole allocations, never single resources.
		p := tok.CPUMap
		if p == nil || p.Address != alloc.BaseAddress {
			return
		}
		if p.Unmap {
			h.add(EventVirtualMemoryUnmapped, tok, false)
		} else {
			h.add(EventVirtualMemoryMapped, tok, false)
		}
	case model.TokenResidencyUpdate:
		p := tok.ResidencyUpdate
		if p == nil || p.Address != alloc.BaseAddress {
			return
		}
		if p.Evict {
			h.add(EventVirtualMemoryEvict, tok, false)
		} else {
			h.add(EventVirtualMemoryMakeResident, tok, false)
		}
	case model.TokenPageTableUpdate:
		p := tok.PageTableUpdate
		if p == nil {
			return
		}
		size, ok := p.SizeInBytes()
		if !ok || !addr.OverlapsSized(p.VirtualAddress, size, r.Address, r.Size) {
			return
		}
		switch {
		case p.Unmap:
			h.add(EventPhysicalUnmap, tok, true)
		case p.PhysicalAddress == 0:
			h.add(EventPhysicalMapToHost, tok, true)
		default:
			h.add(EventPhysicalMapToLocal, tok, true)
		}
	}
}
