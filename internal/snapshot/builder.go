package snapshot

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rcliao/memtrace/internal/addr"
	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/stream"
)

type options struct {
	log *zap.Logger
}

// Option configures a replay.
type Option func(*options)

// WithLogger routes replay diagnostics to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// builder accumulates state while tokens are replayed. It is discarded on error
// so a failed build never leaks a partial snapshot.
type builder struct {
	trace *model.Trace
	log   *zap.Logger

	allocs      []*VirtualAllocation // sorted by base address, non-overlapping
	resources   map[model.ResourceIdentifier]*Resource
	pageTable   *PageTable
	nextAllocID int
	nextSeq     int
}

// Build replays trace up to and including cutoff and returns the resulting snapshot.
func Build(trace *model.Trace, cutoff uint64, opts ...Option) (*Snapshot, error) {
	if trace == nil {
		return nil, fmt.Errorf("%w: nil trace", ErrInvalidArgument)
	}
	if err := trace.Validate(); err != nil {
		if errors.Is(err, model.ErrInvalidToken) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTrace, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	o := buildOptions(opts)

	b := &builder{
		trace:     trace,
		log:       o.log,
		resources: make(map[model.ResourceIdentifier]*Resource),
		pageTable: newPageTable(),
	}

	m := stream.NewMerger(trace.Streams)
	m.Reset()
	applied := 0
	for {
		ts, ok := m.Peek()
		if !ok || ts > cutoff {
			break
		}
		tok, err := m.Advance()
		if err != nil {
			return nil, err
		}
		if err := b.apply(tok); err != nil {
			return nil, fmt.Errorf("%s token at %d: %w", tok.Kind, tok.Timestamp, err)
		}
		applied++
	}

	snap := b.finish(cutoff)
	o.log.Debug("snapshot built",
		zap.Uint64("cutoff", cutoff),
		zap.Int("tokens", applied),
		zap.Int("allocations", len(snap.Allocations)),
		zap.Int("resources", len(snap.Resources)))
	return snap, nil
}

func (b *builder) apply(tok model.Token) error {
	if err := tok.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTrace, err)
	}
	switch tok.Kind {
	case model.TokenVirtualAllocate:
		return b.virtualAllocate(tok)
	case model.TokenVirtualFree:
		return b.virtualFree(tok)
	case model.TokenResourceCreate:
		return b.resourceCreate(tok)
	case model.TokenResourceBind:
		return b.resourceBind(tok)
	case model.TokenResourceDestroy:
		return b.resourceDestroy(tok)
	case model.TokenCPUMap:
		b.cpuMap(tok)
	case model.TokenResidencyUpdate:
		b.residencyUpdate(tok)
	case model.TokenPageTableUpdate:
		b.pageTableUpdate(tok)
	}
	return nil
}

// allocationIndex returns the index of the first allocation ending after address.
func (b *builder) allocationIndex(address uint64) int {
	return sort.Search(len(b.allocs), func(i int) bool {
		return b.allocs[i].End() > address
	})
}

// allocationByBase returns the index of the allocation based exactly at address, or -1.
func (b *builder) allocationByBase(address uint64) int {
	i := sort.Search(len(b.allocs), func(i int) bool {
		return b.allocs[i].BaseAddress >= address
	})
	if i < len(b.allocs) && b.allocs[i].BaseAddress == address {
		return i
	}
	return -1
}

func (b *builder) virtualAllocate(tok model.Token) error {
	p := tok.VirtualAllocate
	if p.Size == 0 {
		b.log.Debug("ignoring zero-size allocation", zap.Uint64("address", p.Address))
		return nil
	}
	start, end := p.Address, addr.End(p.Address, p.Size)
	if i := b.allocationIndex(start); i < len(b.allocs) && addr.Overlaps(start, end, b.allocs[i].BaseAddress, b.allocs[i].End()) {
		return fmt.Errorf("%w: [%#x, %#x) overlaps allocation %d at %#x",
			ErrDuplicateAllocation, start, end, b.allocs[i].ID, b.allocs[i].BaseAddress)
	}

	b.nextAllocID++
	alloc := &VirtualAllocation{
		ID:              b.nextAllocID,
		BaseAddress:     p.Address,
		Size:            p.Size,
		CreatedAt:       tok.Timestamp,
		HeapPreferences: append([]model.HeapType(nil), p.Preferences...),
	}
	i := sort.Search(len(b.allocs), func(i int) bool { return b.allocs[i].BaseAddress >= start })
	b.allocs = append(b.allocs, nil)
	copy(b.allocs[i+1:], b.allocs[i:])
	b.allocs[i] = alloc
	return nil
}

func (b *builder) virtualFree(tok model.Token) error {
	address := tok.VirtualFree.Address
	i := b.allocationByBase(address)
	if i < 0 {
		return fmt.Errorf("%w: free of unknown allocation %#x", ErrMalformedTrace, address)
	}
	alloc := b.allocs[i]
	for _, r := range alloc.Resources {
		r.Allocation = nil
	}
	alloc.Resources = nil
	b.allocs = append(b.allocs[:i], b.allocs[i+1:]...)
	return nil
}

func (b *builder) resourceCreate(tok model.Token) error {
	p := tok.ResourceCreate
	if p.ResourceID == 0 {
		return fmt.Errorf("%w: resource created without identifier", ErrMalformedTrace)
	}
	if prev, ok := b.resources[p.ResourceID]; ok {
		b.log.Debug("resource identifier reused without destroy", zap.Uint64("resource", uint64(p.ResourceID)))
		detach(prev)
	}
	b.nextSeq++
	b.resources[p.ResourceID] = &Resource{
		ID:         p.ResourceID,
		Type:       p.Type,
		UsageFlags: p.Usage,
		Size:       p.Size,
		CreatedAt:  tok.Timestamp,
		seq:        b.nextSeq,
	}
	return nil
}

func (b *builder) resourceBind(tok model.Token) error {
	p := tok.ResourceBind
	r, ok := b.resources[p.ResourceID]
	if !ok {
		return fmt.Errorf("%w: bind of unknown resource %d", ErrMalformedTrace, p.ResourceID)
	}
	detach(r)
	r.Address = p.Address
	r.Size = p.Size
	r.BoundAt = tok.Timestamp

	// Binds carry only an address, so the owning allocation is found by containment.
	i := b.allocationIndex(r.Address)
	if i < len(b.allocs) && addr.Contains(b.allocs[i].BaseAddress, b.allocs[i].End(), r.Address, r.End()) {
		alloc := b.allocs[i]
		r.Allocation = alloc
		alloc.Resources = append(alloc.Resources, r)
		return nil
	}
	b.log.Debug("bind outside any live allocation",
		zap.Uint64("resource", uint64(r.ID)),
		zap.Uint64("address", r.Address),
		zap.Uint64("size", r.Size))
	return nil
}

func (b *builder) resourceDestroy(tok model.Token) error {
	id := tok.ResourceDestroy.ResourceID
	r, ok := b.resources[id]
	if !ok {
		return fmt.Errorf("%w: destroy of unknown resource %d", ErrMalformedTrace, id)
	}
	detach(r)
	delete(b.resources, id)
	return nil
}

func (b *builder) cpuMap(tok model.Token) {
	p := tok.CPUMap
	i := b.allocationByBase(p.Address)
	if i < 0 {
		b.log.Debug("cpu map of unknown allocation", zap.Uint64("address", p.Address))
		return
	}
	alloc := b.allocs[i]
	if p.Unmap {
		alloc.LastCPUUnmap = tok.Timestamp
		if alloc.MapCount > 0 {
			alloc.MapCount--
		}
		return
	}
	alloc.LastCPUMap = tok.Timestamp
	alloc.MapCount++
}

func (b *builder) residencyUpdate(tok model.Token) {
	p := tok.ResidencyUpdate
	i := b.allocationByBase(p.Address)
	if i < 0 {
		b.log.Debug("residency update of unknown allocation", zap.Uint64("address", p.Address))
		return
	}
	b.allocs[i].LastResidencyUpdate = tok.Timestamp
}

func (b *builder) pageTableUpdate(tok model.Token) {
	p := tok.PageTableUpdate
	size, _ := p.SizeInBytes()
	if size == 0 {
		return
	}
	start, end := p.VirtualAddress, addr.End(p.VirtualAddress, size)
	own := b.trace.TargetProcessID == 0 || p.ProcessID == 0 || p.ProcessID == b.trace.TargetProcessID

	if p.Unmap {
		if n := b.pageTable.unmap(own, p.ProcessID, start, end); n == 0 {
			b.log.Debug("unmap of unmapped span", zap.Uint64("address", start), zap.Uint64("size", size))
		}
		return
	}
	b.pageTable.mapRange(own, p.ProcessID, start, end, physicalHeap(b.trace.Segments, p.PhysicalAddress))
}

// physicalHeap classifies a page-table target: physical address 0 maps to
// host memory, anything else to the local segment containing it.
func physicalHeap(segments []model.Segment, physical uint64) model.HeapType {
	heap := addr.HeapForAddress(segments, physical)
	if heap == model.HeapUnknown {
		return model.HeapLocal
	}
	return heap
}

// detach removes r from its allocation's resource list.
func detach(r *Resource) {
	alloc := r.Allocation
	if alloc == nil {
		return
	}
	for i, bound := range alloc.Resources {
		if bound == r {
			alloc.Resources = append(alloc.Resources[:i], alloc.Resources[i+1:]...)
			break
		}
	}
	r.Allocation = nil
}

func (b *builder) finish(cutoff uint64) *Snapshot {
	for _, alloc := range b.allocs {
		alloc.UnboundRegionCount, alloc.UnboundBytes = unboundRegions(alloc)
	}

	resources := make([]*Resource, 0, len(b.resources))
	for _, r := range b.resources {
		resources = append(resources, r)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].seq < resources[j].seq })

	return &Snapshot{
		Timestamp:   cutoff,
		Allocations: b.allocs,
		Resources:   resources,
		PageTable:   b.pageTable,
		trace:       b.trace,
		resources:   b.resources,
	}
}

// unboundRegions counts the gaps in alloc not covered by any non-heap resource.
func unboundRegions(alloc *VirtualAllocation) (int, uint64) {
	bound := make([]*Resource, 0, len(alloc.Resources))
	for _, r := range alloc.Resources {
		if r.Type != model.ResourceTypeHeap && r.Size > 0 {
			bound = append(bound, r)
		}
	}
	sort.Slice(bound, func(i, j int) bool { return bound[i].Address < bound[j].Address })

	var (
		regions int
		bytes   uint64
	)
	cursor := alloc.BaseAddress
	for _, r := range bound {
		if r.Address > cursor {
			regions++
			bytes += r.Address - cursor
		}
		cursor = max(cursor, r.End())
	}
	if end := alloc.End(); cursor < end {
		regions++
		bytes += end - cursor
	}
	return regions, bytes
}
