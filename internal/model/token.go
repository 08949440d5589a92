package model

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrInvalidToken marks a token whose payload is missing or inconsistent.
var ErrInvalidToken = errors.New("invalid token")

// TokenKind says which payload of a Token is populated.
type TokenKind int

const (
	TokenInvalid TokenKind = iota
	TokenResourceCreate
	TokenResourceDestroy
	TokenResourceBind
	TokenVirtualAllocate
	TokenVirtualFree
	TokenCPUMap
	TokenResidencyUpdate
	TokenPageTableUpdate
)

var tokenKindNames = map[TokenKind]string{
	TokenInvalid:         "invalid",
	TokenResourceCreate:  "resource_create",
	TokenResourceDestroy: "resource_destroy",
	TokenResourceBind:    "resource_bind",
	TokenVirtualAllocate: "virtual_allocate",
	TokenVirtualFree:     "virtual_free",
	TokenCPUMap:          "cpu_map",
	TokenResidencyUpdate: "residency_update",
	TokenPageTableUpdate: "page_table_update",
}

func (k TokenKind) String() string {
	if name, ok := tokenKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// ParseTokenKind maps a kind name back to its TokenKind.
func ParseTokenKind(s string) (TokenKind, error) {
	for k, name := range tokenKindNames {
		if name == s && k != TokenInvalid {
			return k, nil
		}
	}
	return TokenInvalid, fmt.Errorf("unknown token kind %q", s)
}

func (k TokenKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TokenKind) UnmarshalText(b []byte) error {
	v, err := ParseTokenKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ResourceCreate announces a new resource.
type ResourceCreate struct {
	ResourceID ResourceIdentifier `json:"resource_id"`
	Type       ResourceType       `json:"type"`
	Usage      UsageFlags         `json:"usage,omitempty"`
	Size       uint64             `json:"size,omitempty"`
}

// ResourceDestroy retires a resource.
type ResourceDestroy struct {
	ResourceID ResourceIdentifier `json:"resource_id"`
}

// ResourceBind places a resource at a virtual address.
type ResourceBind struct {
	ResourceID ResourceIdentifier `json:"resource_id"`
	Address    uint64             `json:"address"`
	Size       uint64             `json:"size"`
}

// VirtualAllocate reserves a virtual address range.
type VirtualAllocate struct {
	Address     uint64     `json:"address"`
	Size        uint64     `json:"size"`
	Preferences []HeapType `json:"preferences,omitempty"`
}

// VirtualFree releases the allocation based at Address.
type VirtualFree struct {
	Address uint64 `json:"address"`
}

// CPUMap maps or unmaps a whole allocation for CPU access.
type CPUMap struct {
	Address uint64 `json:"address"`
	Unmap   bool   `json:"unmap,omitempty"`
}

// ResidencyUpdate makes an allocation resident or evicts it.
type ResidencyUpdate struct {
	Address uint64 `json:"address"`
	Evict   bool   `json:"evict,omitempty"`
}

// PageTableUpdate changes the physical backing of a virtual span.
type PageTableUpdate struct {
	VirtualAddress  uint64 `json:"virtual_address"`
	PhysicalAddress uint64 `json:"physical_address"`
	SizeInPages     uint64 `json:"size_in_pages"`
	PageSize        uint64 `json:"page_size"`
	Unmap           bool   `json:"unmap,omitempty"`
	ProcessID       uint64 `json:"process_id,omitempty"`
}

// SizeInBytes is the span covered by the update. ok is false when the span
// does not fit in 64 bits.
func (p PageTableUpdate) SizeInBytes() (size uint64, ok bool) {
	hi, lo := bits.Mul64(p.SizeInPages, p.PageSize)
	return lo, hi == 0
}

// Token is one decoded trace event. Exactly one payload matching Kind is set.
// Tokens are shared between replays and must not be modified.
type Token struct {
	Kind      TokenKind `json:"kind"`
	Timestamp uint64    `json:"timestamp"`
	ThreadID  uint64    `json:"thread_id"`

	ResourceCreate  *ResourceCreate  `json:"resource_create,omitempty"`
	ResourceDestroy *ResourceDestroy `json:"resource_destroy,omitempty"`
	ResourceBind    *ResourceBind    `json:"resource_bind,omitempty"`
	VirtualAllocate *VirtualAllocate `json:"virtual_allocate,omitempty"`
	VirtualFree     *VirtualFree     `json:"virtual_free,omitempty"`
	CPUMap          *CPUMap          `json:"cpu_map,omitempty"`
	ResidencyUpdate *ResidencyUpdate `json:"residency_update,omitempty"`
	PageTableUpdate *PageTableUpdate `json:"page_table_update,omitempty"`
}

// Validate checks that the payload matching Kind is present.
func (t Token) Validate() error {
	var ok bool
	switch t.Kind {
	case TokenResourceCreate:
		ok = t.ResourceCreate != nil
	case TokenResourceDestroy:
		ok = t.ResourceDestroy != nil
	case TokenResourceBind:
		ok = t.ResourceBind != nil
	case TokenVirtualAllocate:
		ok = t.VirtualAllocate != nil
	case TokenVirtualFree:
		ok = t.VirtualFree != nil
	case TokenCPUMap:
		ok = t.CPUMap != nil
	case TokenResidencyUpdate:
		ok = t.ResidencyUpdate != nil
	case TokenPageTableUpdate:
		ok = t.PageTableUpdate != nil
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidToken, int(t.Kind))
	}
	if !ok {
		return fmt.Errorf("%w: %s token at %d has no payload", ErrInvalidToken, t.Kind, t.Timestamp)
	}
	if p := t.PageTableUpdate; p != nil {
		if _, fits := p.SizeInBytes(); !fits {
			return fmt.Errorf("%w: page table update at %d spans %d pages of %d bytes",
				ErrInvalidToken, t.Timestamp, p.SizeInPages, p.PageSize)
		}
	}
	return nil
}
