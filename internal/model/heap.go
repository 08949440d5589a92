// Package model defines the core trace and memory data types.
package model

import "fmt"

// HeapType classifies a physical memory pool.
type HeapType int

const (
	HeapLocal     HeapType = iota // video memory, CPU mappable
	HeapInvisible                 // video memory, not CPU mappable
	HeapSystem                    // host memory

	// HeapCount is the number of real heap types.
	HeapCount = 3

	// HeapUnknown marks an address outside every known segment.
	HeapUnknown HeapType = -1
)

var heapNames = map[HeapType]string{
	HeapLocal:     "local",
	HeapInvisible: "invisible",
	HeapSystem:    "system",
	HeapUnknown:   "unknown",
}

func (h HeapType) String() string {
	if name, ok := heapNames[h]; ok {
		return name
	}
	return fmt.Sprintf("heap(%d)", int(h))
}

// Valid reports whether h names one of the real heaps.
func (h HeapType) Valid() bool {
	return h >= HeapLocal && h < HeapCount
}

// ParseHeapType maps a heap name back to its type.
func ParseHeapType(s string) (HeapType, error) {
	for h, name := range heapNames {
		if name == s && h.Valid() {
			return h, nil
		}
	}
	return HeapUnknown, fmt.Errorf("unknown heap type %q (valid: local, invisible, system)", s)
}

func (h HeapType) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *HeapType) UnmarshalText(b []byte) error {
	v, err := ParseHeapType(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Backing storage buckets: one per heap plus unmapped.
const (
	BackingUnmapped = HeapCount
	BackingCount    = HeapCount + 1
)

// BackingName names a backing storage bucket.
func BackingName(i int) string {
	if i == BackingUnmapped {
		return "unmapped"
	}
	return HeapType(i).String()
}
