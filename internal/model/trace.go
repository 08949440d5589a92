package model

import (
	"fmt"
	"time"
)

// Segment describes one physical memory segment reported by the device.
type Segment struct {
	Heap        HeapType `json:"heap"`
	BaseAddress uint64   `json:"base_address"`
	Size        uint64   `json:"size"`
}

// Trace is a decoded capture: per-source token streams plus static device metadata.
// A Trace is read-only once built; any number of replays may share it.
type Trace struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TargetProcessID uint64    `json:"target_pid,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	Segments        []Segment `json:"segments"`
	Streams         [][]Token `json:"-"`
}

// TokenCount returns the total number of tokens over all streams.
func (t *Trace) TokenCount() int {
	n := 0
	for _, s := range t.Streams {
		n += len(s)
	}
	return n
}

// SegmentSize returns the physical size reported for heap, summed over its segments.
func (t *Trace) SegmentSize(heap HeapType) uint64 {
	var size uint64
	for _, seg := range t.Segments {
		if seg.Heap == heap {
			size += seg.Size
		}
	}
	return size
}

// LastTimestamp returns the largest timestamp in the trace.
func (t *Trace) LastTimestamp() uint64 {
	var last uint64
	for _, s := range t.Streams {
		if len(s) > 0 && s[len(s)-1].Timestamp > last {
			last = s[len(s)-1].Timestamp
		}
	}
	return last
}

// Validate checks payloads and per-stream timestamp ordering.
func (t *Trace) Validate() error {
	for i, seg := range t.Segments {
		if !seg.Heap.Valid() {
			return fmt.Errorf("segment %d: invalid heap %s", i, seg.Heap)
		}
	}
	for si, s := range t.Streams {
		var prev uint64
		for ti, tok := range s {
			if err := tok.Validate(); err != nil {
				return fmt.Errorf("stream %d token %d: %w", si, ti, err)
			}
			if tok.Timestamp < prev {
				return fmt.Errorf("stream %d token %d: timestamp %d before %d", si, ti, tok.Timestamp, prev)
			}
			prev = tok.Timestamp
		}
	}
	return nil
}
