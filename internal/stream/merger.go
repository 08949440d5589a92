// Package stream merges per-source token streams into one time-ordered sequence.
package stream

import (
	"container/heap"
	"errors"

	"github.com/rcliao/memtrace/internal/model"
)

// ErrExhausted is returned by Advance when every stream has been consumed.
var ErrExhausted = errors.New("stream merger exhausted")

// candidate is the head token of one stream waiting in the frontier.
type candidate struct {
	timestamp uint64
	stream    int
}

// frontier is a min-heap of stream heads ordered by (timestamp, stream index).
type frontier []candidate

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].timestamp != f[j].timestamp {
		return f[i].timestamp < f[j].timestamp
	}
	return f[i].stream < f[j].stream
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(candidate)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	c := old[n-1]
	*f = old[:n-1]
	return c
}

// Merger is a cursor performing a k-way merge over read-only token streams.
// The streams may be shared; a Merger must not be shared between goroutines.
type Merger struct {
	streams  [][]model.Token
	pos      []int
	frontier frontier
}

// NewMerger returns a merger positioned at the start of every stream.
func NewMerger(streams [][]model.Token) *Merger {
	m := &Merger{
		streams:  streams,
		pos:      make([]int, len(streams)),
		frontier: make(frontier, 0, len(streams)),
	}
	m.Reset()
	return m
}

// Reset rewinds every stream to its first token.
func (m *Merger) Reset() {
	m.frontier = m.frontier[:0]
	for i := range m.streams {
		m.pos[i] = 0
		if len(m.streams[i]) > 0 {
			m.frontier = append(m.frontier, candidate{timestamp: m.streams[i][0].Timestamp, stream: i})
		}
	}
	heap.Init(&m.frontier)
}

// IsEmpty reports whether every stream is exhausted.
func (m *Merger) IsEmpty() bool {
	return len(m.frontier) == 0
}

// Peek returns the timestamp of the next token without consuming it.
func (m *Merger) Peek() (uint64, bool) {
	if m.IsEmpty() {
		return 0, false
	}
	return m.frontier[0].timestamp, true
}

// Advance returns the globally next token and consumes it from its stream.
func (m *Merger) Advance() (model.Token, error) {
	if m.IsEmpty() {
		return model.Token{}, ErrExhausted
	}
	head := m.frontier[0]
	s := head.stream
	tok := m.streams[s][m.pos[s]]
	m.pos[s]++

	if m.pos[s] < len(m.streams[s]) {
		m.frontier[0].timestamp = m.streams[s][m.pos[s]].Timestamp
		heap.Fix(&m.frontier, 0)
	} else {
		heap.Pop(&m.frontier)
	}
	return tok, nil
}

// Len returns the total number of tokens across all streams.
func (m *Merger) Len() int {
	n := 0
	for _, s := range m.streams {
		n += len(s)
	}
	return n
}
