package stream

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtrace/internal/model"
)

func tokens(thread uint64, timestamps ...uint64) []model.Token {
	out := make([]model.Token, len(timestamps))
	for i, ts := range timestamps {
		out[i] = model.Token{
			Kind:        model.TokenVirtualFree,
			Timestamp:   ts,
			ThreadID:    thread,
			VirtualFree: &model.VirtualFree{Address: uint64(i)},
		}
	}
	return out
}

func drain(t *testing.T, m *Merger) []model.Token {
	t.Helper()
	var out []model.Token
	for !m.IsEmpty() {
		tok, err := m.Advance()
		require.NoError(t, err)
		out = append(out, tok)
	}
	return out
}

func TestMergeOrdersByTimestamp(t *testing.T) {
	m := NewMerger([][]model.Token{
		tokens(0, 1, 4, 9),
		tokens(1, 2, 3, 10),
		tokens(2, 5),
	})

	got := drain(t, m)
	var ts []uint64
	for _, tok := range got {
		ts = append(ts, tok.Timestamp)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 9, 10}, ts)
}

func TestMergeTieBreaksByStreamIndex(t *testing.T) {
	m := NewMerger([][]model.Token{
		tokens(7, 5, 5),
		tokens(3, 5),
		tokens(1, 4, 5),
	})

	got := drain(t, m)
	var threads []uint64
	for _, tok := range got {
		threads = append(threads, tok.ThreadID)
	}
	// 4 from stream 2 first, then every 5 in stream order, stream 0 keeping its own order.
	assert.Equal(t, []uint64{1, 7, 7, 3, 1}, threads)
}

func TestAdvanceWhenEmpty(t *testing.T) {
	m := NewMerger([][]model.Token{nil, {}})
	assert.True(t, m.IsEmpty())

	_, err := m.Advance()
	assert.ErrorIs(t, err, ErrExhausted)

	m = NewMerger(nil)
	_, err = m.Advance()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestResetReplaysIdentically(t *testing.T) {
	m := NewMerger([][]model.Token{tokens(0, 1, 3), tokens(1, 2)})
	first := drain(t, m)

	m.Reset()
	assert.False(t, m.IsEmpty())
	second := drain(t, m)
	assert.Equal(t, first, second)
}

func TestPeek(t *testing.T) {
	m := NewMerger([][]model.Token{tokens(0, 8), tokens(1, 3)})
	ts, ok := m.Peek()
	require.True(t, ok)
	assert.Equal(t, uint64(3), ts)

	drain(t, m)
	_, ok = m.Peek()
	assert.False(t, ok)
}

func TestMergePreservesEveryToken(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(8)
		streams := make([][]model.Token, n)
		total := 0
		for i := range streams {
			count := rng.Intn(40)
			ts := make([]uint64, count)
			for j := range ts {
				ts[j] = uint64(rng.Intn(100))
			}
			sort.Slice(ts, func(a, b int) bool { return ts[a] < ts[b] })
			streams[i] = tokens(uint64(i), ts...)
			total += count
		}

		m := NewMerger(streams)
		assert.Equal(t, total, m.Len())
		got := drain(t, m)
		require.Len(t, got, total)
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, got[i-1].Timestamp, got[i].Timestamp)
		}
	}
}

func TestIndependentCursorsShareStreams(t *testing.T) {
	streams := [][]model.Token{tokens(0, 1, 2, 3), tokens(1, 2, 4)}
	a := NewMerger(streams)
	b := NewMerger(streams)

	_, err := a.Advance()
	require.NoError(t, err)
	_, err = a.Advance()
	require.NoError(t, err)

	assert.Len(t, drain(t, b), 5)
	assert.Len(t, drain(t, a), 3)
}
