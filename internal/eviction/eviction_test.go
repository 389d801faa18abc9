package eviction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stamp struct{ at int64 }

func (s *stamp) Accessed() int64 { return s.at }

func TestLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		limits  Limits
		bytes   int64
		entries int
		want    bool
	}{
		{"unbounded", Limits{}, 1 << 40, 1 << 20, false},
		{"bytes under", Limits{MaxBytes: 100}, 100, 10, false},
		{"bytes over", Limits{MaxBytes: 100}, 101, 1, true},
		{"entries under", Limits{MaxEntries: 2}, 1 << 20, 2, false},
		{"entries over", Limits{MaxEntries: 2}, 1, 3, true},
		{"both, entries over", Limits{MaxBytes: 100, MaxEntries: 1}, 10, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.limits.Exceeded(tt.bytes, tt.entries))
		})
	}

	assert.True(t, Limits{}.Unbounded())
	assert.False(t, Limits{MaxEntries: 1}.Unbounded())
}

func TestQueueOrdersByAccessThenSequence(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Track("a", 1, &stamp{at: 10})
	q.Track("b", 2, &stamp{at: 5})
	q.Track("c", 3, &stamp{at: 5})

	key, ok := q.Victim()
	require.True(t, ok)
	assert.Equal(t, "b", key, "equal stamps: oldest insertion is the victim")

	q.Forget("b")
	key, _ = q.Victim()
	assert.Equal(t, "c", key)

	q.Forget("c")
	key, _ = q.Victim()
	assert.Equal(t, "a", key)

	q.Forget("a")
	_, ok = q.Victim()
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestQueueLazyRefresh(t *testing.T) {
	t.Parallel()

	a := &stamp{at: 1}
	b := &stamp{at: 2}
	q := NewQueue()
	q.Track("a", 1, a)
	q.Track("b", 2, b)

	// a is read after being queued; the queue notices on the next choice.
	a.at = 3

	key, accessed, ok := q.Oldest()
	require.True(t, ok)
	assert.Equal(t, "b", key)
	assert.Equal(t, int64(2), accessed)
}

func TestQueueTrackReplaces(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Track("a", 1, &stamp{at: 1})
	q.Track("b", 2, &stamp{at: 2})
	q.Track("a", 3, &stamp{at: 3})

	assert.Equal(t, 2, q.Len())
	key, _ := q.Victim()
	assert.Equal(t, "b", key)
}

func TestQueueForgetUnknown(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Forget("missing")
	assert.Zero(t, q.Len())
}
