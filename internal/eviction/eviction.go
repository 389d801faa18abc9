// Package eviction selects victims for a bounded cache tier.
//
// Victims are chosen least-recently-used first, ordered by the last access
// stamp of each item with ties broken by insertion sequence (oldest
// insertion loses). Given the same limits and the same sequence of
// operations the chosen victims are always the same.
package eviction

import "container/heap"

// Item is anything the queue can order by recency.
type Item interface {
	// Accessed returns the last access time in unix nanoseconds.
	// It must never decrease.
	Accessed() int64
}

// Limits bounds a tier. Zero values mean unbounded.
type Limits struct {
	MaxBytes   int64
	MaxEntries int
}

// Unbounded reports whether no limit is configured.
func (l Limits) Unbounded() bool {
	return l.MaxBytes <= 0 && l.MaxEntries <= 0
}

// Exceeded reports whether a tier holding entries items totalling bytes is
// over any configured limit.
func (l Limits) Exceeded(bytes int64, entries int) bool {
	if l.MaxBytes > 0 && bytes > l.MaxBytes {
		return true
	}
	return l.MaxEntries > 0 && entries > l.MaxEntries
}

// Queue orders tracked items by (access stamp, insertion sequence).
//
// Stamps are read lazily: readers may bump an item's access time without
// touching the queue, and Victim repositions stale items before choosing.
// Queue is not safe for concurrent use; callers hold their tier's
// exclusive lock around every method.
type Queue struct {
	h     slotHeap
	byKey map[string]*slot
}

type slot struct {
	key   string
	item  Item
	stamp int64
	seq   uint64
	index int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{byKey: make(map[string]*slot)}
}

// Track adds key to the queue, replacing any previous item for it.
func (q *Queue) Track(key string, seq uint64, item Item) {
	if s, ok := q.byKey[key]; ok {
		s.item = item
		s.stamp = item.Accessed()
		s.seq = seq
		heap.Fix(&q.h, s.index)
		return
	}
	s := &slot{key: key, item: item, stamp: item.Accessed(), seq: seq}
	q.byKey[key] = s
	heap.Push(&q.h, s)
}

// Forget drops key from the queue. Unknown keys are ignored.
func (q *Queue) Forget(key string) {
	s, ok := q.byKey[key]
	if !ok {
		return
	}
	heap.Remove(&q.h, s.index)
	delete(q.byKey, key)
}

// Victim returns the least recently used key without removing it.
func (q *Queue) Victim() (string, bool) {
	for len(q.h) > 0 {
		top := q.h[0]
		if cur := top.item.Accessed(); cur != top.stamp {
			top.stamp = cur
			heap.Fix(&q.h, 0)
			continue
		}
		return top.key, true
	}
	return "", false
}

// Oldest returns the victim key together with its current access stamp.
func (q *Queue) Oldest() (key string, accessed int64, ok bool) {
	key, ok = q.Victim()
	if !ok {
		return "", 0, false
	}
	return key, q.byKey[key].stamp, true
}

// Len returns the number of tracked keys.
func (q *Queue) Len() int {
	return len(q.h)
}

type slotHeap []*slot

func (h slotHeap) Len() int { return len(h) }

func (h slotHeap) Less(i, j int) bool {
	if h[i].stamp != h[j].stamp {
		return h[i].stamp < h[j].stamp
	}
	return h[i].seq < h[j].seq
}

func (h slotHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *slotHeap) Push(x any) {
	s := x.(*slot)
	s.index = len(*h)
	*h = append(*h, s)
}

func (h *slotHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}
