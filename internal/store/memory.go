package store

import (
	"iter"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aweris/crccache/internal/eviction"
)

// Config configures a memory tier.
type Config struct {
	Limits     eviction.Limits
	TimeToIdle time.Duration    // 0 disables idle expiry
	Now        func() time.Time // defaults to time.Now

	// Spill keeps evicted entries claimable through Settle until the caller
	// has moved them to a lower tier.
	Spill bool
}

// Memory is the memory tier: a size-bounded map of entries.
//
// Get and Peek take the shared lock only. Structural changes (insert,
// remove, eviction) take the exclusive lock for the duration of the index
// mutation; victims are returned detached so the caller can spill them
// without holding it.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	transit map[string]*Entry
	queue   *eviction.Queue
	bytes   int64
	seq     uint64

	limits eviction.Limits
	tti    time.Duration
	now    func() time.Time
	spill  bool

	evictions atomic.Uint64
}

// NewMemory creates an empty memory tier.
func NewMemory(cfg Config) *Memory {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: make(map[string]*Entry),
		transit: make(map[string]*Entry),
		queue:   eviction.NewQueue(),
		limits:  cfg.Limits,
		tti:     cfg.TimeToIdle,
		now:     now,
		spill:   cfg.Spill,
	}
}

// Put inserts or overwrites key and returns the entries evicted to make room.
// Idle entries dropped on the way are not returned.
func (m *Memory) Put(key string, v Value) []*Entry {
	e := NewEntry(key, v, m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(e)
	return m.evict(key)
}

// Promote inserts an entry loaded from a lower tier unless key became
// resident meanwhile. It returns the resident entry and any victims.
func (m *Memory) Promote(e *Entry) (*Entry, []*Entry) {
	now := m.now().UnixNano()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[e.Key]; ok {
		cur.touch(now)
		return cur, nil
	}
	promoted := e.relabel(TierMemory, now)
	m.insert(promoted)
	return promoted, m.evict(promoted.Key)
}

func (m *Memory) insert(e *Entry) {
	if old, ok := m.entries[e.Key]; ok {
		m.detach(old)
	}
	delete(m.transit, e.Key)
	m.seq++
	e.Seq = m.seq
	e.Tier = TierMemory
	m.entries[e.Key] = e
	m.bytes += e.Size
	m.queue.Track(e.Key, e.Seq, e)
}

func (m *Memory) detach(e *Entry) {
	delete(m.entries, e.Key)
	m.bytes -= e.Size
	m.queue.Forget(e.Key)
}

// evict drops idle entries, then removes least recently used entries while
// over the limits. The entry under keep is passed over, so a single entry
// larger than the whole capacity stays resident once it is alone.
func (m *Memory) evict(keep string) []*Entry {
	m.sweep()
	var victims []*Entry
	var kept *Entry
	for len(m.entries) > 1 && m.limits.Exceeded(m.bytes, len(m.entries)) {
		key, ok := m.queue.Victim()
		if !ok {
			break
		}
		e := m.entries[key]
		if key == keep {
			// Its stamp may be older than others' when the clock steps back.
			kept = e
			m.queue.Forget(key)
			continue
		}
		m.detach(e)
		m.release(e)
		victims = append(victims, e)
	}
	if kept != nil {
		m.queue.Track(kept.Key, kept.Seq, kept)
	}
	m.evictions.Add(uint64(len(victims)))
	return victims
}

func (m *Memory) release(e *Entry) {
	if m.spill {
		m.transit[e.Key] = e
	}
}

// Settle claims a victim returned by Put, Promote or Drain for spilling. It
// reports false once the key has been written or removed again since the
// eviction, in which case the victim is stale and must be dropped.
func (m *Memory) Settle(e *Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transit[e.Key] != e {
		return false
	}
	delete(m.transit, e.Key)
	return true
}

// Reclaim makes a victim that has not settled yet resident again, so a
// reader racing its spill still finds it. The pending Settle then fails.
// It returns the entry and any entries evicted to make room.
func (m *Memory) Reclaim(key string) (*Entry, []*Entry, bool) {
	now := m.now().UnixNano()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[key]; ok {
		cur.touch(now)
		return cur, nil, true
	}
	e, ok := m.transit[key]
	if !ok {
		return nil, nil, false
	}
	back := e.relabel(TierMemory, now)
	m.insert(back)
	return back, m.evict(key), true
}

func (m *Memory) sweep() {
	if m.tti <= 0 {
		return
	}
	cutoff := m.now().Add(-m.tti).UnixNano()
	for {
		key, accessed, ok := m.queue.Oldest()
		if !ok || accessed >= cutoff {
			return
		}
		m.detach(m.entries[key])
		m.evictions.Add(1)
	}
}

func (m *Memory) idle(e *Entry, now time.Time) bool {
	return m.tti > 0 && e.Accessed() < now.Add(-m.tti).UnixNano()
}

// Get returns the entry for key and refreshes its access time.
func (m *Memory) Get(key string) (*Entry, bool) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || m.idle(e, now) {
		return nil, false
	}
	e.touch(now.UnixNano())
	return e, true
}

// Peek returns the entry for key without refreshing it. Victims still on
// their way to a lower tier are included.
func (m *Memory) Peek(key string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		e, ok = m.transit[key]
	}
	if !ok || m.idle(e, m.now()) {
		return nil, false
	}
	return e, true
}

// Contains reports whether key is resident.
func (m *Memory) Contains(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok
}

// Remove deletes key. Removing an absent key is a no-op.
func (m *Memory) Remove(key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transit, key)
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	m.detach(e)
	return e, true
}

// Keys returns the resident keys and those of unsettled victims as of the
// call, in sorted order. The sequence can be ranged over more than once and
// always yields the same snapshot.
func (m *Memory) Keys() iter.Seq[string] {
	m.mu.RLock()
	keys := slices.Collect(maps.Keys(m.entries))
	keys = slices.AppendSeq(keys, maps.Keys(m.transit))
	m.mu.RUnlock()
	slices.Sort(keys)
	return slices.Values(keys)
}

// Drain removes and returns every entry, least recently used first.
func (m *Memory) Drain() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries))
	for {
		key, ok := m.queue.Victim()
		if !ok {
			break
		}
		e := m.entries[key]
		m.detach(e)
		m.release(e)
		out = append(out, e)
	}
	return out
}

// Len returns the number of resident entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Bytes returns the summed size estimate of resident entries.
func (m *Memory) Bytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

// Evictions returns how many entries left the tier under pressure or by
// idling out.
func (m *Memory) Evictions() uint64 {
	return m.evictions.Load()
}
