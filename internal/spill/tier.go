package spill

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/crccache/internal/codec"
	"github.com/aweris/crccache/internal/eviction"
	"github.com/aweris/crccache/internal/store"
)

const DefaultConcurrency = 4

// Config configures a disk tier.
type Config struct {
	Limits      eviction.Limits
	TimeToIdle  time.Duration
	WriteBuffer int // buffered writes before an inline drain; <= 1 writes through
	Concurrency int // parallel backend operations per drain
	Now         func() time.Time
	Logger      log.FieldLogger
}

type record struct {
	key      string
	size     int64
	seq      uint64
	accessed int64
}

func (r *record) Accessed() int64 { return r.accessed }

// op is a buffered backend operation; rec is nil for deletes.
type op struct {
	rec  *record
	data []byte
}

// Tier is the disk tier. The index of persisted keys lives in memory and is
// authoritative: a key absent from the index is absent from the tier, even
// if its deletion has not reached the backend yet.
type Tier struct {
	backend Backend
	codec   *codec.Codec
	cfg     Config
	log     log.FieldLogger

	mu       sync.Mutex
	index    map[string]*record
	queue    *eviction.Queue
	bytes    int64
	seq      uint64
	pending  map[string]op
	inflight map[string]op
	closed   bool

	drainMu   sync.Mutex
	evictions atomic.Uint64
	failures  atomic.Uint64
}

// Open indexes the records already held by backend. Records that fail to
// decode are deleted; the remaining ones are trimmed to the limits.
func Open(backend Backend, c *codec.Codec, cfg Config) (*Tier, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.WriteBuffer < 1 {
		cfg.WriteBuffer = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	t := &Tier{
		backend: backend,
		codec:   c,
		cfg:     cfg,
		log:     cfg.Logger,
		index:   make(map[string]*record),
		queue:   eviction.NewQueue(),
		pending: make(map[string]op),
	}

	var loaded []*record
	var corrupt []string
	err := backend.Scan(func(key string, data []byte) error {
		e, err := c.Decode(key, data)
		if err != nil {
			t.log.WithError(err).WithField("key", key).Warn("dropping corrupt disk entry")
			corrupt = append(corrupt, key)
			return nil
		}
		loaded = append(loaded, &record{key: key, size: int64(len(data)), accessed: e.Accessed()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan disk tier: %w", err)
	}
	for _, key := range corrupt {
		t.pending[key] = op{}
	}

	slices.SortFunc(loaded, func(a, b *record) int {
		if a.accessed != b.accessed {
			if a.accessed < b.accessed {
				return -1
			}
			return 1
		}
		if a.key < b.key {
			return -1
		}
		if a.key > b.key {
			return 1
		}
		return 0
	})

	t.mu.Lock()
	for _, r := range loaded {
		t.trackLocked(r)
	}
	t.evictLocked()
	t.mu.Unlock()

	t.drain()
	return t, nil
}

func (t *Tier) trackLocked(r *record) {
	t.seq++
	r.seq = t.seq
	t.index[r.key] = r
	t.bytes += r.size
	t.queue.Track(r.key, r.seq, r)
}

func (t *Tier) forgetLocked(key string) bool {
	r, ok := t.index[key]
	if !ok {
		return false
	}
	delete(t.index, key)
	t.bytes -= r.size
	t.queue.Forget(key)
	return true
}

// dropLocked removes key from the index and queues its deletion.
func (t *Tier) dropLocked(key string) {
	if t.forgetLocked(key) {
		t.pending[key] = op{}
	}
}

func (t *Tier) idle(r *record) bool {
	return t.cfg.TimeToIdle > 0 && r.accessed < t.cfg.Now().Add(-t.cfg.TimeToIdle).UnixNano()
}

// evictLocked discards idle records, then the least recently used ones
// while over the limits. A lone record larger than the limit is kept.
func (t *Tier) evictLocked() {
	if t.cfg.TimeToIdle > 0 {
		cutoff := t.cfg.Now().Add(-t.cfg.TimeToIdle).UnixNano()
		for {
			key, accessed, ok := t.queue.Oldest()
			if !ok || accessed >= cutoff {
				break
			}
			t.dropLocked(key)
			t.evictions.Add(1)
		}
	}
	for t.cfg.Limits.Exceeded(t.bytes, len(t.index)) && t.queue.Len() > 1 {
		key, _ := t.queue.Victim()
		t.dropLocked(key)
		t.evictions.Add(1)
	}
}

// Store buffers e for writing, replacing any record already held for its
// key.
func (t *Tier) Store(e *store.Entry) {
	t.store(e, nil, true)
}

// StoreIf is Store gated by admit, which runs under the tier lock. A key
// moving down from memory is admitted only while no newer write or removal
// has superseded it.
func (t *Tier) StoreIf(e *store.Entry, admit func(*store.Entry) bool) bool {
	return t.store(e, admit, true)
}

// Insert stores e only when the tier holds no record for its key yet.
func (t *Tier) Insert(e *store.Entry, admit func(*store.Entry) bool) bool {
	return t.store(e, admit, false)
}

// store encodes e before the tier lock is taken.
func (t *Tier) store(e *store.Entry, admit func(*store.Entry) bool, replace bool) bool {
	data, err := t.codec.Encode(e)
	if err != nil {
		t.log.WithError(err).WithField("key", e.Key).Warn("dropping unencodable entry")
		return false
	}

	t.mu.Lock()
	_, exists := t.index[e.Key]
	if t.closed || (exists && !replace) || (admit != nil && !admit(e)) {
		t.mu.Unlock()
		return false
	}
	t.forgetLocked(e.Key)
	r := &record{key: e.Key, size: int64(len(data)), accessed: e.Accessed()}
	t.trackLocked(r)
	t.pending[e.Key] = op{rec: r, data: data}
	t.evictLocked()
	full := len(t.pending) >= t.cfg.WriteBuffer
	t.mu.Unlock()

	if full {
		t.drain()
	}
	return true
}

// bufferedLocked returns the not yet drained bytes of r, if any.
func (t *Tier) bufferedLocked(r *record) ([]byte, bool) {
	if o, ok := t.pending[r.key]; ok && o.rec == r {
		return o.data, true
	}
	if o, ok := t.inflight[r.key]; ok && o.rec == r {
		return o.data, true
	}
	return nil, false
}

// fetch reads and decodes the current record for key. Records that are
// missing from the backend or fail to decode are dropped from the tier.
func (t *Tier) fetch(key string) (*record, *store.Entry, error) {
	t.mu.Lock()
	r, ok := t.index[key]
	if !ok {
		t.mu.Unlock()
		return nil, nil, ErrNotExist
	}
	if t.idle(r) {
		t.dropLocked(key)
		t.evictions.Add(1)
		t.mu.Unlock()
		return nil, nil, ErrNotExist
	}
	data, buffered := t.bufferedLocked(r)
	t.mu.Unlock()

	var err error
	if !buffered {
		data, err = t.backend.Read(key)
	}
	var e *store.Entry
	if err == nil {
		e, err = t.codec.Decode(key, data)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
	}
	if err != nil {
		t.mu.Lock()
		if t.index[key] == r {
			t.dropLocked(key)
		}
		t.mu.Unlock()
		return r, nil, err
	}
	e.Tier = store.TierDisk
	return r, e, nil
}

// Load returns the entry for key without removing it.
func (t *Tier) Load(key string) (*store.Entry, error) {
	_, e, err := t.fetch(key)
	return e, err
}

// Take returns the entry for key and removes it from the tier, for
// promotion into memory.
func (t *Tier) Take(key string) (*store.Entry, error) {
	for range 3 {
		r, e, err := t.fetch(key)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		if t.index[key] == r {
			t.dropLocked(key)
			t.mu.Unlock()
			return e, nil
		}
		// Replaced while reading; try the newer record.
		t.mu.Unlock()
	}
	return nil, ErrNotExist
}

// Delete removes key. Deleting a missing key is a no-op.
func (t *Tier) Delete(key string) {
	t.mu.Lock()
	t.dropLocked(key)
	full := len(t.pending) >= t.cfg.WriteBuffer
	t.mu.Unlock()

	if full {
		t.drain()
	}
}

// drain writes the buffered operations to the backend. Failed writes are
// logged and their entries dropped; nothing is retried.
func (t *Tier) drain() {
	t.drainMu.Lock()
	defer t.drainMu.Unlock()

	for t.drainOnce() {
	}
}

// drainOnce runs one batch. It reports whether failed writes queued deletes
// that still need a batch of their own.
func (t *Tier) drainOnce() bool {
	t.mu.Lock()
	batch := t.pending
	if len(batch) == 0 {
		t.mu.Unlock()
		return false
	}
	t.pending = make(map[string]op)
	t.inflight = batch
	t.mu.Unlock()

	var mu sync.Mutex
	var failed []*record
	p := pool.New().WithMaxGoroutines(t.cfg.Concurrency)
	for key, o := range batch {
		p.Go(func() {
			var err error
			if o.rec == nil {
				err = t.backend.Delete(key)
			} else {
				err = t.backend.Write(key, o.data)
			}
			if err == nil {
				return
			}
			t.log.WithError(fmt.Errorf("%w: %v", ErrDiskWrite, err)).WithField("key", key).Warn("dropping disk entry")
			if o.rec != nil {
				mu.Lock()
				failed = append(failed, o.rec)
				mu.Unlock()
			}
		})
	}
	p.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = nil
	cleanup := false
	for _, r := range failed {
		t.failures.Add(1)
		if cur, ok := t.index[r.key]; ok && cur != r {
			// Superseded by a newer write, still pending.
			continue
		}
		t.forgetLocked(r.key)
		// The backend may still hold an older record for the key.
		if _, queued := t.pending[r.key]; !queued {
			t.pending[r.key] = op{}
			cleanup = true
		}
	}
	return cleanup
}

// Flush drains buffered writes and syncs the backend.
func (t *Tier) Flush() error {
	t.drain()
	if err := t.backend.Sync(); err != nil {
		return fmt.Errorf("sync disk tier: %w", err)
	}
	return nil
}

// Close flushes and closes the backend. Later Stores are ignored.
func (t *Tier) Close() error {
	t.drain()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return errors.Join(t.Flush(), t.backend.Close())
}

// Keys returns the keys held by the tier as of the call, sorted.
func (t *Tier) Keys() iter.Seq[string] {
	t.mu.Lock()
	keys := slices.Sorted(maps.Keys(t.index))
	t.mu.Unlock()
	return slices.Values(keys)
}

// Contains reports whether key is held by the tier.
func (t *Tier) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[key]
	return ok
}

// Len returns the number of records.
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.index)
}

// SizeOnDisk returns the encoded size of all records, buffered ones included.
func (t *Tier) SizeOnDisk() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// Evictions counts records discarded for capacity or idleness.
func (t *Tier) Evictions() uint64 { return t.evictions.Load() }

// Failures counts records lost to backend write errors.
func (t *Tier) Failures() uint64 { return t.failures.Load() }
