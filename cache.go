package crccache

import (
	"errors"
	"fmt"
	"hash/maphash"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/aweris/crccache/internal/codec"
	"github.com/aweris/crccache/internal/compression"
	"github.com/aweris/crccache/internal/eviction"
	"github.com/aweris/crccache/internal/spill"
	"github.com/aweris/crccache/internal/store"
)

const (
	lockFile         = "crccache.lock"
	recordsDir       = "records"
	pebbleDir        = "pebble"
	compressionLevel = 1
	keyStripes       = 64
)

type state int

const (
	stateUninitialized state = iota
	stateInitialized
	stateShutDown
)

// Cache is the checksum cache. It is safe for concurrent use.
type Cache struct {
	opts Options
	log  log.FieldLogger

	// life is held shared by every operation and exclusively by Init and
	// Shutdown, so Shutdown waits for in-flight calls.
	life  sync.RWMutex
	state state

	memory *store.Memory
	disk   *spill.Tier
	comp   *compression.Compressor
	codec  *codec.Codec
	lock   *flock.Flock

	// stripes serialize writers and promotions of the same key.
	stripes [keyStripes]sync.Mutex
	seed    maphash.Seed

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns an uninitialized cache; call Init before use.
func New(opts ...Option) *Cache {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Cache{
		opts: *options,
		log:  options.Logger.WithField("cache", options.Name),
		seed: maphash.MakeSeed(),
	}
}

// Open creates and initializes a cache.
func Open(opts ...Option) (*Cache, error) {
	c := New(opts...)
	if err := c.Init(); err != nil {
		return nil, err
	}
	return c, nil
}

// Init allocates the tiers. It fails with ErrAlreadyInitialized when called
// twice and with ErrClosed after Shutdown.
func (c *Cache) Init() error {
	c.life.Lock()
	defer c.life.Unlock()

	switch c.state {
	case stateInitialized:
		return ErrAlreadyInitialized
	case stateShutDown:
		return ErrClosed
	}

	comp, err := compression.NewCompressor(compressionLevel, c.opts.Compression)
	if err != nil {
		return fmt.Errorf("create compressor: %w", err)
	}
	c.comp = comp
	c.codec = codec.New(comp, kindOfKey)
	c.memory = store.NewMemory(store.Config{
		Limits:     eviction.Limits{MaxBytes: c.opts.MemoryCapacity, MaxEntries: c.opts.MaxEntries},
		TimeToIdle: c.opts.TimeToIdle,
		Now:        c.opts.Clock,
		Spill:      c.opts.DiskEnabled,
	})

	if c.opts.DiskEnabled {
		if err := c.openDisk(); err != nil {
			comp.Close()
			return err
		}
	}

	c.state = stateInitialized
	c.log.WithFields(log.Fields{
		"memory_capacity": c.opts.MemoryCapacity,
		"max_entries":     c.opts.MaxEntries,
		"disk":            c.opts.DiskEnabled,
	}).Debug("cache initialized")
	return nil
}

func (c *Cache) openDisk() error {
	backend, err := c.openBackend()
	if err != nil {
		c.unlock()
		return err
	}
	tier, err := spill.Open(backend, c.codec, spill.Config{
		Limits:      eviction.Limits{MaxBytes: c.opts.DiskCapacity},
		TimeToIdle:  c.opts.TimeToIdle,
		WriteBuffer: c.opts.WriteBuffer,
		Concurrency: c.opts.Concurrency,
		Now:         c.opts.Clock,
		Logger:      c.log.WithField("tier", "disk"),
	})
	if err != nil {
		backend.Close()
		c.unlock()
		return err
	}
	if !c.opts.Persistent {
		c.purge(tier)
	} else if n := tier.Len(); n > 0 {
		c.log.WithField("entries", n).Info("restored disk tier")
	}
	c.disk = tier
	return nil
}

func (c *Cache) openBackend() (spill.Backend, error) {
	if c.opts.DiskFS != nil {
		return spill.NewFS(c.opts.DiskFS), nil
	}

	dir := c.opts.DiskDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create disk dir: %w", err)
	}
	c.lock = flock.New(filepath.Join(dir, lockFile))
	locked, err := c.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	switch c.opts.DiskBackend {
	case BackendFS, "":
		return spill.OpenFS(filepath.Join(dir, recordsDir))
	case BackendPebble:
		return spill.OpenPebble(filepath.Join(dir, pebbleDir), c.opts.PebbleOptions)
	default:
		return nil, fmt.Errorf("crccache: unknown disk backend %q", c.opts.DiskBackend)
	}
}

func (c *Cache) unlock() {
	if c.lock == nil {
		return
	}
	if err := c.lock.Unlock(); err != nil {
		c.log.WithError(err).Warn("release disk lock")
	}
	c.lock = nil
}

// purge empties a non-persistent disk tier.
func (c *Cache) purge(tier *spill.Tier) {
	for key := range tier.Keys() {
		tier.Delete(key)
	}
	if err := tier.Flush(); err != nil {
		c.log.WithError(err).Warn("purge disk tier")
	}
}

// enter admits an operation; leave must follow when it returns nil.
func (c *Cache) enter() error {
	c.life.RLock()
	if c.state != stateInitialized {
		c.life.RUnlock()
		return ErrClosed
	}
	return nil
}

func (c *Cache) leave() { c.life.RUnlock() }

func (c *Cache) stripe(key string) *sync.Mutex {
	return &c.stripes[maphash.String(c.seed, key)%keyStripes]
}

// Put stores v under key, replacing any previous value in either tier.
func (c *Cache) Put(key Key, v Value) error {
	if err := key.check(v); err != nil {
		return err
	}
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	k := key.String()
	mu := c.stripe(k)
	mu.Lock()
	victims := c.memory.Put(k, v)
	if c.disk != nil {
		c.disk.Delete(k)
	}
	mu.Unlock()

	c.log.WithField("key", k).Debug("put")
	c.spill(victims)
	return nil
}

// spill moves memory victims to the disk tier. Victims superseded since
// their eviction are dropped.
func (c *Cache) spill(victims []*store.Entry) {
	if c.disk == nil {
		return
	}
	for _, e := range victims {
		if c.disk.StoreIf(e, c.memory.Settle) {
			c.log.WithField("key", e.Key).Trace("spilled to disk")
			continue
		}
		// Not stored: release the victim if it is still unclaimed.
		c.memory.Settle(e)
	}
}

// Get returns the value under key. A disk hit is promoted into memory.
func (c *Cache) Get(key Key) (Value, bool, error) {
	if err := c.enter(); err != nil {
		return Value{}, false, err
	}
	defer c.leave()

	e, ok := c.lookup(key.String())
	if !ok {
		return Value{}, false, nil
	}
	if want := key.Namespace.Kind(); e.Value.Kind() != want {
		return Value{}, false, fmt.Errorf("%w: %s holds %s, want %s", ErrTypeMismatch, key, e.Value.Kind(), want)
	}
	return e.Value, true, nil
}

func (c *Cache) lookup(k string) (*store.Entry, bool) {
	if e, ok := c.memory.Get(k); ok {
		c.hits.Add(1)
		c.log.WithField("key", k).Trace("memory hit")
		return e, true
	}
	if c.disk != nil {
		if e, ok := c.promote(k); ok {
			c.hits.Add(1)
			return e, true
		}
	}
	c.misses.Add(1)
	c.log.WithField("key", k).Trace("miss")
	return nil, false
}

func (c *Cache) promote(k string) (*store.Entry, bool) {
	mu := c.stripe(k)
	mu.Lock()
	// A victim of a concurrent Put may not have reached the disk yet.
	if e, victims, ok := c.memory.Reclaim(k); ok {
		mu.Unlock()
		c.spill(victims)
		return e, true
	}
	d, err := c.disk.Take(k)
	if err != nil {
		mu.Unlock()
		switch {
		case errors.Is(err, spill.ErrCorruptEntry):
			c.log.WithError(err).WithField("key", k).Warn("corrupt disk entry, treating as miss")
		case !errors.Is(err, spill.ErrNotExist):
			c.log.WithError(err).WithField("key", k).Warn("disk read failed, treating as miss")
		}
		// A concurrent promotion may have won the race for the disk copy.
		return c.memory.Get(k)
	}
	resident, victims := c.memory.Promote(d)
	mu.Unlock()

	c.log.WithField("key", k).Debug("promoted from disk")
	c.spill(victims)
	return resident, true
}

// Peek returns the entry under key from whichever tier holds it, without
// refreshing or promoting it.
func (c *Cache) Peek(key Key) (*Entry, bool, error) {
	if err := c.enter(); err != nil {
		return nil, false, err
	}
	defer c.leave()
	e, ok := c.peek(key.String())
	return e, ok, nil
}

func (c *Cache) peek(k string) (*store.Entry, bool) {
	if e, ok := c.memory.Peek(k); ok {
		return e, true
	}
	if c.disk == nil {
		return nil, false
	}
	e, err := c.disk.Load(k)
	if err != nil {
		if !errors.Is(err, spill.ErrNotExist) {
			c.log.WithError(err).WithField("key", k).Warn("disk read failed")
		}
		return nil, false
	}
	return e, true
}

// Remove deletes key from both tiers. Removing an absent key is not an error.
func (c *Cache) Remove(key Key) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	k := key.String()
	mu := c.stripe(k)
	mu.Lock()
	c.memory.Remove(k)
	if c.disk != nil {
		c.disk.Delete(k)
	}
	mu.Unlock()

	c.log.WithField("key", k).Debug("remove")
	return nil
}

// Keys returns the keys of both tiers as of the call, sorted.
func (c *Cache) Keys() (iter.Seq[Key], error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	keys := c.rawKeys()
	return func(yield func(Key) bool) {
		for _, k := range keys {
			key, err := ParseKey(k)
			if err != nil {
				continue
			}
			if !yield(key) {
				return
			}
		}
	}, nil
}

func (c *Cache) rawKeys() []string {
	keys := slices.Collect(c.memory.Keys())
	if c.disk != nil {
		keys = append(keys, slices.Collect(c.disk.Keys())...)
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// Stats returns one Stats per logical cache; this cache is a single one
// serving both namespaces.
func (c *Cache) Stats() ([]Stats, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return []Stats{c.stats()}, nil
}

func (c *Cache) stats() Stats {
	s := Stats{
		Name:          c.opts.Name,
		MemoryEntries: c.memory.Len(),
		MemoryBytes:   c.memory.Bytes(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.memory.Evictions(),
	}
	if c.disk != nil {
		s.DiskEntries = c.disk.Len()
		s.DiskBytes = c.disk.SizeOnDisk()
		s.DiskEvictions = c.disk.Evictions()
		s.DiskWriteFails = c.disk.Failures()
	}
	s.Entries = len(c.rawKeys())
	return s
}

// Flush writes buffered spills to disk before returning.
func (c *Cache) Flush() error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	if c.disk == nil {
		return nil
	}
	return c.disk.Flush()
}

// Shutdown waits for in-flight operations, demotes memory to disk when the
// disk tier is persistent, flushes and releases every resource. Later calls
// other than Shutdown fail with ErrClosed.
func (c *Cache) Shutdown() error {
	c.life.Lock()
	defer c.life.Unlock()

	prev := c.state
	c.state = stateShutDown
	if prev != stateInitialized {
		return nil
	}

	var errs []error
	if c.disk != nil {
		if c.opts.Persistent {
			demoted := 0
			for _, e := range c.memory.Drain() {
				if c.disk.StoreIf(e, c.memory.Settle) {
					demoted++
				}
			}
			c.log.WithField("entries", demoted).Debug("demoted memory tier")
		} else {
			c.purge(c.disk)
		}
		errs = append(errs, c.disk.Close())
	}
	c.unlock()
	errs = append(errs, c.comp.Close())

	c.log.Debug("cache shut down")
	return errors.Join(errs...)
}

// PutChecksum caches the checksum of the file at path.
func (c *Cache) PutChecksum(path string, crc Checksum) error {
	return c.Put(FileKey(path), ChecksumValue(crc))
}

// GetChecksum returns the cached checksum of the file at path.
func (c *Cache) GetChecksum(path string) (Checksum, bool, error) {
	v, ok, err := c.Get(FileKey(path))
	if !ok || err != nil {
		return 0, false, err
	}
	crc, _ := v.Checksum()
	return crc, true, nil
}

// RemoveChecksum forgets the checksum of the file at path.
func (c *Cache) RemoveChecksum(path string) error {
	return c.Remove(FileKey(path))
}

// PutChecksumMap caches the SFV listing of dir.
func (c *Cache) PutChecksumMap(dir string, m ChecksumMap) error {
	return c.Put(SFVKey(dir), ChecksumMapValue(m))
}

// GetChecksumMap returns a copy of the cached SFV listing of dir.
func (c *Cache) GetChecksumMap(dir string) (ChecksumMap, bool, error) {
	v, ok, err := c.Get(SFVKey(dir))
	if !ok || err != nil {
		return nil, false, err
	}
	m, _ := v.ChecksumMap()
	return m, true, nil
}

// RemoveChecksumMap forgets the SFV listing of dir.
func (c *Cache) RemoveChecksumMap(dir string) error {
	return c.Remove(SFVKey(dir))
}

// Names used by the file server's session layer.

// PutFileCrc is PutChecksum.
func (c *Cache) PutFileCrc(path string, crc Checksum) error { return c.PutChecksum(path, crc) }

// GetFileCrc is GetChecksum.
func (c *Cache) GetFileCrc(path string) (Checksum, bool, error) { return c.GetChecksum(path) }

// RemoveFileCrc is RemoveChecksum.
func (c *Cache) RemoveFileCrc(path string) error { return c.RemoveChecksum(path) }

// PutCrcInfo is PutChecksumMap.
func (c *Cache) PutCrcInfo(dir string, m ChecksumMap) error { return c.PutChecksumMap(dir, m) }

// GetCrcInfo is GetChecksumMap.
func (c *Cache) GetCrcInfo(dir string) (ChecksumMap, bool, error) { return c.GetChecksumMap(dir) }

// RemoveCrcInfo is RemoveChecksumMap.
func (c *Cache) RemoveCrcInfo(dir string) error { return c.RemoveChecksumMap(dir) }
