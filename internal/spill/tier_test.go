package spill

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/go-git/go-billy/v5/memfs"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/crccache/internal/codec"
	"github.com/aweris/crccache/internal/compression"
	"github.com/aweris/crccache/internal/eviction"
	"github.com/aweris/crccache/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingBackend rejects writes for keys in fail.
type failingBackend struct {
	Backend
	fail map[string]bool
}

func (b *failingBackend) Write(key string, data []byte) error {
	if b.fail[key] {
		return errors.New("no space left on device")
	}
	return b.Backend.Write(key, data)
}

func quietLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	comp, err := compression.NewCompressor(1, true)
	require.NoError(t, err)
	t.Cleanup(func() { comp.Close() })
	return codec.New(comp, nil)
}

func newTestTier(t *testing.T, b Backend, cfg Config) (*Tier, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	if cfg.Concurrency == 0 {
		// memfs is not safe for concurrent writers.
		cfg.Concurrency = 1
	}
	cfg.Logger = quietLogger()
	tier, err := Open(b, newTestCodec(t), cfg)
	require.NoError(t, err)
	return tier, clock
}

func entry(clock *fakeClock, key string, crc uint32) *store.Entry {
	return store.NewEntry(key, store.ChecksumValue(store.Checksum(crc)), clock.Now())
}

func backendKeys(t *testing.T, b Backend) []string {
	t.Helper()
	var keys []string
	require.NoError(t, b.Scan(func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}))
	slices.Sort(keys)
	return keys
}

func TestTierStoreLoadTake(t *testing.T) {
	t.Parallel()

	b := NewFS(memfs.New())
	tier, clock := newTestTier(t, b, Config{WriteBuffer: 8})

	tier.Store(entry(clock, "file:/a", 0xaa))
	assert.Empty(t, backendKeys(t, b), "write is still buffered")

	e, err := tier.Load("file:/a")
	require.NoError(t, err)
	assert.Equal(t, store.TierDisk, e.Tier)
	crc, _ := e.Value.Checksum()
	assert.Equal(t, store.Checksum(0xaa), crc)

	require.NoError(t, tier.Flush())
	assert.Equal(t, []string{"file:/a"}, backendKeys(t, b))
	assert.Positive(t, tier.SizeOnDisk())

	e, err = tier.Take("file:/a")
	require.NoError(t, err)
	assert.Equal(t, "file:/a", e.Key)
	assert.False(t, tier.Contains("file:/a"))
	_, err = tier.Load("file:/a")
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, tier.Flush())
	assert.Empty(t, backendKeys(t, b))
	assert.Zero(t, tier.SizeOnDisk())
}

func TestTierOverwriteAndDelete(t *testing.T) {
	t.Parallel()

	b := NewFS(memfs.New())
	tier, clock := newTestTier(t, b, Config{})

	tier.Store(entry(clock, "file:/a", 1))
	tier.Store(entry(clock, "file:/a", 2))
	assert.Equal(t, 1, tier.Len())

	e, err := tier.Load("file:/a")
	require.NoError(t, err)
	crc, _ := e.Value.Checksum()
	assert.Equal(t, store.Checksum(2), crc)

	tier.Delete("file:/a")
	tier.Delete("file:/never")
	assert.Zero(t, tier.Len())
	require.NoError(t, tier.Flush())
	assert.Empty(t, backendKeys(t, b))
}

func TestTierEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	tier, clock := newTestTier(t, NewFS(memfs.New()), Config{Limits: eviction.Limits{MaxEntries: 2}})

	tier.Store(entry(clock, "file:/a", 1))
	tier.Store(entry(clock, "file:/b", 2))
	tier.Store(entry(clock, "file:/c", 3))

	assert.Equal(t, []string{"file:/b", "file:/c"}, slices.Collect(tier.Keys()))
	assert.Equal(t, uint64(1), tier.Evictions())
}

func TestTierByteLimit(t *testing.T) {
	t.Parallel()

	tier, clock := newTestTier(t, NewFS(memfs.New()), Config{})
	tier.Store(entry(clock, "file:/probe", 1))
	one := tier.SizeOnDisk()
	tier.Delete("file:/probe")

	limited, clock := newTestTier(t, NewFS(memfs.New()), Config{Limits: eviction.Limits{MaxBytes: 3 * one}})
	for i := range 10 {
		limited.Store(entry(clock, fmt.Sprintf("file:/f%d", i), uint32(i)))
	}
	assert.LessOrEqual(t, limited.SizeOnDisk(), 3*one+one/2)
	assert.True(t, limited.Contains("file:/f9"))
	assert.False(t, limited.Contains("file:/f0"))
}

func TestTierStoreIfAndInsert(t *testing.T) {
	t.Parallel()

	tier, clock := newTestTier(t, NewFS(memfs.New()), Config{})
	deny := func(*store.Entry) bool { return false }
	allow := func(*store.Entry) bool { return true }

	assert.False(t, tier.StoreIf(entry(clock, "file:/hot", 1), deny))
	assert.False(t, tier.Contains("file:/hot"))
	assert.True(t, tier.StoreIf(entry(clock, "file:/cold", 2), allow))

	assert.False(t, tier.Insert(entry(clock, "file:/cold", 3), nil), "existing record wins")
	assert.True(t, tier.Insert(entry(clock, "file:/new", 4), nil))

	e, err := tier.Load("file:/cold")
	require.NoError(t, err)
	crc, _ := e.Value.Checksum()
	assert.Equal(t, store.Checksum(2), crc)
}

func TestTierReopenRestoresIndex(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	tier, clock := newTestTier(t, NewFS(fs), Config{WriteBuffer: 16})
	tier.Store(entry(clock, "file:/old", 1))
	tier.Store(entry(clock, "file:/mid", 2))
	tier.Store(entry(clock, "file:/new", 3))
	require.NoError(t, tier.Close())

	// Close stops further writes.
	tier.Store(entry(clock, "file:/late", 4))

	reopened, _ := newTestTier(t, NewFS(fs), Config{
		Limits: eviction.Limits{MaxEntries: 2},
		Now:    clock.Now,
	})
	assert.Equal(t, []string{"file:/mid", "file:/new"}, slices.Collect(reopened.Keys()))

	e, err := reopened.Load("file:/new")
	require.NoError(t, err)
	crc, _ := e.Value.Checksum()
	assert.Equal(t, store.Checksum(3), crc)
}

func TestTierDropsCorruptRecords(t *testing.T) {
	t.Parallel()

	b := NewFS(memfs.New())
	require.NoError(t, b.Write("file:/garbage", []byte{0x01, 0x02, 0x03}))

	tier, clock := newTestTier(t, b, Config{})
	assert.False(t, tier.Contains("file:/garbage"))
	assert.Empty(t, backendKeys(t, b))

	tier.Store(entry(clock, "file:/a", 1))
	require.NoError(t, b.Write("file:/a", []byte{0x00, 0xc1}))

	_, err := tier.Load("file:/a")
	assert.ErrorIs(t, err, ErrCorruptEntry)
	assert.False(t, tier.Contains("file:/a"))
}

func TestTierWriteFailureDropsEntry(t *testing.T) {
	t.Parallel()

	b := &failingBackend{Backend: NewFS(memfs.New()), fail: map[string]bool{"file:/bad": true}}
	tier, clock := newTestTier(t, b, Config{WriteBuffer: 4})

	tier.Store(entry(clock, "file:/bad", 1))
	tier.Store(entry(clock, "file:/good", 2))
	require.NoError(t, tier.Flush())

	assert.Equal(t, []string{"file:/good"}, slices.Collect(tier.Keys()))
	assert.Equal(t, uint64(1), tier.Failures())
	_, err := tier.Load("file:/bad")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestTierWriteFailureDiscardsOlderRecord(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	b := &failingBackend{Backend: NewFS(fs), fail: map[string]bool{}}
	tier, clock := newTestTier(t, b, Config{})

	tier.Store(entry(clock, "file:/a", 1))
	require.NoError(t, tier.Flush())
	require.Equal(t, []string{"file:/a"}, backendKeys(t, b))

	b.fail["file:/a"] = true
	tier.Store(entry(clock, "file:/a", 2))
	require.NoError(t, tier.Flush())

	_, err := tier.Load("file:/a")
	assert.ErrorIs(t, err, ErrNotExist)
	assert.Empty(t, backendKeys(t, b), "the replaced record must not survive")
	require.NoError(t, tier.Close())

	reopened, _ := newTestTier(t, NewFS(fs), Config{Now: clock.Now})
	assert.False(t, reopened.Contains("file:/a"))
}

func TestTierTimeToIdle(t *testing.T) {
	t.Parallel()

	tier, clock := newTestTier(t, NewFS(memfs.New()), Config{TimeToIdle: time.Minute})
	tier.Store(entry(clock, "file:/a", 1))

	_, err := tier.Load("file:/a")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = tier.Load("file:/a")
	assert.ErrorIs(t, err, ErrNotExist)
	assert.Zero(t, tier.Len())
}

func TestTierConcurrentAccess(t *testing.T) {
	t.Parallel()

	p := openMemPebble(t, vfs.NewMem())
	tier, clock := newTestTier(t, p, Config{
		Limits:      eviction.Limits{MaxEntries: 64},
		WriteBuffer: 8,
		Concurrency: 4,
	})
	defer tier.Close()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				key := fmt.Sprintf("file:/w%d/%d", w, i%16)
				tier.Store(entry(clock, key, uint32(i)))
				if i%3 == 0 {
					_, _ = tier.Take(key)
				}
				_, _ = tier.Load(key)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, tier.Flush())
	assert.LessOrEqual(t, tier.Len(), 64)
	for key := range tier.Keys() {
		_, err := tier.Load(key)
		assert.NoError(t, err, key)
	}
}
