package crccache

import (
	"context"
	"fmt"

	"github.com/aweris/crccache/internal/codec"
	"github.com/aweris/crccache/internal/remote"
	"github.com/aweris/crccache/internal/store"
)

// Export returns a record per live entry of both tiers, sorted by key.
// Nothing is promoted.
func (c *Cache) Export() ([]Record, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()

	keys := c.rawKeys()
	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.peek(k); ok {
			records = append(records, codec.FromEntry(e))
		}
	}
	return records, nil
}

// Import merges records into the cache and returns how many were added.
// Keys already cached locally keep their value. With disk spillover the
// records land in the disk tier, leaving the memory working set alone.
func (c *Cache) Import(records []Record) (int, error) {
	if err := c.enter(); err != nil {
		return 0, err
	}
	defer c.leave()

	notResident := func(e *store.Entry) bool { return !c.memory.Contains(e.Key) }
	added := 0
	for _, r := range records {
		if _, err := ParseKey(r.Key); err != nil {
			c.log.WithError(err).Warn("skipping imported record")
			continue
		}
		if err := c.codec.Check(r); err != nil {
			c.log.WithError(err).Warn("skipping imported record")
			continue
		}
		e, err := r.Entry()
		if err != nil {
			c.log.WithError(err).Warn("skipping imported record")
			continue
		}

		if c.disk != nil {
			if c.disk.Insert(e, notResident) {
				added++
			}
			continue
		}

		mu := c.stripe(e.Key)
		mu.Lock()
		if c.memory.Contains(e.Key) {
			mu.Unlock()
			continue
		}
		_, victims := c.memory.Promote(e)
		mu.Unlock()
		c.spill(victims)
		added++
	}
	c.log.WithField("added", added).Debug("imported records")
	return added, nil
}

func (c *Cache) openRemote(ref string) (*remote.OCIRemote, error) {
	return remote.NewOCIRemote(ref, remote.Options{
		Auth:        c.opts.Auth,
		Concurrency: c.opts.Concurrency,
		Insecure:    c.opts.Insecure,
		Logger:      c.log,
	})
}

// Push uploads a snapshot of the cache to ref and returns its id.
func (c *Cache) Push(ctx context.Context, ref string) (string, error) {
	records, err := c.Export()
	if err != nil {
		return "", err
	}
	r, err := c.openRemote(ref)
	if err != nil {
		return "", err
	}
	id, err := r.Push(ctx, records)
	if err != nil {
		return "", fmt.Errorf("push to %s: %w", ref, err)
	}
	return id, nil
}

// Pull imports the snapshot at ref and returns how many entries were added.
// A cache that is not initialized fails fast with ErrClosed before any
// registry traffic; the transfer itself runs unlocked, so a Shutdown during
// it surfaces as ErrClosed from the final import.
func (c *Cache) Pull(ctx context.Context, ref string) (int, error) {
	if err := c.enter(); err != nil {
		return 0, err
	}
	c.leave()

	r, err := c.openRemote(ref)
	if err != nil {
		return 0, err
	}
	snap, err := r.Pull(ctx)
	if err != nil {
		return 0, fmt.Errorf("pull from %s: %w", ref, err)
	}
	return c.Import(snap.Records)
}
