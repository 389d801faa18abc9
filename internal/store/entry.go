package store

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Tier names the storage level currently holding an entry.
type Tier uint8

const (
	TierMemory Tier = iota
	TierDisk
)

func (t Tier) String() string {
	if t == TierDisk {
		return "disk"
	}
	return "memory"
}

// Entry is one cached value. Key, Value, Size and Tier never change once the
// entry is shared; only the access stamp moves.
type Entry struct {
	Key   string
	Value Value
	Size  int64
	Tier  Tier
	Seq   uint64

	accessed atomic.Int64
}

// NewEntry builds an entry with its size estimate computed.
func NewEntry(key string, v Value, accessed time.Time) *Entry {
	e := &Entry{
		Key:   key,
		Value: v,
		Size:  SizeOf(key, v),
	}
	e.accessed.Store(accessed.UnixNano())
	return e
}

// Accessed returns the last access time in unix nanoseconds.
func (e *Entry) Accessed() int64 {
	return e.accessed.Load()
}

// touch moves the access stamp forward. Concurrent readers may race; the
// stamp only ever increases.
func (e *Entry) touch(now int64) {
	for {
		old := e.accessed.Load()
		if now <= old || e.accessed.CompareAndSwap(old, now) {
			return
		}
	}
}

// relabel copies e into tier t with a fresh access stamp.
func (e *Entry) relabel(t Tier, now int64) *Entry {
	c := &Entry{Key: e.Key, Value: e.Value, Size: e.Size, Tier: t}
	c.accessed.Store(max(now, e.Accessed()))
	return c
}

func (e *Entry) String() string {
	return fmt.Sprintf("[ key = %s, value=%s, tier=%s ]", e.Key, e.Value, e.Tier)
}
