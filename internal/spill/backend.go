// Package spill implements the disk tier: entries evicted from memory are
// written here instead of being discarded, and read back on demand.
//
// A Tier buffers writes in memory and drains them to a Backend in batches;
// Flush forces the buffer out. Two backends are provided: FS, which keeps
// one file per key on a billy filesystem, and Pebble, which keeps records in
// an embedded LSM store.
package spill

import "errors"

var (
	ErrNotExist     = errors.New("spill: record not found")
	ErrCorruptEntry = errors.New("spill: corrupt entry")
	ErrDiskWrite    = errors.New("spill: disk write failed")
)

// Backend persists opaque records by key.
type Backend interface {
	// Write stores data under key, replacing any previous record.
	Write(key string, data []byte) error

	// Read returns the record for key, or ErrNotExist.
	Read(key string) ([]byte, error)

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(key string) error

	// Scan calls fn for every stored record. Unreadable records are skipped.
	Scan(fn func(key string, data []byte) error) error

	// Sync makes completed writes durable.
	Sync() error

	Close() error
}
