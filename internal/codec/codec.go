// Package codec serializes cache entries for the disk tier and for remote
// snapshots.
//
// A record is encoded with msgpack and framed by the compression package.
// Decoding checks the value kind against what the key's namespace expects,
// so a record can never come back as the wrong variant.
package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aweris/crccache/internal/compression"
	"github.com/aweris/crccache/internal/store"
)

var ErrCorrupt = errors.New("codec: corrupt record")

// Record is the serialized form of an entry.
type Record struct {
	Key      string            `msgpack:"k"`
	Kind     store.Kind        `msgpack:"t"`
	CRC      uint32            `msgpack:"c,omitempty"`
	CRCs     map[string]string `msgpack:"m,omitempty"`
	Accessed int64             `msgpack:"a"`
}

// FromEntry captures e as a record.
func FromEntry(e *store.Entry) Record {
	r := Record{Key: e.Key, Kind: e.Value.Kind(), Accessed: e.Accessed()}
	switch r.Kind {
	case store.KindChecksum:
		crc, _ := e.Value.Checksum()
		r.CRC = uint32(crc)
	case store.KindChecksumMap:
		r.CRCs, _ = e.Value.ChecksumMap()
	}
	return r
}

// Value rebuilds the tagged value held by r.
func (r Record) Value() (store.Value, error) {
	switch r.Kind {
	case store.KindChecksum:
		return store.ChecksumValue(store.Checksum(r.CRC)), nil
	case store.KindChecksumMap:
		return store.ChecksumMapValue(store.ChecksumMap(r.CRCs)), nil
	default:
		return store.Value{}, fmt.Errorf("%w: %s: unknown kind %d", ErrCorrupt, r.Key, r.Kind)
	}
}

// Entry rebuilds the entry held by r.
func (r Record) Entry() (*store.Entry, error) {
	v, err := r.Value()
	if err != nil {
		return nil, err
	}
	return store.NewEntry(r.Key, v, time.Unix(0, r.Accessed)), nil
}

// KindFunc reports the value kind a key must hold, or store.KindInvalid when
// any kind is acceptable.
type KindFunc func(key string) store.Kind

// Codec encodes and decodes framed records.
type Codec struct {
	comp   *compression.Compressor
	kindOf KindFunc
}

// New returns a codec. kindOf may be nil.
func New(comp *compression.Compressor, kindOf KindFunc) *Codec {
	return &Codec{comp: comp, kindOf: kindOf}
}

// Encode serializes e.
func (c *Codec) Encode(e *store.Entry) ([]byte, error) {
	raw, err := msgpack.Marshal(FromEntry(e))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Key, err)
	}
	return c.comp.Compress(raw), nil
}

// Decode deserializes data. When key is non-empty the record must belong to it.
func (c *Codec) Decode(key string, data []byte) (*store.Entry, error) {
	raw, err := c.comp.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	var r Record
	if err := msgpack.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if key != "" && r.Key != key {
		return nil, fmt.Errorf("%w: %s: record belongs to %q", ErrCorrupt, key, r.Key)
	}
	if err := c.Check(r); err != nil {
		return nil, err
	}
	return r.Entry()
}

// Check validates r against the kind its key's namespace expects.
func (c *Codec) Check(r Record) error {
	if c.kindOf == nil {
		return nil
	}
	if want := c.kindOf(r.Key); want != store.KindInvalid && want != r.Kind {
		return fmt.Errorf("%w: %s: holds %s, want %s", ErrCorrupt, r.Key, r.Kind, want)
	}
	return nil
}
