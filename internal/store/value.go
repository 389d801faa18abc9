// Package store implements the memory tier of the cache.
//
// The Entry Store is the authoritative index from key to Entry for values
// resident in memory. It never reads the disk tier; promotion and
// spillover are coordinated by the caller.
package store

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindChecksum
	KindChecksumMap
)

func (k Kind) String() string {
	switch k {
	case KindChecksum:
		return "checksum"
	case KindChecksumMap:
		return "checksum-map"
	default:
		return "invalid"
	}
}

// Checksum is a CRC32 value.
type Checksum uint32

// String renders the checksum the way SFV files do: eight hex digits.
func (c Checksum) String() string {
	return fmt.Sprintf("%08x", uint32(c))
}

// ChecksumMap maps file names to hex encoded CRC32 strings.
type ChecksumMap map[string]string

// Clone returns an independent copy. A nil map clones to an empty one.
func (m ChecksumMap) Clone() ChecksumMap {
	out := make(ChecksumMap, len(m))
	maps.Copy(out, m)
	return out
}

// Equal reports whether both maps hold the same names and strings.
func (m ChecksumMap) Equal(other ChecksumMap) bool {
	return maps.Equal(m, other)
}

func (m ChecksumMap) String() string {
	names := slices.Sorted(maps.Keys(m))
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+m[name])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Value is a tagged variant holding either a Checksum or a ChecksumMap.
// Values are immutable; maps are copied on the way in and out.
type Value struct {
	kind Kind
	crc  Checksum
	crcs ChecksumMap
}

// ChecksumValue wraps a single checksum.
func ChecksumValue(c Checksum) Value {
	return Value{kind: KindChecksum, crc: c}
}

// ChecksumMapValue wraps a copy of m.
func ChecksumMapValue(m ChecksumMap) Value {
	return Value{kind: KindChecksumMap, crcs: m.Clone()}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Checksum returns the wrapped checksum, or false for other variants.
func (v Value) Checksum() (Checksum, bool) {
	if v.kind != KindChecksum {
		return 0, false
	}
	return v.crc, true
}

// ChecksumMap returns a copy of the wrapped map, or false for other variants.
func (v Value) ChecksumMap() (ChecksumMap, bool) {
	if v.kind != KindChecksumMap {
		return nil, false
	}
	return v.crcs.Clone(), true
}

func (v Value) String() string {
	switch v.kind {
	case KindChecksum:
		return v.crc.String()
	case KindChecksumMap:
		return v.crcs.String()
	default:
		return "<invalid>"
	}
}

// Size estimates, in bytes, charged against a tier for one entry.
const (
	entryOverhead = 64
	pairOverhead  = 16
	checksumSize  = 8
)

// SizeOf returns the deterministic size estimate for storing v under key.
func SizeOf(key string, v Value) int64 {
	size := int64(entryOverhead + len(key))
	switch v.kind {
	case KindChecksum:
		size += checksumSize
	case KindChecksumMap:
		for name, crc := range v.crcs {
			size += int64(len(name) + len(crc) + pairOverhead)
		}
	}
	return size
}
