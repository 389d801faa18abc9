package crccache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aweris/crccache/internal/codec"
	"github.com/aweris/crccache/internal/store"
)

type (
	// Checksum is the CRC32 of a file.
	Checksum = store.Checksum
	// ChecksumMap maps file names to 8 digit hex CRCs, as listed in an SFV file.
	ChecksumMap = store.ChecksumMap
	// Value holds either a Checksum or a ChecksumMap.
	Value = store.Value
	Kind  = store.Kind
	Entry = store.Entry
	// Record is the portable form of an entry, used by Export and Import.
	Record = codec.Record
)

const (
	KindChecksum    = store.KindChecksum
	KindChecksumMap = store.KindChecksumMap
)

func ChecksumValue(c Checksum) Value       { return store.ChecksumValue(c) }
func ChecksumMapValue(m ChecksumMap) Value { return store.ChecksumMapValue(m) }

// Namespace partitions the key space by value type.
type Namespace string

const (
	NamespaceFile Namespace = "file"
	NamespaceSFV  Namespace = "sfv"
)

// Kind returns the value kind the namespace holds.
func (n Namespace) Kind() Kind {
	switch n {
	case NamespaceFile:
		return KindChecksum
	case NamespaceSFV:
		return KindChecksumMap
	}
	return store.KindInvalid
}

// Key addresses one cache entry.
type Key struct {
	Namespace Namespace
	Path      string
}

// FileKey returns the key of a file checksum. path is made absolute.
func FileKey(path string) Key { return Key{Namespace: NamespaceFile, Path: absPath(path)} }

// SFVKey returns the key of a directory's SFV listing. dir is made absolute.
func SFVKey(dir string) Key { return Key{Namespace: NamespaceSFV, Path: absPath(dir)} }

// ParseKey parses the "<namespace>:<path>" form returned by Key.String.
func ParseKey(s string) (Key, error) {
	ns, path, ok := strings.Cut(s, ":")
	if !ok || path == "" {
		return Key{}, fmt.Errorf("crccache: malformed key %q", s)
	}
	k := Key{Namespace: Namespace(ns), Path: path}
	if k.Namespace.Kind() == store.KindInvalid {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	return k, nil
}

func (k Key) String() string { return string(k.Namespace) + ":" + k.Path }

// check validates that v may be stored under k.
func (k Key) check(v Value) error {
	want := k.Namespace.Kind()
	if want == store.KindInvalid {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, k.Namespace)
	}
	if v.Kind() != want {
		return fmt.Errorf("%w: %s holds %s, got %s", ErrTypeMismatch, k, want, v.Kind())
	}
	return nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// kindOfKey tells the codec which kind a raw key must hold.
func kindOfKey(key string) Kind {
	ns, _, _ := strings.Cut(key, ":")
	return Namespace(ns).Kind()
}

// Stats describes one logical cache.
type Stats struct {
	Name           string `yaml:"name"`
	Entries        int    `yaml:"entries"`
	MemoryEntries  int    `yaml:"memory_entries"`
	DiskEntries    int    `yaml:"disk_entries"`
	MemoryBytes    int64  `yaml:"memory_bytes"`
	DiskBytes      int64  `yaml:"disk_bytes"`
	Hits           uint64 `yaml:"hits"`
	Misses         uint64 `yaml:"misses"`
	Evictions      uint64 `yaml:"evictions"`
	DiskEvictions  uint64 `yaml:"disk_evictions"`
	DiskWriteFails uint64 `yaml:"disk_write_failures"`
}
