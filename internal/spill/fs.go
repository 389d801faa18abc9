package spill

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

const (
	tempPrefix = "spill-"
	dirPerm    = 0o755
)

// FS stores one file per key on a billy filesystem.
//
// Layout:
//
//	ab/abcdef0123...  (sha256 of the key, sharded by its first byte)
//
// Each file holds [uvarint key length][key][record], so a scan can recover
// keys without a separate index. Writes go to a temp file in the shard
// directory and are renamed into place.
type FS struct {
	fs billy.Filesystem
}

// NewFS wraps an existing filesystem, e.g. memfs in tests.
func NewFS(fs billy.Filesystem) *FS {
	return &FS{fs: fs}
}

// OpenFS opens a directory-backed store, creating dir if needed.
func OpenFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, errors.New("spill: directory is empty")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}
	return NewFS(osfs.New(dir)), nil
}

func (s *FS) path(key string) (shard, path string) {
	h := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(h[:])
	return name[:2], s.fs.Join(name[:2], name)
}

func (s *FS) Write(key string, data []byte) error {
	dir, path := s.path(key)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create shard %s: %w", dir, err)
	}

	tmp, err := s.fs.TempFile(dir, tempPrefix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	header := binary.AppendUvarint(nil, uint64(len(key)))
	header = append(header, key...)
	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpPath)
		return err
	}

	if err := s.fs.Rename(tmpPath, path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *FS) Read(key string) ([]byte, error) {
	_, path := s.path(key)
	gotKey, data, err := s.readFile(path)
	if err != nil {
		return nil, err
	}
	if gotKey != key {
		return nil, fmt.Errorf("%w: %s: file holds %q", ErrCorruptEntry, key, gotKey)
	}
	return data, nil
}

func (s *FS) readFile(path string) (string, []byte, error) {
	f, err := s.fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, ErrNotExist
	}
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	n, width := binary.Uvarint(raw)
	if width <= 0 || uint64(len(raw)-width) < n {
		return "", nil, fmt.Errorf("%w: %s: bad header", ErrCorruptEntry, path)
	}
	keyEnd := width + int(n)
	return string(raw[width:keyEnd]), raw[keyEnd:], nil
}

func (s *FS) Delete(key string) error {
	_, path := s.path(key)
	err := s.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Scan walks every shard. Leftover temp files from interrupted writes and
// files with a damaged header are removed.
func (s *FS) Scan(fn func(key string, data []byte) error) error {
	shards, err := s.fs.ReadDir("/")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list shards: %w", err)
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		files, err := s.fs.ReadDir(shard.Name())
		if err != nil {
			return fmt.Errorf("list shard %s: %w", shard.Name(), err)
		}
		for _, file := range files {
			path := s.fs.Join(shard.Name(), file.Name())
			if strings.HasPrefix(file.Name(), tempPrefix) {
				_ = s.fs.Remove(path)
				continue
			}
			key, data, err := s.readFile(path)
			if errors.Is(err, ErrCorruptEntry) {
				_ = s.fs.Remove(path)
				continue
			}
			if err != nil {
				continue
			}
			if err := fn(key, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sync is a no-op: records are renamed into place before Write returns and
// billy exposes no directory fsync.
func (s *FS) Sync() error { return nil }

func (s *FS) Close() error { return nil }
