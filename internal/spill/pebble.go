package spill

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Pebble stores records in an embedded pebble database. Writes skip the WAL
// fsync; Sync flushes the memtable.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a database in dir. opts may be nil; tests
// pass &pebble.Options{FS: vfs.NewMem()}.
func OpenPebble(dir string, opts *pebble.Options) (*Pebble, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Write(key string, data []byte) error {
	return p.db.Set([]byte(key), data, pebble.NoSync)
}

func (p *Pebble) Read(key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	out := bytes.Clone(v)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pebble) Delete(key string) error {
	return p.db.Delete([]byte(key), pebble.NoSync)
}

func (p *Pebble) Scan(fn func(key string, data []byte) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iterator: %w", err)
	}
	for valid := it.First(); valid; valid = it.Next() {
		if err := fn(string(it.Key()), bytes.Clone(it.Value())); err != nil {
			it.Close()
			return err
		}
	}
	return it.Close()
}

func (p *Pebble) Sync() error {
	return p.db.Flush()
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
