package spill

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemPebble(t *testing.T, fs vfs.FS) *Pebble {
	t.Helper()
	p, err := OpenPebble("db", &pebble.Options{FS: fs})
	require.NoError(t, err)
	return p
}

func TestPebbleBackend(t *testing.T) {
	t.Parallel()

	p := openMemPebble(t, vfs.NewMem())
	defer p.Close()
	testBackend(t, p)
}

func TestPebbleReopen(t *testing.T) {
	t.Parallel()

	fs := vfs.NewMem()
	p := openMemPebble(t, fs)
	require.NoError(t, p.Write("file:/a", []byte("x")))
	require.NoError(t, p.Sync())
	require.NoError(t, p.Close())

	p = openMemPebble(t, fs)
	defer p.Close()
	data, err := p.Read("file:/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}
