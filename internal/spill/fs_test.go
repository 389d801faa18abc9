package spill

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBackend(t *testing.T) {
	t.Parallel()
	testBackend(t, NewFS(memfs.New()))
}

func TestFSLayout(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	b := NewFS(fs)
	require.NoError(t, b.Write("file:/a", []byte("x")))

	shard, path := b.path("file:/a")
	assert.Len(t, shard, 2)
	_, err := fs.Stat(path)
	require.NoError(t, err)
}

func TestFSScanRemovesDebris(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	b := NewFS(fs)
	require.NoError(t, b.Write("file:/a", []byte("x")))

	require.NoError(t, util.WriteFile(fs, "ab/"+tempPrefix+"123", []byte("partial"), 0o644))
	require.NoError(t, util.WriteFile(fs, "cd/broken", []byte{0xff}, 0o644))

	var keys []string
	require.NoError(t, b.Scan(func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"file:/a"}, keys)

	_, err := fs.Stat("ab/" + tempPrefix + "123")
	assert.Error(t, err)
	_, err = fs.Stat("cd/broken")
	assert.Error(t, err)
}

func TestFSReadRejectsForeignKey(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	b := NewFS(fs)
	require.NoError(t, b.Write("file:/a", []byte("x")))

	_, pathA := b.path("file:/a")
	shardB, pathB := b.path("file:/b")
	require.NoError(t, fs.MkdirAll(shardB, 0o755))
	require.NoError(t, fs.Rename(pathA, pathB))

	_, err := b.Read("file:/b")
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestOpenFSRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := OpenFS("")
	assert.Error(t, err)

	b, err := OpenFS(t.TempDir())
	require.NoError(t, err)
	testBackend(t, b)
}
