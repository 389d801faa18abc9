package crccache

import (
	"context"
	"io"
	stdlog "log"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImport(t *testing.T) {
	t.Parallel()

	src := openTestCache(t, append(memDisk(memfs.New()), WithMaxEntries(1))...)
	require.NoError(t, src.PutChecksum("/srv/a.rar", 1))
	require.NoError(t, src.PutChecksum("/srv/b.rar", 2))
	require.NoError(t, src.PutChecksumMap("/srv", ChecksumMap{"a.rar": "00000001"}))

	records, err := src.Export()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "file:/srv/a.rar", records[0].Key)
	assert.Equal(t, "sfv:/srv", records[2].Key)

	dst := openTestCache(t)
	require.NoError(t, dst.PutChecksum("/srv/a.rar", 99))

	added, err := dst.Import(records)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, Checksum(99), mustChecksum(t, dst, "/srv/a.rar"), "local value wins")
	assert.Equal(t, Checksum(2), mustChecksum(t, dst, "/srv/b.rar"))
	m, ok, err := dst.GetChecksumMap("/srv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ChecksumMap{"a.rar": "00000001"}, m)
}

func TestImportIntoDiskTier(t *testing.T) {
	t.Parallel()

	dst := openTestCache(t, memDisk(memfs.New())...)
	added, err := dst.Import([]Record{
		{Key: "file:/a", Kind: KindChecksum, CRC: 5},
		{Key: "file:/bad", Kind: KindChecksumMap, CRCs: map[string]string{"x": "00000000"}},
		{Key: "dir:/nope", Kind: KindChecksum, CRC: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, "disk", tierOf(t, dst, FileKey("/a")))
	assert.Equal(t, Checksum(5), mustChecksum(t, dst, "/a"))
	assert.Equal(t, "absent", tierOf(t, dst, FileKey("/bad")))
}

func TestPushPull(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(registry.New(registry.Logger(stdlog.New(io.Discard, "", 0))))
	t.Cleanup(srv.Close)
	ref := strings.TrimPrefix(srv.URL, "http://") + "/crccache:main"
	ctx := context.Background()

	src := openTestCache(t, WithInsecureRegistry())
	require.NoError(t, src.PutChecksum("/srv/a.rar", 0xdeadbeef))
	require.NoError(t, src.PutChecksumMap("/srv", ChecksumMap{"a.rar": "deadbeef"}))

	id, err := src.Push(ctx, ref)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	dst := openTestCache(t, WithInsecureRegistry())
	added, err := dst.Pull(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, Checksum(0xdeadbeef), mustChecksum(t, dst, "/srv/a.rar"))

	closed := New(WithLogger(quietLogger()))
	_, err = closed.Pull(ctx, ref)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = closed.Push(ctx, ref)
	assert.ErrorIs(t, err, ErrClosed)
}
