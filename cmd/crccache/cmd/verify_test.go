package cmd

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/crccache"
)

func openMemoryCache(t *testing.T) *crccache.Cache {
	t.Helper()
	l := log.New()
	l.SetOutput(io.Discard)
	c, err := crccache.Open(crccache.WithLogger(l))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

func TestVerifyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "check.bin")
	require.NoError(t, os.WriteFile(path, []byte("123456789"), 0o644))

	c := openMemoryCache(t)

	v, err := verifyFile(c, path)
	require.NoError(t, err)
	assert.False(t, v.Listed)
	assert.False(t, v.Cached)
	assert.Equal(t, crccache.Checksum(0xcbf43926), v.Actual)

	require.NoError(t, c.PutChecksumMap(dir, crccache.ChecksumMap{"check.bin": "CBF43926"}))
	v, err = verifyFile(c, path)
	require.NoError(t, err)
	assert.True(t, v.Cached, "checksum cached by the first run")
	assert.True(t, v.OK())
	assert.Contains(t, v.String(), "OK")

	require.NoError(t, c.PutChecksumMap(dir, crccache.ChecksumMap{"check.bin": "00000000"}))
	v, err = verifyFile(c, path)
	require.NoError(t, err)
	assert.False(t, v.OK())
	assert.Contains(t, v.String(), "want 00000000")
}

func TestVerifyMissingFile(t *testing.T) {
	c := openMemoryCache(t)
	_, err := verifyFile(c, filepath.Join(t.TempDir(), "gone"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
