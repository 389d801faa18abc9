package spill

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackend runs the behaviour every Backend must share.
func testBackend(t *testing.T, b Backend) {
	t.Helper()

	_, err := b.Read("file:/missing")
	assert.ErrorIs(t, err, ErrNotExist)
	require.NoError(t, b.Delete("file:/missing"))

	require.NoError(t, b.Write("file:/a", []byte("one")))
	require.NoError(t, b.Write("sfv:/dir", []byte("two")))
	require.NoError(t, b.Write("file:/a", []byte("three")))

	data, err := b.Read("file:/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), data)

	var keys []string
	require.NoError(t, b.Scan(func(key string, data []byte) error {
		keys = append(keys, key)
		return nil
	}))
	slices.Sort(keys)
	assert.Equal(t, []string{"file:/a", "sfv:/dir"}, keys)

	require.NoError(t, b.Delete("file:/a"))
	_, err = b.Read("file:/a")
	assert.ErrorIs(t, err, ErrNotExist)

	stop := fmt.Errorf("stop")
	err = b.Scan(func(string, []byte) error { return stop })
	assert.ErrorIs(t, err, stop)

	require.NoError(t, b.Sync())
}
