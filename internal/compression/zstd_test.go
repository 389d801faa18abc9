package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := NewCompressor(2, true)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	tests := []struct {
		name      string
		data      []byte
		wantFrame byte
	}{
		{"empty", nil, frameRaw},
		{"short", []byte("crc"), frameRaw},
		{"compressible", bytes.Repeat([]byte("release.r00 0badf00d\n"), 64), frameZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			frame := c.Compress(tt.data)
			require.NotEmpty(t, frame)
			assert.Equal(t, tt.wantFrame, frame[0])

			got, err := c.Decompress(frame)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestDisabledCompressorReadsCompressedFrames(t *testing.T) {
	t.Parallel()

	on, err := NewCompressor(1, true)
	require.NoError(t, err)
	defer on.Close()
	off, err := NewCompressor(0, false)
	require.NoError(t, err)
	defer off.Close()

	data := bytes.Repeat([]byte{0xab}, 512)
	frame := on.Compress(data)
	require.Equal(t, frameZstd, frame[0])

	got, err := off.Decompress(frame)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.Equal(t, frameRaw, off.Compress(data)[0])
}

func TestDecompressCorrupt(t *testing.T) {
	t.Parallel()

	c, err := NewCompressor(2, true)
	require.NoError(t, err)
	defer c.Close()

	for _, frame := range [][]byte{
		nil,
		{0x7f, 1, 2, 3},
		{frameZstd, 'n', 'o', 't', 'z', 's', 't', 'd'},
	} {
		_, err := c.Decompress(frame)
		assert.ErrorIs(t, err, ErrCorrupt)
	}
}
