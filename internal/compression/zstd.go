package compression

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Every frame starts with a one-byte header telling how the payload is stored.
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01

	minCompressSize = 64
)

var ErrCorrupt = errors.New("compression: corrupt frame")

// Compressor frames payloads, compressing them with zstd when enabled and
// worthwhile. Decompression always understands both frame types, so records
// written with compression on stay readable after it is turned off.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

func NewCompressor(level int, enabled bool) (*Compressor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	c := &Compressor{decoder: decoder, enabled: enabled}
	if !enabled {
		return c, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, err
	}
	c.encoder = encoder
	return c, nil
}

// Compress returns a framed copy of data.
func (c *Compressor) Compress(data []byte) []byte {
	if c.enabled && len(data) >= minCompressSize {
		out := make([]byte, 1, len(data))
		out[0] = frameZstd
		out = c.encoder.EncodeAll(data, out)
		if len(out) < len(data)+1 {
			return out
		}
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, frameRaw)
	return append(out, data...)
}

// Decompress unwraps a frame produced by Compress.
func (c *Compressor) Decompress(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrCorrupt)
	}
	switch frame[0] {
	case frameRaw:
		return append([]byte(nil), frame[1:]...), nil
	case frameZstd:
		out, err := c.decoder.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown header %#x", ErrCorrupt, frame[0])
	}
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
