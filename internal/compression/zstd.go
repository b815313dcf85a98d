// Package compression wraps zstd for objects kept in the local store.
package compression

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Objects smaller than this are stored as is.
const minSize = 128

// Level selects the zstd speed/ratio trade-off.
type Level string

const (
	LevelNone    Level = "none"
	LevelFastest Level = "fastest"
	LevelDefault Level = "default"
	LevelBetter  Level = "better"
	LevelBest    Level = "best"
)

// ParseLevel maps a config value to a Level. Empty means LevelDefault.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LevelDefault, nil
	case LevelNone, LevelFastest, LevelDefault, LevelBetter, LevelBest:
		return l, nil
	default:
		return "", fmt.Errorf("unknown compression level %q", s)
	}
}

func (l Level) encoderLevel() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Compressor compresses objects on write and undoes it on read. Data that
// does not shrink is kept uncompressed; Decompress recognises it by the
// missing zstd frame magic.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor returns a compressor for level. LevelNone still decodes
// objects written with compression enabled.
func NewCompressor(level Level) (*Compressor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	c := &Compressor{decoder: decoder}
	if level == LevelNone {
		return c, nil
	}

	c.encoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level.encoderLevel()),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return c, nil
}

var frameMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func (c *Compressor) Compress(data []byte) []byte {
	if c.encoder == nil || len(data) < minSize {
		return data
	}

	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data
	}
	return compressed
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < len(frameMagic) || string(data[:4]) != string(frameMagic) {
		return data, nil
	}

	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	c.decoder.Close()
	return nil
}
