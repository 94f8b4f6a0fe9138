package katana

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// CodecConfig is the small tagged variant spec.md §9 calls for in
// place of a trait-object codec registry: exactly two constructors,
// Zstd and LZMA2, each carrying its own tuning knobs.
type CodecConfig struct {
	Kind         CodecKind
	Level        int // zstd: -7..22 (fast-negative supported); lzma2: preset 0..9
	CodecThreads int // 0 = auto
}

// NewEncoder wraps w with a streaming compressor selected by cfg,
// following the teacher's zstd.go NewZstdEncoder wrapper shape,
// generalized to the second codec variant.
func NewEncoder(w io.Writer, cfg CodecConfig) (io.WriteCloser, error) {
	switch cfg.Kind {
	case CodecLZMA2:
		wc, err := xz.WriterConfig{DictCap: lzmaDictCap(cfg.Level)}.NewWriter(w)
		if err != nil {
			return nil, errIO("", err)
		}
		return wc, nil
	default:
		opts := []zstd.EOption{zstd.WithEncoderLevel(clampZstdLevel(cfg.Level))}
		if cfg.CodecThreads > 0 {
			opts = append(opts, zstd.WithEncoderConcurrency(cfg.CodecThreads))
		}
		zw, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, errIO("", err)
		}
		return zw, nil
	}
}

// NewDecoder wraps r with a streaming decompressor matching the codec
// that produced it. Every shard and the index share one archive-wide
// codec, recorded in the footer and passed in by the caller.
func NewDecoder(r io.Reader, kind CodecKind) (io.ReadCloser, error) {
	switch kind {
	case CodecLZMA2:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, errMalformedIndex("lzma2 decoder: " + err.Error())
		}
		return &nopCloseReader{xr}, nil
	default:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errMalformedIndex("zstd decoder: " + err.Error())
		}
		return zr.IOReadCloser(), nil
	}
}

type nopCloseReader struct{ io.Reader }

func (n *nopCloseReader) Close() error { return nil }

func clampZstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level < 0:
		return zstd.SpeedFastest
	case level == 0:
		return zstd.SpeedDefault
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// lzmaDictCap maps the 0..9 preset range onto a dictionary size, the
// LZMA2 knob that most affects ratio and memory use, mirroring how
// gzip/zstd presets scale window size with level.
func lzmaDictCap(level int) int {
	preset := level
	if preset < 0 {
		preset = 0
	}
	if preset > 9 {
		preset = 9
	}
	const base = 1 << 20 // 1 MiB at preset 0
	dictCap := base << uint(preset)
	if dictCap > 64<<20 {
		dictCap = 64 << 20
	}
	return dictCap
}
