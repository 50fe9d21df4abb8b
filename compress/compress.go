// compress.go - negotiable compression codecs for the transfer stream
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Package compress implements the codecs a session may negotiate for
// literal data in the delta stream: zstd, the klauspost zlib variant
// (ZlibX) and plain zlib. File names whose suffix is already
// compressed are skipped via ShouldCompress.
package compress

import (
	"bytes"
	stdzlib "compress/zlib"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	kzlib "github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Codec identifies one negotiable compression algorithm.
type Codec int

const (
	Zlib Codec = iota + 1
	ZlibX
	Zstd
)

func (c Codec) String() string {
	switch c {
	case Zlib:
		return "zlib"
	case ZlibX:
		return "zlibx"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", int(c))
}

// Parse maps a user supplied codec name to a Codec.
func Parse(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "zlib":
		return Zlib, nil
	case "zlibx":
		return ZlibX, nil
	case "zstd":
		return Zstd, nil
	}
	return 0, fmt.Errorf("compress: unknown codec %q", s)
}

// DefaultPreference is the order codecs are offered in when the user
// does not force a choice.
var DefaultPreference = []Codec{Zstd, ZlibX, Zlib}

// AllCodecs lists every codec this build supports; a purely local
// session negotiates against it.
var AllCodecs = []Codec{Zstd, ZlibX, Zlib}

// Negotiate picks the first codec from 'prefer' that the remote side
// also supports; ok is false when the sets don't intersect.
func Negotiate(prefer, remote []Codec) (Codec, bool) {
	for _, c := range prefer {
		for _, r := range remote {
			if c == r {
				return c, true
			}
		}
	}
	return 0, false
}

// Compress compresses 'p' with codec 'c' at 'level'; level <= 0 uses
// the codec default.
func (c Codec) Compress(p []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	switch c {
	case Zstd:
		lvl := zstd.SpeedDefault
		if level > 0 {
			lvl = zstd.EncoderLevelFromZstd(level)
		}
		zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(lvl))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		if _, err := zw.Write(p); err != nil {
			zw.Close()
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}

	case ZlibX:
		if level <= 0 {
			level = kzlib.DefaultCompression
		}
		zw, err := kzlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("compress: zlibx: %w", err)
		}
		if _, err := zw.Write(p); err != nil {
			zw.Close()
			return nil, fmt.Errorf("compress: zlibx: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress: zlibx: %w", err)
		}

	case Zlib:
		if level <= 0 {
			level = stdzlib.DefaultCompression
		}
		zw, err := stdzlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("compress: zlib: %w", err)
		}
		if _, err := zw.Write(p); err != nil {
			zw.Close()
			return nil, fmt.Errorf("compress: zlib: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress: zlib: %w", err)
		}

	default:
		return nil, fmt.Errorf("compress: unknown codec %d", int(c))
	}

	return buf.Bytes(), nil
}

// Decompress reverses Compress for codec 'c'.
func (c Codec) Decompress(p []byte) ([]byte, error) {
	switch c {
	case Zstd:
		zr, err := zstd.NewReader(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		return out, nil

	case ZlibX:
		zr, err := kzlib.NewReader(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("compress: zlibx: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("compress: zlibx: %w", err)
		}
		return out, nil

	case Zlib:
		zr, err := stdzlib.NewReader(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("compress: zlib: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("compress: zlib: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("compress: unknown codec %d", int(c))
}

// DefaultSkipSuffixes lists file suffixes that are presumed already
// compressed; transfers of such files leave literal data uncompressed.
var DefaultSkipSuffixes = []string{
	"7z", "ace", "apk", "avi", "bz2", "deb", "dmg", "flac", "gpg",
	"gz", "iso", "jar", "jpeg", "jpg", "lz", "lz4", "lzma", "lzo",
	"m4a", "m4v", "mkv", "mov", "mp3", "mp4", "mpeg", "mpg", "odb",
	"odf", "odg", "odp", "ods", "odt", "ogg", "ogv", "opus", "png",
	"rar", "rpm", "rzip", "squashfs", "sxd", "sxg", "sxm", "sxw",
	"tbz", "tgz", "tlz", "txz", "tzo", "webm", "webp", "xz", "z",
	"zip", "zst",
}

// SkipSet builds the suffix lookup used by ShouldCompress. Passing a
// nil or empty list selects the defaults.
func SkipSet(suffixes []string) map[string]bool {
	if len(suffixes) == 0 {
		suffixes = DefaultSkipSuffixes
	}
	m := make(map[string]bool, len(suffixes))
	for _, s := range suffixes {
		m[strings.ToLower(strings.TrimPrefix(s, "."))] = true
	}
	return m
}

// ShouldCompress reports whether literal data for 'path' should go
// through the session codec.
func ShouldCompress(path string, skip map[string]bool) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return true
	}
	return !skip[ext]
}
