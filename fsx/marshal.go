// marshal.go - portable binary encoding of Info and Xattr
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

package fsx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

// ErrTooSmall is returned when a marshal/unmarshal buffer is shorter
// than the encoding needs.
var ErrTooSmall = errors.New("buffer is not big enough")

// MarshalFlag alters how an Info is encoded.
type MarshalFlag uint32

const (
	// JunkPath encodes only the basename of the path.
	JunkPath MarshalFlag = 1 << iota
)

// bump when the encoding changes
const marshalVersion byte = 1

// encoded size of the fixed-width fields:
// 1b version, 3 x 8b time, 4 x 4b uint32, 4 x 8b uint64
const _FixedEncodingSize int = 1 + (3 * 8) + (4 * 4) + (4 * 8)

// MarshalSize returns the encoded size of this instance of Info.
func (ii *Info) MarshalSize(flag MarshalFlag) int {
	n := _FixedEncodingSize
	if flag&JunkPath > 0 {
		n += len(filepath.Base(ii.path)) + 4
	} else {
		n += len(ii.path) + 4
	}
	n += ii.Xattr.MarshalSize()
	return n + 4
}

// MarshalTo encodes ii into 'b'; the buffer must be at least
// MarshalSize(flag) bytes. Returns the number of bytes written.
func (ii *Info) MarshalTo(b []byte, flag MarshalFlag) (int, error) {
	sz := ii.MarshalSize(flag)
	if len(b) < sz {
		return 0, fmt.Errorf("marshal: buf: %w", ErrTooSmall)
	}

	b = enc32(b, sz-4)

	b[0], b = marshalVersion, b[1:]
	b = enc64(b, ii.Ino)
	b = enc64(b, uint64(ii.Siz))
	b = enc64(b, ii.Dev)
	b = enc64(b, ii.Rdev)

	b = enc32(b, uint32(ii.Mod))
	b = enc32(b, ii.Uid)
	b = enc32(b, ii.Gid)
	b = enc32(b, ii.Nlink)

	b = enctime(b, ii.Atim)
	b = enctime(b, ii.Mtim)
	b = enctime(b, ii.Ctim)

	if flag&JunkPath > 0 {
		b = encstr(b, filepath.Base(ii.path))
	} else {
		b = encstr(b, ii.path)
	}

	if _, err := ii.Xattr.MarshalTo(b); err != nil {
		return 0, err
	}
	return sz, nil
}

// Marshal encodes ii into a freshly allocated buffer.
func (ii *Info) Marshal(flag MarshalFlag) ([]byte, error) {
	b := make([]byte, ii.MarshalSize(flag))
	if _, err := ii.MarshalTo(b, flag); err != nil {
		return nil, err
	}
	return b, nil
}

// Unmarshal decodes a byte stream produced by Marshal into ii and
// returns the number of bytes consumed.
func (ii *Info) Unmarshal(b []byte) (int, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("unmarshal: len: %w", ErrTooSmall)
	}

	var z int
	b, z = dec32[int](b)
	if len(b) < z {
		return 0, fmt.Errorf("unmarshal: buf %d; want %d: %w", len(b), z, ErrTooSmall)
	}
	if z < _FixedEncodingSize {
		return 0, fmt.Errorf("unmarshal: short encoding %d: %w", z, ErrTooSmall)
	}

	var ver byte
	ver, b = b[0], b[1:]
	if ver != 1 {
		return 0, fmt.Errorf("unmarshal: unsupported version %d", ver)
	}

	b, ii.Ino = dec64[uint64](b)
	b, ii.Siz = dec64[int64](b)
	b, ii.Dev = dec64[uint64](b)
	b, ii.Rdev = dec64[uint64](b)

	var mode uint32
	b, mode = dec32[uint32](b)
	ii.Mod = fs.FileMode(mode)

	b, ii.Uid = dec32[uint32](b)
	b, ii.Gid = dec32[uint32](b)
	b, ii.Nlink = dec32[uint32](b)

	b, ii.Atim = dectime(b)
	b, ii.Mtim = dectime(b)
	b, ii.Ctim = dectime(b)

	var err error
	b, ii.path, err = decstr(b)
	if err != nil {
		return 0, err
	}

	ii.Xattr = make(Xattr)
	if _, err := ii.Xattr.Unmarshal(b); err != nil {
		return 0, err
	}
	return z + 4, nil
}

// MarshalSize returns the encoded size of x.
func (x *Xattr) MarshalSize() int {
	n := 4
	for k, v := range *x {
		n += 4 + 4
		n += len(k)
		n += len(v)
	}
	return n
}

// MarshalTo encodes x into 'b'.
func (x *Xattr) MarshalTo(b []byte) (int, error) {
	sz := x.MarshalSize()
	if len(b) < sz {
		return 0, fmt.Errorf("xattr marshal: %w", ErrTooSmall)
	}

	blen, b := b[:4], b[4:]
	for k, v := range *x {
		b = enc32(b, len(k))
		b = enc32(b, len(v))
		n := copy(b, k)
		b = b[n:]
		n = copy(b, v)
		b = b[n:]
	}
	enc32(blen, sz-4)
	return sz, nil
}

// Unmarshal decodes into x and returns the bytes consumed.
func (x *Xattr) Unmarshal(b []byte) (int, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("unmarshal: xattr: buf len %d: %w", len(b), ErrTooSmall)
	}

	var z int
	b, z = dec32[int](b)
	if len(b) < z {
		return 0, fmt.Errorf("unmarshal: xattr: buf len %d, want %d: %w", len(b), z, ErrTooSmall)
	}

	b = b[:z]
	for len(b) > 0 {
		if len(b) < 8 {
			return 0, fmt.Errorf("unmarshal: xattr kv: %w", ErrTooSmall)
		}
		var kl, vl int
		b, kl = dec32[int](b)
		b, vl = dec32[int](b)
		if len(b) < kl+vl {
			return 0, fmt.Errorf("unmarshal: xattr kv data: %w", ErrTooSmall)
		}
		k := string(b[:kl])
		b = b[kl:]
		(*x)[k] = string(b[:vl])
		b = b[vl:]
	}
	return z + 4, nil
}

func enc32[T ~int32 | ~uint32 | int](b []byte, n T) []byte {
	binary.BigEndian.PutUint32(b, uint32(n))
	return b[4:]
}

func dec32[T ~int | ~int32 | ~uint | ~uint32](b []byte) ([]byte, T) {
	n := binary.BigEndian.Uint32(b[:4])
	return b[4:], T(n)
}

func enc64[T ~int64 | ~uint64](b []byte, n T) []byte {
	binary.BigEndian.PutUint64(b, uint64(n))
	return b[8:]
}

func dec64[T ~int | ~int64 | ~uint | ~uint64](b []byte) ([]byte, T) {
	n := binary.BigEndian.Uint64(b[:8])
	return b[8:], T(n)
}

func encstr(b []byte, s string) []byte {
	b = enc32(b, len(s))
	copy(b, s)
	return b[len(s):]
}

func decstr(b []byte) ([]byte, string, error) {
	if len(b) < 4 {
		return nil, "", fmt.Errorf("unmarshal: string len: %w", ErrTooSmall)
	}
	var n int
	b, n = dec32[int](b)
	if n <= len(b) {
		return b[n:], string(b[:n]), nil
	}
	return nil, "", fmt.Errorf("unmarshal: string: %w", ErrTooSmall)
}

// time is encoded as nanoseconds since the unix epoch in one u64;
// high precision for 584 years and no values before Jan 1 1970.
func enctime(b []byte, t time.Time) []byte {
	ns := uint64(t.Unix()) * uint64(time.Second)
	ns += uint64(t.Nanosecond())
	return enc64(b, ns)
}

func dectime(b []byte) ([]byte, time.Time) {
	var val uint64
	b, val = dec64[uint64](b)
	ns := val % uint64(time.Second)
	s := val / uint64(time.Second)
	return b, time.Unix(int64(s), int64(ns))
}
