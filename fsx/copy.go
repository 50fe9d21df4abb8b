// copy.go - whole-file copy using the best available primitive
//
// (c) 2021 Sudhi Herle <sudhi@herle.net>
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
	"io/fs"
	"os"
)

// CopyFile copies 'src' to 'dst' using the most efficient primitive
// the platform offers (reflink, copy_file_range) and falls back to a
// copy via mmap. The destination appears atomically; an existing
// regular file is replaced.
func CopyFile(dst, src string, perm fs.FileMode) error {
	s, err := os.Open(src)
	if err != nil {
		return &CopyError{"open-src", src, dst, err}
	}
	defer s.Close()

	d, err := NewSafeFile(dst, OPT_COW|OPT_OVERWRITE, os.O_CREATE|os.O_RDWR, perm)
	if err != nil {
		return &CopyError{"safefile", src, dst, err}
	}
	defer d.Abort()

	if err = CopyFd(d.File, s); err != nil {
		return err
	}
	if err = d.Close(); err != nil {
		return &CopyError{"close", src, dst, err}
	}
	return nil
}

// CopyFd copies the open file 'src' to 'dst' using the best available
// primitive with a safe mmap fallback.
func CopyFd(dst, src *os.File) error {
	si, err := Fstat(src)
	if err != nil {
		return &CopyError{"fstat-src", src.Name(), dst.Name(), err}
	}
	di, err := Fstat(dst)
	if err != nil {
		return &CopyError{"fstat-dst", src.Name(), dst.Name(), err}
	}

	if di.IsSameFS(si) {
		return sysCopyFd(dst, src)
	}
	return copyViaMmap(dst, src)
}

func fullWrite(d *os.File, b []byte) (int, error) {
	var z int
	n := len(b)
	for n > 0 {
		m, err := d.Write(b)
		if err != nil {
			return z, err
		}
		n -= m
		z += m
		b = b[m:]
	}
	return z, nil
}
