// copy_other.go - fallback copy for non-linux unix
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

//go:build unix && !linux

package fsx

import (
	"os"
)

func sysCopyFd(dst, src *os.File) error {
	return copyViaMmap(dst, src)
}

// Preallocate is a no-op where fallocate(2) is unavailable.
func Preallocate(fd *os.File, sz int64) error {
	return nil
}
