// mknod_unix.go -- mknod(2) for unixish platforms
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

//go:build unix

package fsx

import (
	"fmt"
	"io/fs"
	"syscall"
)

// Mknod recreates the device or fifo node described by 'fi' at
// 'dest'.
func Mknod(dest string, fi *Info) error {
	mode := uint32(fi.Mod.Perm())
	switch {
	case fi.Mod&fs.ModeCharDevice != 0:
		mode |= syscall.S_IFCHR
	case fi.Mod&fs.ModeDevice != 0:
		mode |= syscall.S_IFBLK
	case fi.Mod&fs.ModeNamedPipe != 0:
		mode |= syscall.S_IFIFO
	case fi.Mod&fs.ModeSocket != 0:
		mode |= syscall.S_IFSOCK
	default:
		return fmt.Errorf("mknod: %s: not a special file", dest)
	}

	if err := syscall.Mknod(dest, mode, int(fi.Rdev)); err != nil {
		return fmt.Errorf("mknod: %s: %w", dest, err)
	}
	return nil
}
