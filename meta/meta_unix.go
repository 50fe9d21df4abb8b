// meta_unix.go -- chown and timestamps for unixish platforms
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

package meta

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func chown(dest string, uid, gid uint32, opts Options) error {
	u, g := -1, -1
	if opts.Owner {
		u = int(uid)
	}
	if opts.Group {
		g = int(gid)
	}

	if err := os.Lchown(dest, u, g); err != nil {
		// without privileges a failed chown falls back to
		// fake-super storage when enabled
		if opts.FakeSuper && !opts.SuperUser {
			storeFakeSuperIDs(dest, uid, gid)
			return nil
		}
		return fmt.Errorf("meta: chown %s: %w", dest, err)
	}
	return nil
}

func setTimes(dest string, atime, mtime time.Time, symlink bool) error {
	var times [2]unix.Timespec
	if atime.IsZero() {
		times[0] = unix.Timespec{Nsec: unix.UTIME_OMIT}
	} else {
		times[0] = unix.NsecToTimespec(atime.UnixNano())
	}
	times[1] = unix.NsecToTimespec(mtime.UnixNano())

	flags := 0
	if symlink {
		flags = unix.AT_SYMLINK_NOFOLLOW
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, dest, times[:], flags); err != nil {
		return fmt.Errorf("meta: utimes %s: %w", dest, err)
	}
	return nil
}

// CloneSymlink recreates the symlink 'src' at 'dest' pointing at the
// same target.
func CloneSymlink(dest, src string) error {
	targ, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("meta: readlink %s: %w", src, err)
	}
	if err := os.Symlink(targ, dest); err != nil {
		return fmt.Errorf("meta: symlink %s: %w", dest, err)
	}
	return nil
}

// IsDevice reports whether the stat mode describes a block or char
// device.
func IsDevice(mode os.FileMode) bool {
	return mode&os.ModeDevice != 0
}

// statIDs returns the uid/gid of an existing destination entry.
func statIDs(dest string) (uint32, uint32, bool) {
	var st syscall.Stat_t
	if err := syscall.Lstat(dest, &st); err != nil {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}
