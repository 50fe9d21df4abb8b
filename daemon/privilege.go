// privilege.go - scoped chroot and effective-id transitions
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

//go:build unix

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// PrivilegeContext is the scoped acquisition of a module's chroot
// and effective ids. Restore reverses every transition in LIFO order
// so the accept loop resumes in its original process state no matter
// how the session ended.
type PrivilegeContext struct {
	root *os.File
	cwd  *os.File
	uid  uint32
	gid  uint32

	useChroot bool
	restored  bool
}

// ChrootAndDropPrivileges enters the module: chdir (and chroot when
// requested and running as root) into 'path', then switch the
// effective gid/uid. The returned context restores everything.
func ChrootAndDropPrivileges(path string, uid, gid uint32, useChroot bool) (*PrivilegeContext, error) {
	rootFd, err := os.Open("/")
	if err != nil {
		return nil, fmt.Errorf("daemon: open /: %w", err)
	}
	cwdFd, err := os.Open(".")
	if err != nil {
		rootFd.Close()
		return nil, fmt.Errorf("daemon: open .: %w", err)
	}

	cleanup := func() {
		rootFd.Close()
		cwdFd.Close()
	}

	canon, err := filepath.EvalSymlinks(path)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("daemon: module path %s: %w", path, err)
	}
	st, err := os.Stat(canon)
	if err != nil || !st.IsDir() {
		cleanup()
		return nil, fmt.Errorf("daemon: module path %s is not a directory", canon)
	}

	euid := uint32(unix.Geteuid())
	egid := uint32(unix.Getegid())
	if euid != 0 {
		// without root the module is entered by chdir alone
		useChroot = false
	}
	if (uid != euid || gid != egid) && euid != 0 {
		cleanup()
		return nil, fmt.Errorf("daemon: dropping privileges requires root")
	}

	if useChroot {
		if err := unix.Chroot(canon); err != nil {
			cleanup()
			return nil, fmt.Errorf("daemon: chroot %s: %w", canon, err)
		}
		if err := unix.Chdir("/"); err != nil {
			cleanup()
			return nil, fmt.Errorf("daemon: chdir /: %w", err)
		}
	} else {
		if err := unix.Chdir(canon); err != nil {
			cleanup()
			return nil, fmt.Errorf("daemon: chdir %s: %w", canon, err)
		}
	}

	if err := dropPrivileges(uid, gid); err != nil {
		cleanup()
		return nil, err
	}

	return &PrivilegeContext{
		root:      rootFd,
		cwd:       cwdFd,
		uid:       euid,
		gid:       egid,
		useChroot: useChroot,
	}, nil
}

// dropPrivileges switches the effective gid then uid.
func dropPrivileges(uid, gid uint32) error {
	if gid != uint32(unix.Getegid()) {
		if err := syscall.Setegid(int(gid)); err != nil {
			return fmt.Errorf("daemon: setegid %d: %w", gid, err)
		}
	}
	if uid != uint32(unix.Geteuid()) {
		if err := syscall.Seteuid(int(uid)); err != nil {
			return fmt.Errorf("daemon: seteuid %d: %w", uid, err)
		}
	}
	return nil
}

// Restore undoes the transitions in LIFO order. The acquisition went
// chroot/chdir, setegid, seteuid; the release reverses it: seteuid
// first (the saved euid is what re-grants the privilege the later
// steps need), then setegid, then escape the chroot via the saved
// root fd, then the saved working dir. Safe to call more than once.
func (p *PrivilegeContext) Restore() {
	if p == nil || p.restored {
		return
	}
	p.restored = true

	syscall.Seteuid(int(p.uid))
	syscall.Setegid(int(p.gid))
	if p.useChroot {
		unix.Fchdir(int(p.root.Fd()))
		unix.Chroot(".")
	}
	unix.Fchdir(int(p.cwd.Fd()))

	p.root.Close()
	p.cwd.Close()
}
