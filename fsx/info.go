// info.go - normalized stat info that also carries xattr
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

// Package fsx provides the file-system building blocks of the transfer
// engine: a normalized stat type that carries extended attributes, a
// temp-file abstraction with atomic rename, efficient whole-file copy,
// device node creation and binary marshaling of file metadata for the
// wire.
package fsx

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Info is the normalized metadata of one file system entry. It
// satisfies fs.FileInfo, carries xattr and can be marshaled into a
// portable byte stream for the attributes message of the wire
// protocol.
type Info struct {
	Ino  uint64
	Siz  int64
	Dev  uint64
	Rdev uint64

	Mod   fs.FileMode
	Uid   uint32
	Gid   uint32
	Nlink uint32

	Atim time.Time
	Mtim time.Time
	Ctim time.Time

	path  string
	Xattr Xattr
}

var _ fs.FileInfo = &Info{}

// Stat is like os.Stat but also gathers xattr.
func Stat(nm string) (*Info, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(nm, &st); err != nil {
		return nil, err
	}

	x, err := GetXattr(nm)
	if err != nil {
		return nil, err
	}
	return makeInfo(nm, &st, x), nil
}

// Lstat is like os.Lstat but also gathers xattr; symlinks are not
// followed.
func Lstat(nm string) (*Info, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(nm, &st); err != nil {
		return nil, err
	}

	x, err := LgetXattr(nm)
	if err != nil {
		return nil, err
	}
	return makeInfo(nm, &st, x), nil
}

// Fstat is like os.File.Stat but also gathers xattr.
func Fstat(fd *os.File) (*Info, error) {
	return Lstat(fd.Name())
}

func makeInfo(nm string, st *syscall.Stat_t, x Xattr) *Info {
	return &Info{
		Ino:   st.Ino,
		Siz:   st.Size,
		Dev:   st.Dev,
		Rdev:  st.Rdev,
		Mod:   modeFromStat(st),
		Uid:   st.Uid,
		Gid:   st.Gid,
		Nlink: uint32(st.Nlink),
		Atim:  ts2time(st.Atim),
		Mtim:  ts2time(st.Mtim),
		Ctim:  ts2time(st.Ctim),
		path:  nm,
		Xattr: x,
	}
}

func modeFromStat(st *syscall.Stat_t) fs.FileMode {
	m := fs.FileMode(st.Mode & 0777)
	switch st.Mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		m |= fs.ModeDir
	case syscall.S_IFLNK:
		m |= fs.ModeSymlink
	case syscall.S_IFBLK:
		m |= fs.ModeDevice
	case syscall.S_IFCHR:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case syscall.S_IFIFO:
		m |= fs.ModeNamedPipe
	case syscall.S_IFSOCK:
		m |= fs.ModeSocket
	}
	if st.Mode&syscall.S_ISUID > 0 {
		m |= fs.ModeSetuid
	}
	if st.Mode&syscall.S_ISGID > 0 {
		m |= fs.ModeSetgid
	}
	if st.Mode&syscall.S_ISVTX > 0 {
		m |= fs.ModeSticky
	}
	return m
}

// Clone makes a deep copy of ii.
func (ii *Info) Clone() *Info {
	jj := *ii
	jj.Xattr = make(Xattr, len(ii.Xattr))
	for k, v := range ii.Xattr {
		jj.Xattr[k] = v
	}
	return &jj
}

// String is a short human readable description of ii.
func (ii *Info) String() string {
	return fmt.Sprintf("%s: %d %d; %s; %s", ii.Name(), ii.Siz, ii.Nlink,
		ii.ModTime().UTC(), ii.Mode().String())
}

// Path returns the path ii was stat'd with.
func (ii *Info) Path() string {
	return ii.path
}

// SetPath sets the path to 'p'.
func (ii *Info) SetPath(p string) {
	ii.path = p
}

// LinkID is the identity used to recognize hard-linked entries: two
// paths with the same LinkID refer to the same inode.
func (ii *Info) LinkID() uint64 {
	return ii.Dev<<32 ^ ii.Ino
}

// IsSameFS returns true if a and b are entries on the same file
// system.
func (a *Info) IsSameFS(b *Info) bool {
	return a.Dev == b.Dev
}

// fs.FileInfo methods

func (ii *Info) Name() string       { return filepath.Base(ii.path) }
func (ii *Info) Size() int64        { return ii.Siz }
func (ii *Info) Mode() fs.FileMode  { return ii.Mod }
func (ii *Info) ModTime() time.Time { return ii.Mtim }
func (ii *Info) IsDir() bool        { return ii.Mod.IsDir() }
func (ii *Info) IsRegular() bool    { return ii.Mod.IsRegular() }

// Sys returns the Info itself.
func (ii *Info) Sys() any { return ii }

func ts2time(a syscall.Timespec) time.Time {
	return time.Unix(a.Sec, a.Nsec)
}
