// meta.go - capture and apply file metadata
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

// Package meta applies file metadata at the destination: permission
// bits (optionally edited by chmod rule lists), ownership (optionally
// id-mapped or name-resolved), timestamps and extended attributes,
// with a fake-super fallback that records privileged attributes in
// user.rsync.* xattrs when the process can't set them directly.
package meta

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/oferchen/oc-rsync-sub000/fsx"
)

// Options select which attributes Apply touches.
type Options struct {
	Perms         bool
	Executability bool
	Times         bool
	Atimes        bool
	OmitDirTimes  bool
	OmitLinkTimes bool
	Owner         bool
	Group         bool
	Xattrs        bool
	NumericIDs    bool

	// FakeSuper stores uid/gid/mode in user.rsync.* xattrs instead
	// of requiring privileges.
	FakeSuper bool
	// SuperUser asserts the process may set ownership directly.
	SuperUser bool

	// Chmod edits the permission bits before they are applied.
	Chmod []ChmodRule

	// UIDMap/GIDMap rewrite source ids; nil leaves them alone.
	UIDMap IDMapper
	GIDMap IDMapper

	// XattrFilter admits xattr names for copying; XattrFilterDelete
	// admits names for removal of stale destination attributes.
	XattrFilter       func(name string) bool
	XattrFilterDelete func(name string) bool
}

// NeedsMetadata reports whether Apply would do anything at all.
func (o *Options) NeedsMetadata() bool {
	return o.Perms || o.Executability || o.Times || o.Atimes ||
		o.Owner || o.Group || o.Xattrs || len(o.Chmod) > 0 || o.FakeSuper
}

// Metadata is a captured snapshot of one entry's attributes.
type Metadata struct {
	Mode  fs.FileMode
	Uid   uint32
	Gid   uint32
	Atime time.Time
	Mtime time.Time
	Xattr fsx.Xattr

	IsDir     bool
	IsSymlink bool
}

// FromPath captures the metadata of 'path' (without following a
// symlink).
func FromPath(path string) (*Metadata, error) {
	fi, err := fsx.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	return FromInfo(fi), nil
}

// FromInfo captures metadata from an already stat'd entry.
func FromInfo(fi *fsx.Info) *Metadata {
	return &Metadata{
		Mode:      fi.Mod,
		Uid:       fi.Uid,
		Gid:       fi.Gid,
		Atime:     fi.Atim,
		Mtime:     fi.Mtim,
		Xattr:     fi.Xattr,
		IsDir:     fi.IsDir(),
		IsSymlink: fi.Mod&fs.ModeSymlink != 0,
	}
}

// Apply installs the selected attributes of md on 'dest'. Attribute
// order matters: xattrs first, then ownership, then permissions (so
// a chown can't strip freshly applied setuid bits), times last.
func (md *Metadata) Apply(dest string, opts Options) error {
	if opts.Xattrs {
		if err := md.applyXattrs(dest, opts); err != nil {
			return err
		}
	}

	fakeSuper := opts.FakeSuper && !opts.SuperUser

	if opts.Owner || opts.Group {
		uid, gid := md.mappedIDs(opts)
		if fakeSuper {
			storeFakeSuper(dest, uid, gid, uint32(md.Mode.Perm())|extraModeBits(md.Mode))
		} else if err := chown(dest, uid, gid, opts); err != nil {
			return err
		}
	}

	if opts.Perms || len(opts.Chmod) > 0 || opts.Executability {
		if md.IsSymlink {
			// symlink permission bits are not a thing on linux
		} else {
			mode := uint32(md.Mode.Perm()) | extraModeBits(md.Mode)
			if len(opts.Chmod) > 0 {
				mode = ApplyChmod(opts.Chmod, mode, md.IsDir)
			}
			if !opts.Perms && opts.Executability && !md.IsDir {
				// only reconcile the x bits with the dest
				if st, err := os.Stat(dest); err == nil {
					cur := uint32(st.Mode().Perm())
					if mode&0o100 != 0 {
						cur |= (cur & 0o444) >> 2
					} else {
						cur &^= 0o111
					}
					mode = cur
				}
			}
			if err := setMode(dest, mode, fakeSuper); err != nil {
				return err
			}
		}
	}

	if opts.Times {
		if md.IsDir && opts.OmitDirTimes {
			return nil
		}
		if md.IsSymlink && opts.OmitLinkTimes {
			return nil
		}
		atime := md.Atime
		if !opts.Atimes {
			atime = time.Time{}
		}
		if err := setTimes(dest, atime, md.Mtime, md.IsSymlink); err != nil {
			return err
		}
	}
	return nil
}

func (md *Metadata) mappedIDs(opts Options) (uint32, uint32) {
	uid, gid := md.Uid, md.Gid
	if opts.UIDMap != nil {
		uid = opts.UIDMap(uid)
	}
	if opts.GIDMap != nil {
		gid = opts.GIDMap(gid)
	}
	return uid, gid
}

func extraModeBits(m fs.FileMode) uint32 {
	var x uint32
	if m&fs.ModeSetuid != 0 {
		x |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		x |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		x |= 0o1000
	}
	return x
}

func setMode(dest string, mode uint32, fakeSuper bool) error {
	err := os.Chmod(dest, fs.FileMode(mode&0o777)|specialBits(mode))
	if err != nil && fakeSuper {
		storeFakeSuperMode(dest, mode)
		return nil
	}
	if err != nil {
		return fmt.Errorf("meta: chmod %s: %w", dest, err)
	}
	return nil
}

func specialBits(mode uint32) fs.FileMode {
	var m fs.FileMode
	if mode&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if mode&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if mode&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	return m
}

func (md *Metadata) applyXattrs(dest string, opts Options) error {
	want := make(fsx.Xattr, len(md.Xattr))
	for k, v := range md.Xattr {
		if !opts.FakeSuper && strings.HasPrefix(k, fakeSuperPrefix) {
			continue
		}
		if opts.XattrFilter != nil && !opts.XattrFilter(k) {
			continue
		}
		want[k] = v
	}

	// drop stale destination attributes the filter lets us touch
	have, err := fsx.LgetXattr(dest)
	if err == nil {
		for k := range have {
			if _, ok := want[k]; ok {
				continue
			}
			if strings.HasPrefix(k, fakeSuperPrefix) {
				continue
			}
			if opts.XattrFilterDelete != nil && !opts.XattrFilterDelete(k) {
				continue
			}
			if err := fsx.DelXattr(dest, k); err != nil {
				return fmt.Errorf("meta: xattr del %s: %w", dest, err)
			}
		}
	}

	if md.IsSymlink {
		if err := fsx.LsetXattr(dest, want); err != nil {
			return fmt.Errorf("meta: xattr %s: %w", dest, err)
		}
		return nil
	}
	if err := fsx.SetXattr(dest, want); err != nil {
		return fmt.Errorf("meta: xattr %s: %w", dest, err)
	}
	return nil
}
