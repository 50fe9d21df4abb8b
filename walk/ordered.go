// ordered.go - deterministic serial walker with skip-dir control
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

package walk

import (
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/oferchen/oc-rsync-sub000/fsx"
)

// SkipDir, returned from an EntryFunc for a directory, prevents the
// walker from descending into it.
var SkipDir = errors.New("walk: skip this directory")

// EntryFunc is called once per entry in walk order; 'rel' is the path
// relative to the walk root ("" for the root itself).
type EntryFunc func(rel string, fi *fsx.Info) error

// OrderedOptions control an Ordered walk.
type OrderedOptions struct {
	// Follow symlinks to directories.
	FollowSymlinks bool

	// Stay within the root's file system.
	OneFS bool
}

// Ordered walks the tree under 'root' depth first, lexicographically
// within each directory, directories before their contents. The walk
// order is deterministic for a given tree. An EntryFunc returning
// SkipDir on a directory skips its contents; any other error aborts
// the walk.
func Ordered(root string, opt OrderedOptions, fn EntryFunc) error {
	fi, err := fsx.Lstat(root)
	if err != nil {
		return &Error{"lstat", root, err}
	}

	if opt.FollowSymlinks && fi.Mode()&os.ModeSymlink != 0 {
		if fi, err = fsx.Stat(root); err != nil {
			return &Error{"stat", root, err}
		}
	}

	if err := fn("", fi); err != nil {
		if err == SkipDir {
			return nil
		}
		return err
	}
	if !fi.IsDir() {
		return nil
	}
	return orderedDir(root, "", fi.Dev, opt, fn)
}

func orderedDir(dir, rel string, dev uint64, opt OrderedOptions, fn EntryFunc) error {
	names, err := readDir(dir)
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, nm := range names {
		fp := filepath.Join(dir, nm)
		fr := nm
		if rel != "" {
			fr = rel + "/" + nm
		}

		fi, err := fsx.Lstat(fp)
		if err != nil {
			return &Error{"lstat", fp, err}
		}

		isDir := fi.IsDir()
		if !isDir && opt.FollowSymlinks && fi.Mode()&os.ModeSymlink != 0 {
			if ti, err := fsx.Stat(fp); err == nil && ti.IsDir() {
				fi = ti
				isDir = true
			}
		}

		if isDir && opt.OneFS && fi.Dev != dev {
			continue
		}

		err = fn(fr, fi)
		if err == SkipDir {
			continue
		}
		if err != nil {
			return err
		}

		if isDir {
			if err := orderedDir(fp, fr, dev, opt, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
