// walk.go - concurrent fs-walker
//
// (c) 2022- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Package walk traverses file system trees for the transfer engine.
// The concurrent walker feeds the counting pre-pass where order does
// not matter; the ordered walker drives the session itself where
// deterministic order and skip-dir control do.
package walk

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/oferchen/oc-rsync-sub000/fsx"
)

// Type is a bit mask of the entry types returned to the caller.
type Type uint

const (
	FILE    Type = 1 << iota // regular file
	DIR                      // directory
	SYMLINK                  // symbolic link
	DEVICE                   // device special file (blk and char)
	SPECIAL                  // other special files

	// short cut for "give me all entries"
	ALL = FILE | DIR | SYMLINK | DEVICE | SPECIAL
)

// Options control the behavior of the file system walk.
type Options struct {
	// Number of go-routines to use; 0 means all available cpus.
	Concurrency int

	// Follow symlinks if set.
	FollowSymlinks bool

	// Stay within the same file system.
	OneFS bool

	// Suppress entries whose inode was already output (hard links).
	IgnoreDuplicateInode bool

	// Types of entries to return.
	Type Type

	// Excludes is a list of shell-glob patterns matched against the
	// basename; matching entries are not output and directories are
	// not descended.
	Excludes []string

	// Filter is an optional caller provided callback; returning true
	// drops the entry from further traversal.
	Filter func(fi *fsx.Info) (bool, error)
}

var typMap = map[Type]os.FileMode{
	FILE:    0,
	DIR:     os.ModeDir,
	SYMLINK: os.ModeSymlink,
	DEVICE:  os.ModeDevice | os.ModeCharDevice,
	SPECIAL: os.ModeNamedPipe | os.ModeSocket,
}

var strMap = map[Type]string{
	FILE:    "File",
	DIR:     "Dir",
	SYMLINK: "Symlink",
	DEVICE:  "Device",
	SPECIAL: "Special",
}

func (t Type) String() string {
	var z []string
	for k, v := range strMap {
		if (k & t) > 0 {
			z = append(z, v)
		}
	}
	return strings.Join(z, "|")
}

// internal walk state
type walkState struct {
	Options
	ch    chan string
	errch chan error

	// type mask for output filtering
	typ os.FileMode

	// one count per directory still being processed
	dirWg sync.WaitGroup

	// worker goroutines
	wg sync.WaitGroup

	filterName func(nm string) bool
	singlefs   func(fi *fsx.Info) bool
	apply      func(fi *fsx.Info)

	// tracks device ids to detect mount-point crossings
	fs  sync.Map
	ino sync.Map
}

// Walk traverses 'names' concurrently and streams matching entries on
// the returned channel; errors arrive on the second channel. The
// caller must drain both.
func Walk(names []string, opt Options) (chan *fsx.Info, chan error) {
	if opt.Concurrency <= 0 {
		opt.Concurrency = runtime.NumCPU()
	}

	out := make(chan *fsx.Info, opt.Concurrency)
	d := newWalkState(opt)
	d.apply = func(fi *fsx.Info) {
		out <- fi
	}

	d.doWalk(names)

	go func() {
		d.dirWg.Wait()
		close(d.ch)
		close(out)
		close(d.errch)
		d.wg.Wait()
	}()

	return out, d.errch
}

// WalkFunc traverses 'names' concurrently and calls 'fn' for each
// matching entry. 'fn' is called from multiple goroutines.
func WalkFunc(names []string, opt Options, fn func(fi *fsx.Info) error) error {
	if opt.Concurrency <= 0 {
		opt.Concurrency = runtime.NumCPU()
	}

	d := newWalkState(opt)
	d.apply = func(fi *fsx.Info) {
		if err := fn(fi); err != nil {
			d.errch <- err
		}
	}

	d.doWalk(names)

	var errWg sync.WaitGroup
	var errs []error

	errWg.Add(1)
	go func(in chan error) {
		for e := range in {
			errs = append(errs, e)
		}
		errWg.Done()
	}(d.errch)

	d.dirWg.Wait()
	close(d.ch)
	close(d.errch)
	errWg.Wait()
	d.wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func newWalkState(opt Options) *walkState {
	d := &walkState{
		Options: opt,
		ch:      make(chan string, opt.Concurrency),
		errch:   make(chan error, opt.Concurrency),

		filterName: func(_ string) bool { return false },
		singlefs:   func(_ *fsx.Info) bool { return true },
	}

	if len(d.Excludes) > 0 {
		d.filterName = d.exclude
	}
	if d.OneFS {
		d.singlefs = d.isSingleFS
	}
	if d.Filter == nil {
		d.Filter = func(_ *fsx.Info) (bool, error) { return false, nil }
	}

	t := d.Type
	for k, v := range typMap {
		if (t & k) > 0 {
			d.typ |= v
		}
	}

	d.wg.Add(d.Concurrency)
	for i := 0; i < d.Concurrency; i++ {
		go d.worker()
	}
	return d
}

// seed the workers with the top level entries
func (d *walkState) doWalk(names []string) {
	dirs := make([]string, 0, len(names))
	for i := range names {
		nm := strings.TrimSuffix(names[i], "/")
		if len(nm) == 0 {
			nm = "/"
		}

		if d.filterName(nm) {
			continue
		}

		fi, err := fsx.Lstat(nm)
		if err != nil {
			d.error(&Error{"lstat", nm, err})
			continue
		}

		if d.isEntrySeen(fi) {
			continue
		}

		skip, err := d.Filter(fi)
		if err != nil {
			d.error(&Error{"filter", nm, err})
			continue
		}
		if skip {
			continue
		}

		m := fi.Mode()
		switch {
		case m.IsDir():
			if d.OneFS {
				d.trackFS(fi)
			}
			dirs = append(dirs, nm)

		case (m & os.ModeSymlink) > 0:
			dirs = d.doSymlink(fi, dirs)

		default:
			d.output(fi)
		}
	}

	d.enq(dirs)
}

func (d *walkState) worker() {
	for nm := range d.ch {
		fi, err := fsx.Lstat(nm)
		if err != nil {
			d.error(&Error{"lstat-wrk", nm, err})
			d.dirWg.Done()
			continue
		}

		// we are _sure_ this is a dir; a dir is always output
		// before its contents.
		d.output(fi)
		d.walkPath(nm)

		// decrement only after walkPath has queued the subdirs;
		// doing it earlier races the workers to a premature exit.
		d.dirWg.Done()
	}

	d.wg.Done()
}

func (d *walkState) output(fi *fsx.Info) {
	m := fi.Mode()

	// regular files have no mode bit; everyone else consults the map
	if (d.typ&m) > 0 || ((d.Type&FILE) > 0 && m.IsRegular()) {
		d.apply(fi)
	}
}

func (d *walkState) exclude(nm string) bool {
	bn := path.Base(nm)
	for _, pat := range d.Excludes {
		ok, err := path.Match(pat, bn)
		if err != nil {
			d.error(&Error{"exclude-glob", nm, fmt.Errorf("'%s': %w", pat, err)})
		} else if ok {
			return true
		}
	}
	return false
}

// enqueue dirs from a separate goroutine so a full channel doesn't
// deadlock the worker that found them.
func (d *walkState) enq(dirs []string) {
	if len(dirs) > 0 {
		d.dirWg.Add(len(dirs))
		go func(dirs []string) {
			for _, nm := range dirs {
				d.ch <- nm
			}
		}(dirs)
	}
}

func readDir(nm string) ([]string, error) {
	fd, err := os.Open(nm)
	if err != nil {
		return nil, &Error{"readdir", nm, err}
	}
	defer fd.Close()

	names, err := fd.Readdirnames(-1)
	if err != nil {
		return nil, &Error{"readdirnames", nm, err}
	}
	return names, nil
}

func (d *walkState) walkPath(nm string) {
	names, err := readDir(nm)
	if err != nil {
		d.error(err)
		return
	}

	// joined paths shouldn't look like '//file'
	if nm == "/" {
		nm = ""
	}

	dirs := make([]string, 0, len(names)/2)
	for i := range names {
		// filepath.Join would "clean" a deliberate leading dot
		fp := fmt.Sprintf("%s/%s", nm, names[i])

		if d.filterName(fp) {
			continue
		}

		fi, err := fsx.Lstat(fp)
		if err != nil {
			d.error(&Error{"lstat", fp, err})
			continue
		}

		if d.isEntrySeen(fi) {
			continue
		}

		skip, err := d.Filter(fi)
		if err != nil {
			d.error(&Error{"filter", fp, err})
			continue
		}
		if skip {
			continue
		}

		m := fi.Mode()
		switch {
		case m.IsDir():
			if d.singlefs(fi) {
				dirs = append(dirs, fp)
			}

		case (m & os.ModeSymlink) > 0:
			dirs = d.doSymlink(fi, dirs)

		default:
			d.output(fi)
		}
	}

	d.enq(dirs)
}

// resolve a symlink and decide whether it leads to a dir we must
// descend; returns the possibly updated dirs list.
func (d *walkState) doSymlink(fi *fsx.Info, dirs []string) []string {
	if !d.FollowSymlinks {
		d.output(fi)
		return dirs
	}

	nm := fi.Path()
	newnm, err := filepath.EvalSymlinks(nm)
	if err != nil {
		d.error(&Error{"symlink", nm, err})
		return dirs
	}

	fi, err = fsx.Stat(newnm)
	if err != nil {
		d.error(&Error{"symlink-stat", newnm, err})
		return dirs
	}

	if !d.isEntrySeen(fi) {
		switch {
		case fi.Mode().IsDir():
			if d.singlefs(fi) {
				dirs = append(dirs, newnm)
			}
		default:
			d.output(fi)
		}
	}
	return dirs
}

// track inodes to detect loops and duplicate hard links
func (d *walkState) isEntrySeen(st *fsx.Info) bool {
	if !d.IgnoreDuplicateInode {
		return false
	}

	key := fmt.Sprintf("%d:%d:%d", st.Dev, st.Rdev, st.Ino)
	_, seen := d.ino.LoadOrStore(key, st)
	return seen
}

func (d *walkState) trackFS(fi *fsx.Info) {
	key := fmt.Sprintf("%d:%d", fi.Dev, fi.Rdev)
	d.fs.Store(key, fi)
}

func (d *walkState) isSingleFS(fi *fsx.Info) bool {
	key := fmt.Sprintf("%d:%d", fi.Dev, fi.Rdev)
	_, ok := d.fs.Load(key)
	return ok
}

func (d *walkState) error(e error) {
	d.errch <- e
}
