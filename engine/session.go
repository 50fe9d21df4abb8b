// session.go - compose sender and receiver into one transfer
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

package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oferchen/oc-rsync-sub000/compress"
	"github.com/oferchen/oc-rsync-sub000/filter"
	"github.com/oferchen/oc-rsync-sub000/fsx"
	"github.com/oferchen/oc-rsync-sub000/protocol"
	"github.com/oferchen/oc-rsync-sub000/walk"
)

// SelectCodec picks the session codec: the user's preference list
// (or the default order) intersected with what the remote offers.
// nil means uncompressed.
func SelectCodec(remote []compress.Codec, opts *SyncOptions) *compress.Codec {
	if !opts.Compress || opts.CompressLevel < 0 {
		return nil
	}
	prefer := opts.CompressChoice
	if len(prefer) == 0 {
		prefer = compress.DefaultPreference
	}
	if c, ok := compress.Negotiate(prefer, remote); ok {
		return &c
	}
	return nil
}

// Sync copies 'src' to 'dst' under 'matcher' and 'opts' and reports
// what happened. 'remote' lists the codecs the other end accepts
// (engine callers running purely locally pass AllCodecs).
func Sync(src, dst string, matcher *filter.Matcher, remote []compress.Codec, opts *SyncOptions) (*Stats, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	stats := NewStats()
	start := time.Now()

	srcIsRemote := isRemoteSpec(src)
	dstIsRemote := isRemoteSpec(dst)

	srcRoot := src
	if !srcIsRemote {
		if canon, err := filepath.Abs(src); err == nil {
			srcRoot = canon
		}
	}

	var batchFile *os.File
	if opts.WriteBatch != "" {
		f, err := os.OpenFile(opts.WriteBatch, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			batchFile = f
			defer batchFile.Close()
		}
	}

	if !srcIsRemote {
		if _, err := os.Lstat(srcRoot); err != nil {
			return missingSource(src, dst, dstIsRemote, opts, stats)
		}
	}

	if opts.ListOnly {
		return stats, listOnly(srcRoot, matcher, opts)
	}

	codec := SelectCodec(remote, opts)
	matcher = matcher.Clone().WithRoot(srcRoot)
	if opts.NoImpliedDirs {
		matcher = matcher.WithNoImpliedDirs()
	}

	listStart := time.Now()
	if err := countEntries(srcRoot, matcher, opts, stats); err != nil {
		return stats, err
	}
	stats.FileListGenTime = time.Since(listStart)

	if opts.DryRun {
		if !dstIsRemote && opts.Delete != DeleteOff {
			if err := deleteExtraneous(srcRoot, dst, matcher, opts, stats, start); err != nil {
				return stats, err
			}
		}
		return stats, nil
	}

	// make sure the destination root exists
	if !opts.OnlyWriteBatch && !dstIsRemote {
		var dir string
		if fi, err := os.Stat(srcRoot); err == nil && !fi.IsDir() {
			dir = filepath.Dir(dst)
		} else if _, err := os.Stat(dst); err != nil {
			dir = dst
		}
		if dir != "" {
			if _, err := os.Stat(dir); err != nil {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return stats, ioContext(dir, err)
				}
				stats.FilesCreated++
				stats.DirsCreated++
			}
		}
	}

	sender := NewSender(matcher, codec, *opts)
	receiver := NewReceiver(codec, *opts)
	receiver.SetMatcher(matcher)

	if opts.ReadBatch != "" {
		err := runBatch(srcRoot, dst, sender, receiver, opts, stats)
		if err == nil {
			err = receiver.Finalize()
		}
		writeBatchSummary(batchFile, stats)
		return stats, err
	}

	if !dstIsRemote && opts.Delete == DeleteBefore {
		if err := deleteExtraneous(srcRoot, dst, matcher, opts, stats, start); err != nil {
			return stats, err
		}
	}

	sender.Start()
	err := walkTransfer(srcRoot, dst, dstIsRemote, matcher, sender, receiver, opts, stats, start)
	sender.Finish()
	if err != nil {
		return stats, err
	}
	if err := receiver.Finalize(); err != nil {
		return stats, err
	}

	if !dstIsRemote && (opts.Delete == DeleteDuring || opts.Delete == DeleteAfter || opts.Delete == DeleteDelay) {
		if err := deleteExtraneous(srcRoot, dst, matcher, opts, stats, start); err != nil {
			return stats, err
		}
	}

	writeBatchSummary(batchFile, stats)
	return stats, nil
}

// walkTransfer drives the ordered walk and hands admitted files to
// the sender.
func walkTransfer(srcRoot, dst string, dstIsRemote bool, matcher *filter.Matcher, sender *Sender, receiver *Receiver, opts *SyncOptions, stats *Stats, start time.Time) error {
	wopt := walk.OrderedOptions{
		FollowSymlinks: opts.WalkLinks(),
		OneFS:          opts.OneFileSystem,
	}

	return walk.Ordered(srcRoot, wopt, func(rel string, fi *fsx.Info) error {
		if err := checkTimeLimit(start, opts); err != nil {
			return err
		}
		if rel == "" {
			return nil
		}

		res, err := matcher.IsIncludedWithDir(rel)
		if err != nil {
			return err
		}
		if !res.Include {
			if fi.IsDir() && !res.Descend {
				return walk.SkipDir
			}
			return nil
		}

		destPath := filepath.Join(dst, rel)

		if fi.IsDir() {
			if opts.DirsOnly || !res.Descend {
				if !dstIsRemote {
					if err := os.MkdirAll(destPath, 0o755); err != nil {
						return ioContext(destPath, err)
					}
					if err := receiver.CopyMetadataNow(fi.Path(), destPath); err != nil {
						return err
					}
					stats.FilesCreated++
					stats.DirsCreated++
				}
				if !res.Descend || opts.DirsOnly {
					return walk.SkipDir
				}
				return nil
			}
			// the directory is recorded before any of its
			// contents so metadata intent exists first
			if !dstIsRemote {
				created := false
				if _, err := os.Stat(destPath); err != nil {
					created = true
				}
				if err := os.MkdirAll(destPath, 0o755); err != nil {
					return ioContext(destPath, err)
				}
				if err := receiver.CopyMetadataNow(fi.Path(), destPath); err != nil {
					return err
				}
				if created {
					stats.FilesCreated++
					stats.DirsCreated++
				}
			}
			return nil
		}

		if opts.DirsOnly {
			return nil
		}

		if fi.Mod&os.ModeSymlink != 0 && opts.Links && !opts.CopyLinks {
			if !dstIsRemote {
				os.Remove(destPath)
				if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
					return ioContext(destPath, err)
				}
				if err := cloneSymlink(destPath, fi.Path()); err != nil {
					return err
				}
				stats.FilesTransferred++
			}
			return nil
		}

		if fi.Mod&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket) != 0 {
			if !deviceWanted(fi, opts) {
				return nil
			}
			if !dstIsRemote {
				os.Remove(destPath)
				if err := fsx.Mknod(destPath, fi); err != nil {
					return err
				}
				if err := receiver.CopyMetadataNow(fi.Path(), destPath); err != nil {
					return err
				}
				stats.FilesTransferred++
			}
			return nil
		}

		if !fi.IsRegular() {
			return nil
		}

		if outsideSizeBounds(uint64(fi.Siz), opts) {
			return nil
		}

		xfer, err := sender.ProcessFile(fi.Path(), destPath, rel, receiver, stats)
		if err != nil {
			if opts.IgnoreErrors {
				opts.logf("warn", "skipping %s: %s", rel, err)
				return nil
			}
			return err
		}
		if xfer {
			stats.FilesTransferred++
			stats.BytesTransferred += uint64(fi.Siz)
		}
		return nil
	})
}

func deviceWanted(fi *fsx.Info, opts *SyncOptions) bool {
	if fi.Mod&os.ModeDevice != 0 {
		return opts.Devices || opts.CopyDevices
	}
	return opts.Specials
}

func cloneSymlink(dest, src string) error {
	targ, err := os.Readlink(src)
	if err != nil {
		return ioContext(src, err)
	}
	if err := os.Symlink(targ, dest); err != nil {
		return ioContext(dest, err)
	}
	return nil
}

// missingSource handles a source path that doesn't exist, per the
// delete-missing-args / ignore-missing-args toggles.
func missingSource(src, dst string, dstIsRemote bool, opts *SyncOptions, stats *Stats) (*Stats, error) {
	if opts.DeleteMissingArgs {
		if dstIsRemote {
			return stats, nil
		}
		st, err := os.Lstat(dst)
		if err != nil {
			return stats, nil
		}
		if opts.MaxDelete != nil && stats.FilesDeleted >= *opts.MaxDelete {
			return stats, ErrMaxDelete
		}

		var derr error
		if opts.Backup {
			derr = backupEntry(opts, dst, filepath.Base(dst))
		} else {
			derr = removeEntry(dst, st.IsDir(), opts)
		}
		if derr != nil {
			if !opts.IgnoreErrors {
				return stats, derr
			}
		} else {
			stats.FilesDeleted++
		}
		return stats, nil
	}

	if opts.IgnoreMissingArgs {
		return stats, nil
	}

	abs := src
	if !filepath.IsAbs(abs) {
		if wd, err := os.Getwd(); err == nil {
			abs = filepath.Join(wd, src)
		}
	}
	return stats, &ExitError{
		Code: protocol.ExitPartial,
		Msg: fmt.Sprintf("link_stat %q failed: No such file or directory (2); "+
			"some files/attrs were not transferred", abs),
	}
}

// listOnly prints the admitted tree instead of transferring it.
func listOnly(srcRoot string, matcher *filter.Matcher, opts *SyncOptions) error {
	matcher = matcher.Clone().WithRoot(srcRoot)
	wopt := walk.OrderedOptions{
		FollowSymlinks: opts.WalkLinks(),
		OneFS:          opts.OneFileSystem,
	}
	return walk.Ordered(srcRoot, wopt, func(rel string, fi *fsx.Info) error {
		if rel == "" {
			if !opts.Quiet {
				fmt.Println(".")
			}
			return nil
		}
		res, err := matcher.IsIncludedWithDir(rel)
		if err != nil {
			return err
		}
		if !res.Include {
			if fi.IsDir() {
				return walk.SkipDir
			}
			return nil
		}
		if fi.IsDir() {
			if !opts.Quiet {
				fmt.Printf("%s/\n", escapePath(rel, opts.EightBitOutput))
			}
			if !res.Descend {
				return walk.SkipDir
			}
			return nil
		}
		if opts.DirsOnly {
			return nil
		}
		if outsideSizeBounds(uint64(fi.Siz), opts) {
			return nil
		}
		if !opts.Quiet {
			fmt.Println(escapePath(rel, opts.EightBitOutput))
		}
		return nil
	})
}

// countEntries pre-walks the admitted tree to fill in the totals the
// progress reporting needs. Order doesn't matter here, so the
// concurrent walker does it.
func countEntries(srcRoot string, matcher *filter.Matcher, opts *SyncOptions, stats *Stats) error {
	var files, dirs, size fsxCounter

	err := walk.WalkFunc([]string{srcRoot}, walk.Options{
		Type:           walk.ALL,
		FollowSymlinks: opts.WalkLinks(),
		OneFS:          opts.OneFileSystem,
		Filter: func(fi *fsx.Info) (bool, error) {
			rel := relOf(srcRoot, fi.Path())
			if rel == "." {
				return false, nil
			}
			ok, err := matcher.IsIncluded(rel)
			return !ok, err
		},
	}, func(fi *fsx.Info) error {
		switch {
		case fi.IsDir():
			dirs.add(1)
		case fi.IsRegular():
			if outsideSizeBounds(uint64(fi.Siz), opts) {
				return nil
			}
			files.add(1)
			size.add(uint64(fi.Siz))
		default:
			files.add(1)
		}
		return nil
	})
	if err != nil {
		return err
	}

	stats.FilesTotal = int(files.get())
	stats.DirsTotal = int(dirs.get())
	stats.TotalFileSize = size.get()
	return nil
}

func checkTimeLimit(start time.Time, opts *SyncOptions) error {
	if opts.StopAfter > 0 && time.Since(start) >= opts.StopAfter {
		return ErrTimeout
	}
	if !opts.StopAt.IsZero() && !time.Now().Before(opts.StopAt) {
		return ErrTimeout
	}
	return nil
}

func outsideSizeBounds(n uint64, opts *SyncOptions) bool {
	if opts.MinSize != nil && n < *opts.MinSize {
		return true
	}
	if opts.MaxSize != nil && n > *opts.MaxSize {
		return true
	}
	return false
}

// runBatch replays the recorded relative paths of a batch file
// instead of walking the live tree.
func runBatch(srcRoot, dst string, sender *Sender, receiver *Receiver, opts *SyncOptions, stats *Stats) error {
	data, err := os.ReadFile(opts.ReadBatch)
	if err != nil {
		return ioContext(opts.ReadBatch, err)
	}

	sender.Start()
	defer sender.Finish()

	for _, line := range strings.Split(string(data), "\n") {
		rel := strings.TrimSpace(line)
		if rel == "" || strings.HasPrefix(rel, "#") || strings.Contains(rel, "=") {
			continue
		}
		path := filepath.Join(srcRoot, rel)
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		xfer, err := sender.ProcessFile(path, filepath.Join(dst, rel), rel, receiver, stats)
		if err != nil {
			return err
		}
		if xfer {
			stats.FilesTransferred++
			stats.BytesTransferred += uint64(fi.Size())
		}
	}
	return nil
}

func writeBatchSummary(f *os.File, stats *Stats) {
	if f == nil {
		return
	}
	fmt.Fprintf(f, "files_transferred=%d bytes_transferred=%d\n",
		stats.FilesTransferred, stats.BytesTransferred)
}

// PipeSessions shovels bytes between two remote endpoints and
// reports only volume.
func PipeSessions(src io.ReadWriter, dst io.ReadWriter) (*Stats, error) {
	stats := NewStats()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(src, dst)
		done <- err
	}()

	n, err := io.Copy(dst, src)
	if err != nil {
		return stats, err
	}
	if err := <-done; err != nil && err != io.EOF {
		return stats, err
	}

	stats.BytesTransferred = uint64(n)
	if n > 0 {
		stats.FilesTransferred = 1
	}
	return stats, nil
}

// isRemoteSpec recognizes "host:path" and "rsync://" source or
// destination specs.
func isRemoteSpec(path string) bool {
	if strings.HasPrefix(path, "rsync://") {
		return true
	}
	// a colon before the first separator marks a remote spec;
	// "./odd:name" stays local
	if i := strings.IndexByte(path, ':'); i > 0 {
		if j := strings.IndexByte(path, '/'); j < 0 || i < j {
			return true
		}
	}
	return false
}

// escapePath renders a path for output, escaping non-printable bytes
// unless 8-bit output was requested.
func escapePath(p string, eightBit bool) string {
	if eightBit {
		return p
	}
	var b strings.Builder
	for _, c := range []byte(p) {
		if c < 0x20 || c == 0x7f || c >= 0x80 {
			fmt.Fprintf(&b, "\\#%03o", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// fsxCounter is a tiny atomic counter for the concurrent count walk.
type fsxCounter struct {
	v atomic.Uint64
}

func (c *fsxCounter) add(n uint64) { c.v.Add(n) }
func (c *fsxCounter) get() uint64  { return c.v.Load() }
