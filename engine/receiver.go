// receiver.go - materialize incoming deltas at the destination
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
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oferchen/oc-rsync-sub000/compress"
	"github.com/oferchen/oc-rsync-sub000/delta"
	"github.com/oferchen/oc-rsync-sub000/filter"
	"github.com/oferchen/oc-rsync-sub000/fsx"
	"github.com/oferchen/oc-rsync-sub000/meta"
	"github.com/oferchen/oc-rsync-sub000/protocol"
)

// ReceiverState is the single-shot lifecycle of a Receiver.
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverApplying
	ReceiverFinished
)

type delayedUpdate struct {
	src  string
	tmp  string
	dest string
}

// ProgressFunc observes apply progress: bytes written so far and the
// expected final length.
type ProgressFunc func(dest string, written, total uint64)

// Receiver applies op streams to the destination tree: temp and
// partial file management, atomic renames, delayed updates, hard
// links and metadata restoration.
type Receiver struct {
	state    ReceiverState
	codec    compress.Codec
	hasCodec bool
	opts     SyncOptions

	matcher *filter.Matcher
	skipSet map[string]bool

	delayed  []delayedUpdate
	links    *hardlinker
	progress ProgressFunc
}

// NewReceiver builds a receiver; 'codec' nil means uncompressed
// literals.
func NewReceiver(codec *compress.Codec, opts SyncOptions) *Receiver {
	r := &Receiver{
		opts:    opts,
		links:   newHardlinker(),
		skipSet: compress.SkipSet(opts.SkipCompress),
	}
	if codec != nil {
		r.codec = *codec
		r.hasCodec = true
	}
	return r
}

// SetMatcher installs the session matcher used for xattr filtering.
func (r *Receiver) SetMatcher(m *filter.Matcher) {
	r.matcher = m
}

// SetProgress installs the progress observer.
func (r *Receiver) SetProgress(fn ProgressFunc) {
	r.progress = fn
}

// TrackHardLink registers 'dest' for the source inode; true means
// the path will be linked by Finalize and needs no transfer.
func (r *Receiver) TrackHardLink(src *fsx.Info, dest string) bool {
	if !r.opts.HardLinks {
		return false
	}
	return r.links.track(src, dest)
}

// Apply materializes one op stream. It returns the path the data
// ended up at: the destination for immediate updates, the staging
// file for delayed ones.
func (r *Receiver) Apply(src, dest, rel string, ops []delta.Op) (string, error) {
	r.state = ReceiverApplying

	dest = strings.TrimRight(dest, string(filepath.Separator))
	if st, err := os.Stat(dest); err == nil && st.IsDir() {
		if rel != "" {
			dest = filepath.Join(dest, strings.TrimRight(rel, "/"))
		} else {
			dest = filepath.Join(dest, filepath.Base(src))
		}
	}

	var srcLen int64
	if st, err := os.Stat(src); err == nil {
		srcLen = st.Size()
	}

	partial, basenamePartial := partialPaths(dest, r.opts.PartialDir)
	existingPartial := ""
	if st, err := os.Stat(partial); err == nil && st.Size() < srcLen {
		existingPartial = partial
	} else if basenamePartial != "" {
		if st, err := os.Stat(basenamePartial); err == nil && st.Size() < srcLen {
			existingPartial = basenamePartial
		}
	}

	resumable := r.opts.Partial || r.opts.Append || r.opts.AppendVerify

	if (r.opts.Append || r.opts.AppendVerify) && existingPartial == "" {
		if _, err := os.Lstat(dest); err != nil {
			return "", ioContext(dest, err)
		}
	}

	// pick the basis the op stream refers to
	basisPath := dest
	if r.opts.Inplace {
		basisPath = dest
	} else if resumable && existingPartial != "" {
		basisPath = existingPartial
	}

	destParent := filepath.Dir(dest)
	if err := os.MkdirAll(destParent, 0o755); err != nil {
		return "", ioContext(destParent, err)
	}

	// pick the write target
	autoTmp := false
	var target string
	switch {
	case r.opts.Inplace || r.opts.WriteDevices || r.opts.Append || r.opts.AppendVerify:
		target = dest
		if (r.opts.Append || r.opts.AppendVerify) && existingPartial != "" {
			if _, err := os.Lstat(dest); err != nil {
				target = existingPartial
			}
		}

	case r.opts.TempDir != "":
		tmpParent := r.opts.TempDir
		if !sameDevice(destParent, r.opts.TempDir) {
			tmpParent = destParent
			autoTmp = true
		}
		if err := os.MkdirAll(tmpParent, 0o755); err != nil {
			return "", ioContext(tmpParent, err)
		}
		target = tmpFilePath(tmpParent, dest)

	case r.opts.Partial && existingPartial != "":
		target = existingPartial

	case r.opts.Partial:
		target = partial

	default:
		// neither inplace nor partial: a hidden temp protects the
		// destination from ever being half-written
		autoTmp = true
		target = tmpFilePath(destParent, dest)
	}

	needsRename := target != dest
	if r.opts.DelayUpdates && !r.opts.Inplace && !r.opts.WriteDevices {
		if target == dest {
			target = tmpFilePath(destParent, dest)
		}
		needsRename = true
	}

	// the guard only covers hidden temps; a partial must survive an
	// interrupted transfer so the next run can resume from it
	var guard *TempFileGuard
	if needsRename && target != partial && target != existingPartial {
		guard = NewTempFileGuard(target)
	}
	defer guard.Release()

	cfg := r.opts.checksumConfig()
	blockSize := r.opts.BlockSize
	if blockSize <= 0 {
		blockSize = delta.BlockSize(srcLen)
	}

	// resume offset: append trusts the existing length,
	// append-verify resumes only past verified blocks; a --partial
	// resume starts at 0 with the partial file as the delta basis
	var resume int64
	if r.opts.Append || r.opts.AppendVerify {
		resumeBasis := dest
		if existingPartial != "" {
			resumeBasis = existingPartial
		}
		if r.opts.Append {
			if st, err := os.Stat(resumeBasis); err == nil {
				resume = st.Size()
			}
		} else {
			var err error
			resume, err = delta.LastGoodBlock(cfg, src, resumeBasis, blockSize)
			if err != nil {
				return "", err
			}
		}
		if resume > srcLen {
			resume = srcLen
		}
	}

	// refuse to clobber a device node unless asked to
	checkPath := target
	if autoTmp {
		checkPath = dest
	}
	if !r.opts.WriteDevices {
		if st, err := os.Lstat(checkPath); err == nil && st.Mode()&fs.ModeDevice != 0 {
			if r.opts.CopyDevices {
				if err := os.Remove(checkPath); err != nil {
					return "", ioContext(checkPath, err)
				}
			} else {
				return "", &ExitError{Code: protocol.ExitFileIo,
					Msg: "refusing to write to device; use --write-devices"}
			}
		}
	}

	basis, err := r.openBasis(basisPath, target)
	if err != nil {
		return "", err
	}

	out, err := r.openTarget(target)
	if err != nil {
		return "", err
	}

	fileCodec := r.hasCodec && compress.ShouldCompress(src, r.skipSet)
	var destLen uint64
	for i := range ops {
		if ops[i].Kind == delta.Data && fileCodec {
			d, err := r.codec.Decompress(ops[i].Data)
			if err != nil {
				out.Close()
				return "", err
			}
			ops[i].Data = d
		}
		if ops[i].Kind == delta.Data {
			destLen += uint64(len(ops[i].Data))
		} else {
			destLen += uint64(ops[i].Len)
		}
	}
	destLen += uint64(resume)

	if !r.opts.WriteDevices {
		if err := out.Truncate(resume); err != nil {
			out.Close()
			return "", ioContext(target, err)
		}
		if _, err := out.Seek(resume, io.SeekStart); err != nil {
			out.Close()
			return "", ioContext(target, err)
		}
		if r.opts.Preallocate {
			if err := fsx.Preallocate(out, int64(destLen)); err != nil {
				out.Close()
				return "", ioContext(target, err)
			}
		}
	}

	var w io.Writer = out
	if r.opts.Sparse && !r.opts.WriteDevices && !r.opts.Inplace {
		// zero runs become seeks; the truncate below gives a
		// trailing hole its length
		w = &sparseWriter{f: out}
	}
	if r.progress != nil {
		w = &progressWriter{w: w, dest: dest, total: destLen,
			written: uint64(resume), fn: r.progress}
	}

	if err := delta.Apply(basis, ops, w); err != nil {
		out.Close()
		return "", err
	}

	if !r.opts.WriteDevices {
		pos, err := out.Seek(0, io.SeekCurrent)
		if err == nil {
			err = out.Truncate(pos)
		}
		if err != nil {
			out.Close()
			return "", ioContext(target, err)
		}
	}
	if r.opts.Fsync {
		if err := out.Sync(); err != nil {
			out.Close()
			return "", ioContext(target, err)
		}
	}
	if err := out.Close(); err != nil {
		return "", ioContext(target, err)
	}

	final := dest
	if needsRename {
		if r.opts.DelayUpdates {
			r.delayed = append(r.delayed, delayedUpdate{src: src, tmp: target, dest: dest})
			guard.Disarm()
			final = target
		} else {
			if err := atomicRename(target, dest); err != nil {
				return "", err
			}
			guard.Disarm()
			if r.opts.Partial || r.opts.PartialDir != "" {
				if partial != target {
					os.Remove(partial)
				}
			}
			cleanupEmptyTempDir(target, dest)
			removeBasenamePartial(dest)
		}
	}

	if err := r.applyCopyAs(final); err != nil {
		return "", err
	}

	r.state = ReceiverFinished
	return final, nil
}

// openBasis opens the file the op stream's Copy ops refer to. When
// the basis and the write target are the same file, the basis is
// buffered in memory so Copy ops can't read freshly written bytes.
func (r *Receiver) openBasis(basisPath, target string) (io.ReadSeeker, error) {
	st, err := os.Lstat(basisPath)
	if err != nil || st.Mode()&fs.ModeDevice != 0 {
		return bytes.NewReader(nil), nil
	}

	if err := r.ensureMaxAlloc(uint64(st.Size())); err != nil {
		return nil, err
	}

	if basisPath == target {
		data, err := os.ReadFile(basisPath)
		if err != nil {
			return bytes.NewReader(nil), nil
		}
		return bytes.NewReader(data), nil
	}

	f, err := os.Open(basisPath)
	if err != nil {
		return bytes.NewReader(nil), nil
	}
	return f, nil
}

func (r *Receiver) openTarget(target string) (*os.File, error) {
	if r.opts.WriteDevices {
		f, err := os.OpenFile(target, os.O_WRONLY, 0)
		if err != nil {
			return nil, ioContext(target, err)
		}
		return f, nil
	}
	f, err := os.OpenFile(target, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, ioContext(target, err)
	}
	return f, nil
}

func (r *Receiver) ensureMaxAlloc(need uint64) error {
	if r.opts.MaxAlloc > 0 && need > r.opts.MaxAlloc {
		return &ExitError{Code: protocol.ExitMalloc,
			Msg: fmt.Sprintf("allocation of %d bytes exceeds --max-alloc=%d", need, r.opts.MaxAlloc)}
	}
	return nil
}

func (r *Receiver) applyCopyAs(path string) error {
	if r.opts.CopyAs == nil {
		return nil
	}
	uid, gid := -1, -1
	if r.opts.CopyAs.Uid != nil {
		uid = int(*r.opts.CopyAs.Uid)
	}
	if r.opts.CopyAs.Gid != nil {
		gid = int(*r.opts.CopyAs.Gid)
	}
	if err := os.Lchown(path, uid, gid); err != nil {
		return ioContext(path, err)
	}
	return nil
}

// CopyMetadata records or applies metadata intent for 'dest'.
// Delayed updates defer the application to Finalize.
func (r *Receiver) CopyMetadata(src, dest string) error {
	for _, d := range r.delayed {
		if d.dest == dest {
			return nil
		}
	}
	return r.CopyMetadataNow(src, dest)
}

// CopyMetadataNow applies the selected attributes of 'src' on 'dest'
// immediately.
func (r *Receiver) CopyMetadataNow(src, dest string) error {
	mopts := r.metaOptions()
	if !mopts.NeedsMetadata() {
		return nil
	}

	if r.opts.WriteDevices && !r.opts.Devices {
		if st, err := os.Lstat(dest); err == nil && st.Mode()&fs.ModeDevice != 0 {
			return nil
		}
	}

	md, err := meta.FromPath(src)
	if err != nil {
		return err
	}
	return md.Apply(dest, mopts)
}

func (r *Receiver) metaOptions() meta.Options {
	mopts := meta.Options{
		Perms:         r.opts.Perms,
		Executability: r.opts.Executability,
		Times:         r.opts.Times,
		Atimes:        r.opts.Atimes,
		OmitDirTimes:  r.opts.OmitDirTimes,
		OmitLinkTimes: r.opts.OmitLinkTimes,
		Owner:         r.opts.Owner,
		Group:         r.opts.Group,
		NumericIDs:    r.opts.NumericIDs,
		FakeSuper:     r.opts.FakeSuper,
		SuperUser:     r.opts.SuperUser,
		Chmod:         r.opts.Chmod,
		UIDMap:        r.opts.UIDMap,
		GIDMap:        r.opts.GIDMap,
		Xattrs:        r.opts.Xattrs || (r.opts.FakeSuper && !r.opts.SuperUser),
	}

	if r.opts.Chown != nil {
		if u := r.opts.Chown.Uid; u != nil && mopts.UIDMap == nil {
			uid := *u
			mopts.UIDMap = func(uint32) uint32 { return uid }
		}
		if g := r.opts.Chown.Gid; g != nil && mopts.GIDMap == nil {
			gid := *g
			mopts.GIDMap = func(uint32) uint32 { return gid }
		}
	}

	if m := r.matcher; m != nil {
		mopts.XattrFilter = func(name string) bool {
			ok, err := m.IsXattrIncluded(name)
			return err == nil && ok
		}
		mopts.XattrFilterDelete = func(name string) bool {
			ok, err := m.IsXattrIncludedForDelete(name)
			return err == nil && ok
		}
	}
	return mopts
}

// Finalize drains delayed updates in insertion order, resolves the
// hard-link classes and applies deferred metadata.
func (r *Receiver) Finalize() error {
	delayed := r.delayed
	r.delayed = nil
	for _, d := range delayed {
		if err := atomicRename(d.tmp, d.dest); err != nil {
			return err
		}
		cleanupEmptyTempDir(d.tmp, d.dest)
		removeBasenamePartial(d.dest)
		if err := r.applyCopyAs(d.dest); err != nil {
			return err
		}
		if err := r.CopyMetadataNow(d.src, d.dest); err != nil {
			return err
		}
	}
	if err := r.links.finalize(); err != nil {
		return err
	}
	r.state = ReceiverFinished
	return nil
}

type progressWriter struct {
	w       io.Writer
	dest    string
	total   uint64
	written uint64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += uint64(n)
	p.fn(p.dest, p.written, p.total)
	return n, err
}

func sameDevice(a, b string) bool {
	ai, err1 := fsx.Lstat(a)
	bi, err2 := fsx.Lstat(b)
	if err1 != nil || err2 != nil {
		return true
	}
	return ai.IsSameFS(bi)
}
