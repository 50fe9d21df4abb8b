// sender.go - drive the delta codec over each admitted source file
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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oferchen/oc-rsync-sub000/compress"
	"github.com/oferchen/oc-rsync-sub000/delta"
	"github.com/oferchen/oc-rsync-sub000/filter"
	"github.com/oferchen/oc-rsync-sub000/fsx"
)

// SenderState is the single-shot lifecycle of a Sender.
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderWalking
	SenderFinished
)

// Sender walks the admitted source files and turns each into an op
// stream for the receiver.
type Sender struct {
	state    SenderState
	opts     SyncOptions
	matcher  *filter.Matcher
	codec    compress.Codec
	hasCodec bool
	skipSet  map[string]bool
}

// NewSender builds a sender; 'codec' nil sends literals uncompressed.
func NewSender(matcher *filter.Matcher, codec *compress.Codec, opts SyncOptions) *Sender {
	s := &Sender{
		opts:    opts,
		matcher: matcher,
		skipSet: compress.SkipSet(opts.SkipCompress),
	}
	if codec != nil {
		s.codec = *codec
		s.hasCodec = true
	}
	return s
}

// Start marks the walk as begun.
func (s *Sender) Start() {
	s.state = SenderWalking
}

// Finish marks the walk as complete; the state is absorbing.
func (s *Sender) Finish() {
	s.state = SenderFinished
}

// ProcessFile transfers one source file to 'destPath' via 'recv'.
// It returns false when the quick-skip checks decided no transfer
// was needed.
func (s *Sender) ProcessFile(src, destPath, rel string, recv *Receiver, stats *Stats) (bool, error) {
	srcInfo, err := fsx.Lstat(src)
	if err != nil {
		return false, ioContext(src, err)
	}

	skip, err := s.quickSkip(src, destPath, srcInfo)
	if err != nil {
		return false, err
	}
	if skip {
		return false, nil
	}

	// a later path of a hard-linked inode becomes a link, not data
	if recv.TrackHardLink(srcInfo, destPath) {
		return true, nil
	}

	// whole-file mode bypasses the codec entirely
	if s.opts.WholeFile && !s.opts.DryRun {
		if err := fsx.CopyFile(destPath, src, srcInfo.Mode().Perm()); err != nil {
			return false, err
		}
		if err := recv.CopyMetadata(src, destPath); err != nil {
			return false, err
		}
		if stats != nil {
			stats.LiteralData += uint64(srcInfo.Siz)
		}
		if s.opts.RemoveSourceFiles {
			if err := os.Remove(src); err != nil {
				return false, ioContext(src, err)
			}
		}
		return true, nil
	}

	ops, err := s.computeOps(src, destPath, srcInfo)
	if err != nil {
		return false, err
	}

	if stats != nil {
		for _, op := range ops {
			if op.Kind == delta.Data {
				stats.LiteralData += uint64(len(op.Data))
			} else {
				stats.MatchedData += uint64(op.Len)
			}
		}
	}

	if s.hasCodec && compress.ShouldCompress(src, s.skipSet) {
		for i := range ops {
			if ops[i].Kind != delta.Data {
				continue
			}
			d, err := s.codec.Compress(ops[i].Data, s.opts.CompressLevel)
			if err != nil {
				return false, err
			}
			ops[i].Data = d
		}
	}

	if _, err := recv.Apply(src, destPath, rel, ops); err != nil {
		return false, err
	}
	if err := recv.CopyMetadata(src, destPath); err != nil {
		return false, err
	}

	if s.opts.RemoveSourceFiles {
		if err := os.Remove(src); err != nil {
			return false, ioContext(src, err)
		}
	}
	return true, nil
}

// quickSkip implements the cheap no-transfer checks.
func (s *Sender) quickSkip(src, destPath string, srcInfo *fsx.Info) (bool, error) {
	dstInfo, dstErr := fsx.Lstat(destPath)
	dstExists := dstErr == nil

	if s.opts.IgnoreExisting && dstExists {
		return true, nil
	}
	if s.opts.Existing && !dstExists {
		return true, nil
	}
	if !dstExists {
		return false, nil
	}

	if s.opts.Update && dstInfo.Mtim.After(srcInfo.Mtim) {
		return true, nil
	}

	if s.opts.Checksum {
		same, err := s.sameStrongSum(src, destPath)
		if err != nil {
			return false, err
		}
		return same, nil
	}

	if s.opts.SizeOnly {
		return srcInfo.Siz == dstInfo.Siz, nil
	}
	if s.opts.IgnoreTimes {
		return false, nil
	}

	if srcInfo.Siz == dstInfo.Siz {
		dt := srcInfo.Mtim.Sub(dstInfo.Mtim)
		if dt < 0 {
			dt = -dt
		}
		if dt <= s.opts.ModifyWindow {
			return true, nil
		}
	}
	return false, nil
}

func (s *Sender) sameStrongSum(src, dst string) (bool, error) {
	cfg := s.opts.checksumConfig()

	srcBytes, err := os.ReadFile(src)
	if err != nil {
		return false, ioContext(src, err)
	}
	dstBytes, err := os.ReadFile(dst)
	if err != nil {
		return false, nil
	}
	return bytes.Equal(cfg.StrongSum(srcBytes), cfg.StrongSum(dstBytes)), nil
}

// computeOps produces the op stream for one file: a literal tail in
// append modes, the block-matching delta otherwise.
func (s *Sender) computeOps(src, destPath string, srcInfo *fsx.Info) ([]delta.Op, error) {
	cfg := s.opts.checksumConfig()
	blockSize := s.opts.BlockSize
	if blockSize <= 0 {
		blockSize = delta.BlockSize(srcInfo.Siz)
	}
	basisWindow := s.opts.BasisWindow
	if basisWindow <= 0 {
		basisWindow = delta.DefaultBasisWindow
	}

	if s.opts.Append || s.opts.AppendVerify {
		var resume int64
		if s.opts.Append {
			if st, err := os.Stat(destPath); err == nil {
				resume = st.Size()
			}
		} else {
			var err error
			resume, err = delta.LastGoodBlock(cfg, src, s.appendBasis(destPath), blockSize)
			if err != nil {
				return nil, err
			}
		}
		if resume > srcInfo.Siz {
			resume = srcInfo.Siz
		}

		f, err := os.Open(src)
		if err != nil {
			return nil, ioContext(src, err)
		}
		defer f.Close()
		if _, err := f.Seek(resume, io.SeekStart); err != nil {
			return nil, ioContext(src, err)
		}
		tail, err := io.ReadAll(f)
		if err != nil {
			return nil, ioContext(src, err)
		}
		if len(tail) == 0 {
			return nil, nil
		}
		return []delta.Op{{Kind: delta.Data, Data: tail}}, nil
	}

	srcFd, err := os.Open(src)
	if err != nil {
		return nil, ioContext(src, err)
	}
	defer srcFd.Close()

	var basis io.ReadSeeker
	basisPath := s.basisFor(destPath, srcInfo.Siz)
	if bf, err := os.Open(basisPath); err == nil {
		defer bf.Close()
		basis = bf
	} else {
		basis = bytes.NewReader(nil)
	}

	return delta.Compute(cfg, basis, srcFd, blockSize, basisWindow)
}

// basisFor picks the basis the receiver will also use: a resumable
// partial shorter than the source wins over the destination.
func (s *Sender) basisFor(destPath string, srcLen int64) string {
	if s.opts.Partial {
		partial, basename := partialPaths(destPath, s.opts.PartialDir)
		if st, err := os.Lstat(partial); err == nil && st.Size() < srcLen {
			return partial
		}
		if basename != "" {
			if st, err := os.Lstat(basename); err == nil && st.Size() < srcLen {
				return basename
			}
		}
	}
	return destPath
}

func (s *Sender) appendBasis(destPath string) string {
	if _, err := os.Lstat(destPath); err == nil {
		return destPath
	}
	partial, _ := partialPaths(destPath, s.opts.PartialDir)
	if _, err := os.Lstat(partial); err == nil {
		return partial
	}
	return destPath
}

// relOf is a helper for callers that track walk-relative names.
func relOf(root, path string) string {
	r, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return strings.ReplaceAll(r, string(filepath.Separator), "/")
}
