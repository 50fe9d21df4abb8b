// delta.go - block matching delta computation and application
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

// Package delta computes and applies the op stream that turns a basis
// file into a target file. The basis is indexed in fixed size blocks
// by (weak, strong) checksum; the target is scanned with a one-byte
// sliding window. Memory for the basis index is bounded by a caller
// supplied window of live blocks.
package delta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/oferchen/oc-rsync-sub000/checksum"
)

// OpKind discriminates the two delta operations.
type OpKind int

const (
	// Data carries literal bytes for the output.
	Data OpKind = iota + 1
	// Copy replays Len bytes from Off in the basis.
	Copy
)

// Op is one instruction of a delta stream. Applying the full stream
// to the basis it was computed against reproduces the target exactly.
type Op struct {
	Kind OpKind
	Data []byte
	Off  int64
	Len  int64
}

func (o Op) String() string {
	if o.Kind == Copy {
		return fmt.Sprintf("copy{%d,%d}", o.Off, o.Len)
	}
	return fmt.Sprintf("data{%d}", len(o.Data))
}

// DefaultBasisWindow is the number of basis blocks kept indexed when
// the caller doesn't say otherwise. The index holds each block's
// checksums and offset, not its data, so the window bounds the number
// of index entries.
const DefaultBasisWindow = 8 * 1024

type blockRef struct {
	strong []byte
	off    int64
	n      int
}

type fifoEnt struct {
	weak uint32
	ref  blockRef
}

// Compute produces the delta from 'basis' to 'target'. Both streams
// are rewound first. Blocks of 'blockSize' bytes from the basis are
// indexed; at most 'basisWindow' blocks stay live, older ones are
// evicted first-in first-out. On a weak checksum collision the
// earliest surviving basis block wins - this is a documented contract
// of the op stream.
func Compute(cfg *checksum.Config, basis, target io.ReadSeeker, blockSize, basisWindow int) ([]Op, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("delta: block size %d out of range", blockSize)
	}
	if basisWindow <= 0 {
		basisWindow = DefaultBasisWindow
	}

	if _, err := basis.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("delta: basis seek: %w", err)
	}
	if _, err := target.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("delta: target seek: %w", err)
	}

	idx, err := indexBasis(cfg, basis, blockSize, basisWindow)
	if err != nil {
		return nil, err
	}

	var ops []Op
	var lit []byte

	flushLit := func() {
		if len(lit) > 0 {
			d := make([]byte, len(lit))
			copy(d, lit)
			ops = append(ops, Op{Kind: Data, Data: d})
			lit = lit[:0]
		}
	}

	rd := bufio.NewReaderSize(target, blockSize*2)
	win := make([]byte, 0, blockSize)
	var roll *checksum.Rolling

	// top up the window to blockSize bytes (or EOF)
	fill := func() error {
		for len(win) < blockSize {
			b, err := rd.ReadByte()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("delta: target read: %w", err)
			}
			win = append(win, b)
		}
		return nil
	}

	for {
		if len(win) == 0 {
			if err := fill(); err != nil {
				return nil, err
			}
			if len(win) == 0 {
				break
			}
			roll = checksum.NewRolling(win)
		}

		var matched *blockRef
		if cands, ok := idx.m[roll.Sum()]; ok {
			var strong []byte
			for i := range cands {
				c := &cands[i]
				if c.n != len(win) {
					continue
				}
				if strong == nil {
					strong = cfg.StrongSum(win)
				}
				if bytes.Equal(c.strong, strong) {
					matched = c
					break
				}
			}
		}

		if matched != nil {
			flushLit()
			ops = append(ops, Op{Kind: Copy, Off: matched.off, Len: int64(matched.n)})
			win = win[:0]
			roll = nil
			continue
		}

		// no match: the head byte becomes literal and the window
		// slides one byte
		out := win[0]
		lit = append(lit, out)
		copy(win, win[1:])
		win = win[:len(win)-1]

		b, err := rd.ReadByte()
		switch err {
		case nil:
			win = append(win, b)
			roll.Roll(out, b)
		case io.EOF:
			roll.Shrink(out)
		default:
			return nil, fmt.Errorf("delta: target read: %w", err)
		}
	}

	flushLit()
	return ops, nil
}

type basisIndex struct {
	m map[uint32][]blockRef
}

func indexBasis(cfg *checksum.Config, basis io.Reader, blockSize, basisWindow int) (*basisIndex, error) {
	idx := &basisIndex{m: make(map[uint32][]blockRef)}
	var order []fifoEnt

	buf := make([]byte, blockSize)
	var off int64
	for {
		n, err := io.ReadFull(basis, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("delta: basis read: %w", err)
		}
		if n == 0 {
			break
		}

		sum := cfg.Checksum(buf[:n])
		ref := blockRef{strong: sum.Strong, off: off, n: n}
		idx.m[sum.Weak] = append(idx.m[sum.Weak], ref)
		order = append(order, fifoEnt{weak: sum.Weak, ref: ref})

		if len(order) > basisWindow {
			old := order[0]
			order = order[1:]
			idx.evict(old)
		}

		off += int64(n)
		if n < blockSize {
			break
		}
	}
	return idx, nil
}

func (idx *basisIndex) evict(e fifoEnt) {
	v, ok := idx.m[e.weak]
	if !ok {
		return
	}
	for i := range v {
		if v[i].off == e.ref.off && v[i].n == e.ref.n && bytes.Equal(v[i].strong, e.ref.strong) {
			v = append(v[:i], v[i+1:]...)
			break
		}
	}
	if len(v) == 0 {
		delete(idx.m, e.weak)
	} else {
		idx.m[e.weak] = v
	}
}

// Apply reconstructs the target by replaying 'ops' against 'basis'
// into 'out'. No partial op is written past an error.
func Apply(basis io.ReadSeeker, ops []Op, out io.Writer) error {
	buf := make([]byte, 8192)
	for _, op := range ops {
		switch op.Kind {
		case Data:
			if _, err := out.Write(op.Data); err != nil {
				return fmt.Errorf("delta: apply write: %w", err)
			}

		case Copy:
			if _, err := basis.Seek(op.Off, io.SeekStart); err != nil {
				return fmt.Errorf("delta: apply seek: %w", err)
			}
			remaining := op.Len
			for remaining > 0 {
				n := int64(len(buf))
				if remaining < n {
					n = remaining
				}
				if _, err := io.ReadFull(basis, buf[:n]); err != nil {
					return fmt.Errorf("delta: apply read: %w", err)
				}
				if _, err := out.Write(buf[:n]); err != nil {
					return fmt.Errorf("delta: apply write: %w", err)
				}
				remaining -= n
			}

		default:
			return fmt.Errorf("delta: unknown op kind %d", int(op.Kind))
		}
	}
	return nil
}
