// block.go - block size heuristic and resume verification
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

package delta

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/oferchen/oc-rsync-sub000/checksum"
)

const (
	// MinBlockSize is used for small files.
	MinBlockSize = 700
	// MaxBlockSize bounds the heuristic for huge files.
	MaxBlockSize = 1 << 17
)

// BlockSize picks a block size for a source of 'n' bytes: roughly the
// square root of the length, rounded to a multiple of 8 and clamped
// to [MinBlockSize, MaxBlockSize].
func BlockSize(n int64) int {
	if n <= MinBlockSize*MinBlockSize {
		return MinBlockSize
	}

	b := int(math.Sqrt(float64(n)))
	b = (b + 7) &^ 7
	if b < MinBlockSize {
		b = MinBlockSize
	}
	if b > MaxBlockSize {
		b = MaxBlockSize
	}
	return b
}

// LastGoodBlock compares 'src' and 'basis' block by block and returns
// the byte offset just past the longest prefix of full blocks whose
// strong checksums agree. A resumed transfer uses the offset as its
// write position; everything after it is recomputed.
func LastGoodBlock(cfg *checksum.Config, src, basis string, blockSize int) (int64, error) {
	sf, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("delta: resume: %w", err)
	}
	defer sf.Close()

	bf, err := os.Open(basis)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("delta: resume: %w", err)
	}
	defer bf.Close()

	sbuf := make([]byte, blockSize)
	bbuf := make([]byte, blockSize)

	var good int64
	for {
		sn, serr := io.ReadFull(sf, sbuf)
		bn, berr := io.ReadFull(bf, bbuf)
		if serr != nil && serr != io.EOF && serr != io.ErrUnexpectedEOF {
			return 0, fmt.Errorf("delta: resume: %w", serr)
		}
		if berr != nil && berr != io.EOF && berr != io.ErrUnexpectedEOF {
			return 0, fmt.Errorf("delta: resume: %w", berr)
		}

		// only whole, identical blocks extend the verified prefix
		if sn != blockSize || bn != blockSize {
			break
		}
		if !bytes.Equal(cfg.StrongSum(sbuf), cfg.StrongSum(bbuf)) {
			break
		}
		good += int64(blockSize)
	}
	return good, nil
}
