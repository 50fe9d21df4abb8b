// sparse.go - turn runs of zero bytes into file holes
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
	"io"
	"os"
)

// minHoleRun is the smallest zero run worth seeking over; shorter
// runs are written normally so tiny gaps don't fragment the file.
const minHoleRun = 512

// sparseWriter writes the apply stream leaving holes where the data
// is zero: a long enough zero run becomes a forward seek instead of
// a write. The caller's final truncate-to-position materializes a
// trailing hole.
type sparseWriter struct {
	f *os.File
}

func (s *sparseWriter) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		n := zeroRun(b)
		if n >= minHoleRun {
			if _, err := s.f.Seek(int64(n), io.SeekCurrent); err != nil {
				return written, err
			}
			written += n
			b = b[n:]
			continue
		}

		// data segment: everything up to the next hole-worthy run
		d := dataRun(b)
		if _, err := s.f.Write(b[:d]); err != nil {
			return written, err
		}
		written += d
		b = b[d:]
	}
	return written, nil
}

// zeroRun returns the length of the zero prefix of b.
func zeroRun(b []byte) int {
	for i := range b {
		if b[i] != 0 {
			return i
		}
	}
	return len(b)
}

// dataRun returns the length of the prefix that should be written as
// data: it ends where a zero run of at least minHoleRun begins.
func dataRun(b []byte) int {
	i := 0
	for i < len(b) {
		if b[i] != 0 {
			i++
			continue
		}
		n := zeroRun(b[i:])
		if n >= minHoleRun {
			return i
		}
		i += n
	}
	return len(b)
}
