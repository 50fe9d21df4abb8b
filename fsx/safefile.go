// safefile.go - safe file creation and unwinding on error
//
// (c) 2021 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package fsx

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// SafeFile is an io.WriteCloser backed by a hidden temporary file that
// is atomically renamed to its final name on Close(). Abort() discards
// the temporary; the first call to Close or Abort seals the outcome.
//
//	sf, err := NewSafeFile(...)
//	...
//	defer sf.Abort()
//	... write to sf ...
//	sf.Close()
type SafeFile struct {
	*os.File

	// write error recorded once
	err  error
	name string // final name

	// < 0 => aborted, > 0 => closed, 0 => open
	closed atomic.Int64
}

var _ io.WriteCloser = &SafeFile{}

const (
	OPT_OVERWRITE uint32 = 1 << iota
	OPT_COW
)

// TempPath returns the hidden temp name used for 'final' when staging
// in directory 'dir': ".<base>.<random-tag>". The name is unlikely to
// collide across crashed sessions yet easy to recognize and sweep.
func TempPath(dir, final string) string {
	return filepath.Join(dir, fmt.Sprintf(".%s.%x", filepath.Base(final), randU32()))
}

// NewSafeFile creates a temp file that will be renamed to 'nm' on
// Close. With OPT_OVERWRITE an existing regular file at 'nm' may be
// replaced; with OPT_COW the file is opened read-write so reflink
// style copies can use it.
func NewSafeFile(nm string, opts uint32, flag int, perm os.FileMode) (*SafeFile, error) {
	if st, err := os.Lstat(nm); err == nil {
		if (opts & OPT_OVERWRITE) == 0 {
			return nil, fmt.Errorf("safefile: won't overwrite existing %s", nm)
		}
		if !st.Mode().IsRegular() {
			return nil, fmt.Errorf("safefile: %s is not a regular file", nm)
		}
	}

	flag |= os.O_CREATE | os.O_TRUNC
	if (opts & OPT_COW) != 0 {
		flag &= ^os.O_WRONLY
		flag |= os.O_RDWR
	}
	if (flag & (os.O_RDWR | os.O_WRONLY)) == 0 {
		flag |= os.O_RDWR
	}

	tmp := TempPath(filepath.Dir(nm), nm)
	fd, err := os.OpenFile(tmp, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("safefile: %w", err)
	}

	return &SafeFile{
		File: fd,
		name: nm,
	}, nil
}

// Name returns the file's final name.
func (sf *SafeFile) Name() string {
	return sf.name
}

// TempName returns the name of the staging file.
func (sf *SafeFile) TempName() string {
	return sf.File.Name()
}

// Write records the first error and refuses writes after it.
func (sf *SafeFile) Write(p []byte) (int, error) {
	if sf.closed.Load() != 0 {
		return 0, fmt.Errorf("safefile: %s is closed", sf.name)
	}
	if sf.err != nil {
		return 0, sf.err
	}

	n, err := sf.File.Write(p)
	if err != nil {
		sf.err = fmt.Errorf("safefile: %s: %w", sf.name, err)
		return n, sf.err
	}
	return n, nil
}

// Close flushes and atomically renames the temp file to its final
// name. Once closed, Abort is a no-op.
func (sf *SafeFile) Close() error {
	if !sf.closed.CompareAndSwap(0, 1) {
		if sf.closed.Load() < 0 {
			return fmt.Errorf("safefile: %s aborted", sf.name)
		}
		return nil
	}

	if sf.err != nil {
		sf.discard()
		return sf.err
	}

	if err := sf.File.Sync(); err != nil {
		sf.discard()
		return fmt.Errorf("safefile: %s: %w", sf.name, err)
	}
	if err := sf.File.Close(); err != nil {
		os.Remove(sf.TempName())
		return fmt.Errorf("safefile: %s: %w", sf.name, err)
	}
	if err := os.Rename(sf.TempName(), sf.name); err != nil {
		os.Remove(sf.TempName())
		return fmt.Errorf("safefile: %s: %w", sf.name, err)
	}
	return nil
}

// Abort discards the temp file. Safe to call after Close.
func (sf *SafeFile) Abort() {
	if !sf.closed.CompareAndSwap(0, -1) {
		return
	}
	sf.discard()
}

func (sf *SafeFile) discard() {
	sf.File.Close()
	os.Remove(sf.TempName())
}

func randU32() uint32 {
	var b [4]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		panic(fmt.Sprintf("safefile: can't read random bytes: %s", err))
	}
	return binary.LittleEndian.Uint32(b[:])
}
