// errors.go - descriptive errors for fsx
//
// (c) 2024 Sudhi Herle <sudhi@herle.net>
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
	"errors"
	"fmt"
)

// errAny returns true if 'err' matches any error in 'errs'.
func errAny(err error, errs ...error) bool {
	for _, e := range errs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// CopyError describes a failure of CopyFile/CopyFd with enough
// context to diagnose which primitive failed.
type CopyError struct {
	Op  string
	Src string
	Dst string
	Err error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copyfile: %s '%s' '%s': %s", e.Op, e.Src, e.Dst, e.Err.Error())
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

var _ error = &CopyError{}
