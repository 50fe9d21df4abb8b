// errors.go - engine error taxonomy
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
	"errors"
	"fmt"

	"github.com/oferchen/oc-rsync-sub000/protocol"
)

// ExitError carries a specific process exit code up through the
// session.
type ExitError struct {
	Code protocol.ExitCode
	Msg  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("engine: exit %d: %s", int(e.Code), e.Msg)
}

var _ error = &ExitError{}

// ErrMaxDelete is returned when the deletion limit is reached; no
// further deletes are performed after it.
var ErrMaxDelete = &ExitError{Code: protocol.ExitDelLimit, Msg: "max-delete limit exceeded"}

// ErrTimeout surfaces a stop-after/stop-at expiry.
var ErrTimeout = &ExitError{Code: protocol.ExitTimeout, Msg: "operation timed out"}

// PathError attaches the offending path to an I/O failure.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("engine: %s: %s", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func ioContext(path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	return &PathError{Path: path, Err: err}
}

// ExitCodeOf maps any engine error to the process exit code it
// should surface as.
func ExitCodeOf(err error) protocol.ExitCode {
	if err == nil {
		return protocol.ExitOk
	}
	var xe *ExitError
	if errors.As(err, &xe) {
		return xe.Code
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return protocol.ExitFileIo
	}
	return protocol.ExitPartial
}
