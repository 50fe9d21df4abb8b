// iconv.go - charset conversion between remote and local names
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

package protocol

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// CharsetConv converts path and message text between the remote
// side's charset and the local one (--iconv).
type CharsetConv struct {
	remote encoding.Encoding
	local  encoding.Encoding
}

// NewCharsetConv builds a converter from IANA charset names, e.g.
// NewCharsetConv("ISO-8859-1", "UTF-8").
func NewCharsetConv(remote, local string) (*CharsetConv, error) {
	re, err := ianaindex.IANA.Encoding(remote)
	if err != nil || re == nil {
		return nil, &ProtoError{fmt.Sprintf("unknown charset %q", remote)}
	}
	le, err := ianaindex.IANA.Encoding(local)
	if err != nil || le == nil {
		return nil, &ProtoError{fmt.Sprintf("unknown charset %q", local)}
	}
	return &CharsetConv{remote: re, local: le}, nil
}

// ToRemote converts local bytes to the remote charset.
func (c *CharsetConv) ToRemote(b []byte) []byte {
	if c == nil || c.remote == c.local {
		return b
	}
	s, err := c.local.NewDecoder().Bytes(b)
	if err != nil {
		return b
	}
	out, err := c.remote.NewEncoder().Bytes(s)
	if err != nil {
		return b
	}
	return out
}

// ToLocal converts remote bytes to the local charset.
func (c *CharsetConv) ToLocal(b []byte) []byte {
	if c == nil || c.remote == c.local {
		return b
	}
	s, err := c.remote.NewDecoder().Bytes(b)
	if err != nil {
		return b
	}
	out, err := c.local.NewEncoder().Bytes(s)
	if err != nil {
		return b
	}
	return out
}
