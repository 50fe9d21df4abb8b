// fiomap.go -- concurrency safe maps of names to Info
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
	"github.com/puzpuzpuz/xsync/v3"
)

// LinkMap is a concurrency safe map of hard-link identity to the
// first destination path written for that identity.
type LinkMap = xsync.MapOf[uint64, string]

func NewLinkMap() *LinkMap {
	return xsync.NewMapOf[uint64, string]()
}
