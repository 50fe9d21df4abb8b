// hardlink.go -- tracking hard-link equivalence classes
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

package engine

import (
	"os"

	"github.com/oferchen/oc-rsync-sub000/fsx"
	"github.com/puzpuzpuz/xsync/v3"
)

// hardlinker tracks source inodes so that paths sharing one become
// links at the destination instead of separate transfers. The first
// occurrence is written normally and remembered; later occurrences
// are queued and linked to it by Finalize.
type hardlinker struct {
	// src link identity -> first applied dest path
	m *fsx.LinkMap

	// queued dst -> original dst
	links *xsync.MapOf[string, string]
}

func newHardlinker() *hardlinker {
	return &hardlinker{
		m:     fsx.NewLinkMap(),
		links: xsync.NewMapOf[string, string](),
	}
}

// track registers 'dst' for the inode behind 'src'. It returns true
// when the path was queued as a link to an earlier transfer and
// needs no data of its own.
func (h *hardlinker) track(src *fsx.Info, dst string) bool {
	if src.Nlink <= 1 || !src.IsRegular() {
		return false
	}

	k := src.LinkID()
	orig, ok := h.m.Load(k)
	if ok && orig != dst {
		h.links.Store(dst, orig)
		return true
	}

	h.m.Store(k, dst)
	return false
}

// finalize creates the queued links once every first occurrence has
// been fully written and renamed into place.
func (h *hardlinker) finalize() error {
	var firstErr error
	h.links.Range(func(dst, orig string) bool {
		os.Remove(dst)
		if err := os.Link(orig, dst); err != nil && firstErr == nil {
			firstErr = ioContext(dst, err)
		}
		return true
	})
	h.links.Clear()
	return firstErr
}
