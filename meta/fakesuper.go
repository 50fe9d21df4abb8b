// fakesuper.go - privileged attribute storage in user xattrs
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

package meta

import (
	"strconv"

	"github.com/pkg/xattr"
)

// user.rsync.* is reserved for fake-super storage of uid/gid/mode and
// ACL blobs when the receiving process lacks privileges.
const fakeSuperPrefix = "user.rsync."

const (
	fakeSuperUID  = fakeSuperPrefix + "uid"
	fakeSuperGID  = fakeSuperPrefix + "gid"
	fakeSuperMode = fakeSuperPrefix + "mode"
)

func storeFakeSuper(path string, uid, gid, mode uint32) {
	storeFakeSuperIDs(path, uid, gid)
	storeFakeSuperMode(path, mode)
}

func storeFakeSuperIDs(path string, uid, gid uint32) {
	_ = xattr.Set(path, fakeSuperUID, []byte(strconv.FormatUint(uint64(uid), 10)))
	_ = xattr.Set(path, fakeSuperGID, []byte(strconv.FormatUint(uint64(gid), 10)))
}

func storeFakeSuperMode(path string, mode uint32) {
	_ = xattr.Set(path, fakeSuperMode, []byte(strconv.FormatUint(uint64(mode), 8)))
}

// FakeSuperIDs reads back uid/gid/mode stored by a fake-super
// transfer; ok is false when the entry carries no such attributes.
func FakeSuperIDs(path string) (uid, gid, mode uint32, ok bool) {
	u, err1 := xattr.Get(path, fakeSuperUID)
	g, err2 := xattr.Get(path, fakeSuperGID)
	if err1 != nil || err2 != nil {
		return 0, 0, 0, false
	}
	un, err1 := strconv.ParseUint(string(u), 10, 32)
	gn, err2 := strconv.ParseUint(string(g), 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, 0, false
	}

	var mn uint64
	if m, err := xattr.Get(path, fakeSuperMode); err == nil {
		mn, _ = strconv.ParseUint(string(m), 8, 32)
	}
	return uint32(un), uint32(gn), uint32(mn), true
}
