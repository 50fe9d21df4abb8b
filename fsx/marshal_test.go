// marshal_test.go -- Info/Xattr binary encoding round trips
package fsx

import (
	"io/fs"
	"testing"
	"time"
)

func sampleInfo() *Info {
	return &Info{
		Ino:   1234,
		Siz:   987654,
		Dev:   77,
		Rdev:  0,
		Mod:   fs.FileMode(0o644),
		Uid:   1000,
		Gid:   1000,
		Nlink: 2,
		Atim:  time.Unix(1700000000, 123),
		Mtim:  time.Unix(1700000100, 456),
		Ctim:  time.Unix(1700000200, 789),
		path:  "some/rel/path.txt",
		Xattr: Xattr{"user.comment": "hello", "user.empty": ""},
	}
}

func TestInfoMarshalRoundTrip(t *testing.T) {
	ii := sampleInfo()

	b, err := ii.Marshal(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != ii.MarshalSize(0) {
		t.Fatalf("marshal size %d != MarshalSize %d", len(b), ii.MarshalSize(0))
	}

	var jj Info
	n, err := jj.Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(b) {
		t.Fatalf("consumed %d of %d", n, len(b))
	}

	if jj.Ino != ii.Ino || jj.Siz != ii.Siz || jj.Mod != ii.Mod ||
		jj.Uid != ii.Uid || jj.Nlink != ii.Nlink {
		t.Fatalf("fixed fields mismatch: %+v vs %+v", jj, ii)
	}
	if !jj.Mtim.Equal(ii.Mtim) || !jj.Atim.Equal(ii.Atim) {
		t.Fatal("times mismatch")
	}
	if jj.Path() != ii.Path() {
		t.Fatalf("path %q != %q", jj.Path(), ii.Path())
	}
	if !jj.Xattr.Equal(ii.Xattr) {
		t.Fatalf("xattr mismatch: %v vs %v", jj.Xattr, ii.Xattr)
	}
}

func TestInfoMarshalJunkPath(t *testing.T) {
	ii := sampleInfo()
	b, err := ii.Marshal(JunkPath)
	if err != nil {
		t.Fatal(err)
	}

	var jj Info
	if _, err := jj.Unmarshal(b); err != nil {
		t.Fatal(err)
	}
	if jj.Path() != "path.txt" {
		t.Fatalf("junked path %q", jj.Path())
	}
}

func TestUnmarshalShortBuffer(t *testing.T) {
	ii := sampleInfo()
	b, _ := ii.Marshal(0)

	var jj Info
	if _, err := jj.Unmarshal(b[:len(b)/2]); err == nil {
		t.Fatal("short buffer decoded")
	}
}
