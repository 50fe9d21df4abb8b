// safefile_test.go -- atomic create/abort semantics
package fsx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeFileClose(t *testing.T) {
	dir := t.TempDir()
	nm := filepath.Join(dir, "out.txt")

	sf, err := NewSafeFile(nm, 0, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer sf.Abort()

	if _, err := sf.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}

	// nothing visible until Close
	if _, err := os.Stat(nm); err == nil {
		t.Fatal("final name visible before Close")
	}

	if err := sf.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(nm)
	if err != nil || string(data) != "payload" {
		t.Fatalf("final content %q err %v", data, err)
	}

	// Abort after Close is a no-op
	sf.Abort()
	if _, err := os.Stat(nm); err != nil {
		t.Fatal("abort after close removed the file")
	}
}

func TestSafeFileAbort(t *testing.T) {
	dir := t.TempDir()
	nm := filepath.Join(dir, "gone.txt")

	sf, err := NewSafeFile(nm, 0, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	sf.Write([]byte("junk"))
	tmp := sf.TempName()
	sf.Abort()

	for _, p := range []string{nm, tmp} {
		if _, err := os.Stat(p); err == nil {
			t.Fatalf("%s survived Abort", p)
		}
	}
}

func TestSafeFileNoOverwrite(t *testing.T) {
	dir := t.TempDir()
	nm := filepath.Join(dir, "keep.txt")
	os.WriteFile(nm, []byte("old"), 0o644)

	if _, err := NewSafeFile(nm, 0, os.O_RDWR, 0o644); err == nil {
		t.Fatal("overwrite without OPT_OVERWRITE succeeded")
	}

	sf, err := NewSafeFile(nm, OPT_OVERWRITE, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer sf.Abort()
	sf.Write([]byte("new"))
	if err := sf.Close(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(nm)
	if string(data) != "new" {
		t.Fatalf("content %q", data)
	}
}

func TestTempPathIsHidden(t *testing.T) {
	p := TempPath("/tmp/x", "file.bin")
	base := filepath.Base(p)
	if !strings.HasPrefix(base, ".file.bin.") {
		t.Fatalf("temp name %q not hidden-prefixed", base)
	}
}
