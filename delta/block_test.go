// block_test.go -- resume verification
package delta

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLastGoodBlock(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	basis := filepath.Join(dir, "basis")

	if err := os.WriteFile(src, []byte("aaaabbbbccccdd"), 0o644); err != nil {
		t.Fatal(err)
	}
	// second block differs
	if err := os.WriteFile(basis, []byte("aaaaXbbbcccc"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LastGoodBlock(cfg(), src, basis, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Fatalf("resume offset %d, want 4", got)
	}
}

func TestLastGoodBlockMissingBasis(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LastGoodBlock(cfg(), src, filepath.Join(dir, "nope"), 4)
	if err != nil || got != 0 {
		t.Fatalf("missing basis: got %d, %v", got, err)
	}
}

func TestLastGoodBlockIgnoresPartialTail(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	basis := filepath.Join(dir, "basis")

	// identical 6 bytes but only one whole 4-byte block
	if err := os.WriteFile(src, []byte("aaaabb"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(basis, []byte("aaaabb"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LastGoodBlock(cfg(), src, basis, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Fatalf("resume offset %d, want 4", got)
	}
}
