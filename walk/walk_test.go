// walk_test.go -- walker behavior over a scratch tree
package walk

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/oferchen/oc-rsync-sub000/fsx"
)

func mkTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"b/sub", "a", "c"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []string{"a/2.txt", "a/1.txt", "b/sub/x.bin", "c/z.txt", "top.txt"} {
		if err := os.WriteFile(filepath.Join(root, f), []byte(f), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestOrderedDeterministicOrder(t *testing.T) {
	root := mkTree(t)

	var got []string
	err := Ordered(root, OrderedOptions{}, func(rel string, fi *fsx.Info) error {
		got = append(got, rel)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"", "a", "a/1.txt", "a/2.txt", "b", "b/sub",
		"b/sub/x.bin", "c", "c/z.txt", "top.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("walk order:\n got %v\nwant %v", got, want)
	}
}

func TestOrderedSkipDir(t *testing.T) {
	root := mkTree(t)

	var got []string
	err := Ordered(root, OrderedOptions{}, func(rel string, fi *fsx.Info) error {
		if rel == "b" {
			return SkipDir
		}
		got = append(got, rel)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, rel := range got {
		if rel == "b/sub" || rel == "b/sub/x.bin" {
			t.Fatalf("descended into skipped dir: %v", got)
		}
	}
}

func TestConcurrentWalkSeesEverything(t *testing.T) {
	root := mkTree(t)

	var mu chan string = make(chan string, 64)
	err := WalkFunc([]string{root}, Options{Type: FILE}, func(fi *fsx.Info) error {
		mu <- fi.Name()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	close(mu)

	var got []string
	for nm := range mu {
		got = append(got, nm)
	}
	sort.Strings(got)

	want := []string{"1.txt", "2.txt", "top.txt", "x.bin", "z.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("files: got %v want %v", got, want)
	}
}

func TestConcurrentWalkExcludes(t *testing.T) {
	root := mkTree(t)

	n := 0
	ch := make(chan int, 64)
	err := WalkFunc([]string{root}, Options{Type: FILE, Excludes: []string{"*.bin"}},
		func(fi *fsx.Info) error {
			ch <- 1
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	close(ch)
	for range ch {
		n++
	}
	if n != 4 {
		t.Fatalf("excluded walk saw %d files, want 4", n)
	}
}
