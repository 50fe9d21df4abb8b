// compress_test.go -- codec round trips and negotiation
package compress

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("delta transfer literal data "), 64)

	for _, c := range AllCodecs {
		z, err := c.Compress(payload, 0)
		if err != nil {
			t.Fatalf("%s: compress: %s", c, err)
		}
		if len(z) >= len(payload) {
			t.Fatalf("%s: compressible payload did not shrink (%d -> %d)", c, len(payload), len(z))
		}
		out, err := c.Decompress(z)
		if err != nil {
			t.Fatalf("%s: decompress: %s", c, err)
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("%s: round trip mismatch", c)
		}
	}
}

func TestNegotiate(t *testing.T) {
	c, ok := Negotiate(DefaultPreference, []Codec{Zlib, Zstd})
	if !ok || c != Zstd {
		t.Fatalf("want zstd, got %v ok=%v", c, ok)
	}

	c, ok = Negotiate(DefaultPreference, []Codec{Zlib})
	if !ok || c != Zlib {
		t.Fatalf("want zlib, got %v ok=%v", c, ok)
	}

	if _, ok = Negotiate([]Codec{Zstd}, nil); ok {
		t.Fatal("negotiated against an empty remote set")
	}
}

func TestShouldCompress(t *testing.T) {
	skip := SkipSet(nil)

	tests := []struct {
		path string
		want bool
	}{
		{"notes.txt", true},
		{"archive.tar", true},
		{"archive.tar.gz", false},
		{"photo.JPG", false},
		{"noext", true},
		{"deep/dir/movie.mkv", false},
	}
	for _, tx := range tests {
		if got := ShouldCompress(tx.path, skip); got != tx.want {
			t.Fatalf("%s: got %v want %v", tx.path, got, tx.want)
		}
	}
}

func TestSkipSetCustom(t *testing.T) {
	skip := SkipSet([]string{".FOO"})
	if ShouldCompress("a.foo", skip) {
		t.Fatal("custom suffix not honored")
	}
	if !ShouldCompress("a.gz", skip) {
		t.Fatal("custom list should replace the defaults")
	}
}
