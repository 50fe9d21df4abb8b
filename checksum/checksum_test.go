// checksum_test.go -- weak/strong checksum behavior
package checksum

import (
	"bytes"
	"testing"
)

func TestRollingMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, twice over")
	const win = 16

	r := NewRolling(data[:win])
	for i := 0; ; i++ {
		want := WeakSum(data[i : i+win])
		if got := r.Sum(); got != want {
			t.Fatalf("offset %d: rolling %#x != one-shot %#x", i, got, want)
		}
		if i+win >= len(data) {
			break
		}
		r.Roll(data[i], data[i+win])
	}
}

func TestRollingShrink(t *testing.T) {
	data := []byte("abcdefgh")
	r := NewRolling(data)
	for i := 0; i < len(data)-1; i++ {
		r.Shrink(data[i])
		want := WeakSum(data[i+1:])
		if got := r.Sum(); got != want {
			t.Fatalf("shrink %d: %#x != %#x", i, got, want)
		}
	}
}

func TestStrongSumSeed(t *testing.T) {
	data := []byte("hello world")

	for _, h := range []StrongHash{MD4, MD5, XXH64} {
		plain := NewBuilder().Strong(h).Build().StrongSum(data)
		seeded := NewBuilder().Strong(h).Seed(0xdead).Build().StrongSum(data)
		if bytes.Equal(plain, seeded) {
			t.Fatalf("%s: seed did not alter the hash", h)
		}
		again := NewBuilder().Strong(h).Seed(0xdead).Build().StrongSum(data)
		if !bytes.Equal(seeded, again) {
			t.Fatalf("%s: seeded hash not deterministic", h)
		}
	}
}

func TestStrongSumLengths(t *testing.T) {
	data := []byte("x")
	tests := []struct {
		h StrongHash
		n int
	}{
		{MD4, 16},
		{MD5, 16},
		{XXH64, 8},
	}
	for _, tx := range tests {
		got := NewBuilder().Strong(tx.h).Build().StrongSum(data)
		if len(got) != tx.n {
			t.Fatalf("%s: length %d, want %d", tx.h, len(got), tx.n)
		}
	}
}

func TestParseStrongHash(t *testing.T) {
	if _, err := ParseStrongHash("md5"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseStrongHash("whirlpool"); err == nil {
		t.Fatal("expected error for unknown hash")
	}
}
