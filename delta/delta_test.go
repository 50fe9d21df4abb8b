// delta_test.go -- op stream computation and application
package delta

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/oferchen/oc-rsync-sub000/checksum"
)

func cfg() *checksum.Config {
	return checksum.NewBuilder().Build()
}

func roundTrip(t *testing.T, basis, target []byte, blockSize, window int) []Op {
	t.Helper()

	ops, err := Compute(cfg(), bytes.NewReader(basis), bytes.NewReader(target), blockSize, window)
	if err != nil {
		t.Fatalf("compute: %s", err)
	}

	var out bytes.Buffer
	if err := Apply(bytes.NewReader(basis), ops, &out); err != nil {
		t.Fatalf("apply: %s", err)
	}
	if !bytes.Equal(out.Bytes(), target) {
		t.Fatalf("round trip mismatch: got %q want %q", out.Bytes(), target)
	}
	return ops
}

func TestDeltaRoundTrip(t *testing.T) {
	basis := []byte("hello world")
	target := []byte("hello brave new world")
	ops := roundTrip(t, basis, target, 4, DefaultBasisWindow)

	var haveCopy, haveData bool
	for _, op := range ops {
		switch op.Kind {
		case Copy:
			haveCopy = true
		case Data:
			haveData = true
		}
	}
	if !haveCopy || !haveData {
		t.Fatalf("expected both copy and data ops, got %v", ops)
	}
}

func TestEmptyTargetYieldsNoOps(t *testing.T) {
	ops, err := Compute(cfg(), bytes.NewReader([]byte("basis")), bytes.NewReader(nil), 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Fatalf("want no ops, got %v", ops)
	}
}

func TestEmptyBasisEmitsLiteral(t *testing.T) {
	target := []byte("fresh content")
	ops := roundTrip(t, nil, target, 4, 8)
	if len(ops) != 1 || ops[0].Kind != Data || !bytes.Equal(ops[0].Data, target) {
		t.Fatalf("want a single data op, got %v", ops)
	}
}

func TestIdenticalInputIsAllCopies(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 16)
	ops := roundTrip(t, data, data, 8, DefaultBasisWindow)
	for _, op := range ops {
		if op.Kind != Copy {
			t.Fatalf("identical input produced a literal: %v", op)
		}
	}
}

func TestMatchesPartialTailBlock(t *testing.T) {
	// last basis block is shorter than blockSize and must still match
	basis := []byte("0123456789ab")
	roundTrip(t, basis, basis, 8, DefaultBasisWindow)
}

func TestWeakCollisionPrefersEarliestBlock(t *testing.T) {
	// two identical basis blocks share both sums; the op stream
	// must reference the first one - this is a documented contract
	blk := []byte("samesame")
	basis := append(append([]byte{}, blk...), blk...)
	ops, err := Compute(cfg(), bytes.NewReader(basis), bytes.NewReader(blk), len(blk), 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Kind != Copy || ops[0].Off != 0 {
		t.Fatalf("want copy{0,%d}, got %v", len(blk), ops)
	}
}

func TestBasisWindowBoundsIndex(t *testing.T) {
	// with a one-block window only the final basis block stays
	// indexed; matching data from the start becomes literal
	basis := []byte("AAAABBBBCCCC")
	target := []byte("AAAA")
	ops, err := Compute(cfg(), bytes.NewReader(basis), bytes.NewReader(target), 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Kind != Data {
		t.Fatalf("evicted block still matched: %v", ops)
	}

	var out bytes.Buffer
	if err := Apply(bytes.NewReader(basis), ops, &out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), target) {
		t.Fatal("window-bounded delta did not reproduce the target")
	}
}

func TestRandomizedRoundTrips(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		basis := make([]byte, rng.Intn(4096))
		rng.Read(basis)

		// target: basis with random splices
		target := append([]byte{}, basis...)
		for j := 0; j < rng.Intn(5); j++ {
			if len(target) == 0 {
				break
			}
			at := rng.Intn(len(target))
			ins := make([]byte, rng.Intn(64))
			rng.Read(ins)
			target = append(target[:at], append(ins, target[at:]...)...)
		}

		bs := 1 + rng.Intn(128)
		win := 1 + rng.Intn(64)
		roundTrip(t, basis, target, bs, win)
	}
}

func TestBlockSizeHeuristic(t *testing.T) {
	if got := BlockSize(100); got != MinBlockSize {
		t.Fatalf("small file: got %d", got)
	}
	if got := BlockSize(1 << 40); got != MaxBlockSize {
		t.Fatalf("huge file: got %d", got)
	}
	mid := BlockSize(1 << 24)
	if mid%8 != 0 || mid < MinBlockSize || mid > MaxBlockSize {
		t.Fatalf("mid file: got %d", mid)
	}
}
