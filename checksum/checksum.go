// checksum.go - weak and strong checksums for block matching
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

// Package checksum provides the weak rolling checksum and the strong
// block hashes used by the delta codec. The weak sum is cheap and
// slides one byte at a time; the strong hash arbitrates weak-sum
// collisions. The strong hash can be salted with a session seed; the
// weak sum is not seeded.
package checksum

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/md4"
)

// StrongHash names the strong block hash in use for a session.
type StrongHash int

const (
	MD4 StrongHash = iota
	MD5
	XXH64
)

func (h StrongHash) String() string {
	switch h {
	case MD4:
		return "md4"
	case MD5:
		return "md5"
	case XXH64:
		return "xxh64"
	}
	return fmt.Sprintf("stronghash(%d)", int(h))
}

// ParseStrongHash maps a user supplied checksum name to a StrongHash.
func ParseStrongHash(s string) (StrongHash, error) {
	switch s {
	case "md4":
		return MD4, nil
	case "md5":
		return MD5, nil
	case "xxh64", "xxhash":
		return XXH64, nil
	}
	return 0, fmt.Errorf("checksum: unknown strong hash %q", s)
}

// Sum is the pair of checksums computed over one block.
type Sum struct {
	Weak   uint32
	Strong []byte
}

// Config computes sums for a negotiated (hash, seed) pair.
type Config struct {
	strong StrongHash
	seed   uint32
}

// Builder assembles a Config.
type Builder struct {
	cfg Config
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Strong selects the strong hash algorithm.
func (b *Builder) Strong(h StrongHash) *Builder {
	b.cfg.strong = h
	return b
}

// Seed salts the strong hash; 0 means unsalted.
func (b *Builder) Seed(seed uint32) *Builder {
	b.cfg.seed = seed
	return b
}

func (b *Builder) Build() *Config {
	cfg := b.cfg
	return &cfg
}

// Strong returns the configured strong hash.
func (c *Config) Strong() StrongHash {
	return c.strong
}

// Checksum computes the weak and strong sums of one block.
func (c *Config) Checksum(p []byte) Sum {
	return Sum{
		Weak:   WeakSum(p),
		Strong: c.StrongSum(p),
	}
}

// StrongSum computes the strong hash of 'p', salted with the seed.
func (c *Config) StrongSum(p []byte) []byte {
	var salt [4]byte
	salted := p
	if c.seed != 0 {
		binary.LittleEndian.PutUint32(salt[:], c.seed)
	}

	switch c.strong {
	case MD5:
		h := md5.New()
		h.Write(p)
		if c.seed != 0 {
			h.Write(salt[:])
		}
		return h.Sum(nil)

	case XXH64:
		h := xxhash.New()
		h.Write(p)
		if c.seed != 0 {
			h.Write(salt[:])
		}
		var out [8]byte
		binary.BigEndian.PutUint64(out[:], h.Sum64())
		return out[:]

	default:
		h := md4.New()
		h.Write(salted)
		if c.seed != 0 {
			h.Write(salt[:])
		}
		return h.Sum(nil)
	}
}

// WeakSum computes the rolling checksum of a whole block in one shot.
func WeakSum(p []byte) uint32 {
	var a, b uint32
	n := uint32(len(p))
	for i, c := range p {
		a += uint32(c)
		b += (n - uint32(i)) * uint32(c)
	}
	return (a & 0xffff) | (b << 16)
}
