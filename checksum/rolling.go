// rolling.go - incremental form of the weak checksum
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

package checksum

// Rolling maintains the weak checksum of a sliding window. Seeding it
// with a block and then calling Roll for each one-byte shift keeps the
// sum current in O(1) per shift.
type Rolling struct {
	a, b uint32
	n    uint32
}

// NewRolling computes the initial sum over 'block'.
func NewRolling(block []byte) *Rolling {
	r := &Rolling{n: uint32(len(block))}
	for i, c := range block {
		r.a += uint32(c)
		r.b += (r.n - uint32(i)) * uint32(c)
	}
	return r
}

// Roll slides the window one byte: 'out' leaves on the left, 'in'
// enters on the right. The window length is unchanged.
func (r *Rolling) Roll(out, in byte) {
	r.a += uint32(in) - uint32(out)
	r.b += r.a - r.n*uint32(out)
}

// Shrink removes 'out' from the left without admitting a new byte.
func (r *Rolling) Shrink(out byte) {
	r.a -= uint32(out)
	r.b -= r.n * uint32(out)
	r.n--
}

// Sum returns the current weak checksum.
func (r *Rolling) Sum() uint32 {
	return (r.a & 0xffff) | (r.b << 16)
}

// Len returns the current window length.
func (r *Rolling) Len() int {
	return int(r.n)
}
