// version.go - protocol version negotiation
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

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SupportedProtocols lists the versions we speak, newest first.
var SupportedProtocols = []uint32{32, 31, 30}

// LatestProtocol is the version we advertise.
const LatestProtocol uint32 = 32

// OldestProtocol is the oldest version we interoperate with.
const OldestProtocol uint32 = 30

// Negotiate picks the session version from ours and the peer's:
// min(local, peer), failing if that falls below OldestProtocol.
func Negotiate(local, peer uint32) (uint32, error) {
	v := local
	if peer < v {
		v = peer
	}
	if v < OldestProtocol {
		return 0, &ProtoError{fmt.Sprintf("peer version %d too old (oldest supported %d)", peer, OldestProtocol)}
	}
	return v, nil
}

// ReadVersion reads the 4-byte big-endian version a peer leads with.
func ReadVersion(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, &ProtoError{fmt.Sprintf("short version read: %s", err)}
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WriteVersion sends our 4-byte big-endian version.
func WriteVersion(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	if _, err := w.Write(b[:]); err != nil {
		return &ProtoError{fmt.Sprintf("version write: %s", err)}
	}
	return nil
}
