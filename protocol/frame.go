// frame.go - tagged frame codec
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

// MaxFrameLen bounds a frame payload; anything larger is treated as
// a framing error rather than an allocation request.
const MaxFrameLen = 1 << 27

// FrameHeader precedes every frame:
// channel (u16), tag (u8), msg kind (u8), payload length (u32),
// all big-endian.
type FrameHeader struct {
	Channel uint16
	Tag     Tag
	Msg     Msg
	Len     uint32
}

const headerSize = 2 + 1 + 1 + 4

// Frame is a header plus its payload.
type Frame struct {
	Header  FrameHeader
	Payload []byte
}

// WriteFrame emits one frame.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) != int(f.Header.Len) {
		return &ProtoError{fmt.Sprintf("frame length %d != payload %d", f.Header.Len, len(f.Payload))}
	}

	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], f.Header.Channel)
	hdr[2] = byte(f.Header.Tag)
	hdr[3] = byte(f.Header.Msg)
	binary.BigEndian.PutUint32(hdr[4:8], f.Header.Len)

	if _, err := w.Write(hdr[:]); err != nil {
		return &ProtoError{fmt.Sprintf("frame header write: %s", err)}
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return &ProtoError{fmt.Sprintf("frame payload write: %s", err)}
		}
	}
	return nil
}

// ReadFrame reads one frame, validating tag, message kind and length.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &ProtoError{fmt.Sprintf("frame header read: %s", err)}
	}

	tag, err := TagFromByte(hdr[2])
	if err != nil {
		return nil, err
	}
	msg, err := MsgFromByte(hdr[3])
	if err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[4:8])
	if length > MaxFrameLen {
		return nil, &ProtoError{fmt.Sprintf("frame length %d exceeds limit", length)}
	}

	f := &Frame{
		Header: FrameHeader{
			Channel: binary.BigEndian.Uint16(hdr[0:2]),
			Tag:     tag,
			Msg:     msg,
			Len:     length,
		},
	}
	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, &ProtoError{fmt.Sprintf("frame payload read: %s", err)}
		}
	}
	return f, nil
}
