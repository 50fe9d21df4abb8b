// message.go - typed messages over the frame codec
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
)

// Message is the decoded form of one frame. Depending on Kind it
// carries raw bytes (Data, FileListEntry, Attributes, Xattrs,
// Codecs, Stats), text (the info/error family), or a number
// (Version, Progress, the ack family, Exit).
type Message struct {
	Kind Msg
	Data []byte
	Text string
	Val  uint64
}

// DataMsg wraps transfer payload bytes.
func DataMsg(b []byte) Message { return Message{Kind: MsgData, Data: b} }

// InfoMsg wraps an informational line.
func InfoMsg(s string) Message { return Message{Kind: MsgInfo, Text: s} }

// ErrorMsg wraps an error line.
func ErrorMsg(s string) Message { return Message{Kind: MsgError, Text: s} }

// VersionMsg announces a protocol version.
func VersionMsg(v uint32) Message { return Message{Kind: MsgVersion, Val: uint64(v)} }

// ProgressMsg reports transferred bytes.
func ProgressMsg(n uint64) Message { return Message{Kind: MsgProgress, Val: n} }

// ExitMsg carries the remote exit code.
func ExitMsg(code ExitCode) Message { return Message{Kind: MsgErrorExit, Val: uint64(uint8(code))} }

// DoneMsg ends a stream phase.
func DoneMsg() Message { return Message{Kind: MsgDone} }

// KeepAliveMsg keeps an idle session open.
func KeepAliveMsg() Message { return Message{Kind: MsgKeepAlive} }

func (m Message) isText() bool {
	switch m.Kind {
	case MsgErrorXfer, MsgInfo, MsgError, MsgWarning, MsgErrorSocket,
		MsgLog, MsgClient, MsgErrorUtf8:
		return true
	}
	return false
}

func (m Message) isU32() bool {
	switch m.Kind {
	case MsgVersion, MsgRedo, MsgIoError, MsgIoTimeout, MsgSuccess,
		MsgDeleted, MsgNoSend:
		return true
	}
	return false
}

// ErrorText returns the human readable text of error-family
// messages.
func (m Message) ErrorText() (string, bool) {
	switch m.Kind {
	case MsgError, MsgErrorXfer, MsgErrorSocket, MsgErrorUtf8:
		return m.Text, true
	}
	return "", false
}

// ToFrame encodes the message on 'channel'. Text is converted with
// 'cv' when one is configured.
func (m Message) ToFrame(channel uint16, cv *CharsetConv) *Frame {
	tag := TagMessage
	var payload []byte

	switch {
	case m.Kind == MsgData:
		tag = TagData
		payload = m.Data

	case m.Kind == MsgKeepAlive:
		tag = TagKeepAlive

	case m.isText():
		if cv != nil {
			payload = cv.ToRemote([]byte(m.Text))
		} else {
			payload = []byte(m.Text)
		}

	case m.isU32():
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, uint32(m.Val))

	case m.Kind == MsgProgress:
		payload = make([]byte, 8)
		binary.BigEndian.PutUint64(payload, m.Val)

	case m.Kind == MsgErrorExit:
		payload = []byte{byte(m.Val)}

	default:
		// Done, Noop and the byte-blob kinds pass data through
		payload = m.Data
	}

	return &Frame{
		Header: FrameHeader{
			Channel: channel,
			Tag:     tag,
			Msg:     m.Kind,
			Len:     uint32(len(payload)),
		},
		Payload: payload,
	}
}

// FromFrame decodes a frame back into a Message.
func FromFrame(f *Frame, cv *CharsetConv) (Message, error) {
	m := Message{Kind: f.Header.Msg, Data: f.Payload}

	if f.Header.Tag == TagData {
		m.Kind = MsgData
		return m, nil
	}
	if f.Header.Tag == TagKeepAlive {
		m.Kind = MsgKeepAlive
		return m, nil
	}

	switch {
	case m.isText():
		b := f.Payload
		if cv != nil {
			b = cv.ToLocal(b)
		}
		m.Text = string(b)
		m.Data = nil

	case m.isU32():
		if len(f.Payload) != 4 {
			return m, &ProtoError{fmt.Sprintf("%s payload length %d", m.Kind, len(f.Payload))}
		}
		m.Val = uint64(binary.BigEndian.Uint32(f.Payload))
		m.Data = nil

	case m.Kind == MsgProgress:
		if len(f.Payload) != 8 {
			return m, &ProtoError{fmt.Sprintf("progress payload length %d", len(f.Payload))}
		}
		m.Val = binary.BigEndian.Uint64(f.Payload)
		m.Data = nil

	case m.Kind == MsgErrorExit:
		if len(f.Payload) != 1 {
			return m, &ProtoError{fmt.Sprintf("exit payload length %d", len(f.Payload))}
		}
		m.Val = uint64(f.Payload[0])
		m.Data = nil
	}
	return m, nil
}
