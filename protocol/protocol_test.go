// protocol_test.go -- framing and negotiation
package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestNegotiate(t *testing.T) {
	v, err := Negotiate(32, 31)
	if err != nil || v != 31 {
		t.Fatalf("got %d, %v", v, err)
	}
	v, err = Negotiate(31, 32)
	if err != nil || v != 31 {
		t.Fatalf("got %d, %v", v, err)
	}
	if _, err = Negotiate(32, 12); err == nil {
		t.Fatal("ancient peer accepted")
	}
}

func TestVersionWire(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteVersion(&buf, 32); err != nil {
		t.Fatal(err)
	}
	if got := buf.Bytes(); !bytes.Equal(got, []byte{0, 0, 0, 32}) {
		t.Fatalf("wire form %v", got)
	}
	v, err := ReadVersion(&buf)
	if err != nil || v != 32 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Header:  FrameHeader{Channel: 7, Tag: TagMessage, Msg: MsgInfo, Len: 5},
		Payload: []byte("hello"),
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}

	g, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if g.Header != f.Header || !bytes.Equal(g.Payload, f.Payload) {
		t.Fatalf("round trip: %+v vs %+v", g, f)
	}
}

func TestFrameRejectsJunk(t *testing.T) {
	// unknown tag
	raw := []byte{0, 0, 9, 2, 0, 0, 0, 0}
	if _, err := ReadFrame(bytes.NewReader(raw)); err == nil {
		t.Fatal("unknown tag accepted")
	}

	// unknown message kind
	raw = []byte{0, 0, 0, 0xEE, 0, 0, 0, 0}
	if _, err := ReadFrame(bytes.NewReader(raw)); err == nil {
		t.Fatal("unknown msg accepted")
	}

	// absurd length
	raw = []byte{0, 0, 0, 2, 0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := ReadFrame(bytes.NewReader(raw)); err == nil {
		t.Fatal("oversized frame accepted")
	}

	var pe *ProtoError
	_, err := ReadFrame(bytes.NewReader(raw))
	if !errors.As(err, &pe) {
		t.Fatalf("want ProtoError, got %T", err)
	}
}

func TestMessageRoundTrips(t *testing.T) {
	msgs := []Message{
		DataMsg([]byte{1, 2, 3}),
		InfoMsg("информация"),
		ErrorMsg("boom"),
		VersionMsg(31),
		ProgressMsg(1 << 40),
		ExitMsg(ExitPartial),
		DoneMsg(),
		KeepAliveMsg(),
	}

	for _, m := range msgs {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, m.ToFrame(3, nil)); err != nil {
			t.Fatalf("%s: %s", m.Kind, err)
		}
		f, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("%s: %s", m.Kind, err)
		}
		g, err := FromFrame(f, nil)
		if err != nil {
			t.Fatalf("%s: %s", m.Kind, err)
		}
		if g.Kind != m.Kind || g.Text != m.Text || g.Val != m.Val ||
			!bytes.Equal(g.Data, m.Data) {
			t.Fatalf("round trip: %+v vs %+v", g, m)
		}
	}
}

func TestErrorText(t *testing.T) {
	if s, ok := ErrorMsg("nope").ErrorText(); !ok || s != "nope" {
		t.Fatal("error text lost")
	}
	if _, ok := InfoMsg("fyi").ErrorText(); ok {
		t.Fatal("info treated as error")
	}
}

func TestGreetingHelpers(t *testing.T) {
	if MOTDLine("hi") != "@RSYNCD: hi\n" {
		t.Fatal("motd format")
	}
	if ErrorLine("denied") != "@ERROR: denied" {
		t.Fatal("error format")
	}
}

func TestCharsetConv(t *testing.T) {
	cv, err := NewCharsetConv("ISO-8859-1", "UTF-8")
	if err != nil {
		t.Fatal(err)
	}

	local := []byte("café")
	remote := cv.ToRemote(local)
	if bytes.Equal(remote, local) {
		t.Fatal("conversion was a no-op")
	}
	back := cv.ToLocal(remote)
	if !bytes.Equal(back, local) {
		t.Fatalf("round trip %q != %q", back, local)
	}
}
