package peerprotocol

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestReadMessageRoundTripsEveryKind(t *testing.T) {
	c := qt.New(t)
	msgs := []Message{
		{Keepalive: true},
		{ID: Choke},
		{ID: Unchoke},
		{ID: Interested},
		{ID: NotInterested},
		MakeHaveMessage(7),
		MakeBitfieldMessage([]byte{0xff, 0x00}),
		MakeRequestMessage(1, 2, 16384),
		MakeCancelMessage(1, 2, 16384),
		MakePieceMessage(1, 0, []byte("hello")),
	}
	for _, m := range msgs {
		var buf bytes.Buffer
		c.Assert(m.WriteTo(&buf), qt.IsNil)
		got, err := ReadMessage(&buf)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Keepalive, qt.Equals, m.Keepalive)
		if !m.Keepalive {
			c.Assert(got.ID, qt.Equals, m.ID)
			c.Assert(got.Index, qt.Equals, m.Index)
			c.Assert(got.Begin, qt.Equals, m.Begin)
			c.Assert(got.Length, qt.Equals, m.Length)
			c.Assert(bytes.Equal(got.Piece, m.Piece), qt.IsTrue)
		}
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	writeUint32(&buf, MaxMessageLength+1)
	_, err := ReadMessage(&buf)
	c.Assert(err, qt.Not(qt.IsNil))
	var pe *ProtocolError
	c.Assert(bytes.Contains([]byte(err.Error()), []byte("exceeds maximum")), qt.IsTrue)
	_ = pe
}

func TestReadMessageRejectsMismatchedFixedBodyLength(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	writeUint32(&buf, 3) // Choke (id 0) should have body length 0, not 2
	buf.WriteByte(byte(Choke))
	buf.Write([]byte{1, 2})
	_, err := ReadMessage(&buf)
	c.Assert(err, qt.Not(qt.IsNil))
}
