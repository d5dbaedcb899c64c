package peerprotocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message is a single framed wire message. Only the fields relevant to the
// message's ID are populated; zero-value fields are ignored on encode.
// Piece carries the payload bytes for both REQUEST-shaped fields (Index,
// Begin, Length) and PIECE's trailing block bytes (Piece); Length is
// derived from len(Piece) on encode for PIECE messages.
type Message struct {
	Keepalive bool
	ID        MessageID

	Index, Begin, Length uint32
	Piece                []byte
}

func MakeCancelMessage(index, begin, length uint32) Message {
	return Message{ID: Cancel, Index: index, Begin: begin, Length: length}
}

func MakeRequestMessage(index, begin, length uint32) Message {
	return Message{ID: Request, Index: index, Begin: begin, Length: length}
}

func MakeHaveMessage(index uint32) Message {
	return Message{ID: Have, Index: index}
}

func MakeBitfieldMessage(b []byte) Message {
	return Message{ID: Bitfield, Piece: b}
}

func MakePieceMessage(index, begin uint32, block []byte) Message {
	return Message{ID: Piece, Index: index, Begin: begin, Piece: block}
}

// WriteTo encodes the message onto w using the standard
// <u32 length><u8 id?><payload> framing. Keep-alive messages are a bare
// zero length-prefix.
func (m Message) WriteTo(w io.Writer) error {
	if m.Keepalive {
		return writeUint32(w, 0)
	}
	body := m.body()
	if err := writeUint32(w, uint32(1+len(body))); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.ID)}); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

func (m Message) body() []byte {
	switch m.ID {
	case Choke, Unchoke, Interested, NotInterested:
		return nil
	case Have:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, m.Index)
		return b
	case Bitfield:
		return m.Piece
	case Request, Cancel:
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], m.Index)
		binary.BigEndian.PutUint32(b[4:8], m.Begin)
		binary.BigEndian.PutUint32(b[8:12], m.Length)
		return b
	case Piece:
		b := make([]byte, 8+len(m.Piece))
		binary.BigEndian.PutUint32(b[0:4], m.Index)
		binary.BigEndian.PutUint32(b[4:8], m.Begin)
		copy(b[8:], m.Piece)
		return b
	case Port:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(m.Index))
		return b
	default:
		panic(fmt.Sprintf("peerprotocol: unknown message id %v", m.ID))
	}
}

// MustMarshalBinary is a convenience for callers (the message writer's
// keep-alive path) that know encoding cannot fail for the given message.
func (m Message) MustMarshalBinary() []byte {
	var buf fixedBuffer
	if err := m.WriteTo(&buf); err != nil {
		panic(err)
	}
	return buf.b
}

type fixedBuffer struct{ b []byte }

func (f *fixedBuffer) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// FixedBodyLen returns the exact body length (excluding the id byte) for
// message ids whose body size doesn't depend on payload data, or -1 for
// variable-length / unknown ids. Used by the read FSM's "type" state to
// decide whether to transition to a fixed-size "msg" read or to the
// variable "bitfield"/"read_piece" states.
func FixedBodyLen(id MessageID) int {
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		return 0
	case Have:
		return 4
	case Request, Cancel:
		return 12
	case Port:
		return 2
	default:
		return -1
	}
}
