package peerprotocol

import (
	"encoding/binary"
	"io"
)

// ReadMessage parses one framed wire message from r: a big-endian u32
// length prefix, optionally followed by a message-id byte and payload.
// A zero length prefix is a keep-alive. Mirrors the read FSM's
// length/type/msg states from the component design in one call, since a
// goroutine-per-connection reader can simply block on io.ReadFull instead
// of resuming across poll-driven reads.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Message{Keepalive: true}, nil
	}
	if length > MaxMessageLength {
		return Message{}, NewProtocolError("message length %d exceeds maximum %d", length, MaxMessageLength)
	}

	var idBuf [1]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return Message{}, err
	}
	id := MessageID(idBuf[0])
	bodyLen := int(length) - 1

	fixed := FixedBodyLen(id)
	if fixed >= 0 && bodyLen != fixed {
		return Message{}, NewProtocolError("message id %v expects body length %d, got %d", id, fixed, bodyLen)
	}
	if bodyLen > 0 && bodyLen > MaxRequestLength+8 {
		return Message{}, NewProtocolError("message id %v body length %d too large", id, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}

	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		return Message{ID: id}, nil
	case Have:
		return Message{ID: id, Index: binary.BigEndian.Uint32(body)}, nil
	case Bitfield:
		return Message{ID: id, Piece: body}, nil
	case Request, Cancel:
		return Message{
			ID:     id,
			Index:  binary.BigEndian.Uint32(body[0:4]),
			Begin:  binary.BigEndian.Uint32(body[4:8]),
			Length: binary.BigEndian.Uint32(body[8:12]),
		}, nil
	case Piece:
		return Message{
			ID:    id,
			Index: binary.BigEndian.Uint32(body[0:4]),
			Begin: binary.BigEndian.Uint32(body[4:8]),
			Piece: body[8:],
		}, nil
	case Port:
		return Message{ID: id, Index: uint32(binary.BigEndian.Uint16(body))}, nil
	default:
		return Message{}, NewProtocolError("unknown message id %d", id)
	}
}
