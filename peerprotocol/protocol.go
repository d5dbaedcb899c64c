// Package peerprotocol implements the BitTorrent v1 wire protocol: the
// handshake, the length-prefixed message framing, and the fixed set of
// message ids described by BEP 3.
package peerprotocol

import "fmt"

const (
	// Protocol is the handshake's protocol name string.
	Protocol = "BitTorrent protocol"

	// HandshakeLen is the total byte length of a handshake message.
	HandshakeLen = 1 + len(Protocol) + 8 + InfoHashLen + PeerIDLen

	InfoHashLen = 20
	PeerIDLen   = 20

	// MaxRequestLength is the largest payload a REQUEST/PIECE may carry.
	// 16 KiB is the conventional block size; some clients request more, so
	// the engine accepts up to this ceiling before treating the length as a
	// protocol violation.
	MaxRequestLength = 1 << 17 // 131072

	// MaxMessageLength bounds the length-prefix read in the "length" read
	// state: any larger packet is a protocol violation rather than an OOM
	// vector.
	MaxMessageLength = MaxRequestLength + 9
)

// MessageID is the single byte following the length prefix that selects the
// message's meaning. Keep-alive has no id (it's the zero-length message).
type MessageID byte

const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port // DHT port announcement; accepted and ignored (no DHT in this engine).
)

func (m MessageID) String() string {
	switch m {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", byte(m))
	}
}

// ProtocolError is returned whenever a peer violates the wire framing:
// unknown message id, oversized length, BITFIELD sent out of order, a HAVE
// or BITFIELD that does not fit the torrent, and so on. A REQUEST for an
// invalid chunk is not reported as a violation. The wire FSM (peerconn)
// reacts to it by disconnecting the offending peer.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol violation: " + e.Reason }

func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
