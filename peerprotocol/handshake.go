package peerprotocol

import (
	"errors"
	"io"
)

// InfoHash is the 20-byte SHA-1 of the bencoded info dictionary. Decoding
// the metainfo dictionary itself is out of scope for this engine; callers
// supply the already-computed hash.
type InfoHash [InfoHashLen]byte

// PeerID is the 20-byte self-identification string sent in the handshake.
type PeerID [PeerIDLen]byte

// ExtensionBits are the 8 reserved handshake bytes. This engine doesn't
// negotiate BEP extensions (no magnet/metadata-exchange protocol per spec),
// so these are preserved verbatim for logging but otherwise unused on send;
// on receive, the fast-extension bit is masked out to avoid triggering fast
// extension message ids we don't implement (HaveAll/HaveNone/RejectRequest).
type ExtensionBits [8]byte

// Handshake is the 68-byte message exchanged before any framed message.
type Handshake struct {
	Extensions ExtensionBits
	InfoHash   InfoHash
	PeerID     PeerID
}

func (h Handshake) MarshalBinary() []byte {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, byte(len(Protocol)))
	buf = append(buf, Protocol...)
	buf = append(buf, h.Extensions[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

var (
	errBadProtocolLen = errors.New("peerprotocol: bad protocol name length")
	errBadProtocol    = errors.New("peerprotocol: unexpected protocol name")
)

// ReadHandshake reads and validates a handshake from r, bit-exact with BEP 3:
// 0x13 "BitTorrent protocol" <8 reserved> <20-byte infohash> <20-byte peer-id>.
func ReadHandshake(r io.Reader) (h Handshake, err error) {
	var lenByte [1]byte
	if _, err = io.ReadFull(r, lenByte[:]); err != nil {
		return
	}
	if lenByte[0] != byte(len(Protocol)) {
		err = errBadProtocolLen
		return
	}
	proto := make([]byte, lenByte[0])
	if _, err = io.ReadFull(r, proto); err != nil {
		return
	}
	if string(proto) != Protocol {
		err = errBadProtocol
		return
	}
	if _, err = io.ReadFull(r, h.Extensions[:]); err != nil {
		return
	}
	h.Extensions[7] &^= 0x04 // fast extension bit
	if _, err = io.ReadFull(r, h.InfoHash[:]); err != nil {
		return
	}
	if _, err = io.ReadFull(r, h.PeerID[:]); err != nil {
		return
	}
	return
}
