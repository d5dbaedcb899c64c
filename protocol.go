package torrent

import (
	"github.com/btengine/torrent/peerprotocol"
)

// Request identifies one block within a chunk, the root package's view of
// a requestqueue.Request (kept as a distinct type here since the root
// package also uses it for request-tracking independent of any one
// connection's queue).
type Request struct {
	Index, Begin, Length uint32
}

func makeCancelMessage(r Request) peerprotocol.Message {
	return peerprotocol.MakeCancelMessage(r.Index, r.Begin, r.Length)
}

func makeRequestMessage(r Request) peerprotocol.Message {
	return peerprotocol.MakeRequestMessage(r.Index, r.Begin, r.Length)
}
