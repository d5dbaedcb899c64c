// Package requestqueue implements the per-connection outstanding block
// request queue (C8): delegation of new block requests, matching incoming
// PIECE data to queued requests, cancellation, stalling, and pipeline-size
// adaptation.
package requestqueue

import (
	"github.com/btengine/torrent/internal/transferlist"
)

// Request identifies one outstanding block request on the wire.
type Request struct {
	Index, Begin uint32
	Length       uint32
}

// entry pairs a Request with its BlockTransfer.
type entry struct {
	req      Request
	transfer *transferlist.BlockTransfer
	chunk    int
	block    int
}

// ChunkSource is satisfied by the chunk selector; requestqueue doesn't
// import reqstrategy directly so it can be driven by any selection policy,
// including tests with a fixed chunk sequence.
type ChunkSource interface {
	// NextChunk returns a chunk index to request from this peer, or false
	// if none is available.
	NextChunk(highPriority bool) (int, bool)
	PieceLength(chunk int) int64
}

// Endgame, when true, allows requesting the same block from multiple
// peers and shrinks the pipeline clamp range.
type Queue struct {
	peer         transferlist.PeerKey
	transfers    *transferlist.TransferList
	blockSize    int64
	queue        []*entry
	endgame      bool
	stallCounter int
}

func New(peer transferlist.PeerKey, transfers *transferlist.TransferList, blockSize int64) *Queue {
	return &Queue{peer: peer, transfers: transfers, blockSize: blockSize}
}

func (q *Queue) SetEndgame(v bool) { q.endgame = v }

// PipeSize returns the pipeline depth for a peer with the given recent
// download rate (bytes/sec), clamped {2..200} normally, {1..80} in endgame.
func (q *Queue) PipeSize(rateBytesPerSec float64) int {
	// One request's worth of data per RTT-ish window (assume ~1s, scaled by
	// block size), giving a simple function of rate.
	offset := 2
	lo, hi := 2, 200
	if q.endgame {
		offset, lo, hi = 1, 1, 80
	}
	n := int(rateBytesPerSec/float64(q.blockSize)) + offset
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return n
}

// Len reports the number of outstanding requests.
func (q *Queue) Len() int { return len(q.queue) }

// Delegate asks the chunk source for a chunk the peer has and we need,
// creates a BlockTransfer for the first not-yet-requested-by-this-peer
// block of that chunk's BlockList (inserting one if this is the first
// request for the chunk), appends it to the queue, and returns the Request
// to send on the wire.
func (q *Queue) Delegate(source ChunkSource, highPriority bool) (Request, bool) {
	for attempts := 0; attempts < 8; attempts++ {
		chunk, ok := source.NextChunk(highPriority)
		if !ok {
			return Request{}, false
		}
		pieceLen := source.PieceLength(chunk)
		bl := q.transfers.Insert(chunk, pieceLen, q.blockSize)
		blockIdx, ok := q.firstUnrequestedBlock(bl)
		if !ok {
			// Every block of this chunk is already requested by us; in
			// endgame we may still duplicate onto this peer.
			if !q.endgame {
				continue
			}
			blockIdx, ok = q.anyBlock(bl)
			if !ok {
				continue
			}
		}
		t := bl.NewTransfer(blockIdx, q.peer)
		b := &bl.Blocks[blockIdx]
		e := &entry{
			req:      Request{Index: uint32(chunk), Begin: uint32(b.Offset), Length: uint32(b.Length)},
			transfer: t,
			chunk:    chunk,
			block:    blockIdx,
		}
		q.queue = append(q.queue, e)
		return e.req, true
	}
	return Request{}, false
}

func (q *Queue) firstUnrequestedBlock(bl *transferlist.BlockList) (int, bool) {
	requested := make(map[int]bool, len(q.queue))
	for _, e := range q.queue {
		if e.chunk == bl.ChunkIndex {
			requested[e.block] = true
		}
	}
	for i := range bl.Blocks {
		if !bl.Blocks[i].Finished && !requested[i] {
			return i, true
		}
	}
	return 0, false
}

func (q *Queue) anyBlock(bl *transferlist.BlockList) (int, bool) {
	for i := range bl.Blocks {
		if !bl.Blocks[i].Finished {
			return i, true
		}
	}
	return 0, false
}

// Downloading matches an incoming PIECE header to the queued request and
// returns the transfer so the caller can stream bytes into it via
// BlockList/Block.WriteProgress.
func (q *Queue) Downloading(index, begin uint32) (*transferlist.BlockTransfer, bool) {
	for _, e := range q.queue {
		if e.req.Index == index && e.req.Begin == begin {
			return e.transfer, true
		}
	}
	return nil, false
}

// Finished marks the given request complete and removes it from the queue.
func (q *Queue) Finished(index, begin uint32) {
	for i, e := range q.queue {
		if e.req.Index == index && e.req.Begin == begin {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			return
		}
	}
}

// Cancel empties the queue and returns every still-outstanding Request.
// The BlockTransfers stay in the transfer list with their state unchanged.
func (q *Queue) Cancel() []Request {
	out := make([]Request, 0, len(q.queue))
	for _, e := range q.queue {
		out = append(out, e.req)
	}
	q.queue = nil
	return out
}

// Stall increments this peer's stall counter on the BlockList of every
// queued chunk. Nothing reads those counters, so it does not affect which
// blocks are requested.
func (q *Queue) Stall() {
	q.stallCounter++
	seen := make(map[int]bool)
	for _, e := range q.queue {
		if seen[e.chunk] {
			continue
		}
		seen[e.chunk] = true
		if bl, ok := q.transfers.Get(e.chunk); ok {
			bl.Stall(q.peer)
		}
	}
}

// StallCount reports how many times Stall has fired on this queue.
func (q *Queue) StallCount() int { return q.stallCounter }
