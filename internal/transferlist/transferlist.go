// Package transferlist tracks per-in-flight-piece block state (C5): the
// mapping chunk-index -> BlockList, each BlockList owning its Blocks
// contiguously so BlockTransfers can reference them by stable index instead
// of pointer, per the arena+stable-index strategy in spec.md §9 (avoids the
// pointer-fixup problems of the original's PeerConnection -> Download,
// BlockTransfer -> Block -> BlockList -> TransferList back-pointers).
package transferlist

import "fmt"

// TransferState is the lifecycle of one peer's attempt at one block.
type TransferState int

const (
	Queued TransferState = iota
	Leader
	NotLeader
	Erased
)

func (s TransferState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Leader:
		return "leader"
	case NotLeader:
		return "not_leader"
	case Erased:
		return "erased"
	default:
		return "invalid"
	}
}

// PeerKey identifies a connection for per-transfer bookkeeping without
// holding a pointer to it; the caller's connection table owns the mapping.
type PeerKey uint64

// Block is one fixed-size sub-range of a chunk, identified by its owning
// BlockList and position within it. Blocks are transient: they exist only
// while their chunk is in flight.
type Block struct {
	ListIndex  int
	BlockIndex int
	Offset     int64
	Length     int64
	Finished   bool
	// leaderKey is the PeerKey of the current leader transfer, if any.
	leaderKey PeerKey
	hasLeader bool
	// transfers captured for this block, keyed by peer so that hash-fail
	// retry can pick among "most popular content among captured transfers".
	transfers map[PeerKey]*BlockTransfer
}

// BlockTransfer is one peer's attempt at one block.
type BlockTransfer struct {
	ListIndex  int
	BlockIndex int
	PeerKey    PeerKey
	State      TransferState
	// Position is how many bytes of this transfer's block have been
	// written; invariant Position <= block length.
	Position int64
	// digest is a cheap rolling signature of bytes received so far, used to
	// decide "data agrees" when a later writer tries to overtake the
	// leader without re-reading the chunk buffer.
	digest uint32
	stalls int
}

// BlockList holds every Block for one in-flight chunk.
type BlockList struct {
	ChunkIndex    int
	BlockSize     int64
	PieceLength   int64
	Blocks        []Block
	FinishedCount int
	AttemptCount  int
}

// TransferList maps chunk-index -> *BlockList for chunks currently in
// flight. Invariant: an entry here means the chunk is not yet verified; on
// verification success or failure the entry is erased.
type TransferList struct {
	byChunk map[int]*BlockList
}

func New() *TransferList {
	return &TransferList{byChunk: make(map[int]*BlockList)}
}

// Insert creates a BlockList with ceil(pieceLength/blockSize) Blocks for
// chunkIndex and registers it. Returns the existing BlockList if already
// present (insert is otherwise idempotent).
func (tl *TransferList) Insert(chunkIndex int, pieceLength, blockSize int64) *BlockList {
	if bl, ok := tl.byChunk[chunkIndex]; ok {
		return bl
	}
	n := int((pieceLength + blockSize - 1) / blockSize)
	bl := &BlockList{
		ChunkIndex:  chunkIndex,
		BlockSize:   blockSize,
		PieceLength: pieceLength,
		Blocks:      make([]Block, n),
	}
	for i := range bl.Blocks {
		off := int64(i) * blockSize
		length := blockSize
		if off+length > pieceLength {
			length = pieceLength - off
		}
		bl.Blocks[i] = Block{
			ListIndex:  chunkIndex,
			BlockIndex: i,
			Offset:     off,
			Length:     length,
			transfers:  make(map[PeerKey]*BlockTransfer),
		}
	}
	tl.byChunk[chunkIndex] = bl
	return bl
}

// Get returns the BlockList in flight for chunkIndex, if any.
func (tl *TransferList) Get(chunkIndex int) (*BlockList, bool) {
	bl, ok := tl.byChunk[chunkIndex]
	return bl, ok
}

// Erase removes the chunk's in-flight state entirely (verification success
// or permanent failure).
func (tl *TransferList) Erase(chunkIndex int) {
	delete(tl.byChunk, chunkIndex)
}

// Len reports how many chunks are currently in flight.
func (tl *TransferList) Len() int { return len(tl.byChunk) }

// ChunkIndices returns the set of chunks currently in flight, for endgame
// re-request scanning (the chunk selector's partial_queue).
func (tl *TransferList) ChunkIndices() []int {
	out := make([]int, 0, len(tl.byChunk))
	for idx := range tl.byChunk {
		out = append(out, idx)
	}
	return out
}

// NewTransfer registers a BlockTransfer for (block, peer). Exactly one
// transfer exists per (block, peer) pair; calling twice for the same pair
// returns the existing transfer.
func (bl *BlockList) NewTransfer(blockIndex int, peer PeerKey) *BlockTransfer {
	b := &bl.Blocks[blockIndex]
	if t, ok := b.transfers[peer]; ok {
		return t
	}
	t := &BlockTransfer{
		ListIndex:  bl.ChunkIndex,
		BlockIndex: blockIndex,
		PeerKey:    peer,
		State:      Queued,
	}
	if !b.hasLeader {
		t.State = Leader
		b.hasLeader = true
		b.leaderKey = peer
	} else {
		t.State = NotLeader
	}
	b.transfers[peer] = t
	return t
}

// WriteProgress records bytes received for t, advancing Position. If t is
// not the leader, its bytes are discarded unless it has overtaken the
// leader's position and the data it captured so far agrees (same digest up
// to the overlapping length); mismatched bytes invalidate the late
// transfer (it is dropped back to Queued and must restart).
func (b *Block) WriteProgress(t *BlockTransfer, n int64, chunkDigest uint32) (isLeader bool, invalidated bool) {
	t.Position += n
	if t.Position > b.Length {
		t.Position = b.Length
	}
	if t.State == Leader {
		return true, false
	}
	// Only a NotLeader transfer that has progressed further than the
	// current leader and whose digest matches is promoted.
	leader, ok := b.transfers[b.leaderKey]
	if !ok || t.Position <= leader.Position {
		t.digest = chunkDigest
		return false, false
	}
	if t.digest != 0 && t.digest != chunkDigest {
		t.State = Queued
		t.Position = 0
		return false, true
	}
	t.digest = chunkDigest
	leader.State = NotLeader
	t.State = Leader
	b.leaderKey = t.PeerKey
	return true, false
}

// Finished marks a block finished iff transfer t is the leader. Returns
// whether the whole BlockList is now complete.
func (bl *BlockList) Finished(t *BlockTransfer) (blockDone, listDone bool) {
	b := &bl.Blocks[t.BlockIndex]
	if t.State != Leader {
		return false, bl.FinishedCount == len(bl.Blocks)
	}
	if b.Finished {
		return true, bl.FinishedCount == len(bl.Blocks)
	}
	b.Finished = true
	bl.FinishedCount++
	return true, bl.FinishedCount == len(bl.Blocks)
}

// Stall marks all transfers for the given peer on this chunk as stalled,
// used by RequestQueue.stall() to change endgame re-request eligibility.
func (bl *BlockList) Stall(peer PeerKey) {
	for i := range bl.Blocks {
		if t, ok := bl.Blocks[i].transfers[peer]; ok {
			t.stalls++
		}
	}
}

// InvalidateAll transitions every transfer in the BlockList to Erased,
// returning the set of peers that had a transfer captured. The engine's
// hash-fail path (Download.onHashFailed) discards this set; no peer is
// disconnected.
func (bl *BlockList) InvalidateAll() []PeerKey {
	seen := make(map[PeerKey]bool)
	var peers []PeerKey
	for i := range bl.Blocks {
		b := &bl.Blocks[i]
		for peer, t := range b.transfers {
			t.State = Erased
			if !seen[peer] {
				seen[peer] = true
				peers = append(peers, peer)
			}
		}
		b.transfers = make(map[PeerKey]*BlockTransfer)
		b.hasLeader = false
		b.Finished = false
	}
	bl.FinishedCount = 0
	return peers
}

// MostPopularPeer scans captured transfers and returns the peer whose
// transfer reached leader state on the most blocks. The engine's hash-fail
// retry does not call it; retry re-downloads every block after
// InvalidateAll.
func (bl *BlockList) MostPopularPeer() (PeerKey, bool) {
	counts := make(map[PeerKey]int)
	for i := range bl.Blocks {
		b := &bl.Blocks[i]
		if b.hasLeader {
			counts[b.leaderKey]++
		}
	}
	var best PeerKey
	bestCount := -1
	for peer, n := range counts {
		if n > bestCount {
			best, bestCount = peer, n
		}
	}
	return best, bestCount >= 0
}

func (bl *BlockList) String() string {
	return fmt.Sprintf("blocklist(chunk=%d, finished=%d/%d, attempts=%d)",
		bl.ChunkIndex, bl.FinishedCount, len(bl.Blocks), bl.AttemptCount)
}
