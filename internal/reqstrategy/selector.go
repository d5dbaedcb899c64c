// Package reqstrategy implements the chunk selector (C6): choosing the next
// chunk index to request given a peer's bitfield and the current priority
// range sets. Grounded on the teacher's request-strategy/ajwerner-btree.go,
// which keeps a priority-ordered btree.Set of pending pieces; here the
// ordered set holds the partial_queue (chunks already in flight) so an
// endgame re-request scan is O(log n) rather than a scan of every peer
// bitmap, while the priority-bucket scan itself stays the linear,
// wrap-once search spec.md §4.6 specifies.
package reqstrategy

import (
	"github.com/ajwerner/btree"

	"github.com/btengine/torrent/internal/bitfield"
)

// PeerChunks answers "does the peer have chunk i" without requiring the
// caller to expose its full Bitfield type.
type PeerChunks interface {
	Has(i int) bool
}

// Selector holds the selection state for one torrent.
type Selector struct {
	numChunks int
	// stillWantedHigh / stillWantedNormal = ~complete ∩ (high ∪ normal),
	// split by priority bucket so the high-priority bucket can be tried
	// first and normal used as fallback.
	stillWantedHigh   *bitfield.Bitfield
	stillWantedNormal *bitfield.Bitfield

	partial btree.Set[int]
	inFlight map[int]bool

	position int
}

const invalidIndex = -1

// New creates a Selector for a torrent with numChunks chunks.
func New(numChunks int) *Selector {
	return &Selector{
		numChunks:         numChunks,
		stillWantedHigh:   bitfield.New(numChunks),
		stillWantedNormal: bitfield.New(numChunks),
		partial:           btree.MakeSet[int](func(a, b int) int { return a - b }),
		inFlight:          make(map[int]bool),
	}
}

// UpdatePriorities recomputes the cached still_wanted union after FileList
// priority changes. complete is the chunk completion bitfield; high/normal
// are the chunk-index ranges (inclusive) derived from FileList priorities.
func (s *Selector) UpdatePriorities(complete *bitfield.Bitfield, normalRanges, highRanges [][2]int) {
	s.stillWantedHigh = bitfield.New(s.numChunks)
	s.stillWantedNormal = bitfield.New(s.numChunks)
	for _, r := range highRanges {
		s.stillWantedHigh.SetRange(r[0], r[1]+1)
	}
	for _, r := range normalRanges {
		s.stillWantedNormal.SetRange(r[0], r[1]+1)
	}
	notComplete := complete.Not()
	s.stillWantedHigh = s.stillWantedHigh.And(notComplete)
	s.stillWantedNormal = s.stillWantedNormal.And(notComplete)
}

// UsingIndex marks chunkIndex as in flight (added to the partial queue).
func (s *Selector) UsingIndex(chunkIndex int) {
	if !s.inFlight[chunkIndex] {
		s.inFlight[chunkIndex] = true
		s.partial.Upsert(chunkIndex)
	}
}

// NotUsingIndex removes chunkIndex from the partial queue; called on
// cancel or hash-fail.
func (s *Selector) NotUsingIndex(chunkIndex int) {
	if s.inFlight[chunkIndex] {
		delete(s.inFlight, chunkIndex)
		s.partial.Delete(chunkIndex)
	}
}

// ReceivedHaveChunk updates statistics for a HAVE and returns whether we
// would now be interested in the peer (index is in still_wanted).
func (s *Selector) ReceivedHaveChunk(index int) (interested bool) {
	return s.stillWantedHigh.Get(index) || s.stillWantedNormal.Get(index)
}

// Find selects the next chunk index to request from a peer.
//
//  1. Prefer chunks already in the partial queue that the peer has
//     (endgame re-requests).
//  2. Else linear search starting from the rotating cursor, wrapping once,
//     restricted to the requested priority bucket and to chunks the peer
//     has.
//  3. If the high-priority bucket yields nothing and highPriority was
//     requested, fall back to normal.
func (s *Selector) Find(peer PeerChunks, highPriority bool) int {
	found := invalidIndex
	it := s.partial.Iterator()
	for it.First(); it.Valid(); it.Next() {
		idx := it.Cur()
		if peer.Has(idx) {
			found = idx
			break
		}
	}
	if found != invalidIndex {
		return found
	}

	if highPriority {
		if idx := s.scanBucket(s.stillWantedHigh, peer); idx != invalidIndex {
			return idx
		}
		return s.scanBucket(s.stillWantedNormal, peer)
	}
	return s.scanBucket(s.stillWantedNormal, peer)
}

func (s *Selector) scanBucket(bucket *bitfield.Bitfield, peer PeerChunks) int {
	if s.numChunks == 0 {
		return invalidIndex
	}
	start := s.position % s.numChunks
	for offset := 0; offset < s.numChunks; offset++ {
		i := (start + offset) % s.numChunks
		if bucket.Get(i) && peer.Has(i) {
			s.position = (i + 1) % s.numChunks
			return i
		}
	}
	return invalidIndex
}

// StillWanted reports whether chunkIndex is currently desired at all
// (either priority bucket).
func (s *Selector) StillWanted(chunkIndex int) bool {
	return s.stillWantedHigh.Get(chunkIndex) || s.stillWantedNormal.Get(chunkIndex)
}

// PartialQueueLen reports how many chunks are currently in the endgame
// partial queue.
func (s *Selector) PartialQueueLen() int {
	return len(s.inFlight)
}
