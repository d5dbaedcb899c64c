package reqstrategy

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/btengine/torrent/internal/bitfield"
)

type fullPeer struct{}

func (fullPeer) Has(int) bool { return true }

type setPeer map[int]bool

func (p setPeer) Has(i int) bool { return p[i] }

func TestFindPrefersPartialQueue(t *testing.T) {
	c := qt.New(t)
	s := New(10)
	complete := bitfield.New(10)
	s.UpdatePriorities(complete, [][2]int{{0, 9}}, nil)
	s.UsingIndex(5)
	idx := s.Find(fullPeer{}, false)
	c.Assert(idx, qt.Equals, 5)
}

func TestFindWrapsAndRestrictsToPeerBitfield(t *testing.T) {
	c := qt.New(t)
	s := New(4)
	complete := bitfield.New(4)
	s.UpdatePriorities(complete, [][2]int{{0, 3}}, nil)
	peer := setPeer{2: true}
	idx := s.Find(peer, false)
	c.Assert(idx, qt.Equals, 2)
}

func TestFindHighFallsBackToNormal(t *testing.T) {
	c := qt.New(t)
	s := New(4)
	complete := bitfield.New(4)
	s.UpdatePriorities(complete, [][2]int{{0, 3}}, nil) // no high priority set
	idx := s.Find(fullPeer{}, true)
	c.Assert(idx, qt.Not(qt.Equals), -1)
}

func TestReceivedHaveChunkInterest(t *testing.T) {
	c := qt.New(t)
	s := New(4)
	complete := bitfield.New(4)
	complete.Set(0)
	s.UpdatePriorities(complete, [][2]int{{0, 3}}, nil)
	c.Assert(s.ReceivedHaveChunk(0), qt.IsFalse) // already complete
	c.Assert(s.ReceivedHaveChunk(1), qt.IsTrue)
}

func TestUsingNotUsingIndex(t *testing.T) {
	c := qt.New(t)
	s := New(4)
	s.UsingIndex(1)
	c.Assert(s.PartialQueueLen(), qt.Equals, 1)
	s.NotUsingIndex(1)
	c.Assert(s.PartialQueueLen(), qt.Equals, 0)
}
