package transferlist

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestInsertCreatesCeilBlocks(t *testing.T) {
	c := qt.New(t)
	tl := New()
	bl := tl.Insert(3, 16384*2+1, 16384)
	c.Assert(len(bl.Blocks), qt.Equals, 3)
	c.Assert(bl.Blocks[2].Length, qt.Equals, int64(1))
}

func TestLeaderPolicy(t *testing.T) {
	c := qt.New(t)
	tl := New()
	bl := tl.Insert(0, 16384, 16384)
	t1 := bl.NewTransfer(0, 1)
	t2 := bl.NewTransfer(0, 2)
	c.Assert(t1.State, qt.Equals, Leader)
	c.Assert(t2.State, qt.Equals, NotLeader)
}

func TestOvertakeOnHigherPositionMatchingData(t *testing.T) {
	c := qt.New(t)
	tl := New()
	bl := tl.Insert(0, 16384, 16384)
	b := &bl.Blocks[0]
	t1 := bl.NewTransfer(0, 1)
	t2 := bl.NewTransfer(0, 2)
	b.WriteProgress(t1, 100, 42)
	isLeader, invalidated := b.WriteProgress(t2, 200, 42)
	c.Assert(invalidated, qt.IsFalse)
	c.Assert(isLeader, qt.IsTrue)
	c.Assert(t2.State, qt.Equals, Leader)
	c.Assert(t1.State, qt.Equals, NotLeader)
}

func TestOvertakeMismatchInvalidates(t *testing.T) {
	c := qt.New(t)
	tl := New()
	bl := tl.Insert(0, 16384, 16384)
	b := &bl.Blocks[0]
	t1 := bl.NewTransfer(0, 1)
	t2 := bl.NewTransfer(0, 2)
	b.WriteProgress(t1, 100, 42)
	b.WriteProgress(t2, 50, 7)
	_, invalidated := b.WriteProgress(t2, 100, 99)
	c.Assert(invalidated, qt.IsTrue)
	c.Assert(t2.State, qt.Equals, Queued)
}

func TestFinishedOnlyByLeader(t *testing.T) {
	c := qt.New(t)
	tl := New()
	bl := tl.Insert(0, 16384, 16384)
	t1 := bl.NewTransfer(0, 1)
	t2 := bl.NewTransfer(0, 2)
	blockDone, listDone := bl.Finished(t2)
	c.Assert(blockDone, qt.IsFalse)
	c.Assert(listDone, qt.IsFalse)
	blockDone, listDone = bl.Finished(t1)
	c.Assert(blockDone, qt.IsTrue)
	c.Assert(listDone, qt.IsTrue)
}

func TestEraseRemovesFromTransferList(t *testing.T) {
	c := qt.New(t)
	tl := New()
	tl.Insert(5, 16384, 16384)
	_, ok := tl.Get(5)
	c.Assert(ok, qt.IsTrue)
	tl.Erase(5)
	_, ok = tl.Get(5)
	c.Assert(ok, qt.IsFalse)
}

func TestMostPopularPeer(t *testing.T) {
	c := qt.New(t)
	tl := New()
	bl := tl.Insert(0, 16384*2, 16384)
	bl.NewTransfer(0, 1)
	bl.NewTransfer(1, 1)
	bl.NewTransfer(0, 2) // not leader on block 0
	peer, ok := bl.MostPopularPeer()
	c.Assert(ok, qt.IsTrue)
	c.Assert(peer, qt.Equals, PeerKey(1))
}
