package requestqueue

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/btengine/torrent/internal/transferlist"
)

type fixedSource struct {
	chunks []int
	i      int
	length int64
}

func (f *fixedSource) NextChunk(highPriority bool) (int, bool) {
	if f.i >= len(f.chunks) {
		return 0, false
	}
	c := f.chunks[f.i]
	f.i++
	return c, true
}

func (f *fixedSource) PieceLength(chunk int) int64 { return f.length }

func TestDelegateCreatesTransferAndRequest(t *testing.T) {
	c := qt.New(t)
	tl := transferlist.New()
	q := New(1, tl, 16384)
	src := &fixedSource{chunks: []int{0}, length: 16384}
	req, ok := q.Delegate(src, false)
	c.Assert(ok, qt.IsTrue)
	c.Assert(req.Index, qt.Equals, uint32(0))
	c.Assert(q.Len(), qt.Equals, 1)
}

func TestDownloadingMatchesAndFinished(t *testing.T) {
	c := qt.New(t)
	tl := transferlist.New()
	q := New(1, tl, 16384)
	src := &fixedSource{chunks: []int{0}, length: 16384}
	req, _ := q.Delegate(src, false)
	transfer, ok := q.Downloading(req.Index, req.Begin)
	c.Assert(ok, qt.IsTrue)
	c.Assert(transfer.State, qt.Equals, transferlist.Leader)
	q.Finished(req.Index, req.Begin)
	c.Assert(q.Len(), qt.Equals, 0)
}

func TestCancelReturnsOutstanding(t *testing.T) {
	c := qt.New(t)
	tl := transferlist.New()
	q := New(1, tl, 16384)
	src := &fixedSource{chunks: []int{0, 1}, length: 16384 * 2}
	q.Delegate(src, false)
	q.Delegate(src, false)
	reqs := q.Cancel()
	c.Assert(len(reqs), qt.Equals, 2)
	c.Assert(q.Len(), qt.Equals, 0)
}

func TestPipeSizeClampsNormalAndEndgame(t *testing.T) {
	c := qt.New(t)
	tl := transferlist.New()
	q := New(1, tl, 16384)
	c.Assert(q.PipeSize(0), qt.Equals, 2)
	c.Assert(q.PipeSize(1e9), qt.Equals, 200)
	q.SetEndgame(true)
	c.Assert(q.PipeSize(0), qt.Equals, 1)
	c.Assert(q.PipeSize(1e9), qt.Equals, 80)
}
