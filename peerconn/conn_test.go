package peerconn

import (
	"bytes"
	"io"
	"testing"

	"github.com/anacrolix/log"
	qt "github.com/frankban/quicktest"

	"github.com/btengine/torrent/peerprotocol"
)

type pipeConn struct {
	io.Reader
	io.Writer
}

func (pipeConn) Close() error { return nil }

type recordingDelegate struct {
	choked, unchoked, interested, notInterested int
	haves                                       []uint32
	bitfields                                   [][]byte
	requests                                    [][3]uint32
	cancels                                     [][3]uint32
	pieces                                      []struct {
		index, begin uint32
		data         []byte
	}
}

func (d *recordingDelegate) OnChoke()         { d.choked++ }
func (d *recordingDelegate) OnUnchoke()       { d.unchoked++ }
func (d *recordingDelegate) OnInterested()    { d.interested++ }
func (d *recordingDelegate) OnNotInterested() { d.notInterested++ }
func (d *recordingDelegate) OnHave(index uint32) error {
	d.haves = append(d.haves, index)
	return nil
}
func (d *recordingDelegate) OnBitfield(b []byte) error {
	d.bitfields = append(d.bitfields, b)
	return nil
}
func (d *recordingDelegate) OnRequest(index, begin, length uint32) {
	d.requests = append(d.requests, [3]uint32{index, begin, length})
}
func (d *recordingDelegate) OnCancel(index, begin, length uint32) {
	d.cancels = append(d.cancels, [3]uint32{index, begin, length})
}
func (d *recordingDelegate) OnPiece(index, begin uint32, data []byte) {
	d.pieces = append(d.pieces, struct {
		index, begin uint32
		data         []byte
	}{index, begin, data})
}
func (d *recordingDelegate) Useful() bool { return true }

func writeMessages(t *testing.T, buf *bytes.Buffer, msgs ...peerprotocol.Message) {
	for _, m := range msgs {
		if err := m.WriteTo(buf); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadLoopDispatchesEveryMessageKind(t *testing.T) {
	c := qt.New(t)
	var in bytes.Buffer
	writeMessages(t, &in,
		peerprotocol.Message{ID: peerprotocol.Bitfield, Piece: []byte{0xff}},
		peerprotocol.Message{ID: peerprotocol.Choke},
		peerprotocol.Message{ID: peerprotocol.Unchoke},
		peerprotocol.Message{ID: peerprotocol.Interested},
		peerprotocol.Message{ID: peerprotocol.NotInterested},
		peerprotocol.MakeHaveMessage(3),
		peerprotocol.MakeRequestMessage(1, 0, 16384),
		peerprotocol.MakeCancelMessage(1, 0, 16384),
		peerprotocol.MakePieceMessage(1, 0, []byte("data")),
	)

	pc := New(pipeConn{Reader: &in, Writer: io.Discard}, &recordingDelegate{}, log.Logger{})
	delegate := &recordingDelegate{}
	err := pc.ReadLoop(delegate)
	c.Assert(err, qt.Equals, io.EOF)

	c.Assert(delegate.bitfields, qt.DeepEquals, [][]byte{{0xff}})
	c.Assert(delegate.choked, qt.Equals, 1)
	c.Assert(delegate.unchoked, qt.Equals, 1)
	c.Assert(delegate.interested, qt.Equals, 1)
	c.Assert(delegate.notInterested, qt.Equals, 1)
	c.Assert(delegate.haves, qt.DeepEquals, []uint32{3})
	c.Assert(delegate.requests, qt.DeepEquals, [][3]uint32{{1, 0, 16384}})
	c.Assert(delegate.cancels, qt.DeepEquals, [][3]uint32{{1, 0, 16384}})
	c.Assert(len(delegate.pieces), qt.Equals, 1)
	c.Assert(delegate.pieces[0].index, qt.Equals, uint32(1))
	c.Assert(bytes.Equal(delegate.pieces[0].data, []byte("data")), qt.IsTrue)
}

func TestReadLoopRejectsBitfieldAfterOtherMessages(t *testing.T) {
	c := qt.New(t)
	var in bytes.Buffer
	writeMessages(t, &in,
		peerprotocol.Message{ID: peerprotocol.Choke},
		peerprotocol.Message{ID: peerprotocol.Bitfield, Piece: []byte{0x00}},
	)

	pc := New(pipeConn{Reader: &in, Writer: io.Discard}, &recordingDelegate{}, log.Logger{})
	err := pc.ReadLoop(&recordingDelegate{})
	c.Assert(err, qt.Not(qt.IsNil))
	var pe *peerprotocol.ProtocolError
	c.Assert(bytes.Contains([]byte(err.Error()), []byte("bitfield")), qt.IsTrue)
	_ = pe
}

func TestSetChokingTogglesAndRespectsGap(t *testing.T) {
	c := qt.New(t)
	var out bytes.Buffer
	pc := New(pipeConn{Reader: bytes.NewReader(nil), Writer: &out}, &recordingDelegate{}, log.Logger{})

	changed := pc.SetChoking(false, true)
	c.Assert(changed, qt.IsTrue)
	c.Assert(pc.Choking(), qt.IsFalse)

	// Immediate re-toggle without force should be suppressed by the gap.
	changed = pc.SetChoking(true, false)
	c.Assert(changed, qt.IsFalse)
	c.Assert(pc.Choking(), qt.IsFalse)
}
