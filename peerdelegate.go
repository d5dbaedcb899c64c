package torrent

import (
	"context"
	"io"
	"net"

	"github.com/anacrolix/log"

	"github.com/btengine/torrent/internal/bitfield"
	"github.com/btengine/torrent/internal/connlist"
	"github.com/btengine/torrent/internal/requestqueue"
	"github.com/btengine/torrent/internal/transferlist"
	"github.com/btengine/torrent/peerconn"
	"github.com/btengine/torrent/peerprotocol"
)

// connectPeer is the connlist.Factory: it wraps an already-dialed/accepted
// net.Conn (carried via Info.Conn, since connlist's Info has no room for
// transport-specific data of its own) into a peerConnEntry, builds the
// PeerConn around it, and starts its write loop and read-dispatch
// goroutine.
func (d *Download) connectPeer(info connlist.Info) (*peerConnEntry, error) {
	conn, ok := info.Conn.(io.ReadWriteCloser)
	if !ok {
		return nil, errBadConnInfo
	}
	entry := &peerConnEntry{key: info.Key, peer: transferlist.PeerKey(hashKey(info.Key))}
	delegate := &connDelegate{d: d, entry: entry}
	entry.conn = peerconn.New(conn, delegate, d.logger)
	entry.queue = requestqueue.New(entry.peer, d.transfers, blockSize)

	entry.conn.Start()
	go func() {
		err := entry.conn.ReadLoop(delegate)
		d.logger.WithDefaultLevel(log.Debug).Printf("peer %s read loop ended: %v", info.Key, err)
		d.conns.Erase(info.Key)
	}()

	// Send our bitfield as the connection's first outgoing message (spec.md
	// §4.9 read_state's "BITFIELD valid only as the first non-none
	// message" implies every connection greets with one), so the peer can
	// immediately tell whether it's worth declaring interest in us.
	entry.conn.Writer.Write(peerprotocol.MakeBitfieldMessage(d.complete.Bytes()))

	d.computeAllowedFast(entry)

	return entry, nil
}

// allowedFastSetSize bounds how many pieces a peer's allowedFast set can
// hold, so a swarm of many peers doesn't each pin an unbounded number of
// "served regardless of choke" pieces.
const allowedFastSetSize = 10

// computeAllowedFast fills entry.allowedFast with up to allowedFastSetSize
// piece indices deterministically derived from the peer's key, restricted
// to pieces we already have complete (we can only serve what we hold).
// This is local policy only — the engine doesn't speak BEP 6's wire-level
// ALLOWED_FAST message (peerprotocol/protocol.go) — so it only ever takes
// effect for requests the peer happens to send for one of these indices
// while choked, rather than being advertised up front.
func (d *Download) computeAllowedFast(entry *peerConnEntry) {
	n := d.info.NumPieces()
	if n == 0 {
		return
	}
	h := hashKey(entry.key)
	for i := 0; i < allowedFastSetSize; i++ {
		idx := uint32((h + uint64(i)*2654435761) % uint64(n))
		if d.complete.Get(int(idx)) {
			entry.allowedFast.Add(idx)
		}
	}
}

type connInfoError string

func (e connInfoError) Error() string { return string(e) }

var errBadConnInfo = connInfoError("torrent: connectPeer: info.Conn is not an io.ReadWriteCloser")

// hashKey turns a normalized peer address string into a stable PeerKey via
// FNV-1a, so requestqueue/transferlist bookkeeping doesn't need to hold a
// pointer back to the connection.
func hashKey(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// onPeerConnected and onPeerDisconnected are the connlist notification
// hooks (spec.md §4.11 slot_connected/slot_disconnected).
func (d *Download) onPeerConnected(e *peerConnEntry) {
	d.logger.WithDefaultLevel(log.Debug).Printf("peer %s connected", e.key)
	d.metrics.PeersConnected.Inc()
}

func (d *Download) onPeerDisconnected(e *peerConnEntry) {
	e.queue.Cancel()
	d.metrics.PeersConnected.Dec()
	d.uploadThrottle.Remove(e.key)
	d.downloadThrottle.Remove(e.key)
}

// DialPeer dials addr and admits it into the connection list.
func (d *Download) DialPeer(dialer Dialer, addr string) error {
	conn, err := dialer.Dial(context.Background(), addr)
	if err != nil {
		return err
	}
	_, err = d.conns.Insert(connlist.Info{Key: addr, Conn: conn})
	return err
}

// AcceptPeer admits an already-accepted incoming connection.
func (d *Download) AcceptPeer(conn net.Conn) error {
	_, err := d.conns.Insert(connlist.Info{Key: conn.RemoteAddr().String(), Conn: conn})
	return err
}

// connDelegate bridges one PeerConn's wire events into the owning
// Download, per spec.md §4.9's per-message handling list.
type connDelegate struct {
	d     *Download
	entry *peerConnEntry
}

func (c *connDelegate) OnChoke() {
	// A choking peer discards our outstanding requests, so drop them from
	// the queue; they are re-delegated after the next unchoke.
	c.entry.queue.Cancel()
}

func (c *connDelegate) OnUnchoke() {
	c.d.tryFillPipeline(c.entry)
}

func (c *connDelegate) OnInterested() {}

func (c *connDelegate) OnNotInterested() {}

func (c *connDelegate) OnHave(index uint32) error {
	if int(index) >= c.d.info.NumPieces() {
		return peerprotocol.NewProtocolError("have index %d out of range", index)
	}
	if c.entry.peerBitfield != nil {
		c.entry.peerBitfield.Set(int(index))
	}
	if c.d.selector.ReceivedHaveChunk(int(index)) && !c.entry.conn.Interested() {
		c.entry.conn.SetInterested(true)
	}
	return nil
}

func (c *connDelegate) OnBitfield(b []byte) error {
	n := c.d.info.NumPieces()
	if len(b) != (n+7)/8 {
		return peerprotocol.NewProtocolError("bitfield wrong length %d", len(b))
	}
	c.entry.peerBitfield = bitfield.FromBytes(b, n)
	if c.entry.peerHasAnyWanted(c.d) && !c.entry.conn.Interested() {
		c.entry.conn.SetInterested(true)
	}
	return nil
}

func (c *connDelegate) OnRequest(index, begin, length uint32) {
	if c.entry.conn.Choking() && !c.entry.allowedFast.Contains(index) {
		return
	}
	c.entry.sendList = append(c.entry.sendList, Request{Index: index, Begin: begin, Length: length})
}

func (c *connDelegate) OnCancel(index, begin, length uint32) {
	for i, r := range c.entry.sendList {
		if r.Index == index && r.Begin == begin && r.Length == length {
			c.entry.sendList = append(c.entry.sendList[:i], c.entry.sendList[i+1:]...)
			return
		}
	}
}

func (c *connDelegate) OnPiece(index, begin uint32, data []byte) {
	c.d.onPieceReceived(c.entry, index, begin, data)
}

func (c *connDelegate) Useful() bool {
	return !c.entry.conn.Closed()
}
