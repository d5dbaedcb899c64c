package peerconn

import (
	"io"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	sync "github.com/anacrolix/sync"

	"github.com/btengine/torrent/peerprotocol"
)

// KeepAliveInterval is how often a message writer sends a keep-alive if
// nothing else was written, per the component design's "keep-alive every
// 120s" timer.
const KeepAliveInterval = 120 * time.Second

// Delegate receives dispatched wire events from a PeerConn's read loop.
// Implemented by the orchestrator (Download) to avoid peerconn importing
// back up to the root package.
type Delegate interface {
	OnChoke()
	OnUnchoke()
	OnInterested()
	OnNotInterested()
	OnHave(index uint32) error
	OnBitfield(b []byte) error
	OnRequest(index, begin, length uint32)
	OnCancel(index, begin, length uint32)
	OnPiece(index, begin uint32, data []byte)
	// Useful reports whether a keep-alive is worth sending (mirrors the
	// teacher's peerConnMsgWriter.keepAlive callback).
	Useful() bool
}

// PeerConn is a single peer connection's wire state machine (C9): a read
// loop dispatching to Delegate, and a MessageWriter loop draining what the
// caller enqueues via Write. Framing errors from peerprotocol.ReadMessage
// are protocol violations; the caller (connlist) erases the peer on
// ReadLoop returning a *peerprotocol.ProtocolError.
type PeerConn struct {
	Conn   io.ReadWriteCloser
	Writer *MessageWriter
	logger log.Logger

	mu              sync.Mutex
	choking         bool // we are choking the peer
	peerChoking     bool // the peer is choking us
	interested      bool // we are interested in the peer
	peerInterested  bool
	bitfieldReceived bool
	gotFirstMessage bool

	lastMessageReceived time.Time
	lastChoked          time.Time

	closed chansync.SetOnce
}

func New(conn io.ReadWriteCloser, delegate Delegate, logger log.Logger) *PeerConn {
	pc := &PeerConn{
		Conn:        conn,
		logger:      logger,
		choking:     true,
		peerChoking: true,
	}
	pc.Writer = NewMessageWriter(conn, &pc.closed, logger, func() {}, delegate.Useful)
	return pc
}

// Start launches the write loop; ReadLoop is run by the caller (typically
// its own goroutine) since it blocks on Conn reads.
func (pc *PeerConn) Start() {
	go pc.Writer.Run(KeepAliveInterval)
}

func (pc *PeerConn) Close() error {
	pc.closed.Set()
	return pc.Conn.Close()
}

func (pc *PeerConn) Closed() bool { return pc.closed.IsSet() }

// Choking reports whether we are currently choking the peer.
func (pc *PeerConn) Choking() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.choking
}

// PeerChoking reports whether the peer is currently choking us.
func (pc *PeerConn) PeerChoking() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.peerChoking
}

func (pc *PeerConn) PeerInterested() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.peerInterested
}

func (pc *PeerConn) Interested() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.interested
}

// SetChoking enforces the ≥10s anti-oscillation gap from the component
// design: a choke/unchoke is only sent (and lastChoked updated) if the
// gap since the last change has elapsed, or force bypasses it (used once
// at connection setup).
func (pc *PeerConn) SetChoking(choke bool, force bool) bool {
	pc.mu.Lock()
	if pc.choking == choke {
		pc.mu.Unlock()
		return false
	}
	if !force && time.Since(pc.lastChoked) < 10*time.Second {
		pc.mu.Unlock()
		return false
	}
	pc.choking = choke
	pc.lastChoked = time.Now()
	pc.mu.Unlock()

	id := peerprotocol.Unchoke
	if choke {
		id = peerprotocol.Choke
	}
	pc.Writer.Write(peerprotocol.Message{ID: id})
	return true
}

func (pc *PeerConn) SetInterested(interested bool) bool {
	pc.mu.Lock()
	if pc.interested == interested {
		pc.mu.Unlock()
		return false
	}
	pc.interested = interested
	pc.mu.Unlock()

	id := peerprotocol.NotInterested
	if interested {
		id = peerprotocol.Interested
	}
	return pc.Writer.Write(peerprotocol.Message{ID: id})
}

// ReadLoop blocks reading and dispatching messages until the connection
// closes or a protocol violation occurs (returned as *peerprotocol.ProtocolError).
func (pc *PeerConn) ReadLoop(delegate Delegate) error {
	for {
		msg, err := peerprotocol.ReadMessage(pc.Conn)
		if err != nil {
			return err
		}
		pc.mu.Lock()
		pc.lastMessageReceived = time.Now()
		pc.mu.Unlock()
		if msg.Keepalive {
			continue
		}
		if err := pc.dispatch(msg, delegate); err != nil {
			return err
		}
		pc.mu.Lock()
		pc.gotFirstMessage = true
		pc.mu.Unlock()
	}
}

func (pc *PeerConn) dispatch(msg peerprotocol.Message, delegate Delegate) error {
	if msg.ID == peerprotocol.Bitfield {
		pc.mu.Lock()
		alreadyStarted := pc.gotFirstMessage
		pc.bitfieldReceived = true
		pc.mu.Unlock()
		if alreadyStarted {
			return peerprotocol.NewProtocolError("bitfield received after other messages")
		}
		return delegate.OnBitfield(msg.Piece)
	}

	switch msg.ID {
	case peerprotocol.Choke:
		pc.mu.Lock()
		pc.peerChoking = true
		pc.mu.Unlock()
		delegate.OnChoke()
	case peerprotocol.Unchoke:
		pc.mu.Lock()
		pc.peerChoking = false
		pc.mu.Unlock()
		delegate.OnUnchoke()
	case peerprotocol.Interested:
		pc.mu.Lock()
		pc.peerInterested = true
		pc.mu.Unlock()
		delegate.OnInterested()
	case peerprotocol.NotInterested:
		pc.mu.Lock()
		pc.peerInterested = false
		pc.mu.Unlock()
		delegate.OnNotInterested()
	case peerprotocol.Have:
		return delegate.OnHave(msg.Index)
	case peerprotocol.Request:
		delegate.OnRequest(msg.Index, msg.Begin, msg.Length)
	case peerprotocol.Cancel:
		delegate.OnCancel(msg.Index, msg.Begin, msg.Length)
	case peerprotocol.Piece:
		delegate.OnPiece(msg.Index, msg.Begin, msg.Piece)
	case peerprotocol.Port:
		// DHT port announcement; accepted and ignored (no DHT in this engine).
	default:
		return peerprotocol.NewProtocolError("unhandled message id %v", msg.ID)
	}
	return nil
}
