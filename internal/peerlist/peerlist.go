// Package peerlist implements peer bookkeeping (C7): a multimap of
// PeerInfo keyed by normalized address, an available-peer queue, and
// staleness culling.
package peerlist

import (
	"net/netip"
	"time"

	"github.com/cespare/xxhash"
)

// AddrKey normalizes an address for PeerInfo lookup: family + address, with
// the port excluded so reconnects from a different ephemeral port still
// resolve to the same PeerInfo.
type AddrKey uint64

func KeyFor(addr netip.Addr) AddrKey {
	b := addr.AsSlice()
	return AddrKey(xxhash.Sum64(b))
}

// InsertFlags controls PeerList.InsertAddress / Connected behavior.
type InsertFlags struct {
	Available bool // enqueue in the AvailableList
	Incoming  bool // connection was accepted, not dialed
}

// PeerInfo is an immutable address plus mutable connection statistics.
// Lifetime >= any PeerConnection referencing it (connections hold a
// reference, not a copy, so stats updates are visible to the owner even
// after disconnect).
type PeerInfo struct {
	Addr       netip.Addr
	Port       uint16 // listen port; used by outgoing reconnect attempts
	PeerID     [20]byte
	HasPeerID  bool

	LastConnection time.Time
	FailedCount    int
	Incoming       bool
}

// List is the PeerList: a multimap keyed by AddrKey to PeerInfo, an
// available-peer FIFO, and culling.
type List struct {
	byKey     map[AddrKey]*PeerInfo
	available []*PeerInfo
	now       func() time.Time
}

func New() *List {
	return &List{byKey: make(map[AddrKey]*PeerInfo), now: time.Now}
}

// InsertAddress inserts a PeerInfo for addr/port if not already present;
// with flags.Available it also enqueues the PeerInfo in the AvailableList.
// Returns the (possibly pre-existing) PeerInfo.
func (l *List) InsertAddress(addr netip.Addr, port uint16, flags InsertFlags) *PeerInfo {
	key := KeyFor(addr)
	if pi, ok := l.byKey[key]; ok {
		return pi
	}
	pi := &PeerInfo{Addr: addr, Port: port}
	l.byKey[key] = pi
	if flags.Available {
		l.available = append(l.available, pi)
	}
	return pi
}

// Connected finds or creates a PeerInfo for addr, sets Incoming per flags,
// and stamps LastConnection.
func (l *List) Connected(addr netip.Addr, port uint16, flags InsertFlags) *PeerInfo {
	pi := l.InsertAddress(addr, port, InsertFlags{})
	pi.Incoming = flags.Incoming
	pi.LastConnection = l.now()
	return pi
}

// Disconnected resets the PeerInfo's port to its listen port (so future
// outgoing attempts reach the right socket) and optionally requeues the
// address into the AvailableList.
func (l *List) Disconnected(pi *PeerInfo, listenPort uint16, requeue bool) {
	pi.Port = listenPort
	if requeue {
		l.available = append(l.available, pi)
	}
}

// PopAvailable pops the next address to try connecting to, or nil if the
// queue is empty.
func (l *List) PopAvailable() *PeerInfo {
	if len(l.available) == 0 {
		return nil
	}
	pi := l.available[0]
	l.available = l.available[1:]
	return pi
}

// AvailableLen reports the size of the available-peer queue.
func (l *List) AvailableLen() int { return len(l.available) }

// CullFlags controls List.Cull.
type CullFlags struct {
	KeepInteresting bool // retain entries with nonzero FailedCount or recent activity
}

// Cull removes PeerInfos whose LastConnection is older than maxAge.
// KeepInteresting retains entries with a nonzero failed counter or recent
// activity even if stale.
func (l *List) Cull(maxAge time.Duration, flags CullFlags) (removed int) {
	cutoff := l.now().Add(-maxAge)
	for key, pi := range l.byKey {
		if pi.LastConnection.After(cutoff) {
			continue
		}
		if flags.KeepInteresting && (pi.FailedCount > 0) {
			continue
		}
		delete(l.byKey, key)
		removed++
	}
	return
}

// Len returns the number of known peers.
func (l *List) Len() int { return len(l.byKey) }

// Lookup returns the PeerInfo for addr, if known.
func (l *List) Lookup(addr netip.Addr) (*PeerInfo, bool) {
	pi, ok := l.byKey[KeyFor(addr)]
	return pi, ok
}
