package peerlist

import (
	"net/netip"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestInsertAddressIsIdempotent(t *testing.T) {
	c := qt.New(t)
	l := New()
	addr := netip.MustParseAddr("10.0.0.1")
	pi1 := l.InsertAddress(addr, 6881, InsertFlags{Available: true})
	pi2 := l.InsertAddress(addr, 6881, InsertFlags{Available: true})
	c.Assert(pi1, qt.Equals, pi2)
	c.Assert(l.AvailableLen(), qt.Equals, 1)
}

func TestDisconnectedResetsPortAndRequeues(t *testing.T) {
	c := qt.New(t)
	l := New()
	addr := netip.MustParseAddr("10.0.0.2")
	pi := l.Connected(addr, 6881, InsertFlags{})
	l.Disconnected(pi, 6881, true)
	c.Assert(pi.Port, qt.Equals, uint16(6881))
	c.Assert(l.AvailableLen(), qt.Equals, 1)
}

func TestCullRemovesStale(t *testing.T) {
	c := qt.New(t)
	l := New()
	fakeNow := time.Now()
	l.now = func() time.Time { return fakeNow }
	addr := netip.MustParseAddr("10.0.0.3")
	l.Connected(addr, 6881, InsertFlags{})
	fakeNow = fakeNow.Add(2 * time.Hour)
	removed := l.Cull(time.Hour, CullFlags{})
	c.Assert(removed, qt.Equals, 1)
	c.Assert(l.Len(), qt.Equals, 0)
}

func TestCullKeepsInteresting(t *testing.T) {
	c := qt.New(t)
	l := New()
	fakeNow := time.Now()
	l.now = func() time.Time { return fakeNow }
	addr := netip.MustParseAddr("10.0.0.4")
	pi := l.Connected(addr, 6881, InsertFlags{})
	pi.FailedCount = 3
	fakeNow = fakeNow.Add(2 * time.Hour)
	removed := l.Cull(time.Hour, CullFlags{KeepInteresting: true})
	c.Assert(removed, qt.Equals, 0)
}
