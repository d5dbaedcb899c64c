package connlist

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestInsertFiresOnConnectedAndRejectsDuplicate(t *testing.T) {
	c := qt.New(t)
	var connected []string
	l := New(0, func(info Info) (string, error) { return info.Key, nil },
		func(s string) { connected = append(connected, s) }, nil)

	_, err := l.Insert(Info{Key: "a"})
	c.Assert(err, qt.IsNil)
	_, err = l.Insert(Info{Key: "a"})
	c.Assert(errors.Is(err, errDuplicate), qt.IsTrue)
	c.Assert(connected, qt.DeepEquals, []string{"a"})
}

func TestInsertRejectsOverCapacity(t *testing.T) {
	c := qt.New(t)
	l := New(1, func(info Info) (string, error) { return info.Key, nil }, nil, nil)
	_, err := l.Insert(Info{Key: "a"})
	c.Assert(err, qt.IsNil)
	_, err = l.Insert(Info{Key: "b"})
	c.Assert(errors.Is(err, errFull), qt.IsTrue)
}

func TestEraseRemovesBeforeNotifying(t *testing.T) {
	c := qt.New(t)
	var lenAtDisconnect int
	var l *List[string]
	l = New(0, func(info Info) (string, error) { return info.Key, nil }, nil,
		func(s string) { lenAtDisconnect = l.Len() })
	l.Insert(Info{Key: "a"})
	l.Insert(Info{Key: "b"})
	ok := l.Erase("a")
	c.Assert(ok, qt.IsTrue)
	c.Assert(lenAtDisconnect, qt.Equals, 1)
	c.Assert(l.Len(), qt.Equals, 1)
}

func TestEraseSeedersEvictsOnlySeeders(t *testing.T) {
	c := qt.New(t)
	l := New(0, func(info Info) (string, error) { return info.Key, nil }, nil, nil)
	l.Insert(Info{Key: "leech"})
	l.Insert(Info{Key: "seed", Seeding: true})

	evicted := l.EraseSeeders()
	c.Assert(evicted, qt.DeepEquals, []string{"seed"})
	c.Assert(l.Len(), qt.Equals, 1)
}

func TestSetDifferenceExcludesConnected(t *testing.T) {
	c := qt.New(t)
	l := New(0, func(info Info) (string, error) { return info.Key, nil }, nil, nil)
	l.Insert(Info{Key: "a"})
	out := l.SetDifference([]string{"a", "b", "c"})
	c.Assert(out, qt.DeepEquals, []string{"b", "c"})
}
