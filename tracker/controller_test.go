package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/anacrolix/log"
	qt "github.com/frankban/quicktest"
)

func staticParams() AnnounceParams { return AnnounceParams{} }

func TestSendStartPromiscuousFirstSuccessClearsFlag(t *testing.T) {
	c := qt.New(t)
	slow := NewTracker("http://slow", false, &fakeTransport{
		announce: func(ctx context.Context, url string, p AnnounceParams) (AnnounceResult, error) {
			return AnnounceResult{}, errors.New("down")
		},
	}, log.Default)
	fast := NewTracker("http://fast", false, &fakeTransport{
		announce: func(ctx context.Context, url string, p AnnounceParams) (AnnounceResult, error) {
			return AnnounceResult{Interval: 0}, nil
		},
	}, log.Default)

	ctrl := NewController(TierList{{slow, fast}}, staticParams, nil, 0, log.Default)
	ctrl.SendStart(context.Background())

	c.Assert(ctrl.IsPromiscuousMode(), qt.IsFalse)
	c.Assert(ctrl.IsActive(), qt.IsTrue)
}

func TestPromoteToHeadReordersTier(t *testing.T) {
	c := qt.New(t)
	a := NewTracker("a", false, nil, log.Default)
	b := NewTracker("b", false, nil, log.Default)
	cc := NewTracker("c", false, nil, log.Default)
	tiers := TierList{{a, b, cc}}

	promoteToHead(tiers, cc)
	c.Assert(tiers[0][0], qt.Equals, cc)
	c.Assert(tiers[0][1], qt.Equals, a)
	c.Assert(tiers[0][2], qt.Equals, b)
}

func TestSendStopUsesStartedTrackerOnly(t *testing.T) {
	c := qt.New(t)
	var stopped string
	makeTr := func(name string, fail bool) *Tracker {
		return NewTracker(name, false, &fakeTransport{
			announce: func(ctx context.Context, url string, p AnnounceParams) (AnnounceResult, error) {
				if p.Event == EventStopped {
					stopped = name
					return AnnounceResult{}, nil
				}
				if fail {
					return AnnounceResult{}, errors.New("down")
				}
				return AnnounceResult{}, nil
			},
		}, log.Default)
	}
	t1 := makeTr("t1", true)
	t2 := makeTr("t2", false)
	ctrl := NewController(TierList{{t1, t2}}, staticParams, nil, 0, log.Default)
	ctrl.SendStart(context.Background())
	ctrl.SendStop(context.Background())

	c.Assert(stopped, qt.Equals, "t2")
	c.Assert(ctrl.IsActive(), qt.IsFalse)
}
