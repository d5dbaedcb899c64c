package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anacrolix/log"
	qt "github.com/frankban/quicktest"
)

type fakeTransport struct {
	announce func(ctx context.Context, url string, p AnnounceParams) (AnnounceResult, error)
	scrape   func(ctx context.Context, url string) (ScrapeResult, error)
}

func (f *fakeTransport) Announce(ctx context.Context, url string, p AnnounceParams) (AnnounceResult, error) {
	return f.announce(ctx, url, p)
}

func (f *fakeTransport) Scrape(ctx context.Context, url string) (ScrapeResult, error) {
	return f.scrape(ctx, url)
}

func TestBackoffLadderDoublesThenCaps(t *testing.T) {
	c := qt.New(t)
	c.Assert(backoff(0), qt.Equals, 5*time.Second)
	c.Assert(backoff(1), qt.Equals, 5*time.Second)
	c.Assert(backoff(2), qt.Equals, 10*time.Second)
	c.Assert(backoff(7), qt.Equals, 299*time.Second)
	c.Assert(backoff(100), qt.Equals, 299*time.Second)
}

func TestSendEventSuccessUpdatesIntervalsAndClearsFailure(t *testing.T) {
	c := qt.New(t)
	transport := &fakeTransport{
		announce: func(ctx context.Context, url string, p AnnounceParams) (AnnounceResult, error) {
			return AnnounceResult{Interval: 1800 * time.Second, MinInterval: 900 * time.Second, Peers: []PeerAddr{{IP: "1.2.3.4", Port: 6881}}}, nil
		},
	}
	tr := NewTracker("http://example.com/announce", true, transport, log.Default)
	res, err := tr.SendEvent(context.Background(), EventStarted, AnnounceParams{})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Peers, qt.HasLen, 1)

	snap := tr.Snapshot()
	c.Assert(snap.IsWorking(), qt.IsTrue)
	c.Assert(snap.Interval, qt.Equals, 1800*time.Second)
}

func TestSendEventFailureEntersFailureModeWithBackoff(t *testing.T) {
	c := qt.New(t)
	wantErr := errors.New("boom")
	transport := &fakeTransport{
		announce: func(ctx context.Context, url string, p AnnounceParams) (AnnounceResult, error) {
			return AnnounceResult{}, wantErr
		},
	}
	tr := NewTracker("http://example.com/announce", false, transport, log.Default)
	_, err := tr.SendEvent(context.Background(), EventNone, AnnounceParams{})
	c.Assert(err, qt.Equals, wantErr)

	snap := tr.Snapshot()
	c.Assert(snap.IsWorking(), qt.IsFalse)
	c.Assert(snap.ErrorType(), qt.Equals, ErrUnknown)
}

func TestSendEventRejectsConcurrentInFlight(t *testing.T) {
	c := qt.New(t)
	started := make(chan struct{})
	release := make(chan struct{})
	transport := &fakeTransport{
		announce: func(ctx context.Context, url string, p AnnounceParams) (AnnounceResult, error) {
			close(started)
			<-release
			return AnnounceResult{}, nil
		},
	}
	tr := NewTracker("http://example.com", false, transport, log.Default)
	go tr.SendEvent(context.Background(), EventNone, AnnounceParams{})
	<-started

	_, err := tr.SendEvent(context.Background(), EventNone, AnnounceParams{})
	c.Assert(err, qt.Equals, errAlreadyInFlight)
	close(release)
}
