package chokemgr

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestBalancePicksFastestDownloadersFirst(t *testing.T) {
	c := qt.New(t)
	candidates := []Candidate{
		{Key: "not-interested", Interested: false, DownloadRate: 1000},
		{Key: "slow", Interested: true, DownloadRate: 10},
		{Key: "fast", Interested: true, DownloadRate: 10000},
		{Key: "medium", Interested: true, DownloadRate: 500},
	}

	out := Balance(candidates, 2)
	c.Assert(out, qt.HasLen, 2)
	c.Assert(out["fast"], qt.IsTrue)
	c.Assert(out["medium"], qt.IsTrue)
	c.Assert(out["slow"], qt.IsFalse)
	c.Assert(out["not-interested"], qt.IsFalse)
}

func TestBalanceTieBreaksOnUploadRate(t *testing.T) {
	c := qt.New(t)
	candidates := []Candidate{
		{Key: "a", Interested: true, DownloadRate: 100, UploadRate: 1},
		{Key: "b", Interested: true, DownloadRate: 100, UploadRate: 50},
	}
	out := Balance(candidates, 1)
	c.Assert(out["b"], qt.IsTrue)
}

func TestBalanceDemotesSnubbedPeers(t *testing.T) {
	c := qt.New(t)
	candidates := []Candidate{
		{Key: "snubbed", Interested: true, DownloadRate: 10000, Snubbed: true},
		{Key: "honest", Interested: true, DownloadRate: 1},
	}
	out := Balance(candidates, 1)
	c.Assert(out["honest"], qt.IsTrue)
}

func TestCycleRespectsGracePeriod(t *testing.T) {
	c := qt.New(t)
	now := time.Now()
	candidates := []Candidate{
		{Key: "worst-unchoked", Interested: true, DownloadRate: 1, UnchokedAt: now.Add(-10 * time.Second)},
		{Key: "best-choked", Interested: true, DownloadRate: 1000},
	}
	demote, promote := Cycle(candidates, 1, now, DefaultGracePeriod)
	c.Assert(demote, qt.Equals, "")
	c.Assert(promote, qt.Equals, "")
}

func TestCycleRotatesWhenSaturatedAndPastGrace(t *testing.T) {
	c := qt.New(t)
	now := time.Now()
	candidates := []Candidate{
		{Key: "worst-unchoked", Interested: true, DownloadRate: 1, UnchokedAt: now.Add(-60 * time.Second)},
		{Key: "best-choked", Interested: true, DownloadRate: 1000},
	}
	demote, promote := Cycle(candidates, 1, now, DefaultGracePeriod)
	c.Assert(demote, qt.Equals, "worst-unchoked")
	c.Assert(promote, qt.Equals, "best-choked")
}
