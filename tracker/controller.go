package tracker

import (
	"context"
	"time"

	"github.com/anacrolix/log"
	sync "github.com/anacrolix/sync"

	"github.com/btengine/torrent/internal/sched"
)

// TierList groups Trackers into ordered tiers (groups), per the component
// design: within a tier, a successful tracker is promoted to the head so
// subsequent announces reuse it first.
type TierList [][]*Tracker

// Controller is the per-torrent tracker controller (C13): announce/scrape
// scheduling across a TierList, failure backoff, promiscuous mode during
// start, requesting mode, and scrape scheduling.
type Controller struct {
	logger log.Logger
	params func() AnnounceParams

	mu              sync.Mutex
	tiers           TierList
	active          bool
	promiscuous     bool
	requesting      bool
	failureMode     bool
	startedTracker  *Tracker // the tracker that accepted send_start, for send_stop
	completedSent   bool

	sc  *sched.Scheduler
	key sched.Key
}

// NewController builds a Controller over tiers. params is invoked fresh
// for each announce to pick up current uploaded/downloaded/left figures.
func NewController(tiers TierList, params func() AnnounceParams, sc *sched.Scheduler, key sched.Key, logger log.Logger) *Controller {
	return &Controller{
		logger: logger,
		params: params,
		tiers:  tiers,
		sc:     sc,
		key:    key,
	}
}

// Tiers returns the controller's tracker tiers, for callers that need to
// walk every Tracker directly (e.g. resume-state save/restore).
func (c *Controller) Tiers() TierList {
	return c.tiers
}

func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) IsPromiscuousMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promiscuous
}

func (c *Controller) IsRequesting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requesting
}

func (c *Controller) IsFailureMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureMode
}

// SendStart announces to every enabled tracker in every tier in parallel
// (promiscuous mode); the first success clears promiscuous mode and
// becomes the tracker of record for a later SendStop.
func (c *Controller) SendStart(ctx context.Context) {
	c.mu.Lock()
	c.active = true
	c.promiscuous = true
	tiers := c.tiers
	c.mu.Unlock()

	type result struct {
		tr  *Tracker
		res AnnounceResult
		err error
	}
	results := make(chan result, countTrackers(tiers))
	launched := 0
	for _, tier := range tiers {
		for _, tr := range tier {
			if !tr.Enabled() {
				continue
			}
			launched++
			go func(tr *Tracker) {
				res, err := tr.SendEvent(ctx, EventStarted, c.params())
				results <- result{tr, res, err}
			}(tr)
		}
	}

	for i := 0; i < launched; i++ {
		r := <-results
		if r.err == nil {
			c.mu.Lock()
			if c.promiscuous {
				c.promiscuous = false
				c.startedTracker = r.tr
				c.failureMode = false
			}
			c.mu.Unlock()
			promoteToHead(tiers, r.tr)
		}
	}

	c.mu.Lock()
	if c.startedTracker == nil {
		c.failureMode = true
	}
	c.mu.Unlock()
}

// SendStop makes a single best-effort attempt from the tracker that
// accepted send_start; no retry is scheduled on failure.
func (c *Controller) SendStop(ctx context.Context) {
	c.mu.Lock()
	tr := c.startedTracker
	c.active = false
	c.mu.Unlock()
	if tr == nil {
		return
	}
	_, _ = tr.SendEvent(ctx, EventStopped, c.params())
}

// SendCompleted sends exactly once, mutually exclusive with SendUpdate.
func (c *Controller) SendCompleted(ctx context.Context) {
	c.mu.Lock()
	if c.completedSent {
		c.mu.Unlock()
		return
	}
	c.completedSent = true
	tiers := c.tiers
	c.mu.Unlock()

	for _, tr := range firstEnabledPerTier(tiers) {
		res, err := tr.SendEvent(ctx, EventCompleted, c.params())
		if err == nil {
			promoteToHead(tiers, tr)
			_ = res
			return
		}
	}
}

// SendUpdate coalesces to the soonest permitted announce on the
// highest-priority available tracker.
func (c *Controller) SendUpdate(ctx context.Context) {
	c.mu.Lock()
	if c.completedSent {
		c.mu.Unlock()
		return
	}
	tiers := c.tiers
	c.mu.Unlock()

	for _, tr := range firstEnabledPerTier(tiers) {
		if tr.IsBusy() {
			continue
		}
		res, err := tr.SendEvent(ctx, EventNone, c.params())
		if err == nil {
			promoteToHead(tiers, tr)
			_ = res
			return
		}
	}
	c.mu.Lock()
	c.failureMode = allTrackersFailing(tiers)
	c.mu.Unlock()
}

// ScrapeRequest schedules a single-shot scrape of scrapable trackers after
// delay; it never preempts a non-scrape in-flight request on the same
// tracker (Tracker.Scrape already enforces that).
func (c *Controller) ScrapeRequest(ctx context.Context, delay time.Duration) {
	c.mu.Lock()
	tiers := c.tiers
	c.mu.Unlock()
	run := func() {
		for _, tier := range tiers {
			for _, tr := range tier {
				if tr.Scrapable {
					go tr.Scrape(ctx)
				}
			}
		}
	}
	if c.sc == nil || delay <= 0 {
		run()
		return
	}
	c.sc.Insert(c.key, time.Now().Add(delay), run)
}

// SecondsToNextTimeout is the observable announce scheduling surface: the
// minimum, across all trackers, of the per-tracker "next timeout" formula.
func (c *Controller) SecondsToNextTimeout() float64 {
	c.mu.Lock()
	tiers := c.tiers
	active := c.active
	c.mu.Unlock()
	if !active {
		return -1
	}
	min := time.Duration(1<<63 - 1)
	for _, tier := range tiers {
		for _, tr := range tier {
			d := tr.Snapshot()
			if d.NextAnnounce.IsZero() {
				continue
			}
			remain := time.Until(d.NextAnnounce)
			if remain < min {
				min = remain
			}
		}
	}
	if min < 0 {
		min = 0
	}
	return min.Seconds()
}

// StartRequesting enters requesting mode: up to attempts rounds, each
// announcing to the first enabled, non-busy tracker of every tier and
// waiting 5 s before the next round. Requesting mode is left at the first
// successful announce or after the last round.
func (c *Controller) StartRequesting(ctx context.Context, attempts int) {
	c.mu.Lock()
	c.requesting = true
	tiers := c.tiers
	c.mu.Unlock()

	go func() {
		for n := 0; n < attempts; n++ {
			c.mu.Lock()
			stillRequesting := c.requesting
			c.mu.Unlock()
			if !stillRequesting {
				return
			}
			for _, tr := range firstEnabledPerTier(tiers) {
				if tr.IsBusy() {
					continue
				}
				if _, err := tr.SendEvent(ctx, EventNone, c.params()); err == nil {
					promoteToHead(tiers, tr)
					c.mu.Lock()
					c.requesting = false
					c.mu.Unlock()
					return
				}
			}
			time.Sleep(5 * time.Second)
		}
		c.mu.Lock()
		c.requesting = false
		c.mu.Unlock()
	}()
}

func countTrackers(tiers TierList) int {
	n := 0
	for _, tier := range tiers {
		n += len(tier)
	}
	return n
}

func firstEnabledPerTier(tiers TierList) []*Tracker {
	var out []*Tracker
	for _, tier := range tiers {
		for _, tr := range tier {
			if tr.Enabled() {
				out = append(out, tr)
			}
		}
	}
	return out
}

func allTrackersFailing(tiers TierList) bool {
	for _, tier := range tiers {
		for _, tr := range tier {
			if tr.Snapshot().LastError == nil {
				return false
			}
		}
	}
	return true
}

// promoteToHead moves tr to index 0 of its containing tier, implementing
// "on a tier-internal success the successful tracker is promoted to the
// head of its tier".
func promoteToHead(tiers TierList, tr *Tracker) {
	for ti, tier := range tiers {
		for i, candidate := range tier {
			if candidate == tr {
				if i == 0 {
					return
				}
				newTier := make([]*Tracker, 0, len(tier))
				newTier = append(newTier, tr)
				newTier = append(newTier, tier[:i]...)
				newTier = append(newTier, tier[i+1:]...)
				tiers[ti] = newTier
				return
			}
		}
	}
}
