package tracker

import (
	"context"
	"time"

	"github.com/anacrolix/log"
	sync "github.com/anacrolix/sync"
)

// backoff is the failure escalation ladder from the component design:
// 5, 10, 20, 40, 80, 160, 299, 299s (doubling, capped at 299).
var backoffLadder = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	80 * time.Second,
	160 * time.Second,
	299 * time.Second,
	299 * time.Second,
}

func backoff(failedCount int) time.Duration {
	if failedCount <= 0 {
		return backoffLadder[0]
	}
	if failedCount >= len(backoffLadder) {
		return backoffLadder[len(backoffLadder)-1]
	}
	return backoffLadder[failedCount-1]
}

const (
	minNormalInterval = 600 * time.Second
	maxNormalInterval = 8 * 3600 * time.Second
	minMinInterval    = 300 * time.Second
	maxMinInterval    = 4 * 3600 * time.Second
)

func clampInterval(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Tracker is a single tracker endpoint with its announce/scrape state.
// State is written by the tracker thread and read by the main thread;
// Snapshot copies fields out under lock per the concurrency model.
type Tracker struct {
	URL     string
	Scrapable bool

	transport Transport
	logger    log.Logger

	mu             sync.Mutex
	enabled        bool
	requesting     bool
	promiscuous    bool
	failureMode    bool
	inFlight       bool
	inFlightScrape bool
	canceled       bool

	successCounter int
	failedCounter  int
	lastActivity   time.Time
	lastError      error
	normalInterval time.Duration
	minInterval    time.Duration
	lastAnnounce   time.Time
	numPeers       int

	requestingAttempts int
}

// NewTracker constructs a Tracker in the enabled, not-yet-announced state.
func NewTracker(url string, scrapable bool, transport Transport, logger log.Logger) *Tracker {
	return &Tracker{
		URL:            url,
		Scrapable:      scrapable,
		transport:      transport,
		logger:         logger,
		enabled:        true,
		normalInterval: minNormalInterval,
		minInterval:    minMinInterval,
	}
}

func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Tracker) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *Tracker) IsBusy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Snapshot copies out the observable Status fields under lock.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Status{
		URL:          t.URL,
		Enabled:      t.enabled,
		LastAnnounce: t.lastAnnounce,
		Interval:     t.normalInterval,
		NumPeers:     t.numPeers,
		LastError:    t.lastError,
	}
	if !t.lastAnnounce.IsZero() {
		s.NextAnnounce = t.lastAnnounce.Add(t.nextDelayLocked())
	}
	return s
}

// ResumeState is the subset of a Tracker's fields spec.md §6's "Persisted
// state layout" names for restart scheduling continuity: enabled flag,
// success/failure counters, last activity time, and the negotiated
// interval bounds. Re-applying it on restart means a tracker that was
// deep in backoff before shutdown resumes its backoff instead of
// re-announcing as if freshly discovered.
type ResumeState struct {
	Enabled        bool
	SuccessCounter int
	FailedCounter  int
	LastActivity   time.Time
	NormalInterval time.Duration
	MinInterval    time.Duration
}

// ResumeState snapshots the fields ResumeState persists.
func (t *Tracker) ResumeState() ResumeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ResumeState{
		Enabled:        t.enabled,
		SuccessCounter: t.successCounter,
		FailedCounter:  t.failedCounter,
		LastActivity:   t.lastActivity,
		NormalInterval: t.normalInterval,
		MinInterval:    t.minInterval,
	}
}

// RestoreResumeState re-applies a previously saved ResumeState. Must be
// called before the tracker's first SendStart, since SendEvent
// overwrites these counters on its own first successful/failed announce.
func (t *Tracker) RestoreResumeState(rs ResumeState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = rs.Enabled
	t.successCounter = rs.SuccessCounter
	t.failedCounter = rs.FailedCounter
	t.lastActivity = rs.LastActivity
	t.failureMode = rs.FailedCounter > 0
	if rs.NormalInterval > 0 {
		t.normalInterval = rs.NormalInterval
	}
	if rs.MinInterval > 0 {
		t.minInterval = rs.MinInterval
	}
}

// nextDelayLocked implements the "next timeout" formula from the
// component design, assuming the caller holds t.mu.
func (t *Tracker) nextDelayLocked() time.Duration {
	if !t.enabled {
		return time.Duration(1<<63 - 1)
	}
	if t.inFlight {
		return time.Duration(1<<63 - 1)
	}
	if t.failureMode {
		return backoff(t.failedCounter)
	}
	return t.normalInterval
}

// SendEvent performs send_start/send_stop/send_completed/send_update
// semantics for this single tracker. The caller (TierList/Controller)
// is responsible for tier-level fan-out (promiscuous mode) and
// mutual-exclusion between completed/update.
func (t *Tracker) SendEvent(ctx context.Context, ev Event, p AnnounceParams) (AnnounceResult, error) {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return AnnounceResult{}, errAlreadyInFlight
	}
	t.inFlight = true
	t.canceled = false
	t.mu.Unlock()

	p.Event = ev
	p.TrackerID = t.trackerIDLocked()
	res, err := t.transport.Announce(ctx, t.URL, p)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = false
	if t.canceled {
		t.lastError = context.Canceled
		return AnnounceResult{}, context.Canceled
	}
	t.lastActivity = time.Now()
	if err != nil {
		t.failedCounter++
		t.successCounter = 0
		t.failureMode = true
		t.lastError = err
		return AnnounceResult{}, err
	}
	t.failedCounter = 0
	t.failureMode = false
	t.successCounter++
	t.lastError = nil
	t.lastAnnounce = time.Now()
	t.numPeers = len(res.Peers)
	if res.Interval > 0 {
		t.normalInterval = clampInterval(res.Interval, minNormalInterval, maxNormalInterval)
	}
	if res.MinInterval > 0 {
		t.minInterval = clampInterval(res.MinInterval, minMinInterval, maxMinInterval)
	}
	return res, nil
}

func (t *Tracker) trackerIDLocked() string { return "" }

// Scrape performs a single-shot scrape; never preempts a non-scrape
// in-flight request on the same tracker.
func (t *Tracker) Scrape(ctx context.Context) (ScrapeResult, error) {
	t.mu.Lock()
	if t.inFlight || t.inFlightScrape {
		t.mu.Unlock()
		return ScrapeResult{}, errAlreadyInFlight
	}
	t.inFlightScrape = true
	t.mu.Unlock()

	res, err := t.transport.Scrape(ctx, t.URL)

	t.mu.Lock()
	t.inFlightScrape = false
	t.mu.Unlock()
	return res, err
}

// Cancel marks the in-flight request (if any) as canceled; idempotent.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
}

var errAlreadyInFlight = trackerError("tracker: request already in flight")

type trackerError string

func (e trackerError) Error() string { return string(e) }
