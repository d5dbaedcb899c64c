package sched

import (
	"time"

	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
)

// WakeSource is the poll abstraction: something a Thread can wait on with
// a bounded timeout and that reports whether it woke due to real readiness
// (vs. timing out). In the original design this wraps a file-descriptor
// readiness set; here it is satisfied by a channel of ready tokens so pure
// computational threads (hash, tracker) can share the same Tick shape as
// a real network-facing one.
type WakeSource interface {
	// Wait blocks until either a token is available or timeout elapses.
	// Returns true if it woke due to a token (real work to do).
	Wait(timeout time.Duration) bool
}

// ChanWakeSource adapts a channel into a WakeSource; sending to Ready
// wakes any thread currently polling.
type ChanWakeSource struct {
	Ready chan struct{}
}

func NewChanWakeSource() *ChanWakeSource {
	return &ChanWakeSource{Ready: make(chan struct{}, 1)}
}

func (c *ChanWakeSource) Wait(timeout time.Duration) bool {
	select {
	case <-c.Ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *ChanWakeSource) Wake() {
	select {
	case c.Ready <- struct{}{}:
	default:
	}
}

const maxPollTimeout = 10 * time.Minute

// Thread bundles the per-thread Scheduler, SignalBitfield, and Inbox with
// a WakeSource, driving the five-step tick from the component design:
// run inbox callbacks, run expired scheduler entries, service signal bits,
// poll with a bounded timeout, then process whatever woke it.
type Thread struct {
	Name      string
	Scheduler *Scheduler
	Inbox     *Inbox
	Signals   *SignalBitfield
	Wake      WakeSource
	Logger    log.Logger

	// OnSignal handles a drained signal bitmask; OnWake handles a real
	// wake-up from Wake.Wait returning true (e.g. process ready network
	// events). Both are optional.
	OnSignal func(bits uint64)
	OnWake   func()

	stop chan struct{}
}

func NewThread(name string, logger log.Logger) *Thread {
	return &Thread{
		Name:      name,
		Scheduler: NewScheduler(),
		Inbox:     NewInbox(256),
		Signals:   &SignalBitfield{},
		Wake:      NewChanWakeSource(),
		Logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Tick runs one iteration of the five-step loop and returns how many
// inbox callbacks and scheduler entries fired.
func (t *Thread) Tick(now time.Time) (inboxRan, schedRan int) {
	inboxRan = t.Inbox.Drain()
	schedRan = t.Scheduler.Perform(now)
	if bits := t.Signals.DrainAll(); bits != 0 && t.OnSignal != nil {
		t.OnSignal(bits)
	}
	timeout := maxPollTimeout
	if at, ok := t.Scheduler.NextAt(); ok {
		if d := time.Until(at); d < timeout {
			if d < 0 {
				d = 0
			}
			timeout = d
		}
	}
	if t.Wake.Wait(timeout) && t.OnWake != nil {
		t.OnWake()
	}
	return
}

// Run drives Tick in a loop until Stop is called. Intended to be run as
// its own goroutine, one per core thread (main/hash/tracker), matching
// the component design's three-thread model.
func (t *Thread) Run() {
	if envpprof.Stop != nil {
		defer envpprof.Stop()
	}
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		t.Tick(time.Now())
	}
}

func (t *Thread) Stop() {
	close(t.stop)
}
