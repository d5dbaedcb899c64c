package sched

import (
	"sync"
	"time"
)

// Callback is a one-shot cross-thread callback bound to a target Key.
type Callback struct {
	Key Key
	Run func()
}

// Inbox is the lock-free-from-the-caller's-perspective queue of callbacks
// posted by other threads, drained by the owning thread each tick. It is a
// buffered channel guarded by a small mutex only for the cancel-by-key
// bookkeeping (the channel send blocks the poster only when the buffer is
// full).
type Inbox struct {
	ch chan *Callback

	mu      sync.Mutex
	pending map[Key]*Callback // posted, not yet drained
	inFlight map[Key]bool
}

func NewInbox(capacity int) *Inbox {
	return &Inbox{
		ch:       make(chan *Callback, capacity),
		pending:  make(map[Key]*Callback),
		inFlight: make(map[Key]bool),
	}
}

// Post enqueues cb for the owning thread. Never blocks the caller's
// goroutine past channel capacity contention.
func (ib *Inbox) Post(cb *Callback) {
	ib.mu.Lock()
	ib.pending[cb.Key] = cb
	ib.mu.Unlock()
	ib.ch <- cb
}

// Cancel removes a pending (not yet drained/running) callback by key.
// Idempotent: canceling an already-fired or already-canceled key is a
// no-op returning false.
func (ib *Inbox) Cancel(key Key) bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if _, ok := ib.pending[key]; !ok {
		return false
	}
	delete(ib.pending, key)
	return true
}

// CancelAndWait cancels key, or if it is already in flight, spins briefly
// waiting for it to finish, matching the component design's "cancel is
// idempotent; cancel-and-wait spins briefly for an in-flight callback".
func (ib *Inbox) CancelAndWait(key Key, spinFor time.Duration) {
	if ib.Cancel(key) {
		return
	}
	deadline := time.Now().Add(spinFor)
	for time.Now().Before(deadline) {
		ib.mu.Lock()
		inFlight := ib.inFlight[key]
		ib.mu.Unlock()
		if !inFlight {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Drain runs every callback currently queued that has not been canceled.
// Returns the number actually run. If additional callbacks are posted
// while Drain is running, they are visible to the NEXT Drain call, not
// this one (matching "process ready events; if the inbox gained entries
// during processing, break out early").
func (ib *Inbox) Drain() int {
	n := len(ib.ch)
	ran := 0
	for i := 0; i < n; i++ {
		select {
		case cb := <-ib.ch:
			ib.mu.Lock()
			_, stillPending := ib.pending[cb.Key]
			if stillPending {
				delete(ib.pending, cb.Key)
				ib.inFlight[cb.Key] = true
			}
			ib.mu.Unlock()
			if !stillPending {
				continue // canceled before it was drained
			}
			cb.Run()
			ib.mu.Lock()
			delete(ib.inFlight, cb.Key)
			ib.mu.Unlock()
			ran++
		default:
			return ran
		}
	}
	return ran
}
