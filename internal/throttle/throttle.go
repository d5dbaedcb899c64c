// Package throttle implements ThrottleList (spec.md §5 Backpressure):
// a per-peer byte-quota allocator refilled continuously at one tick's quota
// per tick interval. A peer with no
// quota left is the "removed from the write-ready set until the next
// tick" case; the caller just stops serving/requesting for that peer and
// retries next Tick.
package throttle

import (
	"time"

	"golang.org/x/time/rate"
)

// List hands out per-key token buckets. Each key's bucket refills at
// bytesPerTick/interval.Seconds() bytes per second with a burst cap of
// 2*bytesPerTick, so an idle key's unused quota carries forward by at
// most one tick ("quotas carry at most one tick forward") instead of
// accumulating without bound.
type List struct {
	bytesPerTick int64
	interval     time.Duration
	limiters     map[string]*rate.Limiter
}

// New returns a List with no limit when bytesPerTick <= 0 (AllowN always
// reports true), matching a Download built without a Config throttle.
func New(bytesPerTick int64, interval time.Duration) *List {
	return &List{
		bytesPerTick: bytesPerTick,
		interval:     interval,
		limiters:     make(map[string]*rate.Limiter),
	}
}

func (l *List) limiterFor(key string) *rate.Limiter {
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	perSec := rate.Limit(float64(l.bytesPerTick) / l.interval.Seconds())
	lim := rate.NewLimiter(perSec, int(l.bytesPerTick*2))
	l.limiters[key] = lim
	return lim
}

// AllowN reports whether n bytes may be sent/received for key right now,
// consuming that much quota if so.
func (l *List) AllowN(key string, n int) bool {
	if l.bytesPerTick <= 0 {
		return true
	}
	return l.limiterFor(key).AllowN(time.Now(), n)
}

// Remove discards key's bucket, e.g. on peer disconnect, so List doesn't
// grow unbounded across a swarm's churn.
func (l *List) Remove(key string) {
	delete(l.limiters, key)
}
