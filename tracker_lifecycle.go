package torrent

import (
	"context"
	"time"
)

// announceCtxTimeout bounds a single announce/scrape round-trip so a dead
// tracker can't wedge the main thread's tick.
const announceCtxTimeout = 15 * time.Second

// startTracking sends the initial "started" announce across every tier in
// promiscuous mode (tracker.Controller.SendStart), per spec.md §4.13's
// startup sequence. Runs in its own goroutine since SendStart blocks until
// every enabled tier member has responded or failed.
func (d *Download) startTracking() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), announceCtxTimeout)
		defer cancel()
		d.tracker.SendStart(ctx)
		d.metrics.TrackerAnnounces.Inc()
	}()
}

// stopTracking sends a best-effort "stopped" announce to the tracker of
// record, per spec.md §4.13's shutdown sequence.
func (d *Download) stopTracking() {
	ctx, cancel := context.WithTimeout(context.Background(), announceCtxTimeout)
	defer cancel()
	d.tracker.SendStop(ctx)
	d.metrics.TrackerAnnounces.Inc()
}

// maybeSendTrackerUpdate fires a regular announce once the controller's
// next-timeout has elapsed, and a one-shot "completed" announce the tick a
// download finishes, per spec.md §4.13's regular-interval and completed
// events.
func (d *Download) maybeSendTrackerUpdate() {
	if !d.tracker.IsActive() {
		return
	}
	if d.State() == StateSeeding || d.complete.AllSet() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), announceCtxTimeout)
			defer cancel()
			d.tracker.SendCompleted(ctx)
			d.metrics.TrackerAnnounces.Inc()
		}()
	}
	if d.tracker.SecondsToNextTimeout() > 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), announceCtxTimeout)
		defer cancel()
		d.tracker.SendUpdate(ctx)
		d.metrics.TrackerAnnounces.Inc()
	}()
}
