package torrent

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/btengine/torrent/internal/bitfield"
	"github.com/btengine/torrent/tracker"
)

// resumeBucket namespaces resume-state keys within the *bolt.DB the caller
// passes to SaveResume/LoadResume. The BoltDB storage backend
// (storage/bolt.go) does not expose its handle, so this is a bbolt file
// separate from piece data.
var resumeBucket = []byte("resume")

// trackerResumeState is the per-tracker slice of spec.md §6's "Persisted
// state layout": enabled flag, success/failure counters, last activity
// time, and negotiated interval bounds, keyed by tracker URL since that's
// the one stable identifier across a restart.
type trackerResumeState struct {
	URL   string               `json:"url"`
	State tracker.ResumeState `json:"state"`
}

// resumeRecord is the on-disk shape of a Download's resume state: the
// completed-chunk bitfield plus per-tracker scheduling continuity. Per-file
// completed counters aren't stored separately — filelist.MarkCompleted
// recomputes them from the bitfield on LoadResume, so persisting them
// again would just be a derivable, staleness-prone duplicate.
type resumeRecord struct {
	NumChunks int                  `json:"num_chunks"`
	Bitfield  []byte               `json:"bitfield"`
	Trackers  []trackerResumeState `json:"trackers"`
}

// SaveResume persists the Download's completed-chunk bitfield and
// per-tracker scheduling state to db, keyed by the torrent's infohash.
// Call after Open (or periodically while running) so a restart doesn't
// re-hash-check completed chunks or re-announce trackers from a cold
// backoff state.
func (d *Download) SaveResume(db *bolt.DB) error {
	rec := resumeRecord{
		NumChunks: d.info.NumPieces(),
		Bitfield:  append([]byte(nil), d.complete.Bytes()...),
	}
	for _, tier := range d.tracker.Tiers() {
		for _, tr := range tier {
			rec.Trackers = append(rec.Trackers, trackerResumeState{
				URL:   tr.URL,
				State: tr.ResumeState(),
			})
		}
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("resume: encode: %w", err)
	}

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(resumeBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.infoHash.String()), buf)
	})
}

// LoadResume restores a previously saved resume record from db, if one
// exists for this Download's infohash. Must be called before Open, since
// Open re-derives d.state from whatever d.complete/d.files already show.
// Returns (false, nil) when no resume record exists — a fresh download,
// not an error.
func (d *Download) LoadResume(db *bolt.DB) (bool, error) {
	var buf []byte
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(resumeBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(d.infoHash.String()))
		if v != nil {
			buf = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("resume: read: %w", err)
	}
	if buf == nil {
		return false, nil
	}

	var rec resumeRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return false, fmt.Errorf("resume: decode: %w", err)
	}
	if rec.NumChunks != d.info.NumPieces() {
		return false, fmt.Errorf("resume: chunk count mismatch: saved %d, torrent has %d", rec.NumChunks, d.info.NumPieces())
	}

	d.complete = bitfield.FromBytes(rec.Bitfield, rec.NumChunks)
	d.complete.Iterate(func(i int) bool {
		d.files.MarkCompleted(i)
		return true
	})

	byURL := make(map[string]tracker.ResumeState, len(rec.Trackers))
	for _, ts := range rec.Trackers {
		byURL[ts.URL] = ts.State
	}
	for _, tier := range d.tracker.Tiers() {
		for _, tr := range tier {
			if rs, ok := byURL[tr.URL]; ok {
				tr.RestoreResumeState(rs)
			}
		}
	}

	return true, nil
}
