// Package chokemgr implements the choke manager (C10): balance() selects
// at most K peers to unchoke, ranked by download rate (ties broken by
// upload rate, snubbed peers demoted), and cycle() forcibly rotates the
// lowest-ranked unchoked peer out for a choked-but-interested candidate
// every choke_cycle when all slots are saturated, subject to a grace
// period that protects a just-unchoked peer from immediate re-choking.
//
// The multi-key comparison chain is grounded on the teacher's
// connectionTrust.Cmp (peer.go), which composes
// github.com/anacrolix/multiless the same way: booleans first, then rates.
package chokemgr

import (
	"time"

	"github.com/anacrolix/multiless"
)

const (
	DefaultChokeCycle  = 30 * time.Second
	DefaultGracePeriod = 55 * time.Second
)

// Candidate is one peer's choke-eligibility snapshot, copied out by the
// caller each round; the manager itself holds no peer state.
type Candidate struct {
	Key            string
	Interested     bool
	Snubbed        bool // hasn't sent us anything in a while despite being unchoked
	DownloadRate   float64
	UploadRate     float64
	UnchokedAt     time.Time // zero if currently choked
}

// cmp orders candidates best-to-worst: not-snubbed first, then by
// download rate, then by upload rate as the tie-break.
func (l Candidate) cmp(r Candidate) int {
	return multiless.New().
		Bool(l.Snubbed, r.Snubbed).
		Float64(r.DownloadRate, l.DownloadRate).
		Float64(r.UploadRate, l.UploadRate).
		OrderingInt()
}

// Balance returns the set of candidate Keys to unchoke, given a slot
// budget. Only Interested candidates are eligible; the rest are always
// choked regardless of budget.
func Balance(candidates []Candidate, maxUnchoked int) map[string]bool {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Interested {
			eligible = append(eligible, c)
		}
	}
	sortCandidates(eligible)
	if maxUnchoked > len(eligible) {
		maxUnchoked = len(eligible)
	}
	out := make(map[string]bool, maxUnchoked)
	for i := 0; i < maxUnchoked; i++ {
		out[eligible[i].Key] = true
	}
	return out
}

// Cycle forcibly rotates the lowest-ranked currently-unchoked candidate
// out in favor of the best choked-but-interested candidate, when the
// unchoke slot count is saturated (len(unchoked) >= maxUnchoked) and
// neither swap side is within gracePeriod of its last unchoke. Returns
// (demote, promote) keys, or ("", "") if no swap should happen.
func Cycle(candidates []Candidate, maxUnchoked int, now time.Time, gracePeriod time.Duration) (demote, promote string) {
	var unchoked, choked []Candidate
	for _, c := range candidates {
		if !c.Interested {
			continue
		}
		if !c.UnchokedAt.IsZero() {
			unchoked = append(unchoked, c)
		} else {
			choked = append(choked, c)
		}
	}
	if len(unchoked) < maxUnchoked || len(choked) == 0 {
		return "", ""
	}
	sortCandidates(unchoked)
	worst := unchoked[len(unchoked)-1]
	if now.Sub(worst.UnchokedAt) < gracePeriod {
		return "", ""
	}
	sortCandidates(choked)
	best := choked[0]
	if best.cmp(worst) >= 0 {
		return "", ""
	}
	return worst.Key, best.Key
}

// sortCandidates is a small insertion sort (candidate lists are peer
// counts, typically tens not thousands) using Candidate.cmp as the order.
func sortCandidates(cs []Candidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].cmp(cs[j-1]) < 0; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}
