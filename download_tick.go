package torrent

import (
	"time"

	"github.com/btengine/torrent/internal/chokemgr"
	"github.com/btengine/torrent/internal/chunklist"
	"github.com/btengine/torrent/internal/peerlist"
	"github.com/btengine/torrent/peerprotocol"
)

// selectorChunkSource adapts Download's chunk selector plus one peer's
// bitfield into requestqueue.ChunkSource.
type selectorChunkSource struct {
	d    *Download
	peer *peerConnEntry
}

func (s selectorChunkSource) NextChunk(highPriority bool) (int, bool) {
	idx := s.d.selector.Find(s.peer, highPriority)
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

func (s selectorChunkSource) PieceLength(chunk int) int64 {
	return s.d.pieceLength(chunk)
}

func (d *Download) pieceLength(index int) int64 {
	length := d.info.PieceLength
	if remaining := d.info.TotalLength() - int64(index)*d.info.PieceLength; remaining < length {
		length = remaining
	}
	return length
}

// tryFillPipeline tops up entry's outstanding request queue up to its
// current pipeline depth, marking each selected chunk in-flight with the
// selector so other peers prefer the same partial chunks (endgame).
func (d *Download) tryFillPipeline(entry *peerConnEntry) {
	if entry.conn.PeerChoking() {
		return
	}
	source := selectorChunkSource{d: d, peer: entry}
	target := entry.queue.PipeSize(entry.downloadRate)
	for entry.queue.Len() < target {
		// Gate before Delegate: Delegate registers a BlockTransfer as soon
		// as it returns a Request, so checking quota after the fact would
		// mean undoing that bookkeeping on a throttle miss instead of
		// simply not asking yet.
		if !d.downloadThrottle.AllowN(entry.key, blockSize) {
			break
		}
		req, ok := entry.queue.Delegate(source, true)
		if !ok {
			break
		}
		d.selector.UsingIndex(int(req.Index))
		entry.conn.Writer.Write(peerprotocol.MakeRequestMessage(req.Index, req.Begin, req.Length))
	}
}

// onPieceReceived handles an incoming PIECE message: matches it against
// the peer's request queue, writes the bytes into the chunk buffer via the
// transfer list's leader/not-leader arbitration, and on block/chunk
// completion advances to hashing, per spec.md §4.5's leader policy.
func (d *Download) onPieceReceived(entry *peerConnEntry, index, begin uint32, data []byte) {
	transfer, ok := entry.queue.Downloading(index, begin)
	if !ok {
		return // unsolicited or already-cancelled; ignore rather than disconnect
	}
	d.stats.Downloaded.Add(int64(len(data)))

	handle := d.chunks.Get(int(index), chunklist.GetFlags{Write: true})
	if !handle.Valid() {
		return
	}
	buf := handle.Bytes()
	if int64(begin)+int64(len(data)) <= int64(len(buf)) {
		copy(buf[begin:], data)
		handle.MarkDirty()
	}
	d.chunks.Release(handle, chunklist.ReleaseFlags{})

	digest := crc32ish(data)
	bl, ok := d.transfers.Get(int(index))
	if !ok {
		return
	}
	blockIdx := int(int64(begin) / blockSize)
	if blockIdx < 0 || blockIdx >= len(bl.Blocks) {
		return
	}
	b := &bl.Blocks[blockIdx]
	isLeader, invalidated := b.WriteProgress(transfer, int64(len(data)), digest)
	if invalidated {
		return
	}
	entry.queue.Finished(index, begin)
	if !isLeader {
		return
	}
	_, listDone := bl.Finished(transfer)
	if listDone {
		d.verifyChunk(int(index))
	}
}

// crc32ish is a cheap rolling signature used only to detect whether two
// writers' bytes for the same block position agree (transferlist's
// leader-overtake check); full correctness is re-verified by the SHA-1
// hash pipeline regardless, so this does not need to be cryptographic.
func crc32ish(b []byte) uint32 {
	var h uint32 = 2166136261
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}

// verifyChunk enqueues the completed chunk for SHA-1 verification
// (spec.md §4.3 user (b): "in-flight verification").
func (d *Download) verifyChunk(index int) {
	handle := d.chunks.Get(index, chunklist.GetFlags{Read: true, NotHashing: false})
	if !handle.Valid() {
		return
	}
	d.hashes.Enqueue(d.infoHash, index, handleReadable{handle})
}

// DrainHashResults processes completed hash jobs, marking chunks complete
// or re-opening them for retry on mismatch (spec.md §4.5 hash_failed).
func (d *Download) DrainHashResults() {
	for {
		select {
		case res := <-d.hashes.Results():
			idx := res.ChunkIndex
			if h, ok := res.Handle.(handleReadable); ok {
				d.chunks.Release(h.h, chunklist.ReleaseFlags{})
			}
			expected := d.info.PieceHash(idx)
			if res.Hash == expected {
				d.metrics.ChunksVerified.Inc()
				d.complete.Set(idx)
				d.files.MarkCompleted(idx)
				d.transfers.Erase(idx)
				d.selector.NotUsingIndex(idx)
				d.broadcastHave(idx)
				if d.complete.AllSet() {
					d.mu.Lock()
					d.state = StateSeeding
					d.mu.Defer(d.completed.Broadcast)
					d.mu.Unlock()
					if d.onComplete != nil {
						d.onComplete()
					}
				}
			} else {
				d.metrics.HashFailures.Inc()
				d.onHashFailed(idx)
			}
		default:
			return
		}
	}
}

const maxHashFailures = 3

func (d *Download) onHashFailed(index int) {
	bl, ok := d.transfers.Get(index)
	if !ok {
		return
	}
	bl.AttemptCount++
	if bl.AttemptCount >= maxHashFailures {
		d.transfers.Erase(index)
		d.selector.NotUsingIndex(index)
		return
	}
	bl.InvalidateAll()
}

func (d *Download) broadcastHave(index int) {
	if !d.haveBroadcast.CheckedAdd(uint32(index)) {
		return
	}
	for _, e := range d.conns.Snapshot() {
		e.conn.Writer.Write(peerprotocol.MakeHaveMessage(uint32(index)))
	}
}

// maxServedPerTick bounds how many queued peer requests are served from one
// Tick, so one greedy peer's request backlog can't starve the choke cycle
// and pipeline refill that follow it in the same tick.
const maxServedPerTick = 32

// serveRequests drains entry's sendList, reading the requested bytes out of
// the chunk list and writing a PIECE message for each, per spec.md §4.9's
// REQUEST handling ("respond with the data unless now choking the peer").
func (d *Download) serveRequests(entry *peerConnEntry) {
	choking := entry.conn.Choking()
	n := len(entry.sendList)
	if n > maxServedPerTick {
		n = maxServedPerTick
	}
	served := 0
	for served < n {
		r := entry.sendList[served]
		if choking && !entry.allowedFast.Contains(r.Index) {
			served++
			continue
		}
		// A peer with no quota left is "removed from the write-ready set
		// until the next tick" (spec.md §5 Backpressure): stop serving
		// this entry entirely rather than skipping just this request, so
		// the remainder (including this one) is retried next Tick in order.
		if !d.uploadThrottle.AllowN(entry.key, int(r.Length)) {
			break
		}
		handle := d.chunks.Get(int(r.Index), chunklist.GetFlags{Read: true})
		if handle.Valid() {
			buf := handle.Bytes()
			if int64(r.Begin)+int64(r.Length) <= int64(len(buf)) {
				block := append([]byte(nil), buf[r.Begin:int64(r.Begin)+int64(r.Length)]...)
				entry.conn.Writer.Write(peerprotocol.MakePieceMessage(r.Index, r.Begin, block))
				d.stats.Uploaded.Add(int64(len(block)))
			}
			d.chunks.Release(handle, chunklist.ReleaseFlags{})
		}
		served++
	}
	entry.sendList = entry.sendList[served:]
}

// Choke cycle (spec.md §4.10): re-balances the unchoked set and, when
// saturated, rotates the worst unchoked peer out for the best
// choked-and-interested one past the grace period. Tick runs it on every
// call; it is not limited to once per DefaultChokeCycle.
func (d *Download) runChokeCycle(now time.Time) {
	conns := d.conns.Snapshot()
	candidates := make([]chokemgr.Candidate, len(conns))
	byKey := make(map[string]*peerConnEntry, len(conns))
	for i, e := range conns {
		candidates[i] = chokemgr.Candidate{
			Key:          e.key,
			Interested:   e.conn.PeerInterested(),
			Snubbed:      e.snubbed,
			DownloadRate: e.downloadRate,
			UploadRate:   e.uploadRate,
			UnchokedAt:   e.unchokedAt,
		}
		byKey[e.key] = e
	}

	unchoke := chokemgr.Balance(candidates, maxUnchokedPeers)
	for key, e := range byKey {
		want := unchoke[key]
		if e.conn.SetChoking(!want, false) {
			if want {
				e.unchokedAt = now
			} else {
				e.unchokedAt = time.Time{}
			}
		}
	}

	demote, promote := chokemgr.Cycle(candidates, maxUnchokedPeers, now, chokemgr.DefaultGracePeriod)
	if demote != "" && promote != "" {
		if e, ok := byKey[demote]; ok {
			if e.conn.SetChoking(true, true) {
				e.unchokedAt = time.Time{}
			}
		}
		if e, ok := byKey[promote]; ok {
			if e.conn.SetChoking(false, true) {
				e.unchokedAt = now
			}
		}
	}
}

// Tick runs one iteration of the Download's main-thread work, per
// spec.md §4.12: drain hash results, run the choke cycle, send a tracker
// update if one is due, refill each peer's request pipeline and serve its
// queued requests, and pull peers from the PEX source if configured. Each
// step runs on every call.
func (d *Download) Tick(now time.Time) {
	d.DrainHashResults()
	d.runChokeCycle(now)
	d.maybeSendTrackerUpdate()
	for _, e := range d.conns.Snapshot() {
		d.tryFillPipeline(e)
		d.serveRequests(e)
	}
	if d.pex != nil {
		for _, pi := range d.pex.Peers() {
			d.peers.InsertAddress(pi.Addr, pi.Port, peerlist.InsertFlags{Available: true})
		}
	}
}
