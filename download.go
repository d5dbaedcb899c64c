package torrent

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/btengine/torrent/internal/bitfield"
	"github.com/btengine/torrent/internal/chunklist"
	"github.com/btengine/torrent/internal/connlist"
	"github.com/btengine/torrent/internal/filelist"
	"github.com/btengine/torrent/internal/hashpipe"
	"github.com/btengine/torrent/internal/peerlist"
	"github.com/btengine/torrent/internal/reqstrategy"
	"github.com/btengine/torrent/internal/requestqueue"
	"github.com/btengine/torrent/internal/sched"
	"github.com/btengine/torrent/internal/throttle"
	"github.com/btengine/torrent/internal/transferlist"
	"github.com/btengine/torrent/metainfo"
	"github.com/btengine/torrent/peerconn"
	"github.com/btengine/torrent/storage"
	"github.com/btengine/torrent/tracker"
)

const (
	blockSize = 16 * 1024
	// maxUnchokedPeers is the default choke slot budget (spec.md §4.10).
	maxUnchokedPeers = 4
)

// DownloadState is the lifecycle of a Download, per spec.md §4.12's Open
// / hash-check / run / endgame / seed states.
type DownloadState int

const (
	StateOpening DownloadState = iota
	StateChecking
	StateDownloading
	StateEndgame
	StateSeeding
	StateStopped
)

// SeedLimits holds optional seed-ratio/seed-time stopping conditions
// (a feature the distilled spec.md is silent on but original_source/
// shows; see SPEC_FULL.md SUPPLEMENTED FEATURES). NewDownload stores them
// on the Download, but no code path reads them: a Download keeps seeding
// whatever these values are.
type SeedLimits struct {
	SeedRatioLimit float64       // uploaded/downloaded ratio limit, 0 = unlimited; not enforced
	SeedTimeLimit  time.Duration // not enforced
}

// PEXSource is an injectable peer-exchange collaborator (transport is out
// of scope). Tick asks it for peers on every call, i.e. once per
// tickInterval when driven by Start; there is no separate 2-minute
// schedule.
type PEXSource interface {
	Peers() []peerlist.PeerInfo
}

// Download is one torrent's engine instance (C12): wires the chunk list,
// hash pipeline, chunk selector, file list, transfer list, peer list,
// connection list, and tracker controller into a single tick-driven
// lifecycle. Named Download rather than the teacher's Torrent to keep
// "torrent" as the file-format noun (see metainfo.MetaInfo) and avoid
// ambiguity with the module's own name (DESIGN.md Open Questions).
type Download struct {
	logger log.Logger

	info      metainfo.Info
	infoHash  metainfo.Hash
	startedAt time.Time

	// mu is the orchestrator's lock, adapted from the teacher's
	// lockWithDeferreds (deferrwl.go): Broadcasting Download.completed on
	// state transitions is scheduled via mu.Defer rather than called with
	// the lock held, so a waiter woken by it can immediately re-acquire mu
	// without deadlocking against the broadcaster's own critical section.
	mu        lockWithDeferreds
	state     DownloadState
	completed Event

	chunks    *chunklist.List
	hashes    *hashpipe.Pipeline
	selector  *reqstrategy.Selector
	files     *filelist.FileList
	transfers *transferlist.TransferList
	peers     *peerlist.List
	conns     *connlist.List[*peerConnEntry]
	complete  *bitfield.Bitfield

	tracker *tracker.Controller
	thread  *sched.Thread

	// haveBroadcast is the "chunks we've broadcast HAVE for" ledger (spec.md
	// §5 ordering guarantee: HAVE is broadcast only after verification, and
	// only once). Checked-add against it before writing HAVE out so a chunk
	// re-verified twice (shouldn't happen, but onHashFailed's retry path and
	// DrainHashResults aren't mutually exclusive by construction) never
	// sends a duplicate broadcast to every connected peer.
	haveBroadcast roaring.Bitmap

	// uploadThrottle/downloadThrottle are the per-peer byte-quota
	// allocators (ThrottleList, spec.md §5 Backpressure); zero-value
	// Config fields mean unlimited, matching a Download that never opted
	// into bandwidth limiting.
	uploadThrottle   *throttle.List
	downloadThrottle *throttle.List

	pex    PEXSource
	limits SeedLimits

	// stats holds the Count-based transfer counters (atomic-count.go)
	// rather than plain int64s under mu: every peer's read loop and the
	// upload-serving path update these independently, and serializing
	// them through the orchestrator lock would make a busy swarm contend
	// on a counter nothing else needs the lock for.
	stats Stats

	// metrics/tracer are the AMBIENT STACK's observability hooks; both are
	// always non-nil (NewDownload defaults them) so call sites never need
	// a nil check.
	metrics *Metrics
	tracer  trace.Tracer

	onComplete func()
}

// Stats returns an atomic snapshot of the Download's transfer counters.
func (d *Download) Stats() Stats {
	return copyCountFields(&d.stats)
}

// peerConnEntry is what connlist.List stores: the wire connection plus the
// per-peer request queue and choke/interest bookkeeping the Download needs
// to run the choke cycle and endgame re-requests.
type peerConnEntry struct {
	key     string
	conn    *peerconn.PeerConn
	queue   *requestqueue.Queue
	peer    transferlist.PeerKey
	snubbed bool

	peerBitfield *bitfield.Bitfield

	// allowedFast is a locally-computed set of piece indices this peer may
	// request and have served even while we're choking it, independent of
	// whether the wire-level fast extension (BEP 6, not implemented here —
	// see peerprotocol.protocol.go) is in play: a small fixed set computed
	// from the peer's key lets a newly-connected, not-yet-unchoked peer get
	// a handful of pieces immediately rather than stalling through an
	// entire choke cycle. Grounded on the teacher's own use of
	// *roaring.Bitmap for exactly this kind of per-peer piece set
	// (peer.go's newPeerPieces, torrent-piece-request-order.go's
	// _pendingPieces).
	allowedFast roaring.Bitmap

	lastDownloadBytes int64
	downloadRate      float64
	uploadRate        float64
	unchokedAt        time.Time

	sendList []Request // peer's outstanding requests of us
}

// Has satisfies reqstrategy.PeerChunks.
func (e *peerConnEntry) Has(i int) bool {
	return e.peerBitfield != nil && e.peerBitfield.Get(i)
}

// peerHasAnyWanted reports whether the peer has any chunk we still want,
// used right after BITFIELD/HAVE to decide whether to declare interest.
func (e *peerConnEntry) peerHasAnyWanted(d *Download) bool {
	if e.peerBitfield == nil {
		return false
	}
	for i := 0; i < d.info.NumPieces(); i++ {
		if e.peerBitfield.Get(i) && d.selector.StillWanted(i) {
			return true
		}
	}
	return false
}

// Config bundles a Download's fixed construction parameters.
type Config struct {
	Info          metainfo.Info
	InfoHash      metainfo.Hash
	Backend       storage.Backend
	ErrorSink     storage.ErrorSink
	ChunkBudget   int64 // chunklist memory budget in bytes
	MaxPeers      int
	TrackerTiers  tracker.TierList
	TrackerParams func() tracker.AnnounceParams
	Logger        log.Logger
	PEX           PEXSource
	Limits        SeedLimits
	OnComplete    func()
	Metrics       *Metrics     // defaults to a throwaway-registry no-op set if nil
	Tracer        trace.Tracer // defaults to the no-op tracer if nil

	// UploadBytesPerTick/DownloadBytesPerTick cap per-peer bandwidth
	// (ThrottleList, spec.md §5 Backpressure); <= 0 means unlimited.
	UploadBytesPerTick   int64
	DownloadBytesPerTick int64
}

// NewDownload constructs a Download ready for Open.
func NewDownload(cfg Config) *Download {
	numChunks := cfg.Info.NumPieces()
	indexSizer := func(index int) (offset, length int64) {
		offset = int64(index) * cfg.Info.PieceLength
		length = cfg.Info.PieceLength
		if remaining := cfg.Info.TotalLength() - offset; remaining < length {
			length = remaining
		}
		return
	}

	d := &Download{
		logger:    cfg.Logger,
		info:      cfg.Info,
		infoHash:  cfg.InfoHash,
		chunks:    chunklist.New(cfg.Backend, indexSizer, cfg.ChunkBudget, cfg.ErrorSink, cfg.Logger),
		hashes:    hashpipe.New(cfg.Logger),
		selector:  reqstrategy.New(numChunks),
		transfers: transferlist.New(),
		peers:     peerlist.New(),
		complete:  bitfield.New(numChunks),
		pex:       cfg.PEX,
		limits:    cfg.Limits,
		onComplete: cfg.OnComplete,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		uploadThrottle:   throttle.New(cfg.UploadBytesPerTick, tickInterval),
		downloadThrottle: throttle.New(cfg.DownloadBytesPerTick, tickInterval),
	}
	if d.metrics == nil {
		d.metrics = noopMetrics()
	}
	if d.tracer == nil {
		d.tracer = noopTracer()
	}

	d.conns = connlist.New[*peerConnEntry](cfg.MaxPeers, d.connectPeer, d.onPeerConnected, d.onPeerDisconnected)

	d.thread = sched.NewThread("download", cfg.Logger)
	d.tracker = tracker.NewController(cfg.TrackerTiers, cfg.TrackerParams, d.thread.Scheduler, sched.Key(1), cfg.Logger)
	d.thread.OnWake = func() { d.Tick(time.Now()) }

	entries := make([]struct {
		Path string
		Size int64
	}, 0, len(cfg.Info.Files))
	if len(cfg.Info.Files) == 0 {
		entries = append(entries, struct {
			Path string
			Size int64
		}{cfg.Info.Name, cfg.Info.Length})
	} else {
		for _, f := range cfg.Info.Files {
			entries = append(entries, struct {
				Path string
				Size int64
			}{joinPath(f.Path), f.Length})
		}
	}
	d.files = filelist.New(cfg.Info.PieceLength, entries, backendFileManager{cfg.Backend})

	return d
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

// backendFileManager adapts storage.Backend to filelist.Manager.
type backendFileManager struct{ backend storage.Backend }

func (m backendFileManager) OpenFile(index int, path string, size int64) error {
	return m.backend.OpenFile(index, path, size)
}

func (m backendFileManager) CloseFile(index int) error {
	return m.backend.CloseFile(index)
}

// Open hash-checks every existing chunk (C3), builds the initial bitfield,
// and seeds the chunk selector from file priorities, per spec.md §4.12
// step 1.
func (d *Download) Open() error {
	_, span := d.tracer.Start(context.Background(), "Download.Open")
	defer span.End()

	d.mu.Lock()
	d.state = StateChecking
	d.mu.Unlock()

	if err := d.files.Open(); err != nil {
		return fmt.Errorf("opening files: %w", err)
	}

	go d.hashes.Run()

	numChunks := d.info.NumPieces()
	results := make(chan struct{ index int }, numChunks)
	for i := 0; i < numChunks; i++ {
		handle := d.chunks.Get(i, chunklist.GetFlags{Read: true, NotHashing: true})
		if !handle.Valid() {
			continue
		}
		d.hashes.Enqueue(d.infoHash, i, handleReadable{handle})
		_ = results
	}

	pending := numChunks
	for pending > 0 {
		res := <-d.hashes.Results()
		pending--
		idx := res.ChunkIndex
		expected := d.info.PieceHash(idx)
		if res.Hash == expected {
			d.complete.Set(idx)
			d.files.MarkCompleted(idx)
		}
		if h, ok := res.Handle.(handleReadable); ok {
			d.chunks.Release(h.h, chunklist.ReleaseFlags{})
		}
	}

	d.refreshPriorities()

	d.mu.Lock()
	if d.complete.AllSet() {
		d.state = StateSeeding
	} else {
		d.state = StateDownloading
	}
	d.startedAt = time.Now()
	d.mu.Unlock()

	d.startTracking()

	return nil
}

// handleReadable adapts a chunklist.Handle to hashpipe.Readable.
type handleReadable struct{ h *chunklist.Handle }

func (r handleReadable) Bytes() []byte { return r.h.Bytes() }

// refreshPriorities recomputes the chunk selector's still_wanted sets from
// current file priorities (spec.md §4.4 "Priority update").
func (d *Download) refreshPriorities() {
	normal, high := d.files.UpdatePriorities()
	toRanges := func(rs []filelist.ChunkRange) [][2]int {
		out := make([][2]int, len(rs))
		for i, r := range rs {
			out[i] = [2]int{r.First, r.Last}
		}
		return out
	}
	d.selector.UpdatePriorities(d.complete, toRanges(normal), toRanges(high))
}

// State returns the Download's current lifecycle state.
func (d *Download) State() DownloadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// CompletedBytes returns bytes verified complete across all files.
func (d *Download) CompletedBytes() int64 { return d.files.CompletedBytes() }

// WaitComplete blocks until every chunk has verified complete, using the
// teacher's Event (a lockWithDeferreds-safe replacement for sync.Cond) so
// callers can wait without the orchestrator lock ever being held across a
// goroutine park.
func (d *Download) WaitComplete() {
	safe := d.mu.GetSafeLocker()
	safe.Lock()
	defer safe.Unlock()
	for !d.complete.AllSet() {
		d.completed.Wait(safe)
	}
}

// Close shuts down the hash pipeline and evicts all connections.
func (d *Download) Close() error {
	d.stopTracking()
	d.thread.Stop()
	d.hashes.Close()
	for _, e := range d.conns.Snapshot() {
		e.conn.Close()
	}
	return d.files.Close()
}

// tickInterval is how often the main thread's scheduled self-requeue runs
// Download.Tick, independent of any particular peer's Wake event firing.
const tickInterval = time.Second

// Start schedules the recurring main-thread tick and launches the thread
// loop, per spec.md §4.12's main-thread tick description: the choke cycle,
// hash-result draining, and pipeline refill all run off this periodic
// entry rather than only reacting to individual socket readiness.
func (d *Download) Start() {
	var key sched.Key = 2
	var reschedule func()
	reschedule = func() {
		d.thread.Scheduler.Insert(key, time.Now().Add(tickInterval), func() {
			d.Tick(time.Now())
			reschedule()
		})
	}
	reschedule()
	go d.thread.Run()
}
