// Package chunklist implements the ChunkList (C2): a mapping from chunk
// index to a mmapped/blob-backed region, refcounted handles, and a
// sync/eviction policy that keeps mapped memory under a configured budget.
//
// The "least-recently-used clean chunks synced then unmapped" policy is
// implemented with github.com/bahlo/generic-list-go's intrusive doubly
// linked list, the same structure the teacher pack uses for its other LRU
// and FIFO bookkeeping (send queues, available-peer queues).
package chunklist

import (
	"fmt"

	list "github.com/bahlo/generic-list-go"

	"github.com/anacrolix/log"

	"github.com/btengine/torrent/storage"
)

// GetFlags controls List.Get.
type GetFlags struct {
	Read       bool
	Write      bool
	Blocking   bool
	NotHashing bool // caller promises not to race with an in-progress hash read
}

// ReleaseFlags controls List.Release.
type ReleaseFlags struct {
	Sloppy      bool // best-effort sync, don't block on disk
	IgnoreError bool
}

// SyncFlags controls List.SyncChunks.
type SyncFlags struct {
	All         bool
	Force       bool
	Sloppy      bool
	IgnoreError bool
}

// IndexSizer returns the byte size of a chunk index (the last chunk is
// short), so List can ask the Backend for an appropriately sized region.
type IndexSizer func(index int) (offset, length int64)

// Handle is an owning borrow of a mapped chunk region. Release is the sole
// path back to unmap-eligibility.
type Handle struct {
	node  *node
	write bool
}

func (h *Handle) Valid() bool { return h.node != nil }

func (h *Handle) Bytes() []byte {
	if h.node == nil || h.node.region == nil {
		return nil
	}
	return h.node.region.Bytes()
}

func (h *Handle) MarkDirty() {
	if h.node != nil {
		h.node.dirty = true
	}
}

type node struct {
	index    int
	region   storage.Region
	refcount int
	dirty    bool
	elem     *list.Element[*node] // position in the LRU list when refcount==0
}

// List is the ChunkList.
type List struct {
	backend    storage.Backend
	indexSizer IndexSizer
	sink       storage.ErrorSink
	logger     log.Logger

	budget int64 // max bytes of mapped memory, pinned or not; <= 0 disables eviction
	mapped int64

	nodes map[int]*node
	lru   *list.List[*node] // refcount==0 nodes (dirty or clean) eligible for eviction, least recently released first
}

func New(backend storage.Backend, indexSizer IndexSizer, budget int64, sink storage.ErrorSink, logger log.Logger) *List {
	if sink == nil {
		sink = storage.NopErrorSink
	}
	return &List{
		backend:    backend,
		indexSizer: indexSizer,
		sink:       sink,
		logger:     logger,
		budget:     budget,
		nodes:      make(map[int]*node),
		lru:        list.New[*node](),
	}
}

// Get returns a Handle for index, creating the mapping on first non-zero
// refcount. Returns an invalid handle (Valid()==false) if creation fails;
// the failure is reported to the injected sink rather than panicking.
func (l *List) Get(index int, flags GetFlags) *Handle {
	n, ok := l.nodes[index]
	if !ok {
		offset, length := l.indexSizer(index)
		region, err := l.backend.Region(offset, length, storage.Protection{Read: flags.Read, Write: flags.Write})
		if err != nil {
			l.sink.StorageError(fmt.Errorf("chunklist: get(%d): %w", index, err))
			return &Handle{}
		}
		n = &node{index: index, region: region}
		l.nodes[index] = n
		l.mapped += length
	} else if n.elem != nil {
		l.lru.Remove(n.elem)
		n.elem = nil
	}
	n.refcount++
	return &Handle{node: n, write: flags.Write}
}

// Release decrements the handle's refcount. When the list's memory budget
// is exceeded, it scans refcount==0 entries and either syncs+releases dirty
// ones first, or releases clean ones immediately, until back under budget.
func (l *List) Release(h *Handle, flags ReleaseFlags) {
	if h == nil || h.node == nil {
		return
	}
	n := h.node
	if h.write {
		n.dirty = true
	}
	n.refcount--
	if n.refcount < 0 {
		n.refcount = 0
	}
	if n.refcount == 0 {
		n.elem = l.lru.PushBack(n)
	}
	l.evictIfOverBudget(flags)
}

func (l *List) evictIfOverBudget(flags ReleaseFlags) {
	if l.budget <= 0 {
		return
	}
	for l.mapped > l.budget {
		evicted := l.evictOneDirtyFirst(flags)
		if !evicted {
			return
		}
	}
}

func (l *List) evictOneDirtyFirst(flags ReleaseFlags) bool {
	// Prefer evicting dirty entries first (sync then unmap), matching
	// spec.md §4.2; scan from the front (least recently released).
	for e := l.lru.Front(); e != nil; e = e.Next() {
		n := e.Value
		if n.dirty {
			l.evictNode(n, flags)
			return true
		}
	}
	if e := l.lru.Front(); e != nil {
		l.evictNode(e.Value, flags)
		return true
	}
	return false
}

func (l *List) evictNode(n *node, flags ReleaseFlags) {
	if n.dirty && !flags.Sloppy {
		if err := n.region.Sync(); err != nil && !flags.IgnoreError {
			l.sink.StorageError(fmt.Errorf("chunklist: sync(%d): %w", n.index, err))
		}
	}
	if err := n.region.Close(); err != nil && !flags.IgnoreError {
		l.sink.StorageError(fmt.Errorf("chunklist: close(%d): %w", n.index, err))
	}
	if n.elem != nil {
		l.lru.Remove(n.elem)
	}
	_, length := l.indexSizer(n.index)
	l.mapped -= length
	delete(l.nodes, n.index)
}

// SyncChunks flushes some or all dirty mappings. All syncs every currently
// mapped dirty node regardless of refcount; otherwise only refcount==0
// (evictable) dirty nodes are synced.
func (l *List) SyncChunks(flags SyncFlags) {
	for _, n := range l.nodes {
		if !n.dirty {
			continue
		}
		if !flags.All && n.refcount != 0 {
			continue
		}
		if err := n.region.Sync(); err != nil && !flags.IgnoreError {
			l.sink.StorageError(fmt.Errorf("chunklist: sync_chunks(%d): %w", n.index, err))
			if !flags.Force {
				continue
			}
		}
		n.dirty = false
	}
}

// MappedBytes reports the current mapped memory total, for diagnostics and
// tests.
func (l *List) MappedBytes() int64 { return l.mapped }

// Len reports the number of currently mapped chunk nodes.
func (l *List) Len() int { return len(l.nodes) }
