// Package hashpipe implements the hash pipeline (C3): a FIFO queue of
// chunks to verify, a dedicated hash goroutine computing SHA-1 over the
// whole buffer, and callbacks delivered back to the owning thread.
//
// The original source runs this as a thread with its own blocking queue;
// the idiomatic Go equivalent used here is a single worker goroutine
// draining a channel, which gives the same "dedicated hash thread" behavior
// without a hand-rolled poll loop.
package hashpipe

import (
	"crypto/sha1"

	"github.com/anacrolix/log"
)

// Readable is anything that can hand back its full chunk bytes for hashing;
// satisfied by a ChunkHandle from the storage/chunklist layer.
type Readable interface {
	Bytes() []byte
}

// Key identifies the owner of a queued hash job (typically a torrent/
// download), used by Remove to drop all matching entries.
type Key any

// Result is delivered on Results() for each completed hash job; a job
// dropped by Remove produces no Result.
type Result struct {
	Key         Key
	ChunkIndex  int
	Hash        [sha1.Size]byte
	Handle      Readable
}

type job struct {
	key        Key
	chunkIndex int
	handle     Readable
}

// Pipeline is the hash worker. Callers must call Run in a goroutine and
// Close when done.
type Pipeline struct {
	in       chan *job
	done     chan Result
	closed   chan struct{}
	logger   log.Logger
	removeCh chan Key
}

func New(logger log.Logger) *Pipeline {
	p := &Pipeline{
		in:       make(chan *job, 64),
		done:     make(chan Result, 64),
		closed:   make(chan struct{}),
		removeCh: make(chan Key, 16),
		logger:   logger,
	}
	return p
}

// Enqueue queues handle for hashing under key, tagged with chunkIndex for
// the result callback.
func (p *Pipeline) Enqueue(key Key, chunkIndex int, handle Readable) {
	p.in <- &job{key: key, chunkIndex: chunkIndex, handle: handle}
}

// Remove marks key as removed: once the worker has taken the removal, every
// job with that key it dequeues is dropped without a Result, including jobs
// enqueued after the call. Removing a key twice is a no-op. A job the worker
// dequeued before taking the removal still delivers its Result; the
// caller's consuming loop treats unknown/removed keys as no-ops.
func (p *Pipeline) Remove(key Key) {
	p.removeCh <- key
}

// Results returns the channel of completed hash jobs.
func (p *Pipeline) Results() <-chan Result { return p.done }

// Close stops the worker goroutine.
func (p *Pipeline) Close() { close(p.closed) }

// Run drains the queue, computing SHA-1 over each handle's bytes and
// posting the result. Intended to run in its own goroutine (the "hash
// thread" of spec.md §2/§5).
func (p *Pipeline) Run() {
	removed := make(map[Key]bool)
	for {
		select {
		case <-p.closed:
			return
		case key := <-p.removeCh:
			removed[key] = true
		case j := <-p.in:
			if removed[j.key] {
				continue
			}
			sum := sha1.Sum(j.handle.Bytes())
			select {
			case p.done <- Result{Key: j.key, ChunkIndex: j.chunkIndex, Hash: sum, Handle: j.handle}:
			case <-p.closed:
				return
			}
		}
	}
}
