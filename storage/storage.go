// Package storage provides the ChunkList's storage factory (§6 "storage
// factory" external interface): given (offset, length, protection) it
// returns a mapping, or an error reported through an injected sink rather
// than panicking the engine. Three concrete backends are provided, each
// grounded on a distinct teacher dependency: mmap-go (one memory mapping
// per torrent file, the conventional BitTorrent layout), bbolt (a single
// key/value file per torrent), and modernc.org/sqlite via
// anacrolix/squirrel (a blob table), plus anacrolix/possum/go as a fourth
// key-value option.
package storage

import "io"

// Protection flags requested of a mapped region.
type Protection struct {
	Read  bool
	Write bool
}

// Region is a mapped byte range. Implementations back it with mmap, a
// bbolt value, a sqlite blob, or a possum value; callers only rely on the
// []byte view and Sync/Close.
type Region interface {
	Bytes() []byte
	// Sync flushes dirty bytes to the backing medium (msync/fsync or the
	// equivalent commit for non-mmap backends).
	Sync() error
	io.Closer
}

// ErrorSink receives storage errors (mmap, read, write, fsync, disk full)
// without panicking the engine, per spec.md §7.2.
type ErrorSink interface {
	StorageError(err error)
}

// Backend is the injected storage factory. OpenFile creates or maps the
// backing file with permissions 0666 (dirs 0777) for file index idx, and
// Region maps a byte range of the concatenated torrent to memory.
type Backend interface {
	OpenFile(idx int, path string, size int64) error
	CloseFile(idx int) error
	Region(offset, length int64, prot Protection) (Region, error)
	Close() error
}

type nopSink struct{}

func (nopSink) StorageError(error) {}

// NopErrorSink discards storage errors; used by callers that handle errors
// through a returned error value instead.
var NopErrorSink ErrorSink = nopSink{}
