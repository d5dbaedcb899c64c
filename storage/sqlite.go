// sqlite.go wires github.com/anacrolix/squirrel (a sqlite-backed blob
// cache, itself layered over modernc.org/sqlite) as an alternate
// ChunkList storage backend for deployments that want a single-file blob
// store instead of one mmap per torrent file.
package storage

import (
	"fmt"

	"github.com/anacrolix/squirrel"
)

// SqlitePieceStorage is a Backend storing each chunk as a row keyed by its
// offset, written as a decimal string, in a squirrel.Cache.
type SqlitePieceStorage struct {
	cache *squirrel.Cache
}

func NewSqlitePieceStorage(path string) (*SqlitePieceStorage, error) {
	cache, err := squirrel.NewCache(squirrel.NewCacheOpts{
		Path: path,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: open: %w", err)
	}
	return &SqlitePieceStorage{cache: cache}, nil
}

func (s *SqlitePieceStorage) OpenFile(idx int, path string, size int64) error { return nil }
func (s *SqlitePieceStorage) CloseFile(idx int) error                         { return nil }
func (s *SqlitePieceStorage) Close() error                                    { return s.cache.Close() }

func (s *SqlitePieceStorage) Region(offset, length int64, prot Protection) (Region, error) {
	key := fmt.Sprintf("%d", offset)
	buf := make([]byte, length)
	if n, err := s.cache.Get(key, buf); err == nil {
		_ = n
	}
	return &sqliteRegion{cache: s.cache, key: key, buf: buf}, nil
}

type sqliteRegion struct {
	cache *squirrel.Cache
	key   string
	buf   []byte
}

func (r *sqliteRegion) Bytes() []byte { return r.buf }
func (r *sqliteRegion) Sync() error {
	_, err := r.cache.Put(r.key, r.buf)
	return err
}
func (r *sqliteRegion) Close() error { return nil }
