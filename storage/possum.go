// possum.go wires github.com/anacrolix/possum/go, a key-value piece store,
// as a third ChunkList storage backend option alongside mmap and sqlite.
package storage

import (
	"fmt"

	possum "github.com/anacrolix/possum/go"
)

// Possum is a Backend storing each chunk as a value in a possum handle.
type Possum struct {
	handle *possum.Handle
}

func NewPossum(dir string) (*Possum, error) {
	h, err := possum.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("possum storage: open: %w", err)
	}
	return &Possum{handle: h}, nil
}

func (s *Possum) OpenFile(idx int, path string, size int64) error { return nil }
func (s *Possum) CloseFile(idx int) error                          { return nil }
func (s *Possum) Close() error                                     { return s.handle.Close() }

func (s *Possum) Region(offset, length int64, prot Protection) (Region, error) {
	key := []byte(fmt.Sprintf("%020d", offset))
	buf := make([]byte, length)
	_ = s.handle.Get(key, buf)
	return &possumRegion{handle: s.handle, key: key, buf: buf}, nil
}

type possumRegion struct {
	handle *possum.Handle
	key    []byte
	buf    []byte
}

func (r *possumRegion) Bytes() []byte { return r.buf }
func (r *possumRegion) Sync() error   { return r.handle.Set(r.key, r.buf) }
func (r *possumRegion) Close() error  { return nil }
