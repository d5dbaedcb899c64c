package torrent

import (
	"io"

	"github.com/btengine/torrent/internal/chunklist"
)

// StorageReader lets a caller pull arbitrary byte ranges out of a
// Download's data — local verification tooling, or serving a completed
// file over some transport this engine doesn't itself speak — without
// tracking chunk indices or chunk-boundary stitching itself.
type StorageReader interface {
	io.ReaderAt
	io.Closer
}

// chunkStorageReader adapts a Download's chunk list into an io.ReaderAt
// over the whole torrent's logical byte range, handling chunks one at a
// time and stitching across boundaries.
type chunkStorageReader struct {
	chunks      *chunklist.List
	pieceLength int64
	totalLength int64
}

// NewReader returns a StorageReader over this Download's data. Reads
// before a chunk has verified complete will surface whatever bytes are
// currently buffered there; callers that need only-verified data should
// check CompletedBytes or wait on WaitComplete first.
func (d *Download) NewReader() StorageReader {
	return chunkStorageReader{chunks: d.chunks, pieceLength: d.info.PieceLength, totalLength: d.info.TotalLength()}
}

func (r chunkStorageReader) Close() error { return nil }

func (r chunkStorageReader) ReadAt(b []byte, off int64) (n int, err error) {
	for len(b) > 0 {
		if off >= r.totalLength {
			err = io.EOF
			return
		}
		index := int(off / r.pieceLength)
		pieceOffset := off - int64(index)*r.pieceLength
		pieceLen := r.pieceLength
		if remaining := r.totalLength - int64(index)*r.pieceLength; remaining < pieceLen {
			pieceLen = remaining
		}
		if pieceOffset >= pieceLen {
			err = io.EOF
			return
		}

		handle := r.chunks.Get(index, chunklist.GetFlags{Read: true})
		if !handle.Valid() {
			err = io.ErrUnexpectedEOF
			return
		}
		max := pieceLen - pieceOffset
		if int64(len(b)) < max {
			max = int64(len(b))
		}
		chunkBytes := handle.Bytes()
		n1 := copy(b[:max], chunkBytes[pieceOffset:pieceOffset+max])
		r.chunks.Release(handle, chunklist.ReleaseFlags{})

		n += n1
		off += int64(n1)
		b = b[n1:]
		if int64(n1) < max {
			err = io.ErrUnexpectedEOF
			return
		}
	}
	return
}
