// Package filelist computes the logical file <-> chunk mapping (C4): given
// the chunk size and an ordered list of (path, size) pairs, it derives each
// File's byte range and chunk range, tracks per-file completion, and
// derives the priority range sets that seed the chunk selector.
package filelist

import "github.com/dustin/go-humanize"

// Priority is a per-file download priority.
type Priority int

const (
	PriorityOff Priority = iota
	PriorityNormal
	PriorityHigh
)

// ChunkRange is an inclusive [First, Last] chunk index range: Last is the
// index of the range's final chunk.
type ChunkRange struct {
	First, Last int
}

// File is one logical file spanning a contiguous byte range of the
// concatenated torrent.
type File struct {
	Path     string
	Position int64
	Size     int64
	Chunks   ChunkRange

	Priority        Priority
	PrioritizeFirst bool
	PrioritizeLast  bool

	completed int // number of chunks in this file's range marked complete
}

// Manager lazily opens/creates backing files; storage.Backend callers
// satisfy this per spec.md §6 ("storage factory").
type Manager interface {
	OpenFile(index int, path string, size int64) error
	CloseFile(index int) error
}

// FileList is the ordered, contiguous sequence of Files covering
// [0, total_size).
type FileList struct {
	ChunkSize   int64
	TotalSize   int64
	Files       []*File
	manager     Manager
	numChunks   int
	seen        seenSet
}

// New computes each File's byte and chunk range from chunkSize and the
// ordered (path, size) pairs. Files are contiguous and cover
// [0, total_size); the last chunk of one file can be the first of the next.
func New(chunkSize int64, entries []struct {
	Path string
	Size int64
}, manager Manager) *FileList {
	fl := &FileList{ChunkSize: chunkSize, manager: manager}
	var pos int64
	for _, e := range entries {
		f := &File{Path: e.Path, Position: pos, Size: e.Size}
		f.Chunks.First = int(pos / chunkSize)
		last := pos + e.Size
		if e.Size == 0 {
			f.Chunks.Last = f.Chunks.First
		} else {
			f.Chunks.Last = int((last - 1) / chunkSize)
		}
		fl.Files = append(fl.Files, f)
		pos += e.Size
	}
	fl.TotalSize = pos
	fl.numChunks = int((pos + chunkSize - 1) / chunkSize)
	return fl
}

// NumChunks returns ceil(TotalSize / ChunkSize).
func (fl *FileList) NumChunks() int { return fl.numChunks }

// Open opens every file via the injected Manager.
func (fl *FileList) Open() error {
	for i, f := range fl.Files {
		if err := fl.manager.OpenFile(i, f.Path, f.Size); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every file.
func (fl *FileList) Close() error {
	var firstErr error
	for i := range fl.Files {
		if err := fl.manager.CloseFile(i); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// filesOverlapping returns the indices of Files whose chunk range includes
// chunkIndex (at most two: a short boundary chunk can be the last chunk of
// one file and the first of the next).
func (fl *FileList) filesOverlapping(chunkIndex int) []int {
	var out []int
	for i, f := range fl.Files {
		if chunkIndex >= f.Chunks.First && chunkIndex <= f.Chunks.Last {
			out = append(out, i)
		}
	}
	return out
}

// MarkCompleted walks the file range for chunkIndex and increments each
// overlapped file's completed counter. Idempotent: calling it twice for the
// same chunk does not advance file counters again. Callers must track which
// chunks have already been marked (the caller's Bitfield is authoritative);
// MarkCompleted itself tracks a per-chunk seen-set to guarantee idempotence
// even if called twice.
func (fl *FileList) MarkCompleted(chunkIndex int) {
	if fl.seen == nil {
		fl.seen = make(map[int]bool)
	}
	if fl.seen[chunkIndex] {
		return
	}
	fl.seen[chunkIndex] = true
	for _, i := range fl.filesOverlapping(chunkIndex) {
		fl.Files[i].completed++
	}
}

// CompletedBytes sums completed bytes across files, correctly handling
// partial boundary chunks: a chunk shared by two files is counted once,
// and the torrent's short last chunk contributes only its real length.
func (fl *FileList) CompletedBytes() int64 {
	var total int64
	for chunk := range fl.seen {
		start := int64(chunk) * fl.ChunkSize
		if chunk < 0 || start >= fl.TotalSize {
			continue
		}
		end := start + fl.ChunkSize
		if end > fl.TotalSize {
			end = fl.TotalSize
		}
		total += end - start
	}
	return total
}

// seen tracks which chunk indices have already been applied to file
// counters, giving MarkCompleted its idempotence.
type seenSet = map[int]bool

// UpdatePriorities derives {normal, high} chunk-range sets from per-file
// priorities. PrioritizeFirst/PrioritizeLast promote the first/last chunk
// of a file into the high set even if the file's priority is normal.
func (fl *FileList) UpdatePriorities() (normal, high []ChunkRange) {
	for _, f := range fl.Files {
		switch f.Priority {
		case PriorityOff:
			continue
		case PriorityHigh:
			high = append(high, f.Chunks)
			continue
		case PriorityNormal:
			normal = append(normal, f.Chunks)
		}
		if f.PrioritizeFirst {
			high = append(high, ChunkRange{f.Chunks.First, f.Chunks.First})
		}
		if f.PrioritizeLast {
			high = append(high, ChunkRange{f.Chunks.Last, f.Chunks.Last})
		}
	}
	return
}

func (f *File) String() string {
	return f.Path + " (" + humanize.Bytes(uint64(f.Size)) + ")"
}
