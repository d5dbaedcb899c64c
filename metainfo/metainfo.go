// Package metainfo holds the plain data types a decoded .torrent dictionary
// is expected to already be in, per the component design's external
// interfaces: decoding the bencoded metainfo file itself is out of scope
// (an external collaborator hands the engine these types already parsed).
package metainfo

import (
	"crypto/sha1"
	"fmt"
)

// HashSize is the length in bytes of a SHA-1 info-hash or piece hash.
const HashSize = 20

// Hash is a 20-byte SHA-1 digest, used for both the info-hash and each
// per-piece hash in Info.Pieces.
type Hash [HashSize]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// FileInfo describes one file within a (possibly multi-file) torrent.
type FileInfo struct {
	Length int64
	Path   []string
}

// Info is the decoded "info" dictionary: piece geometry plus either a
// single-file Length or a multi-file Files list.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      []byte // concatenation of 20-byte SHA-1 digests
	Length      int64  // single-file torrents only; 0 when Files is set
	Files       []FileInfo
}

// NumPieces returns the number of pieces implied by Pieces.
func (i *Info) NumPieces() int { return len(i.Pieces) / HashSize }

// PieceHash returns the expected SHA-1 digest for piece index.
func (i *Info) PieceHash(index int) Hash {
	var h Hash
	copy(h[:], i.Pieces[index*HashSize:(index+1)*HashSize])
	return h
}

// TotalLength returns the sum of all file lengths (or Length, for a
// single-file torrent).
func (i *Info) TotalLength() int64 {
	if len(i.Files) == 0 {
		return i.Length
	}
	var total int64
	for _, f := range i.Files {
		total += f.Length
	}
	return total
}

// Validate checks the invariants named in the component design: piece
// length is a power of two no smaller than 16 KiB by convention, and the
// pieces blob length matches ceil(total/piece_length) digests.
func (i *Info) Validate() error {
	if i.PieceLength < 16*1024 {
		return fmt.Errorf("metainfo: piece length %d below 16 KiB minimum", i.PieceLength)
	}
	if i.PieceLength&(i.PieceLength-1) != 0 {
		return fmt.Errorf("metainfo: piece length %d is not a power of two", i.PieceLength)
	}
	total := i.TotalLength()
	expected := (total + i.PieceLength - 1) / i.PieceLength
	if int64(i.NumPieces()) != expected {
		return fmt.Errorf("metainfo: pieces length implies %d pieces, want %d", i.NumPieces(), expected)
	}
	return nil
}

// MetaInfo is the top-level decoded torrent file: Info plus the announce
// URLs used to seed a tracker.TierList.
type MetaInfo struct {
	Info         Info
	Announce     string
	AnnounceList [][]string
}

// HashInfoBytes computes the info-hash of an already-bencoded info
// dictionary. The bencode encoding step itself belongs to the external
// metainfo decoder; this only performs the SHA-1 over bytes it's handed.
func HashInfoBytes(bencodedInfo []byte) Hash {
	return Hash(sha1.Sum(bencodedInfo))
}
