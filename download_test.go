package torrent

import (
	"crypto/sha1"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/require"

	"github.com/btengine/torrent/internal/chunklist"
	"github.com/btengine/torrent/metainfo"
	"github.com/btengine/torrent/storage"
	"github.com/btengine/torrent/tracker"
)

func singlePieceInfo(data []byte) metainfo.Info {
	sum := sha1.Sum(data)
	return metainfo.Info{
		Name:        "greeting.txt",
		PieceLength: int64(len(data)),
		Pieces:      sum[:],
		Length:      int64(len(data)),
	}
}

func newTestDownload(t *testing.T, info metainfo.Info, backend storage.Backend) *Download {
	t.Helper()
	d := NewDownload(Config{
		Info:         info,
		Backend:      backend,
		ErrorSink:    storage.NopErrorSink,
		ChunkBudget:  1 << 20,
		MaxPeers:     8,
		TrackerTiers: tracker.TierList{},
		TrackerParams: func() tracker.AnnounceParams {
			return tracker.AnnounceParams{}
		},
		Logger: log.Default,
	})
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDownloadOpenVerifiesExistingDataAndSeeds(t *testing.T) {
	data := []byte("hello, world!!!!")
	info := singlePieceInfo(data)

	backend := storage.NewMMap(t.TempDir())
	require.NoError(t, backend.OpenFile(0, info.Name, info.Length))
	region, err := backend.Region(0, info.Length, storage.Protection{Write: true})
	require.NoError(t, err)
	copy(region.Bytes(), data)
	require.NoError(t, region.Sync())
	require.NoError(t, region.Close())

	d := newTestDownload(t, info, backend)
	require.NoError(t, d.Open())
	require.Equal(t, StateSeeding, d.State())
	require.Equal(t, info.Length, d.CompletedBytes())
}

func TestDownloadOpenEmptyDataStaysDownloading(t *testing.T) {
	data := []byte("hello, world!!!!")
	info := singlePieceInfo(data)
	backend := storage.NewMMap(t.TempDir())
	d := newTestDownload(t, info, backend)

	require.NoError(t, d.Open())
	require.Equal(t, StateDownloading, d.State())
	require.Equal(t, int64(0), d.CompletedBytes())
}

func TestNewReaderReadsBackWrittenChunkData(t *testing.T) {
	data := []byte("hello, world!!!!")
	info := singlePieceInfo(data)
	backend := storage.NewMMap(t.TempDir())
	d := newTestDownload(t, info, backend)
	require.NoError(t, d.Open())

	handle := d.chunks.Get(0, chunklist.GetFlags{Write: true})
	require.True(t, handle.Valid())
	copy(handle.Bytes(), data)
	handle.MarkDirty()
	d.chunks.Release(handle, chunklist.ReleaseFlags{})

	reader := d.NewReader()
	defer reader.Close()
	buf := make([]byte, len(data))
	n, err := reader.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, buf)
}
