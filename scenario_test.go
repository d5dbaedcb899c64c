package torrent

import (
	"crypto/sha1"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/require"

	"github.com/btengine/torrent/metainfo"
	"github.com/btengine/torrent/storage"
	"github.com/btengine/torrent/tracker"
)

// newScenarioInfo builds a small multi-piece torrent so the single-peer
// scenario test below exercises more than one request/piece round trip.
func newScenarioInfo(pieceLength int64, numPieces int) (metainfo.Info, []byte) {
	data := make([]byte, pieceLength*int64(numPieces))
	for i := range data {
		data[i] = byte(i % 251)
	}
	pieces := make([]byte, 0, 20*numPieces)
	for i := 0; i < numPieces; i++ {
		sum := sha1.Sum(data[int64(i)*pieceLength : int64(i+1)*pieceLength])
		pieces = append(pieces, sum[:]...)
	}
	return metainfo.Info{
		Name:        "scenario.bin",
		PieceLength: pieceLength,
		Pieces:      pieces,
		Length:      int64(len(data)),
	}, data
}

// TestSinglePeerMultiChunkTransfer is spec.md §8's single-peer scenario:
// a seeder with all three pieces complete and a leecher with none, connected
// directly over a real loopback TCP socket, transfer the full torrent
// end to end — handshake, bitfield exchange, interest, unchoke, request
// pipelining, and hash verification on the receiving side.
func TestSinglePeerMultiChunkTransfer(t *testing.T) {
	info, data := newScenarioInfo(16*1024, 3)
	var infoHash metainfo.Hash
	copy(infoHash[:], "01234567890123456789")

	seederClient, err := NewClient(ClientConfig{Networks: []string{"tcp4"}, ListenPort: 0, Logger: log.Default})
	require.NoError(t, err)
	t.Cleanup(func() { seederClient.Close() })

	leecherClient, err := NewClient(ClientConfig{Logger: log.Default})
	require.NoError(t, err)
	t.Cleanup(func() { leecherClient.Close() })

	seederBackend := storage.NewMMap(t.TempDir())
	require.NoError(t, seederBackend.OpenFile(0, info.Name, info.Length))
	region, err := seederBackend.Region(0, info.Length, storage.Protection{Write: true})
	require.NoError(t, err)
	copy(region.Bytes(), data)
	require.NoError(t, region.Sync())
	require.NoError(t, region.Close())

	seederDownload := NewDownload(Config{
		Info:          info,
		InfoHash:      infoHash,
		Backend:       seederBackend,
		ErrorSink:     storage.NopErrorSink,
		ChunkBudget:   1 << 20,
		MaxPeers:      8,
		TrackerTiers:  tracker.TierList{},
		TrackerParams: func() tracker.AnnounceParams { return tracker.AnnounceParams{} },
		Logger:        log.Default,
	})
	t.Cleanup(func() { seederDownload.Close() })
	require.NoError(t, seederDownload.Open())
	require.Equal(t, StateSeeding, seederDownload.State())
	seederClient.AddDownload(seederDownload)

	leecherBackend := storage.NewMMap(t.TempDir())
	leecherDownload := NewDownload(Config{
		Info:          info,
		InfoHash:      infoHash,
		Backend:       leecherBackend,
		ErrorSink:     storage.NopErrorSink,
		ChunkBudget:   1 << 20,
		MaxPeers:      8,
		TrackerTiers:  tracker.TierList{},
		TrackerParams: func() tracker.AnnounceParams { return tracker.AnnounceParams{} },
		Logger:        log.Default,
	})
	t.Cleanup(func() { leecherDownload.Close() })
	require.NoError(t, leecherDownload.Open())
	require.Equal(t, StateDownloading, leecherDownload.State())
	leecherClient.AddDownload(leecherDownload)

	addr := seederClient.sockets[0].Addr().String()
	require.NoError(t, leecherClient.Dial(DefaultNetDialer, addr, infoHash))

	require.Eventually(t, func() bool {
		now := time.Now()
		seederDownload.Tick(now)
		leecherDownload.Tick(now)
		return leecherDownload.State() == StateSeeding
	}, 5*time.Second, 5*time.Millisecond, "leecher never reached seeding state")

	require.Equal(t, info.Length, leecherDownload.CompletedBytes())

	reader := leecherDownload.NewReader()
	defer reader.Close()
	got := make([]byte, len(data))
	n, err := reader.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)
}
