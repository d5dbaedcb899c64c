package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltDBWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pieces.bolt")
	s, err := NewBoltDB(path, "deadbeef")
	require.NoError(t, err)
	defer s.Close()

	region, err := s.Region(0, 4, Protection{Write: true})
	require.NoError(t, err)
	copy(region.Bytes(), []byte("abcd"))
	require.NoError(t, region.Sync())

	readBack, err := s.Region(0, 4, Protection{Read: true})
	require.NoError(t, err)
	require.Equal(t, "abcd", string(readBack.Bytes()))
}

func TestBoltDBMissingKeyReadsZeroes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pieces.bolt")
	s, err := NewBoltDB(path, "deadbeef")
	require.NoError(t, err)
	defer s.Close()

	region, err := s.Region(8192, 16, Protection{Read: true})
	require.NoError(t, err)
	require.Equal(t, make([]byte, 16), region.Bytes())
}
