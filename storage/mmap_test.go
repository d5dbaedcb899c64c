package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMMapOpenWriteReadClose(t *testing.T) {
	dir := t.TempDir()
	s := NewMMap(dir)
	defer s.Close()

	require.NoError(t, s.OpenFile(0, "greeting.txt", 16))

	region, err := s.Region(0, 16, Protection{Read: true, Write: true})
	require.NoError(t, err)
	copy(region.Bytes(), []byte("hello, world!!!!"))
	require.NoError(t, region.Sync())
	require.NoError(t, region.Close())

	readBack, err := s.Region(0, 5, Protection{Read: true})
	require.NoError(t, err)
	require.Equal(t, "hello", string(readBack.Bytes()))
	require.NoError(t, readBack.Close())

	require.NoError(t, s.CloseFile(0))
}

func TestMMapRegionOutsideAnyFileErrors(t *testing.T) {
	s := NewMMap(t.TempDir())
	defer s.Close()
	require.NoError(t, s.OpenFile(0, "a", 4))
	_, err := s.Region(10, 4, Protection{Read: true})
	require.Error(t, err)
}
