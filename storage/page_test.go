package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Felmond13/lstoredb/storage"
)

func TestPage_WriteReadRoundTrip(t *testing.T) {
	p := storage.NewPage(filepath.Join(t.TempDir(), "0_1.bin"), 1, 0)

	require.True(t, p.HasCapacity())
	require.True(t, p.Write(42))
	require.True(t, p.Write(-7))

	v, ok := p.Read(0)
	require.True(t, ok)
	require.Equal(t, int64(42), v)

	v, ok = p.Read(1)
	require.True(t, ok)
	require.Equal(t, int64(-7), v)

	_, ok = p.Read(2)
	require.False(t, ok)
}

func TestPage_UpdateRewritesInPlace(t *testing.T) {
	p := storage.NewPage(filepath.Join(t.TempDir(), "0_1.bin"), 1, 0)
	p.Write(1)
	require.True(t, p.Update(0, 99))
	v, ok := p.Read(0)
	require.True(t, ok)
	require.Equal(t, int64(99), v)
	require.False(t, p.Update(5, 1))
}

func TestPage_CapacityBoundIsFiveEleven(t *testing.T) {
	p := storage.NewPage(filepath.Join(t.TempDir(), "0_1.bin"), 1, 0)
	for i := 0; i < storage.MaxSlots; i++ {
		require.Truef(t, p.HasCapacity(), "slot %d should still fit", i)
		require.True(t, p.Write(int64(i)))
	}
	require.False(t, p.HasCapacity())
	require.False(t, p.Write(999))
	require.Equal(t, storage.MaxSlots, p.Count())
}

func TestPage_FlushAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0_1.bin")
	p := storage.NewPage(path, 1, 0)
	p.Write(10)
	p.Write(20)
	p.Write(30)
	require.NoError(t, p.FlushToDisk())
	require.False(t, p.Dirty())

	reloaded := storage.NewPage(path, 1, 0)
	require.NoError(t, reloaded.LoadFromDisk())
	require.Equal(t, 3, reloaded.Count())
	v, ok := reloaded.Read(1)
	require.True(t, ok)
	require.Equal(t, int64(20), v)
}

func TestPage_LoadFromDisk_MissingFileIsEmpty(t *testing.T) {
	p := storage.NewPage(filepath.Join(t.TempDir(), "missing.bin"), 1, 0)
	require.NoError(t, p.LoadFromDisk())
	require.Equal(t, 0, p.Count())
}
