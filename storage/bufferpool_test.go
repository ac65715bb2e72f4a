package storage_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Felmond13/lstoredb/storage"
)

func TestBufferPool_GetPagePinsAndCaches(t *testing.T) {
	pool := storage.NewBufferPool(4, logrus.New())
	path := t.TempDir()

	p1, err := pool.GetPage(path, 1, 0)
	require.NoError(t, err)
	p1.Write(7)
	pool.MarkDirty(path, 1, 0)

	p2, err := pool.GetPage(path, 1, 0)
	require.NoError(t, err)
	require.Same(t, p1, p2)
	pool.Unpin(path, 1, 0)
	pool.Unpin(path, 1, 0)
}

func TestBufferPool_EvictsLeastRecentlyUsedUnpinned(t *testing.T) {
	pool := storage.NewBufferPool(2, logrus.New())
	path := t.TempDir()

	p1, err := pool.GetPage(path, 1, 0)
	require.NoError(t, err)
	p1.Write(1)
	pool.MarkDirty(path, 1, 0)
	pool.Unpin(path, 1, 0)

	p2, err := pool.GetPage(path, 2, 0)
	require.NoError(t, err)
	pool.Unpin(path, 2, 0)

	// Capacity is 2; a third distinct page forces eviction of page 1,
	// which was least recently used and unpinned.
	p3, err := pool.GetPage(path, 3, 0)
	require.NoError(t, err)
	pool.Unpin(path, 3, 0)
	_ = p2
	_ = p3

	reloaded, err := storageReload(t, path, 1)
	require.NoError(t, err)
	v, ok := reloaded.Read(0)
	require.True(t, ok)
	require.Equal(t, int64(1), v)
}

func storageReload(t *testing.T, path string, number uint64) (*storage.Page, error) {
	t.Helper()
	p := storage.NewPage(storage.PagePath(path, 0, number), number, 0)
	if err := p.LoadFromDisk(); err != nil {
		return nil, err
	}
	return p, nil
}

func TestBufferPool_FlushAllWritesDirtyPages(t *testing.T) {
	pool := storage.NewBufferPool(8, logrus.New())
	path := t.TempDir()

	p, err := pool.GetPage(path, 5, 1)
	require.NoError(t, err)
	p.Write(123)
	pool.MarkDirty(path, 5, 1)
	pool.Unpin(path, 5, 1)

	require.NoError(t, pool.FlushAll())
	require.False(t, p.Dirty())

	reloaded := storage.NewPage(storage.PagePath(path, 1, 5), 5, 1)
	require.NoError(t, reloaded.LoadFromDisk())
	v, ok := reloaded.Read(0)
	require.True(t, ok)
	require.Equal(t, int64(123), v)
}
