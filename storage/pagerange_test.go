package storage_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Felmond13/lstoredb/storage"
)

func TestPageRange_AllocateBaseSlotReusesCurrentPage(t *testing.T) {
	pool := storage.NewBufferPool(16, logrus.New())
	path := t.TempDir()
	alloc := storage.NewPageNumberAllocator(1)
	pr := storage.NewPageRange(pool, path, alloc, 1, 2)

	num1, slot1, err := pr.AllocateBaseSlot(0)
	require.NoError(t, err)
	require.Equal(t, 0, slot1)

	page, err := pool.GetPage(path, num1, 0)
	require.NoError(t, err)
	page.Write(42)
	pool.Unpin(path, num1, 0)

	num2, slot2, err := pr.AllocateBaseSlot(0)
	require.NoError(t, err)
	require.Equal(t, num1, num2)
	require.Equal(t, 1, slot2)
}

func TestPageRange_BaseCapacityExhaustsAfterConfiguredPages(t *testing.T) {
	pool := storage.NewBufferPool(512, logrus.New())
	path := t.TempDir()
	alloc := storage.NewPageNumberAllocator(1)
	pr := storage.NewPageRange(pool, path, alloc, 1, 2)

	filled := 0
	for pr.HasBaseCapacity(0) {
		num, slot, err := pr.AllocateBaseSlot(0)
		require.NoError(t, err)
		page, err := pool.GetPage(path, num, 0)
		require.NoError(t, err)
		require.True(t, page.Write(int64(slot)))
		pool.Unpin(path, num, 0)
		filled++
		if filled > 2*storage.MaxSlots {
			t.Fatal("base capacity never exhausted")
		}
	}
	require.Equal(t, 2*storage.MaxSlots, filled)
	_, _, err := pr.AllocateBaseSlot(0)
	require.ErrorIs(t, err, storage.ErrCapacityExceeded)
}

func TestPageRange_TailSlotsAreUnbounded(t *testing.T) {
	pool := storage.NewBufferPool(512, logrus.New())
	path := t.TempDir()
	alloc := storage.NewPageNumberAllocator(1)
	pr := storage.NewPageRange(pool, path, alloc, 1, 1)

	for i := 0; i < storage.MaxSlots+5; i++ {
		num, _, err := pr.AllocateTailSlot(0)
		require.NoError(t, err)
		page, err := pool.GetPage(path, num, 0)
		require.NoError(t, err)
		require.True(t, page.Write(int64(i)))
		pool.Unpin(path, num, 0)
	}
	require.Len(t, pr.TailPageNumbers(0), 2)
}
