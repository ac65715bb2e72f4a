package index_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Felmond13/lstoredb/index"
)

func TestColumnIndex_PutAndLookup(t *testing.T) {
	ix := index.New(true)
	ix.Put(1, 100)
	ix.Put(2, 200)
	ix.Put(3, 100)

	v, ok := ix.ValueByRid(1)
	require.True(t, ok)
	require.Equal(t, int64(100), v)

	rids := ix.RidsByValue(100)
	sort.Slice(rids, func(a, b int) bool { return rids[a] < rids[b] })
	require.Equal(t, []int64{1, 3}, rids)
}

func TestColumnIndex_PutMovesBetweenBuckets(t *testing.T) {
	ix := index.New(false)
	ix.Put(1, 10)
	ix.Put(1, 20)

	require.Empty(t, ix.RidsByValue(10))
	require.Equal(t, []int64{1}, ix.RidsByValue(20))
}

func TestColumnIndex_Erase(t *testing.T) {
	ix := index.New(false)
	ix.Put(1, 10)
	ix.Erase(1)
	_, ok := ix.ValueByRid(1)
	require.False(t, ok)
	require.Empty(t, ix.RidsByValue(10))
}

func TestColumnIndex_RidsInRangeIsInclusiveAndSorted(t *testing.T) {
	ix := index.New(true)
	for i := int64(0); i < 10; i++ {
		ix.Put(i, i)
	}
	rids := ix.RidsInRange(3, 6)
	require.Equal(t, []int64{3, 4, 5, 6}, rids)
}

func TestColumnIndex_DropRefusesOnPrimaryKey(t *testing.T) {
	ix := index.New(true)
	require.ErrorIs(t, ix.Drop(), index.ErrDropPrimaryKey)

	secondary := index.New(false)
	require.NoError(t, secondary.Drop())
	require.True(t, secondary.Dropped())
}

func TestColumnIndex_CreateRebuildsFromScan(t *testing.T) {
	ix := index.New(true)
	source := map[int64]int64{1: 10, 2: 20, 3: 30}
	ix.Create(func(yield func(rid, value int64)) {
		for rid, value := range source {
			yield(rid, value)
		}
	})
	for rid, value := range source {
		got, ok := ix.ValueByRid(rid)
		require.True(t, ok)
		require.Equal(t, value, got)
	}
}
