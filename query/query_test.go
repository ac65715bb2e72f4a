package query_test

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Felmond13/lstoredb/config"
	"github.com/Felmond13/lstoredb/engine"
	"github.com/Felmond13/lstoredb/query"
	"github.com/Felmond13/lstoredb/storage"
)

func newTable(t *testing.T, numUserColumns, keyCol int) *engine.Table {
	t.Helper()
	cfg := config.Default()
	pool := storage.NewBufferPool(64, logrus.New())
	tbl, err := engine.CreateTable(filepath.Join(t.TempDir(), "t"), "t", numUserColumns, keyCol, pool, cfg, logrus.New())
	require.NoError(t, err)
	return tbl
}

func TestFacade_CollapsesTableErrorsToFalse(t *testing.T) {
	tbl := newTable(t, 2, 0)
	require.True(t, query.Insert(tbl, []int64{1, 10}))
	require.False(t, query.Insert(tbl, []int64{1, 20})) // duplicate key

	_, ok := query.Select(tbl, 99, []bool{true, true})
	require.False(t, ok) // no such key

	require.False(t, query.Update(tbl, 99, []*int64{nil, nil}))
	require.False(t, query.Delete(tbl, 99))
}

func TestFacade_Increment(t *testing.T) {
	tbl := newTable(t, 2, 0)
	require.True(t, query.Insert(tbl, []int64{1, 10}))
	require.True(t, query.Increment(tbl, 1, 1))

	row, ok := query.Select(tbl, 1, []bool{true, true})
	require.True(t, ok)
	require.Equal(t, int64(11), row[1])
}

func TestFacade_ModeForClassifiesLockRequirement(t *testing.T) {
	require.Equal(t, query.Exclusive, query.ModeFor("insert"))
	require.Equal(t, query.Exclusive, query.ModeFor("update"))
	require.Equal(t, query.Exclusive, query.ModeFor("delete"))
	require.Equal(t, query.Shared, query.ModeFor("select"))
	require.Equal(t, query.Shared, query.ModeFor("sum"))
}
