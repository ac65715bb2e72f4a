package txlog_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Felmond13/lstoredb/txlog"
)

func TestLog_OperationsAreQueryableSince(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := txlog.Open(dir, nil)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.LogOperation(txlog.Record{TxnID: "t1", Op: "insert", Table: "a", Key: 1}))
	require.NoError(t, l.LogOperation(txlog.Record{TxnID: "t1", Op: "commit", Table: "a"}))

	records, err := l.Since(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "insert", records[0].Op)
	require.Equal(t, "commit", records[1].Op)
}

func TestLog_RecoveryPointIsWritten(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := txlog.Open(dir, nil)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.LogRecoveryPoint())
}

func TestLog_SinceFiltersByTimestamp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := txlog.Open(dir, nil)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.LogOperation(txlog.Record{TxnID: "t1", Op: "insert"}))
	records, err := l.Since(1 << 62)
	require.NoError(t, err)
	require.Empty(t, records)
}
