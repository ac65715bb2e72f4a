package concurrency_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Felmond13/lstoredb/concurrency"
)

func TestManager_SharedLocksDoNotConflict(t *testing.T) {
	m := concurrency.NewManager()
	require.True(t, m.Acquire("t", 1, "txn-a", concurrency.Shared))
	require.True(t, m.Acquire("t", 1, "txn-b", concurrency.Shared))
}

func TestManager_ExclusiveConflictsWithEverything(t *testing.T) {
	m := concurrency.NewManager()
	require.True(t, m.Acquire("t", 1, "txn-a", concurrency.Exclusive))
	require.False(t, m.Acquire("t", 1, "txn-b", concurrency.Shared))
	require.False(t, m.Acquire("t", 1, "txn-b", concurrency.Exclusive))
}

func TestManager_SameTxnSameModeIsIdempotent(t *testing.T) {
	m := concurrency.NewManager()
	require.True(t, m.Acquire("t", 1, "txn-a", concurrency.Shared))
	require.True(t, m.Acquire("t", 1, "txn-a", concurrency.Shared))
}

func TestManager_UpgradeGrantedOnlyForSoleHolder(t *testing.T) {
	m := concurrency.NewManager()
	require.True(t, m.Acquire("t", 1, "txn-a", concurrency.Shared))
	require.True(t, m.Acquire("t", 1, "txn-a", concurrency.Exclusive))

	m2 := concurrency.NewManager()
	require.True(t, m2.Acquire("t", 1, "txn-a", concurrency.Shared))
	require.True(t, m2.Acquire("t", 1, "txn-b", concurrency.Shared))
	require.False(t, m2.Acquire("t", 1, "txn-a", concurrency.Exclusive))
}

func TestManager_ReleaseAllDropsEveryLock(t *testing.T) {
	m := concurrency.NewManager()
	require.True(t, m.Acquire("t", 1, "txn-a", concurrency.Exclusive))
	require.True(t, m.Acquire("t", 2, "txn-a", concurrency.Shared))

	m.ReleaseAll("txn-a")

	require.True(t, m.Acquire("t", 1, "txn-b", concurrency.Exclusive))
	require.True(t, m.Acquire("t", 2, "txn-b", concurrency.Exclusive))
}

func TestManager_NoWaitNeverBlocks(t *testing.T) {
	m := concurrency.NewManager()
	require.True(t, m.Acquire("t", 1, "txn-a", concurrency.Exclusive))
	// Denied immediately; no deadlock is even possible since nothing waits.
	require.False(t, m.Acquire("t", 1, "txn-b", concurrency.Exclusive))
}
