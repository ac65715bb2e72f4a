// Package index implements the per-column ordered index (component D):
// an in-memory ordered map from value to the set of record-ids holding
// that value, plus the reverse map from record-id to its current value.
// Unlike the teacher's on-disk B+Tree, this index is never itself
// persisted — on open a table rebuilds its primary-key index by scanning
// its page directory (§3 Table, §4.4); secondary indexes are not rebuilt
// and need CreateIndex again. A simple sorted-slice structure is sufficient and
// avoids the complexity of a paged tree for data that is always
// reconstructible.
package index

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrDropPrimaryKey is returned by Drop on the primary-key column's index,
// which must always exist (§4.4).
var ErrDropPrimaryKey = errors.New("index: cannot drop primary-key column index")

// ColumnIndex is one column's ordered index. All operations are
// serialized under a single re-entrant-by-convention lock (Go mutexes are
// not re-entrant, so internal helpers that already hold the lock are
// unexported and never call back into the locking public API).
type ColumnIndex struct {
	mu        sync.Mutex
	isPrimary bool
	dropped   bool

	// values holds (value, rid-set) pairs sorted by value, enabling
	// O(log N) lookup by value and inclusive range scans.
	values []valueEntry
	// byRid is the reverse map: rid -> current value.
	byRid map[int64]int64
}

type valueEntry struct {
	value int64
	rids  map[int64]struct{}
}

// New creates an empty column index. isPrimary marks it as undroppable.
func New(isPrimary bool) *ColumnIndex {
	return &ColumnIndex{
		isPrimary: isPrimary,
		byRid:     make(map[int64]int64),
	}
}

// ScanSource supplies (rid, value) pairs for Create to rebuild an index by
// scanning a table's page directory, rather than loading a persisted
// structure.
type ScanSource func(yield func(rid, value int64))

// Create (re)populates the index by scanning source. It is safe to call
// on an already-populated index; it first clears any existing entries.
func (ix *ColumnIndex) Create(source ScanSource) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.values = nil
	ix.byRid = make(map[int64]int64)
	ix.dropped = false
	source(func(rid, value int64) {
		ix.putLocked(rid, value)
	})
}

// Drop removes every entry, refusing on the primary-key column.
func (ix *ColumnIndex) Drop() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.isPrimary {
		return ErrDropPrimaryKey
	}
	ix.values = nil
	ix.byRid = make(map[int64]int64)
	ix.dropped = true
	return nil
}

// Dropped reports whether Drop has been called and Create has not since.
func (ix *ColumnIndex) Dropped() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.dropped
}

// Put upserts rid's value, moving it between value buckets if it already
// had a different one.
func (ix *ColumnIndex) Put(rid, value int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.putLocked(rid, value)
}

func (ix *ColumnIndex) putLocked(rid, value int64) {
	if old, ok := ix.byRid[rid]; ok && old != value {
		ix.removeFromBucketLocked(old, rid)
	}
	ix.byRid[rid] = value
	ix.addToBucketLocked(value, rid)
}

// Erase removes rid from the index entirely.
func (ix *ColumnIndex) Erase(rid int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	value, ok := ix.byRid[rid]
	if !ok {
		return
	}
	delete(ix.byRid, rid)
	ix.removeFromBucketLocked(value, rid)
}

// ValueByRid returns rid's current indexed value.
func (ix *ColumnIndex) ValueByRid(rid int64) (int64, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	v, ok := ix.byRid[rid]
	return v, ok
}

// RidsByValue returns every rid currently indexed under value, in
// unspecified order.
func (ix *ColumnIndex) RidsByValue(value int64) []int64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	i := ix.searchLocked(value)
	if i >= len(ix.values) || ix.values[i].value != value {
		return nil
	}
	out := make([]int64, 0, len(ix.values[i].rids))
	for r := range ix.values[i].rids {
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// RidsInRange returns every rid whose indexed value falls in [lo, hi],
// ordered by value then by rid.
func (ix *ColumnIndex) RidsInRange(lo, hi int64) []int64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []int64
	start := ix.searchLocked(lo)
	for i := start; i < len(ix.values) && ix.values[i].value <= hi; i++ {
		rids := make([]int64, 0, len(ix.values[i].rids))
		for r := range ix.values[i].rids {
			rids = append(rids, r)
		}
		sort.Slice(rids, func(a, b int) bool { return rids[a] < rids[b] })
		out = append(out, rids...)
	}
	return out
}

// searchLocked returns the index of the first bucket with value >= v.
func (ix *ColumnIndex) searchLocked(v int64) int {
	return sort.Search(len(ix.values), func(i int) bool {
		return ix.values[i].value >= v
	})
}

func (ix *ColumnIndex) addToBucketLocked(value, rid int64) {
	i := ix.searchLocked(value)
	if i < len(ix.values) && ix.values[i].value == value {
		ix.values[i].rids[rid] = struct{}{}
		return
	}
	entry := valueEntry{value: value, rids: map[int64]struct{}{rid: {}}}
	ix.values = append(ix.values, valueEntry{})
	copy(ix.values[i+1:], ix.values[i:])
	ix.values[i] = entry
}

func (ix *ColumnIndex) removeFromBucketLocked(value, rid int64) {
	i := ix.searchLocked(value)
	if i >= len(ix.values) || ix.values[i].value != value {
		return
	}
	delete(ix.values[i].rids, rid)
	if len(ix.values[i].rids) == 0 {
		ix.values = append(ix.values[:i], ix.values[i+1:]...)
	}
}
