// Package engine implements the Table (component E): column page-ranges,
// the record-id allocator, the page directory, the version-chain read
// algorithm, and the merge protocol that consolidates tail records into
// base pages.
package engine

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Felmond13/lstoredb/config"
	"github.com/Felmond13/lstoredb/index"
	"github.com/Felmond13/lstoredb/storage"
)

// Metadata column layout: every record, base or tail, carries these four
// slots in fixed positions before its user columns (§3 Data Model).
const (
	ColIndirection = 0
	ColRID         = 1
	ColTimestamp   = 2
	ColSchema      = 3
	MetaColumns    = 4
)

var (
	ErrNotFound         = storage.ErrNotFound
	ErrDuplicate        = storage.ErrDuplicate
	ErrCapacityExceeded = storage.ErrCapacityExceeded
	ErrInvariant        = storage.ErrInvariant
)

type dirEntry struct {
	pageNumber uint64
	slot       int
}

// Table owns every column's page ranges, the page directory, the
// per-column indexes, the record-id allocator, the update counter
// driving merges, and a bounded ring of page-directory snapshots.
type Table struct {
	// mu guards the directory, allocator, ranges list, and update
	// counter. It is distinct from the buffer pool's lock, each index's
	// lock, and the log's lock (§5 shared-resource policy).
	mu sync.Mutex

	path       string
	name       string
	numColumns int // M + U
	keyColumn  int // full column index (including the M metadata slots)

	pool *storage.BufferPool
	cfg  config.Config
	log  *logrus.Logger

	ranges     []*storage.PageRange
	allocator  *storage.PageNumberAllocator
	baseRange  map[int64]int // base rid -> index into ranges
	directory  map[int]map[int64]dirEntry
	indexes    map[int]*index.ColumnIndex
	tombstoned map[int64]struct{}

	nextRID     int64
	updateCount int

	// mergeMu is the single exclusive flag serialising merge against
	// concurrent updates, per §4.5's merge protocol note.
	mergeMu sync.Mutex

	versions []Snapshot
}

// Snapshot is one ring entry: a deep copy of the page directory at the
// moment a mutating operation committed.
type Snapshot struct {
	Directory map[int]map[int64][2]int64 // column -> rid -> [page_num, slot]
}

// CreateTable initializes a brand new table in memory (nothing is written
// under path until pages are flushed or Save is called): numUserColumns user
// columns plus the M=4 metadata columns, keyColumn identifying the
// primary-key user column (0-based among user columns). The primary-key
// column's index is created immediately; it can never be dropped.
func CreateTable(path, name string, numUserColumns, keyUserColumn int, pool *storage.BufferPool, cfg config.Config, log *logrus.Logger) (*Table, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	numColumns := MetaColumns + numUserColumns
	keyColumn := MetaColumns + keyUserColumn

	t := &Table{
		path:       path,
		name:       name,
		numColumns: numColumns,
		keyColumn:  keyColumn,
		pool:       pool,
		cfg:        cfg,
		log:        log,
		allocator:  storage.NewPageNumberAllocator(1),
		baseRange:  make(map[int64]int),
		directory:  make(map[int]map[int64]dirEntry),
		indexes:    make(map[int]*index.ColumnIndex),
		tombstoned: make(map[int64]struct{}),
		nextRID:    1,
	}
	for c := 0; c < numColumns; c++ {
		t.directory[c] = make(map[int64]dirEntry)
	}
	t.ranges = append(t.ranges, storage.NewPageRange(pool, path, t.allocator, numColumns, cfg.BasePagesPerRange))
	t.indexes[keyColumn] = index.New(true)
	return t, nil
}

// NumColumns, KeyColumn and Path expose a table's shape to callers that
// build projections or address it by location.
func (t *Table) NumColumns() int { return t.numColumns }
func (t *Table) KeyColumn() int  { return t.keyColumn }
func (t *Table) Path() string    { return t.path }
func (t *Table) Name() string    { return t.name }

// CreateIndex builds (or rebuilds) an ordered index for column, scanning
// the current page directory for its values.
func (t *Table) CreateIndex(column int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createIndexLocked(column)
}

func (t *Table) createIndexLocked(column int) error {
	ix, ok := t.indexes[column]
	if !ok {
		ix = index.New(column == t.keyColumn)
		t.indexes[column] = ix
	}
	entries := t.directory[column]
	ix.Create(func(yield func(rid, value int64)) {
		for rid := range entries {
			if _, dead := t.tombstoned[rid]; dead {
				continue
			}
			if _, isBase := t.baseRange[rid]; !isBase {
				continue // index only tracks base rids, keyed by current value
			}
			val, ok := t.currentValueLocked(column, rid)
			if ok {
				yield(rid, val)
			}
		}
	})
	return nil
}

// DropIndex removes a secondary column's index. The primary-key column's
// index can never be dropped.
func (t *Table) DropIndex(column int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ix, ok := t.indexes[column]
	if !ok {
		return nil
	}
	if err := ix.Drop(); err != nil {
		return err
	}
	delete(t.indexes, column)
	return nil
}

// Insert writes a new base record. values has exactly numColumns-M
// entries, one per user column. Fails with ErrDuplicate if the key
// column's value already exists among live rows.
func (t *Table) Insert(values []int64) error {
	if len(values) != t.numColumns-MetaColumns {
		return errors.Wrap(ErrInvariant, "engine: insert column count mismatch")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	keyValue := values[t.keyColumn-MetaColumns]
	if keyIx, ok := t.indexes[t.keyColumn]; ok {
		if rids := keyIx.RidsByValue(keyValue); len(rids) > 0 {
			return errors.Wrap(ErrDuplicate, "engine: primary key already exists")
		}
	}

	rid := t.nextRID
	t.nextRID++

	row := make([]int64, t.numColumns)
	row[ColIndirection] = 0
	row[ColRID] = rid
	row[ColTimestamp] = time.Now().Unix()
	row[ColSchema] = 0
	copy(row[MetaColumns:], values)

	rangeIdx, err := t.findOrCreateBaseRangeLocked()
	if err != nil {
		return err
	}
	pr := t.ranges[rangeIdx]

	for c := 0; c < t.numColumns; c++ {
		pageNum, slot, err := pr.AllocateBaseSlot(c)
		if err != nil {
			return errors.Wrapf(err, "engine: allocate base slot col %d", c)
		}
		page, err := t.pool.GetPage(t.path, pageNum, c)
		if err != nil {
			return err
		}
		if !page.Write(row[c]) {
			t.pool.Unpin(t.path, pageNum, c)
			return errors.Wrap(ErrCapacityExceeded, "engine: base page full mid-insert")
		}
		t.pool.MarkDirty(t.path, pageNum, c)
		t.pool.Unpin(t.path, pageNum, c)
		t.directory[c][rid] = dirEntry{pageNumber: pageNum, slot: slot}
	}
	t.baseRange[rid] = rangeIdx

	for c, ix := range t.indexes {
		if c == t.keyColumn {
			ix.Put(rid, keyValue)
			continue
		}
		userCol := c - MetaColumns
		if userCol >= 0 && userCol < len(values) {
			ix.Put(rid, values[userCol])
		}
	}
	return nil
}

// findOrCreateBaseRangeLocked returns the index of the first range with
// base capacity for every column, creating a new range if none qualifies.
func (t *Table) findOrCreateBaseRangeLocked() (int, error) {
	for i, pr := range t.ranges {
		ok := true
		for c := 0; c < t.numColumns; c++ {
			if !pr.HasBaseCapacity(c) {
				ok = false
				break
			}
		}
		if ok {
			return i, nil
		}
	}
	pr := storage.NewPageRange(t.pool, t.path, t.allocator, t.numColumns, t.cfg.BasePagesPerRange)
	t.ranges = append(t.ranges, pr)
	return len(t.ranges) - 1, nil
}

// currentValueLocked reads a column's current (k=0) value for a base rid.
func (t *Table) currentValueLocked(column int, baseRid int64) (int64, bool) {
	target, err := t.resolveVersionLocked(baseRid, 0)
	if err != nil {
		return 0, false
	}
	v, err := t.readSlotLocked(column, target)
	if err != nil {
		return 0, false
	}
	return v, true
}

// resolveVersionLocked implements the version-chain read algorithm
// (§4.5): starting from the base rid, follow the newest-tail pointer and
// then each tail's own INDIRECTION (pointing to the next-older tail) to
// build a newest-to-oldest chain, terminated by the base record itself.
// k == 0 selects the newest; k < 0 walks |k| steps toward the base; if
// the chain is shorter than requested the base record is returned.
func (t *Table) resolveVersionLocked(baseRid int64, k int) (int64, error) {
	if k > 0 {
		k = -k
	}
	want := -k

	indirection, err := t.readSlotLocked(ColIndirection, baseRid)
	if err != nil {
		return 0, err
	}

	chain := []int64{}
	visited := map[int64]struct{}{baseRid: {}}
	cur := indirection
	for cur != 0 {
		if _, seen := visited[cur]; seen {
			break // cycle guard
		}
		visited[cur] = struct{}{}
		chain = append(chain, cur)
		next, err := t.readSlotLocked(ColIndirection, cur)
		if err != nil {
			break // dangling indirection: stop here
		}
		cur = next
	}

	// chain is newest-first; fullChain conceptually is chain followed by
	// the base record, so index L (== len(chain)) is the base record and
	// every index below it is chain[idx].
	idx := want
	if idx >= len(chain) {
		return baseRid, nil
	}
	return chain[idx], nil
}

func (t *Table) readSlotLocked(column int, rid int64) (int64, error) {
	entry, ok := t.directory[column][rid]
	if !ok {
		return 0, errors.Wrap(ErrNotFound, "engine: directory miss")
	}
	page, err := t.pool.GetPage(t.path, entry.pageNumber, column)
	if err != nil {
		return 0, err
	}
	defer t.pool.Unpin(t.path, entry.pageNumber, column)
	v, ok := page.Read(entry.slot)
	if !ok {
		return 0, errors.Wrap(ErrCorruption, "engine: slot read past page end")
	}
	return v, nil
}

// ErrCorruption mirrors storage.ErrCorruption for callers that only
// import engine.
var ErrCorruption = storage.ErrCorruption

// baseRidForKey resolves the live base rid holding keyValue in the
// primary-key column, or ErrNotFound.
func (t *Table) baseRidForKeyLocked(keyValue int64) (int64, error) {
	ix, ok := t.indexes[t.keyColumn]
	if !ok {
		return 0, errors.Wrap(ErrInvariant, "engine: primary key column has no index")
	}
	rids := ix.RidsByValue(keyValue)
	for _, r := range rids {
		if _, dead := t.tombstoned[r]; !dead {
			return r, nil
		}
	}
	return 0, errors.Wrap(ErrNotFound, "engine: key not found")
}

// ResolveRid returns the live base record-id holding keyValue in the
// primary-key column, or ErrNotFound. Used by the lock manager to turn a
// caller-facing key into the (table, rid) pair strict 2PL locks on.
func (t *Table) ResolveRid(keyValue int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseRidForKeyLocked(keyValue)
}

// PushVersionSnapshot copies the current page directory into the bounded
// version ring, trimming to VersionRingDepth. Called by the Transaction
// runner after each mutating operation commits to its step (§4.7 step 6).
func (t *Table) PushVersionSnapshot() {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{Directory: make(map[int]map[int64][2]int64, t.numColumns)}
	for c := 0; c < t.numColumns; c++ {
		snap.Directory[c] = make(map[int64][2]int64, len(t.directory[c]))
		for rid, e := range t.directory[c] {
			snap.Directory[c][rid] = [2]int64{int64(e.pageNumber), int64(e.slot)}
		}
	}
	t.versions = append(t.versions, snap)
	if len(t.versions) > t.cfg.VersionRingDepth {
		t.versions = t.versions[len(t.versions)-t.cfg.VersionRingDepth:]
	}
}

// Select returns the current (k=0) projected user-column values for key.
func (t *Table) Select(keyValue int64, projection []bool) ([]int64, error) {
	return t.SelectVersion(keyValue, projection, 0)
}

// SelectVersion returns the |k|-th-older version's projected user-column
// values for key. k == 0 is current.
func (t *Table) SelectVersion(keyValue int64, projection []bool, k int) ([]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	baseRid, err := t.baseRidForKeyLocked(keyValue)
	if err != nil {
		return nil, err
	}
	target, err := t.resolveVersionLocked(baseRid, k)
	if err != nil {
		return nil, err
	}
	return t.readProjectedLocked(target, projection)
}

func (t *Table) readProjectedLocked(rid int64, projection []bool) ([]int64, error) {
	out := make([]int64, len(projection))
	for i, want := range projection {
		if !want {
			continue
		}
		v, err := t.readSlotLocked(MetaColumns+i, rid)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SelectBy returns the current projected rows for every live base rid
// indexed under value in column (a non-primary column must have had
// CreateIndex called on it beforehand).
func (t *Table) SelectBy(column int, value int64, projection []bool) ([][]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ix, ok := t.indexes[column]
	if !ok {
		return nil, errors.Wrap(ErrInvariant, "engine: column has no index")
	}
	var rows [][]int64
	for _, rid := range ix.RidsByValue(value) {
		if _, dead := t.tombstoned[rid]; dead {
			continue
		}
		target, err := t.resolveVersionLocked(rid, 0)
		if err != nil {
			continue
		}
		row, err := t.readProjectedLocked(target, projection)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Update allocates a tail record for key. newValues has one entry per
// user column; a nil entry means "inherit the current value unchanged".
func (t *Table) Update(keyValue int64, newValues []*int64) error {
	if len(newValues) != t.numColumns-MetaColumns {
		return errors.Wrap(ErrInvariant, "engine: update column count mismatch")
	}

	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	baseRid, err := t.baseRidForKeyLocked(keyValue)
	if err != nil {
		return err
	}

	prevIndirection, err := t.readSlotLocked(ColIndirection, baseRid)
	if err != nil {
		return err
	}
	currentTarget, err := t.resolveVersionLocked(baseRid, 0)
	if err != nil {
		return err
	}
	prevSchema, err := t.readSlotLocked(ColSchema, baseRid)
	if err != nil {
		return err
	}

	tailRid := t.nextRID
	t.nextRID++

	row := make([]int64, t.numColumns)
	row[ColIndirection] = prevIndirection
	row[ColRID] = tailRid
	row[ColTimestamp] = time.Now().Unix()

	var newSchema int64 = prevSchema
	for i, nv := range newValues {
		col := MetaColumns + i
		if nv != nil {
			row[col] = *nv
			newSchema |= 1 << uint(i)
		} else {
			v, err := t.readSlotLocked(col, currentTarget)
			if err != nil {
				return err
			}
			row[col] = v
		}
	}
	row[ColSchema] = newSchema

	rangeIdx := t.baseRange[baseRid]
	pr := t.ranges[rangeIdx]
	for c := 0; c < t.numColumns; c++ {
		pageNum, slot, err := pr.AllocateTailSlot(c)
		if err != nil {
			return errors.Wrapf(err, "engine: allocate tail slot col %d", c)
		}
		page, err := t.pool.GetPage(t.path, pageNum, c)
		if err != nil {
			return err
		}
		if !page.Write(row[c]) {
			t.pool.Unpin(t.path, pageNum, c)
			return errors.Wrap(ErrCapacityExceeded, "engine: tail page full mid-update")
		}
		t.pool.MarkDirty(t.path, pageNum, c)
		t.pool.Unpin(t.path, pageNum, c)
		t.directory[c][tailRid] = dirEntry{pageNumber: pageNum, slot: slot}
	}

	if err := t.rewriteSlotLocked(ColIndirection, baseRid, tailRid); err != nil {
		return err
	}
	if err := t.rewriteSlotLocked(ColSchema, baseRid, newSchema); err != nil {
		return err
	}

	for i, nv := range newValues {
		if nv == nil {
			continue
		}
		col := MetaColumns + i
		if ix, ok := t.indexes[col]; ok {
			ix.Put(baseRid, *nv)
		}
	}

	t.updateCount++
	if t.updateCount >= t.cfg.MergeTrigger {
		if err := t.mergeLocked(); err != nil {
			t.log.WithError(err).Warn("engine: merge failed")
		}
		t.updateCount = 0
	}
	return nil
}

func (t *Table) rewriteSlotLocked(column int, rid, value int64) error {
	entry, ok := t.directory[column][rid]
	if !ok {
		return errors.Wrap(ErrInvariant, "engine: rewrite on missing directory entry")
	}
	page, err := t.pool.GetPage(t.path, entry.pageNumber, column)
	if err != nil {
		return err
	}
	defer t.pool.Unpin(t.path, entry.pageNumber, column)
	if !page.Update(entry.slot, value) {
		return errors.Wrap(ErrInvariant, "engine: update past page end")
	}
	t.pool.MarkDirty(t.path, entry.pageNumber, column)
	return nil
}

// Delete removes every directory entry for key's row, purges index
// entries, and writes a tombstone (RID = -1) into the base RID slot.
// Subsequent reads must not see the row.
func (t *Table) Delete(keyValue int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	baseRid, err := t.baseRidForKeyLocked(keyValue)
	if err != nil {
		return err
	}

	for _, ix := range t.indexes {
		ix.Erase(baseRid)
	}
	if err := t.rewriteSlotLocked(ColRID, baseRid, -1); err != nil {
		return err
	}
	t.tombstoned[baseRid] = struct{}{}
	for c := 0; c < t.numColumns; c++ {
		delete(t.directory[c], baseRid)
	}
	delete(t.baseRange, baseRid)
	return nil
}

// Sum totals column c (a user-column index) across every live key in
// [lo, hi], resolved through the key column's index.
func (t *Table) Sum(lo, hi int64, column int) (int64, error) {
	return t.SumVersion(lo, hi, column, 0)
}

// SumVersion is Sum at a relative version k.
func (t *Table) SumVersion(lo, hi int64, column int, k int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keyIx, ok := t.indexes[t.keyColumn]
	if !ok {
		return 0, errors.Wrap(ErrInvariant, "engine: primary key column has no index")
	}
	var total int64
	for _, rid := range keyIx.RidsInRange(lo, hi) {
		if _, dead := t.tombstoned[rid]; dead {
			continue
		}
		target, err := t.resolveVersionLocked(rid, k)
		if err != nil {
			continue
		}
		v, err := t.readSlotLocked(MetaColumns+column, target)
		if err != nil {
			continue
		}
		total += v
	}
	return total, nil
}

// Close flushes every dirty page belonging to this table through the
// shared buffer pool.
func (t *Table) Close() error {
	return t.pool.FlushAll()
}
