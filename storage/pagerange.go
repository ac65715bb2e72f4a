package storage

import (
	"path/filepath"
	"sync"
	"sync/atomic"
)

// PageRange owns, per column, a bounded stack of base pages (capacity
// BasePagesPerRange) and an unbounded, growing stack of tail pages (§4.2).
// A table holds an ordered list of PageRanges; once one range's base
// capacity is exhausted for every column a new PageRange is created.
//
// PageRange itself holds only bookkeeping (which page numbers belong to
// which column, in which role); the Page objects are fetched on demand
// through the BufferPool, which mediates every access to component A.
type PageRange struct {
	mu sync.Mutex

	pool      *BufferPool
	tablePath string
	allocator *PageNumberAllocator

	basePagesPerRange int
	basePages         [][]uint64 // per column, oldest first
	tailPages         [][]uint64 // per column, oldest first
}

// PageNumberAllocator hands out globally unique page numbers for a table.
// Page numbers must be unique across every PageRange in the table because
// the persistent layout (§6) names one file per (column, page number) with
// no range segment.
type PageNumberAllocator struct {
	next uint64
}

// NewPageNumberAllocator starts an allocator at the given first free number.
func NewPageNumberAllocator(start uint64) *PageNumberAllocator {
	return &PageNumberAllocator{next: start}
}

// Next returns the next unused page number.
func (a *PageNumberAllocator) Next() uint64 {
	return atomic.AddUint64(&a.next, 1) - 1
}

// Peek returns the next number that would be handed out, without consuming it.
func (a *PageNumberAllocator) Peek() uint64 {
	return atomic.LoadUint64(&a.next)
}

// NewPageRange creates an empty page range for numColumns columns.
func NewPageRange(pool *BufferPool, tablePath string, allocator *PageNumberAllocator, numColumns, basePagesPerRange int) *PageRange {
	pr := &PageRange{
		pool:              pool,
		tablePath:         tablePath,
		allocator:         allocator,
		basePagesPerRange: basePagesPerRange,
		basePages:         make([][]uint64, numColumns),
		tailPages:         make([][]uint64, numColumns),
	}
	return pr
}

// PagePath computes the on-disk path for a (column, page number) pair
// per the persistent layout in §6: <table>/data/<column>_<page_num>.bin.
func PagePath(tablePath string, column int, pageNumber uint64) string {
	return filepath.Join(tablePath, "data", formatPageFile(column, pageNumber))
}

func formatPageFile(column int, pageNumber uint64) string {
	return itoa(column) + "_" + utoa(pageNumber) + ".bin"
}

// BasePageNumbers and TailPageNumbers return a column's current page
// numbers, oldest first — used when rebuilding a page directory or index
// by scanning, and when persisting page_range.json (§6).
func (pr *PageRange) BasePageNumbers(column int) []uint64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make([]uint64, len(pr.basePages[column]))
	copy(out, pr.basePages[column])
	return out
}

func (pr *PageRange) TailPageNumbers(column int) []uint64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make([]uint64, len(pr.tailPages[column]))
	copy(out, pr.tailPages[column])
	return out
}

// HasBaseCapacity reports whether the range can still accept a new base
// record for the given column, either because the last base page has room
// or because another base page can still be allocated.
func (pr *PageRange) HasBaseCapacity(column int) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.hasBaseCapacityLocked(column)
}

func (pr *PageRange) hasBaseCapacityLocked(column int) bool {
	pages := pr.basePages[column]
	if len(pages) < pr.basePagesPerRange {
		return true
	}
	last := pages[len(pages)-1]
	page, err := pr.pool.GetPage(pr.tablePath, last, column)
	if err != nil {
		return false
	}
	defer pr.pool.Unpin(pr.tablePath, last, column)
	return page.HasCapacity()
}

// AllocateBaseSlot picks the last base page with capacity, or appends a new
// one (until BasePagesPerRange is reached). Returns ErrCapacityExceeded if
// the range's base capacity for this column is exhausted — the caller
// (Table) must then try the next PageRange or create one.
func (pr *PageRange) AllocateBaseSlot(column int) (pageNumber uint64, slotIndex int, err error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.allocateSlotLocked(column, &pr.basePages[column], pr.basePagesPerRange)
}

// AllocateTailSlot always appends a new tail page once the current one is
// full; the tail chain is unbounded.
func (pr *PageRange) AllocateTailSlot(column int) (pageNumber uint64, slotIndex int, err error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.allocateSlotLocked(column, &pr.tailPages[column], -1)
}

// allocateSlotLocked implements the shared base/tail allocation policy.
// limit < 0 means unbounded (tail pages).
func (pr *PageRange) allocateSlotLocked(column int, pages *[]uint64, limit int) (uint64, int, error) {
	if len(*pages) > 0 {
		last := (*pages)[len(*pages)-1]
		page, err := pr.pool.GetPage(pr.tablePath, last, column)
		if err != nil {
			return 0, 0, err
		}
		if page.HasCapacity() {
			slot := page.Count()
			pr.pool.Unpin(pr.tablePath, last, column)
			return last, slot, nil
		}
		pr.pool.Unpin(pr.tablePath, last, column)
	}
	if limit >= 0 && len(*pages) >= limit {
		return 0, 0, ErrCapacityExceeded
	}
	newNum := pr.allocator.Next()
	*pages = append(*pages, newNum)
	// Touch the page once so the buffer pool creates its empty backing file
	// entry; callers write through GetPage again for the actual mutation.
	if _, err := pr.pool.GetPage(pr.tablePath, newNum, column); err != nil {
		return 0, 0, err
	}
	pr.pool.Unpin(pr.tablePath, newNum, column)
	return newNum, 0, nil
}

// RestoreBasePages and RestoreTailPages repopulate bookkeeping after
// reopening a table from its persisted page_range.json (§6).
func (pr *PageRange) RestoreBasePages(column int, numbers []uint64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.basePages[column] = append([]uint64(nil), numbers...)
}

func (pr *PageRange) RestoreTailPages(column int, numbers []uint64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.tailPages[column] = append([]uint64(nil), numbers...)
}

// ClearTailPages drops every tail page number for every column — called
// after a merge consolidates tail values into base pages (§4.5).
func (pr *PageRange) ClearTailPages() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for i := range pr.tailPages {
		pr.tailPages[i] = nil
	}
}

func itoa(i int) string {
	return utoa(uint64(i))
}

func utoa(u uint64) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for u > 0 {
		pos--
		buf[pos] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[pos:])
}
