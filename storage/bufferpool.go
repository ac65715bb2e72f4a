package storage

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// bpKey identifies one cached page by (table path, page number, column) —
// the buffer pool's cache key per §4.3.
type bpKey struct {
	tablePath string
	number    uint64
	column    int
}

type bpEntry struct {
	key  bpKey
	page *Page
	pins int
	elem *list.Element
}

// BufferPool is an LRU cache of Pages, with pin counts protecting pages
// that are in active use from eviction. Capacity is in pages, shared across
// every table and column the pool backs.
type BufferPool struct {
	mu       sync.Mutex
	capacity int
	entries  map[bpKey]*bpEntry
	order    *list.List // front = most recently used, back = least
	log      *logrus.Logger
	fs       *MemFS // non-nil: every page this pool serves is ephemeral
}

// NewBufferPool creates a pool holding up to capacity pages at once.
// A nil logger falls back to logrus's standard logger.
func NewBufferPool(capacity int, log *logrus.Logger) *BufferPool {
	return newBufferPool(capacity, log, nil)
}

// NewEphemeralBufferPool creates a pool whose pages are backed by an
// in-memory filesystem rather than real files, for scratch tables that
// are never persisted to disk.
func NewEphemeralBufferPool(capacity int, log *logrus.Logger) *BufferPool {
	return newBufferPool(capacity, log, NewMemFS())
}

func newBufferPool(capacity int, log *logrus.Logger, fs *MemFS) *BufferPool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if capacity < 1 {
		capacity = 1
	}
	return &BufferPool{
		capacity: capacity,
		entries:  make(map[bpKey]*bpEntry),
		order:    list.New(),
		log:      log,
		fs:       fs,
	}
}

// Ephemeral reports whether this pool's pages are backed by memory only.
func (bp *BufferPool) Ephemeral() bool { return bp.fs != nil }

// GetPage returns the page for (tablePath, number, column), pinning it.
// Every successful call must be matched by exactly one Unpin. The page is
// loaded from disk (or created empty) on first access and cached
// thereafter until evicted.
func (bp *BufferPool) GetPage(tablePath string, number uint64, column int) (*Page, error) {
	k := bpKey{tablePath: tablePath, number: number, column: column}

	bp.mu.Lock()
	if e, ok := bp.entries[k]; ok {
		e.pins++
		bp.order.MoveToFront(e.elem)
		bp.mu.Unlock()
		return e.page, nil
	}
	bp.mu.Unlock()

	var page *Page
	if bp.fs != nil {
		page = NewEphemeralPage(PagePath(tablePath, column, number), number, column, bp.fs)
	} else {
		page = NewPage(PagePath(tablePath, column, number), number, column)
	}
	if err := page.LoadFromDisk(); err != nil {
		return nil, errors.Wrapf(err, "bufferpool: load page %d col %d", number, column)
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	// Another goroutine may have raced us in; prefer its copy.
	if e, ok := bp.entries[k]; ok {
		e.pins++
		bp.order.MoveToFront(e.elem)
		return e.page, nil
	}

	if len(bp.entries) >= bp.capacity {
		if err := bp.evictLocked(); err != nil {
			return nil, err
		}
	}

	e := &bpEntry{key: k, page: page, pins: 1}
	e.elem = bp.order.PushFront(e)
	bp.entries[k] = e
	return page, nil
}

// Unpin releases one pin acquired by GetPage. Unpinning a page that is not
// pinned, or not cached, is a no-op.
func (bp *BufferPool) Unpin(tablePath string, number uint64, column int) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	k := bpKey{tablePath: tablePath, number: number, column: column}
	if e, ok := bp.entries[k]; ok && e.pins > 0 {
		e.pins--
	}
}

// MarkDirty flags a cached page as holding unflushed mutations.
func (bp *BufferPool) MarkDirty(tablePath string, number uint64, column int) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	k := bpKey{tablePath: tablePath, number: number, column: column}
	if e, ok := bp.entries[k]; ok {
		e.page.MarkDirty()
	}
}

// Flush writes one cached page to disk if dirty.
func (bp *BufferPool) Flush(tablePath string, number uint64, column int) error {
	bp.mu.Lock()
	e, ok := bp.entries[bpKey{tablePath: tablePath, number: number, column: column}]
	bp.mu.Unlock()
	if !ok {
		return nil
	}
	if !e.page.Dirty() {
		return nil
	}
	return e.page.FlushToDisk()
}

// FlushAll writes every dirty cached page to disk.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	dirty := make([]*Page, 0, len(bp.entries))
	for _, e := range bp.entries {
		if e.page.Dirty() {
			dirty = append(dirty, e.page)
		}
	}
	bp.mu.Unlock()

	for _, p := range dirty {
		if err := p.FlushToDisk(); err != nil {
			return errors.Wrapf(err, "bufferpool: flush page %d col %d", p.Number(), p.Column())
		}
	}
	return nil
}

// Clear flushes every dirty page and drops the whole cache, regardless of
// pins.
func (bp *BufferPool) Clear() error {
	if err := bp.FlushAll(); err != nil {
		return err
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.entries = make(map[bpKey]*bpEntry)
	bp.order = list.New()
	return nil
}

// evictLocked runs the three-pass eviction policy. Caller holds bp.mu.
//
// Pass 1: evict the least recently used entry with zero pins.
// Pass 2: no unpinned entry exists — clamp every pin count above 1 down to
// 1 (a page pinned multiple times by nested callers is still "in use" but
// not more evictable for it) and retry pass 1.
// Pass 3: still nothing unpinned — force-evict the least recently used
// entry regardless of its pin count, and log it loudly; this only happens
// under pathological over-subscription of the pool relative to concurrent
// in-flight operations.
func (bp *BufferPool) evictLocked() error {
	if e := bp.findUnpinnedLocked(); e != nil {
		return bp.evictEntryLocked(e, false)
	}

	for _, e := range bp.entries {
		if e.pins > 1 {
			e.pins = 1
		}
	}
	if e := bp.findUnpinnedLocked(); e != nil {
		return bp.evictEntryLocked(e, false)
	}

	back := bp.order.Back()
	if back == nil {
		return errors.Wrap(ErrInvariant, "bufferpool: evict called on empty pool")
	}
	e := back.Value.(*bpEntry)
	bp.log.WithFields(logrus.Fields{
		"table": e.key.tablePath, "page": e.key.number, "column": e.key.column, "pins": e.pins,
	}).Warn("storage: force-evicting pinned page, buffer pool is over-subscribed")
	return bp.evictEntryLocked(e, true)
}

func (bp *BufferPool) findUnpinnedLocked() *bpEntry {
	for el := bp.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*bpEntry)
		if e.pins == 0 {
			return e
		}
	}
	return nil
}

func (bp *BufferPool) evictEntryLocked(e *bpEntry, forced bool) error {
	if e.page.Dirty() {
		if err := e.page.FlushToDisk(); err != nil {
			return errors.Wrapf(err, "bufferpool: flush on evict page %d col %d", e.key.number, e.key.column)
		}
	}
	bp.order.Remove(e.elem)
	delete(bp.entries, e.key)
	return nil
}
