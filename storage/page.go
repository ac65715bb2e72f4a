// Package storage implements the physical layer of the engine: fixed-size
// binary pages, page ranges, and the buffer pool that caches them (§4.1–4.3).
package storage

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PageSize is the fixed size in bytes of every page on disk and in memory.
const PageSize = 4096

// HeaderSize is the size of a page's header: an 8-byte count of valid slots.
const HeaderSize = 8

// SlotSize is the size in bytes of one slot (a big-endian int64).
const SlotSize = 8

// MaxSlots is the largest number of slots a page can ever hold: a write is
// allowed while (count+1)*SlotSize < PageSize, so the last one lands at
// count MaxSlots-1, i.e. MaxSlots = floor((PageSize-HeaderSize)/SlotSize) = 511.
const MaxSlots = (PageSize - HeaderSize) / SlotSize

// Page is a fixed 4 KiB binary container of 64-bit signed integer slots.
// Slots are write-once-in-order (Write appends) and updatable in place
// (Update rewrites an existing slot). The in-memory mirror additionally
// carries identity (path, page number, column) and a dirty flag; neither
// is persisted.
type Page struct {
	path   string
	number uint64
	column int
	fs     *MemFS // non-nil for an ephemeral, never-persisted page

	data  [PageSize]byte
	count int
	dirty bool
}

// NewPage creates an empty page identified by path/number/column. The path
// is the page's own backing file (§6: one file per column per page number),
// not a shared paged file.
func NewPage(path string, number uint64, column int) *Page {
	return &Page{path: path, number: number, column: column}
}

// NewEphemeralPage creates a page backed by an in-memory MemFS instead of a
// real file, for scratch tables that are never written to disk.
func NewEphemeralPage(path string, number uint64, column int, fs *MemFS) *Page {
	return &Page{path: path, number: number, column: column, fs: fs}
}

// Path, Number and Column identify the page; Number/Column together with
// the table's path form the buffer-pool cache key (§4.3).
func (p *Page) Path() string  { return p.path }
func (p *Page) Number() uint64 { return p.number }
func (p *Page) Column() int    { return p.column }

// Count returns the number of valid slots currently written.
func (p *Page) Count() int { return p.count }

// Dirty reports whether the page has unflushed mutations.
func (p *Page) Dirty() bool { return p.dirty }

// MarkDirty forces the dirty bit on, for callers that mutate slots outside
// of Write/Update (e.g. a merge rewriting a base page in place).
func (p *Page) MarkDirty() { p.dirty = true }

// HasCapacity reports whether one more slot can be written without
// overflowing the page. Per spec: (count+1)*SlotSize < PageSize.
func (p *Page) HasCapacity() bool {
	return (p.count+1)*SlotSize < PageSize
}

// Write appends v as a new slot at index Count(). Returns false (and leaves
// the page unchanged) if the page is full.
func (p *Page) Write(v int64) bool {
	if !p.HasCapacity() {
		return false
	}
	p.putSlot(p.count, v)
	p.count++
	p.dirty = true
	return true
}

// Update rewrites the slot at index i. Returns false if i is out of range.
func (p *Page) Update(i int, v int64) bool {
	if i < 0 || i >= p.count {
		return false
	}
	p.putSlot(i, v)
	p.dirty = true
	return true
}

// Read returns the slot at index i, or (0, false) if i is at or past Count().
func (p *Page) Read(i int) (int64, bool) {
	if i < 0 || i >= p.count {
		return 0, false
	}
	off := HeaderSize + i*SlotSize
	return int64(binary.BigEndian.Uint64(p.data[off : off+SlotSize])), true
}

func (p *Page) putSlot(i int, v int64) {
	off := HeaderSize + i*SlotSize
	binary.BigEndian.PutUint64(p.data[off:off+SlotSize], uint64(v))
}

// FlushToDisk serialises the header and slots to the page's backing file
// (creating its directory if needed) and clears the dirty bit.
func (p *Page) FlushToDisk() error {
	binary.BigEndian.PutUint64(p.data[0:HeaderSize], uint64(p.count))

	if p.fs != nil {
		f, _ := p.fs.Open(p.path)
		if _, err := f.WriteAt(p.data[:], 0); err != nil {
			return errors.Wrapf(err, "page: write %s", p.path)
		}
		p.dirty = false
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrapf(err, "page: create dir for %s", p.path)
	}
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "page: open %s", p.path)
	}
	defer f.Close()
	if _, err := f.WriteAt(p.data[:], 0); err != nil {
		return errors.Wrapf(err, "page: write %s", p.path)
	}
	p.dirty = false
	return nil
}

// LoadFromDisk restores the header and slots from the page's backing file.
// A missing file is not an error — it means the page has never been
// flushed and is treated as empty. A truncated file has its remaining
// slots treated as absent and is logged as corruption; the table will not
// index those positions (§4.1 failure modes).
func (p *Page) LoadFromDisk() error {
	if p.fs != nil {
		f, existed := p.fs.Open(p.path)
		if !existed {
			p.count = 0
			return nil
		}
		n, err := f.ReadAt(p.data[:], 0)
		if err != nil && err != io.EOF {
			return errors.Wrapf(err, "page: read %s", p.path)
		}
		if n < PageSize {
			p.count = 0
			return nil
		}
		p.count = int(binary.BigEndian.Uint64(p.data[0:HeaderSize]))
		return nil
	}

	f, err := os.Open(p.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && isEmptyFile(f)) {
		if f != nil {
			f.Close()
		}
		p.count = 0
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "page: open %s", p.path)
	}
	defer f.Close()

	n, err := f.ReadAt(p.data[:], 0)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "page: read %s", p.path)
	}
	if n < PageSize {
		logrus.WithFields(logrus.Fields{
			"path": p.path, "bytes": n,
		}).Warn("storage: truncated page file, remaining slots treated as absent")
		for i := n; i < PageSize; i++ {
			p.data[i] = 0
		}
	}

	count := binary.BigEndian.Uint64(p.data[0:HeaderSize])
	maxAvailable := (n - HeaderSize) / SlotSize
	if maxAvailable < 0 {
		maxAvailable = 0
	}
	if int(count) > maxAvailable {
		logrus.WithFields(logrus.Fields{
			"path": p.path, "declared": count, "available": maxAvailable,
		}).Warn("storage: page header count exceeds readable slots, clamping")
		count = uint64(maxAvailable)
	}
	p.count = int(count)
	return nil
}

func isEmptyFile(f *os.File) bool {
	if f == nil {
		return true
	}
	info, err := f.Stat()
	return err == nil && info.Size() == 0
}
