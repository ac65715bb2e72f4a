package engine

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/snappy"
	natomic "github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Felmond13/lstoredb/config"
	"github.com/Felmond13/lstoredb/index"
	"github.com/Felmond13/lstoredb/storage"
)

type metadataFile struct {
	Columns     int `json:"columns"`
	KeyCol      int `json:"key_col"`
	UpdateCount int `json:"update_count"`
}

// directoryFile is page_directory.json's shape: one entry per column, a
// map from rid (as a string, since JSON object keys must be strings) to
// [page_num, slot_index].
type directoryFile []map[string][2]int64

// Save persists a table's declarative metadata and flushes every dirty
// page through the buffer pool. Page bytes themselves are written
// directly by Page.FlushToDisk via the pool; Save only writes the JSON
// side files named in §6, all via atomic.WriteFile so a crash mid-write
// never leaves a torn file for the next open to choke on.
//
// Save always merges first. page_directory.json carries one rid per
// column with no marker for which rids are base records and which are
// not-yet-merged tail records (§6 names no such field); OpenTable tells
// them apart by assuming every rid in the RID column's directory is a
// base rid. Merging before every save keeps that assumption true — once
// merged, tail directory entries are deleted (mergeLocked) — instead of
// inventing a persisted field the layout doesn't have.
func (t *Table) Save() error {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.mergeLocked(); err != nil {
		return errors.Wrap(err, "engine: merge before save")
	}
	t.updateCount = 0

	if err := t.pool.FlushAll(); err != nil {
		return errors.Wrap(err, "engine: flush pages before save")
	}
	if err := os.MkdirAll(t.path, 0755); err != nil {
		return errors.Wrapf(err, "engine: create table dir %s", t.path)
	}

	meta := metadataFile{
		Columns:     t.numColumns,
		KeyCol:      t.keyColumn,
		UpdateCount: t.updateCount,
	}
	if err := writeJSONAtomic(filepath.Join(t.path, "metadata.json"), meta); err != nil {
		return err
	}

	dir := make(directoryFile, t.numColumns)
	for c := 0; c < t.numColumns; c++ {
		dir[c] = make(map[string][2]int64, len(t.directory[c]))
		for rid, e := range t.directory[c] {
			dir[c][strconv.FormatInt(rid, 10)] = [2]int64{int64(e.pageNumber), int64(e.slot)}
		}
	}
	if err := writeJSONAtomic(filepath.Join(t.path, "page_directory.json"), dir); err != nil {
		return err
	}

	pr := make([][]string, t.numColumns)
	for c := 0; c < t.numColumns; c++ {
		for _, rangeObj := range t.ranges {
			for _, num := range rangeObj.BasePageNumbers(c) {
				pr[c] = append(pr[c], strconv.FormatUint(num, 10))
			}
		}
	}
	if err := writeJSONAtomic(filepath.Join(t.path, "page_range.json"), pr); err != nil {
		return err
	}

	versionsJSON, err := json.Marshal(t.versions)
	if err != nil {
		return errors.Wrap(err, "engine: marshal versions")
	}
	compressed := snappy.Encode(nil, versionsJSON)
	if err := natomic.WriteFile(filepath.Join(t.path, "versions.json"), bytes.NewReader(compressed)); err != nil {
		return errors.Wrap(err, "engine: write versions.json")
	}

	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "engine: marshal %s", path)
	}
	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "engine: write %s", path)
	}
	return nil
}

// OpenTable rebuilds a table's in-memory state from the declarative JSON
// files under path. Pages load through the buffer pool on first access;
// rebuilding the primary-key index at the end reads every row's key and
// indirection slots, so those columns' pages are loaded here.
func OpenTable(path, name string, pool *storage.BufferPool, cfg config.Config, log *logrus.Logger) (*Table, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var meta metadataFile
	if err := readJSON(filepath.Join(path, "metadata.json"), &meta); err != nil {
		return nil, err
	}

	var dir directoryFile
	if err := readJSON(filepath.Join(path, "page_directory.json"), &dir); err != nil {
		return nil, err
	}

	var prFile [][]string
	if err := readJSON(filepath.Join(path, "page_range.json"), &prFile); err != nil {
		return nil, err
	}

	t := &Table{
		path:       path,
		name:       name,
		numColumns: meta.Columns,
		keyColumn:  meta.KeyCol,
		pool:       pool,
		cfg:        cfg,
		log:        log,
		baseRange:  make(map[int64]int),
		directory:  make(map[int]map[int64]dirEntry),
		indexes:    make(map[int]*index.ColumnIndex),
		tombstoned: make(map[int64]struct{}),
	}

	var maxPageNum uint64
	var maxRid int64
	for c := 0; c < t.numColumns && c < len(dir); c++ {
		t.directory[c] = make(map[int64]dirEntry, len(dir[c]))
		for ridStr, pair := range dir[c] {
			rid, err := strconv.ParseInt(ridStr, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "engine: parse rid %q", ridStr)
			}
			t.directory[c][rid] = dirEntry{pageNumber: uint64(pair[0]), slot: int(pair[1])}
			if uint64(pair[0]) > maxPageNum {
				maxPageNum = uint64(pair[0])
			}
			if rid > maxRid {
				maxRid = rid
			}
		}
	}
	for c := len(dir); c < t.numColumns; c++ {
		t.directory[c] = make(map[int64]dirEntry)
	}
	t.allocator = storage.NewPageNumberAllocator(maxPageNum + 1)
	t.nextRID = maxRid + 1

	// A single range holds every persisted base page; tail chains are
	// rebuilt empty (§9 "rebuild in-memory state on open").
	onlyRange := storage.NewPageRange(pool, path, t.allocator, t.numColumns, cfg.BasePagesPerRange)
	for c := 0; c < t.numColumns && c < len(prFile); c++ {
		nums := make([]uint64, 0, len(prFile[c]))
		for _, s := range prFile[c] {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "engine: parse page number %q", s)
			}
			nums = append(nums, n)
		}
		onlyRange.RestoreBasePages(c, nums)
	}
	t.ranges = []*storage.PageRange{onlyRange}

	// Every rid present in the RID metadata column's directory is treated
	// as a base row. This only holds because Save always merges first,
	// which deletes every tail rid's directory entries (mergeLocked) —
	// without that guarantee a not-yet-merged tail rid would be
	// indistinguishable from a base rid here and would get indexed twice.
	for rid := range t.directory[ColRID] {
		t.baseRange[rid] = 0
	}

	if err := t.createIndexLocked(t.keyColumn); err != nil {
		return nil, err
	}

	return t, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "engine: read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "engine: parse %s", path)
	}
	return nil
}
