// Package api is the thin outer database façade: it opens and closes the
// database root directory, dispatches create/drop/get-table calls, and
// wires the shared buffer pool, lock manager, and operation log that
// every table in the database uses. It is explicitly out of scope for
// the core kernel (§1) but is the minimum glue a caller needs to embed
// the engine.
package api

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Felmond13/lstoredb/concurrency"
	"github.com/Felmond13/lstoredb/config"
	"github.com/Felmond13/lstoredb/engine"
	"github.com/Felmond13/lstoredb/storage"
	"github.com/Felmond13/lstoredb/txlog"
)

// Database owns the database root directory and every open table in it,
// plus the components shared across all of them: the buffer pool, the
// lock manager, and the operation log.
type Database struct {
	mu   sync.Mutex
	root string
	cfg  config.Config
	log  *logrus.Logger

	pool        *storage.BufferPool
	scratchPool *storage.BufferPool // lazily created; backs scratch tables only
	locks       *concurrency.Manager
	txlog       *txlog.Log

	tables      map[string]*engine.Table
	tableLocks  map[string]*storage.TableLock
	scratchDirs map[string]string // table name -> private temp directory
}

// Open creates (if needed) and opens the database root directory,
// rebuilding in-memory state for any table subdirectory already present.
func Open(root string, cfg config.Config, log *logrus.Logger) (*Database, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "api: create database root %s", root)
	}

	lg, err := txlog.Open(cfg.LogDirectory, log)
	if err != nil {
		return nil, err
	}

	db := &Database{
		root:        root,
		cfg:         cfg,
		log:         log,
		pool:        storage.NewBufferPool(cfg.BufferPoolCapacity, log),
		locks:       concurrency.NewManager(),
		txlog:       lg,
		tables:      make(map[string]*engine.Table),
		tableLocks:  make(map[string]*storage.TableLock),
		scratchDirs: make(map[string]string),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "api: list database root %s", root)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		tablePath := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(tablePath, "metadata.json")); err != nil {
			continue
		}
		if err := db.reopenTable(e.Name()); err != nil {
			log.WithError(err).WithField("table", e.Name()).Warn("api: failed to reopen table")
		}
	}

	return db, nil
}

func (db *Database) reopenTable(name string) error {
	path := filepath.Join(db.root, name)
	lock, err := storage.LockTableDir(path)
	if err != nil {
		return err
	}
	t, err := engine.OpenTable(path, name, db.pool, db.cfg, db.log)
	if err != nil {
		lock.Unlock()
		return err
	}
	db.tables[name] = t
	db.tableLocks[name] = lock
	return nil
}

// CreateTable creates a new table with numUserColumns user columns, whose
// primary key is the keyUserColumn-th user column (0-based).
func (db *Database) CreateTable(name string, numUserColumns, keyUserColumn int) (*engine.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[name]; exists {
		return nil, errors.Wrap(storage.ErrDuplicate, "api: table already exists")
	}

	path := filepath.Join(db.root, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.Wrapf(err, "api: create table dir %s", path)
	}
	lock, err := storage.LockTableDir(path)
	if err != nil {
		return nil, err
	}

	t, err := engine.CreateTable(path, name, numUserColumns, keyUserColumn, db.pool, db.cfg, db.log)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := t.Save(); err != nil {
		lock.Unlock()
		return nil, err
	}

	db.tables[name] = t
	db.tableLocks[name] = lock
	return t, nil
}

// CreateScratchTable creates a table whose data pages live purely in
// memory and are never written to disk, for staging or intermediate
// computations that do not need durability. Its bookkeeping files
// (metadata, page directory) still live under a private temp directory
// so the rest of the engine — persistence, locking — treats it like any
// other table. Drop it with DropTable like any other table.
func (db *Database) CreateScratchTable(name string, numUserColumns, keyUserColumn int) (*engine.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[name]; exists {
		return nil, errors.Wrap(storage.ErrDuplicate, "api: table already exists")
	}
	if db.scratchPool == nil {
		db.scratchPool = storage.NewEphemeralBufferPool(db.cfg.BufferPoolCapacity, db.log)
	}

	path, err := os.MkdirTemp("", "lstoredb-scratch-"+name+"-")
	if err != nil {
		return nil, errors.Wrap(err, "api: create scratch table dir")
	}

	t, err := engine.CreateTable(path, name, numUserColumns, keyUserColumn, db.scratchPool, db.cfg, db.log)
	if err != nil {
		os.RemoveAll(path)
		return nil, err
	}

	db.tables[name] = t
	db.scratchDirs[name] = path
	return t, nil
}

// Table returns an already-open table by name, satisfying txn.Resolver.
func (db *Database) Table(name string) (*engine.Table, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	return t, ok
}

// DropTable closes and deletes a table's directory and all its files.
func (db *Database) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, ok := db.tables[name]
	if !ok {
		return errors.Wrap(storage.ErrNotFound, "api: no such table")
	}
	_ = t.Close()
	if lock, ok := db.tableLocks[name]; ok {
		lock.Unlock()
	}
	delete(db.tables, name)
	delete(db.tableLocks, name)

	if dir, ok := db.scratchDirs[name]; ok {
		delete(db.scratchDirs, name)
		return os.RemoveAll(dir)
	}
	return os.RemoveAll(filepath.Join(db.root, name))
}

// Locks and Log expose the shared lock manager and operation log to
// callers constructing transactions.
func (db *Database) Locks() *concurrency.Manager { return db.locks }
func (db *Database) Log() *txlog.Log             { return db.txlog }

// Close saves and flushes every open table and releases its directory lock.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var firstErr error
	for name, t := range db.tables {
		if err := t.Save(); err != nil && firstErr == nil {
			firstErr = err
		}
		if lock, ok := db.tableLocks[name]; ok {
			lock.Unlock()
		}
	}
	for _, dir := range db.scratchDirs {
		os.RemoveAll(dir)
	}
	if err := db.txlog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
