// Package txn implements the Transaction (component G) and Transaction
// Worker (component H): an ordered query list executed under strict 2PL
// with before-image capture for rollback, and a thread-like wrapper that
// retries aborted transactions up to a bounded count.
package txn

import (
	"github.com/sirupsen/logrus"

	"github.com/Felmond13/lstoredb/concurrency"
	"github.com/Felmond13/lstoredb/engine"
	"github.com/Felmond13/lstoredb/query"
	"github.com/Felmond13/lstoredb/txlog"
)

// Op is one queued operation against one table.
type Op struct {
	Name string // insert, update, select, select_version, select_by, delete, sum, sum_version, increment
	Table string

	Key        int64   // insert/update/select/select_version/delete/increment
	Values     []int64 // insert
	NewValues  []*int64 // update
	Projection []bool   // select/select_version/select_by
	Version    int      // select_version/sum_version, k <= 0

	Column int   // select_by/sum/sum_version/increment
	Value  int64 // select_by
	Lo, Hi int64 // sum/sum_version
}

// Resolver looks up a table by name, as held by the caller's database.
type Resolver interface {
	Table(name string) (*engine.Table, bool)
}

// Transaction holds an ordered list of operations and runs them under
// strict 2PL, aborting and rolling back on the first failure.
type Transaction struct {
	id        string
	ops       []Op
	tables    Resolver
	locks     *concurrency.Manager
	log       *txlog.Log
	logger    *logrus.Logger

	heldLocks []lockRef
	images    []beforeImage
}

type lockRef struct {
	table string
	rid   int64
}

type beforeImage struct {
	table   string
	key     int64
	existed bool
	deleted bool // this op was a delete; undo by re-inserting
	inserted bool // this op was an insert; undo by deleting
	values  []int64
}

// New creates a transaction bound to a table resolver, lock manager, and
// log. Each transaction mints its own trace id for log correlation.
func New(tables Resolver, locks *concurrency.Manager, log *txlog.Log, logger *logrus.Logger) *Transaction {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transaction{
		id:     txlog.NewTraceID(),
		tables: tables,
		locks:  locks,
		log:    log,
		logger: logger,
	}
}

// AddQuery appends an operation to the transaction's ordered list.
func (tx *Transaction) AddQuery(op Op) {
	tx.ops = append(tx.ops, op)
}

// Run executes every queued operation in order. On any failure it aborts
// (rolling back before-images and releasing locks) and returns false;
// otherwise it commits and returns true.
func (tx *Transaction) Run() bool {
	for _, op := range tx.ops {
		t, ok := tx.tables.Table(op.Table)
		if !ok {
			return tx.abort()
		}

		mode := query.ModeFor(op.Name)
		if rid, hasTarget := tx.lockTarget(t, op); hasTarget {
			if !tx.locks.Acquire(op.Table, rid, tx.id, mode) {
				return tx.abort()
			}
			tx.heldLocks = append(tx.heldLocks, lockRef{table: op.Table, rid: rid})
		}

		if op.Name == "update" || op.Name == "delete" || op.Name == "increment" {
			tx.captureBeforeImage(t, op)
		}

		tx.logOp(op)

		if !tx.execute(t, op) {
			return tx.abort()
		}

		switch op.Name {
		case "insert", "update", "delete", "increment":
			t.PushVersionSnapshot()
			if op.Name == "insert" {
				tx.images = append(tx.images, beforeImage{table: op.Table, key: op.Key, inserted: true})
			}
		}
	}
	return tx.commit()
}

// lockTarget resolves the (table, rid) a query's lock applies to. Inserts
// have no existing rid yet, so the key value itself stands in as the
// lock's resource id — it still prevents two transactions from racing to
// insert the same key. Range operations (select_by, sum, sum_version)
// have no single target and are left unlocked, per §4.7 step 2's
// "operations targeting a specific rid".
func (tx *Transaction) lockTarget(t *engine.Table, op Op) (int64, bool) {
	switch op.Name {
	case "insert":
		return op.Key, true
	case "update", "delete", "select", "select_version", "increment":
		rid, err := t.ResolveRid(op.Key)
		if err != nil {
			return 0, false
		}
		return rid, true
	default:
		return 0, false
	}
}

func (tx *Transaction) captureBeforeImage(t *engine.Table, op Op) {
	full := make([]bool, t.NumColumns()-engine.MetaColumns)
	for i := range full {
		full[i] = true
	}
	row, ok := query.Select(t, op.Key, full)
	tx.images = append(tx.images, beforeImage{
		table: op.Table, key: op.Key, existed: ok, deleted: op.Name == "delete", values: row,
	})
}

func (tx *Transaction) logOp(op Op) {
	if tx.log == nil {
		return
	}
	_ = tx.log.LogOperation(txlog.Record{
		TxnID:   tx.id,
		TraceID: tx.id,
		Op:      op.Name,
		Table:   op.Table,
		Key:     op.Key,
		Values:  op.Values,
	})
}

func (tx *Transaction) execute(t *engine.Table, op Op) bool {
	switch op.Name {
	case "insert":
		return query.Insert(t, op.Values)
	case "update":
		return query.Update(t, op.Key, op.NewValues)
	case "select":
		_, ok := query.Select(t, op.Key, op.Projection)
		return ok
	case "select_version":
		_, ok := query.SelectVersion(t, op.Key, op.Projection, op.Version)
		return ok
	case "select_by":
		_, ok := query.SelectBy(t, op.Column, op.Value, op.Projection)
		return ok
	case "delete":
		return query.Delete(t, op.Key)
	case "sum":
		_, ok := query.Sum(t, op.Lo, op.Hi, op.Column)
		return ok
	case "sum_version":
		_, ok := query.SumVersion(t, op.Lo, op.Hi, op.Column, op.Version)
		return ok
	case "increment":
		return query.Increment(t, op.Key, op.Column)
	default:
		return false
	}
}

// abort replays before-images in reverse order, releases every lock this
// transaction holds, and logs an abort entry.
func (tx *Transaction) abort() bool {
	for i := len(tx.images) - 1; i >= 0; i-- {
		img := tx.images[i]
		t, ok := tx.tables.Table(img.table)
		if !ok {
			continue
		}
		switch {
		case img.inserted:
			query.Delete(t, img.key)
		case img.deleted && img.existed:
			query.Insert(t, img.values)
		case img.existed:
			newValues := make([]*int64, len(img.values))
			for i, v := range img.values {
				v := v
				newValues[i] = &v
			}
			query.Update(t, img.key, newValues)
		}
	}
	tx.images = nil
	tx.releaseLocks()
	tx.logAbort()
	return false
}

func (tx *Transaction) logAbort() {
	if tx.log == nil {
		return
	}
	_ = tx.log.LogOperation(txlog.Record{TxnID: tx.id, TraceID: tx.id, Op: "abort"})
}

// commit logs the commit and a recovery point, releases every lock, and
// clears the transaction's internal state.
func (tx *Transaction) commit() bool {
	if tx.log != nil {
		_ = tx.log.LogOperation(txlog.Record{TxnID: tx.id, TraceID: tx.id, Op: "commit"})
		_ = tx.log.LogRecoveryPoint()
	}
	tx.releaseLocks()
	tx.images = nil
	return true
}

func (tx *Transaction) releaseLocks() {
	for _, l := range tx.heldLocks {
		tx.locks.Release(l.table, l.rid, tx.id)
	}
	tx.heldLocks = nil
}
