// Package query implements the Query Façade (component J): a thin
// adapter translating caller-friendly operations into Table primitives,
// collapsing every Table-layer error (and any unexpected panic) into the
// uniform "success or false" contract the Transaction runner depends on.
package query

import (
	"github.com/Felmond13/lstoredb/engine"
)

// Insert writes a new row. Returns false on any failure (including a
// duplicate primary key).
func Insert(t *engine.Table, values []int64) (ok bool) {
	defer recoverToFalse(&ok)
	return t.Insert(values) == nil
}

// Update allocates a new version of key's row. A nil entry in newValues
// leaves that column unchanged.
func Update(t *engine.Table, key int64, newValues []*int64) (ok bool) {
	defer recoverToFalse(&ok)
	return t.Update(key, newValues) == nil
}

// Select returns key's current projected values, or (nil, false).
func Select(t *engine.Table, key int64, projection []bool) (row []int64, ok bool) {
	defer func() {
		if recover() != nil {
			row, ok = nil, false
		}
	}()
	r, err := t.Select(key, projection)
	if err != nil {
		return nil, false
	}
	return r, true
}

// SelectVersion returns key's |k|-th-older projected values, or (nil, false).
func SelectVersion(t *engine.Table, key int64, projection []bool, k int) (row []int64, ok bool) {
	defer func() {
		if recover() != nil {
			row, ok = nil, false
		}
	}()
	r, err := t.SelectVersion(key, projection, k)
	if err != nil {
		return nil, false
	}
	return r, true
}

// SelectBy returns every current projected row indexed under value in
// column, or (nil, false) on failure (e.g. the column has no index).
func SelectBy(t *engine.Table, column int, value int64, projection []bool) (rows [][]int64, ok bool) {
	defer func() {
		if recover() != nil {
			rows, ok = nil, false
		}
	}()
	r, err := t.SelectBy(column, value, projection)
	if err != nil {
		return nil, false
	}
	return r, true
}

// Delete removes key's row. Subsequent Select/SelectBy calls will not see it.
func Delete(t *engine.Table, key int64) (ok bool) {
	defer recoverToFalse(&ok)
	return t.Delete(key) == nil
}

// Sum totals column across every live key in [lo, hi], or (0, false).
func Sum(t *engine.Table, lo, hi int64, column int) (total int64, ok bool) {
	defer func() {
		if recover() != nil {
			total, ok = 0, false
		}
	}()
	v, err := t.Sum(lo, hi, column)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SumVersion is Sum at a relative version k.
func SumVersion(t *engine.Table, lo, hi int64, column, k int) (total int64, ok bool) {
	defer func() {
		if recover() != nil {
			total, ok = 0, false
		}
	}()
	v, err := t.SumVersion(lo, hi, column, k)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Increment reads key's current value of column and writes column+1 back,
// leaving every other column unchanged.
func Increment(t *engine.Table, key int64, column int) (ok bool) {
	defer recoverToFalse(&ok)

	full := make([]bool, t.NumColumns()-engine.MetaColumns)
	full[column] = true
	row, err := t.Select(key, full)
	if err != nil {
		return false
	}

	newValues := make([]*int64, len(full))
	next := row[column] + 1
	newValues[column] = &next
	return t.Update(key, newValues) == nil
}

func recoverToFalse(ok *bool) {
	if recover() != nil {
		*ok = false
	}
}

// lockMode classifies a façade operation's required lock mode for the
// Transaction runner (§4.7 step 1): reads take Shared, writes take
// Exclusive.
type lockMode int

const (
	Shared lockMode = iota
	Exclusive
)

// ModeFor returns the lock mode an operation name requires.
func ModeFor(opName string) lockMode {
	switch opName {
	case "insert", "update", "delete", "increment":
		return Exclusive
	default:
		return Shared
	}
}
