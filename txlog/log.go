// Package txlog implements the append-only operation log and recovery-point
// marker (component I): two JSON-lines text files per the persistent
// layout, both guarded by one (non-re-entrant) mutex, flushed to disk before any
// write call returns.
package txlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Record is one operation-log line.
type Record struct {
	Timestamp int64   `json:"timestamp"`
	TxnID     string  `json:"txn_id"`
	TraceID   string  `json:"trace_id"`
	Op        string  `json:"op"`
	Table     string  `json:"table"`
	Key       int64   `json:"key"`
	Columns   []int   `json:"columns,omitempty"`
	Values    []int64 `json:"values,omitempty"`
}

// RecoveryPoint is one recovery-point-log line, written on every commit.
type RecoveryPoint struct {
	Timestamp int64  `json:"timestamp"`
	ISO       string `json:"iso_datetime"`
}

// Log owns the two log files for a log directory (default ./data/logs).
type Log struct {
	mu      sync.Mutex
	dir     string
	opFile  *os.File
	recFile *os.File
	logger  *logrus.Logger
}

// Open creates the log directory if needed and opens both files for
// append. A nil logger falls back to logrus's standard logger.
func Open(dir string, logger *logrus.Logger) (*Log, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "txlog: create log dir %s", dir)
	}
	opFile, err := os.OpenFile(filepath.Join(dir, "transaction.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "txlog: open transaction.log")
	}
	recFile, err := os.OpenFile(filepath.Join(dir, "recovery.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		opFile.Close()
		return nil, errors.Wrap(err, "txlog: open recovery.log")
	}
	return &Log{dir: dir, opFile: opFile, recFile: recFile, logger: logger}, nil
}

// NewTraceID mints a correlation id for a transaction, attached to every
// log line it produces so concurrent transactions can be told apart in
// the log without a global sequence counter.
func NewTraceID() string {
	return uuid.NewString()
}

// LogOperation appends one operation record, stamping its timestamp, and
// flushes before returning.
func (l *Log) LogOperation(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.Timestamp = time.Now().Unix()
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "txlog: marshal operation record")
	}
	if _, err := l.opFile.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "txlog: write operation record")
	}
	if err := l.opFile.Sync(); err != nil {
		return errors.Wrap(err, "txlog: flush operation record")
	}
	l.logger.WithFields(logrus.Fields{
		"txn": rec.TxnID, "op": rec.Op, "table": rec.Table, "key": rec.Key,
	}).Debug("txlog: operation logged")
	return nil
}

// LogRecoveryPoint appends a recovery-point record for a committed
// transaction and flushes before returning.
func (l *Log) LogRecoveryPoint() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	point := RecoveryPoint{Timestamp: now.Unix(), ISO: now.UTC().Format(time.RFC3339)}
	line, err := json.Marshal(point)
	if err != nil {
		return errors.Wrap(err, "txlog: marshal recovery point")
	}
	if _, err := l.recFile.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "txlog: write recovery point")
	}
	return l.recFile.Sync()
}

// Since returns every operation record with timestamp >= ts, in the order
// they were written.
func (l *Log) Since(ts int64) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.opFile.Seek(0, 0); err != nil {
		return nil, errors.Wrap(err, "txlog: seek transaction.log")
	}
	defer l.opFile.Seek(0, 2) // restore append position

	var out []Record
	scanner := bufio.NewScanner(l.opFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			l.logger.WithError(err).Warn("txlog: skipping malformed log line")
			continue
		}
		if rec.Timestamp >= ts {
			out = append(out, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "txlog: scan transaction.log")
	}
	return out, nil
}

// Close flushes and closes both log files.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.opFile.Close()
	err2 := l.recFile.Close()
	if err1 != nil {
		return errors.Wrap(err1, "txlog: close transaction.log")
	}
	if err2 != nil {
		return errors.Wrap(err2, "txlog: close recovery.log")
	}
	return nil
}
