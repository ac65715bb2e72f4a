package storage

import "github.com/pkg/errors"

// TableLock is an OS-level advisory lock on a table's directory,
// preventing two processes from opening the same table concurrently.
// It wraps the platform-specific flock adaptation in filelock_*.go.
type TableLock struct {
	inner *fileLock
}

// LockTableDir acquires an exclusive OS-level lock on path (a table's
// root directory), failing immediately if another process already holds it.
func LockTableDir(path string) (*TableLock, error) {
	fl, err := lockFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: lock table dir %s", path)
	}
	return &TableLock{inner: fl}, nil
}

// Unlock releases the lock.
func (l *TableLock) Unlock() error {
	if l == nil || l.inner == nil {
		return nil
	}
	return l.inner.unlock()
}
