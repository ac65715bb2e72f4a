// Package concurrency implements the strict two-phase lock manager
// (component F): shared/exclusive locks on (table, record-id) pairs with
// no-wait deadlock avoidance — a request that cannot be granted fails
// immediately rather than queuing, leaving retry policy entirely to the
// transaction runner.
package concurrency

import "sync"

// Mode is a lock mode requested on a (table, rid) pair.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

type lockKey struct {
	table string
	rid   int64
}

type holder struct {
	txn  string
	mode Mode
}

// Manager is the lock table: one mutex guards every (table, rid) entry.
type Manager struct {
	mu      sync.Mutex
	locks   map[lockKey][]holder
	heldBy  map[string]map[lockKey]struct{} // txn -> keys it holds, for release_all
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		locks:  make(map[lockKey][]holder),
		heldBy: make(map[string]map[lockKey]struct{}),
	}
}

// Acquire attempts to grant txn the requested mode on (table, rid).
// Returns true iff granted. Policy, in order:
//   - txn already holds exactly this mode: granted (idempotent).
//   - txn holds Shared and requests Exclusive: granted iff txn is the
//     sole holder (upgrade).
//   - a new Shared request: granted iff no holder has Exclusive.
//   - a new Exclusive request: granted iff the lock is unheld.
//   - anything else: denied immediately, no waiting.
func (m *Manager) Acquire(table string, rid int64, txn string, mode Mode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey{table: table, rid: rid}
	holders := m.locks[key]

	for i, h := range holders {
		if h.txn == txn {
			if h.mode == mode {
				return true
			}
			// h.mode == Shared, mode == Exclusive: upgrade iff sole holder.
			if len(holders) == 1 {
				holders[i].mode = Exclusive
				return true
			}
			return false
		}
	}

	switch mode {
	case Shared:
		for _, h := range holders {
			if h.mode == Exclusive {
				return false
			}
		}
	case Exclusive:
		if len(holders) > 0 {
			return false
		}
	}

	m.locks[key] = append(holders, holder{txn: txn, mode: mode})
	if m.heldBy[txn] == nil {
		m.heldBy[txn] = make(map[lockKey]struct{})
	}
	m.heldBy[txn][key] = struct{}{}
	return true
}

// Release drops txn's lock on (table, rid), if any.
func (m *Manager) Release(table string, rid int64, txn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lockKey{table: table, rid: rid}
	m.releaseLocked(key, txn)
}

// ReleaseAll drops every lock held by txn, across every table and rid.
func (m *Manager) ReleaseAll(txn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.heldBy[txn]
	for key := range keys {
		m.releaseLocked(key, txn)
	}
	delete(m.heldBy, txn)
}

func (m *Manager) releaseLocked(key lockKey, txn string) {
	holders := m.locks[key]
	for i, h := range holders {
		if h.txn == txn {
			m.locks[key] = append(holders[:i], holders[i+1:]...)
			break
		}
	}
	if len(m.locks[key]) == 0 {
		delete(m.locks, key)
	}
	if set, ok := m.heldBy[txn]; ok {
		delete(set, key)
	}
}
