package storage

import "github.com/pkg/errors"

// Error kinds shared by every layer built on top of storage (§7 of the design).
// Lower layers signal the richer kind; the query façade collapses all of
// them to the uniform success-or-false contract.
var (
	ErrNotFound         = errors.New("storage: not found")
	ErrDuplicate        = errors.New("storage: duplicate key")
	ErrCapacityExceeded = errors.New("storage: page capacity exceeded")
	ErrCorruption       = errors.New("storage: corrupt page file")
	ErrInvariant        = errors.New("storage: invariant violated")
)
