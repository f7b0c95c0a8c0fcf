package domain

import "time"

// Lifecycle is the soft-delete state of a chunk or block. Store queries are
// parameterized by it so that "deleted" filtering is never implicit.
type Lifecycle int

const (
	// AnyLifecycle matches both live and tombstoned records.
	AnyLifecycle Lifecycle = iota
	Live
	Tombstoned
)

func (l Lifecycle) String() string {
	switch l {
	case Live:
		return "live"
	case Tombstoned:
		return "tombstoned"
	default:
		return "any"
	}
}

// Matches reports whether a record with the given tombstone timestamp is in
// this lifecycle state.
func (l Lifecycle) Matches(deletedAt *time.Time) bool {
	switch l {
	case Live:
		return deletedAt == nil
	case Tombstoned:
		return deletedAt != nil
	default:
		return true
	}
}

// StateOf maps a tombstone timestamp to its lifecycle state.
func StateOf(deletedAt *time.Time) Lifecycle {
	if deletedAt == nil {
		return Live
	}
	return Tombstoned
}
