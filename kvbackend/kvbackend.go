// Package kvbackend defines the minimal contract a komodo Store needs
// from an external ordered key-value engine: named maps, point
// get/put/delete, and a Cursor that can resolve to the floor or
// ceiling of an arbitrary seek key and walk forward or backward from
// there. Two backends implement it: memkv (an in-process google/btree
// tree per map) and mdbxkv (github.com/erigontech/mdbx-go).
//
// Operations here are deliberately NOT scoped to a long-lived read
// transaction: a Cursor must observe writes made after it was opened
// (komodo's Cursor is not snapshot isolated, see package komodo), so
// each Cursor call is a short independent operation against current
// backend state. Atomicity across several writes, where a backend can
// offer it, is a separate capability; see Transactional.
package kvbackend

import (
	"errors"
)

// ErrNotFound is returned by Get and by Cursor positioning methods
// when no qualifying entry exists.
var ErrNotFound = errors.New("kvbackend: not found")

// ErrNotSupported is returned by optional-capability methods (see
// Transactional, Versioned) on backends that don't implement them.
var ErrNotSupported = errors.New("kvbackend: not supported by this backend")

// OrderedMap is one named, lexicographically ordered byte-key map.
type OrderedMap interface {
	// Get returns the value for key, or ok=false if absent.
	Get(key []byte) (val []byte, ok bool, err error)

	// Put inserts or overwrites the value for key.
	Put(key, val []byte) error

	// Delete removes key. It is not an error for key to be absent.
	Delete(key []byte) error

	// Count returns the number of entries currently in the map.
	Count() (uint64, error)

	// NewCursor returns a Cursor over the map's current contents. The
	// caller must Close it when done.
	NewCursor() (Cursor, error)
}

// Cursor positions over an OrderedMap's keys. Every method re-reads
// current backend state; a Cursor does not pin a snapshot.
type Cursor interface {
	// First returns the smallest key in the map.
	First() (k, v []byte, err error)

	// Last returns the largest key in the map.
	Last() (k, v []byte, err error)

	// Ceiling returns the smallest key >= seek.
	Ceiling(seek []byte) (k, v []byte, err error)

	// Floor returns the largest key <= seek.
	Floor(seek []byte) (k, v []byte, err error)

	// Next returns the smallest key strictly greater than after.
	Next(after []byte) (k, v []byte, err error)

	// Prev returns the largest key strictly less than before.
	Prev(before []byte) (k, v []byte, err error)

	// Close releases any resources held by the cursor.
	Close() error
}

// Backend is the store's process-wide handle on the external engine:
// a registry of named OrderedMaps plus lifecycle operations.
type Backend interface {
	// Map returns the named map, creating it if it does not yet exist.
	Map(name string) (OrderedMap, error)

	// DeleteMap removes a named map and all its entries.
	DeleteMap(name string) error

	// ListMaps returns the names of all maps currently known to the
	// backend.
	ListMaps() ([]string, error)

	// Commit flushes any buffered writes to stable storage. Backends
	// with no buffering (memkv) treat this as a no-op.
	Commit() error

	// Close releases the backend's resources. The backend must not be
	// used afterwards.
	Close() error
}

// TxBackend is the view of the backend available inside a
// Transactional.WithTx callback: map access only, no independent
// Commit/Close.
type TxBackend interface {
	Map(name string) (OrderedMap, error)
}

// Transactional is implemented by backends that can wrap a sequence
// of writes, across one or more named maps, in a single atomic
// backend transaction. mdbxkv implements it using a real MDBX
// read-write transaction; memkv does not, and callers (Collection)
// fall back to sequential writes plus an offline Repair pass.
type Transactional interface {
	WithTx(fn func(tx TxBackend) error) error
}

// Versioned is the interface for backends that report a committed
// version number and can be asked to roll back to one. mdbxkv
// implements it, but only Version does anything there (it reports
// MDBX's last transaction id); its RollbackTo always returns
// ErrNotSupported. memkv does not implement it.
type Versioned interface {
	// Version returns the current committed version number.
	Version() (uint64, error)

	// RollbackTo discards all writes after version, inclusive of
	// nothing after it. version must have been previously returned by
	// Version.
	RollbackTo(version uint64) error
}

// Repairer is implemented by backends whose own bookkeeping can drift
// independently of the per-collection reconciliation komodo's
// Collection.Repair performs. memkv implements it as a structural
// no-op (its maps have no internal invariants besides the btree's
// own); mdbxkv does not implement it, since a committed MDBX
// transaction never leaves the environment itself inconsistent.
type Repairer interface {
	Repair() error
}
