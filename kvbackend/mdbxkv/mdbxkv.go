// Package mdbxkv is the durable kvbackend.Backend, backed by a single
// github.com/erigontech/mdbx-go environment. Named maps become MDBX
// sub-databases opened with mdbx.Create|mdbx.DupSort cleared (komodo's
// maps hold at most one value per stored key; non-unique secondary
// indices encode the primary key into the stored key instead, see
// package komodo), so ordinary byte-key comparison gives the ordering
// Cursor needs.
//
// Unlike memkv, mdbxkv implements kvbackend.Transactional: WithTx
// wraps the callback in one MDBX read-write transaction, so a
// Collection write that touches several maps (primary plus secondary
// indices) either commits together or not at all.
package mdbxkv

import (
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/clydebarrow/komodo/kvbackend"
)

// Options configures the MDBX environment.
type Options struct {
	// Path is the directory MDBX stores its data files in.
	Path string
	// MaxMapsMb bounds the environment's total mapped size, in
	// megabytes. MDBX grows the map lazily up to this ceiling.
	MaxMapsMb int
	// ReadOnly opens the environment without write access.
	ReadOnly bool
}

// Backend is a kvbackend.Backend over one MDBX environment.
type Backend struct {
	env *mdbx.Env
}

// Open creates or opens an MDBX environment at opts.Path.
func Open(opts Options) (*Backend, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbxkv: new env: %w", err)
	}
	if err := env.SetGeometry(-1, -1, opts.MaxMapsMb<<20, -1, -1, -1); err != nil {
		return nil, fmt.Errorf("mdbxkv: set geometry: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, 256); err != nil {
		return nil, fmt.Errorf("mdbxkv: set max dbs: %w", err)
	}

	flags := uint(mdbx.NoSubdir)
	if opts.ReadOnly {
		flags |= mdbx.Readonly
	}
	if err := env.Open(opts.Path, flags, 0o644); err != nil {
		return nil, fmt.Errorf("mdbxkv: open %s: %w", opts.Path, err)
	}
	return &Backend{env: env}, nil
}

func (b *Backend) dbiFor(txn *mdbx.Txn, name string) (mdbx.DBI, error) {
	return txn.OpenDBISimple(name, mdbx.Create)
}

func (b *Backend) Map(name string) (kvbackend.OrderedMap, error) {
	return &orderedMap{backend: b, name: name}, nil
}

func (b *Backend) DeleteMap(name string) error {
	return b.env.Update(func(txn *mdbx.Txn) error {
		dbi, err := txn.OpenDBISimple(name, mdbx.Create)
		if err != nil {
			return err
		}
		return txn.Drop(dbi, true)
	})
}

func (b *Backend) ListMaps() ([]string, error) {
	var names []string
	err := b.env.View(func(txn *mdbx.Txn) error {
		root, err := txn.OpenRoot(0)
		if err != nil {
			return err
		}
		cur, err := txn.OpenCursor(root)
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			k, _, err := cur.Get(nil, nil, mdbx.Next)
			if mdbx.IsNotFound(err) {
				break
			}
			if err != nil {
				return err
			}
			names = append(names, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mdbxkv: list maps: %w", err)
	}
	return names, nil
}

// Commit flushes the environment's writes to disk. MDBX commits each
// transaction durably as it closes, so this is a best-effort extra
// sync for callers (Store.Commit) that want an explicit checkpoint.
func (b *Backend) Commit() error {
	return b.env.Sync(true, false)
}

func (b *Backend) Close() error {
	b.env.Close()
	return nil
}

// WithTx runs fn inside a single MDBX read-write transaction: every
// Put/Delete/Get that fn performs through the returned TxBackend's
// maps is part of the same transaction, committed atomically when fn
// returns nil and rolled back entirely if fn returns an error.
func (b *Backend) WithTx(fn func(tx kvbackend.TxBackend) error) error {
	return b.env.Update(func(txn *mdbx.Txn) error {
		return fn(&txBackend{backend: b, txn: txn})
	})
}

func (b *Backend) Version() (uint64, error) {
	info, err := b.env.Info(nil)
	if err != nil {
		return 0, fmt.Errorf("mdbxkv: info: %w", err)
	}
	return info.LastTxnID, nil
}

// RollbackTo is not supported: MDBX retains history only for readers
// still holding an open snapshot, not as an addressable rollback
// target. It always returns kvbackend.ErrNotSupported, which
// Store.RollbackTo passes back wrapped in a BackendFailure.
func (b *Backend) RollbackTo(uint64) error {
	return kvbackend.ErrNotSupported
}

// txBackend is the kvbackend.TxBackend view handed to a WithTx
// callback: every Map it returns shares txn, so writes across several
// named maps are part of the one enclosing MDBX transaction.
type txBackend struct {
	backend *Backend
	txn     *mdbx.Txn
}

func (t *txBackend) Map(name string) (kvbackend.OrderedMap, error) {
	dbi, err := t.backend.dbiFor(t.txn, name)
	if err != nil {
		return nil, fmt.Errorf("mdbxkv: open %s: %w", name, err)
	}
	return &txMap{txn: t.txn, dbi: dbi}, nil
}

// orderedMap opens a short independent MDBX transaction per call, so
// that, like memkv, it never pins a long-lived read snapshot and
// always reflects the latest committed state.
type orderedMap struct {
	backend *Backend
	name    string
}

func (m *orderedMap) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := m.backend.env.View(func(txn *mdbx.Txn) error {
		dbi, err := m.backend.dbiFor(txn, m.name)
		if err != nil {
			return err
		}
		v, err := txn.Get(dbi, key)
		if mdbx.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		val = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("mdbxkv: get: %w", err)
	}
	return val, val != nil, nil
}

func (m *orderedMap) Put(key, val []byte) error {
	err := m.backend.env.Update(func(txn *mdbx.Txn) error {
		dbi, err := m.backend.dbiFor(txn, m.name)
		if err != nil {
			return err
		}
		return txn.Put(dbi, key, val, 0)
	})
	if err != nil {
		return fmt.Errorf("mdbxkv: put: %w", err)
	}
	return nil
}

func (m *orderedMap) Delete(key []byte) error {
	err := m.backend.env.Update(func(txn *mdbx.Txn) error {
		dbi, err := m.backend.dbiFor(txn, m.name)
		if err != nil {
			return err
		}
		err = txn.Del(dbi, key, nil)
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("mdbxkv: delete: %w", err)
	}
	return nil
}

func (m *orderedMap) Count() (uint64, error) {
	var count uint64
	err := m.backend.env.View(func(txn *mdbx.Txn) error {
		dbi, err := m.backend.dbiFor(txn, m.name)
		if err != nil {
			return err
		}
		stat, err := txn.Stat(dbi)
		if err != nil {
			return err
		}
		count = stat.Entries
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mdbxkv: count: %w", err)
	}
	return count, nil
}

func (m *orderedMap) NewCursor() (kvbackend.Cursor, error) {
	return &mapCursor{m: m}, nil
}

// txMap is the TxBackend-scoped OrderedMap: all operations run
// against the caller-supplied txn, not a fresh one per call.
type txMap struct {
	txn *mdbx.Txn
	dbi mdbx.DBI
}

func (m *txMap) Get(key []byte) ([]byte, bool, error) {
	v, err := m.txn.Get(m.dbi, key)
	if mdbx.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mdbxkv: get: %w", err)
	}
	return v, true, nil
}

func (m *txMap) Put(key, val []byte) error {
	if err := m.txn.Put(m.dbi, key, val, 0); err != nil {
		return fmt.Errorf("mdbxkv: put: %w", err)
	}
	return nil
}

func (m *txMap) Delete(key []byte) error {
	err := m.txn.Del(m.dbi, key, nil)
	if mdbx.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mdbxkv: delete: %w", err)
	}
	return nil
}

func (m *txMap) Count() (uint64, error) {
	stat, err := m.txn.Stat(m.dbi)
	if err != nil {
		return 0, fmt.Errorf("mdbxkv: count: %w", err)
	}
	return stat.Entries, nil
}

func (m *txMap) NewCursor() (kvbackend.Cursor, error) {
	cur, err := m.txn.OpenCursor(m.dbi)
	if err != nil {
		return nil, fmt.Errorf("mdbxkv: open cursor: %w", err)
	}
	return &txCursor{cur: cur}, nil
}

// mapCursor opens one short MDBX read transaction+cursor per method
// call, matching memkv's "no pinned snapshot" semantics.
type mapCursor struct {
	m *orderedMap
}

func (c *mapCursor) Close() error { return nil }

func (c *mapCursor) withCursor(fn func(cur *mdbx.Cursor) error) error {
	return c.m.backend.env.View(func(txn *mdbx.Txn) error {
		dbi, err := c.m.backend.dbiFor(txn, c.m.name)
		if err != nil {
			return err
		}
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		return fn(cur)
	})
}

func (c *mapCursor) First() ([]byte, []byte, error) {
	var k, v []byte
	err := c.withCursor(func(cur *mdbx.Cursor) error {
		kk, vv, err := cur.Get(nil, nil, mdbx.First)
		if err != nil {
			return err
		}
		k, v = append([]byte(nil), kk...), append([]byte(nil), vv...)
		return nil
	})
	return returnOrNotFound(k, v, err)
}

func (c *mapCursor) Last() ([]byte, []byte, error) {
	var k, v []byte
	err := c.withCursor(func(cur *mdbx.Cursor) error {
		kk, vv, err := cur.Get(nil, nil, mdbx.Last)
		if err != nil {
			return err
		}
		k, v = append([]byte(nil), kk...), append([]byte(nil), vv...)
		return nil
	})
	return returnOrNotFound(k, v, err)
}

func (c *mapCursor) Ceiling(seek []byte) ([]byte, []byte, error) {
	var k, v []byte
	err := c.withCursor(func(cur *mdbx.Cursor) error {
		kk, vv, err := cur.Get(seek, nil, mdbx.SetRange)
		if err != nil {
			return err
		}
		k, v = append([]byte(nil), kk...), append([]byte(nil), vv...)
		return nil
	})
	return returnOrNotFound(k, v, err)
}

func (c *mapCursor) Floor(seek []byte) ([]byte, []byte, error) {
	var k, v []byte
	err := c.withCursor(func(cur *mdbx.Cursor) error {
		kk, vv, err := cur.Get(seek, nil, mdbx.SetRange)
		if mdbx.IsNotFound(err) {
			kk, vv, err = cur.Get(nil, nil, mdbx.Last)
		} else if err == nil && string(kk) != string(seek) {
			kk, vv, err = cur.Get(nil, nil, mdbx.Prev)
		}
		if err != nil {
			return err
		}
		k, v = append([]byte(nil), kk...), append([]byte(nil), vv...)
		return nil
	})
	return returnOrNotFound(k, v, err)
}

func (c *mapCursor) Next(after []byte) ([]byte, []byte, error) {
	var k, v []byte
	err := c.withCursor(func(cur *mdbx.Cursor) error {
		kk, vv, err := cur.Get(after, nil, mdbx.SetRange)
		if err == nil && string(kk) == string(after) {
			kk, vv, err = cur.Get(nil, nil, mdbx.Next)
		}
		if err != nil {
			return err
		}
		k, v = append([]byte(nil), kk...), append([]byte(nil), vv...)
		return nil
	})
	return returnOrNotFound(k, v, err)
}

func (c *mapCursor) Prev(before []byte) ([]byte, []byte, error) {
	var k, v []byte
	err := c.withCursor(func(cur *mdbx.Cursor) error {
		kk, vv, err := cur.Get(before, nil, mdbx.SetRange)
		if mdbx.IsNotFound(err) {
			kk, vv, err = cur.Get(nil, nil, mdbx.Last)
			if err != nil {
				return err
			}
			k, v = append([]byte(nil), kk...), append([]byte(nil), vv...)
			return nil
		}
		if err != nil {
			return err
		}
		kk, vv, err = cur.Get(nil, nil, mdbx.Prev)
		if err != nil {
			return err
		}
		k, v = append([]byte(nil), kk...), append([]byte(nil), vv...)
		return nil
	})
	return returnOrNotFound(k, v, err)
}

func returnOrNotFound(k, v []byte, err error) ([]byte, []byte, error) {
	if mdbx.IsNotFound(err) {
		return nil, nil, kvbackend.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("mdbxkv: cursor: %w", err)
	}
	return k, v, nil
}

// txCursor is the TxBackend-scoped Cursor: it reuses the enclosing
// transaction's cursor handle rather than opening a fresh
// transaction per call.
type txCursor struct {
	cur *mdbx.Cursor
}

func (c *txCursor) Close() error {
	c.cur.Close()
	return nil
}

func (c *txCursor) First() ([]byte, []byte, error) {
	k, v, err := c.cur.Get(nil, nil, mdbx.First)
	return returnOrNotFound(k, v, err)
}

func (c *txCursor) Last() ([]byte, []byte, error) {
	k, v, err := c.cur.Get(nil, nil, mdbx.Last)
	return returnOrNotFound(k, v, err)
}

func (c *txCursor) Ceiling(seek []byte) ([]byte, []byte, error) {
	k, v, err := c.cur.Get(seek, nil, mdbx.SetRange)
	return returnOrNotFound(k, v, err)
}

func (c *txCursor) Floor(seek []byte) ([]byte, []byte, error) {
	k, v, err := c.cur.Get(seek, nil, mdbx.SetRange)
	if mdbx.IsNotFound(err) {
		k, v, err = c.cur.Get(nil, nil, mdbx.Last)
		return returnOrNotFound(k, v, err)
	}
	if err == nil && string(k) != string(seek) {
		k, v, err = c.cur.Get(nil, nil, mdbx.Prev)
	}
	return returnOrNotFound(k, v, err)
}

func (c *txCursor) Next(after []byte) ([]byte, []byte, error) {
	k, v, err := c.cur.Get(after, nil, mdbx.SetRange)
	if err == nil && string(k) == string(after) {
		k, v, err = c.cur.Get(nil, nil, mdbx.Next)
	}
	return returnOrNotFound(k, v, err)
}

func (c *txCursor) Prev(before []byte) ([]byte, []byte, error) {
	k, v, err := c.cur.Get(before, nil, mdbx.SetRange)
	if mdbx.IsNotFound(err) {
		k, v, err = c.cur.Get(nil, nil, mdbx.Last)
		return returnOrNotFound(k, v, err)
	}
	if err != nil {
		return returnOrNotFound(k, v, err)
	}
	k, v, err = c.cur.Get(nil, nil, mdbx.Prev)
	return returnOrNotFound(k, v, err)
}

var _ kvbackend.Backend = (*Backend)(nil)
var _ kvbackend.Transactional = (*Backend)(nil)
var _ kvbackend.Versioned = (*Backend)(nil)
var _ kvbackend.OrderedMap = (*orderedMap)(nil)
var _ kvbackend.OrderedMap = (*txMap)(nil)
var _ kvbackend.Cursor = (*mapCursor)(nil)
var _ kvbackend.Cursor = (*txCursor)(nil)
