// Package memkv is an in-process kvbackend.Backend backed by one
// github.com/google/btree tree per named map. It exists for tests and
// for small or ephemeral collections that do not need durability; see
// kvbackend/mdbxkv for the durable, MDBX-backed implementation.
//
// memkv does not implement kvbackend.Transactional: a sequence of
// writes across several maps is not atomic here. Collection documents
// the resulting window (a crash between two of a multi-map write's
// steps can leave a secondary index map out of sync with the primary)
// and provides Repair to reconcile it; mdbxkv does not need Repair
// because its writes are wrapped in a real MDBX transaction.
package memkv

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sync/singleflight"

	"github.com/clydebarrow/komodo/kvbackend"
)

const btreeDegree = 32

// entry is the btree.Item stored in each tree: a key/value pair
// ordered by key alone.
type entry struct {
	key []byte
	val []byte
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

// Backend is a Backend holding one btree.BTree per named map.
type Backend struct {
	mu    sync.RWMutex
	maps  map[string]*orderedMap
	group singleflight.Group
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{maps: make(map[string]*orderedMap)}
}

func (b *Backend) Map(name string) (kvbackend.OrderedMap, error) {
	b.mu.RLock()
	m, ok := b.maps[name]
	b.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, _, _ := b.group.Do(name, func() (interface{}, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.maps[name]; ok {
			return m, nil
		}
		m := &orderedMap{tree: btree.New(btreeDegree)}
		b.maps[name] = m
		return m, nil
	})
	return v.(*orderedMap), nil
}

func (b *Backend) DeleteMap(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.maps, name)
	return nil
}

func (b *Backend) ListMaps() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.maps))
	for name := range b.maps {
		names = append(names, name)
	}
	return names, nil
}

// Commit is a no-op: memkv holds no buffered state beyond the tree
// itself.
func (b *Backend) Commit() error { return nil }

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maps = nil
	return nil
}

// Repair reconciles every map's tree against itself: a structural
// no-op today, kept as the hook Collection.Repair calls before its own
// secondary-index reconciliation so that a future richer memkv (e.g.
// one that tracks pending cross-map writes) has a defined place to
// drop its reconciliation pass without changing Collection's call
// sites.
func (b *Backend) Repair() error {
	return nil
}

// orderedMap is the per-name btree.BTree wrapper implementing
// kvbackend.OrderedMap.
type orderedMap struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

func (m *orderedMap) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item := m.tree.Get(&entry{key: key})
	if item == nil {
		return nil, false, nil
	}
	return item.(*entry).val, true, nil
}

func (m *orderedMap) Put(key, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.ReplaceOrInsert(&entry{key: key, val: val})
	return nil
}

func (m *orderedMap) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(&entry{key: key})
	return nil
}

func (m *orderedMap) Count() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(m.tree.Len()), nil
}

func (m *orderedMap) NewCursor() (kvbackend.Cursor, error) {
	return &cursor{m: m}, nil
}

// cursor reads m.tree fresh on every call, so it observes mutations
// made through other handles after it was created.
type cursor struct {
	m *orderedMap
}

func (c *cursor) Close() error { return nil }

func (c *cursor) First() ([]byte, []byte, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	item := c.m.tree.Min()
	if item == nil {
		return nil, nil, kvbackend.ErrNotFound
	}
	e := item.(*entry)
	return e.key, e.val, nil
}

func (c *cursor) Last() ([]byte, []byte, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	item := c.m.tree.Max()
	if item == nil {
		return nil, nil, kvbackend.ErrNotFound
	}
	e := item.(*entry)
	return e.key, e.val, nil
}

func (c *cursor) Ceiling(seek []byte) ([]byte, []byte, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	var found *entry
	c.m.tree.AscendGreaterOrEqual(&entry{key: seek}, func(i btree.Item) bool {
		found = i.(*entry)
		return false
	})
	if found == nil {
		return nil, nil, kvbackend.ErrNotFound
	}
	return found.key, found.val, nil
}

func (c *cursor) Floor(seek []byte) ([]byte, []byte, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	var found *entry
	c.m.tree.DescendLessOrEqual(&entry{key: seek}, func(i btree.Item) bool {
		found = i.(*entry)
		return false
	})
	if found == nil {
		return nil, nil, kvbackend.ErrNotFound
	}
	return found.key, found.val, nil
}

func (c *cursor) Next(after []byte) ([]byte, []byte, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	var found *entry
	count := 0
	c.m.tree.AscendGreaterOrEqual(&entry{key: after}, func(i btree.Item) bool {
		e := i.(*entry)
		if bytes.Equal(e.key, after) {
			count++
			return true
		}
		found = e
		return false
	})
	_ = count
	if found == nil {
		return nil, nil, kvbackend.ErrNotFound
	}
	return found.key, found.val, nil
}

func (c *cursor) Prev(before []byte) ([]byte, []byte, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	var found *entry
	c.m.tree.DescendLessOrEqual(&entry{key: before}, func(i btree.Item) bool {
		e := i.(*entry)
		if bytes.Equal(e.key, before) {
			return true
		}
		found = e
		return false
	})
	if found == nil {
		return nil, nil, kvbackend.ErrNotFound
	}
	return found.key, found.val, nil
}

var _ kvbackend.Backend = (*Backend)(nil)
var _ kvbackend.Repairer = (*Backend)(nil)
var _ kvbackend.OrderedMap = (*orderedMap)(nil)
var _ kvbackend.Cursor = (*cursor)(nil)
