// Package komodo is an embedded document store layered over an
// external ordered key-value engine (kvbackend): a primary byte-keyed
// map plus any number of client-declared secondary (ordered) and
// spatial indices, kept consistent across insert/update/delete, with
// range-scan cursors robust to concurrent mutation.
package komodo

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/clydebarrow/komodo/codec"
	"github.com/clydebarrow/komodo/key"
	"github.com/clydebarrow/komodo/komodoerr"
	"github.com/clydebarrow/komodo/komodolog"
	"github.com/clydebarrow/komodo/kvbackend"
	"github.com/clydebarrow/komodo/spatial"
)

// mapGetter resolves a named map within whatever write scope the
// caller is operating in: either the collection's own cached handles
// (no cross-map atomicity) or a single backend transaction (see
// withMaps).
type mapGetter func(name string) (kvbackend.OrderedMap, error)

// Collection owns one primary map and the secondary/spatial maps
// declared by its codec, and implements insert/update/delete with
// the invariants described in the package's design notes: every
// ordered index always has exactly one entry per live primary row,
// unique indices never collide, and no secondary entry outlives its
// primary row.
type Collection[T any] struct {
	name  string
	codec codec.Codec[T]
	store *Store

	primary        codec.Index[T]
	secondaries    []codec.Index[T]
	spatialIndices []codec.SpatialIndex[T]

	maps  sync.Map
	group singleflight.Group

	readCache *lru.Cache[string, T]
	logger    *komodolog.Logger
	traceID   uuid.UUID
}

// NewCollection constructs or reattaches the named collection against
// store's backend. A collection is a process-local handle; its
// backing maps open lazily on first reference. name must not contain
// '.', c must declare at least one index, and the first declared
// index must be unique (it becomes the primary index).
func NewCollection[T any](store *Store, name string, c codec.Codec[T]) (*Collection[T], error) {
	if strings.Contains(name, ".") {
		return nil, &komodoerr.BadName{Name: name}
	}
	indices := c.Indices()
	if len(indices) == 0 {
		return nil, &komodoerr.NoIndex{Collection: name}
	}
	if !indices[0].Unique {
		return nil, &komodoerr.NonUniquePrimary{Collection: name, IndexName: indices[0].Name}
	}

	spatialIndices := c.SpatialIndices()
	seen := make(map[string]bool, len(indices)+len(spatialIndices))
	var allNames []string
	for _, idx := range indices {
		if seen[idx.Name] {
			return nil, &komodoerr.DuplicateIndexName{Collection: name, Name: idx.Name}
		}
		seen[idx.Name] = true
		allNames = append(allNames, idx.Name)
	}
	for _, sp := range spatialIndices {
		if seen[sp.Name] {
			return nil, &komodoerr.DuplicateIndexName{Collection: name, Name: sp.Name}
		}
		seen[sp.Name] = true
		allNames = append(allNames, sp.Name)
	}

	traceID := uuid.New()
	col := &Collection[T]{
		name:           name,
		codec:          c,
		store:          store,
		primary:        indices[0],
		secondaries:    indices[1:],
		spatialIndices: spatialIndices,
		logger:         store.logger.With("collection", name, "trace", traceID),
		traceID:        traceID,
	}
	if entries := cacheEntries(store.config.ReadCacheMb); entries > 0 {
		cache, err := lru.New[string, T](entries)
		if err == nil {
			col.readCache = cache
		}
	}
	store.recordIndexSet(name, allNames)
	store.registerCollection(name, col)
	col.logger.Debug("collection opened", "indices", allNames)
	return col, nil
}

func (c *Collection[T]) secondaryMapName(indexName string) string {
	return c.name + "." + indexName
}

// indexMap returns the named backing map, opening it on first
// reference. Concurrent first-references collapse into a single
// backend.Map call via singleflight, the concrete form of the
// concurrent compute-if-absent this store's index-map cache requires.
func (c *Collection[T]) indexMap(name string) (kvbackend.OrderedMap, error) {
	if v, ok := c.maps.Load(name); ok {
		return v.(kvbackend.OrderedMap), nil
	}
	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		if v, ok := c.maps.Load(name); ok {
			return v.(kvbackend.OrderedMap), nil
		}
		m, err := c.store.backend.Map(name)
		if err != nil {
			return nil, wrapBackend(err)
		}
		c.maps.Store(name, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(kvbackend.OrderedMap), nil
}

// withMaps runs fn with a mapGetter resolving every name it asks for
// inside a single backend transaction when the backend supports one
// (mdbxkv), so a write touching several maps commits or rolls back
// together. Backends without that capability (memkv) run fn against
// the collection's ordinary cached maps instead; see Repair for how
// that gap is closed after an unclean shutdown.
func (c *Collection[T]) withMaps(fn func(get mapGetter) error) error {
	if txnl, ok := c.store.backend.(kvbackend.Transactional); ok {
		return txnl.WithTx(func(txb kvbackend.TxBackend) error {
			return fn(func(name string) (kvbackend.OrderedMap, error) {
				m, err := txb.Map(name)
				if err != nil {
					return nil, wrapBackend(err)
				}
				return m, nil
			})
		})
	}
	return fn(c.indexMap)
}

func storedKey[T any](idx codec.Index[T], data T, pk key.Key) key.Key {
	sk := idx.KeyGen(data)
	if idx.Unique {
		return sk
	}
	return key.Concat(sk, pk)
}

func (c *Collection[T]) cachePut(pk key.Key, data T) {
	if c.readCache != nil {
		c.readCache.Add(string(pk.Bytes()), data)
	}
}

func (c *Collection[T]) invalidateCache(pk key.Key) {
	if c.readCache != nil {
		c.readCache.Remove(string(pk.Bytes()))
	}
}

// decode turns stored primary-map bytes into a T, consulting and then
// populating the read cache when pk is non-nil. A nil pk (the codec's
// own "do not cache this" signal, per package codec) bypasses the
// cache entirely, matching the same contract for this store's own
// cache layered in front of the codec's.
func (c *Collection[T]) decode(stored []byte, pk *key.Key) (T, error) {
	var zero T
	if pk != nil && c.readCache != nil {
		if v, ok := c.readCache.Get(string(pk.Bytes())); ok {
			return v, nil
		}
	}
	raw, err := c.store.unpackBytes(stored)
	if err != nil {
		return zero, wrapBackend(err)
	}
	data, err := c.codec.Decode(raw, pk)
	if err != nil {
		return zero, err
	}
	if pk != nil && c.readCache != nil {
		c.readCache.Add(string(pk.Bytes()), data)
	}
	return data, nil
}

func (c *Collection[T]) encode(data T, pk key.Key) ([]byte, error) {
	raw, err := c.codec.Encode(data, pk)
	if err != nil {
		return nil, err
	}
	return c.store.packBytes(raw)
}

// Insert adds data under its primary-derived key. It fails with
// Duplicate if that key (or any unique secondary's derived key)
// already exists; all uniqueness checks happen before any write, so a
// failed Insert leaves no partial state.
func (c *Collection[T]) Insert(data T) (key.Key, error) {
	pk := c.primary.KeyGen(data)
	var result key.Key

	err := c.withMaps(func(get mapGetter) error {
		primaryMap, err := get(c.name)
		if err != nil {
			return err
		}
		_, found, err := primaryMap.Get(pk.Bytes())
		if err != nil {
			return wrapBackend(err)
		}
		if found {
			return &komodoerr.Duplicate{Collection: c.name, IndexName: c.primary.Name}
		}

		secMaps := make([]kvbackend.OrderedMap, len(c.secondaries))
		secKeys := make([]key.Key, len(c.secondaries))
		for i, idx := range c.secondaries {
			m, err := get(c.secondaryMapName(idx.Name))
			if err != nil {
				return err
			}
			sk := storedKey(idx, data, pk)
			if idx.Unique {
				_, found, err := m.Get(sk.Bytes())
				if err != nil {
					return wrapBackend(err)
				}
				if found {
					return &komodoerr.Duplicate{Collection: c.name, IndexName: idx.Name}
				}
			}
			secMaps[i], secKeys[i] = m, sk
		}

		encoded, err := c.encode(data, pk)
		if err != nil {
			return err
		}

		if err := primaryMap.Put(pk.Bytes(), encoded); err != nil {
			return wrapBackend(err)
		}
		for i := range c.secondaries {
			if err := secMaps[i].Put(secKeys[i].Bytes(), pk.Bytes()); err != nil {
				return wrapBackend(err)
			}
		}
		for _, sp := range c.spatialIndices {
			m, err := get(c.secondaryMapName(sp.Name))
			if err != nil {
				return err
			}
			zk := spatial.ZKey(sp.KeyGen(data))
			if err := m.Put(zk.Bytes(), pk.Bytes()); err != nil {
				return wrapBackend(err)
			}
		}
		result = pk
		return nil
	})
	if err != nil {
		return key.Key{}, err
	}
	c.cachePut(pk, data)
	return result, nil
}

// Update writes data under its primary-derived key, maintaining every
// secondary and spatial entry. A key not already present is treated
// as an Insert, per spec.
func (c *Collection[T]) Update(data T) (key.Key, error) {
	pk := c.primary.KeyGen(data)
	var result key.Key
	var missing bool

	err := c.withMaps(func(get mapGetter) error {
		primaryMap, err := get(c.name)
		if err != nil {
			return err
		}
		oldBytes, found, err := primaryMap.Get(pk.Bytes())
		if err != nil {
			return wrapBackend(err)
		}
		if !found {
			missing = true
			return nil
		}

		var oldData T
		if len(c.secondaries) > 0 || len(c.spatialIndices) > 0 {
			oldData, err = c.decode(oldBytes, &pk)
			if err != nil {
				return err
			}
		}

		encoded, err := c.encode(data, pk)
		if err != nil {
			return err
		}
		if err := primaryMap.Put(pk.Bytes(), encoded); err != nil {
			return wrapBackend(err)
		}

		for _, idx := range c.secondaries {
			m, err := get(c.secondaryMapName(idx.Name))
			if err != nil {
				return err
			}
			oldKey := storedKey(idx, oldData, pk)
			newKey := storedKey(idx, data, pk)
			if oldKey.Equals(newKey) {
				continue
			}
			if idx.Unique {
				_, found, err := m.Get(newKey.Bytes())
				if err != nil {
					return wrapBackend(err)
				}
				if found {
					return &komodoerr.Duplicate{Collection: c.name, IndexName: idx.Name}
				}
			}
			if err := m.Delete(oldKey.Bytes()); err != nil {
				return wrapBackend(err)
			}
			if err := m.Put(newKey.Bytes(), pk.Bytes()); err != nil {
				return wrapBackend(err)
			}
		}

		for _, sp := range c.spatialIndices {
			oldRect := sp.KeyGen(oldData)
			newRect := sp.KeyGen(data)
			if oldRect == newRect {
				continue
			}
			m, err := get(c.secondaryMapName(sp.Name))
			if err != nil {
				return err
			}
			if err := m.Delete(spatial.ZKey(oldRect).Bytes()); err != nil {
				return wrapBackend(err)
			}
			if err := m.Put(spatial.ZKey(newRect).Bytes(), pk.Bytes()); err != nil {
				return wrapBackend(err)
			}
		}

		result = pk
		return nil
	})
	if err != nil {
		return key.Key{}, err
	}
	if missing {
		return c.Insert(data)
	}
	c.invalidateCache(pk)
	c.cachePut(pk, data)
	return result, nil
}

// Delete removes pk and every secondary/spatial entry derived from
// it. A missing pk is a no-op.
func (c *Collection[T]) Delete(pk key.Key) error {
	err := c.withMaps(func(get mapGetter) error {
		primaryMap, err := get(c.name)
		if err != nil {
			return err
		}
		stored, found, err := primaryMap.Get(pk.Bytes())
		if err != nil {
			return wrapBackend(err)
		}
		if !found {
			return nil
		}

		var data T
		if len(c.secondaries) > 0 || len(c.spatialIndices) > 0 {
			data, err = c.decode(stored, &pk)
			if err != nil {
				return err
			}
		}

		for _, idx := range c.secondaries {
			m, err := get(c.secondaryMapName(idx.Name))
			if err != nil {
				return err
			}
			sk := storedKey(idx, data, pk)
			if err := m.Delete(sk.Bytes()); err != nil {
				return wrapBackend(err)
			}
		}
		for _, sp := range c.spatialIndices {
			m, err := get(c.secondaryMapName(sp.Name))
			if err != nil {
				return err
			}
			if err := m.Delete(spatial.ZKey(sp.KeyGen(data)).Bytes()); err != nil {
				return wrapBackend(err)
			}
		}
		return wrapBackend(primaryMap.Delete(pk.Bytes()))
	})
	if err != nil {
		return err
	}
	c.invalidateCache(pk)
	return nil
}

// Read returns the value stored under pk, or found=false if absent.
func (c *Collection[T]) Read(pk key.Key) (data T, found bool, err error) {
	m, err := c.indexMap(c.name)
	if err != nil {
		return data, false, err
	}
	stored, found, err := m.Get(pk.Bytes())
	if err != nil {
		return data, false, wrapBackend(err)
	}
	if !found {
		return data, false, nil
	}
	data, err = c.decode(stored, &pk)
	if err != nil {
		return data, false, err
	}
	return data, true, nil
}

// ReadOrCreate returns the value under pk, inserting create()'s
// result if absent. It does not verify that create's result's own
// primary key equals pk; mismatches are caller error.
func (c *Collection[T]) ReadOrCreate(pk key.Key, create func() T) (T, error) {
	data, found, err := c.Read(pk)
	if err != nil {
		return data, err
	}
	if found {
		return data, nil
	}
	data = create()
	if _, err := c.Insert(data); err != nil {
		return data, err
	}
	return data, nil
}

func (c *Collection[T]) resolveIndexMapName(indexName string) (mapName string, isPrimary bool, err error) {
	if indexName == "" || indexName == c.primary.Name {
		return c.name, true, nil
	}
	for _, idx := range c.secondaries {
		if idx.Name == indexName {
			return c.secondaryMapName(indexName), false, nil
		}
	}
	return "", false, &komodoerr.UnknownIndex{Collection: c.name, Name: indexName}
}

func (c *Collection[T]) spatialIndexByName(name string) (codec.SpatialIndex[T], bool) {
	for _, sp := range c.spatialIndices {
		if sp.Name == name {
			return sp, true
		}
	}
	return codec.SpatialIndex[T]{}, false
}

// ContainedBy returns every stored rectangle, under the named spatial
// index, fully contained by query.
func (c *Collection[T]) ContainedBy(spatialIndexName string, query spatial.Rect) ([]spatial.Rect, error) {
	sp, ok := c.spatialIndexByName(spatialIndexName)
	if !ok {
		return nil, &komodoerr.UnknownIndex{Collection: c.name, Name: spatialIndexName}
	}
	m, err := c.indexMap(c.secondaryMapName(sp.Name))
	if err != nil {
		return nil, err
	}
	primaryMap, err := c.indexMap(c.name)
	if err != nil {
		return nil, err
	}

	var results []spatial.Rect
	seen := make(map[string]bool)
	for _, rg := range spatial.Ranges(query) {
		if err := c.scanSpatialRange(m, primaryMap, rg, sp, query, seen, &results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (c *Collection[T]) scanSpatialRange(
	m, primaryMap kvbackend.OrderedMap,
	rg spatial.Range,
	sp codec.SpatialIndex[T],
	query spatial.Rect,
	seen map[string]bool,
	results *[]spatial.Rect,
) error {
	cur, err := m.NewCursor()
	if err != nil {
		return wrapBackend(err)
	}
	defer cur.Close()

	k, v, err := cur.Ceiling(rg.Lo.Bytes())
	for err == nil {
		if key.Of(k).Compare(rg.Hi) > 0 {
			break
		}
		pkBytes := append([]byte(nil), v...)
		if !seen[string(pkBytes)] {
			seen[string(pkBytes)] = true
			stored, found, gerr := primaryMap.Get(pkBytes)
			if gerr != nil {
				return wrapBackend(gerr)
			}
			if found {
				pk := key.Of(pkBytes)
				data, derr := c.decode(stored, &pk)
				if derr != nil {
					return derr
				}
				candidate := sp.KeyGen(data)
				if query.Contains(candidate) {
					*results = append(*results, candidate)
				}
			}
		}
		nextKey := append([]byte(nil), k...)
		k, v, err = cur.Next(nextKey)
	}
	if err != nil && !isNotFound(err) {
		return wrapBackend(err)
	}
	return nil
}
