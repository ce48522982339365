package komodo

import (
	"github.com/clydebarrow/komodo/codec"
	"github.com/clydebarrow/komodo/key"
	"github.com/clydebarrow/komodo/kvbackend"
	"github.com/clydebarrow/komodo/spatial"
)

// Repair reconciles every secondary and spatial map against the
// primary map's current contents: it removes entries whose primary
// key is no longer present, and re-derives and inserts any entry
// missing for a row that is present. This is the offline counterpart
// to withMaps's cross-map atomicity gap on backends (memkv) that
// don't implement kvbackend.Transactional. A crash between two steps
// of a multi-map write can leave a secondary index stale, and Repair
// is how that gets fixed without replaying a log. Backends that do
// implement Transactional (mdbxkv) never need it, since every write
// Collection performs already commits or rolls back as a whole; it is
// still safe to call there, it will simply find nothing to do.
func (c *Collection[T]) Repair() error {
	if r, ok := c.store.backend.(kvbackend.Repairer); ok {
		if err := r.Repair(); err != nil {
			return wrapBackend(err)
		}
	}

	primaryMap, err := c.indexMap(c.name)
	if err != nil {
		return err
	}
	live, err := c.snapshotLive(primaryMap)
	if err != nil {
		return err
	}

	for _, idx := range c.secondaries {
		if err := c.repairOrderedIndex(idx, live); err != nil {
			return err
		}
	}
	for _, sp := range c.spatialIndices {
		if err := c.repairSpatialIndex(sp, live); err != nil {
			return err
		}
	}
	return nil
}

// snapshotLive reads every primary-map entry into memory, keyed by
// its raw primary-key bytes. Repair needs the whole set twice over
// (once to find stale secondary entries, once to find missing ones),
// and re-scanning the primary map each time would double the I/O for
// no benefit on the collection sizes Repair is meant for (offline
// reconciliation after an unclean shutdown, not a steady-state hot
// path).
func (c *Collection[T]) snapshotLive(primaryMap kvbackend.OrderedMap) (map[string][]byte, error) {
	live := make(map[string][]byte)
	cur, err := primaryMap.NewCursor()
	if err != nil {
		return nil, wrapBackend(err)
	}
	defer cur.Close()

	k, v, err := cur.First()
	for err == nil {
		live[string(k)] = append([]byte(nil), v...)
		next := append([]byte(nil), k...)
		k, v, err = cur.Next(next)
	}
	if err != nil && !isNotFound(err) {
		return nil, wrapBackend(err)
	}
	return live, nil
}

func (c *Collection[T]) removeStale(m kvbackend.OrderedMap, live map[string][]byte) error {
	cur, err := m.NewCursor()
	if err != nil {
		return wrapBackend(err)
	}
	var stale [][]byte
	k, v, err := cur.First()
	for err == nil {
		if _, ok := live[string(v)]; !ok {
			stale = append(stale, append([]byte(nil), k...))
		}
		next := append([]byte(nil), k...)
		k, v, err = cur.Next(next)
	}
	cur.Close()
	if err != nil && !isNotFound(err) {
		return wrapBackend(err)
	}
	for _, k := range stale {
		if err := m.Delete(k); err != nil {
			return wrapBackend(err)
		}
	}
	return nil
}

func (c *Collection[T]) repairOrderedIndex(idx codec.Index[T], live map[string][]byte) error {
	m, err := c.indexMap(c.secondaryMapName(idx.Name))
	if err != nil {
		return err
	}
	if err := c.removeStale(m, live); err != nil {
		return err
	}
	for pkBytes, stored := range live {
		data, err := c.decode(stored, nil)
		if err != nil {
			return err
		}
		pk := key.Of([]byte(pkBytes))
		sk := storedKey(idx, data, pk)
		_, found, err := m.Get(sk.Bytes())
		if err != nil {
			return wrapBackend(err)
		}
		if !found {
			if err := m.Put(sk.Bytes(), pk.Bytes()); err != nil {
				return wrapBackend(err)
			}
		}
	}
	return nil
}

func (c *Collection[T]) repairSpatialIndex(sp codec.SpatialIndex[T], live map[string][]byte) error {
	m, err := c.indexMap(c.secondaryMapName(sp.Name))
	if err != nil {
		return err
	}
	if err := c.removeStale(m, live); err != nil {
		return err
	}
	for pkBytes, stored := range live {
		data, err := c.decode(stored, nil)
		if err != nil {
			return err
		}
		zk := spatial.ZKey(sp.KeyGen(data))
		_, found, err := m.Get(zk.Bytes())
		if err != nil {
			return wrapBackend(err)
		}
		if !found {
			if err := m.Put(zk.Bytes(), []byte(pkBytes)); err != nil {
				return wrapBackend(err)
			}
		}
	}
	return nil
}
