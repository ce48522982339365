package komodo

import (
	"github.com/clydebarrow/komodo/key"
	"github.com/clydebarrow/komodo/kvbackend"
)

// Counter is a degenerate cursor: it walks the same physical key
// range a Cursor would, but never dereferences through the primary
// map and never decodes a value, so Count is O(number of physical
// entries in range) regardless of how expensive T is to decode.
// Deleted-but-not-yet-reconciled secondary entries (the same backend
// gap a Cursor papers over via skip-on-dereference-miss) are counted
// as-is: Counter reports exactly what's physically present in the
// index, not how many of those entries still resolve to a live row.
type Counter struct {
	scanner *physicalScanner
}

func newCounter(m kvbackend.OrderedMap, lo, hi key.Key) (*Counter, error) {
	scanner, err := newPhysicalScanner(m, lo, hi, 0, 1, false)
	if err != nil {
		return nil, wrapBackend(err)
	}
	return &Counter{scanner: scanner}, nil
}

// Count walks and closes the counter's range, returning the number of
// physical entries found.
func (c *Counter) Count() (uint64, error) {
	defer c.scanner.Close()
	var n uint64
	for {
		_, _, ok := c.scanner.candidate()
		if !ok {
			break
		}
		n++
		c.scanner.advance()
	}
	if c.scanner.err != nil {
		return 0, wrapBackend(c.scanner.err)
	}
	return n, nil
}

// Count returns the number of physical entries in the named index
// between lo and hi, without dereferencing to the primary map.
func (c *Collection[T]) Count(indexName string, lo, hi key.Key) (uint64, error) {
	mapName, _, err := c.resolveIndexMapName(indexName)
	if err != nil {
		return 0, err
	}
	m, err := c.indexMap(mapName)
	if err != nil {
		return 0, err
	}
	if lo.Equals(key.Key{}) {
		lo = key.START
	}
	if hi.Equals(key.Key{}) {
		hi = key.END
	}
	if lo.Equals(key.START) && hi.Equals(key.END) {
		n, err := m.Count()
		if err != nil {
			return 0, wrapBackend(err)
		}
		return n, nil
	}
	counter, err := newCounter(m, lo, hi)
	if err != nil {
		return 0, err
	}
	return counter.Count()
}
