package komodo

import (
	"context"

	"github.com/clydebarrow/komodo/key"
	"github.com/clydebarrow/komodo/komodoerr"
	"github.com/clydebarrow/komodo/kvbackend"
	"github.com/clydebarrow/komodo/stream"
)

// prefixSuccessor returns the smallest byte string strictly greater
// than every string having b as a prefix, by incrementing b as a
// big-endian integer and dropping any trailing 0xFF bytes first. It
// reports ok=false when no such string exists (b is empty, or every
// byte is already 0xFF); that case means "no finite successor",
// i.e. the prefix's range runs to the end of the keyspace.
func prefixSuccessor(b []byte) (succ []byte, ok bool) {
	i := len(b)
	for i > 0 && b[i-1] == 0xFF {
		i--
	}
	if i == 0 {
		return nil, false
	}
	out := append([]byte(nil), b[:i]...)
	out[i-1]++
	return out, true
}

// physicalScanner walks one OrderedMap's physical key space between a
// lowerBound and upperBound, in either direction, skipping start
// entries up front and stride entries between each candidate. It
// knows nothing about primary-key dereference or liveness; Cursor
// layers that on top, since only Cursor (which can see the primary
// map) knows whether a physical entry is still backed by a live row.
type physicalScanner struct {
	bcur                   kvbackend.Cursor
	lowerBound, upperBound key.Key
	reverse                bool
	stride                 int

	pos   key.Key
	val   []byte
	valid bool
	err   error
}

func newPhysicalScanner(m kvbackend.OrderedMap, lower, upper key.Key, start, stride int, reverse bool) (*physicalScanner, error) {
	bcur, err := m.NewCursor()
	if err != nil {
		return nil, err
	}
	s := &physicalScanner{bcur: bcur, lowerBound: lower, upperBound: upper, reverse: reverse, stride: stride}

	k, v, ok, err := s.resolveBegin()
	if err != nil {
		bcur.Close()
		return nil, err
	}
	if ok {
		s.pos, s.val, s.valid = k, v, true
		for i := 0; i < start && s.valid; i++ {
			s.hop(1)
		}
	}
	return s, nil
}

func (s *physicalScanner) resolveBegin() (key.Key, []byte, bool, error) {
	if !s.reverse {
		return s.resolveLower()
	}
	return s.resolveUpper()
}

// resolveLower computes the scan's ascending starting key: the
// smallest physical key >= lowerBound (ceiling), or firstKey/lastKey
// for the START/END sentinels.
func (s *physicalScanner) resolveLower() (key.Key, []byte, bool, error) {
	switch {
	case s.lowerBound.Equals(key.END):
		return s.lastEntry()
	case s.lowerBound.Equals(key.START):
		return s.firstEntry()
	default:
		k, v, err := s.bcur.Ceiling(s.lowerBound.Bytes())
		return entryResult(k, v, err)
	}
}

// resolveUpper computes the reverse scan's starting key: the largest
// physical key k such that k <= upperBound OR upperBound is a prefix
// of k. prev(prefixSuccessor(upperBound)) gives exactly that in one
// step: every key with upperBound as a prefix, and every key <=
// upperBound, sorts strictly below prefixSuccessor(upperBound), and
// nothing else does, so the largest key strictly less than the
// successor is the last prefix-extending key when any exist, and
// falls back to plain floor(upperBound) when none do. Floor would be
// wrong here: it's inclusive of its seek key, so Floor(succ) could
// return succ itself, a key that is neither <= upperBound nor
// prefixed by it.
func (s *physicalScanner) resolveUpper() (key.Key, []byte, bool, error) {
	switch {
	case s.upperBound.Equals(key.END):
		return s.lastEntry()
	case s.upperBound.Equals(key.START):
		return s.firstEntry()
	default:
		succ, ok := prefixSuccessor(s.upperBound.Bytes())
		if !ok {
			return s.lastEntry()
		}
		k, v, err := s.bcur.Prev(succ)
		return entryResult(k, v, err)
	}
}

func (s *physicalScanner) firstEntry() (key.Key, []byte, bool, error) {
	k, v, err := s.bcur.First()
	return entryResult(k, v, err)
}

func (s *physicalScanner) lastEntry() (key.Key, []byte, bool, error) {
	k, v, err := s.bcur.Last()
	return entryResult(k, v, err)
}

func entryResult(k, v []byte, err error) (key.Key, []byte, bool, error) {
	if isNotFound(err) {
		return key.Key{}, nil, false, nil
	}
	if err != nil {
		return key.Key{}, nil, false, err
	}
	return key.Of(k), v, true, nil
}

// withinBound reports whether k is still within the scan's overall
// range, using the original caller-supplied bound (not the resolved
// physical start/end key) so the termination check survives deletion
// of whatever physical entry originally anchored the scan's far end.
func (s *physicalScanner) withinBound(k key.Key) bool {
	if !s.reverse {
		if s.upperBound.Compare(k) < 0 && !s.upperBound.IsPrefixOf(k) {
			return false
		}
		return true
	}
	if s.lowerBound.Compare(k) > 0 && !s.lowerBound.IsPrefixOf(k) {
		return false
	}
	return true
}

// hop advances the scan position n raw physical steps (direction per
// s.reverse), stopping early if the map is exhausted or the next key
// would fall outside the bound.
func (s *physicalScanner) hop(n int) {
	for i := 0; i < n; i++ {
		if !s.valid {
			return
		}
		var k, v []byte
		var err error
		if !s.reverse {
			k, v, err = s.bcur.Next(s.pos.Bytes())
		} else {
			k, v, err = s.bcur.Prev(s.pos.Bytes())
		}
		if isNotFound(err) {
			s.valid = false
			return
		}
		if err != nil {
			s.valid = false
			s.err = err
			return
		}
		nk := key.Of(k)
		if !s.withinBound(nk) {
			s.valid = false
			return
		}
		s.pos, s.val = nk, v
	}
}

// candidate returns the scan's current physical entry, or ok=false
// once exhausted.
func (s *physicalScanner) candidate() (k key.Key, v []byte, ok bool) {
	if !s.valid {
		return key.Key{}, nil, false
	}
	return s.pos, s.val, true
}

// advance moves past the current candidate by stride positions, in
// preparation for the next candidate() call. It is called once per
// candidate examined, live or not: stride sets the candidate cadence
// independent of whether each candidate turns out to dereference to a
// live row.
func (s *physicalScanner) advance() {
	s.hop(s.stride)
}

func (s *physicalScanner) Close() error {
	return s.bcur.Close()
}

// QuerySpec configures a Collection.Query or Collection.DeleteRange
// scan. The zero value is not directly useful; start from
// DefaultQuerySpec.
type QuerySpec struct {
	// IndexName selects which ordered index to scan; empty means the
	// primary index.
	IndexName string
	// Lo and Hi bound the scan. key.START and key.END mean "no bound"
	// on that side.
	Lo, Hi key.Key
	// Start is the number of matching physical entries to skip before
	// the first yielded element.
	Start int
	// Count limits how many elements are yielded; Unlimited means no
	// limit.
	Count int64
	// Reverse scans from Hi down to Lo instead of Lo up to Hi.
	Reverse bool
	// Stride is the spacing between yielded candidates; 0 defaults to
	// 1, negative values fail with BadStride.
	Stride int
}

// Unlimited is the Count value meaning "no limit".
const Unlimited int64 = -1

// DefaultQuerySpec returns a QuerySpec scanning the primary index,
// unbounded, from the start, forward, one element at a time.
func DefaultQuerySpec() QuerySpec {
	return QuerySpec{Lo: key.START, Hi: key.END, Count: Unlimited, Stride: 1}
}

// Cursor yields decoded values across a physical key range, applying
// indirection through the primary map when scanning a secondary
// index (spatial indices are not scannable by Query; use
// Collection.ContainedBy). A row deleted between the scan observing its
// physical entry and the cursor dereferencing it is skipped silently
// and does not count against Count; deleting the row the cursor most
// recently yielded is always safe, since advancing from it only needs
// that key's byte value, not its continued presence.
//
// A Cursor is not safe for concurrent use by multiple goroutines.
type Cursor[T any] struct {
	collection *Collection[T]
	scanner    *physicalScanner
	isPrimary  bool
	primaryMap kvbackend.OrderedMap

	unlimited bool
	remaining int64

	pendingDelete bool

	haveNext bool
	nextData T
	nextErr  error
	done     bool
}

func newCursor[T any](c *Collection[T], spec QuerySpec, pendingDelete bool) (*Cursor[T], error) {
	stride := spec.Stride
	switch {
	case stride == 0:
		stride = 1
	case stride < 0:
		return nil, &komodoerr.BadStride{Stride: stride}
	}

	mapName, isPrimary, err := c.resolveIndexMapName(spec.IndexName)
	if err != nil {
		return nil, err
	}
	m, err := c.indexMap(mapName)
	if err != nil {
		return nil, err
	}
	var primaryMap kvbackend.OrderedMap
	if !isPrimary {
		primaryMap, err = c.indexMap(c.name)
		if err != nil {
			return nil, err
		}
	}

	lo, hi := spec.Lo, spec.Hi
	if lo.Equals(key.Key{}) {
		lo = key.START
	}
	if hi.Equals(key.Key{}) {
		hi = key.END
	}

	scanner, err := newPhysicalScanner(m, lo, hi, spec.Start, stride, spec.Reverse)
	if err != nil {
		return nil, wrapBackend(err)
	}

	return &Cursor[T]{
		collection:    c,
		scanner:       scanner,
		isPrimary:     isPrimary,
		primaryMap:    primaryMap,
		unlimited:     spec.Count < 0,
		remaining:     spec.Count,
		pendingDelete: pendingDelete,
	}, nil
}

// fill pulls candidates from the scanner until it has buffered one
// element ready to yield, run out of candidates, hit the Count limit,
// or hit an error.
func (c *Cursor[T]) fill() {
	if c.haveNext || c.done {
		return
	}
	for {
		if !c.unlimited && c.remaining <= 0 {
			c.done = true
			return
		}

		k, v, ok := c.scanner.candidate()
		if !ok {
			if c.scanner.err != nil {
				c.nextErr = wrapBackend(c.scanner.err)
			}
			c.done = true
			return
		}

		var pkBytes, stored []byte
		var found bool
		var err error
		if c.isPrimary {
			pkBytes, stored, found = k.Bytes(), v, true
		} else {
			pkBytes = v
			stored, found, err = c.primaryMap.Get(pkBytes)
			if err != nil {
				c.nextErr = wrapBackend(err)
				c.done = true
				return
			}
		}

		if !found {
			c.scanner.advance()
			continue
		}

		pk := key.Of(pkBytes)
		data, err := c.collection.decode(stored, &pk)
		if err != nil {
			c.nextErr = err
			c.done = true
			return
		}

		if c.pendingDelete {
			if err := c.collection.Delete(pk); err != nil {
				c.nextErr = err
				c.done = true
				return
			}
		}

		c.nextData = data
		c.haveNext = true
		c.scanner.advance()
		if !c.unlimited {
			c.remaining--
		}
		return
	}
}

// HasNext reports whether Next would return an element.
func (c *Cursor[T]) HasNext() bool {
	c.fill()
	return c.haveNext
}

// Next returns the cursor's next element, or komodoerr.NoSuchElement
// once exhausted.
func (c *Cursor[T]) Next() (T, error) {
	c.fill()
	if c.nextErr != nil {
		err := c.nextErr
		c.nextErr = nil
		c.done = true
		var zero T
		return zero, err
	}
	if !c.haveNext {
		var zero T
		return zero, &komodoerr.NoSuchElement{}
	}
	v := c.nextData
	var zero T
	c.nextData = zero
	c.haveNext = false
	return v, nil
}

// Close releases the cursor's backend resources. It must be called
// once the caller is done iterating.
func (c *Cursor[T]) Close() error {
	return c.scanner.Close()
}

// Stream adapts the cursor into a push channel via package stream.
// The caller is still responsible for calling Close once the channel
// is drained or abandoned.
func (c *Cursor[T]) Stream(ctx context.Context) <-chan stream.Result[T] {
	return stream.Stream[T](ctx, c)
}

// Query returns a Cursor over spec's range.
func (c *Collection[T]) Query(spec QuerySpec) (*Cursor[T], error) {
	return newCursor(c, spec, false)
}

// DeleteRange returns a Cursor that deletes each element, from every
// map it appears in, immediately before yielding it.
func (c *Collection[T]) DeleteRange(spec QuerySpec) (*Cursor[T], error) {
	return newCursor(c, spec, true)
}
