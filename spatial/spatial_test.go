package spatial_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/clydebarrow/komodo/spatial"
)

func TestContainsAndIntersects(t *testing.T) {
	outer := spatial.Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	inner := spatial.Rect{MinX: 2, MinY: 2, MaxX: 5, MaxY: 5}
	disjoint := spatial.Rect{MinX: 20, MinY: 20, MaxX: 30, MaxY: 30}

	assert.True(t, outer.Contains(inner))
	assert.False(t, inner.Contains(outer))
	assert.True(t, outer.Intersects(inner))
	assert.False(t, outer.Intersects(disjoint))
}

func TestZKeyIsDeterministicForEqualRects(t *testing.T) {
	a := spatial.ZKey(spatial.Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})
	b := spatial.ZKey(spatial.Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})
	assert.True(t, a.Equals(b))
}

// Property: the single Z-range Ranges returns always covers query's
// own min and max corner Z-keys.
func TestRangesCoversQueryCorners(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		minX := rapid.Int32Range(-1000, 1000).Draw(rt, "minX")
		minY := rapid.Int32Range(-1000, 1000).Draw(rt, "minY")
		w := rapid.Int32Range(0, 500).Draw(rt, "w")
		h := rapid.Int32Range(0, 500).Draw(rt, "h")
		q := spatial.Rect{MinX: minX, MinY: minY, MaxX: minX + w, MaxY: minY + h}

		ranges := spatial.Ranges(q)
		if len(ranges) != 1 {
			rt.Fatalf("expected a single covering range, got %d", len(ranges))
		}
		minCorner := spatial.ZKey(spatial.Rect{MinX: q.MinX, MinY: q.MinY, MaxX: q.MinX, MaxY: q.MinY})
		maxCorner := spatial.ZKey(spatial.Rect{MinX: q.MaxX, MinY: q.MaxY, MaxX: q.MaxX, MaxY: q.MaxY})

		r := ranges[0]
		lo, hi := minCorner, maxCorner
		if lo.Compare(hi) > 0 {
			lo, hi = hi, lo
		}
		if r.Lo.Compare(lo) > 0 {
			rt.Fatalf("range lower bound %v excludes query min corner %v", r.Lo, lo)
		}
		if r.Hi.Compare(hi) < 0 {
			rt.Fatalf("range upper bound %v excludes query max corner %v", r.Hi, hi)
		}
	})
}
