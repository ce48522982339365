// Package spatial linearizes axis-aligned rectangles onto the ordered
// byte-key space that kvbackend already provides, so a spatial index
// is just another ordinary secondary map rather than a second storage
// engine. Z-order (Morton) interleaving of a rectangle's corner is the
// standard technique for getting range-query behavior out of a plain
// ordered map, so that is what this package implements.
package spatial

import (
	"github.com/clydebarrow/komodo/key"
)

// Rect is an axis-aligned rectangle over int32 ordinates, inclusive of
// both corners.
type Rect struct {
	MinX, MinY int32
	MaxX, MaxY int32
}

// Contains reports whether r fully encloses other.
func (r Rect) Contains(other Rect) bool {
	return r.MinX <= other.MinX && r.MinY <= other.MinY &&
		r.MaxX >= other.MaxX && r.MaxY >= other.MaxY
}

// Intersects reports whether r and other share any point.
func (r Rect) Intersects(other Rect) bool {
	return r.MinX <= other.MaxX && other.MinX <= r.MaxX &&
		r.MinY <= other.MaxY && other.MinY <= r.MaxY
}

// morton interleaves the bits of two uint32 ordinates into a uint64
// Z-order value: points near each other in 2-D space are, with high
// probability, near each other in the linearized order.
func morton(x, y uint32) uint64 {
	return spread(x) | (spread(y) << 1)
}

// spread doubles the spacing between v's bits so two spread values can
// be OR'd together without colliding: bit i of v becomes bit 2i.
func spread(v uint32) uint64 {
	x := uint64(v)
	x = (x | (x << 16)) & 0x0000FFFF0000FFFF
	x = (x | (x << 8)) & 0x00FF00FF00FF00FF
	x = (x | (x << 4)) & 0x0F0F0F0F0F0F0F0F
	x = (x | (x << 2)) & 0x3333333333333333
	x = (x | (x << 1)) & 0x5555555555555555
	return x
}

// toUnsigned flips the sign bit so int32 ordinates sort in the same
// order as their unsigned Morton encoding, matching key.Int32.
func toUnsigned(v int32) uint32 {
	return uint32(v) ^ 0x80000000
}

// ZKey linearizes r's minimum corner into a key.Key suitable for
// storage in an ordered secondary map. Two rectangles with nearby
// minimum corners get nearby Z-keys; this is what makes a bounded Z-
// range scan (see Ranges) a useful candidate filter for containedBy
// queries.
func ZKey(r Rect) key.Key {
	code := morton(toUnsigned(r.MinX), toUnsigned(r.MinY))
	return key.MustCompose(key.Uint64(code))
}

// Range is a contiguous span of Z-keys to scan as one Cursor query.
type Range struct {
	Lo, Hi key.Key
}

// Ranges returns the Z-key ranges that must be scanned to find every
// entry whose minimum corner could fall inside query. It returns a
// single range spanning the Z-codes of query's own min and max
// corners: this over-approximates the exact Z-order decomposition (it
// may include candidates whose Z-key falls in range but whose actual
// rectangle lies outside query), which is why containedBy always
// re-checks each candidate's stored Rect against query exactly before
// returning it.
func Ranges(query Rect) []Range {
	lo := morton(toUnsigned(query.MinX), toUnsigned(query.MinY))
	hi := morton(toUnsigned(query.MaxX), toUnsigned(query.MaxY))
	if hi < lo {
		lo, hi = hi, lo
	}
	return []Range{{
		Lo: key.MustCompose(key.Uint64(lo)),
		Hi: key.MustCompose(key.Uint64(hi)),
	}}
}
