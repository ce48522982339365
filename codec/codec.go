// Package codec declares the contract a Collection's client supplies:
// how to turn a value into primary-map bytes and back, and how to
// derive the keys that drive its ordered and spatial secondary
// indices. Collection owns orchestration (uniqueness, cross-index
// maintenance, iteration); Codec owns only the data<->bytes and
// data->key mapping, generalized from TiDB's row/index split
// (tables/index.go: a row's columns feed each index's own key-gen,
// the index itself never touches encoding).
package codec

import (
	"github.com/clydebarrow/komodo/key"
	"github.com/clydebarrow/komodo/spatial"
)

// Index describes one ordered secondary (or primary) index: its name,
// whether it enforces uniqueness, and how to derive its key from a
// value. The first Index returned by Codec.Indices is the primary
// index and must have Unique set.
type Index[T any] struct {
	Name   string
	Unique bool
	KeyGen func(data T) key.Key
}

// SpatialIndex describes one spatial index: its name and how to
// derive the bounding rectangle indexed for a value.
type SpatialIndex[T any] struct {
	Name   string
	KeyGen func(data T) spatial.Rect
}

// Codec is the client-supplied (de)serializer and key-generator for a
// Collection holding values of type T.
type Codec[T any] interface {
	// Encode serializes data for storage under primaryKey. primaryKey
	// is advisory, passed through so an encoder that keys its own
	// internal cache by primary key can populate it.
	Encode(data T, primaryKey key.Key) ([]byte, error)

	// Decode deserializes b back into a T. primaryKey is advisory: a
	// nil primaryKey means the caller is decoding a value it will not
	// cache, and the codec must not populate any internal cache for
	// this call.
	Decode(b []byte, primaryKey *key.Key) (T, error)

	// Indices returns the collection's ordered indices, primary
	// first.
	Indices() []Index[T]

	// SpatialIndices returns the collection's spatial indices, if
	// any.
	SpatialIndices() []SpatialIndex[T]
}
