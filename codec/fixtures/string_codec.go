// Package fixtures holds small Codec implementations used by komodo's
// own tests: a minimal codec is easier to reason about exactly than a
// realistic one, and keeps test failures about the store rather than
// about a test-only encoding scheme.
package fixtures

import (
	"github.com/clydebarrow/komodo/codec"
	"github.com/clydebarrow/komodo/key"
)

// StringCodec stores a string verbatim as both its own encoded bytes
// and its primary key. PrefixIndexName, if set, adds a second,
// non-unique ordered index whose key is Prefix concatenated with the
// string, enough to exercise a composite, non-unique secondary
// index without a second struct type.
type StringCodec struct {
	PrefixIndexName string
	Prefix          string
}

func (c StringCodec) Encode(data string, _ key.Key) ([]byte, error) {
	return []byte(data), nil
}

func (c StringCodec) Decode(b []byte, _ *key.Key) (string, error) {
	return string(b), nil
}

func (c StringCodec) Indices() []codec.Index[string] {
	indices := []codec.Index[string]{
		{
			Name:   "primary",
			Unique: true,
			KeyGen: func(data string) key.Key { return key.Of([]byte(data)) },
		},
	}
	if c.PrefixIndexName != "" {
		prefix := c.Prefix
		indices = append(indices, codec.Index[string]{
			Name:   c.PrefixIndexName,
			Unique: false,
			KeyGen: func(data string) key.Key { return key.Of([]byte(prefix + data)) },
		})
	}
	return indices
}

func (c StringCodec) SpatialIndices() []codec.SpatialIndex[string] { return nil }

// BadgeCodec declares a non-unique first index, for exercising
// construction-time rejection.
type BadgeCodec struct{}

func (c BadgeCodec) Encode(data string, _ key.Key) ([]byte, error) { return []byte(data), nil }
func (c BadgeCodec) Decode(b []byte, _ *key.Key) (string, error)   { return string(b), nil }

func (c BadgeCodec) Indices() []codec.Index[string] {
	return []codec.Index[string]{
		{Name: "primary", Unique: false, KeyGen: func(data string) key.Key { return key.Of([]byte(data)) }},
	}
}

func (c BadgeCodec) SpatialIndices() []codec.SpatialIndex[string] { return nil }
