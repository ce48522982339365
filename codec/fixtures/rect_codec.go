package fixtures

import (
	"encoding/binary"
	"fmt"

	"github.com/clydebarrow/komodo/codec"
	"github.com/clydebarrow/komodo/key"
	"github.com/clydebarrow/komodo/spatial"
)

// NamedRect is a name plus a rectangle, the fixture used to exercise
// ContainedBy against a real spatial index.
type NamedRect struct {
	Name string
	Rect spatial.Rect
}

// RectCodec encodes NamedRect as its name (length-prefixed) followed
// by its four int32 ordinates, and declares one unique ordered index
// on Name plus one spatial index on Rect.
type RectCodec struct{}

func (c RectCodec) Encode(data NamedRect, _ key.Key) ([]byte, error) {
	nameBytes := []byte(data.Name)
	buf := make([]byte, 4+len(nameBytes)+16)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(nameBytes)))
	copy(buf[4:], nameBytes)
	off := 4 + len(nameBytes)
	binary.BigEndian.PutUint32(buf[off:], uint32(data.Rect.MinX))
	binary.BigEndian.PutUint32(buf[off+4:], uint32(data.Rect.MinY))
	binary.BigEndian.PutUint32(buf[off+8:], uint32(data.Rect.MaxX))
	binary.BigEndian.PutUint32(buf[off+12:], uint32(data.Rect.MaxY))
	return buf, nil
}

func (c RectCodec) Decode(b []byte, _ *key.Key) (NamedRect, error) {
	if len(b) < 4 {
		return NamedRect{}, fmt.Errorf("fixtures: short NamedRect encoding")
	}
	n := binary.BigEndian.Uint32(b[0:4])
	if uint32(len(b)) < 4+n+16 {
		return NamedRect{}, fmt.Errorf("fixtures: truncated NamedRect encoding")
	}
	name := string(b[4 : 4+n])
	off := 4 + n
	r := spatial.Rect{
		MinX: int32(binary.BigEndian.Uint32(b[off:])),
		MinY: int32(binary.BigEndian.Uint32(b[off+4:])),
		MaxX: int32(binary.BigEndian.Uint32(b[off+8:])),
		MaxY: int32(binary.BigEndian.Uint32(b[off+12:])),
	}
	return NamedRect{Name: name, Rect: r}, nil
}

func (c RectCodec) Indices() []codec.Index[NamedRect] {
	return []codec.Index[NamedRect]{
		{Name: "primary", Unique: true, KeyGen: func(data NamedRect) key.Key { return key.Of([]byte(data.Name)) }},
	}
}

func (c RectCodec) SpatialIndices() []codec.SpatialIndex[NamedRect] {
	return []codec.SpatialIndex[NamedRect]{
		{Name: "bbox", KeyGen: func(data NamedRect) spatial.Rect { return data.Rect }},
	}
}
