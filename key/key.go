// Package key implements the store's immutable, totally ordered byte
// key: lexicographic comparison, the two sentinel values used to mean
// "no bound", the prefix relation that makes prefix queries and
// composite keys work, and big-endian composite-key construction.
package key

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/clydebarrow/komodo/internal/numeric"
)

// ErrAmbiguousComposite is returned by Compose when a variable-length
// string part would not be the last part of the composite key. Without
// a length prefix such a key's ordering (and prefix semantics) depends
// on where the following part's bytes happen to fall, so komodo forbids
// it outright rather than documenting it as caller responsibility.
var ErrAmbiguousComposite = errors.New("key: variable-length string part must be the final part of a composite key")

type sentinel int8

const (
	notSentinel   sentinel = 0
	startSentinel sentinel = -1
	endSentinel   sentinel = 1
)

// Key is an immutable byte string with a total order. The zero value is
// not a valid Key; use START, END, or Of/Compose to construct one.
type Key struct {
	b []byte
	s sentinel
}

// START is strictly less than every non-START key, and equal only to
// itself.
var START = Key{s: startSentinel}

// END is strictly greater than every non-END key, and equal only to
// itself.
var END = Key{s: endSentinel}

// Of wraps raw bytes as a real (non-sentinel) Key. The byte slice is
// retained, not copied; callers that mutate their buffer afterwards
// must pass a copy.
func Of(b []byte) Key {
	return Key{b: b}
}

// IsSentinel reports whether k is START or END.
func (k Key) IsSentinel() bool {
	return k.s != notSentinel
}

// Bytes returns the underlying byte slice. It is not meaningful for a
// sentinel Key and returns nil in that case.
func (k Key) Bytes() []byte {
	if k.s != notSentinel {
		return nil
	}
	return k.b
}

// Equals reports whether k and other compare equal.
func (k Key) Equals(other Key) bool {
	return k.Compare(other) == 0
}

// Compare returns a negative number if k < other, zero if equal, and a
// positive number if k > other. Bytes compare as unsigned, shorter of
// two prefix-matching keys sorts first. START sorts below every
// non-START key and equals only itself; END sorts above every non-END
// key and equals only itself.
func (k Key) Compare(other Key) int {
	if k.s == startSentinel {
		if other.s == startSentinel {
			return 0
		}
		return -1
	}
	if k.s == endSentinel {
		if other.s == endSentinel {
			return 0
		}
		return 1
	}
	if other.s == startSentinel {
		return 1
	}
	if other.s == endSentinel {
		return -1
	}
	return bytes.Compare(k.b, other.b)
}

// IsPrefixOf reports whether k is a prefix of other: |k| <= |other| and
// the first |k| bytes of other equal k's bytes. Sentinels are never a
// prefix of, and have no prefix among, real keys.
func (k Key) IsPrefixOf(other Key) bool {
	if k.s != notSentinel || other.s != notSentinel {
		return false
	}
	if len(k.b) > len(other.b) {
		return false
	}
	return bytes.Equal(k.b, other.b[:len(k.b)])
}

func (k Key) String() string {
	switch k.s {
	case startSentinel:
		return "START"
	case endSentinel:
		return "END"
	default:
		return fmt.Sprintf("%x", k.b)
	}
}

// Part is one component of a composite key, already encoded to its
// big-endian byte representation.
type Part struct {
	b        []byte
	variable bool
}

// Int32 encodes a signed 32-bit integer as 4 big-endian bytes, with the
// sign bit flipped so that the unsigned byte ordering erigon-lib's
// backends impose matches signed numeric ordering.
func Int32(v int32) Part {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v)^0x80000000)
	return Part{b: buf[:]}
}

// Int64 encodes a signed 64-bit integer as 8 big-endian bytes, sign-bit
// flipped as in Int32.
func Int64(v int64) Part {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)^0x8000000000000000)
	return Part{b: buf[:]}
}

// Uint64 encodes an unsigned 64-bit integer as 8 big-endian bytes with
// no sign adjustment: plain unsigned big-endian already sorts
// correctly for unsigned values, unlike Int64's signed integers.
func Uint64(v uint64) Part {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return Part{b: buf[:]}
}

// Instant encodes a timestamp as its epoch-millisecond value, 8
// big-endian bytes, sign-bit flipped as in Int64.
func Instant(t time.Time) Part {
	sec := t.Unix()
	fromSec := uint64(sec) * 1000
	fromNanos := uint64(t.Nanosecond() / int(time.Millisecond))
	millis, overflow := numeric.SafeAdd(fromSec, fromNanos)
	if overflow {
		millis = uint64(numeric.MaxInt64)
	}
	return Int64(int64(millis))
}

// String encodes s as its raw UTF-8 bytes with no length prefix. Because
// it carries no length prefix, a String part must be the last part
// passed to Compose.
func String(s string) Part {
	return Part{b: []byte(s), variable: true}
}

// Bytes encodes a raw byte sequence with no length prefix, subject to
// the same final-part-only restriction as String.
func Bytes(b []byte) Part {
	return Part{b: b, variable: true}
}

// Compose concatenates the big-endian encodings of parts, most
// significant first, into a single Key. It fails with
// ErrAmbiguousComposite if a variable-length part (String/Bytes)
// appears anywhere but last.
func Compose(parts ...Part) (Key, error) {
	total := 0
	for i, p := range parts {
		if p.variable && i != len(parts)-1 {
			return Key{}, ErrAmbiguousComposite
		}
		total += len(p.b)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p.b...)
	}
	return Of(out), nil
}

// MustCompose is like Compose but panics on error; for call sites that
// build composites from constants known not to be ambiguous.
func MustCompose(parts ...Part) Key {
	k, err := Compose(parts...)
	if err != nil {
		panic(err)
	}
	return k
}

// Concat appends the raw bytes of suffix onto the bytes of prefix,
// producing the non-unique-index storedKey encoding
// (keyGen(data).bytes ‖ primaryKey.bytes). Neither operand may be a
// sentinel.
func Concat(prefix, suffix Key) Key {
	out := make([]byte, 0, len(prefix.b)+len(suffix.b))
	out = append(out, prefix.b...)
	out = append(out, suffix.b...)
	return Of(out)
}
