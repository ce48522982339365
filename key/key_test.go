package key_test

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/clydebarrow/komodo/key"
)

func TestSentinelOrdering(t *testing.T) {
	real := key.Of([]byte("x"))
	assert.True(t, key.START.Compare(real) < 0)
	assert.True(t, real.Compare(key.START) > 0)
	assert.True(t, key.END.Compare(real) > 0)
	assert.True(t, real.Compare(key.END) < 0)
	assert.True(t, key.START.Compare(key.START) == 0)
	assert.True(t, key.END.Compare(key.END) == 0)
	assert.True(t, key.START.Compare(key.END) < 0)
	assert.True(t, key.END.Compare(key.START) > 0)
}

func TestPrefixOf(t *testing.T) {
	p := key.Of([]byte("ab"))
	assert.True(t, p.IsPrefixOf(key.Of([]byte("ab"))))
	assert.True(t, p.IsPrefixOf(key.Of([]byte("abc"))))
	assert.False(t, p.IsPrefixOf(key.Of([]byte("a"))))
	assert.False(t, p.IsPrefixOf(key.Of([]byte("ba"))))
	assert.False(t, key.START.IsPrefixOf(key.Of([]byte("ab"))))
	assert.False(t, key.Of([]byte("ab")).IsPrefixOf(key.END))
}

func TestShorterPrefixSortsFirst(t *testing.T) {
	a := key.Of([]byte("ab"))
	b := key.Of([]byte("abc"))
	assert.True(t, a.Compare(b) < 0)
	assert.True(t, b.Compare(a) > 0)
}

func TestComposeOrderIsMostSignificantFirst(t *testing.T) {
	low := key.MustCompose(key.Int32(1), key.Int32(2))
	high := key.MustCompose(key.Int32(1), key.Int32(3))
	assert.True(t, low.Compare(high) < 0)

	lowFirst := key.MustCompose(key.Int32(1), key.Int32(100))
	highFirst := key.MustCompose(key.Int32(2), key.Int32(0))
	assert.True(t, lowFirst.Compare(highFirst) < 0)
}

func TestComposeSignedIntegerOrdering(t *testing.T) {
	neg := key.MustCompose(key.Int32(-5))
	zero := key.MustCompose(key.Int32(0))
	pos := key.MustCompose(key.Int32(5))
	assert.True(t, neg.Compare(zero) < 0)
	assert.True(t, zero.Compare(pos) < 0)
	assert.True(t, neg.Compare(pos) < 0)

	negL := key.MustCompose(key.Int64(-1))
	posL := key.MustCompose(key.Int64(1))
	assert.True(t, negL.Compare(posL) < 0)
}

func TestComposeInstantOrdering(t *testing.T) {
	t1 := time.UnixMilli(1000)
	t2 := time.UnixMilli(2000)
	k1 := key.MustCompose(key.Instant(t1))
	k2 := key.MustCompose(key.Instant(t2))
	assert.True(t, k1.Compare(k2) < 0)
}

func TestComposeRejectsAmbiguousVariableLengthPart(t *testing.T) {
	_, err := key.Compose(key.String("a"), key.Int32(1))
	require.ErrorIs(t, err, key.ErrAmbiguousComposite)

	_, err = key.Compose(key.Int32(1), key.String("trailing is fine"))
	require.NoError(t, err)
}

func TestConcatIsNonUniqueStoredKeyShape(t *testing.T) {
	logical := key.Of([]byte("v"))
	pk := key.Of([]byte("pk"))
	combined := key.Concat(logical, pk)
	assert.Equal(t, []byte("vpk"), combined.Bytes())
}

// Property: over random real (non-sentinel) keys, sorting with Compare
// yields a sequence in which every adjacent pair compares <= 0, and
// Equals agrees with Compare == 0 for each such pair.
func TestOrderingIsTotalAndConsistent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(rt, "n")
		raw := make([][]byte, n)
		for i := range raw {
			raw[i] = []byte(rapid.StringN(0, 6, -1).Draw(rt, "s"))
		}
		keys := make([]key.Key, n)
		for i, b := range raw {
			keys[i] = key.Of(b)
		}

		sorted := make([]int, n)
		for i := range sorted {
			sorted[i] = i
		}
		sort.Slice(sorted, func(a, b int) bool {
			return keys[sorted[a]].Compare(keys[sorted[b]]) < 0
		})

		for i := 1; i < n; i++ {
			a, b := keys[sorted[i-1]], keys[sorted[i]]
			if !(a.Compare(b) <= 0) {
				rt.Fatalf("sort produced out-of-order pair: %v, %v", a, b)
			}
			if a.Equals(b) != (a.Compare(b) == 0) {
				rt.Fatalf("Equals/Compare disagree for %v, %v", a, b)
			}
		}
	})
}

func TestPrefixRelationHoldsForRandomConcatenation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := []byte(rapid.StringN(0, 8, -1).Draw(rt, "prefix"))
		suffix := []byte(rapid.StringN(0, 8, -1).Draw(rt, "suffix"))
		whole := append(append([]byte{}, p...), suffix...)

		pk := key.Of(p)
		wk := key.Of(whole)
		if !pk.IsPrefixOf(wk) {
			rt.Fatalf("%q should be a prefix of %q", p, whole)
		}
	})
}
