package komodo_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	komodo "github.com/clydebarrow/komodo"
	"github.com/clydebarrow/komodo/codec/fixtures"
	"github.com/clydebarrow/komodo/key"
)

func drainQuery(t require.TestingT, cur *komodo.Cursor[string]) []string {
	var out []string
	for cur.HasNext() {
		v, err := cur.Next()
		require.NoError(t, err)
		out = append(out, v)
	}
	require.NoError(t, cur.Close())
	return out
}

// distinctStrings drops later duplicates, keeping each value's first
// occurrence, so generated test input never asks Insert to violate
// primary-key uniqueness.
func distinctStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// TestPropertyQueryIsSortedAndComplete checks invariant-level
// properties rather than one hand-picked example: whatever set of
// strings gets inserted, a full ascending query returns them
// lexicographically sorted with no duplicates and no omissions.
func TestPropertyQueryIsSortedAndComplete(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := distinctStrings(rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 20).Draw(rt, "values"))

		store, err := komodo.Open(komodo.Config{})
		require.NoError(rt, err)
		defer store.Close()

		c, err := komodo.NewCollection[string](store, "words", fixtures.StringCodec{})
		require.NoError(rt, err)

		for _, v := range values {
			_, err := c.Insert(v)
			require.NoError(rt, err)
		}

		cur, err := c.Query(komodo.DefaultQuerySpec())
		require.NoError(rt, err)
		var got []string
		for cur.HasNext() {
			v, err := cur.Next()
			require.NoError(rt, err)
			got = append(got, v)
		}
		require.NoError(rt, cur.Close())

		require.Len(rt, got, len(values))
		for i := 1; i < len(got); i++ {
			require.Less(rt, got[i-1], got[i])
		}

		n, err := c.Count("primary", key.START, key.END)
		require.NoError(rt, err)
		require.Equal(rt, uint64(len(values)), n)
	})
}

// TestPropertyDeleteRemovesFromEveryIndex checks invariant 3 (no
// secondary entry outlives its primary row): after DeleteRange drains
// a collection with a non-unique secondary index, both the primary
// and secondary counts are zero.
func TestPropertyDeleteRemovesFromEveryIndex(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := distinctStrings(rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 15).Draw(rt, "values"))

		store, err := komodo.Open(komodo.Config{})
		require.NoError(rt, err)
		defer store.Close()

		c, err := komodo.NewCollection[string](store, "words", fixtures.StringCodec{
			PrefixIndexName: "byPrefix",
			Prefix:          "x.",
		})
		require.NoError(rt, err)

		for _, v := range values {
			_, err := c.Insert(v)
			require.NoError(rt, err)
		}

		cur, err := c.DeleteRange(komodo.DefaultQuerySpec())
		require.NoError(rt, err)
		for cur.HasNext() {
			_, err := cur.Next()
			require.NoError(rt, err)
		}
		require.NoError(rt, cur.Close())

		n, err := c.Count("primary", key.START, key.END)
		require.NoError(rt, err)
		require.Equal(rt, uint64(0), n)

		n, err = c.Count("byPrefix", key.START, key.END)
		require.NoError(rt, err)
		require.Equal(rt, uint64(0), n)
	})
}

// TestPropertyReverseEqualsReversedForward checks that, for any
// concrete (non-sentinel) Lo/Hi bound, a reverse scan yields exactly
// the reverse of what a forward scan over the same bound yields. This
// only holds at Stride 1: stride sampling is phase-anchored to
// whichever end the scan starts from, so a strided forward scan and a
// strided reverse scan over the same range are not in general
// reverses of each other (see TestPropertyStrideSamplesEveryNth for
// stride's own property).
func TestPropertyReverseEqualsReversedForward(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := distinctStrings(rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 0, 20).Draw(rt, "values"))

		store, err := komodo.Open(komodo.Config{})
		require.NoError(rt, err)
		defer store.Close()

		c, err := komodo.NewCollection[string](store, "words", fixtures.StringCodec{})
		require.NoError(rt, err)
		for _, v := range values {
			_, err := c.Insert(v)
			require.NoError(rt, err)
		}

		lo := rapid.StringMatching(`[a-z]{0,6}`).Draw(rt, "lo")
		hi := rapid.StringMatching(`[a-z]{0,6}`).Draw(rt, "hi")
		if lo > hi {
			lo, hi = hi, lo
		}

		spec := komodo.QuerySpec{Lo: key.Of([]byte(lo)), Hi: key.Of([]byte(hi)), Count: komodo.Unlimited, Stride: 1}
		fwdCur, err := c.Query(spec)
		require.NoError(rt, err)
		fwd := drainQuery(rt, fwdCur)

		spec.Reverse = true
		revCur, err := c.Query(spec)
		require.NoError(rt, err)
		rev := drainQuery(rt, revCur)

		reversed := make([]string, len(fwd))
		for i, v := range fwd {
			reversed[len(fwd)-1-i] = v
		}
		require.Equal(rt, reversed, rev)
	})
}

// TestPropertyStrideSamplesEveryNth checks that a forward scan with
// Stride n yields exactly every n-th element of the equivalent
// Stride-1 scan over the same bound (indices 0, n, 2n, ...).
func TestPropertyStrideSamplesEveryNth(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := distinctStrings(rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 1, 20).Draw(rt, "values"))
		stride := rapid.IntRange(1, 4).Draw(rt, "stride")

		store, err := komodo.Open(komodo.Config{})
		require.NoError(rt, err)
		defer store.Close()

		c, err := komodo.NewCollection[string](store, "words", fixtures.StringCodec{})
		require.NoError(rt, err)
		for _, v := range values {
			_, err := c.Insert(v)
			require.NoError(rt, err)
		}

		all, err := c.Query(komodo.DefaultQuerySpec())
		require.NoError(rt, err)
		everyone := drainQuery(rt, all)

		spec := komodo.DefaultQuerySpec()
		spec.Stride = stride
		strided, err := c.Query(spec)
		require.NoError(rt, err)
		got := drainQuery(rt, strided)

		var want []string
		for i := 0; i < len(everyone); i += stride {
			want = append(want, everyone[i])
		}
		require.Equal(rt, want, got)
	})
}

// TestPropertyUpdateIsIdempotentOnUnchangedData checks that calling
// Update twice with the same value leaves the collection in the same
// observable state as calling it once.
func TestPropertyUpdateIsIdempotentOnUnchangedData(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "value")

		store, err := komodo.Open(komodo.Config{})
		require.NoError(rt, err)
		defer store.Close()

		c, err := komodo.NewCollection[string](store, "words", fixtures.StringCodec{})
		require.NoError(rt, err)

		_, err = c.Update(v)
		require.NoError(rt, err)
		_, err = c.Update(v)
		require.NoError(rt, err)

		n, err := c.Count("primary", key.START, key.END)
		require.NoError(rt, err)
		require.Equal(rt, uint64(1), n)

		data, found, err := c.Read(key.Of([]byte(v)))
		require.NoError(rt, err)
		require.True(rt, found)
		require.Equal(rt, v, data)
	})
}
