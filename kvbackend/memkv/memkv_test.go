package memkv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clydebarrow/komodo/kvbackend"
	"github.com/clydebarrow/komodo/kvbackend/memkv"
)

func put(t *testing.T, m kvbackend.OrderedMap, k, v string) {
	t.Helper()
	require.NoError(t, m.Put([]byte(k), []byte(v)))
}

func TestGetPutDelete(t *testing.T) {
	b := memkv.New()
	m, err := b.Map("widgets")
	require.NoError(t, err)

	_, ok, err := m.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	put(t, m, "a", "1")
	v, ok, err := m.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	require.NoError(t, m.Delete([]byte("a")))
	_, ok, err = m.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMapIsSharedByName(t *testing.T) {
	b := memkv.New()
	m1, err := b.Map("widgets")
	require.NoError(t, err)
	m2, err := b.Map("widgets")
	require.NoError(t, err)

	put(t, m1, "a", "1")
	v, ok, err := m2.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(v))
}

func TestCursorFirstLastCeilingFloor(t *testing.T) {
	b := memkv.New()
	m, err := b.Map("widgets")
	require.NoError(t, err)
	for _, k := range []string{"b", "d", "f"} {
		put(t, m, k, k)
	}

	c, err := m.NewCursor()
	require.NoError(t, err)
	defer c.Close()

	k, _, err := c.First()
	require.NoError(t, err)
	require.Equal(t, "b", string(k))

	k, _, err = c.Last()
	require.NoError(t, err)
	require.Equal(t, "f", string(k))

	k, _, err = c.Ceiling([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "d", string(k))

	k, _, err = c.Ceiling([]byte("d"))
	require.NoError(t, err)
	require.Equal(t, "d", string(k))

	k, _, err = c.Floor([]byte("e"))
	require.NoError(t, err)
	require.Equal(t, "d", string(k))

	_, _, err = c.Ceiling([]byte("g"))
	require.ErrorIs(t, err, kvbackend.ErrNotFound)

	_, _, err = c.Floor([]byte("a"))
	require.ErrorIs(t, err, kvbackend.ErrNotFound)
}

func TestCursorNextPrev(t *testing.T) {
	b := memkv.New()
	m, err := b.Map("widgets")
	require.NoError(t, err)
	for _, k := range []string{"b", "d", "f"} {
		put(t, m, k, k)
	}

	c, err := m.NewCursor()
	require.NoError(t, err)
	defer c.Close()

	k, _, err := c.Next([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "d", string(k))

	k, _, err = c.Next([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "d", string(k))

	_, _, err = c.Next([]byte("f"))
	require.ErrorIs(t, err, kvbackend.ErrNotFound)

	k, _, err = c.Prev([]byte("f"))
	require.NoError(t, err)
	require.Equal(t, "d", string(k))

	_, _, err = c.Prev([]byte("b"))
	require.ErrorIs(t, err, kvbackend.ErrNotFound)
}

func TestCursorObservesConcurrentMutation(t *testing.T) {
	b := memkv.New()
	m, err := b.Map("widgets")
	require.NoError(t, err)
	put(t, m, "b", "b")
	put(t, m, "d", "d")

	c, err := m.NewCursor()
	require.NoError(t, err)
	defer c.Close()

	k, _, err := c.First()
	require.NoError(t, err)
	require.Equal(t, "b", string(k))

	// Delete the row the cursor is sitting on, then insert a new first
	// row; the cursor is not a snapshot, so First() now sees the new
	// state rather than the one captured when the cursor was opened.
	require.NoError(t, m.Delete([]byte("b")))
	put(t, m, "a", "a")

	k, _, err = c.First()
	require.NoError(t, err)
	require.Equal(t, "a", string(k))
}

func TestDeleteMapAndListMaps(t *testing.T) {
	b := memkv.New()
	_, err := b.Map("widgets")
	require.NoError(t, err)
	_, err = b.Map("gadgets")
	require.NoError(t, err)

	names, err := b.ListMaps()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"widgets", "gadgets"}, names)

	require.NoError(t, b.DeleteMap("widgets"))
	names, err = b.ListMaps()
	require.NoError(t, err)
	require.Equal(t, []string{"gadgets"}, names)
}
