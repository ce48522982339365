package komodo_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	komodo "github.com/clydebarrow/komodo"
	"github.com/clydebarrow/komodo/codec/fixtures"
	"github.com/clydebarrow/komodo/key"
	"github.com/clydebarrow/komodo/komodoerr"
)

func openMemStore(t *testing.T) *komodo.Store {
	t.Helper()
	s, err := komodo.Open(komodo.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertStrings0to(t *testing.T, c *komodo.Collection[string], n int) {
	t.Helper()
	for i := 0; i <= n; i++ {
		_, err := c.Insert(fmt.Sprintf("String %d", i))
		require.NoError(t, err)
	}
}

func drain(t *testing.T, cur *komodo.Cursor[string]) []string {
	t.Helper()
	defer cur.Close()
	var out []string
	for cur.HasNext() {
		v, err := cur.Next()
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

// Scenario 1: lexicographic ordering of "String 0".."String 10".
func TestScenarioLexicographicOrdering(t *testing.T) {
	store := openMemStore(t)
	c, err := komodo.NewCollection[string](store, "strings", fixtures.StringCodec{})
	require.NoError(t, err)
	insertStrings0to(t, c, 10)

	cur, err := c.Query(komodo.DefaultQuerySpec())
	require.NoError(t, err)
	got := drain(t, cur)

	want := []string{
		"String 0", "String 1", "String 10", "String 2", "String 3",
		"String 4", "String 5", "String 6", "String 7", "String 8", "String 9",
	}
	assert.Equal(t, want, got)
}

// Scenario 2: reverse + start + count.
func TestScenarioReverseStartCount(t *testing.T) {
	store := openMemStore(t)
	c, err := komodo.NewCollection[string](store, "strings", fixtures.StringCodec{})
	require.NoError(t, err)
	insertStrings0to(t, c, 10)

	spec := komodo.DefaultQuerySpec()
	spec.Reverse = true
	spec.Start = 2
	spec.Count = 2
	cur, err := c.Query(spec)
	require.NoError(t, err)
	got := drain(t, cur)

	assert.Equal(t, []string{"String 7", "String 6"}, got)
}

// Scenario 3: prefixed non-unique composite-key range. Values are
// zero-padded so no value is a byte-prefix of another; that keeps the
// composite key's appended primary-key suffix from ever needing to
// break a tie, so ordering is exactly the numeric order the zero
// padding implies.
func TestScenarioPrefixedNonUniqueRange(t *testing.T) {
	store := openMemStore(t)
	c, err := komodo.NewCollection[string](store, "items", fixtures.StringCodec{
		PrefixIndexName: "byPrefix",
		Prefix:          "1.",
	})
	require.NoError(t, err)
	for i := 0; i <= 10; i++ {
		_, err := c.Insert(fmt.Sprintf("item-%02d", i))
		require.NoError(t, err)
	}

	spec := komodo.QuerySpec{
		IndexName: "byPrefix",
		Lo:        key.Of([]byte("1.item-03")),
		Hi:        key.Of([]byte("1.item-08")),
		Start:     2,
		Count:     komodo.Unlimited,
	}
	cur, err := c.Query(spec)
	require.NoError(t, err)
	got := drain(t, cur)

	want := []string{"item-05", "item-06", "item-07", "item-08"}
	assert.Equal(t, want, got)
}

// Scenario 4: a row due to be yielded is deleted mid-scan; the cursor
// skips it silently and terminates on the bound, not on a dangling
// physical key.
func TestScenarioConcurrentDeletionDuringScan(t *testing.T) {
	store := openMemStore(t)
	c, err := komodo.NewCollection[string](store, "strings", fixtures.StringCodec{})
	require.NoError(t, err)
	insertStrings0to(t, c, 9)

	spec := komodo.DefaultQuerySpec()
	spec.Hi = key.Of([]byte("String 7"))
	cur, err := c.Query(spec)
	require.NoError(t, err)
	defer cur.Close()

	var got []string
	for i := 0; i < 3; i++ {
		require.True(t, cur.HasNext())
		v, err := cur.Next()
		require.NoError(t, err)
		got = append(got, v)
	}

	require.NoError(t, c.Delete(key.Of([]byte("String 7"))))

	for cur.HasNext() {
		v, err := cur.Next()
		require.NoError(t, err)
		got = append(got, v)
	}

	want := []string{"String 0", "String 1", "String 2", "String 3", "String 4", "String 5", "String 6"}
	assert.Equal(t, want, got)
}

// Scenario 5: a codec whose first index is not unique fails
// construction before any backend write happens.
func TestScenarioNonUniquePrimaryRejectedAtConstruction(t *testing.T) {
	store := openMemStore(t)
	_, err := komodo.NewCollection[string](store, "badges", fixtures.BadgeCodec{})
	require.Error(t, err)
	assert.IsType(t, &komodoerr.NonUniquePrimary{}, err)
}

// Scenario 6: inserting the same primary key twice fails the second
// time with Duplicate, and leaves the first row untouched.
func TestScenarioDuplicateInsertFails(t *testing.T) {
	store := openMemStore(t)
	c, err := komodo.NewCollection[string](store, "strings", fixtures.StringCodec{})
	require.NoError(t, err)

	_, err = c.Insert("String 0")
	require.NoError(t, err)
	_, err = c.Insert("String 0")
	require.Error(t, err)

	data, found, err := c.Read(key.Of([]byte("String 0")))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "String 0", data)

	n, err := c.Count("primary", key.START, key.END)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}
