package komodo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clydebarrow/komodo/codec/fixtures"
	"github.com/clydebarrow/komodo/key"
)

// TestRepairRemovesStaleAndRestoresMissingSecondaryEntries drives the
// two drift modes Repair exists to fix, each simulated by poking the
// secondary map directly rather than going through Collection (an
// unclean shutdown between two steps of a multi-map write is exactly
// what leaves these half-done on memkv).
func TestRepairRemovesStaleAndRestoresMissingSecondaryEntries(t *testing.T) {
	store, err := Open(Config{})
	require.NoError(t, err)
	defer store.Close()

	c, err := NewCollection[string](store, "words", fixtures.StringCodec{
		PrefixIndexName: "byPrefix",
		Prefix:          "x.",
	})
	require.NoError(t, err)

	_, err = c.Insert("alpha")
	require.NoError(t, err)
	_, err = c.Insert("beta")
	require.NoError(t, err)

	secMap, err := c.indexMap(c.secondaryMapName("byPrefix"))
	require.NoError(t, err)

	ghostKey := key.Of([]byte("x.ghost"))
	require.NoError(t, secMap.Put(ghostKey.Bytes(), key.Of([]byte("ghost")).Bytes()))

	betaKey := storedKey(c.secondaries[0], "beta", key.Of([]byte("beta")))
	require.NoError(t, secMap.Delete(betaKey.Bytes()))

	require.NoError(t, c.Repair())

	_, found, err := secMap.Get(ghostKey.Bytes())
	require.NoError(t, err)
	require.False(t, found, "stale secondary entry should be removed")

	_, found, err = secMap.Get(betaKey.Bytes())
	require.NoError(t, err)
	require.True(t, found, "missing secondary entry should be restored")
}
