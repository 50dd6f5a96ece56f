package tradeengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexMapSetAndLookupRoundTrips(t *testing.T) {
	m, err := NewIndexMap(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Set("order-1", 3))

	idx, ok, err := m.Lookup("order-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, idx)
}

func TestIndexMapLookupFallsBackToIndexOneForUnknownOrder(t *testing.T) {
	m, err := NewIndexMap(t.TempDir())
	require.NoError(t, err)

	idx, ok, err := m.Lookup("never-seen")
	require.NoError(t, err)
	require.False(t, ok)
	require.EqualValues(t, 1, idx)
}

func TestIndexMapAllIndicesDedupes(t *testing.T) {
	m, err := NewIndexMap(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Set("order-1", 2))
	require.NoError(t, m.Set("order-2", 2))
	require.NoError(t, m.Set("order-3", 5))

	indices, err := m.AllIndices()
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{2, 5}, indices)
}

func TestIndexMapPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first, err := NewIndexMap(dir)
	require.NoError(t, err)
	require.NoError(t, first.Set("order-1", 7))

	second, err := NewIndexMap(dir)
	require.NoError(t, err)
	idx, ok, err := second.Lookup("order-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 7, idx)
}
