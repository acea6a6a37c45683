package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_RejectsUnregisteredEmbedder(t *testing.T) {
	idx := New()
	err := idx.Add("clip", 1, []float32{1, 2, 3})
	require.Error(t, err)
}

func TestAdd_RejectsDimensionMismatch(t *testing.T) {
	idx := New()
	require.NoError(t, idx.EnsureEmbedder("clip", Config{Dimensions: 3}))

	err := idx.Add("clip", 1, []float32{1, 2})
	require.Error(t, err)
}

func TestSearch_FindsNearestByCosine(t *testing.T) {
	idx := New()
	require.NoError(t, idx.EnsureEmbedder("clip", Config{Dimensions: 2, Metric: MetricCosine}))

	require.NoError(t, idx.Add("clip", 1, []float32{1, 0}))
	require.NoError(t, idx.Add("clip", 2, []float32{0, 1}))
	require.NoError(t, idx.Add("clip", 3, []float32{0.99, 0.01}))

	results, err := idx.Search("clip", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []uint64{1, 3}, []uint64{results[0].DocID, results[1].DocID})
}

func TestRemove_ExcludesDocFromSearch(t *testing.T) {
	idx := New()
	require.NoError(t, idx.EnsureEmbedder("clip", Config{Dimensions: 2}))
	require.NoError(t, idx.Add("clip", 1, []float32{1, 0}))
	require.NoError(t, idx.Add("clip", 2, []float32{0.9, 0.1}))

	idx.Remove("clip", 1)

	results, err := idx.Search("clip", []float32{1, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(1), r.DocID)
	}
	assert.Equal(t, 1, idx.Count("clip"))
}

func TestEnsureEmbedder_RejectsDimensionChange(t *testing.T) {
	idx := New()
	require.NoError(t, idx.EnsureEmbedder("clip", Config{Dimensions: 3}))
	err := idx.EnsureEmbedder("clip", Config{Dimensions: 4})
	require.Error(t, err)
}

func TestCompact_DropsRemovedNodesAndResetsOrphanRatio(t *testing.T) {
	idx := New()
	require.NoError(t, idx.EnsureEmbedder("clip", Config{Dimensions: 2}))
	require.NoError(t, idx.Add("clip", 1, []float32{1, 0}))
	require.NoError(t, idx.Add("clip", 2, []float32{0, 1}))
	require.NoError(t, idx.Add("clip", 3, []float32{0.9, 0.1}))

	idx.Remove("clip", 1)
	idx.Remove("clip", 2)

	stats := idx.Stats("clip")
	assert.Equal(t, 3, stats.GraphNodes)
	assert.Equal(t, 2, stats.Orphans)
	assert.InDelta(t, 2.0/3.0, idx.OrphanRatio("clip"), 0.001)

	require.NoError(t, idx.Compact("clip"))

	stats = idx.Stats("clip")
	assert.Equal(t, 1, stats.GraphNodes)
	assert.Equal(t, 0, stats.Orphans)
	assert.Equal(t, 1, idx.Count("clip"))

	results, err := idx.Search("clip", []float32{0.9, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(3), results[0].DocID)
}

func TestCompact_UnknownEmbedderErrors(t *testing.T) {
	idx := New()
	err := idx.Compact("clip")
	require.Error(t, err)
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	idx := New()
	require.NoError(t, idx.EnsureEmbedder("clip", Config{Dimensions: 2}))
	require.NoError(t, idx.Add("clip", 1, []float32{1, 0}))
	require.NoError(t, idx.Add("clip", 2, []float32{0, 1}))
	require.NoError(t, idx.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Count("clip"))

	results, err := loaded.Search("clip", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].DocID)
}
