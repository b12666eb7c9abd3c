package goggles

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarvarunajvm/ideal-goggles-sub000/testutil"
)

func newTestStore(t *testing.T, dim int) *VectorStore {
	t.Helper()
	s, err := NewVectorStore(StoreConfig{Dimension: dim, Seed: 1})
	require.NoError(t, err)
	return s
}

func TestVectorStore(t *testing.T) {
	t.Run("AddAndSearchOrdering", func(t *testing.T) {
		s := newTestStore(t, 4)
		require.True(t, s.AddVector(1, []float32{1, 0, 0, 0}))
		require.True(t, s.AddVector(2, []float32{0, 1, 0, 0}))

		results := s.Search([]float32{0.9, 0.1, 0, 0}, 2)
		require.Len(t, results, 2)
		assert.Equal(t, int64(1), results[0].FileID)
		assert.InDelta(t, 0.994, results[0].Score, 0.001)
		assert.Equal(t, int64(2), results[1].FileID)
		assert.InDelta(t, 0.110, results[1].Score, 0.001)
	})

	t.Run("AddValidation", func(t *testing.T) {
		s := newTestStore(t, 4)
		assert.False(t, s.AddVector(0, []float32{1, 0, 0, 0}))
		assert.False(t, s.AddVector(-3, []float32{1, 0, 0, 0}))
		assert.False(t, s.AddVector(1, []float32{1, 0}))
		assert.False(t, s.AddVector(1, []float32{float32(math.NaN()), 0, 0, 0}))
		assert.Equal(t, 0, s.Count())
	})

	t.Run("StoredVectorIsNormalized", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{3, 4}))

		vec, ok := s.GetVector(1)
		require.True(t, ok)
		assert.InDelta(t, 0.6, vec[0], 1e-6)
		assert.InDelta(t, 0.8, vec[1], 1e-6)

		// Parallel to the input.
		assert.InDelta(t, 1.0, testutil.CosineSimilarity([]float32{3, 4}, vec), 1e-6)
	})

	t.Run("ZeroVectorStoredUnchanged", func(t *testing.T) {
		s := newTestStore(t, 3)
		require.True(t, s.AddVector(1, []float32{0, 0, 0}))

		vec, ok := s.GetVector(1)
		require.True(t, ok)
		assert.Equal(t, []float32{0, 0, 0}, vec)
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{1, 0}))

		assert.True(t, s.RemoveVector(1))
		assert.False(t, s.RemoveVector(1))
		assert.False(t, s.RemoveVector(99))

		_, ok := s.GetVector(1)
		assert.False(t, ok)
		assert.Equal(t, 0, s.Count())
	})

	t.Run("RemovedNeverReturned", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{1, 0}))
		require.True(t, s.AddVector(2, []float32{0.9, 0.1}))
		require.True(t, s.RemoveVector(1))

		results := s.Search([]float32{1, 0}, 5)
		require.Len(t, results, 1)
		assert.Equal(t, int64(2), results[0].FileID)
	})

	t.Run("ReAddSupersedes", func(t *testing.T) {
		s := newTestStore(t, 2)
		v1 := []float32{1, 0}
		v2 := []float32{0, 1}

		require.True(t, s.AddVector(1, v1))
		require.True(t, s.RemoveVector(1))
		require.True(t, s.AddVector(1, v2))

		vec, ok := s.GetVector(1)
		require.True(t, ok)
		assert.Equal(t, []float32{0, 1}, vec)

		// The old vector no longer influences ranking.
		results := s.Search(v1, 5)
		require.Len(t, results, 1)
		assert.Equal(t, int64(1), results[0].FileID)
		assert.InDelta(t, 0.0, results[0].Score, 1e-6)
	})

	t.Run("ReAddWithoutRemove", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{1, 0}))
		require.True(t, s.AddVector(1, []float32{0, 1}))

		assert.Equal(t, 1, s.Count())
		vec, _ := s.GetVector(1)
		assert.Equal(t, []float32{0, 1}, vec)

		stats := s.Stats()
		assert.Equal(t, 1, stats.TombstoneCount)
	})

	t.Run("SearchValidation", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{1, 0}))

		assert.Nil(t, s.Search([]float32{1, 0, 0}, 5))
		assert.Nil(t, s.Search([]float32{1, 0}, 0))
	})

	t.Run("SearchEmptyStore", func(t *testing.T) {
		s := newTestStore(t, 2)
		results := s.Search([]float32{1, 0}, 5)
		assert.Empty(t, results)
	})

	t.Run("ScoreThreshold", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{1, 0}))
		require.True(t, s.AddVector(2, []float32{0, 1}))

		results := s.Search([]float32{1, 0}, 5, WithScoreThreshold(0.5))
		require.Len(t, results, 1)
		assert.Equal(t, int64(1), results[0].FileID)
	})

	t.Run("BatchSearch", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{1, 0}))
		require.True(t, s.AddVector(2, []float32{0, 1}))

		rows := s.BatchSearch([][]float32{{1, 0}, {0, 1}, {1, 0, 0}}, 1)
		require.Len(t, rows, 3)
		require.Len(t, rows[0], 1)
		assert.Equal(t, int64(1), rows[0][0].FileID)
		require.Len(t, rows[1], 1)
		assert.Equal(t, int64(2), rows[1][0].FileID)
		assert.Empty(t, rows[2])
	})

	t.Run("BatchSearchEmptyStore", func(t *testing.T) {
		s := newTestStore(t, 2)
		rows := s.BatchSearch([][]float32{{1, 0}}, 3)
		require.Len(t, rows, 1)
		assert.Empty(t, rows[0])
	})

	t.Run("RebuildReclaimsTombstones", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{1, 0}))
		require.True(t, s.AddVector(2, []float32{0, 1}))
		require.True(t, s.AddVector(3, []float32{0.5, 0.5}))
		require.True(t, s.RemoveVector(2))

		assert.Greater(t, s.TombstoneRatio(), 0.0)
		require.NoError(t, s.RebuildIndex(context.Background()))

		stats := s.Stats()
		assert.Equal(t, 2, stats.TotalVectors)
		assert.Equal(t, 0, stats.TombstoneCount)
		assert.Equal(t, 0.0, s.TombstoneRatio())

		// Live records survive with their mappings intact.
		results := s.Search([]float32{1, 0}, 3)
		require.Len(t, results, 2)
		assert.Equal(t, int64(1), results[0].FileID)

		_, ok := s.GetVector(2)
		assert.False(t, ok)
	})

	t.Run("StatsTracksSearches", func(t *testing.T) {
		s := newTestStore(t, 2)
		require.True(t, s.AddVector(1, []float32{1, 0}))

		s.Search([]float32{1, 0}, 1)
		s.Search([]float32{0, 1}, 1)

		stats := s.Stats()
		assert.Equal(t, int64(2), stats.SearchCount)
		assert.Equal(t, 1, stats.TotalVectors)
		assert.Equal(t, "Flat", stats.Representation)
		assert.GreaterOrEqual(t, stats.AvgSearchTimeMS, 0.0)
	})
}
