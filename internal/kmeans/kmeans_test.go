package kmeans

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKmeans(t *testing.T) {
	t.Run("TwoWellSeparatedClusters", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))

		// 50 points near (0,0), 50 near (10,10).
		var vectors []float32
		for i := 0; i < 50; i++ {
			vectors = append(vectors, rng.Float32()*0.1, rng.Float32()*0.1)
		}
		for i := 0; i < 50; i++ {
			vectors = append(vectors, 10+rng.Float32()*0.1, 10+rng.Float32()*0.1)
		}

		centroids := Train(rng, vectors, 2, 2, 20)
		require.NotNil(t, centroids)
		require.Len(t, centroids, 4)

		a := Nearest([]float32{0, 0}, centroids, 2)
		b := Nearest([]float32{10, 10}, centroids, 2)
		assert.NotEqual(t, a, b)
	})

	t.Run("TooFewVectors", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		assert.Nil(t, Train(rng, []float32{1, 2}, 2, 5, 10))
	})

	t.Run("NearestN", func(t *testing.T) {
		// Three centroids on a line; ordering by distance from the query.
		centroids := []float32{0, 0, 5, 0, 20, 0}
		got := NearestN([]float32{6, 0}, centroids, 2, 2)
		require.Len(t, got, 2)
		assert.Equal(t, 1, got[0])
		assert.Equal(t, 0, got[1])
	})

	t.Run("NearestNClamped", func(t *testing.T) {
		centroids := []float32{0, 0}
		got := NearestN([]float32{1, 1}, centroids, 2, 5)
		assert.Len(t, got, 1)
	})
}
