package quantization

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/math32"
	"github.com/sarvarunajvm/ideal-goggles-sub000/testutil"
)

func TestProductQuantizer(t *testing.T) {
	t.Run("InvalidShape", func(t *testing.T) {
		_, err := New(10, 3, 256)
		assert.Error(t, err)

		_, err = New(8, 2, 300)
		assert.Error(t, err)
	})

	t.Run("UntrainedEncode", func(t *testing.T) {
		pq, err := New(8, 2, 16)
		require.NoError(t, err)
		assert.False(t, pq.Trained())

		_, err = pq.Encode(make([]float32, 8))
		assert.Error(t, err)
	})

	t.Run("EncodeDecodeApproximation", func(t *testing.T) {
		const dim = 16
		rng := testutil.NewRNG(7)
		vectors := rng.UnitVectors(500, dim)

		flat := make([]float32, 0, len(vectors)*dim)
		for _, v := range vectors {
			flat = append(flat, v...)
		}

		pq, err := New(dim, 4, 64)
		require.NoError(t, err)
		require.NoError(t, pq.Train(rand.New(rand.NewSource(1)), flat))
		require.True(t, pq.Trained())
		assert.Equal(t, 4, pq.CodeSize())

		// Reconstruction should stay close in angle for in-sample data.
		for _, v := range vectors[:20] {
			codes, err := pq.Encode(v)
			require.NoError(t, err)
			require.Len(t, codes, 4)

			decoded, err := pq.Decode(codes)
			require.NoError(t, err)
			assert.Greater(t, testutil.CosineSimilarity(v, decoded), 0.7)
		}
	})

	t.Run("AdcMatchesDecodedDistance", func(t *testing.T) {
		const dim = 8
		rng := testutil.NewRNG(11)
		vectors := rng.UnitVectors(200, dim)

		flat := make([]float32, 0, len(vectors)*dim)
		for _, v := range vectors {
			flat = append(flat, v...)
		}

		pq, err := New(dim, 2, 32)
		require.NoError(t, err)
		require.NoError(t, pq.Train(rand.New(rand.NewSource(1)), flat))

		query := rng.UnitVector(dim)
		table, err := pq.BuildDistanceTable(query)
		require.NoError(t, err)

		for _, v := range vectors[:10] {
			codes, err := pq.Encode(v)
			require.NoError(t, err)

			decoded, err := pq.Decode(codes)
			require.NoError(t, err)

			// ADC equals the exact distance to the reconstruction.
			assert.InDelta(t, float64(math32.SquaredL2(query, decoded)), float64(pq.AdcDistance(table, codes)), 1e-4)
		}
	})

	t.Run("SerializationRoundTrip", func(t *testing.T) {
		const dim = 8
		rng := testutil.NewRNG(3)
		vectors := rng.UnitVectors(100, dim)

		flat := make([]float32, 0, len(vectors)*dim)
		for _, v := range vectors {
			flat = append(flat, v...)
		}

		pq, err := New(dim, 4, 16)
		require.NoError(t, err)
		require.NoError(t, pq.Train(rand.New(rand.NewSource(1)), flat))

		var buf bytes.Buffer
		require.NoError(t, pq.WriteTo(&buf))

		loaded, err := ReadFrom(&buf)
		require.NoError(t, err)
		require.True(t, loaded.Trained())

		codes, err := pq.Encode(vectors[0])
		require.NoError(t, err)
		loadedCodes, err := loaded.Encode(vectors[0])
		require.NoError(t, err)
		assert.Equal(t, codes, loadedCodes)
	})
}
