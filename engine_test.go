package goggles

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarvarunajvm/ideal-goggles-sub000/testutil"
)

func openTestEngine(t *testing.T, dir string, dim int, optFns ...Option) *Engine {
	t.Helper()
	opts := append([]Option{WithMaintenance(false), WithSeed(1)}, optFns...)
	e, err := Open(dir, "photos", dim, opts...)
	require.NoError(t, err)
	return e
}

func TestEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("SaveSkipsWhenClean", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), 4)
		defer e.Close()

		saved, err := e.Save()
		require.NoError(t, err)
		assert.False(t, saved)

		require.True(t, e.AddVector(1, []float32{1, 0, 0, 0}))
		saved, err = e.Save()
		require.NoError(t, err)
		assert.True(t, saved)

		// Nothing changed since.
		saved, err = e.Save()
		require.NoError(t, err)
		assert.False(t, saved)
	})

	t.Run("RoundTripIdenticalResults", func(t *testing.T) {
		dir := t.TempDir()
		rng := testutil.NewRNG(42)
		vectors := rng.UnitVectors(50, 8)
		query := rng.UnitVector(8)

		e := openTestEngine(t, dir, 8)
		for i, v := range vectors {
			require.True(t, e.AddVector(int64(i+1), v))
		}
		require.True(t, e.RemoveVector(7))
		want := e.Search(query, 10)
		require.NoError(t, e.Close())

		reopened := openTestEngine(t, dir, 8)
		defer reopened.Close()

		assert.Equal(t, 49, reopened.Stats().TotalVectors)
		assert.Equal(t, want, reopened.Search(query, 10))

		// The tombstone survives the round trip.
		_, ok := reopened.GetVector(7)
		assert.False(t, ok)
	})

	t.Run("CorruptIndexStartsFresh", func(t *testing.T) {
		dir := t.TempDir()

		e := openTestEngine(t, dir, 4)
		require.True(t, e.AddVector(1, []float32{1, 0, 0, 0}))
		require.NoError(t, e.Close())

		require.NoError(t, os.WriteFile(e.pm.IndexPath(), []byte("garbage"), 0o644))

		fresh := openTestEngine(t, dir, 4)
		defer fresh.Close()
		assert.Equal(t, 0, fresh.Stats().TotalVectors)
	})

	t.Run("StoredDimensionWins", func(t *testing.T) {
		dir := t.TempDir()

		e := openTestEngine(t, dir, 4)
		require.True(t, e.AddVector(1, []float32{1, 0, 0, 0}))
		require.NoError(t, e.Close())

		// Reopening with a different configured dimension adopts the
		// stored one.
		reopened := openTestEngine(t, dir, 16)
		defer reopened.Close()

		assert.Equal(t, 4, reopened.Stats().Dimension)
		assert.True(t, reopened.AddVector(2, []float32{0, 1, 0, 0}))
		assert.False(t, reopened.AddVector(3, make([]float32, 16)))
	})

	t.Run("BackupAndRestore", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), 2)
		defer e.Close()

		require.True(t, e.AddVector(1, []float32{1, 0}))
		manifest, err := e.CreateBackup(ctx, "checkpoint")
		require.NoError(t, err)
		assert.Equal(t, 1, manifest.VectorCount)
		assert.False(t, e.Stats().LastBackup.IsZero())

		// Mutate, then roll back.
		require.True(t, e.RemoveVector(1))
		require.True(t, e.AddVector(2, []float32{0, 1}))
		require.NoError(t, e.RestoreBackup(ctx, "checkpoint"))

		_, ok := e.GetVector(1)
		assert.True(t, ok)
		_, ok = e.GetVector(2)
		assert.False(t, ok)
	})

	t.Run("RestoreUnknownLeavesState", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), 2)
		defer e.Close()

		require.True(t, e.AddVector(1, []float32{1, 0}))
		require.Error(t, e.RestoreBackup(ctx, "ghost"))

		_, ok := e.GetVector(1)
		assert.True(t, ok)
	})

	t.Run("ClosedEngine", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), 2)
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())

		_, err := e.Save()
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, e.Optimize(ctx, true), ErrClosed)
	})
}

func TestOptimization(t *testing.T) {
	ctx := context.Background()
	const dim = 8

	t.Run("EscalatesToIVF", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), dim, WithIVFThreshold(120))
		defer e.Close()

		rng := testutil.NewRNG(1)
		for i, v := range rng.UnitVectors(150, dim) {
			require.True(t, e.AddVector(int64(i+1), v))
		}

		require.True(t, e.optimizer.ShouldOptimize())
		require.NoError(t, e.Optimize(ctx, false))
		assert.Equal(t, "IVF", e.Stats().Representation)
		assert.False(t, e.Stats().LastOptimization.IsZero())

		// Cooldown: immediately after a successful run nothing is due.
		assert.False(t, e.optimizer.ShouldOptimize())

		// Stored vectors remain findable through the clustered index.
		vec, ok := e.GetVector(5)
		require.True(t, ok)
		results := e.Search(vec, 5)
		require.NotEmpty(t, results)
		ids := make([]int64, 0, len(results))
		for _, r := range results {
			ids = append(ids, r.FileID)
		}
		assert.Contains(t, ids, int64(5))
	})

	t.Run("BelowThresholdDoesNothing", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), dim)
		defer e.Close()

		require.True(t, e.AddVector(1, make([]float32, dim)))
		assert.False(t, e.optimizer.ShouldOptimize())
		require.NoError(t, e.Optimize(ctx, false))
		assert.Equal(t, "Flat", e.Stats().Representation)
	})

	t.Run("ForceWithoutNextTier", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), dim)
		defer e.Close()

		require.True(t, e.AddVector(1, []float32{1, 0, 0, 0, 0, 0, 0, 0}))
		assert.ErrorIs(t, e.Optimize(ctx, true), ErrNotOptimizable)
		assert.Equal(t, "Flat", e.Stats().Representation)
	})

	t.Run("TakesPreOptimizationBackup", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), dim, WithIVFThreshold(120))
		defer e.Close()

		rng := testutil.NewRNG(2)
		for i, v := range rng.UnitVectors(150, dim) {
			require.True(t, e.AddVector(int64(i+1), v))
		}
		_, err := e.Save()
		require.NoError(t, err)

		require.NoError(t, e.Optimize(ctx, false))

		manifests, err := e.ListBackups()
		require.NoError(t, err)
		names := make([]string, 0, len(manifests))
		for _, m := range manifests {
			names = append(names, m.Name)
		}
		assert.Contains(t, names, "pre_optimization")
	})

	t.Run("EscalatedIndexSurvivesReload", func(t *testing.T) {
		dir := t.TempDir()

		e := openTestEngine(t, dir, dim, WithIVFThreshold(120))
		rng := testutil.NewRNG(3)
		vectors := rng.UnitVectors(150, dim)
		for i, v := range vectors {
			require.True(t, e.AddVector(int64(i+1), v))
		}
		require.NoError(t, e.Optimize(ctx, false))
		require.NoError(t, e.Close())

		reopened := openTestEngine(t, dir, dim, WithIVFThreshold(120))
		defer reopened.Close()

		assert.Equal(t, "IVF", reopened.Stats().Representation)
		assert.Equal(t, 150, reopened.Stats().TotalVectors)

		results := reopened.Search(vectors[9], 5)
		require.NotEmpty(t, results)
		assert.Equal(t, int64(10), results[0].FileID)
	})
}
