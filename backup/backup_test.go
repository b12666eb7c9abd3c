package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarvarunajvm/ideal-goggles-sub000/blobstore"
	"github.com/sarvarunajvm/ideal-goggles-sub000/index/flat"
	"github.com/sarvarunajvm/ideal-goggles-sub000/persistence"
)

func newSavedManager(t *testing.T) *persistence.Manager {
	t.Helper()

	pm, err := persistence.NewManager(t.TempDir(), "photos", persistence.CompressionZstd)
	require.NoError(t, err)

	f, err := flat.New(2)
	require.NoError(t, err)
	_, err = f.Add([]float32{1, 0})
	require.NoError(t, err)

	require.NoError(t, pm.Save(f, &persistence.Metadata{
		SlotToID:    []int64{42},
		IDToSlot:    map[int64]uint32{42: 0},
		VectorCount: 1,
	}))
	return pm
}

func TestBackup(t *testing.T) {
	ctx := context.Background()

	t.Run("NothingToBackup", func(t *testing.T) {
		pm, err := persistence.NewManager(t.TempDir(), "photos", persistence.CompressionZstd)
		require.NoError(t, err)
		m, err := NewManager(pm, Options{})
		require.NoError(t, err)

		_, err = m.Create(ctx, "first")
		assert.ErrorIs(t, err, ErrNothingToBackup)
	})

	t.Run("CreateWritesManifest", func(t *testing.T) {
		m, err := NewManager(newSavedManager(t), Options{})
		require.NoError(t, err)

		manifest, err := m.Create(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, "nightly", manifest.Name)
		assert.Equal(t, 1, manifest.VectorCount)
		assert.Equal(t, "Flat", manifest.Representation)
		assert.False(t, manifest.CreatedAt.IsZero())

		for _, file := range []string{"index.bin", "metadata.json", "info.json"} {
			_, err := os.Stat(filepath.Join(m.Dir(), "nightly", file))
			assert.NoError(t, err)
		}
	})

	t.Run("RetentionKeepsNewest", func(t *testing.T) {
		m, err := NewManager(newSavedManager(t), Options{MaxBackups: 3})
		require.NoError(t, err)

		for _, name := range []string{"b1", "b2", "b3", "b4", "b5"} {
			_, err := m.Create(ctx, name)
			require.NoError(t, err)
		}

		manifests, err := m.List()
		require.NoError(t, err)
		require.Len(t, manifests, 3)
		assert.Equal(t, "b5", manifests[0].Name)
		assert.Equal(t, "b4", manifests[1].Name)
		assert.Equal(t, "b3", manifests[2].Name)
	})

	t.Run("ListToleratesMissingManifest", func(t *testing.T) {
		m, err := NewManager(newSavedManager(t), Options{})
		require.NoError(t, err)

		_, err = m.Create(ctx, "good")
		require.NoError(t, err)
		require.NoError(t, os.Remove(filepath.Join(m.Dir(), "good", "info.json")))

		manifests, err := m.List()
		require.NoError(t, err)
		require.Len(t, manifests, 1)
		assert.Equal(t, "good", manifests[0].Name)
		assert.False(t, manifests[0].CreatedAt.IsZero())
	})

	t.Run("RestoreUnknownName", func(t *testing.T) {
		pm := newSavedManager(t)
		m, err := NewManager(pm, Options{})
		require.NoError(t, err)

		before, err := os.ReadFile(pm.IndexPath())
		require.NoError(t, err)

		assert.ErrorIs(t, m.Restore(ctx, "ghost"), ErrNotFound)

		// Active files untouched.
		after, err := os.ReadFile(pm.IndexPath())
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("RestoreSwapsAndSnapshots", func(t *testing.T) {
		pm := newSavedManager(t)
		m, err := NewManager(pm, Options{})
		require.NoError(t, err)

		_, err = m.Create(ctx, "before-change")
		require.NoError(t, err)
		snapshot, err := os.ReadFile(pm.IndexPath())
		require.NoError(t, err)

		// Change the active index, then restore the earlier state.
		f, err := flat.New(2)
		require.NoError(t, err)
		for _, v := range [][]float32{{1, 0}, {0, 1}} {
			_, err := f.Add(v)
			require.NoError(t, err)
		}
		require.NoError(t, pm.Save(f, &persistence.Metadata{
			SlotToID:    []int64{42, 43},
			IDToSlot:    map[int64]uint32{42: 0, 43: 1},
			VectorCount: 2,
		}))

		require.NoError(t, m.Restore(ctx, "before-change"))

		restored, err := os.ReadFile(pm.IndexPath())
		require.NoError(t, err)
		assert.Equal(t, snapshot, restored)

		// The replaced state was snapshotted first.
		manifests, err := m.List()
		require.NoError(t, err)
		names := make([]string, 0, len(manifests))
		for _, manifest := range manifests {
			names = append(names, manifest.Name)
		}
		assert.Contains(t, names, PreRestoreName)
	})

	t.Run("RemoteMirror", func(t *testing.T) {
		remote := blobstore.NewMemoryStore()
		m, err := NewManager(newSavedManager(t), Options{Remote: remote})
		require.NoError(t, err)

		_, err = m.Create(ctx, "mirrored")
		require.NoError(t, err)

		names, err := remote.List(ctx, "mirrored/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"mirrored/index.bin",
			"mirrored/metadata.json",
			"mirrored/info.json",
		}, names)
	})
}
