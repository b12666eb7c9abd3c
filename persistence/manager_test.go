package persistence

import (
	"bytes"
	"encoding/gob"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarvarunajvm/ideal-goggles-sub000/index"
	"github.com/sarvarunajvm/ideal-goggles-sub000/index/flat"
)

func newFlat(t *testing.T, vectors ...[]float32) index.Backend {
	t.Helper()
	f, err := flat.New(2)
	require.NoError(t, err)
	for _, v := range vectors {
		_, err := f.Add(v)
		require.NoError(t, err)
	}
	return f
}

func TestManager(t *testing.T) {
	t.Run("LoadMissing", func(t *testing.T) {
		m, err := NewManager(t.TempDir(), "photos", CompressionZstd)
		require.NoError(t, err)

		backend, meta, err := m.Load()
		require.NoError(t, err)
		assert.Nil(t, backend)
		assert.Nil(t, meta)
	})

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		for _, comp := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
			t.Run(comp.String(), func(t *testing.T) {
				m, err := NewManager(t.TempDir(), "photos", comp)
				require.NoError(t, err)

				backend := newFlat(t, []float32{1, 0}, []float32{0, 1})
				meta := &Metadata{
					SlotToID:    []int64{1, 2},
					IDToSlot:    map[int64]uint32{1: 0, 2: 1},
					VectorCount: 2,
				}
				require.NoError(t, m.Save(backend, meta))

				// Save stamps the derived fields.
				assert.Equal(t, MetadataVersion, meta.FormatVersion)
				assert.Equal(t, "Flat", meta.Kind)
				assert.Equal(t, 2, meta.Dimension)
				assert.False(t, meta.SavedAt.IsZero())

				loaded, loadedMeta, err := m.Load()
				require.NoError(t, err)
				require.NotNil(t, loaded)
				assert.Equal(t, index.KindFlat, loaded.Kind())
				assert.Equal(t, 2, loaded.Count())
				assert.Equal(t, meta.SlotToID, loadedMeta.SlotToID)
				assert.Equal(t, meta.IDToSlot, loadedMeta.IDToSlot)
				assert.False(t, loadedMeta.Migrated)

				vec, err := loaded.Reconstruct(1)
				require.NoError(t, err)
				assert.Equal(t, []float32{0, 1}, vec)
			})
		}
	})

	t.Run("CorruptBlob", func(t *testing.T) {
		m, err := NewManager(t.TempDir(), "photos", CompressionZstd)
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(m.IndexPath(), []byte("not an index"), 0o644))

		_, _, err = m.Load()
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("BlobWithoutSidecar", func(t *testing.T) {
		m, err := NewManager(t.TempDir(), "photos", CompressionZstd)
		require.NoError(t, err)

		require.NoError(t, m.Save(newFlat(t, []float32{1, 0}), &Metadata{SlotToID: []int64{1}}))
		require.NoError(t, os.Remove(m.MetadataPath()))

		_, _, err = m.Load()
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("LegacyGobMigration", func(t *testing.T) {
		m, err := NewManager(t.TempDir(), "photos", CompressionZstd)
		require.NoError(t, err)

		require.NoError(t, m.Save(newFlat(t, []float32{1, 0}), &Metadata{SlotToID: []int64{7}}))

		// Overwrite the sidecar with the pre-versioning gob layout.
		legacy := legacyMetadata{
			Dimension: 2,
			SlotToID:  []int64{7},
			IDToSlot:  map[int64]uint32{7: 0},
			SavedAt:   time.Now(),
		}
		var buf bytes.Buffer
		require.NoError(t, gob.NewEncoder(&buf).Encode(legacy))
		require.NoError(t, os.WriteFile(m.MetadataPath(), buf.Bytes(), 0o644))

		_, meta, err := m.Load()
		require.NoError(t, err)
		assert.True(t, meta.Migrated)
		assert.Equal(t, []int64{7}, meta.SlotToID)
		assert.Equal(t, map[int64]uint32{7: 0}, meta.IDToSlot)
		assert.Equal(t, MetadataVersion, meta.FormatVersion)
	})

	t.Run("SaveIsAtomic", func(t *testing.T) {
		dir := t.TempDir()
		m, err := NewManager(dir, "photos", CompressionZstd)
		require.NoError(t, err)

		require.NoError(t, m.Save(newFlat(t, []float32{1, 0}), &Metadata{SlotToID: []int64{1}}))

		// No temp files left behind after a successful save.
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.ElementsMatch(t, []string{"photos.bin", "photos_metadata.json"}, names)
	})
}
