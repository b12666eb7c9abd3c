// Package persistence owns the on-disk layout of an engine: the binary
// index blob, its JSON metadata sidecar, and the atomic write discipline
// that keeps the pair consistent across crashes.
package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sarvarunajvm/ideal-goggles-sub000/index"
)

const (
	// blobMagic marks the index blob file format.
	blobMagic uint32 = 0x47474958 // "GGIX"

	// blobVersion is the current blob format version.
	blobVersion uint16 = 1

	// MetadataVersion is the current sidecar format version. Sidecars
	// without a version field are treated as legacy and migrated.
	MetadataVersion = 1
)

var (
	// ErrCorrupt wraps any decode failure of the blob or sidecar. The
	// engine treats it as recoverable and starts fresh, since the index
	// is rebuildable from source data.
	ErrCorrupt = errors.New("persistence: corrupt index data")
)

// Metadata is the sidecar stored next to the index blob. It carries the
// identifier mappings and engine statistics in a portable JSON form.
type Metadata struct {
	FormatVersion int    `json:"format_version"`
	Dimension     int    `json:"dimension"`
	Kind          string `json:"representation"`

	// SlotToID maps slots to external ids; -1 marks a tombstoned slot.
	SlotToID []int64 `json:"slot_to_id"`

	// IDToSlot is the inverse over live slots.
	IDToSlot map[int64]uint32 `json:"id_to_slot"`

	SavedAt time.Time `json:"saved_at"`

	VectorCount      int       `json:"vector_count"`
	SearchCount      int64     `json:"search_count"`
	AvgSearchMS      float64   `json:"avg_search_ms"`
	LastOptimization time.Time `json:"last_optimization,omitempty"`
	LastBackup       time.Time `json:"last_backup,omitempty"`

	// Migrated is set by Load when the sidecar was read from the legacy
	// gob format. Not serialized; the next save writes current JSON.
	Migrated bool `json:"-"`
}

// legacyMetadata is the pre-versioning gob sidecar layout.
type legacyMetadata struct {
	Dimension int
	SlotToID  []int64
	IDToSlot  map[int64]uint32
	SavedAt   time.Time
}

// Manager reads and writes one engine's files under a directory:
// `<name>.bin` and `<name>_metadata.json`.
type Manager struct {
	dir         string
	name        string
	compression Compression
}

// NewManager creates a manager for the named index under dir.
func NewManager(dir, name string, compression Compression) (*Manager, error) {
	if name == "" {
		return nil, errors.New("persistence: index name must not be empty")
	}
	if !compression.valid() {
		return nil, fmt.Errorf("persistence: unknown compression %d", uint8(compression))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create directory %s: %w", dir, err)
	}
	return &Manager{dir: dir, name: name, compression: compression}, nil
}

// Dir returns the managed directory.
func (m *Manager) Dir() string { return m.dir }

// IndexPath returns the path of the binary index blob.
func (m *Manager) IndexPath() string {
	return filepath.Join(m.dir, m.name+".bin")
}

// MetadataPath returns the path of the JSON sidecar.
func (m *Manager) MetadataPath() string {
	return filepath.Join(m.dir, m.name+"_metadata.json")
}

// Save writes the blob and sidecar atomically: both files are staged as
// temp files and renamed together, so a crash never leaves a mixed pair
// observable alongside a partial write.
func (m *Manager) Save(backend index.Backend, meta *Metadata) error {
	meta.FormatVersion = MetadataVersion
	meta.Kind = backend.Kind().String()
	meta.Dimension = backend.Dimension()
	meta.SavedAt = time.Now().UTC()

	return atomicSaveToDir(m.dir, map[string]func(io.Writer) error{
		m.name + ".bin": func(w io.Writer) error {
			return m.writeBlob(w, backend)
		},
		m.name + "_metadata.json": func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	})
}

// Load reads the blob and sidecar. A missing blob returns (nil, nil, nil)
// so the caller starts fresh. Decode failures are reported wrapped in
// ErrCorrupt. A legacy gob sidecar is migrated in memory and flagged via
// Metadata.Migrated.
func (m *Manager) Load() (index.Backend, *Metadata, error) {
	f, err := os.Open(m.IndexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("persistence: open index blob: %w", err)
	}
	defer f.Close()

	backend, err := m.readBlob(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	meta, err := m.readMetadata()
	if err != nil {
		return nil, nil, err
	}
	return backend, meta, nil
}

// Remove deletes the on-disk files. Used by restore staging.
func (m *Manager) Remove() error {
	for _, p := range []string{m.IndexPath(), m.MetadataPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (m *Manager) writeBlob(w io.Writer, backend index.Backend) error {
	hdr := struct {
		Magic       uint32
		Version     uint16
		Compression uint8
		_           uint8
	}{
		Magic:       blobMagic,
		Version:     blobVersion,
		Compression: uint8(m.compression),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}

	cw, err := m.compression.compressTo(w)
	if err != nil {
		return err
	}
	if err := index.Encode(cw, backend); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

func (m *Manager) readBlob(r io.Reader) (index.Backend, error) {
	var hdr struct {
		Magic       uint32
		Version     uint16
		Compression uint8
		_           uint8
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read blob header: %w", err)
	}
	if hdr.Magic != blobMagic {
		return nil, fmt.Errorf("bad magic %#x", hdr.Magic)
	}
	if hdr.Version != blobVersion {
		return nil, fmt.Errorf("unsupported blob version %d", hdr.Version)
	}

	comp := Compression(hdr.Compression)
	if !comp.valid() {
		return nil, fmt.Errorf("unknown compression %d", hdr.Compression)
	}
	cr, err := comp.decompressFrom(r)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	return index.Decode(cr)
}

func (m *Manager) readMetadata() (*Metadata, error) {
	data, err := os.ReadFile(m.MetadataPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Blob without sidecar: the mappings are gone. Treat as
			// corrupt so the engine rebuilds from source.
			return nil, fmt.Errorf("%w: metadata sidecar missing", ErrCorrupt)
		}
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err == nil && meta.FormatVersion >= 1 {
		return &meta, nil
	}

	// Older deployments wrote a gob sidecar without a version field.
	// Migrate it once; the next save emits the current JSON form.
	var legacy legacyMetadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&legacy); err != nil {
		return nil, fmt.Errorf("%w: metadata sidecar unreadable", ErrCorrupt)
	}

	return &Metadata{
		FormatVersion: MetadataVersion,
		Dimension:     legacy.Dimension,
		SlotToID:      legacy.SlotToID,
		IDToSlot:      legacy.IDToSlot,
		SavedAt:       legacy.SavedAt,
		Migrated:      true,
	}, nil
}

// atomicSaveToDir writes multiple files to a directory via temp files and
// renames them together, so either all files land or none do.
func atomicSaveToDir(dir string, files map[string]func(io.Writer) error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persistence: create directory %s: %w", dir, err)
	}

	tempFiles := make([]string, 0, len(files))
	defer func() {
		for _, tmp := range tempFiles {
			_ = os.Remove(tmp)
		}
	}()

	type fileMapping struct {
		temp   string
		target string
	}
	mappings := make([]fileMapping, 0, len(files))

	for filename, writeFunc := range files {
		tmp, err := os.CreateTemp(dir, filename+".tmp-*")
		if err != nil {
			return fmt.Errorf("persistence: create temp file for %s: %w", filename, err)
		}
		tempFiles = append(tempFiles, tmp.Name())

		if err := writeFunc(tmp); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: write %s: %w", filename, err)
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: sync %s: %w", filename, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("persistence: close %s: %w", filename, err)
		}

		mappings = append(mappings, fileMapping{temp: tmp.Name(), target: filepath.Join(dir, filename)})
	}

	for _, fm := range mappings {
		if err := os.Rename(fm.temp, fm.target); err != nil {
			return fmt.Errorf("persistence: rename %s: %w", fm.target, err)
		}
	}
	tempFiles = nil

	// Best-effort directory fsync so the renames are durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}
