// Package backup snapshots an engine's on-disk files into named,
// timestamped directories and restores them. Restores are staged and
// swapped so a failure never leaves the active files half-written.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sarvarunajvm/ideal-goggles-sub000/blobstore"
	"github.com/sarvarunajvm/ideal-goggles-sub000/persistence"
	"github.com/sarvarunajvm/ideal-goggles-sub000/resource"
)

const (
	indexFile    = "index.bin"
	metadataFile = "metadata.json"
	manifestFile = "info.json"

	// PreRestoreName is the snapshot taken before a restore overwrites
	// the active files.
	PreRestoreName = "pre_restore"
)

var (
	// ErrNotFound is returned when the named backup does not exist or is
	// missing required files.
	ErrNotFound = errors.New("backup: not found")

	// ErrNothingToBackup is returned when no index has been saved yet.
	ErrNothingToBackup = errors.New("backup: no saved index")
)

// Manifest describes one backup, stored as info.json inside it.
type Manifest struct {
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	VectorCount    int       `json:"vector_count"`
	Representation string    `json:"representation"`
}

// Options configures a backup manager.
type Options struct {
	// MaxBackups bounds how many backups are retained, newest first by
	// manifest timestamp. Zero or negative means 7.
	MaxBackups int

	// Remote, when set, mirrors every created backup to an object store.
	// Mirror failures are logged, never fatal: the local copy is the
	// source of truth.
	Remote blobstore.Store

	// Controller throttles backup IO so copies do not starve searches.
	Controller *resource.Controller

	// Logger receives backup lifecycle events. Nil discards.
	Logger *slog.Logger
}

// Manager creates, lists, prunes, and restores backups of the files owned
// by a persistence manager. Backups live under `<dir>/backups/<name>/`.
type Manager struct {
	pm     *persistence.Manager
	dir    string
	opts   Options
	logger *slog.Logger
}

// NewManager creates a backup manager alongside the given persistence
// manager.
func NewManager(pm *persistence.Manager, opts Options) (*Manager, error) {
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 7
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dir := filepath.Join(pm.Dir(), "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create directory %s: %w", dir, err)
	}

	return &Manager{pm: pm, dir: dir, opts: opts, logger: logger}, nil
}

// Dir returns the backups root directory.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) backupDir(name string) string {
	return filepath.Join(m.dir, name)
}

// Create snapshots the current on-disk index and metadata into a backup
// directory. An empty name gets a timestamp name. Retention is enforced
// after a successful copy, and the backup is mirrored to the remote store
// when one is configured.
func (m *Manager) Create(ctx context.Context, name string) (*Manifest, error) {
	if name == "" {
		name = time.Now().UTC().Format("20060102_150405")
	}

	meta, err := m.readActiveMetadata()
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Name:           name,
		CreatedAt:      time.Now().UTC(),
		VectorCount:    meta.VectorCount,
		Representation: meta.Kind,
	}

	// Stage into a temp directory, then rename into place so a partially
	// copied backup is never listed.
	staging, err := os.MkdirTemp(m.dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("backup: create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := m.copyFile(ctx, m.pm.IndexPath(), filepath.Join(staging, indexFile)); err != nil {
		return nil, err
	}
	if err := m.copyFile(ctx, m.pm.MetadataPath(), filepath.Join(staging, metadataFile)); err != nil {
		return nil, err
	}
	if err := writeManifest(filepath.Join(staging, manifestFile), manifest); err != nil {
		return nil, err
	}

	target := m.backupDir(name)
	if err := os.RemoveAll(target); err != nil {
		return nil, fmt.Errorf("backup: replace %s: %w", name, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return nil, fmt.Errorf("backup: finalize %s: %w", name, err)
	}

	m.logger.Info("backup created",
		slog.String("name", name),
		slog.Int("vector_count", manifest.VectorCount),
		slog.String("representation", manifest.Representation),
	)

	if err := m.Prune(); err != nil {
		m.logger.Warn("backup retention failed", slog.Any("error", err))
	}

	if m.opts.Remote != nil {
		if err := m.mirror(ctx, name); err != nil {
			m.logger.Warn("backup mirror failed",
				slog.String("name", name), slog.Any("error", err))
		}
	}

	return manifest, nil
}

// List returns manifests for all backups, newest first. A backup whose
// manifest is missing or corrupt is listed with its directory modtime as
// the creation time.
func (m *Manager) List() ([]Manifest, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var manifests []Manifest
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		manifests = append(manifests, m.readManifest(e.Name()))
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}

// Prune removes the oldest backups beyond the retention limit.
func (m *Manager) Prune() error {
	manifests, err := m.List()
	if err != nil {
		return err
	}
	for _, old := range manifests[min(len(manifests), m.opts.MaxBackups):] {
		if err := os.RemoveAll(m.backupDir(old.Name)); err != nil {
			return err
		}
		m.logger.Info("backup pruned", slog.String("name", old.Name))
	}
	return nil
}

// Restore replaces the active index files with the named backup's copy.
// The current state is snapshotted as pre_restore first, and the backup
// files are staged next to the active ones before an atomic swap, so an
// unknown name or a copy failure leaves the active files untouched. The
// caller must reload the engine afterwards.
func (m *Manager) Restore(ctx context.Context, name string) error {
	src := m.backupDir(name)
	srcIndex := filepath.Join(src, indexFile)
	srcMeta := filepath.Join(src, metadataFile)
	for _, p := range []string{srcIndex, srcMeta} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
	}

	if _, err := m.Create(ctx, PreRestoreName); err != nil && !errors.Is(err, ErrNothingToBackup) {
		return fmt.Errorf("backup: pre-restore snapshot: %w", err)
	}

	dir := m.pm.Dir()
	stagedIndex := filepath.Join(dir, ".restore-"+indexFile)
	stagedMeta := filepath.Join(dir, ".restore-"+metadataFile)
	defer func() {
		_ = os.Remove(stagedIndex)
		_ = os.Remove(stagedMeta)
	}()

	if err := m.copyFile(ctx, srcIndex, stagedIndex); err != nil {
		return err
	}
	if err := m.copyFile(ctx, srcMeta, stagedMeta); err != nil {
		return err
	}

	if err := os.Rename(stagedIndex, m.pm.IndexPath()); err != nil {
		return fmt.Errorf("backup: swap index: %w", err)
	}
	if err := os.Rename(stagedMeta, m.pm.MetadataPath()); err != nil {
		return fmt.Errorf("backup: swap metadata: %w", err)
	}

	m.logger.Info("backup restored", slog.String("name", name))
	return nil
}

func (m *Manager) readActiveMetadata() (*persistence.Metadata, error) {
	data, err := os.ReadFile(m.pm.MetadataPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNothingToBackup
		}
		return nil, err
	}
	var meta persistence.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// Legacy or damaged sidecar: back it up anyway, with unknown
		// counts in the manifest.
		return &persistence.Metadata{}, nil
	}
	return &meta, nil
}

func (m *Manager) readManifest(name string) Manifest {
	manifest := Manifest{Name: name}

	data, err := os.ReadFile(filepath.Join(m.backupDir(name), manifestFile))
	if err == nil && json.Unmarshal(data, &manifest) == nil && !manifest.CreatedAt.IsZero() {
		manifest.Name = name
		return manifest
	}

	// Missing or corrupt manifest: fall back to the directory modtime so
	// retention still has an ordering.
	if info, err := os.Stat(m.backupDir(name)); err == nil {
		manifest.CreatedAt = info.ModTime().UTC()
	}
	return manifest
}

func (m *Manager) copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("backup: create %s: %w", dst, err)
	}

	w := m.opts.Controller.ThrottledWriter(ctx, out)
	if _, err := io.Copy(w, in); err != nil {
		out.Close()
		return fmt.Errorf("backup: copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (m *Manager) mirror(ctx context.Context, name string) error {
	for _, file := range []string{indexFile, metadataFile, manifestFile} {
		f, err := os.Open(filepath.Join(m.backupDir(name), file))
		if err != nil {
			return err
		}
		err = m.opts.Remote.Put(ctx, name+"/"+file, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeManifest(path string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
