package goggles

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarvarunajvm/ideal-goggles-sub000/backup"
	"github.com/sarvarunajvm/ideal-goggles-sub000/persistence"
	"github.com/sarvarunajvm/ideal-goggles-sub000/resource"
)

// Engine ties the store, optimizer, persistence, backups, and the
// maintenance loop together. One process owns one engine instance;
// construct it at start-up and pass the handle to request handlers.
type Engine struct {
	opts options

	store      *VectorStore
	pm         *persistence.Manager
	backups    *backup.Manager
	optimizer  *IndexOptimizer
	scheduler  *MaintenanceScheduler
	controller *resource.Controller

	logger  *Logger
	metrics MetricsCollector

	mu         sync.Mutex
	lastBackup time.Time

	closed atomic.Bool
}

// Open creates or loads an engine persisted under dir as `<name>.bin` plus
// its metadata sidecar.
//
// A missing index starts fresh. An unreadable one is logged and discarded,
// since the index is rebuildable from source data. When the stored
// dimension disagrees with the configured one, the stored dimension wins:
// this almost always indicates a stale configuration rather than
// corruption.
func Open(dir, name string, dimension int, optFns ...Option) (*Engine, error) {
	opts := applyOptions(optFns)
	logger := opts.logger

	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}

	pm, err := persistence.NewManager(dir, name, opts.compression)
	if err != nil {
		return nil, err
	}

	loaded, meta, loadErr := pm.Load()
	if loadErr != nil {
		logger.Warn("stored index unreadable, starting fresh", "error", loadErr)
	}

	dim := dimension
	if loaded != nil && loaded.Dimension() != dimension {
		logger.Warn("stored dimension differs from configured, adopting stored",
			"configured", dimension,
			"stored", loaded.Dimension(),
		)
		dim = loaded.Dimension()
	}

	store, err := NewVectorStore(StoreConfig{
		Dimension:    dim,
		IVFThreshold: opts.ivfThreshold,
		PQThreshold:  opts.pqThreshold,
		Seed:         opts.seed,
		Logger:       logger,
		Metrics:      opts.metrics,
	})
	if err != nil {
		return nil, err
	}

	controller := resource.NewController(resource.Config{
		MaxBackgroundWorkers: opts.maxBackgroundWorkers,
		IOLimitBytesPerSec:   opts.ioLimitBytesPerSec,
	})

	backups, err := backup.NewManager(pm, backup.Options{
		MaxBackups: opts.maxBackups,
		Remote:     opts.remoteBackups,
		Controller: controller,
		Logger:     logger.Logger,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:       opts,
		store:      store,
		pm:         pm,
		backups:    backups,
		controller: controller,
		logger:     logger,
		metrics:    opts.metrics,
	}
	e.optimizer = NewIndexOptimizer(store, backups, opts)
	e.scheduler = NewMaintenanceScheduler(e, opts.maintenanceInterval)

	if loaded != nil {
		store.mu.Lock()
		store.adoptLocked(loaded, meta.SlotToID)
		store.mu.Unlock()

		store.searchCount.Store(meta.SearchCount)
		store.searchTotalNanos.Store(int64(meta.AvgSearchMS * float64(meta.SearchCount) * 1e6))
		e.optimizer.setLastOptimization(meta.LastOptimization)
		e.lastBackup = meta.LastBackup

		logger.Info("index loaded",
			"vectors", store.Count(),
			"representation", loaded.Kind().String(),
		)

		if meta.Migrated {
			// Rewrite the sidecar so future loads never hit the legacy
			// path again.
			logger.Info("migrated legacy metadata sidecar")
			store.mu.Lock()
			store.dirty = true
			store.mu.Unlock()
			if _, err := e.Save(); err != nil {
				logger.Warn("rewriting migrated metadata failed", "error", err)
			}
		}
	}

	if opts.maintenance {
		e.scheduler.Start()
	}

	return e, nil
}

// Store returns the underlying vector store.
func (e *Engine) Store() *VectorStore { return e.store }

// AddVector inserts or replaces the vector for an external id.
func (e *Engine) AddVector(fileID int64, vector []float32) bool {
	return e.store.AddVector(fileID, vector)
}

// RemoveVector tombstones the vector for an external id.
func (e *Engine) RemoveVector(fileID int64) bool {
	return e.store.RemoveVector(fileID)
}

// Search returns up to topK results ordered by descending cosine score.
func (e *Engine) Search(query []float32, topK int, optFns ...SearchOption) []Result {
	return e.store.Search(query, topK, optFns...)
}

// BatchSearch runs one search per query row concurrently.
func (e *Engine) BatchSearch(queries [][]float32, topK int) [][]Result {
	return e.store.BatchSearch(queries, topK)
}

// GetVector reconstructs the stored (normalized) vector for a live id.
func (e *Engine) GetVector(fileID int64) ([]float32, bool) {
	return e.store.GetVector(fileID)
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	stats := e.store.Stats()
	stats.LastOptimization = e.optimizer.LastOptimization()
	e.mu.Lock()
	stats.LastBackup = e.lastBackup
	e.mu.Unlock()
	return stats
}

// Save persists the index blob and metadata sidecar. Returns false when
// there are no unsaved changes.
func (e *Engine) Save() (bool, error) {
	start := time.Now()
	saved, err := e.save()
	e.metrics.RecordSave(time.Since(start), saved, err)
	e.logger.LogSave(e.pm.IndexPath(), saved, err)
	return saved, err
}

func (e *Engine) save() (bool, error) {
	if e.closed.Load() {
		return false, ErrClosed
	}

	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return false, nil
	}

	searchCount := s.searchCount.Load()
	meta := &persistence.Metadata{
		SlotToID:         append([]int64(nil), s.slotToID...),
		IDToSlot:         maps.Clone(s.idToSlot),
		VectorCount:      len(s.idToSlot),
		SearchCount:      searchCount,
		LastOptimization: e.optimizer.LastOptimization(),
	}
	if searchCount > 0 {
		meta.AvgSearchMS = float64(s.searchTotalNanos.Load()) / float64(searchCount) / 1e6
	}
	e.mu.Lock()
	meta.LastBackup = e.lastBackup
	e.mu.Unlock()

	if err := e.pm.Save(s.backend, meta); err != nil {
		return false, err
	}
	s.dirty = false
	return true, nil
}

// Optimize escalates the representation when due (always, when forced)
// and persists the result.
func (e *Engine) Optimize(ctx context.Context, force bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.optimizer.Optimize(ctx, force); err != nil {
		return err
	}
	_, err := e.Save()
	return err
}

// RebuildIndex compacts tombstoned capacity and persists the result.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.store.RebuildIndex(ctx); err != nil {
		return err
	}
	_, err := e.Save()
	return err
}

// CreateBackup saves pending changes and snapshots the on-disk files into
// a named backup. An empty name gets a timestamp name.
func (e *Engine) CreateBackup(ctx context.Context, name string) (*backup.Manifest, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	manifest, err := e.createBackup(ctx, name)
	e.metrics.RecordBackup(time.Since(start), err)
	if manifest != nil {
		name = manifest.Name
	}
	e.logger.LogBackup(name, err)
	return manifest, err
}

func (e *Engine) createBackup(ctx context.Context, name string) (*backup.Manifest, error) {
	if _, err := e.Save(); err != nil {
		return nil, err
	}

	manifest, err := e.backups.Create(ctx, name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lastBackup = manifest.CreatedAt
	e.mu.Unlock()
	return manifest, nil
}

// ListBackups returns manifests for all backups, newest first.
func (e *Engine) ListBackups() ([]backup.Manifest, error) {
	return e.backups.List()
}

// RestoreBackup replaces the active index with the named backup and
// reloads. An unknown name or missing files fail without touching current
// state.
func (e *Engine) RestoreBackup(ctx context.Context, name string) error {
	if e.closed.Load() {
		return ErrClosed
	}

	err := e.restoreBackup(ctx, name)
	e.logger.LogRestore(name, err)
	return err
}

func (e *Engine) restoreBackup(ctx context.Context, name string) error {
	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := e.backups.Restore(ctx, name); err != nil {
		return err
	}

	backend, meta, err := e.pm.Load()
	if err != nil {
		return fmt.Errorf("restored index unreadable: %w", err)
	}
	if backend == nil {
		return fmt.Errorf("restored backup %q has no index", name)
	}

	s.adoptLocked(backend, meta.SlotToID)
	e.optimizer.setLastOptimization(meta.LastOptimization)
	return nil
}

// backupDue reports whether the periodic backup interval has elapsed.
func (e *Engine) backupDue() bool {
	if e.store.Count() == 0 {
		return false
	}
	e.mu.Lock()
	last := e.lastBackup
	e.mu.Unlock()
	return last.IsZero() || time.Since(last) >= e.opts.backupInterval
}

// Close stops the maintenance loop and saves pending changes.
func (e *Engine) Close() error {
	if e.closed.Load() {
		return nil
	}

	e.scheduler.Stop()
	_, err := e.Save()
	e.closed.Store(true)
	return err
}
