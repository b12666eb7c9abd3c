package goggles

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sarvarunajvm/ideal-goggles-sub000/index"
	"github.com/sarvarunajvm/ideal-goggles-sub000/index/flat"
	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/math32"
)

// tombstoned marks a slot with no live vector in the slot-to-id mapping.
const tombstoned int64 = -1

// Result is a single search hit. Score is cosine similarity in [-1, 1].
type Result struct {
	FileID int64
	Score  float32
}

// SearchOption adjusts a single search call.
type SearchOption func(*searchOptions)

type searchOptions struct {
	scoreThreshold float32
	hasThreshold   bool
}

// WithScoreThreshold drops results scoring below the threshold.
func WithScoreThreshold(threshold float32) SearchOption {
	return func(o *searchOptions) {
		o.scoreThreshold = threshold
		o.hasThreshold = true
	}
}

// Stats is a point-in-time snapshot of store state.
type Stats struct {
	TotalVectors    int
	TombstoneCount  int
	Dimension       int
	Representation  string
	SearchCount     int64
	AvgSearchTimeMS float64
	IndexSizeMB     float64

	LastOptimization time.Time
	LastBackup       time.Time
}

// StoreConfig configures a VectorStore.
type StoreConfig struct {
	// Dimension is the fixed vector dimensionality.
	Dimension int

	// IVFThreshold and PQThreshold pick the representation a rebuild
	// targets for a given live count.
	IVFThreshold int
	PQThreshold  int

	// Seed fixes quantizer training for reproducible clustering.
	Seed int64

	Logger  *Logger
	Metrics MetricsCollector
}

// VectorStore owns the in-memory index, the id-slot mappings, and the
// locking discipline. Searches and lookups take the read lock; inserts,
// removes, rebuilds, and saves take the write lock.
//
// Slots are append-only: removing a vector tombstones its slot, and the
// space is reclaimed only when a rebuild compacts the index.
type VectorStore struct {
	cfg StoreConfig

	mu         sync.RWMutex
	backend    index.Backend
	slotToID   []int64
	idToSlot   map[int64]uint32
	tombstones *roaring.Bitmap
	dirty      bool

	searchCount      atomic.Int64
	searchTotalNanos atomic.Int64

	logger  *Logger
	metrics MetricsCollector
}

// NewVectorStore creates an empty store with the exact (flat)
// representation.
func NewVectorStore(cfg StoreConfig) (*VectorStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetricsCollector{}
	}
	if cfg.IVFThreshold <= 0 {
		cfg.IVFThreshold = DefaultIVFThreshold
	}
	if cfg.PQThreshold <= 0 {
		cfg.PQThreshold = DefaultPQThreshold
	}

	backend, err := flat.New(cfg.Dimension)
	if err != nil {
		return nil, err
	}

	return &VectorStore{
		cfg:        cfg,
		backend:    backend,
		idToSlot:   make(map[int64]uint32),
		tombstones: roaring.New(),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Dimension returns the fixed vector dimensionality.
func (s *VectorStore) Dimension() int { return s.cfg.Dimension }

// AddVector inserts or replaces the vector for an external id. The vector
// is L2-normalized unless its norm is zero. Re-inserting an id tombstones
// its previous slot. Returns false on validation failure (non-positive id,
// dimension mismatch, non-finite values) so bulk ingestion can tolerate
// per-item failures.
func (s *VectorStore) AddVector(fileID int64, vector []float32) bool {
	start := time.Now()
	ok := s.addVector(fileID, vector)
	s.metrics.RecordAdd(time.Since(start), ok)
	s.logger.LogAdd(fileID, len(vector), ok)
	return ok
}

func (s *VectorStore) addVector(fileID int64, vector []float32) bool {
	if fileID <= 0 || len(vector) != s.cfg.Dimension || !math32.IsFinite(vector) {
		return false
	}
	vec := math32.NormalizeL2Copy(vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.backend.Add(vec)
	if err != nil {
		s.logger.Warn("backend insert failed", "file_id", fileID, "error", err)
		return false
	}

	if prev, ok := s.idToSlot[fileID]; ok {
		s.tombstoneLocked(prev)
	}

	s.slotToID = append(s.slotToID, fileID)
	s.idToSlot[fileID] = slot
	s.dirty = true
	return true
}

// RemoveVector tombstones the slot for an external id. Returns false when
// the id has no live slot, leaving all state unchanged.
func (s *VectorStore) RemoveVector(fileID int64) bool {
	start := time.Now()

	s.mu.Lock()
	slot, ok := s.idToSlot[fileID]
	if ok {
		s.tombstoneLocked(slot)
		s.dirty = true
	}
	s.mu.Unlock()

	s.metrics.RecordRemove(time.Since(start), ok)
	s.logger.LogRemove(fileID, ok)
	return ok
}

func (s *VectorStore) tombstoneLocked(slot uint32) {
	fileID := s.slotToID[slot]
	s.slotToID[slot] = tombstoned
	s.tombstones.Add(slot)
	delete(s.idToSlot, fileID)
}

// Search returns up to topK live results ordered by descending cosine
// similarity. A query with the wrong dimension returns nil, matching the
// tolerate-bad-input contract of AddVector.
func (s *VectorStore) Search(query []float32, topK int, optFns ...SearchOption) []Result {
	start := time.Now()
	results := s.search(query, topK, optFns)
	took := time.Since(start)

	s.searchCount.Add(1)
	s.searchTotalNanos.Add(took.Nanoseconds())
	s.metrics.RecordSearch(topK, took)
	s.logger.LogSearch(topK, len(results), took)
	return results
}

func (s *VectorStore) search(query []float32, topK int, optFns []SearchOption) []Result {
	if topK <= 0 || len(query) != s.cfg.Dimension || !math32.IsFinite(query) {
		return nil
	}

	var opts searchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	q := math32.NormalizeL2Copy(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.backend.Count()
	if total == 0 {
		return []Result{}
	}

	// Over-fetch to cover candidates that turn out to be tombstoned.
	fetch := topK + int(s.tombstones.GetCardinality())
	if fetch > total {
		fetch = total
	}

	candidates, err := s.backend.Search(q, fetch)
	if err != nil {
		s.logger.Warn("backend search failed", "error", err)
		return nil
	}

	results := make([]Result, 0, topK)
	for _, c := range candidates {
		if c.Slot == index.NoSlot {
			break
		}
		if opts.hasThreshold && c.Score < opts.scoreThreshold {
			// Candidates arrive in descending score order.
			break
		}
		fileID := s.slotToID[c.Slot]
		if fileID == tombstoned {
			continue
		}
		results = append(results, Result{FileID: fileID, Score: c.Score})
		if len(results) == topK {
			break
		}
	}
	return results
}

// BatchSearch runs one search per query row concurrently. Row order is
// preserved; an empty store yields empty rows.
func (s *VectorStore) BatchSearch(queries [][]float32, topK int) [][]Result {
	results := make([][]Result, len(queries))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, query := range queries {
		i, query := i, query
		g.Go(func() error {
			results[i] = s.Search(query, topK)
			if results[i] == nil {
				results[i] = []Result{}
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// GetVector reconstructs the stored (normalized) vector for a live id.
// Under the compressed representation this is the codebook approximation.
func (s *VectorStore) GetVector(fileID int64) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.idToSlot[fileID]
	if !ok {
		return nil, false
	}
	vec, err := s.backend.Reconstruct(slot)
	if err != nil {
		s.logger.Warn("reconstruct failed", "file_id", fileID, "error", err)
		return nil, false
	}
	return vec, true
}

// RebuildIndex compacts the store: live vectors are re-inserted in slot
// order into a fresh structure of the representation appropriate for the
// live count, and tombstoned capacity is reclaimed. The swap happens only
// after the replacement is fully built.
func (s *VectorStore) RebuildIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := int(s.tombstones.GetCardinality())
	kind := s.kindForCount(len(s.idToSlot))
	err := s.rebuildToLocked(ctx, kind)
	s.logger.LogRebuild(len(s.idToSlot), reclaimed, err)
	return err
}

// kindForCount picks the representation tier for a live vector count.
func (s *VectorStore) kindForCount(count int) index.Kind {
	switch {
	case count >= s.cfg.PQThreshold:
		return index.KindIVFPQ
	case count >= s.cfg.IVFThreshold:
		return index.KindIVF
	default:
		return index.KindFlat
	}
}

// rebuildToLocked rebuilds the backend into the given representation from
// the live vectors. On failure the previous backend stays active.
func (s *VectorStore) rebuildToLocked(ctx context.Context, kind index.Kind) error {
	live := len(s.idToSlot)
	vectors := make([]float32, 0, live*s.cfg.Dimension)
	ids := make([]int64, 0, live)

	for slot, fileID := range s.slotToID {
		if fileID == tombstoned {
			continue
		}
		vec, err := s.backend.Reconstruct(uint32(slot))
		if err != nil {
			return err
		}
		vectors = append(vectors, vec...)
		ids = append(ids, fileID)
	}

	backend, err := buildBackend(ctx, kind, s.cfg.Dimension, vectors, s.cfg.Seed)
	if err != nil {
		return err
	}

	idToSlot := make(map[int64]uint32, len(ids))
	for slot, fileID := range ids {
		idToSlot[fileID] = uint32(slot)
	}

	s.backend = backend
	s.slotToID = ids
	s.idToSlot = idToSlot
	s.tombstones = roaring.New()
	s.dirty = true
	return nil
}

// representation returns the active backend kind.
func (s *VectorStore) representation() index.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Kind()
}

// rebuildTo rebuilds into the given representation under the write lock.
func (s *VectorStore) rebuildTo(ctx context.Context, kind index.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildToLocked(ctx, kind)
}

// Stats returns a snapshot of store state.
func (s *VectorStore) Stats() Stats {
	s.mu.RLock()
	live := len(s.idToSlot)
	tombs := int(s.tombstones.GetCardinality())
	kind := s.backend.Kind().String()
	sizeBytes := s.backend.SizeBytes()
	s.mu.RUnlock()

	stats := Stats{
		TotalVectors:   live,
		TombstoneCount: tombs,
		Dimension:      s.cfg.Dimension,
		Representation: kind,
		SearchCount:    s.searchCount.Load(),
		IndexSizeMB:    float64(sizeBytes) / (1024 * 1024),
	}
	if stats.SearchCount > 0 {
		stats.AvgSearchTimeMS = float64(s.searchTotalNanos.Load()) / float64(stats.SearchCount) / 1e6
	}
	return stats
}

// Count returns the number of live vectors.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idToSlot)
}

// TombstoneRatio returns the fraction of slots that are tombstoned.
func (s *VectorStore) TombstoneRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.slotToID)
	if total == 0 {
		return 0
	}
	return float64(s.tombstones.GetCardinality()) / float64(total)
}

// adoptLocked replaces the store state with a loaded backend and mapping.
// Caller holds the write lock.
func (s *VectorStore) adoptLocked(backend index.Backend, slotToID []int64) {
	idToSlot := make(map[int64]uint32, len(slotToID))
	tombs := roaring.New()
	for slot, fileID := range slotToID {
		if fileID == tombstoned {
			tombs.Add(uint32(slot))
			continue
		}
		idToSlot[fileID] = uint32(slot)
	}

	s.cfg.Dimension = backend.Dimension()
	s.backend = backend
	s.slotToID = slotToID
	s.idToSlot = idToSlot
	s.tombstones = tombs
	s.dirty = false
}
