package goggles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarvarunajvm/ideal-goggles-sub000/backup"
	"github.com/sarvarunajvm/ideal-goggles-sub000/index"
)

// IndexOptimizer escalates the store's representation as it grows:
// exact scan below the IVF threshold, clustered above it, clustered plus
// product quantization above the PQ threshold. Escalation is one-way; a
// representation is only lowered by an explicit rebuild after heavy
// deletion.
type IndexOptimizer struct {
	store   *VectorStore
	backups *backup.Manager
	logger  *Logger
	metrics MetricsCollector

	ivfThreshold int
	pqThreshold  int
	cooldown     time.Duration

	inFlight atomic.Bool

	mu               sync.Mutex
	lastOptimization time.Time
}

// NewIndexOptimizer creates an optimizer over the given store.
func NewIndexOptimizer(store *VectorStore, backups *backup.Manager, opts options) *IndexOptimizer {
	return &IndexOptimizer{
		store:        store,
		backups:      backups,
		logger:       opts.logger,
		metrics:      opts.metrics,
		ivfThreshold: opts.ivfThreshold,
		pqThreshold:  opts.pqThreshold,
		cooldown:     opts.cooldown,
	}
}

// LastOptimization returns when the last successful optimization finished.
func (o *IndexOptimizer) LastOptimization() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOptimization
}

func (o *IndexOptimizer) setLastOptimization(t time.Time) {
	o.mu.Lock()
	o.lastOptimization = t
	o.mu.Unlock()
}

// nextKind returns the representation the store should escalate to, or
// false when the current tier still fits the live count.
func (o *IndexOptimizer) nextKind(current index.Kind, count int) (index.Kind, bool) {
	switch current {
	case index.KindFlat:
		if count >= o.pqThreshold {
			return index.KindIVFPQ, true
		}
		if count >= o.ivfThreshold {
			return index.KindIVF, true
		}
	case index.KindIVF:
		if count >= o.pqThreshold {
			return index.KindIVFPQ, true
		}
	}
	return 0, false
}

// ShouldOptimize reports whether an optimization is warranted: none in
// flight, the live count has crossed the next tier's threshold, and the
// cooldown since the last run has elapsed.
func (o *IndexOptimizer) ShouldOptimize() bool {
	if o.inFlight.Load() {
		return false
	}
	if _, ok := o.nextKind(o.store.representation(), o.store.Count()); !ok {
		return false
	}

	last := o.LastOptimization()
	return last.IsZero() || time.Since(last) >= o.cooldown
}

// Optimize escalates the representation. Unless forced, it first consults
// ShouldOptimize and quietly does nothing when no escalation is due. The
// in-flight guard is cleared on every exit path; a failed build leaves the
// previous representation serving.
func (o *IndexOptimizer) Optimize(ctx context.Context, force bool) error {
	if !force && !o.ShouldOptimize() {
		return nil
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return ErrOptimizationRunning
	}
	defer o.inFlight.Store(false)

	start := time.Now()
	err := o.optimize(ctx, force)
	o.metrics.RecordOptimize(time.Since(start), err)
	return err
}

func (o *IndexOptimizer) optimize(ctx context.Context, force bool) error {
	from := o.store.representation()
	count := o.store.Count()

	target, ok := o.nextKind(from, count)
	if !ok {
		if force {
			return ErrNotOptimizable
		}
		return nil
	}

	if _, err := o.backups.Create(ctx, "pre_optimization"); err != nil && !errors.Is(err, backup.ErrNothingToBackup) {
		return fmt.Errorf("pre-optimization backup: %w", err)
	}

	err := o.store.rebuildTo(ctx, target)
	o.logger.LogOptimize(from.String(), target.String(), count, err)
	if err != nil {
		return err
	}

	o.setLastOptimization(time.Now())
	return nil
}
