package goggles

import (
	"context"
	"sync/atomic"
	"time"
)

// MaintenanceScheduler is the engine's single background loop. Each cycle
// it checks whether an optimization or a periodic backup is due, reclaims
// tombstoned capacity when the configured ratio is exceeded, and persists
// unsaved state. Failures are logged per cycle and never terminate the
// loop.
type MaintenanceScheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *Logger

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMaintenanceScheduler creates a scheduler for the engine. It does not
// start the loop; tests typically never do.
func NewMaintenanceScheduler(engine *Engine, interval time.Duration) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		engine:   engine,
		interval: interval,
		logger:   engine.logger,
	}
}

// Start launches the background loop. Idempotent.
func (m *MaintenanceScheduler) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop()
	m.logger.Info("maintenance loop started", "interval", m.interval)
}

// Stop signals the loop and waits for the current cycle to finish.
// Idempotent.
func (m *MaintenanceScheduler) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	close(m.stop)
	<-m.done
	m.logger.Info("maintenance loop stopped")
}

func (m *MaintenanceScheduler) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runCycle(context.Background())
		}
	}
}

// runCycle performs one maintenance pass. A panic or error in one cycle
// must not take down the loop, so everything is recovered and logged here.
func (m *MaintenanceScheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("maintenance cycle panicked", "panic", r)
		}
	}()

	e := m.engine

	if err := e.controller.AcquireBackground(ctx); err != nil {
		return
	}
	defer e.controller.ReleaseBackground()

	if e.optimizer.ShouldOptimize() {
		if err := e.Optimize(ctx, false); err != nil {
			m.logger.Error("scheduled optimization failed", "error", err)
		}
	}

	if e.backupDue() {
		if _, err := e.CreateBackup(ctx, ""); err != nil {
			m.logger.Error("scheduled backup failed", "error", err)
		}
	}

	if ratio := e.opts.tombstoneRebuildRatio; ratio > 0 && e.store.TombstoneRatio() >= ratio {
		if err := e.store.RebuildIndex(ctx); err != nil {
			m.logger.Error("scheduled rebuild failed", "error", err)
		}
	}

	if _, err := e.Save(); err != nil {
		m.logger.Error("scheduled save failed", "error", err)
	}
}
