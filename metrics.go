package goggles

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordAdd is called after each insert attempt. ok reports whether
	// the vector was accepted.
	RecordAdd(duration time.Duration, ok bool)

	// RecordRemove is called after each remove attempt. removed reports
	// whether a live vector was tombstoned.
	RecordRemove(duration time.Duration, removed bool)

	// RecordSearch is called after each search. k is the number of
	// results requested.
	RecordSearch(k int, duration time.Duration)

	// RecordOptimize is called after each optimization attempt.
	RecordOptimize(duration time.Duration, err error)

	// RecordBackup is called after each backup attempt.
	RecordBackup(duration time.Duration, err error)

	// RecordSave is called after each persistence attempt. saved reports
	// whether anything was written.
	RecordSave(duration time.Duration, saved bool, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(time.Duration, bool)          {}
func (NoopMetricsCollector) RecordRemove(time.Duration, bool)       {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration)        {}
func (NoopMetricsCollector) RecordOptimize(time.Duration, error)    {}
func (NoopMetricsCollector) RecordBackup(time.Duration, error)      {}
func (NoopMetricsCollector) RecordSave(time.Duration, bool, error)  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount         atomic.Int64
	AddRejected      atomic.Int64
	RemoveCount      atomic.Int64
	RemoveMisses     atomic.Int64
	SearchCount      atomic.Int64
	SearchTotalNanos atomic.Int64
	OptimizeCount    atomic.Int64
	OptimizeErrors   atomic.Int64
	BackupCount      atomic.Int64
	BackupErrors     atomic.Int64
	SaveCount        atomic.Int64
	SaveErrors       atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(_ time.Duration, ok bool) {
	b.AddCount.Add(1)
	if !ok {
		b.AddRejected.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(_ time.Duration, removed bool) {
	b.RemoveCount.Add(1)
	if !removed {
		b.RemoveMisses.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
}

// RecordOptimize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOptimize(_ time.Duration, err error) {
	b.OptimizeCount.Add(1)
	if err != nil {
		b.OptimizeErrors.Add(1)
	}
}

// RecordBackup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackup(_ time.Duration, err error) {
	b.BackupCount.Add(1)
	if err != nil {
		b.BackupErrors.Add(1)
	}
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(_ time.Duration, saved bool, err error) {
	if saved {
		b.SaveCount.Add(1)
	}
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		AddCount:       b.AddCount.Load(),
		AddRejected:    b.AddRejected.Load(),
		RemoveCount:    b.RemoveCount.Load(),
		RemoveMisses:   b.RemoveMisses.Load(),
		SearchCount:    b.SearchCount.Load(),
		OptimizeCount:  b.OptimizeCount.Load(),
		OptimizeErrors: b.OptimizeErrors.Load(),
		BackupCount:    b.BackupCount.Load(),
		BackupErrors:   b.BackupErrors.Load(),
		SaveCount:      b.SaveCount.Load(),
		SaveErrors:     b.SaveErrors.Load(),
	}
	if stats.SearchCount > 0 {
		stats.SearchAvgNanos = b.SearchTotalNanos.Load() / stats.SearchCount
	}
	return stats
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount       int64
	AddRejected    int64
	RemoveCount    int64
	RemoveMisses   int64
	SearchCount    int64
	SearchAvgNanos int64
	OptimizeCount  int64
	OptimizeErrors int64
	BackupCount    int64
	BackupErrors   int64
	SaveCount      int64
	SaveErrors     int64
}
