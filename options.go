package goggles

import (
	"log/slog"
	"time"

	"github.com/sarvarunajvm/ideal-goggles-sub000/blobstore"
	"github.com/sarvarunajvm/ideal-goggles-sub000/persistence"
)

const (
	// DefaultIVFThreshold is the vector count at which the exact index is
	// escalated to the clustered representation.
	DefaultIVFThreshold = 10_000

	// DefaultPQThreshold is the vector count at which stored vectors are
	// additionally product-quantized.
	DefaultPQThreshold = 200_000

	// DefaultOptimizeCooldown throttles consecutive optimizations so the
	// engine does not thrash near a threshold.
	DefaultOptimizeCooldown = 4 * time.Hour

	// DefaultMaintenanceInterval is the background loop period.
	DefaultMaintenanceInterval = time.Hour

	// DefaultBackupInterval is how often the scheduler takes a backup.
	DefaultBackupInterval = 24 * time.Hour

	// DefaultMaxBackups bounds backup retention.
	DefaultMaxBackups = 7
)

type options struct {
	logger      *Logger
	metrics     MetricsCollector
	compression persistence.Compression

	ivfThreshold int
	pqThreshold  int
	cooldown     time.Duration
	seed         int64

	maintenance           bool
	maintenanceInterval   time.Duration
	backupInterval        time.Duration
	maxBackups            int
	tombstoneRebuildRatio float64
	remoteBackups         blobstore.Store

	maxBackgroundWorkers int64
	ioLimitBytesPerSec   int64
}

// Option configures engine construction.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithCompression selects the codec for the persisted index blob.
// Defaults to zstd.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithIVFThreshold sets the vector count at which the index escalates from
// the exact to the clustered representation.
func WithIVFThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.ivfThreshold = n
		}
	}
}

// WithPQThreshold sets the vector count at which stored vectors are
// additionally product-quantized. Must exceed the IVF threshold to take
// effect.
func WithPQThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pqThreshold = n
		}
	}
}

// WithOptimizeCooldown sets the minimum time between optimizations.
func WithOptimizeCooldown(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cooldown = d
		}
	}
}

// WithMaintenance enables or disables the background maintenance loop.
// Disabled loops are never started, which is the usual setting in tests.
func WithMaintenance(enabled bool) Option {
	return func(o *options) {
		o.maintenance = enabled
	}
}

// WithMaintenanceInterval sets the background loop period.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maintenanceInterval = d
		}
	}
}

// WithBackupInterval sets how often the scheduler takes a backup.
func WithBackupInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.backupInterval = d
		}
	}
}

// WithMaxBackups bounds how many backups are retained.
func WithMaxBackups(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBackups = n
		}
	}
}

// WithTombstoneRebuildRatio makes the scheduler trigger an automatic
// rebuild once tombstoned slots exceed the given fraction of all slots.
// Zero (the default) disables automatic rebuilds; space is then reclaimed
// only by explicit RebuildIndex calls or optimizations.
func WithTombstoneRebuildRatio(ratio float64) Option {
	return func(o *options) {
		if ratio > 0 && ratio <= 1 {
			o.tombstoneRebuildRatio = ratio
		}
	}
}

// WithRemoteBackups mirrors every backup to an object store (see the
// blobstore/minio and blobstore/s3 packages). Mirror failures are logged,
// never fatal.
func WithRemoteBackups(store blobstore.Store) Option {
	return func(o *options) {
		o.remoteBackups = store
	}
}

// WithResourceLimits bounds background concurrency and backup IO
// throughput. Zero values mean one worker and unlimited IO.
func WithResourceLimits(maxBackgroundWorkers, ioLimitBytesPerSec int64) Option {
	return func(o *options) {
		o.maxBackgroundWorkers = maxBackgroundWorkers
		o.ioLimitBytesPerSec = ioLimitBytesPerSec
	}
}

// WithSeed fixes the RNG used for quantizer training, for reproducible
// clustering in tests.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:              NoopLogger(),
		metrics:             NoopMetricsCollector{},
		compression:         persistence.CompressionZstd,
		ivfThreshold:        DefaultIVFThreshold,
		pqThreshold:         DefaultPQThreshold,
		cooldown:            DefaultOptimizeCooldown,
		maintenance:         true,
		maintenanceInterval: DefaultMaintenanceInterval,
		backupInterval:      DefaultBackupInterval,
		maxBackups:          DefaultMaxBackups,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
