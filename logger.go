package goggles

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with engine-specific helpers so operations log
// with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses the default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// LogAdd logs an insert operation.
func (l *Logger) LogAdd(fileID int64, dimension int, ok bool) {
	if !ok {
		l.Warn("add rejected",
			"file_id", fileID,
			"dimension", dimension,
		)
	} else {
		l.Debug("add completed",
			"file_id", fileID,
			"dimension", dimension,
		)
	}
}

// LogRemove logs a delete operation.
func (l *Logger) LogRemove(fileID int64, removed bool) {
	l.Debug("remove completed",
		"file_id", fileID,
		"removed", removed,
	)
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(k, resultsFound int, took time.Duration) {
	l.Debug("search completed",
		"k", k,
		"results", resultsFound,
		"took", took,
	)
}

// LogOptimize logs a representation change.
func (l *Logger) LogOptimize(from, to string, count int, err error) {
	if err != nil {
		l.Error("optimization failed",
			"from", from,
			"to", to,
			"vector_count", count,
			"error", err,
		)
	} else {
		l.Info("optimization completed",
			"from", from,
			"to", to,
			"vector_count", count,
		)
	}
}

// LogRebuild logs an index compaction.
func (l *Logger) LogRebuild(live, reclaimed int, err error) {
	if err != nil {
		l.Error("rebuild failed", "error", err)
	} else {
		l.Info("rebuild completed",
			"live", live,
			"reclaimed", reclaimed,
		)
	}
}

// LogSave logs a persistence operation.
func (l *Logger) LogSave(path string, saved bool, err error) {
	switch {
	case err != nil:
		l.Error("save failed", "path", path, "error", err)
	case saved:
		l.Info("index saved", "path", path)
	default:
		l.Debug("save skipped, no unsaved changes", "path", path)
	}
}

// LogBackup logs a backup operation.
func (l *Logger) LogBackup(name string, err error) {
	if err != nil {
		l.Error("backup failed", "name", name, "error", err)
	} else {
		l.Info("backup completed", "name", name)
	}
}

// LogRestore logs a backup restore.
func (l *Logger) LogRestore(name string, err error) {
	if err != nil {
		l.Error("restore failed", "name", name, "error", err)
	} else {
		l.Info("restore completed", "name", name)
	}
}
