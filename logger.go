package vecmem

import (
	"log/slog"
	"os"

	"github.com/hupe1980/vecmem/model"
)

// Logger wraps slog.Logger with vecmem-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithID adds a node id field to the logger.
func (l *Logger) WithID(id model.NodeID) *Logger {
	return &Logger{
		Logger: l.Logger.With("id", id.String()),
	}
}

// WithTier adds a tier field to the logger.
func (l *Logger) WithTier(t model.StorageTier) *Logger {
	return &Logger{
		Logger: l.Logger.With("tier", t.String()),
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(id model.NodeID, dimension int, err error) {
	if err != nil {
		l.Error("insert failed",
			"id", id.String(),
			"dimension", dimension,
			"error", err,
		)
	} else {
		l.Debug("insert completed",
			"id", id.String(),
			"dimension", dimension,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(k, resultsFound int, err error) {
	if err != nil {
		l.Error("search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.Debug("search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(id model.NodeID, err error) {
	if err != nil {
		l.Error("delete failed",
			"id", id.String(),
			"error", err,
		)
	} else {
		l.Debug("delete completed",
			"id", id.String(),
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(filename string, watermark uint64, err error) {
	if err != nil {
		l.Error("snapshot failed",
			"filename", filename,
			"error", err,
		)
	} else {
		l.Info("snapshot saved",
			"filename", filename,
			"watermark", watermark,
		)
	}
}

// LogRecovery logs a WAL recovery operation.
func (l *Logger) LogRecovery(entriesReplayed int, err error) {
	if err != nil {
		l.Error("WAL recovery failed",
			"entries_replayed", entriesReplayed,
			"error", err,
		)
	} else {
		l.Info("WAL recovery completed",
			"entries_replayed", entriesReplayed,
		)
	}
}

// LogDemotion logs nodes moved to a colder tier.
func (l *Logger) LogDemotion(from, to model.StorageTier, count int, err error) {
	if err != nil {
		l.Warn("demotion incomplete",
			"from", from.String(),
			"to", to.String(),
			"moved", count,
			"error", err,
		)
	} else if count > 0 {
		l.Info("demotion completed",
			"from", from.String(),
			"to", to.String(),
			"moved", count,
		)
	}
}

// LogPromotion logs a node copied into the hot tier.
func (l *Logger) LogPromotion(id model.NodeID, from model.StorageTier) {
	l.WithID(id).WithTier(model.TierHot).Debug("node promoted",
		"from", from.String(),
	)
}
