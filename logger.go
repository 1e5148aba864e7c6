package kvgo

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with kvgo-specific context.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithCategory adds a resource category field to the logger.
func (l *Logger) WithCategory(c Category) *Logger {
	return &Logger{
		Logger: l.Logger.With("category", c.String()),
	}
}

// LogOpen logs a database open.
func (l *Logger) LogOpen(duration time.Duration, err error) {
	if err != nil {
		l.Error("open failed",
			"duration", duration,
			"error", err,
		)
	} else {
		l.Info("database opened",
			"duration", duration,
		)
	}
}

// LogCloseInitiated logs the start of a resource's close protocol.
func (l *Logger) LogCloseInitiated(c Category, won bool) {
	l.Debug("close initiated",
		"category", c.String(),
		"winner", won,
	)
}

// LogCascade logs a forced close cascading to registered dependents.
func (l *Logger) LogCascade(dependents int) {
	if dependents > 0 {
		l.Info("cascading close to dependents",
			"dependents", dependents,
		)
	} else {
		l.Debug("no dependents to cascade")
	}
}

// LogAttachRejected logs a dependent registration rejected by a closing
// database.
func (l *Logger) LogAttachRejected(c Category) {
	l.Warn("dependent attach rejected, database closing",
		"category", c.String(),
	)
}

// LogFinalizerCleanup logs a close driven by the runtime cleanup of a
// dropped handle.
func (l *Logger) LogFinalizerCleanup(c Category, won bool) {
	if won {
		l.Warn("handle dropped without close, reclaimed by cleanup",
			"category", c.String(),
		)
	} else {
		l.Debug("cleanup ran after explicit close",
			"category", c.String(),
		)
	}
}
