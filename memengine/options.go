package memengine

import (
	"time"

	"github.com/hupe1980/kvgo/resource"
)

// Logger is a minimal logging interface so callers can plug in their own.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}

// Options contains configuration for the engine.
type Options struct {
	// Dir is the directory for the write-ahead log. Empty disables the log:
	// the engine is then purely in-memory and log iterators are unavailable.
	Dir string

	// Compression selects the block compression applied to logged values.
	Compression CompressionType

	// CompressionLevel sets the zstd compression level (ignored for LZ4).
	// 0 uses the default level.
	CompressionLevel int

	// SyncWrites fsyncs the log after every append. Slow but durable.
	SyncWrites bool

	// GCInterval is the cadence of the revision-pruning pass. 0 disables it.
	GCInterval time.Duration

	// Controller, if set, enforces memtable memory limits, background job
	// slots and log-read throughput.
	Controller *resource.Controller

	// Logger receives operational log lines. Defaults to a no-op logger.
	Logger Logger
}

func defaultOptions() Options {
	return Options{
		Compression: CompressionNone,
		Logger:      noopLogger{},
	}
}
