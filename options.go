package kvgo

import (
	"log/slog"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures database open behavior.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring the
// lifecycle of the database and its dependent resources.
//
// Example with BasicMetricsCollector:
//
//	metrics := &kvgo.BasicMetricsCollector{}
//	db, _ := kvgo.Open(eng, kvgo.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Closes: %d, Cascaded dependents: %d\n", stats.CloseCount, stats.CascadeDependents)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for lifecycle events.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := kvgo.NewJSONLogger(slog.LevelInfo)
//	db, _ := kvgo.Open(eng, kvgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
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

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
