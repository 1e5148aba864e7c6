package kvgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    openCounter    prometheus.Counter
//	    closeHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordOpen(duration time.Duration, err error) {
//	    p.openCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordOpen is called after each database open.
	// duration is the total time taken, err is nil if successful.
	RecordOpen(duration time.Duration, err error)

	// RecordClose is called after a resource's teardown has fully completed.
	// category identifies the resource kind, duration spans from the close
	// request to destructor completion.
	RecordClose(category Category, duration time.Duration)

	// RecordCascade is called when a database close forces its registered
	// dependents closed. dependents is the number of resources cascaded to.
	RecordCascade(dependents int)

	// RecordAttachRejected is called when a dependent registration is
	// rejected because the database's close protocol has started.
	RecordAttachRejected(category Category)

	// RecordFinalizerCleanup is called when the runtime cleanup of a dropped
	// handle runs. won reports whether the cleanup actually initiated the
	// close (false when the handle was closed explicitly first).
	RecordFinalizerCleanup(category Category, won bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOpen(time.Duration, error)       {}
func (NoopMetricsCollector) RecordClose(Category, time.Duration)   {}
func (NoopMetricsCollector) RecordCascade(int)                     {}
func (NoopMetricsCollector) RecordAttachRejected(Category)         {}
func (NoopMetricsCollector) RecordFinalizerCleanup(Category, bool) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	OpenCount         atomic.Int64
	OpenErrors        atomic.Int64
	OpenTotalNanos    atomic.Int64
	CloseCount        atomic.Int64
	CloseTotalNanos   atomic.Int64
	CascadeCount      atomic.Int64
	CascadeDependents atomic.Int64
	AttachRejected    atomic.Int64
	CleanupRuns       atomic.Int64
	CleanupReclaims   atomic.Int64
}

// RecordOpen implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOpen(duration time.Duration, err error) {
	b.OpenCount.Add(1)
	b.OpenTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.OpenErrors.Add(1)
	}
}

// RecordClose implements MetricsCollector.
func (b *BasicMetricsCollector) RecordClose(category Category, duration time.Duration) {
	b.CloseCount.Add(1)
	b.CloseTotalNanos.Add(duration.Nanoseconds())
}

// RecordCascade implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCascade(dependents int) {
	b.CascadeCount.Add(1)
	b.CascadeDependents.Add(int64(dependents))
}

// RecordAttachRejected implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAttachRejected(category Category) {
	b.AttachRejected.Add(1)
}

// RecordFinalizerCleanup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFinalizerCleanup(category Category, won bool) {
	b.CleanupRuns.Add(1)
	if won {
		b.CleanupReclaims.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		OpenCount:         b.OpenCount.Load(),
		OpenErrors:        b.OpenErrors.Load(),
		OpenAvgNanos:      avgNanos(b.OpenTotalNanos.Load(), b.OpenCount.Load()),
		CloseCount:        b.CloseCount.Load(),
		CloseAvgNanos:     avgNanos(b.CloseTotalNanos.Load(), b.CloseCount.Load()),
		CascadeCount:      b.CascadeCount.Load(),
		CascadeDependents: b.CascadeDependents.Load(),
		AttachRejected:    b.AttachRejected.Load(),
		CleanupRuns:       b.CleanupRuns.Load(),
		CleanupReclaims:   b.CleanupReclaims.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	OpenCount         int64
	OpenErrors        int64
	OpenAvgNanos      int64
	CloseCount        int64
	CloseAvgNanos     int64
	CascadeCount      int64
	CascadeDependents int64
	AttachRejected    int64
	CleanupRuns       int64
	CleanupReclaims   int64
}
