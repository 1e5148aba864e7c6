// Package resource provides global accounting for the memory, background work
// and log IO an engine is allowed to consume.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MemTableLimitBytes is the hard limit for in-memory table data.
	// If 0, usage is tracked but not enforced.
	MemTableLimitBytes int64

	// MaxBackgroundJobs is the maximum number of concurrent background jobs
	// (revision GC, checkpointing). If 0, defaults to 1.
	MaxBackgroundJobs int64

	// LogReadBytesPerSec caps the throughput of write-ahead log reads so log
	// iterators cannot starve foreground work. If 0, unlimited.
	LogReadBytesPerSec int64
}

// Controller enforces the limits in Config. A nil *Controller is valid and
// enforces nothing.
type Controller struct {
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	jobSem *semaphore.Weighted

	logLimiter *rate.Limiter
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundJobs <= 0 {
		cfg.MaxBackgroundJobs = 1
	}

	c := &Controller{
		jobSem: semaphore.NewWeighted(cfg.MaxBackgroundJobs),
	}

	if cfg.MemTableLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemTableLimitBytes)
	}

	if cfg.LogReadBytesPerSec > 0 {
		c.logLimiter = rate.NewLimiter(rate.Limit(cfg.LogReadBytesPerSec), int(cfg.LogReadBytesPerSec))
	}

	return c
}

// TryReserveMemory reserves bytes of memtable budget without blocking.
// Returns false if the limit would be exceeded.
func (c *Controller) TryReserveMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return false
	}
	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory returns bytes of memtable budget.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the currently reserved memtable bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireJob reserves a background job slot, blocking until one is free or
// ctx is canceled.
func (c *Controller) AcquireJob(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.jobSem.Acquire(ctx, 1)
}

// TryAcquireJob reserves a background job slot without blocking.
func (c *Controller) TryAcquireJob() bool {
	if c == nil {
		return true
	}
	return c.jobSem.TryAcquire(1)
}

// ReleaseJob returns a background job slot.
func (c *Controller) ReleaseJob() {
	if c == nil {
		return
	}
	c.jobSem.Release(1)
}

// WaitLogRead blocks until the log-read limiter admits n bytes.
func (c *Controller) WaitLogRead(ctx context.Context, n int) error {
	if c == nil || c.logLimiter == nil {
		return nil
	}
	return c.logLimiter.WaitN(ctx, n)
}
