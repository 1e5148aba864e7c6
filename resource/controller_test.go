package resource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemTableLimitBytes: 100})

	require.True(t, c.TryReserveMemory(50))
	assert.Equal(t, int64(50), c.MemoryUsage())

	require.True(t, c.TryReserveMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	// Over the limit.
	assert.False(t, c.TryReserveMemory(20))
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	assert.True(t, c.TryReserveMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	require.True(t, c.TryReserveMemory(1 << 30))
	assert.Equal(t, int64(1<<30), c.MemoryUsage())

	c.ReleaseMemory(1 << 29)
	assert.Equal(t, int64(1<<29), c.MemoryUsage())
}

func TestController_Jobs(t *testing.T) {
	c := NewController(Config{MaxBackgroundJobs: 2})

	require.True(t, c.TryAcquireJob())
	require.True(t, c.TryAcquireJob())
	assert.False(t, c.TryAcquireJob())

	c.ReleaseJob()
	assert.True(t, c.TryAcquireJob())

	// AcquireJob blocks until a slot frees up.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.AcquireJob(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.AcquireJob(context.Background()))
	}()
	c.ReleaseJob()
	wg.Wait()
}

func TestController_NilIsPermissive(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryReserveMemory(1<<40))
	c.ReleaseMemory(1 << 40)
	assert.Equal(t, int64(0), c.MemoryUsage())
	assert.True(t, c.TryAcquireJob())
	c.ReleaseJob()
	assert.NoError(t, c.AcquireJob(context.Background()))
	assert.NoError(t, c.WaitLogRead(context.Background(), 1<<20))
}

func TestController_LogReadRate(t *testing.T) {
	c := NewController(Config{LogReadBytesPerSec: 1000})

	// The burst admits the first read immediately; the next one of the same
	// size has to wait roughly half a second.
	require.NoError(t, c.WaitLogRead(context.Background(), 1000))

	start := time.Now()
	require.NoError(t, c.WaitLogRead(context.Background(), 500))
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}
