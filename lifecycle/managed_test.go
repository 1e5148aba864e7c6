package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResource counts how often its shutdown and destructor run so tests can
// assert the exactly-once guarantees of the close protocol.
type fakeResource struct {
	Managed
	shutdowns atomic.Int32
	destroys  atomic.Int32
}

func newFakeResource() *fakeResource {
	r := &fakeResource{}
	r.Init(func() { r.destroys.Add(1) })
	return r
}

func (r *fakeResource) Shutdown() {
	r.shutdowns.Add(1)
}

func TestInitiateCloseRequest_SingleWinner(t *testing.T) {
	const racers = 32

	r := newFakeResource()

	var wg sync.WaitGroup
	var winners atomic.Int32
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if InitiateCloseRequest(r) {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one goroutine may win the close race")
	assert.Equal(t, int32(1), r.shutdowns.Load(), "shutdown must run exactly once")
	assert.Equal(t, int32(1), r.destroys.Load(), "destructor must run exactly once")
	assert.True(t, r.CloseSync().Done())
}

func TestInitiateCloseRequest_Idempotent(t *testing.T) {
	r := newFakeResource()

	require.True(t, InitiateCloseRequest(r))
	assert.False(t, InitiateCloseRequest(r))
	assert.False(t, InitiateCloseRequest(r))
	assert.Equal(t, int32(1), r.shutdowns.Load())
}

// Destruction is deferred until the last external reference is gone, and the
// destructor runs on whichever goroutine drops it.
func TestRelease_DeferredDestruction(t *testing.T) {
	r := newFakeResource()
	r.Retain() // external holder

	require.True(t, InitiateCloseRequest(r))
	assert.Equal(t, int32(1), r.shutdowns.Load())
	assert.Equal(t, int32(0), r.destroys.Load(), "destructor must wait for the external reference")
	assert.False(t, r.CloseSync().Done())

	r.Release()
	assert.Equal(t, int32(1), r.destroys.Load())
	assert.True(t, r.CloseSync().Done())
}

// Waiters that arrive before and after completion must all return, and none
// before the destructor has finished.
func TestAwaitCloseAndDestructor_MultipleWaiters(t *testing.T) {
	const waiters = 8

	r := newFakeResource()
	r.Retain()
	cs := r.CloseSync()

	var destroyed atomic.Bool
	orig := r.destroy
	r.destroy = func() {
		time.Sleep(20 * time.Millisecond) // widen the race window
		destroyed.Store(true)
		orig()
	}

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			AwaitCloseAndDestructor(cs)
			assert.True(t, destroyed.Load(), "Await returned before the destructor completed")
		}()
	}

	require.True(t, InitiateCloseRequest(r))
	r.Release()
	wg.Wait()

	// Late waiters return immediately.
	done := make(chan struct{})
	go func() {
		AwaitCloseAndDestructor(cs)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await after completion did not return")
	}
}

func TestCloseAndAwait(t *testing.T) {
	r := newFakeResource()
	won := CloseAndAwait(r)
	assert.True(t, won)
	assert.True(t, r.CloseSync().Done())

	// Losing callers still block until done, then return.
	r2 := newFakeResource()
	require.True(t, InitiateCloseRequest(r2))
	assert.False(t, CloseAndAwait(r2))
}

func TestTryRetain_FailsDuringDestruction(t *testing.T) {
	r := newFakeResource()
	require.True(t, InitiateCloseRequest(r))

	// The open reference is gone; the count is zero.
	assert.False(t, r.TryRetain())
}
