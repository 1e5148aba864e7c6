package lifecycle

import (
	"sync"
	"sync/atomic"
)

// Close protocol phases. Transitions are strictly forward:
// open -> requested -> destructing -> done.
const (
	phaseOpen uint32 = iota
	phaseRequested
	phaseDestructing
	phaseDone
)

// CloseSync is the synchronization block for the close protocol. It is
// allocated separately from the resource it belongs to and is jointly kept
// alive by the destructing goroutine and any goroutine awaiting completion,
// so it remains usable after the resource's other state has been released.
//
// Holders of a CloseSync must never reach back into the owning resource once
// the close request has been made.
type CloseSync struct {
	mu    sync.Mutex
	cond  sync.Cond
	phase atomic.Uint32
}

func newCloseSync() *CloseSync {
	cs := &CloseSync{}
	cs.cond.L = &cs.mu
	return cs
}

// request performs the open -> requested transition. Exactly one of any
// number of concurrent callers observes true.
func (cs *CloseSync) request() bool {
	return cs.phase.CompareAndSwap(phaseOpen, phaseRequested)
}

// beginDestruct marks the start of the physical destructor.
func (cs *CloseSync) beginDestruct() {
	cs.phase.Store(phaseDestructing)
}

// finish marks the destructor complete and wakes every waiter. It touches
// only the CloseSync block; the owning resource must be considered gone.
func (cs *CloseSync) finish() {
	cs.mu.Lock()
	cs.phase.Store(phaseDone)
	cs.cond.Broadcast()
	cs.mu.Unlock()
}

// Requested reports whether a close has been requested. Once true it never
// reverts.
func (cs *CloseSync) Requested() bool {
	return cs.phase.Load() != phaseOpen
}

// Done reports whether the destructor has completed.
func (cs *CloseSync) Done() bool {
	return cs.phase.Load() == phaseDone
}

// Await blocks the calling goroutine until the destructor has completed.
// Calls made after completion return immediately. Await only reads the
// CloseSync block itself, never the resource it belonged to.
func (cs *CloseSync) Await() {
	cs.mu.Lock()
	for cs.phase.Load() != phaseDone {
		cs.cond.Wait()
	}
	cs.mu.Unlock()
}
