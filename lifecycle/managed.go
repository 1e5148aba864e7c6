package lifecycle

// Resource is implemented by every lifecycle-managed object. Embedding
// Managed provides everything except Shutdown.
type Resource interface {
	// Shutdown releases the resource's native handle and cascades a forced
	// close to anything registered with it. It is invoked exactly once, by
	// the goroutine that wins the close race, before the open reference is
	// released.
	Shutdown()

	// Lifecycle returns the embedded close-protocol state.
	Lifecycle() *Managed
}

// Managed is the base of every counted resource: a reference count plus the
// CloseSync block for the close protocol.
//
// The count starts at one when Init is called - the "open" reference that is
// released exactly once, by the winner of the close race. External holders
// add to the count via Retain/TryRetain and drop via Release. The destroy
// hook runs on whichever goroutine drives the count to zero.
type Managed struct {
	refs    RefCount
	cs      *CloseSync
	destroy func()
}

// Init prepares the resource for use. destroy is the physical destructor; it
// runs once, after Shutdown, when the last reference is released. It must not
// be nil for resources that own anything.
func (m *Managed) Init(destroy func()) {
	m.cs = newCloseSync()
	m.destroy = destroy
	m.refs.Retain()
}

// Lifecycle implements Resource.
func (m *Managed) Lifecycle() *Managed { return m }

// CloseSync returns the resource's synchronization block. Callers that intend
// to await teardown must capture it before initiating the close.
func (m *Managed) CloseSync() *CloseSync { return m.cs }

// CloseRequested reports whether the close protocol has started.
func (m *Managed) CloseRequested() bool { return m.cs.Requested() }

// Retain adds a reference and returns the new count.
func (m *Managed) Retain() uint32 { return m.refs.Retain() }

// TryRetain adds a reference only while the resource is still referenced.
// It is the safe form for lookups that race destruction.
func (m *Managed) TryRetain() bool { return m.refs.TryRetain() }

// RefCount returns the current reference count (diagnostics only).
func (m *Managed) RefCount() uint32 { return m.refs.Count() }

// Release drops a reference. The caller that drives the count to zero runs
// the physical destructor and then, touching only the CloseSync block, marks
// the protocol done and wakes all waiters.
func (m *Managed) Release() uint32 {
	n := m.refs.Release()
	if n == 0 {
		cs := m.cs
		cs.beginDestruct()
		if m.destroy != nil {
			m.destroy()
		}
		// Past this point the resource must not be read; only the
		// separately held CloseSync block is touched.
		cs.finish()
	}
	return n
}

// InitiateCloseRequest begins the close protocol for r. Exactly one of any
// number of concurrent callers observes true and, before returning, has run
// r.Shutdown and released the open reference. Every other caller observes
// false and must not touch r beyond its CloseSync block.
func InitiateCloseRequest(r Resource) bool {
	m := r.Lifecycle()
	if !m.cs.request() {
		return false
	}
	r.Shutdown()
	m.Release()
	return true
}

// AwaitCloseAndDestructor blocks until the destructor of the resource that
// owns cs has completed. It may be called from any goroutine, including ones
// that lost the close race, and only ever reads the CloseSync block.
func AwaitCloseAndDestructor(cs *CloseSync) {
	cs.Await()
}

// CloseAndAwait requests a close and blocks until teardown has fully
// completed, regardless of which goroutine ends up performing it. It returns
// whether the calling goroutine was the winner.
func CloseAndAwait(r Resource) bool {
	cs := r.Lifecycle().CloseSync()
	won := InitiateCloseRequest(r)
	cs.Await()
	return won
}
