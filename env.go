package kvgo

import (
	"time"

	"github.com/hupe1980/kvgo/lifecycle"
	"github.com/hupe1980/kvgo/registry"
)

// Category identifies the kind of a managed resource. It tags registry
// slots, metrics and log records.
type Category uint8

const (
	// CategoryDatabase is the root resource owning the engine handle.
	CategoryDatabase Category = iota
	// CategoryColumnFamily is a named keyspace handle.
	CategoryColumnFamily
	// CategorySnapshot is a point-in-time view handle.
	CategorySnapshot
	// CategoryIterator is a forward iterator handle.
	CategoryIterator
	// CategoryLogIterator is a write-ahead log iterator handle.
	CategoryLogIterator
)

// String implements fmt.Stringer.
func (c Category) String() string {
	switch c {
	case CategoryDatabase:
		return "database"
	case CategoryColumnFamily:
		return "column_family"
	case CategorySnapshot:
		return "snapshot"
	case CategoryIterator:
		return "iterator"
	case CategoryLogIterator:
		return "log_iterator"
	default:
		return "unknown"
	}
}

// kind maps the category to its registry kind. Kind zero is reserved by the
// registry, so categories shift up by one.
func (c Category) kind() registry.Kind { return registry.Kind(c) + 1 }

// env is the shared state behind every handle minted from one Open call: the
// handle table the tokens resolve against, plus the ambient logger and
// metrics.
type env struct {
	table   *registry.Table
	logger  *Logger
	metrics MetricsCollector
}

// acquire resolves tok to its live resource and takes a reference on it for
// the duration of one operation. The returned release must be called exactly
// once. cs is the handle's close-sync block, used to report a resource torn
// down under the caller as ErrResourceClosed rather than a stale handle.
func (e *env) acquire(tok registry.Token, cat Category, cs *lifecycle.CloseSync) (any, func(), error) {
	v, err := e.table.Get(tok, cat.kind())
	if err != nil {
		if cs != nil && cs.Requested() {
			return nil, nil, ErrResourceClosed
		}
		return nil, nil, translateError(err)
	}

	r := v.(lifecycle.Resource)
	if !r.Lifecycle().TryRetain() {
		return nil, nil, ErrResourceClosed
	}
	return v, func() { r.Lifecycle().Release() }, nil
}

// closeHandle drives the close protocol for the resource behind a handle and
// blocks until its destructor has completed, no matter which goroutine ends
// up running it. Calling it for an already-closed handle just waits (or
// returns immediately) and is always safe.
func (e *env) closeHandle(tok registry.Token, cat Category, cs *lifecycle.CloseSync) {
	start := time.Now()

	if v, err := e.table.Get(tok, cat.kind()); err == nil {
		if r, ok := v.(lifecycle.Resource); ok {
			won := lifecycle.InitiateCloseRequest(r)
			e.logger.LogCloseInitiated(cat, won)
		}
	}
	lifecycle.AwaitCloseAndDestructor(cs)

	e.metrics.RecordClose(cat, time.Since(start))
}

// cleanupArg carries what a runtime cleanup needs to reclaim a dropped
// handle. It must not reference the handle itself.
type cleanupArg struct {
	env *env
	tok registry.Token
	cat Category
}

// finalizeHandle is registered via runtime.AddCleanup on every public handle.
// When a handle becomes unreachable without an explicit Close, it initiates
// the same close protocol the explicit path uses; if the resource was already
// closed the cleanup is a no-op.
func finalizeHandle(a cleanupArg) {
	won := false
	if v, err := a.env.table.Get(a.tok, a.cat.kind()); err == nil {
		if r, ok := v.(lifecycle.Resource); ok && r.Lifecycle().TryRetain() {
			won = lifecycle.InitiateCloseRequest(r)
			r.Lifecycle().Release()
		}
	}
	a.env.metrics.RecordFinalizerCleanup(a.cat, won)
	a.env.logger.LogFinalizerCleanup(a.cat, won)
}
