package kvgo

import (
	"runtime"

	"github.com/hupe1980/kvgo/engine"
	"github.com/hupe1980/kvgo/lifecycle"
	"github.com/hupe1980/kvgo/registry"
)

// logItrResource is the managed resource behind a LogIterator handle.
type logItrResource struct {
	lifecycle.Managed

	env    *env
	tok    registry.Token
	root   *lifecycle.Ref[*dbResource]
	native engine.LogIterator
}

// Shutdown implements lifecycle.Resource. As with itrResource, the native
// iterator is closed by the destructor rather than here, so a cascade never
// closes it under a concurrent Next.
func (l *logItrResource) Shutdown() {
	l.env.table.Remove(l.tok)
	l.root.Get().removeDependent(l.tok, CategoryLogIterator)
}

func (l *logItrResource) destroy() {
	if err := l.native.Close(); err != nil {
		l.env.logger.WithCategory(CategoryLogIterator).Error("native log iterator close failed", "error", err)
	}
	l.root.Release()
}

// LogIterator is a handle to a write-ahead log iterator. It is not safe for
// concurrent use by multiple goroutines. It keeps the database open while it
// exists; close it when done.
type LogIterator struct {
	env     *env
	tok     registry.Token
	cs      *lifecycle.CloseSync
	cleanup runtime.Cleanup
	err     error
}

// NewLogIterator streams log entries with sequence >= since. Fails with
// ErrDatabaseClosing if the database's close protocol has started, and with
// the engine's error when it keeps no log (engine.ErrLogUnavailable for
// memengine without a directory).
func (db *Database) NewLogIterator(since uint64) (*LogIterator, error) {
	d, release, err := db.resource()
	if err != nil {
		return nil, err
	}
	defer release()

	native, err := d.eng.NewLogIterator(since)
	if err != nil {
		return nil, translateError(err)
	}

	l := &logItrResource{env: db.env, native: native}
	l.root = lifecycle.NewRef(d)
	l.Init(l.destroy)
	l.tok = db.env.table.Insert(CategoryLogIterator.kind(), l)

	if err := d.addDependent(l.tok, CategoryLogIterator, l); err != nil {
		lifecycle.CloseAndAwait(l)
		return nil, err
	}

	h := &LogIterator{env: db.env, tok: l.tok, cs: l.CloseSync()}
	h.cleanup = runtime.AddCleanup(h, finalizeHandle, cleanupArg{env: db.env, tok: l.tok, cat: CategoryLogIterator})
	return h, nil
}

// Next returns the next log entry. ok is false once the log is exhausted,
// the underlying iterator failed, or the handle was closed; Err
// distinguishes. Throttling of log reads is the engine's concern: an engine
// built with a resource.Controller charges each record against its read
// budget before returning it.
func (it *LogIterator) Next() (engine.LogEntry, bool) {
	if it.err != nil {
		return engine.LogEntry{}, false
	}

	v, release, err := it.env.acquire(it.tok, CategoryLogIterator, it.cs)
	if err != nil {
		it.err = err
		return engine.LogEntry{}, false
	}
	defer release()

	return v.(*logItrResource).native.Next()
}

// Err returns the first error the iterator encountered. A stream interrupted
// by the iterator being closed underneath it reports ErrResourceClosed.
func (it *LogIterator) Err() error {
	if it.err != nil {
		return it.err
	}

	v, release, err := it.env.acquire(it.tok, CategoryLogIterator, it.cs)
	if err != nil {
		it.err = err
		return err
	}
	defer release()

	return translateError(v.(*logItrResource).native.Err())
}

// Close releases the log iterator and blocks until its teardown has
// completed. Closing an already-closed log iterator is a no-op.
func (it *LogIterator) Close() error {
	it.cleanup.Stop()
	it.env.closeHandle(it.tok, CategoryLogIterator, it.cs)
	return nil
}
