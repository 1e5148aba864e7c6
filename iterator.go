package kvgo

import (
	"runtime"

	"github.com/hupe1980/kvgo/engine"
	"github.com/hupe1980/kvgo/lifecycle"
	"github.com/hupe1980/kvgo/registry"
)

// itrResource is the managed resource behind an Iterator handle.
type itrResource struct {
	lifecycle.Managed

	env    *env
	tok    registry.Token
	root   *lifecycle.Ref[*dbResource]
	native engine.Iterator
}

// Shutdown implements lifecycle.Resource. The native iterator is not closed
// here: a cascade runs Shutdown on the closing goroutine while a scan may be
// mid-call on another, and native iterators are not safe for concurrent use.
// Closing is left to the destructor, which the reference count defers past
// the last in-flight operation.
func (i *itrResource) Shutdown() {
	i.env.table.Remove(i.tok)
	i.root.Get().removeDependent(i.tok, CategoryIterator)
}

func (i *itrResource) destroy() {
	if err := i.native.Close(); err != nil {
		i.env.logger.WithCategory(CategoryIterator).Error("native iterator close failed", "error", err)
	}
	// The root reference is dropped only after the native close; the engine
	// outlives every native handle it issued.
	i.root.Release()
}

// Iterator is a handle to a forward iterator over a column family. Like the
// engine iterator it wraps, it is not safe for concurrent use by multiple
// goroutines. It keeps the database open while it exists; close it when done.
//
// When the database (or a cascade) closes the iterator underneath an
// in-flight scan, positioning calls fail and Err reports ErrResourceClosed.
type Iterator struct {
	env     *env
	tok     registry.Token
	cs      *lifecycle.CloseSync
	cleanup runtime.Cleanup
	err     error
}

// NewIterator returns an iterator over the default column family, or over
// the column family given via WithColumnFamily. A snapshot may be supplied
// via WithSnapshot. Fails with ErrDatabaseClosing if the database's close
// protocol has started.
func (db *Database) NewIterator(optFns ...ReadOption) (*Iterator, error) {
	d, release, err := db.resource()
	if err != nil {
		return nil, err
	}
	defer release()

	cf, opts, relOpts, err := db.resolveRead(d, optFns)
	if err != nil {
		return nil, err
	}
	defer relOpts()

	native, err := d.eng.NewIterator(cf, opts)
	if err != nil {
		return nil, translateError(err)
	}

	i := &itrResource{env: db.env, native: native}
	i.root = lifecycle.NewRef(d)
	i.Init(i.destroy)
	i.tok = db.env.table.Insert(CategoryIterator.kind(), i)

	if err := d.addDependent(i.tok, CategoryIterator, i); err != nil {
		lifecycle.CloseAndAwait(i)
		return nil, err
	}

	h := &Iterator{env: db.env, tok: i.tok, cs: i.CloseSync()}
	h.cleanup = runtime.AddCleanup(h, finalizeHandle, cleanupArg{env: db.env, tok: i.tok, cat: CategoryIterator})
	return h, nil
}

// NewIterator returns an iterator over this column family. A snapshot may be
// supplied via WithSnapshot.
func (cf *ColumnFamily) NewIterator(optFns ...ReadOption) (*Iterator, error) {
	c, release, err := cf.resource()
	if err != nil {
		return nil, err
	}
	defer release()

	// Route through the root resource; the iterator registers with the
	// database regardless of which handle created it.
	d := c.root.Get()
	if !d.TryRetain() {
		return nil, ErrResourceClosed
	}
	defer d.Release()

	var o readOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	opts := engine.ReadOptions{}
	if o.snapshot != nil {
		native, rel, err := o.snapshot.native()
		if err != nil {
			return nil, err
		}
		defer rel()
		opts.Snapshot = native
	}

	native, err := d.eng.NewIterator(c.native, opts)
	if err != nil {
		return nil, translateError(err)
	}

	i := &itrResource{env: cf.env, native: native}
	i.root = lifecycle.NewRef(d)
	i.Init(i.destroy)
	i.tok = cf.env.table.Insert(CategoryIterator.kind(), i)

	if err := d.addDependent(i.tok, CategoryIterator, i); err != nil {
		lifecycle.CloseAndAwait(i)
		return nil, err
	}

	h := &Iterator{env: cf.env, tok: i.tok, cs: i.CloseSync()}
	h.cleanup = runtime.AddCleanup(h, finalizeHandle, cleanupArg{env: cf.env, tok: i.tok, cat: CategoryIterator})
	return h, nil
}

// with resolves the iterator's resource, runs fn against the native
// iterator, and records a close happening underneath the scan in err.
func (it *Iterator) with(fn func(engine.Iterator)) bool {
	if it.err != nil {
		return false
	}
	v, release, err := it.env.acquire(it.tok, CategoryIterator, it.cs)
	if err != nil {
		it.err = err
		return false
	}
	defer release()

	fn(v.(*itrResource).native)
	return true
}

// Valid reports whether the iterator is positioned at an entry. It reports
// false once the iterator has been closed.
func (it *Iterator) Valid() bool {
	valid := false
	it.with(func(n engine.Iterator) { valid = n.Valid() })
	return valid
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.with(func(n engine.Iterator) { n.SeekToFirst() })
}

// Seek positions the iterator at the first entry with key >= key.
func (it *Iterator) Seek(key []byte) {
	it.with(func(n engine.Iterator) { n.Seek(key) })
}

// Next advances the iterator.
func (it *Iterator) Next() {
	it.with(func(n engine.Iterator) { n.Next() })
}

// Key returns the current key, or nil if the iterator is not positioned at
// an entry or has been closed.
func (it *Iterator) Key() []byte {
	var key []byte
	it.with(func(n engine.Iterator) { key = n.Key() })
	return key
}

// Value returns the current value, or nil if the iterator is not positioned
// at an entry or has been closed.
func (it *Iterator) Value() []byte {
	var value []byte
	it.with(func(n engine.Iterator) { value = n.Value() })
	return value
}

// Err returns the first error the iterator encountered. A scan interrupted
// by the iterator being closed underneath it reports ErrResourceClosed.
func (it *Iterator) Err() error {
	var nativeErr error
	if it.with(func(n engine.Iterator) { nativeErr = n.Err() }) {
		return translateError(nativeErr)
	}
	return it.err
}

// Close releases the iterator and blocks until its teardown has completed.
// Closing an already-closed iterator is a no-op.
func (it *Iterator) Close() error {
	it.cleanup.Stop()
	it.env.closeHandle(it.tok, CategoryIterator, it.cs)
	return nil
}
