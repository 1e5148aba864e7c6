package kvgo

import (
	"runtime"

	"github.com/hupe1980/kvgo/engine"
	"github.com/hupe1980/kvgo/lifecycle"
	"github.com/hupe1980/kvgo/registry"
)

// cfResource is the managed resource behind a ColumnFamily handle. It keeps
// the database alive through a counted reference; closing the handle releases
// only the handle, never the column family's data.
type cfResource struct {
	lifecycle.Managed

	env    *env
	tok    registry.Token
	root   *lifecycle.Ref[*dbResource]
	native engine.ColumnFamily
}

// Shutdown implements lifecycle.Resource.
func (c *cfResource) Shutdown() {
	c.env.table.Remove(c.tok)
	c.root.Get().removeDependent(c.tok, CategoryColumnFamily)
}

func (c *cfResource) destroy() {
	c.root.Release()
}

// ColumnFamily is a handle to a named keyspace of the database. It keeps the
// database open while it exists; close it when done.
type ColumnFamily struct {
	env     *env
	tok     registry.Token
	cs      *lifecycle.CloseSync
	name    string
	cleanup runtime.Cleanup
}

// CreateColumnFamily creates a new named column family and returns a handle
// to it. Fails with ErrDatabaseClosing if the database's close protocol has
// started.
func (db *Database) CreateColumnFamily(name string) (*ColumnFamily, error) {
	d, release, err := db.resource()
	if err != nil {
		return nil, err
	}
	defer release()

	native, err := d.eng.CreateColumnFamily(name)
	if err != nil {
		return nil, translateErrorCF(name, err)
	}

	return newColumnFamilyHandle(db.env, d, native)
}

// DefaultColumnFamily returns a handle to the always-present default column
// family.
func (db *Database) DefaultColumnFamily() (*ColumnFamily, error) {
	d, release, err := db.resource()
	if err != nil {
		return nil, err
	}
	defer release()

	return newColumnFamilyHandle(db.env, d, d.eng.DefaultColumnFamily())
}

func newColumnFamilyHandle(e *env, d *dbResource, native engine.ColumnFamily) (*ColumnFamily, error) {
	c := &cfResource{env: e, native: native}
	c.root = lifecycle.NewRef(d)
	c.Init(c.destroy)
	c.tok = e.table.Insert(CategoryColumnFamily.kind(), c)

	if err := d.addDependent(c.tok, CategoryColumnFamily, c); err != nil {
		// Lost to a concurrent close. Unwind through the normal protocol so
		// the token and root reference are released.
		lifecycle.CloseAndAwait(c)
		return nil, err
	}

	h := &ColumnFamily{env: e, tok: c.tok, cs: c.CloseSync(), name: native.Name()}
	h.cleanup = runtime.AddCleanup(h, finalizeHandle, cleanupArg{env: e, tok: c.tok, cat: CategoryColumnFamily})
	return h, nil
}

// DropColumnFamily removes the column family and its data, then closes cf.
func (db *Database) DropColumnFamily(cf *ColumnFamily) error {
	d, release, err := db.resource()
	if err != nil {
		return err
	}
	defer release()

	native, relCF, err := cf.native()
	if err != nil {
		return err
	}
	err = d.eng.DropColumnFamily(native)
	relCF()
	if err != nil {
		return translateErrorCF(cf.name, err)
	}

	return cf.Close()
}

// Name returns the column family's name.
func (cf *ColumnFamily) Name() string { return cf.name }

// Close releases the handle and blocks until its teardown has completed.
// Closing an already-closed handle is a no-op. The column family's data is
// unaffected; use Database.DropColumnFamily to remove it.
func (cf *ColumnFamily) Close() error {
	cf.cleanup.Stop()
	cf.env.closeHandle(cf.tok, CategoryColumnFamily, cf.cs)
	return nil
}

// native resolves the handle to the engine-level column family for one
// operation.
func (cf *ColumnFamily) native() (engine.ColumnFamily, func(), error) {
	v, release, err := cf.env.acquire(cf.tok, CategoryColumnFamily, cf.cs)
	if err != nil {
		return nil, nil, err
	}
	return v.(*cfResource).native, release, nil
}

// resource resolves the handle for an operation that needs the engine too.
func (cf *ColumnFamily) resource() (*cfResource, func(), error) {
	v, release, err := cf.env.acquire(cf.tok, CategoryColumnFamily, cf.cs)
	if err != nil {
		return nil, nil, err
	}
	return v.(*cfResource), release, nil
}

// Put writes key to the column family.
func (cf *ColumnFamily) Put(key, value []byte) error {
	c, release, err := cf.resource()
	if err != nil {
		return err
	}
	defer release()

	return translateError(c.root.Get().eng.Put(c.native, key, value))
}

// Get reads key from the column family. A snapshot may be supplied via
// WithSnapshot. Returns ErrNotFound when no value is visible.
func (cf *ColumnFamily) Get(key []byte, optFns ...ReadOption) ([]byte, error) {
	c, release, err := cf.resource()
	if err != nil {
		return nil, err
	}
	defer release()

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

	v, err := c.root.Get().eng.Get(c.native, key, opts)
	return v, translateError(err)
}

// Delete removes key from the column family.
func (cf *ColumnFamily) Delete(key []byte) error {
	c, release, err := cf.resource()
	if err != nil {
		return err
	}
	defer release()

	return translateError(c.root.Get().eng.Delete(c.native, key))
}
