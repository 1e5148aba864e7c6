package kvgo

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/hupe1980/kvgo/engine"
	"github.com/hupe1980/kvgo/lifecycle"
	"github.com/hupe1980/kvgo/registry"
)

// dbResource is the root of the dependency graph. It owns the engine handle
// and the registration of every dependent resource created from the database.
// The engine is closed in the destructor, which the reference count defers
// until the last dependent has finished its own teardown.
type dbResource struct {
	lifecycle.Managed

	env *env
	tok registry.Token
	eng engine.Engine

	// One mutex covers dependents of all categories. Registration is checked
	// against the close request under this mutex, so a dependent either
	// registers before the cascade snapshot or is rejected.
	mu     sync.Mutex
	deps   map[registry.Token]lifecycle.Resource
	counts [CategoryLogIterator + 1]int
}

// addDependent registers r under tok. It fails once the database's close
// protocol has started; a dependent that registered just before the request
// is guaranteed to be seen by the cascade.
func (d *dbResource) addDependent(tok registry.Token, cat Category, r lifecycle.Resource) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.CloseRequested() {
		d.env.metrics.RecordAttachRejected(cat)
		d.env.logger.LogAttachRejected(cat)
		return ErrDatabaseClosing
	}
	d.deps[tok] = r
	d.counts[cat]++
	return nil
}

// removeDependent deregisters tok. Removing a token that was never
// registered (or was already removed) is a no-op.
func (d *dbResource) removeDependent(tok registry.Token, cat Category) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.deps[tok]; !ok {
		return
	}
	delete(d.deps, tok)
	d.counts[cat]--
}

func (d *dbResource) dependentCount(cat Category) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[cat]
}

// Shutdown implements lifecycle.Resource. It runs exactly once, on the
// goroutine that won the close race: the database token is evicted so no new
// handle operations resolve, then a forced close is initiated on every
// registered dependent. The cascade is fire and forget; each dependent holds
// a counted reference to this resource, so the engine cannot be closed until
// all of them have finished tearing down.
func (d *dbResource) Shutdown() {
	d.env.table.Remove(d.tok)

	d.mu.Lock()
	deps := make([]lifecycle.Resource, 0, len(d.deps))
	for _, r := range d.deps {
		deps = append(deps, r)
	}
	d.mu.Unlock()

	d.env.metrics.RecordCascade(len(deps))
	d.env.logger.LogCascade(len(deps))

	for _, r := range deps {
		lifecycle.InitiateCloseRequest(r)
	}
}

func (d *dbResource) destroy() {
	if err := d.eng.Close(); err != nil {
		d.env.logger.Error("engine close failed", "error", err)
	}
}

// Database is a handle to an open database. It is safe for concurrent use.
//
// A Database that becomes unreachable without Close is reclaimed by a runtime
// cleanup, but relying on that forfeits the synchronous teardown guarantee;
// call Close.
type Database struct {
	env     *env
	tok     registry.Token
	cs      *lifecycle.CloseSync
	cleanup runtime.Cleanup
}

// Open wraps an opened storage engine in a managed database handle. The
// lifecycle layer takes ownership of eng: it is closed exactly once, after
// the database and every dependent handle have been released.
func Open(eng engine.Engine, optFns ...Option) (*Database, error) {
	start := time.Now()
	opts := applyOptions(optFns)

	if eng == nil {
		err := errors.New("kvgo: engine must not be nil")
		opts.metricsCollector.RecordOpen(time.Since(start), err)
		opts.logger.LogOpen(time.Since(start), err)
		return nil, err
	}

	e := &env{
		table:   registry.NewTable(),
		logger:  opts.logger,
		metrics: opts.metricsCollector,
	}

	d := &dbResource{
		env:  e,
		eng:  eng,
		deps: make(map[registry.Token]lifecycle.Resource),
	}
	d.Init(d.destroy)
	d.tok = e.table.Insert(CategoryDatabase.kind(), d)

	h := &Database{env: e, tok: d.tok, cs: d.CloseSync()}
	h.cleanup = runtime.AddCleanup(h, finalizeHandle, cleanupArg{env: e, tok: d.tok, cat: CategoryDatabase})

	e.metrics.RecordOpen(time.Since(start), nil)
	e.logger.LogOpen(time.Since(start), nil)
	return h, nil
}

// Close requests the database's close and blocks until the engine has been
// released. Dependent handles that are still open are forced closed; their
// teardown completes before the engine is closed. Closing an already-closed
// database is a no-op.
func (db *Database) Close() error {
	db.cleanup.Stop()
	db.env.closeHandle(db.tok, CategoryDatabase, db.cs)
	return nil
}

// resource resolves the handle to the live root resource for one operation.
func (db *Database) resource() (*dbResource, func(), error) {
	v, release, err := db.env.acquire(db.tok, CategoryDatabase, db.cs)
	if err != nil {
		return nil, nil, err
	}
	return v.(*dbResource), release, nil
}

// ReadOption adjusts the visibility of a read or scan.
type ReadOption func(*readOptions)

type readOptions struct {
	snapshot *Snapshot
	cf       *ColumnFamily
}

// WithSnapshot pins the operation to the point-in-time view of snap.
func WithSnapshot(snap *Snapshot) ReadOption {
	return func(o *readOptions) {
		o.snapshot = snap
	}
}

// WithColumnFamily directs the operation at cf instead of the default column
// family.
func WithColumnFamily(cf *ColumnFamily) ReadOption {
	return func(o *readOptions) {
		o.cf = cf
	}
}

// resolveRead turns handle-level read options into engine-level ones,
// acquiring the referenced handles for the duration of the operation. The
// returned release is safe to call exactly once and never nil.
func (db *Database) resolveRead(d *dbResource, optFns []ReadOption) (engine.ColumnFamily, engine.ReadOptions, func(), error) {
	var o readOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	releases := make([]func(), 0, 2)
	release := func() {
		for _, fn := range releases {
			fn()
		}
	}

	opts := engine.ReadOptions{}
	if o.snapshot != nil {
		native, rel, err := o.snapshot.native()
		if err != nil {
			release()
			return nil, engine.ReadOptions{}, nil, err
		}
		releases = append(releases, rel)
		opts.Snapshot = native
	}

	cf := d.eng.DefaultColumnFamily()
	if o.cf != nil {
		native, rel, err := o.cf.native()
		if err != nil {
			release()
			return nil, engine.ReadOptions{}, nil, err
		}
		releases = append(releases, rel)
		cf = native
	}

	return cf, opts, release, nil
}

// Put writes key to the default column family.
func (db *Database) Put(key, value []byte) error {
	d, release, err := db.resource()
	if err != nil {
		return err
	}
	defer release()

	return translateError(d.eng.Put(d.eng.DefaultColumnFamily(), key, value))
}

// Get reads key from the default column family, or from the column family
// given via WithColumnFamily. Returns ErrNotFound when no value is visible.
func (db *Database) Get(key []byte, optFns ...ReadOption) ([]byte, error) {
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

	v, err := d.eng.Get(cf, key, opts)
	return v, translateError(err)
}

// Delete removes key from the default column family.
func (db *Database) Delete(key []byte) error {
	d, release, err := db.resource()
	if err != nil {
		return err
	}
	defer release()

	return translateError(d.eng.Delete(d.eng.DefaultColumnFamily(), key))
}

// LatestSequence returns the sequence number of the most recent write.
func (db *Database) LatestSequence() (uint64, error) {
	d, release, err := db.resource()
	if err != nil {
		return 0, err
	}
	defer release()

	return d.eng.LatestSequence(), nil
}

// DependentCount reports how many dependents of the given category are
// currently registered with the database. Diagnostics only; the value may be
// stale by the time it is returned.
func (db *Database) DependentCount(cat Category) (int, error) {
	d, release, err := db.resource()
	if err != nil {
		return 0, err
	}
	defer release()

	return d.dependentCount(cat), nil
}
