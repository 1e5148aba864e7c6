package kvgo

import (
	"runtime"

	"github.com/hupe1980/kvgo/engine"
	"github.com/hupe1980/kvgo/lifecycle"
	"github.com/hupe1980/kvgo/registry"
)

// snapResource is the managed resource behind a Snapshot handle. The native
// snapshot is returned to the engine during Shutdown, while the database is
// still pinned by the root reference.
type snapResource struct {
	lifecycle.Managed

	env    *env
	tok    registry.Token
	root   *lifecycle.Ref[*dbResource]
	native engine.Snapshot
}

// Shutdown implements lifecycle.Resource.
func (s *snapResource) Shutdown() {
	s.env.table.Remove(s.tok)

	d := s.root.Get()
	d.eng.ReleaseSnapshot(s.native)
	d.removeDependent(s.tok, CategorySnapshot)
}

func (s *snapResource) destroy() {
	s.root.Release()
}

// Snapshot is a handle to a point-in-time view of the database. It keeps the
// database open while it exists; close it when done.
//
// Iterators created over a snapshot register with the database, not with the
// snapshot: closing the snapshot does not force iterators closed, it only
// stops pinning old versions for new reads.
type Snapshot struct {
	env     *env
	tok     registry.Token
	cs      *lifecycle.CloseSync
	cleanup runtime.Cleanup
}

// NewSnapshot captures a point-in-time view of the database. Fails with
// ErrDatabaseClosing if the database's close protocol has started.
func (db *Database) NewSnapshot() (*Snapshot, error) {
	d, release, err := db.resource()
	if err != nil {
		return nil, err
	}
	defer release()

	s := &snapResource{env: db.env}
	s.root = lifecycle.NewRef(d)
	s.Init(s.destroy)
	s.native = d.eng.NewSnapshot()
	s.tok = db.env.table.Insert(CategorySnapshot.kind(), s)

	if err := d.addDependent(s.tok, CategorySnapshot, s); err != nil {
		lifecycle.CloseAndAwait(s)
		return nil, err
	}

	h := &Snapshot{env: db.env, tok: s.tok, cs: s.CloseSync()}
	h.cleanup = runtime.AddCleanup(h, finalizeHandle, cleanupArg{env: db.env, tok: s.tok, cat: CategorySnapshot})
	return h, nil
}

// Sequence returns the sequence number the snapshot is pinned to.
func (s *Snapshot) Sequence() (uint64, error) {
	native, release, err := s.native()
	if err != nil {
		return 0, err
	}
	defer release()

	return native.Sequence(), nil
}

// Close releases the snapshot and blocks until its teardown has completed.
// Closing an already-closed snapshot is a no-op.
func (s *Snapshot) Close() error {
	s.cleanup.Stop()
	s.env.closeHandle(s.tok, CategorySnapshot, s.cs)
	return nil
}

// native resolves the handle to the engine-level snapshot for one operation.
func (s *Snapshot) native() (engine.Snapshot, func(), error) {
	v, release, err := s.env.acquire(s.tok, CategorySnapshot, s.cs)
	if err != nil {
		return nil, nil, err
	}
	return v.(*snapResource).native, release, nil
}
