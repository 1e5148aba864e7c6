package memengine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/kvgo/engine"
	"github.com/hupe1980/kvgo/resource"
)

// ErrMemoryLimit is returned when a write would exceed the configured
// memtable memory budget.
var ErrMemoryLimit = errors.New("memengine: memtable memory limit reached")

// Engine is an in-memory, multi-versioned key-value store implementing
// engine.Engine.
type Engine struct {
	opts Options

	// writeMu serializes mutations so the sequence order of the log matches
	// the order revisions land in the store.
	writeMu sync.Mutex

	mu  sync.RWMutex // guards cfs
	cfs map[string]*columnFamily

	seq atomic.Uint64

	wal *wal // nil when Dir is unset

	snapMu   sync.Mutex
	snapRefs map[uint64]int // active snapshot sequences -> holder count

	ctrl   *resource.Controller
	logger Logger

	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

var _ engine.Engine = (*Engine)(nil)

// snapshot pins a sequence number until released.
type snapshot struct {
	eng *Engine
	seq uint64
}

var _ engine.Snapshot = (*snapshot)(nil)

// Sequence implements engine.Snapshot.
func (s *snapshot) Sequence() uint64 { return s.seq }

// New creates an engine. When a directory is configured, the existing
// write-ahead log (if any) is replayed before the engine is returned.
func New(optFns ...func(*Options)) (*Engine, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	e := &Engine{
		opts:     opts,
		cfs:      map[string]*columnFamily{engine.DefaultColumnFamilyName: newColumnFamily(engine.DefaultColumnFamilyName)},
		snapRefs: make(map[uint64]int),
		ctrl:     opts.Controller,
		logger:   opts.Logger,
		closeCh:  make(chan struct{}),
	}

	if opts.Dir != "" {
		w, err := openWAL(opts.Dir, opts.Compression, opts.CompressionLevel, opts.SyncWrites)
		if err != nil {
			return nil, err
		}
		e.wal = w
		if err := e.replay(); err != nil {
			w.Close()
			return nil, err
		}
	}

	if opts.GCInterval > 0 {
		e.wg.Add(1)
		go e.gcLoop()
	}

	return e, nil
}

// replay rebuilds in-memory state from the log. Column families are recreated
// on demand since creation itself is not logged.
func (e *Engine) replay() error {
	it, err := e.wal.newIterator(0, e.ctrl)
	if err != nil {
		return err
	}
	defer it.Close()

	var n int
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}

		cf := e.getOrCreateCF(entry.ColumnFamily)
		cost := int64(len(entry.Key)+len(entry.Value)) + revOverhead
		if !e.ctrl.TryReserveMemory(cost) {
			return ErrMemoryLimit
		}
		cf.apply(entry.Seq, entry.Op, string(entry.Key), entry.Value, cost)

		if entry.Seq > e.seq.Load() {
			e.seq.Store(entry.Seq)
		}
		n++
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}

	if n > 0 {
		e.logger.Infof("replayed %d wal records, latest sequence %d", n, e.seq.Load())
	}
	return nil
}

func (e *Engine) getOrCreateCF(name string) *columnFamily {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cf, ok := e.cfs[name]; ok {
		return cf
	}
	cf := newColumnFamily(name)
	e.cfs[name] = cf
	return cf
}

// lookupCF validates that cf is a live column family of this engine.
func (e *Engine) lookupCF(cf engine.ColumnFamily) (*columnFamily, error) {
	c, ok := cf.(*columnFamily)
	if !ok {
		return nil, engine.ErrColumnFamilyUnknown
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cfs[c.name] != c {
		return nil, engine.ErrColumnFamilyUnknown
	}
	return c, nil
}

// DefaultColumnFamily implements engine.Engine.
func (e *Engine) DefaultColumnFamily() engine.ColumnFamily {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfs[engine.DefaultColumnFamilyName]
}

// CreateColumnFamily implements engine.Engine.
func (e *Engine) CreateColumnFamily(name string) (engine.ColumnFamily, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if name == "" {
		return nil, errors.New("memengine: empty column family name")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cfs[name]; ok {
		return nil, engine.ErrColumnFamilyExists
	}
	cf := newColumnFamily(name)
	e.cfs[name] = cf
	return cf, nil
}

// DropColumnFamily implements engine.Engine.
func (e *Engine) DropColumnFamily(cf engine.ColumnFamily) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	c, ok := cf.(*columnFamily)
	if !ok {
		return engine.ErrColumnFamilyUnknown
	}
	if c.name == engine.DefaultColumnFamilyName {
		return errors.New("memengine: cannot drop the default column family")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfs[c.name] != c {
		return engine.ErrColumnFamilyUnknown
	}
	delete(e.cfs, c.name)

	c.mu.Lock()
	freed := c.memBytes
	c.memBytes = 0
	c.mu.Unlock()
	e.ctrl.ReleaseMemory(freed)
	return nil
}

// Put implements engine.Engine.
func (e *Engine) Put(cf engine.ColumnFamily, key, value []byte) error {
	return e.mutate(cf, engine.OpPut, key, value)
}

// Delete implements engine.Engine.
func (e *Engine) Delete(cf engine.ColumnFamily, key []byte) error {
	return e.mutate(cf, engine.OpDelete, key, nil)
}

func (e *Engine) mutate(cf engine.ColumnFamily, op engine.OpType, key, value []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	c, err := e.lookupCF(cf)
	if err != nil {
		return err
	}
	if len(key) == 0 {
		return errors.New("memengine: empty key")
	}

	cost := int64(len(key)+len(value)) + revOverhead
	if !e.ctrl.TryReserveMemory(cost) {
		return ErrMemoryLimit
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed.Load() {
		e.ctrl.ReleaseMemory(cost)
		return engine.ErrClosed
	}

	seq := e.seq.Add(1)
	if e.wal != nil {
		if err := e.wal.append(seq, op, c.name, key, value); err != nil {
			e.ctrl.ReleaseMemory(cost)
			return err
		}
	}
	c.apply(seq, op, string(key), value, cost)
	return nil
}

// Get implements engine.Engine.
func (e *Engine) Get(cf engine.ColumnFamily, key []byte, opts engine.ReadOptions) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	c, err := e.lookupCF(cf)
	if err != nil {
		return nil, err
	}
	return c.get(string(key), e.readSeq(opts))
}

func (e *Engine) readSeq(opts engine.ReadOptions) uint64 {
	if opts.Snapshot != nil {
		return opts.Snapshot.Sequence()
	}
	return e.seq.Load()
}

// NewSnapshot implements engine.Engine.
func (e *Engine) NewSnapshot() engine.Snapshot {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	seq := e.seq.Load()
	e.snapRefs[seq]++
	return &snapshot{eng: e, seq: seq}
}

// ReleaseSnapshot implements engine.Engine.
func (e *Engine) ReleaseSnapshot(snap engine.Snapshot) {
	s, ok := snap.(*snapshot)
	if !ok || s.eng != e {
		return
	}
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	if n := e.snapRefs[s.seq]; n > 1 {
		e.snapRefs[s.seq] = n - 1
	} else {
		delete(e.snapRefs, s.seq)
	}
}

// gcFloor is the highest sequence the GC pass may prune up to: nothing a live
// snapshot can still see is touched.
func (e *Engine) gcFloor() uint64 {
	floor := e.seq.Load()
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	for seq := range e.snapRefs {
		if seq < floor {
			floor = seq
		}
	}
	return floor
}

// NewIterator implements engine.Engine. The iterator sees the state visible
// at creation time; later writes do not appear.
func (e *Engine) NewIterator(cf engine.ColumnFamily, opts engine.ReadOptions) (engine.Iterator, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	c, err := e.lookupCF(cf)
	if err != nil {
		return nil, err
	}
	return newIterator(c.materialize(e.readSeq(opts))), nil
}

// NewLogIterator implements engine.Engine.
func (e *Engine) NewLogIterator(since uint64) (engine.LogIterator, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if e.wal == nil {
		return nil, engine.ErrLogUnavailable
	}
	return e.wal.newIterator(since, e.ctrl)
}

// LatestSequence implements engine.Engine.
func (e *Engine) LatestSequence() uint64 {
	return e.seq.Load()
}

// Stats reports per-column-family live key counts.
func (e *Engine) Stats() map[string]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := make(map[string]uint64, len(e.cfs))
	for name, cf := range e.cfs {
		stats[name] = cf.liveCount()
	}
	return stats
}

// Close implements engine.Engine. It is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(e.closeCh)
	e.wg.Wait()

	// Block out concurrent mutations before tearing down the log.
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var firstErr error
	if e.wal != nil {
		if err := e.wal.Close(); err != nil {
			firstErr = err
		}
	}

	e.mu.Lock()
	var held int64
	for _, cf := range e.cfs {
		cf.mu.Lock()
		held += cf.memBytes
		cf.memBytes = 0
		cf.mu.Unlock()
	}
	e.mu.Unlock()
	e.ctrl.ReleaseMemory(held)

	return firstErr
}

// gcLoop periodically prunes revision chains, one pass at a time, gated by
// the controller's background job slots.
func (e *Engine) gcLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			if !e.ctrl.TryAcquireJob() {
				continue
			}
			e.gcPass()
			e.ctrl.ReleaseJob()
		}
	}
}

func (e *Engine) gcPass() {
	floor := e.gcFloor()

	e.mu.RLock()
	cfs := make([]*columnFamily, 0, len(e.cfs))
	for _, cf := range e.cfs {
		cfs = append(cfs, cf)
	}
	e.mu.RUnlock()

	var freed int64
	for _, cf := range cfs {
		freed += cf.gc(floor)
	}
	if freed > 0 {
		e.ctrl.ReleaseMemory(freed)
		e.logger.Infof("gc pass freed %d bytes at floor %d", freed, floor)
	}
}
