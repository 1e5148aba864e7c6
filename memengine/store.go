package memengine

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/kvgo/engine"
)

// revOverhead approximates the bookkeeping cost of one revision for memory
// accounting.
const revOverhead = 48

// revision is one sequence-stamped version of a row.
type revision struct {
	seq       uint64
	value     []byte
	tombstone bool
}

// row holds the revision chain for a single key, newest last.
type row struct {
	id   uint32
	key  string
	revs []revision
}

// visible returns the newest revision with seq <= atSeq, or nil.
func (r *row) visible(atSeq uint64) *revision {
	for i := len(r.revs) - 1; i >= 0; i-- {
		if r.revs[i].seq <= atSeq {
			return &r.revs[i]
		}
	}
	return nil
}

// columnFamily is a named keyspace. Every key gets a dense uint32 row id;
// the tombstoned bitmap tracks ids whose newest revision is a deletion, which
// is what the GC pass walks to drop rows entirely.
type columnFamily struct {
	name string

	mu         sync.RWMutex
	rows       map[string]*row
	rowsByID   map[uint32]*row
	nextID     uint32
	tombstoned *roaring.Bitmap
	memBytes   int64
}

var _ engine.ColumnFamily = (*columnFamily)(nil)

func newColumnFamily(name string) *columnFamily {
	return &columnFamily{
		name:       name,
		rows:       make(map[string]*row),
		rowsByID:   make(map[uint32]*row),
		tombstoned: roaring.New(),
	}
}

// Name implements engine.ColumnFamily.
func (c *columnFamily) Name() string { return c.name }

// apply appends a revision for key. cost is the memory already reserved for
// this revision. Callers hold the engine write lock, so revisions arrive in
// ascending sequence order.
func (c *columnFamily) apply(seq uint64, op engine.OpType, key string, value []byte, cost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rows[key]
	if !ok {
		r = &row{id: c.nextID, key: key}
		c.nextID++
		c.rows[key] = r
		c.rowsByID[r.id] = r
	}

	rev := revision{seq: seq, tombstone: op == engine.OpDelete}
	if op == engine.OpPut {
		rev.value = make([]byte, len(value))
		copy(rev.value, value)
	}
	r.revs = append(r.revs, rev)
	c.memBytes += cost

	if rev.tombstone {
		c.tombstoned.Add(r.id)
	} else {
		c.tombstoned.Remove(r.id)
	}
}

// get returns a copy of the value visible at atSeq.
func (c *columnFamily) get(key string, atSeq uint64) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rows[key]
	if !ok {
		return nil, engine.ErrNotFound
	}
	rev := r.visible(atSeq)
	if rev == nil || rev.tombstone {
		return nil, engine.ErrNotFound
	}
	out := make([]byte, len(rev.value))
	copy(out, rev.value)
	return out, nil
}

// pair is one materialized iterator entry.
type pair struct {
	key   string
	value []byte
}

// materialize collects the entries visible at atSeq. The caller sorts.
func (c *columnFamily) materialize(atSeq uint64) []pair {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pairs := make([]pair, 0, len(c.rows))
	for key, r := range c.rows {
		rev := r.visible(atSeq)
		if rev == nil || rev.tombstone {
			continue
		}
		value := make([]byte, len(rev.value))
		copy(value, rev.value)
		pairs = append(pairs, pair{key: key, value: value})
	}
	return pairs
}

// gc prunes revisions no reader at or above floor can see and removes rows
// whose only surviving revision is a tombstone at or below floor. It returns
// the freed memory accounting bytes.
func (c *columnFamily) gc(floor uint64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var freed int64

	for _, r := range c.rows {
		freed += r.prune(floor)
	}

	// Fully-deleted rows: walk the tombstone bitmap rather than every row.
	var drop []uint32
	it := c.tombstoned.Iterator()
	for it.HasNext() {
		id := it.Next()
		r, ok := c.rowsByID[id]
		if !ok {
			drop = append(drop, id)
			continue
		}
		if len(r.revs) == 1 && r.revs[0].tombstone && r.revs[0].seq <= floor {
			freed += int64(len(r.key)) + revOverhead
			delete(c.rows, r.key)
			delete(c.rowsByID, id)
			drop = append(drop, id)
		}
	}
	for _, id := range drop {
		c.tombstoned.Remove(id)
	}

	c.memBytes -= freed
	return freed
}

// prune drops every revision older than the newest one visible at floor,
// freeing exactly the bytes apply charged for them.
func (r *row) prune(floor uint64) int64 {
	if len(r.revs) <= 1 {
		return 0
	}

	keep := 0
	for i := len(r.revs) - 1; i >= 0; i-- {
		if r.revs[i].seq <= floor {
			keep = i
			break
		}
	}
	if keep == 0 {
		return 0
	}

	var freed int64
	for i := 0; i < keep; i++ {
		freed += int64(len(r.key)+len(r.revs[i].value)) + revOverhead
	}
	r.revs = append([]revision(nil), r.revs[keep:]...)
	return freed
}

// liveCount returns the number of keys with a live newest revision.
func (c *columnFamily) liveCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.rows)) - c.tombstoned.GetCardinality()
}
