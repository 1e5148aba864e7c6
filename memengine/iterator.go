package memengine

import (
	"sort"

	"github.com/hupe1980/kvgo/engine"
)

// iterator is a forward iterator over entries materialized at creation time.
type iterator struct {
	pairs  []pair
	pos    int
	closed bool
}

var _ engine.Iterator = (*iterator)(nil)

func newIterator(pairs []pair) *iterator {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	return &iterator{pairs: pairs, pos: -1}
}

// Valid implements engine.Iterator.
func (it *iterator) Valid() bool {
	return !it.closed && it.pos >= 0 && it.pos < len(it.pairs)
}

// SeekToFirst implements engine.Iterator.
func (it *iterator) SeekToFirst() {
	if it.closed {
		return
	}
	it.pos = 0
}

// Seek implements engine.Iterator.
func (it *iterator) Seek(key []byte) {
	if it.closed {
		return
	}
	k := string(key)
	it.pos = sort.Search(len(it.pairs), func(i int) bool { return it.pairs[i].key >= k })
}

// Next implements engine.Iterator.
func (it *iterator) Next() {
	if it.closed || it.pos >= len(it.pairs) {
		return
	}
	it.pos++
}

// Key implements engine.Iterator.
func (it *iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return []byte(it.pairs[it.pos].key)
}

// Value implements engine.Iterator.
func (it *iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.pairs[it.pos].value
}

// Err implements engine.Iterator. Materialized iterators cannot fail.
func (it *iterator) Err() error { return nil }

// Close implements engine.Iterator.
func (it *iterator) Close() error {
	it.closed = true
	it.pairs = nil
	return nil
}
