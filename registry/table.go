// Package registry provides the handle table that binds opaque tokens handed
// to callers to live managed resources. Slots are reused through a free list;
// a per-slot generation counter makes tokens to reclaimed slots stale instead
// of silently pointing at a new occupant, and a kind tag keeps a token usable
// only with the resource category it was minted for.
package registry

import (
	"errors"
	"sync"
)

// Kind tags the resource category a slot holds. Kind 0 is reserved.
type Kind uint32

var (
	// ErrStale is returned when a token no longer maps to a live slot.
	ErrStale = errors.New("registry: stale handle")

	// ErrKindMismatch is returned when a token is presented for the wrong
	// resource kind.
	ErrKindMismatch = errors.New("registry: handle kind mismatch")
)

// Token is an opaque reference to a table slot. The zero Token is invalid.
type Token struct {
	idx  uint32 // slot index + 1; 0 means invalid
	gen  uint32
	kind Kind
}

// Valid reports whether the token was minted by a table at all. It says
// nothing about whether the slot is still live.
func (t Token) Valid() bool { return t.idx != 0 }

// Kind returns the resource kind the token was minted for.
func (t Token) Kind() Kind { return t.kind }

type slot struct {
	value any
	gen   uint32
	kind  Kind
	live  bool
}

// Table is a concurrency-safe arena of handle slots.
type Table struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{
		slots: make([]slot, 0, 64),
		free:  make([]uint32, 0, 16),
	}
}

// Insert stores value under a fresh token of the given kind.
func (t *Table) Insert(kind Kind, value any) Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		s := &t.slots[idx]
		s.value = value
		s.kind = kind
		s.live = true
		return Token{idx: idx + 1, gen: s.gen, kind: kind}
	}

	t.slots = append(t.slots, slot{value: value, kind: kind, live: true})
	return Token{idx: uint32(len(t.slots)), kind: kind}
}

// Get resolves tok, validating liveness, generation and kind. A token whose
// slot has been removed (or recycled) yields ErrStale; a live token presented
// for the wrong kind yields ErrKindMismatch. The stored value is never
// type-punned across kinds.
func (t *Table) Get(tok Token, kind Kind) (any, error) {
	if tok.idx == 0 {
		return nil, ErrStale
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := tok.idx - 1
	if int(idx) >= len(t.slots) {
		return nil, ErrStale
	}
	s := &t.slots[idx]
	if !s.live || s.gen != tok.gen {
		return nil, ErrStale
	}
	if s.kind != kind || tok.kind != kind {
		return nil, ErrKindMismatch
	}
	return s.value, nil
}

// Remove evicts the slot tok points at and returns its value. Removing an
// already-stale token is a harmless no-op. The slot's generation advances so
// outstanding tokens to it become stale.
func (t *Table) Remove(tok Token) (any, bool) {
	if tok.idx == 0 {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := tok.idx - 1
	if int(idx) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.live || s.gen != tok.gen {
		return nil, false
	}

	value := s.value
	s.value = nil
	s.live = false
	s.gen++
	t.free = append(t.free, idx)
	return value, true
}

// Len returns the number of live slots.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for i := range t.slots {
		if t.slots[i].live {
			count++
		}
	}
	return count
}

// Each calls fn for every live slot until fn returns false. The table lock is
// held for the duration; fn must not call back into the table.
func (t *Table) Each(fn func(Token, Kind, any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		tok := Token{idx: uint32(i) + 1, gen: s.gen, kind: s.kind}
		if !fn(tok, s.kind, s.value) {
			return
		}
	}
}
