// Package engine defines the storage-engine surface the kvgo lifecycle layer
// manages. The lifecycle layer never interprets keys or values; it only
// governs when the handles below are created and released. The memengine
// package provides the default implementation.
package engine

import "errors"

var (
	// ErrNotFound is returned when a key has no visible value.
	ErrNotFound = errors.New("engine: not found")

	// ErrClosed is returned for operations on an engine that has been closed.
	ErrClosed = errors.New("engine: closed")

	// ErrColumnFamilyExists is returned when creating a column family whose
	// name is already taken.
	ErrColumnFamilyExists = errors.New("engine: column family already exists")

	// ErrColumnFamilyUnknown is returned when a column family handle does not
	// belong to this engine or has been dropped.
	ErrColumnFamilyUnknown = errors.New("engine: unknown column family")

	// ErrLogUnavailable is returned by NewLogIterator when the engine keeps
	// no write-ahead log to iterate.
	ErrLogUnavailable = errors.New("engine: write-ahead log unavailable")
)

// DefaultColumnFamilyName is the name of the column family every engine
// provides without explicit creation.
const DefaultColumnFamilyName = "default"

// OpType identifies a logged mutation.
type OpType uint8

const (
	// OpPut records a key/value write.
	OpPut OpType = iota
	// OpDelete records a key deletion.
	OpDelete
)

// LogEntry is one record of the engine's write-ahead log, as surfaced by a
// LogIterator.
type LogEntry struct {
	Seq          uint64
	Op           OpType
	ColumnFamily string
	Key          []byte
	Value        []byte
}

// ReadOptions controls the visibility of reads and scans.
type ReadOptions struct {
	// Snapshot pins the read to a point-in-time view. Nil reads the latest
	// state.
	Snapshot Snapshot
}

// ColumnFamily is a native handle to a named keyspace within an engine.
type ColumnFamily interface {
	Name() string
}

// Snapshot is a native handle to a point-in-time view of the engine.
type Snapshot interface {
	Sequence() uint64
}

// Iterator is a forward iterator over a column family. Implementations are
// not safe for concurrent use by multiple goroutines.
type Iterator interface {
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool
	// SeekToFirst positions the iterator at the first entry.
	SeekToFirst()
	// Seek positions the iterator at the first entry with key >= key.
	Seek(key []byte)
	// Next advances the iterator.
	Next()
	// Key returns the current key. Only valid while Valid reports true.
	Key() []byte
	// Value returns the current value. Only valid while Valid reports true.
	Value() []byte
	// Err returns the first error the iterator encountered, if any.
	Err() error
	// Close releases the iterator.
	Close() error
}

// LogIterator streams write-ahead log entries in sequence order.
type LogIterator interface {
	// Next returns the next entry. ok is false once the log is exhausted or
	// an error occurred; check Err to distinguish.
	Next() (entry LogEntry, ok bool)
	// Err returns the first error the iterator encountered, if any.
	Err() error
	// Close releases the iterator.
	Close() error
}

// Engine is the storage engine proper. Implementations must be safe for
// concurrent use. The lifecycle layer guarantees Close is called exactly once
// and only after every dependent handle has been released.
type Engine interface {
	// DefaultColumnFamily returns the always-present default column family.
	DefaultColumnFamily() ColumnFamily

	// CreateColumnFamily creates a new named column family.
	CreateColumnFamily(name string) (ColumnFamily, error)

	// DropColumnFamily removes a column family and its data.
	DropColumnFamily(cf ColumnFamily) error

	// Put writes key to cf.
	Put(cf ColumnFamily, key, value []byte) error

	// Get reads key from cf. Returns ErrNotFound when no value is visible.
	Get(cf ColumnFamily, key []byte, opts ReadOptions) ([]byte, error)

	// Delete removes key from cf.
	Delete(cf ColumnFamily, key []byte) error

	// NewSnapshot captures a point-in-time view. It must be paired with
	// ReleaseSnapshot.
	NewSnapshot() Snapshot

	// ReleaseSnapshot releases a snapshot obtained from NewSnapshot.
	ReleaseSnapshot(snap Snapshot)

	// NewIterator returns a forward iterator over cf.
	NewIterator(cf ColumnFamily, opts ReadOptions) (Iterator, error)

	// NewLogIterator streams log entries with sequence >= since.
	NewLogIterator(since uint64) (LogIterator, error)

	// LatestSequence returns the sequence number of the most recent write.
	LatestSequence() uint64

	// Close releases the engine and everything it owns.
	Close() error
}
