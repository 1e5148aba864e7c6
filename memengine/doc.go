// Package memengine provides the default in-memory implementation of the
// engine.Engine surface.
//
// Rows are multi-versioned: every write appends a sequence-stamped revision,
// which is what gives snapshots their consistent point-in-time reads without
// copying state. An optional write-ahead log makes the store recoverable and
// feeds log iterators; values in the log can be block-compressed with LZ4 or
// zstd. A background pass prunes revisions no live snapshot can see.
package memengine
