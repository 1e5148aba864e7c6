package memengine

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kvgo/engine"
)

func TestWAL_ReplayRestoresState(t *testing.T) {
	for _, tt := range []struct {
		name        string
		compression CompressionType
	}{
		{"none", CompressionNone},
		{"lz4", CompressionLZ4},
		{"zstd", CompressionZSTD},
	} {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			opt := func(o *Options) {
				o.Dir = dir
				o.Compression = tt.compression
			}

			big := bytes.Repeat([]byte("compress me "), 100)

			e, err := New(opt)
			require.NoError(t, err)

			cf := e.DefaultColumnFamily()
			require.NoError(t, e.Put(cf, []byte("small"), []byte("v")))
			require.NoError(t, e.Put(cf, []byte("big"), big))
			require.NoError(t, e.Put(cf, []byte("dead"), []byte("x")))
			require.NoError(t, e.Delete(cf, []byte("dead")))

			other, err := e.CreateColumnFamily("other")
			require.NoError(t, err)
			require.NoError(t, e.Put(other, []byte("k"), []byte("o")))

			lastSeq := e.LatestSequence()
			require.NoError(t, e.Close())

			// Reopen and verify everything came back.
			e2, err := New(opt)
			require.NoError(t, err)
			defer e2.Close()

			assert.Equal(t, lastSeq, e2.LatestSequence())

			cf2 := e2.DefaultColumnFamily()
			v, err := e2.Get(cf2, []byte("small"), engine.ReadOptions{})
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), v)

			v, err = e2.Get(cf2, []byte("big"), engine.ReadOptions{})
			require.NoError(t, err)
			assert.Equal(t, big, v)

			_, err = e2.Get(cf2, []byte("dead"), engine.ReadOptions{})
			assert.ErrorIs(t, err, engine.ErrNotFound)

			// The replayed column family exists again.
			other2, err := e2.CreateColumnFamily("other")
			assert.ErrorIs(t, err, engine.ErrColumnFamilyExists)
			_ = other2
		})
	}
}

func TestWAL_LogIteratorSince(t *testing.T) {
	dir := t.TempDir()
	e, err := New(func(o *Options) { o.Dir = dir })
	require.NoError(t, err)
	defer e.Close()

	cf := e.DefaultColumnFamily()
	require.NoError(t, e.Put(cf, []byte("a"), []byte("1"))) // seq 1
	require.NoError(t, e.Put(cf, []byte("b"), []byte("2"))) // seq 2
	require.NoError(t, e.Delete(cf, []byte("a")))           // seq 3

	it, err := e.NewLogIterator(2)
	require.NoError(t, err)
	defer it.Close()

	entry, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(2), entry.Seq)
	assert.Equal(t, engine.OpPut, entry.Op)
	assert.Equal(t, engine.DefaultColumnFamilyName, entry.ColumnFamily)
	assert.Equal(t, []byte("b"), entry.Key)
	assert.Equal(t, []byte("2"), entry.Value)

	entry, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(3), entry.Seq)
	assert.Equal(t, engine.OpDelete, entry.Op)
	assert.Equal(t, []byte("a"), entry.Key)

	_, ok = it.Next()
	assert.False(t, ok)
	assert.NoError(t, it.Err())
}

// A record torn by a crash mid-append must terminate the stream cleanly, not
// poison it.
func TestWAL_TornTailTerminatesStream(t *testing.T) {
	dir := t.TempDir()
	e, err := New(func(o *Options) { o.Dir = dir })
	require.NoError(t, err)

	cf := e.DefaultColumnFamily()
	require.NoError(t, e.Put(cf, []byte("keep"), []byte("v")))
	require.NoError(t, e.Put(cf, []byte("torn"), []byte("this record will be cut short")))
	require.NoError(t, e.Close())

	path := filepath.Join(dir, walFileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	e2, err := New(func(o *Options) { o.Dir = dir })
	require.NoError(t, err)
	defer e2.Close()

	v, err := e2.Get(e2.DefaultColumnFamily(), []byte("keep"), engine.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	_, err = e2.Get(e2.DefaultColumnFamily(), []byte("torn"), engine.ReadOptions{})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestWAL_CorruptRecordReported(t *testing.T) {
	dir := t.TempDir()
	e, err := New(func(o *Options) { o.Dir = dir })
	require.NoError(t, err)

	cf := e.DefaultColumnFamily()
	require.NoError(t, e.Put(cf, []byte("a"), []byte("payload")))
	require.NoError(t, e.Put(cf, []byte("b"), []byte("payload")))
	require.NoError(t, e.Close())

	// Flip a payload byte in the middle of the file.
	path := filepath.Join(dir, walFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[walHeaderSize+walRecordSize+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = New(func(o *Options) { o.Dir = dir })
	require.ErrorIs(t, err, errWALCorrupt)
}

// A corrupt length field must be rejected before the payload buffer is
// allocated, not trusted into a multi-gigabyte make.
func TestWAL_OversizedLengthReported(t *testing.T) {
	dir := t.TempDir()
	e, err := New(func(o *Options) { o.Dir = dir })
	require.NoError(t, err)

	cf := e.DefaultColumnFamily()
	require.NoError(t, e.Put(cf, []byte("a"), []byte("payload")))
	require.NoError(t, e.Close())

	// Overwrite the record's keyLen field with an absurd value.
	path := filepath.Join(dir, walFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[walHeaderSize+12:walHeaderSize+16], 0xFFFFFFFF)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = New(func(o *Options) { o.Dir = dir })
	require.ErrorIs(t, err, errWALCorrupt)
}
