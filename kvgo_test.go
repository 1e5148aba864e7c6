package kvgo_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kvgo"
	"github.com/hupe1980/kvgo/memengine"
	"github.com/hupe1980/kvgo/resource"
)

func openMemDB(t *testing.T, optFns ...kvgo.Option) *kvgo.Database {
	t.Helper()

	eng, err := memengine.New()
	require.NoError(t, err)

	db, err := kvgo.Open(eng, optFns...)
	require.NoError(t, err)
	return db
}

func TestDatabase_PutGetDelete(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, db.Delete([]byte("k")))

	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, kvgo.ErrNotFound)
}

func TestDatabase_SnapshotReads(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("old")))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("new")))

	v, err := db.Get([]byte("k"), kvgo.WithSnapshot(snap))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), v)

	v, err = db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)

	seq, err := snap.Sequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestDatabase_ColumnFamilies(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	cf, err := db.CreateColumnFamily("meta")
	require.NoError(t, err)
	assert.Equal(t, "meta", cf.Name())

	_, err = db.CreateColumnFamily("meta")
	var exists *kvgo.ErrColumnFamilyExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "meta", exists.Name)

	require.NoError(t, cf.Put([]byte("k"), []byte("meta-v")))
	require.NoError(t, db.Put([]byte("k"), []byte("default-v")))

	v, err := cf.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("meta-v"), v)

	v, err = db.Get([]byte("k"), kvgo.WithColumnFamily(cf))
	require.NoError(t, err)
	assert.Equal(t, []byte("meta-v"), v)

	v, err = db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("default-v"), v)
}

func TestDatabase_DropColumnFamily(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	cf, err := db.CreateColumnFamily("scratch")
	require.NoError(t, err)
	require.NoError(t, cf.Put([]byte("k"), []byte("v")))

	require.NoError(t, db.DropColumnFamily(cf))

	// The handle is closed along with the drop.
	assert.ErrorIs(t, cf.Put([]byte("k"), []byte("v")), kvgo.ErrResourceClosed)

	n, err := db.DependentCount(kvgo.CategoryColumnFamily)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The name is free again.
	cf2, err := db.CreateColumnFamily("scratch")
	require.NoError(t, err)
	_, err = cf2.Get([]byte("k"))
	assert.ErrorIs(t, err, kvgo.ErrNotFound)
}

func TestDatabase_Iterator(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	for i := range 5 {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"k0", "k1", "k2", "k3", "k4"}, keys)

	it.Seek([]byte("k3"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("v3"), it.Value())
}

func TestDatabase_IteratorOverSnapshot(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	it, err := db.NewIterator(kvgo.WithSnapshot(snap))
	require.NoError(t, err)
	defer it.Close()

	// Closing the snapshot does not force the iterator closed; iterators
	// depend on the database, not on the snapshot they read through.
	require.NoError(t, snap.Close())

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a"}, keys)
}

// A database close racing an in-flight scan must end the scan with
// ErrResourceClosed, never crash inside the native iterator.
func TestDatabase_CloseDuringScan(t *testing.T) {
	db := openMemDB(t)

	for i := 0; i < 64; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte("v")))
	}

	it, err := db.NewIterator()
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		for {
			for it.SeekToFirst(); it.Valid(); it.Next() {
				_ = it.Key()
				_ = it.Value()
			}
			if it.Err() != nil {
				return
			}
		}
	}()

	<-started
	require.NoError(t, db.Close())
	<-done

	assert.ErrorIs(t, it.Err(), kvgo.ErrResourceClosed)
}

// Same race against a log stream: closing the database underneath an active
// reader ends the stream with ErrResourceClosed.
func TestDatabase_CloseDuringLogStream(t *testing.T) {
	eng, err := memengine.New(func(o *memengine.Options) {
		o.Dir = t.TempDir()
	})
	require.NoError(t, err)

	db, err := kvgo.Open(eng)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte("v")))
	}

	it, err := db.NewLogIterator(1)
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		for {
			for {
				if _, ok := it.Next(); !ok {
					break
				}
			}
			if it.Err() != nil {
				return
			}
		}
	}()

	<-started
	require.NoError(t, db.Close())
	<-done

	assert.ErrorIs(t, it.Err(), kvgo.ErrResourceClosed)
}

func TestDatabase_LogIterator(t *testing.T) {
	ctrl := resource.NewController(resource.Config{LogReadBytesPerSec: 1 << 20})
	eng, err := memengine.New(func(o *memengine.Options) {
		o.Dir = t.TempDir()
		o.Controller = ctrl
	})
	require.NoError(t, err)

	db, err := kvgo.Open(eng)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	require.NoError(t, db.Delete([]byte("a")))

	it, err := db.NewLogIterator(2)
	require.NoError(t, err)
	defer it.Close()

	var seqs []uint64
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		seqs = append(seqs, entry.Seq)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []uint64{2, 3}, seqs)

	latest, err := db.LatestSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest)
}

func TestDatabase_LogIteratorUnavailable(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	_, err := db.NewLogIterator(0)
	require.Error(t, err)
}

func TestDatabase_DefaultColumnFamilyHandle(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	cf, err := db.DefaultColumnFamily()
	require.NoError(t, err)
	defer cf.Close()

	require.NoError(t, cf.Put([]byte("k"), []byte("v")))

	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	it, err := cf.NewIterator()
	require.NoError(t, err)
	defer it.Close()

	it.SeekToFirst()
	require.True(t, it.Valid())
	assert.Equal(t, []byte("k"), it.Key())
}
