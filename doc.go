// Package kvgo provides managed handles over an embedded key/value storage
// engine, with reference-counted lifetimes and a cooperative close protocol.
//
// Every object handed to callers (database, column family, snapshot,
// iterator, log iterator) is a lightweight handle to a reference-counted
// resource. Dependent resources keep the database alive; closing the database
// cascades a forced close to every dependent that is still registered, and
// the engine itself is released only after the last dependent has been torn
// down. Close is an idempotent, multi-waiter rendezvous: any number of
// goroutines may close or await the same resource concurrently, exactly one
// performs the teardown, and all of them return only after the destructor has
// finished.
//
// Handles that are dropped without an explicit Close are reclaimed by the
// runtime: a cleanup registered on each handle initiates the same close
// protocol, so leaked iterators or snapshots cannot pin the database forever.
//
// # Quick start
//
//	eng, err := memengine.New(func(o *memengine.Options) {
//	    o.Dir = "./data"
//	    o.Compression = memengine.CompressionZSTD
//	})
//	if err != nil {
//	    panic(err)
//	}
//
//	db, err := kvgo.Open(eng)
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	if err := db.Put([]byte("key"), []byte("value")); err != nil {
//	    panic(err)
//	}
//
//	snap, _ := db.NewSnapshot()
//	defer snap.Close()
//
//	it, _ := db.NewIterator(kvgo.WithSnapshot(snap))
//	defer it.Close()
//
// Any engine.Engine implementation can sit behind the lifecycle layer; the
// memengine package provides the default in-memory engine with an optional
// write-ahead log.
package kvgo
