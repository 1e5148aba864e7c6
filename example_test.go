package kvgo_test

import (
	"fmt"

	"github.com/hupe1980/kvgo"
	"github.com/hupe1980/kvgo/memengine"
)

func Example() {
	eng, err := memengine.New()
	if err != nil {
		panic(err)
	}

	db, err := kvgo.Open(eng)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err := db.Put([]byte("greeting"), []byte("hello")); err != nil {
		panic(err)
	}

	v, err := db.Get([]byte("greeting"))
	if err != nil {
		panic(err)
	}
	fmt.Println(string(v))
	// Output: hello
}

func Example_snapshot() {
	eng, err := memengine.New()
	if err != nil {
		panic(err)
	}

	db, err := kvgo.Open(eng)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("before")); err != nil {
		panic(err)
	}

	snap, err := db.NewSnapshot()
	if err != nil {
		panic(err)
	}
	defer snap.Close()

	if err := db.Put([]byte("k"), []byte("after")); err != nil {
		panic(err)
	}

	pinned, err := db.Get([]byte("k"), kvgo.WithSnapshot(snap))
	if err != nil {
		panic(err)
	}
	latest, err := db.Get([]byte("k"))
	if err != nil {
		panic(err)
	}

	fmt.Println(string(pinned), string(latest))
	// Output: before after
}

func Example_iterator() {
	eng, err := memengine.New()
	if err != nil {
		panic(err)
	}

	db, err := kvgo.Open(eng)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	for _, k := range []string{"b", "a", "c"} {
		if err := db.Put([]byte(k), []byte("v")); err != nil {
			panic(err)
		}
	}

	it, err := db.NewIterator()
	if err != nil {
		panic(err)
	}
	defer it.Close()

	for it.SeekToFirst(); it.Valid(); it.Next() {
		fmt.Println(string(it.Key()))
	}
	if err := it.Err(); err != nil {
		panic(err)
	}
	// Output:
	// a
	// b
	// c
}
