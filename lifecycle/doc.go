// Package lifecycle implements the reference-counted close protocol shared by
// every managed resource in kvgo.
//
// A managed resource combines an atomic reference count with a small,
// independently allocated CloseSync block. The close protocol guarantees that
// the request -> shutdown -> destroy sequence runs exactly once per resource,
// no matter how many threads race to close it, and that any thread can block
// until the destructor has finished using only the CloseSync block - memory
// that stays valid after the resource's own state has been torn down.
//
// The protocol exists because a resource may be reclaimed asynchronously by a
// garbage-collection cleanup running on an arbitrary goroutine while another
// goroutine issues an explicit Close at the same time. Exactly one of them
// wins; everyone else can only observe completion.
package lifecycle
