package kvgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/kvgo/engine"
	"github.com/hupe1980/kvgo/registry"
)

var (
	// ErrNotFound is returned when a key has no visible value.
	ErrNotFound = errors.New("not found")

	// ErrStaleHandle is returned when a handle no longer refers to a live
	// resource, or is presented where a handle of another category is
	// expected.
	ErrStaleHandle = errors.New("stale handle")

	// ErrDatabaseClosing is returned when a new dependent resource is
	// requested after the database's close protocol has started.
	ErrDatabaseClosing = errors.New("database is closing")

	// ErrResourceClosed is returned by operations on a resource whose close
	// protocol has started, including in-flight operations interrupted by a
	// cascaded close.
	ErrResourceClosed = errors.New("resource closed")
)

// ErrColumnFamilyExists indicates a create collided with an existing column
// family of the same name.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrColumnFamilyExists struct {
	Name  string
	cause error
}

func (e *ErrColumnFamilyExists) Error() string {
	return fmt.Sprintf("column family %q already exists", e.Name)
}

func (e *ErrColumnFamilyExists) Unwrap() error { return e.cause }

// ErrUnknownColumnFamily indicates a column family handle that does not
// belong to this database or has been dropped.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrUnknownColumnFamily struct {
	Name  string
	cause error
}

func (e *ErrUnknownColumnFamily) Error() string {
	return fmt.Sprintf("unknown column family %q", e.Name)
}

func (e *ErrUnknownColumnFamily) Unwrap() error { return e.cause }

// translateError maps registry and engine failures onto the package's error
// taxonomy. Errors already in the taxonomy pass through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, registry.ErrStale) || errors.Is(err, registry.ErrKindMismatch) {
		return fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}

	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrResourceClosed, err)
	}

	return err
}

func translateErrorCF(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrColumnFamilyExists) {
		return &ErrColumnFamilyExists{Name: name, cause: err}
	}
	if errors.Is(err, engine.ErrColumnFamilyUnknown) {
		return &ErrUnknownColumnFamily{Name: name, cause: err}
	}
	return translateError(err)
}
