package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no stored version exists for an identifier.
var ErrNotFound = errors.New("store: not found")

// StorageError wraps an I/O failure from the artifact store or the database.
// The coordinator retries these; if the store stays unreachable the whole run
// aborts, since nothing can be durably persisted.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is a storage-layer failure.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
