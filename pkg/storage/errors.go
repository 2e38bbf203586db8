package storage

import (
	"errors"
	"fmt"
)

// Sentinel storage errors. Callers match with errors.Is.
var (
	// ErrStorageExists indicates a dataset directory that already holds
	// objects while overwrite was not requested.
	ErrStorageExists = errors.New("storage directory already exists")

	// ErrObjectNotFound indicates a missing object key.
	ErrObjectNotFound = errors.New("object not found")
)

// TransferError wraps a failed parallel transfer item with its operation,
// key and the number of attempts made. Unwrap exposes the underlying error
// so errors.Is still matches the sentinel.
type TransferError struct {
	Op       string // "upload" or "download"
	Key      string
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
