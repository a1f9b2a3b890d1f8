/*
errors.go - Storage error types shared by every Store implementation

PURPOSE:
  Store implementations return plain driver errors; the toil ledger wraps
  them in StorageError after its retry budget is exhausted so callers can
  match with errors.Is(err, generic.ErrStorage) regardless of backend.

SEE ALSO:
  - store.go: Store interface
  - toil/ledger.go: Retry loop that produces StorageError
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStorage marks a read or write failure against the persistent store.
	ErrStorage = errors.New("storage failure")

	// ErrStoreClosed is returned by stores used after Close.
	ErrStoreClosed = errors.New("store closed")

	// ErrInjected is returned by the memory store's failure injection.
	ErrInjected = errors.New("injected store failure")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// Store operation names, used in StorageError.Op.
const (
	OpGet      = "get"
	OpPut      = "put"
	OpPutBatch = "put_batch"
)

// StorageError records which store operation failed and after how many attempts.
type StorageError struct {
	Op       string // OpGet, OpPut or OpPutBatch
	Key      string
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q failed after %d attempt(s): %v", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// IsStorageError reports whether err is a persistent store failure.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}
