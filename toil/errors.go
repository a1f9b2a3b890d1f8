/*
errors.go - Error taxonomy for the TOIL ledger

ERROR CATEGORIES:
  1. InputError       - Missing userId/date, hours outside [0,24]. Rejected
                        before any I/O and returned to the caller.
  2. StorageError     - Defined in generic/errors.go. Retried by the ledger
                        with fixed backoff, then surfaced.
  3. ConsistencyError - Duplicate or orphaned rows. Repaired locally by the
                        cleanup sweep and logged; never returned from Service.
  4. LockTimeoutError - A stale write lock was force-released. Logged as a
                        warning; the waiting operation proceeds.

PROPAGATION:
  The Calculation Engine never returns errors (bad input yields 0 hours).
  The Queue and Deletion Coordinator turn ledger failures into a nil/false
  result plus an ErrorEvent. A nil summary means "recompute later", never
  "zero balance".

SEE ALSO:
  - generic/errors.go: StorageError
  - notifier.go: ErrorEvent
*/
package toil

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConsistency  = errors.New("ledger consistency violation")
	ErrLockTimeout  = errors.New("write lock held past timeout")

	// ErrSourceDeleted is returned when a recompute tries to write a row for
	// a timesheet entry that was deleted while the recompute was in flight.
	ErrSourceDeleted = errors.New("source entry was deleted")

	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("calculation queue closed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InputError names the offending field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func inputErr(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}

// ConsistencyError describes rows removed by a cleanup sweep.
type ConsistencyError struct {
	Kind   string // "duplicate_accrual", "duplicate_usage", "orphaned_tombstone"
	UserID string
	Count  int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %d row(s) for user %q", e.Kind, e.Count, e.UserID)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// LockTimeoutError reports how long a force-released lease had been held.
type LockTimeoutError struct {
	HeldFor time.Duration
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("write lock held for %v (timeout %v), force-released", e.HeldFor.Round(time.Millisecond), e.Timeout)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// IsInputError reports whether err was caused by invalid caller input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
