/*
store.go - Persistence interface for named collections

PURPOSE:
  Defines the boundary between the ledger and durable storage. The store
  is a key/value map of named collections; each value is an opaque JSON
  payload owned by exactly one caller (the toil Ledger).

ATOMIC BATCHES:
  PutBatch() writes several keys all-or-nothing. The ledger relies on this
  when a purge touches accrual rows, usage rows and both tombstone sets:
  a failed batch must leave every previously persisted value unchanged.

MISSING KEYS:
  Get() returns (nil, nil) for a key that was never written. Callers treat
  that as an empty collection.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory, with failure injection for tests
  - store/sqlite/sqlite.go:  SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - toil/ledger.go: The only component that reads or writes a Store
*/
package generic

import "context"

// Store persists named collections.
type Store interface {
	// Get returns the payload stored under key, or (nil, nil) if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the payload stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// PutBatch replaces several payloads atomically.
	PutBatch(ctx context.Context, values map[string][]byte) error

	// Close releases the underlying resources.
	Close() error
}
