// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/toil-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a map-backed generic.Store. Payloads are copied on the way in
// and out so callers can never alias stored bytes.
type Memory struct {
	mu       sync.RWMutex
	values   map[string][]byte
	failures map[string]int // op -> remaining injected failures
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{
		values:   make(map[string][]byte),
		failures: make(map[string]int),
	}
}

// FailNext makes the next n calls of op (generic.OpGet, OpPut or
// OpPutBatch) return generic.ErrInjected.
func (m *Memory) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = n
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(generic.OpGet); err != nil {
		return nil, err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(generic.OpPut); err != nil {
		return err
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// PutBatch writes all values or none.
func (m *Memory) PutBatch(_ context.Context, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(generic.OpPutBatch); err != nil {
		return err
	}
	for k, v := range values {
		m.values[k] = append([]byte(nil), v...)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Keys returns the stored keys (test helper).
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

func (m *Memory) checkLocked(op string) error {
	if m.closed {
		return generic.ErrStoreClosed
	}
	if n := m.failures[op]; n > 0 {
		m.failures[op] = n - 1
		return generic.ErrInjected
	}
	return nil
}

var _ generic.Store = (*Memory)(nil)
