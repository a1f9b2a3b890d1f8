package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/toil-ledger/generic"
	"github.com/warp/toil-ledger/generic/store"
)

func TestMemory_GetMissingKey(t *testing.T) {
	m := store.NewMemory()
	v, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemory_PayloadsAreCopied(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	in := []byte(`[1]`)
	require.NoError(t, m.Put(ctx, "k", in))
	in[1] = '9'

	out, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(out))
}

func TestMemory_FailedBatchWritesNothing(t *testing.T) {
	// GIVEN: a stored value and an injected batch failure
	// WHEN: a batch touching that key and a new key is written
	// THEN: the batch fails and neither key changes

	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "a", []byte("old")))
	m.FailNext(generic.OpPutBatch, 1)

	err := m.PutBatch(ctx, map[string][]byte{"a": []byte("new"), "b": []byte("x")})
	assert.ErrorIs(t, err, generic.ErrInjected)

	a, _ := m.Get(ctx, "a")
	b, _ := m.Get(ctx, "b")
	assert.Equal(t, "old", string(a))
	assert.Nil(t, b)

	// injected failures are consumed
	require.NoError(t, m.PutBatch(ctx, map[string][]byte{"a": []byte("new")}))
	a, _ = m.Get(ctx, "a")
	assert.Equal(t, "new", string(a))
}

func TestMemory_ClosedStoreRejectsCalls(t *testing.T) {
	m := store.NewMemory()
	require.NoError(t, m.Close())
	_, err := m.Get(context.Background(), "k")
	assert.ErrorIs(t, err, generic.ErrStoreClosed)
}
