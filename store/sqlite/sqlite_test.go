package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/toil-ledger/generic"
	"github.com/warp/toil-ledger/store/sqlite"
	"github.com/warp/toil-ledger/toil"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// COLLECTION TESTS
// =============================================================================

func TestStore_GetMissingKeyReturnsNil(t *testing.T) {
	store := newTestStore(t)
	v, err := store.Get(context.Background(), "toil_accrual_records")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStore_PutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte(`[1]`)))
	require.NoError(t, store.Put(ctx, "k", []byte(`[1,2]`)))

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(v))
}

func TestStore_PutBatchWritesAllKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a", []byte("old")))

	require.NoError(t, store.PutBatch(ctx, map[string][]byte{
		"a": []byte("new"),
		"b": []byte("x"),
	}))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	a, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "new", string(a))
}

func TestStore_PutBatchCancelledWritesNothing(t *testing.T) {
	// GIVEN: a stored value
	// WHEN: a batch runs with an already-cancelled context
	// THEN: the batch fails and the stored value is untouched

	store := newTestStore(t)
	require.NoError(t, store.Put(context.Background(), "a", []byte("old")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.PutBatch(ctx, map[string][]byte{"a": []byte("new"), "b": []byte("x")})
	assert.Error(t, err)

	a, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "old", string(a))
	b, err := store.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	require.NoError(t, store.Reset(ctx))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toil.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	require.NoError(t, store.Close())

	store, err = sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

// =============================================================================
// LEDGER OVER SQLITE
// =============================================================================

func TestStore_LedgerDeletionRoundTrip(t *testing.T) {
	// GIVEN: a ledger backed by SQLite with one accrual sourced from e1
	// WHEN: e1 is tracked and purged
	// THEN: the row is gone and the tombstone sets are empty on disk

	store := newTestStore(t)
	ctx := context.Background()
	ledger := toil.NewLedger(store, nil, nil, nil, toil.LedgerOptions{RetryBackoff: time.Millisecond})

	sat := generic.NewDay(2025, time.March, 15)
	_, err := ledger.StoreAccrual(ctx, toil.AccrualRecord{UserID: "u1", Date: sat, Hours: decimal.NewFromInt(5), SourceEntryID: "e1"})
	require.NoError(t, err)

	_, err = ledger.TrackDeletion(ctx, "e1")
	require.NoError(t, err)
	res, err := ledger.DeleteByEntryID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AccrualRemoved)

	rows, err := ledger.LoadAccrual(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rows)

	raw, err := store.Get(ctx, toil.KeyDeletedAccrualID)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}
