// Package postgres provides a PostgreSQL implementation of generic.Store
// over a pgx connection pool. It uses the same kv_collections table as the
// SQLite store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/toil-ledger/generic"
)

type Store struct {
	Db *pgxpool.Pool
}

// New connects to connString, pings the server and creates the schema.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{Db: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.Db.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.Db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv_collections (
			name TEXT PRIMARY KEY,
			payload BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// Get returns the payload stored under key, or nil if absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.Db.QueryRow(ctx, "SELECT payload FROM kv_collections WHERE name = $1", key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return payload, nil
}

const upsert = `
	INSERT INTO kv_collections (name, payload, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.Db.Exec(ctx, upsert, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// PutBatch writes every value in one transaction. Keys are written in
// sorted order so concurrent batches lock rows consistently.
func (s *Store) PutBatch(ctx context.Context, values map[string][]byte) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := &pgx.Batch{}
	for _, k := range keys {
		v := values[k]
		if v == nil {
			v = []byte{}
		}
		batch.Queue(upsert, k, v)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("put batch: %w", err)
	}
	return tx.Commit(ctx)
}

var _ generic.Store = (*Store)(nil)
