package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_records (
	key        BYTEA PRIMARY KEY,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres keeps records in a single kv_records table. Lifetime hints update
// expires_at, which archival jobs may read; rows are never deleted for it.
type Postgres struct {
	Db *pgxpool.Pool
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
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

	return &Postgres{Db: pool}, nil
}

// NewPostgresFromPool shares an existing pool, e.g. with the token ledger.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Db: pool}
}

// EnsureSchema creates the records table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, kvSchema); err != nil {
		return fmt.Errorf("create kv schema: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := s.Db.QueryRow(ctx, "SELECT value FROM kv_records WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	return value, nil
}

func (s *Postgres) Has(ctx context.Context, key []byte) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM kv_records WHERE key = $1)", key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("kv has: %w", err)
	}
	return exists, nil
}

func (s *Postgres) Write(ctx context.Context, b *Batch) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, op := range b.Ops() {
		if op.Delete {
			if _, err := tx.Exec(ctx, "DELETE FROM kv_records WHERE key = $1", op.Key); err != nil {
				return fmt.Errorf("kv delete: %w", err)
			}
			continue
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO kv_records (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			op.Key, op.Value,
		)
		if err != nil {
			return fmt.Errorf("kv put: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Postgres) ExtendTTL(ctx context.Context, key []byte, lt Lifetime) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE kv_records
		    SET expires_at = now() + make_interval(secs => $2)
		  WHERE key = $1
		    AND (expires_at IS NULL OR expires_at < now() + make_interval(secs => $3))`,
		key, lt.ExtendTo.Seconds(), lt.Threshold.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("kv extend lifetime: %w", err)
	}
	if tag.RowsAffected() == 0 {
		ok, err := s.Has(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
	}
	return nil
}

func (s *Postgres) Close() error {
	s.Db.Close()
	return nil
}
