package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS kv_store (
        key        TEXT PRIMARY KEY,
        value      JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	pgGetSQL = `SELECT value FROM kv_store WHERE key = $1;`

	pgSetSQL = `INSERT INTO kv_store (
        key,
        value,
        updated_at
    ) VALUES (
        $1, $2::jsonb, now()
    )
    ON CONFLICT (key) DO UPDATE
    SET value      = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	xactLockSQL        = `SELECT pg_advisory_xact_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// txLockKey serialises store transactions. It must differ from the evaluation lock
// key configured under scheduler.advisory_lock_key.
const txLockKey int64 = 0x6d77_6b76

// PostgresKV stores each key as a JSONB row.
type PostgresKV struct {
	pool *pgxpool.Pool
}

type pgTxKey struct{ kv *PostgresKV }

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPostgresKV wires a pgx pool into a PostgresKV.
func NewPostgresKV(pool *pgxpool.Pool) *PostgresKV {
	return &PostgresKV{pool: pool}
}

// EnsureSchema creates the backing table when missing.
func (s *PostgresKV) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("ensure kv schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresKV) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresKV) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Get reads key.
func (s *PostgresKV) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}
	var value []byte
	if err := s.querier(ctx, pool).QueryRow(ctx, pgGetSQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	return json.RawMessage(value), true, nil
}

// Set upserts key.
func (s *PostgresKV) Set(ctx context.Context, key string, value json.RawMessage) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := s.querier(ctx, pool).Exec(ctx, pgSetSQL, key, string(value)); err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

// Transact runs fn inside a transaction that first takes a transaction-scoped
// advisory lock, so read-modify-write cycles from different processes never overlap.
func (s *PostgresKV) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, ok := ctx.Value(pgTxKey{s}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("kv begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, xactLockSQL, txLockKey); err != nil {
		return fmt.Errorf("kv lock: %w", err)
	}
	if err := fn(context.WithValue(ctx, pgTxKey{s}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("kv commit: %w", err)
	}
	return nil
}

func (s *PostgresKV) querier(ctx context.Context, pool *pgxpool.Pool) pgQuerier {
	if tx, ok := ctx.Value(pgTxKey{s}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresKV) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is also released when the session ends
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ KV             = (*PostgresKV)(nil)
	_ AdvisoryLocker = (*PostgresKV)(nil)
)
