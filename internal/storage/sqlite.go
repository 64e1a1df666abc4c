package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteSchemaSQL = `CREATE TABLE IF NOT EXISTS kv_store (
        key        TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`

	sqliteGetSQL = `SELECT value FROM kv_store WHERE key = ?;`

	sqliteSetSQL = `INSERT INTO kv_store (key, value, updated_at)
    VALUES (?, ?, CURRENT_TIMESTAMP)
    ON CONFLICT(key) DO UPDATE
    SET value = excluded.value,
        updated_at = CURRENT_TIMESTAMP;`
)

// SQLiteKV stores each key as a row in a local SQLite database. Transactions begin
// IMMEDIATE, taking the database write lock up front so that concurrent processes
// queue behind the busy timeout instead of interleaving read-modify-write cycles.
type SQLiteKV struct {
	db *sql.DB
}

type sqliteTxKey struct{ kv *SQLiteKV }

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OpenSQLiteKV opens (and migrates) the database at path.
func OpenSQLiteKV(path string) (*SQLiteKV, error) {
	if path == "" {
		return nil, errors.New("storage.path is required for the sqlite backend")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(sqliteSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

// Get reads key.
func (s *SQLiteKV) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrNotConfigured
	}
	var value string
	if err := s.querier(ctx).QueryRowContext(ctx, sqliteGetSQL, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlite get: %w", err)
	}
	return json.RawMessage(value), true, nil
}

// Set upserts key.
func (s *SQLiteKV) Set(ctx context.Context, key string, value json.RawMessage) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	if !json.Valid(value) {
		return errors.New("sqlite kv: value is not valid json")
	}
	if _, err := s.querier(ctx).ExecContext(ctx, sqliteSetSQL, key, string(value)); err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Transact runs fn inside one IMMEDIATE transaction and commits when fn succeeds.
func (s *SQLiteKV) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	if _, ok := ctx.Value(sqliteTxKey{s}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	if err := fn(context.WithValue(ctx, sqliteTxKey{s}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func (s *SQLiteKV) querier(ctx context.Context) sqliteQuerier {
	if tx, ok := ctx.Value(sqliteTxKey{s}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Close releases the database handle.
func (s *SQLiteKV) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ KV = (*SQLiteKV)(nil)
