package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrNotConfigured indicates the backend was not initialised.
var ErrNotConfigured = errors.New("storage: backend not configured")

// KV is the durable key-value medium behind the persisted collections.
// Get reports ok=false when the key has never been written.
//
// Transact runs fn with exclusive write access to the store, shared with every other
// process using the same backend. Get and Set called with the ctx passed to fn join
// the transaction. If fn returns an error none of its writes are kept. Nested calls
// with a transaction ctx run fn inline.
type KV interface {
	Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}

// AdvisoryLocker exposes cross-process lock helpers for backends that support them.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// MemoryKV keeps values in process memory. It does not survive restarts and is meant
// for tests and dry runs.
type MemoryKV struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	values map[string][]byte
}

type memoryTxKey struct{ kv *MemoryKV }

type memoryTx struct {
	staged map[string][]byte
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (m *MemoryKV) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if tx, ok := ctx.Value(memoryTxKey{m}).(*memoryTx); ok {
		if v, staged := tx.staged[key]; staged {
			return append(json.RawMessage(nil), v...), true, nil
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

// Set stores a copy of value.
func (m *MemoryKV) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return errors.New("memory kv: value is not valid json")
	}
	if tx, ok := ctx.Value(memoryTxKey{m}).(*memoryTx); ok {
		tx.staged[key] = append([]byte(nil), value...)
		return nil
	}
	return m.Transact(ctx, func(ctx context.Context) error {
		return m.Set(ctx, key, value)
	})
}

// Transact stages writes made by fn and applies them together when fn succeeds.
func (m *MemoryKV) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memoryTxKey{m}).(*memoryTx); ok {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memoryTx{staged: make(map[string][]byte)}
	if err := fn(context.WithValue(ctx, memoryTxKey{m}, tx)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, v := range tx.staged {
		m.values[key] = v
	}
	return nil
}

// Close is a no-op.
func (m *MemoryKV) Close() error {
	return nil
}

var _ KV = (*MemoryKV)(nil)
