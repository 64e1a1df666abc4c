package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"marketwatch/internal/apperr"
	"marketwatch/internal/events"
)

// AlertStore defines persistence for the active alert set.
type AlertStore interface {
	LoadAlerts(ctx context.Context) ([]Alert, error)
	SaveAlerts(ctx context.Context, alerts []Alert) error
}

// HistoryStore defines persistence for triggered alerts.
type HistoryStore interface {
	LoadHistory(ctx context.Context) ([]TriggeredAlert, error)
	SaveHistory(ctx context.Context, history []TriggeredAlert) error
}

// WatchlistStore defines persistence for watchlist membership.
type WatchlistStore interface {
	LoadWatchlist(ctx context.Context) (Watchlist, error)
	SaveWatchlist(ctx context.Context, w Watchlist) error
}

// Transactor runs a read-modify-write cycle that no other writer, in this process or
// another, can interleave with.
type Transactor interface {
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repository gives typed access to the three persisted keys and announces every
// successful write on the bus.
type Repository struct {
	kv     KV
	bus    *events.Bus
	source string
}

// NewRepository wraps kv. bus may be nil.
func NewRepository(kv KV, bus *events.Bus) *Repository {
	return &Repository{kv: kv, bus: bus, source: "repository"}
}

// KV exposes the underlying backend.
func (r *Repository) KV() KV {
	return r.kv
}

type pendingKey struct{ repo *Repository }

// Atomically runs fn in one backend transaction. Loads and saves made with the ctx
// given to fn see each other and commit together; changes are announced only after
// the commit succeeds.
func (r *Repository) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pendingKey{r}).(*[]string); ok {
		return fn(ctx)
	}
	var pending []string
	err := r.kv.Transact(ctx, func(ctx context.Context) error {
		pending = pending[:0]
		return fn(context.WithValue(ctx, pendingKey{r}, &pending))
	})
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(pending))
	for _, key := range pending {
		if !seen[key] {
			seen[key] = true
			r.bus.Publish(key, r.source)
		}
	}
	return nil
}

// Bus exposes the change bus, possibly nil.
func (r *Repository) Bus() *events.Bus {
	return r.bus
}

// LoadAlerts returns the persisted active set, or an empty slice.
func (r *Repository) LoadAlerts(ctx context.Context) ([]Alert, error) {
	alerts := []Alert{}
	if err := r.load(ctx, KeyAlerts, &alerts); err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts, nil
}

// SaveAlerts replaces the persisted active set.
func (r *Repository) SaveAlerts(ctx context.Context, alerts []Alert) error {
	if alerts == nil {
		alerts = []Alert{}
	}
	return r.save(ctx, KeyAlerts, alerts)
}

// LoadHistory returns the persisted history, or an empty slice.
func (r *Repository) LoadHistory(ctx context.Context) ([]TriggeredAlert, error) {
	history := []TriggeredAlert{}
	if err := r.load(ctx, KeyHistory, &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = []TriggeredAlert{}
	}
	return history, nil
}

// SaveHistory replaces the persisted history.
func (r *Repository) SaveHistory(ctx context.Context, history []TriggeredAlert) error {
	if history == nil {
		history = []TriggeredAlert{}
	}
	return r.save(ctx, KeyHistory, history)
}

// LoadWatchlist returns the persisted watchlist with both lists non-nil.
func (r *Repository) LoadWatchlist(ctx context.Context) (Watchlist, error) {
	var w Watchlist
	if err := r.load(ctx, KeyWatchlist, &w); err != nil {
		return Watchlist{}, err
	}
	return normalizeWatchlist(w), nil
}

// SaveWatchlist replaces the persisted watchlist.
func (r *Repository) SaveWatchlist(ctx context.Context, w Watchlist) error {
	return r.save(ctx, KeyWatchlist, normalizeWatchlist(w))
}

func (r *Repository) load(ctx context.Context, key string, dst interface{}) error {
	raw, ok, err := r.kv.Get(ctx, key)
	if err != nil {
		return apperr.NewStorageError("get", key, err)
	}
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.NewStorageError("decode", key, err)
	}
	return nil
}

func (r *Repository) save(ctx context.Context, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return apperr.NewStorageError("encode", key, fmt.Errorf("marshal: %w", err))
	}
	if err := r.kv.Set(ctx, key, payload); err != nil {
		return apperr.NewStorageError("set", key, err)
	}
	if pending, ok := ctx.Value(pendingKey{r}).(*[]string); ok {
		*pending = append(*pending, key)
		return nil
	}
	r.bus.Publish(key, r.source)
	return nil
}

func normalizeWatchlist(w Watchlist) Watchlist {
	if w.Stocks == nil {
		w.Stocks = []string{}
	}
	if w.Crypto == nil {
		w.Crypto = []string{}
	}
	return w
}

var (
	_ AlertStore     = (*Repository)(nil)
	_ HistoryStore   = (*Repository)(nil)
	_ WatchlistStore = (*Repository)(nil)
	_ Transactor     = (*Repository)(nil)
)
