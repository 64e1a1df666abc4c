package watchlist

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"marketwatch/internal/apperr"
	"marketwatch/internal/storage"
)

// Repository is the persistence behind Store.
type Repository interface {
	storage.WatchlistStore
	storage.Transactor
}

// Store manages the persisted watchlist. Lists keep insertion order and never hold
// a symbol twice.
type Store struct {
	repo   Repository
	logger zerolog.Logger
	mu     sync.Mutex
}

// New wraps repo.
func New(repo Repository, logger zerolog.Logger) *Store {
	return &Store{repo: repo, logger: logger.With().Str("component", "watchlist").Logger()}
}

func validate(symbol string, assetType storage.AssetType) (string, error) {
	if !assetType.Valid() {
		return "", &apperr.ValidationError{Field: "asset_type", Value: assetType, Message: "must be stocks or crypto", Err: apperr.ErrInvalidAssetType}
	}
	symbol = storage.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", apperr.NewValidationError("symbol", symbol, "must not be empty")
	}
	if strings.ContainsAny(symbol, ", \t") {
		return "", apperr.NewValidationError("symbol", symbol, "must not contain commas or spaces")
	}
	return symbol, nil
}

// Add appends symbol to the list for assetType. Adding a present symbol is a no-op.
func (s *Store) Add(ctx context.Context, symbol string, assetType storage.AssetType) error {
	symbol, err := validate(symbol, assetType)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	err = s.repo.Atomically(ctx, func(ctx context.Context) error {
		w, err := s.repo.LoadWatchlist(ctx)
		if err != nil {
			return err
		}
		list := w.Symbols(assetType)
		if indexOf(list, symbol) >= 0 {
			return nil
		}
		w.SetSymbols(assetType, append(list, symbol))
		added = true
		return s.repo.SaveWatchlist(ctx, w)
	})
	if err != nil || !added {
		return err
	}
	s.logger.Info().Str("symbol", symbol).Str("asset_type", string(assetType)).Msg("added to watchlist")
	return nil
}

// Remove drops symbol from the list for assetType. Absent symbols are a no-op.
func (s *Store) Remove(ctx context.Context, symbol string, assetType storage.AssetType) error {
	symbol, err := validate(symbol, assetType)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	err = s.repo.Atomically(ctx, func(ctx context.Context) error {
		w, err := s.repo.LoadWatchlist(ctx)
		if err != nil {
			return err
		}
		list := w.Symbols(assetType)
		idx := indexOf(list, symbol)
		if idx < 0 {
			return nil
		}
		kept := make([]string, 0, len(list)-1)
		kept = append(kept, list[:idx]...)
		kept = append(kept, list[idx+1:]...)
		w.SetSymbols(assetType, kept)
		removed = true
		return s.repo.SaveWatchlist(ctx, w)
	})
	if err != nil || !removed {
		return err
	}
	s.logger.Info().Str("symbol", symbol).Str("asset_type", string(assetType)).Msg("removed from watchlist")
	return nil
}

// Contains reports membership.
func (s *Store) Contains(ctx context.Context, symbol string, assetType storage.AssetType) (bool, error) {
	symbol, err := validate(symbol, assetType)
	if err != nil {
		return false, err
	}
	w, err := s.repo.LoadWatchlist(ctx)
	if err != nil {
		return false, err
	}
	return indexOf(w.Symbols(assetType), symbol) >= 0, nil
}

// List returns the full watchlist.
func (s *Store) List(ctx context.Context) (storage.Watchlist, error) {
	return s.repo.LoadWatchlist(ctx)
}

func indexOf(list []string, symbol string) int {
	for i, v := range list {
		if storage.NormalizeSymbol(v) == symbol {
			return i
		}
	}
	return -1
}
