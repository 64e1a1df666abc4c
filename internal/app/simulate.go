package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"marketwatch/internal/alerting"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/storage"
)

// SimulateAlert runs one evaluation in which symbol trades at the given price and every
// other symbol is unpriced. Matching alerts fire through the configured channels.
// With DryRun the evaluation runs against an in-memory copy of the store.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	assetType, err := storage.ParseAssetType(opts.AssetType)
	if err != nil {
		return err
	}
	price, err := alerting.ParsePriceTarget(opts.Price)
	if err != nil {
		return err
	}
	symbol := storage.NormalizeSymbol(opts.Symbol)
	if symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	static := &staticPriceFetcher{assetType: assetType, symbol: symbol, price: price}
	s, err := a.open(ctx, static)
	if err != nil {
		return err
	}
	defer s.close()

	engine := s.engine
	if opts.DryRun {
		scratch, err := snapshotRepository(ctx, s.repo)
		if err != nil {
			return err
		}
		engine = alerting.NewEngine(scratch, static, a.newSink(), a.Logger, alerting.EngineOptions{})
		defer engine.Close()
	}

	report, err := engine.Evaluate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "simulated %s %s at %s: %d alert(s) evaluated, %d triggered\n",
		assetType, symbol, price.StringFixed(2), report.Evaluated, len(report.Triggered))
	return nil
}

// snapshotRepository copies the alert and history keys into a memory-backed repository.
func snapshotRepository(ctx context.Context, src *storage.Repository) (*storage.Repository, error) {
	mem := storage.NewMemoryKV()
	for _, key := range []string{storage.KeyAlerts, storage.KeyHistory} {
		raw, ok, err := src.KV().Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := mem.Set(ctx, key, raw); err != nil {
			return nil, err
		}
	}
	return storage.NewRepository(mem, nil), nil
}

type staticPriceFetcher struct {
	assetType storage.AssetType
	symbol    string
	price     decimal.Decimal
}

func (s *staticPriceFetcher) FetchBatch(_ context.Context, assetType storage.AssetType, symbols []string) (map[string]fetcher.Quote, error) {
	quotes := make(map[string]fetcher.Quote, 1)
	if assetType != s.assetType {
		return quotes, nil
	}
	for _, sym := range symbols {
		if storage.NormalizeSymbol(sym) == s.symbol {
			quotes[s.symbol] = fetcher.Quote{Symbol: s.symbol, Name: "simulated", CurrentPrice: s.price}
		}
	}
	return quotes, nil
}

var _ fetcher.PriceFetcher = (*staticPriceFetcher)(nil)
