package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"marketwatch/internal/alerting"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/format"
	"marketwatch/internal/storage"
)

var (
	upColor   = color.New(color.FgGreen)
	downColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func conditionColor(c storage.Condition) *color.Color {
	if c == storage.ConditionBelow {
		return downColor
	}
	return upColor
}

// AddAlert validates and stores a new alert, then prints it.
func (a *App) AddAlert(ctx context.Context, opts AlertOptions) error {
	assetType, err := storage.ParseAssetType(opts.AssetType)
	if err != nil {
		return err
	}
	condition, err := storage.ParseCondition(opts.Condition)
	if err != nil {
		return err
	}
	target, err := alerting.ParsePriceTarget(opts.Target)
	if err != nil {
		return err
	}

	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	alert, err := s.engine.CreateAlert(ctx, alerting.NewAlert{
		Symbol:      opts.Symbol,
		AssetType:   assetType,
		PriceTarget: target,
		Condition:   condition,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "created %s: %s %s %s\n", alert.ID, alert.Symbol, alert.Condition, format.Price(alert.PriceTarget))
	return nil
}

// ListAlerts prints the active set.
func (a *App) ListAlerts(ctx context.Context) error {
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	alerts, err := s.engine.ListAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no active alerts")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tType\tCondition\tTarget\tCreated (UTC)")
	for _, alert := range alerts {
		cond := string(alert.Condition)
		if !alert.Active {
			cond = dimColor.Sprint(cond + " (inactive)")
		} else {
			cond = conditionColor(alert.Condition).Sprint(cond)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ID,
			alert.Symbol,
			alert.AssetType,
			cond,
			format.Price(alert.PriceTarget),
			alert.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

// DeleteAlert removes an active alert by id.
func (a *App) DeleteAlert(ctx context.Context, id string) error {
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()
	return s.engine.DeleteAlert(ctx, id)
}

// ListHistory prints triggered alerts, newest first, up to limit (all when limit <= 0).
func (a *App) ListHistory(ctx context.Context, limit int) error {
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	history, err := s.engine.ListHistory(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(a.Out, "no triggered alerts")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tType\tCondition\tTarget\tPrice\tTriggered (UTC)")
	shown := 0
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && shown == limit {
			break
		}
		entry := history[i]
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.ID,
			entry.Symbol,
			entry.AssetType,
			conditionColor(entry.Condition).Sprint(entry.Condition),
			format.Price(entry.PriceTarget),
			format.Price(entry.PriceAtTrigger),
			entry.TriggeredAt.UTC().Format(time.RFC3339),
		)
		shown++
	}
	return writer.Flush()
}

// DeleteHistoryEntry removes one history entry by id.
func (a *App) DeleteHistoryEntry(ctx context.Context, id string) error {
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()
	return s.engine.DeleteHistoryEntry(ctx, id)
}

// ClearHistory removes all history entries.
func (a *App) ClearHistory(ctx context.Context) error {
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()
	return s.engine.ClearHistory(ctx)
}

// WatchlistAdd adds a symbol to the watchlist.
func (a *App) WatchlistAdd(ctx context.Context, symbol, assetType string) error {
	t, err := storage.ParseAssetType(assetType)
	if err != nil {
		return err
	}
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()
	return s.watchlist.Add(ctx, symbol, t)
}

// WatchlistRemove drops a symbol from the watchlist.
func (a *App) WatchlistRemove(ctx context.Context, symbol, assetType string) error {
	t, err := storage.ParseAssetType(assetType)
	if err != nil {
		return err
	}
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()
	return s.watchlist.Remove(ctx, symbol, t)
}

// WatchlistContains prints whether symbol is watched and returns the answer.
func (a *App) WatchlistContains(ctx context.Context, symbol, assetType string) (bool, error) {
	t, err := storage.ParseAssetType(assetType)
	if err != nil {
		return false, err
	}
	s, err := a.open(ctx, nil)
	if err != nil {
		return false, err
	}
	defer s.close()

	ok, err := s.watchlist.Contains(ctx, symbol, t)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(a.Out, ok)
	return ok, nil
}

// WatchlistList prints the watchlist. With quotes, current prices are fetched per
// asset type; a failed batch is reported and the symbols are shown without prices.
func (a *App) WatchlistList(ctx context.Context, withQuotes bool) error {
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	w, err := s.watchlist.List(ctx)
	if err != nil {
		return err
	}
	if len(w.Stocks) == 0 && len(w.Crypto) == 0 {
		fmt.Fprintln(a.Out, "watchlist is empty")
		return nil
	}

	var gateway *fetcher.Gateway
	if withQuotes {
		gateway = a.newGateway()
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	if withQuotes {
		fmt.Fprintln(writer, "Symbol\tType\tPrice\tChange\tVolume")
	} else {
		fmt.Fprintln(writer, "Symbol\tType")
	}
	for _, assetType := range storage.AssetTypes {
		symbols := w.Symbols(assetType)
		if len(symbols) == 0 {
			continue
		}
		var quotes map[string]fetcher.Quote
		if gateway != nil {
			quotes, err = gateway.FetchBatch(ctx, assetType, symbols)
			if err != nil {
				a.Logger.Warn().Err(err).Str("asset_type", string(assetType)).Msg("quotes unavailable")
			}
		}
		for _, sym := range symbols {
			if !withQuotes {
				fmt.Fprintf(writer, "%s\t%s\n", sym, assetType)
				continue
			}
			q, ok := quotes[storage.NormalizeSymbol(sym)]
			if !ok {
				fmt.Fprintf(writer, "%s\t%s\t-\t-\t-\n", sym, assetType)
				continue
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", sym, assetType, format.Price(q.CurrentPrice), changeCell(q), volumeCell(q))
		}
	}
	return writer.Flush()
}

// Quote prints current prices for symbols of one asset type.
func (a *App) Quote(ctx context.Context, opts QuoteOptions) error {
	assetType, err := storage.ParseAssetType(opts.AssetType)
	if err != nil {
		return err
	}
	var suggest storage.Condition
	if strings.TrimSpace(opts.Suggest) != "" {
		if suggest, err = storage.ParseCondition(opts.Suggest); err != nil {
			return err
		}
	}

	quotes, err := a.newGateway().FetchBatch(ctx, assetType, opts.Symbols)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	header := "Symbol\tName\tPrice\tChange\tVolume\tMarket cap"
	if suggest != "" {
		header += "\tSuggested " + string(suggest)
	}
	fmt.Fprintln(writer, header)
	for _, sym := range fetcher.DistinctSymbols(opts.Symbols) {
		q, ok := quotes[sym]
		if !ok {
			fmt.Fprintf(writer, "%s\t-\tunavailable\t\t\t\n", sym)
			continue
		}
		marketCap := "-"
		if q.MarketCap.Valid {
			marketCap = format.Compact(q.MarketCap.Decimal)
		}
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s", sym, q.Name, format.Price(q.CurrentPrice), changeCell(q), volumeCell(q), marketCap)
		if suggest != "" {
			line += "\t" + format.Price(format.SuggestTarget(q.CurrentPrice, suggest))
		}
		fmt.Fprintln(writer, line)
	}
	return writer.Flush()
}

func changeCell(q fetcher.Quote) string {
	if !q.ChangePercent.Valid {
		return "-"
	}
	pct := q.ChangePercent.Decimal
	text := format.SignedPercent(pct)
	if pct.IsNegative() {
		return downColor.Sprint(text)
	}
	return upColor.Sprint(text)
}

func volumeCell(q fetcher.Quote) string {
	if !q.Volume.Valid {
		return "-"
	}
	return format.Compact(q.Volume.Decimal)
}
