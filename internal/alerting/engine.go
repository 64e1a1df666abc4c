package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"marketwatch/internal/apperr"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/storage"
)

// Store is the persistence the engine needs: the active set and the history, plus
// transactions that keep other processes from interleaving with a read-modify-write.
type Store interface {
	storage.AlertStore
	storage.HistoryStore
	storage.Transactor
}

// NewAlert is the user input for CreateAlert.
type NewAlert struct {
	Symbol      string
	AssetType   storage.AssetType
	PriceTarget decimal.Decimal
	Condition   storage.Condition
}

// TickReport summarises one evaluation.
type TickReport struct {
	StartedAt        time.Time
	Active           int
	Evaluated        int
	Triggered        []storage.TriggeredAlert
	FetchedBatches   []storage.AssetType
	FailedPartitions []storage.AssetType
	Shared           bool
}

// EngineOptions tune the engine. Zero values select production behaviour.
type EngineOptions struct {
	Now    func() time.Time
	NewID  func() string
	OnTick func(TickReport)
}

// Engine owns the alert lifecycle: creation, deletion, and periodic evaluation that
// moves matched alerts from the active set to history.
//
// Evaluate is single-flight: concurrent callers share one in-progress run. Store
// mutations, from user commands or from the commit phase of Evaluate, are serialised
// by mu within the process and by a store transaction across processes. Neither is
// held across network calls.
type Engine struct {
	store   Store
	fetcher fetcher.PriceFetcher
	sink    NotificationSink
	logger  zerolog.Logger

	now    func() time.Time
	newID  func() string
	onTick func(TickReport)

	mu     sync.Mutex
	flight singleflight.Group
	closed atomic.Bool
}

// NewEngine wires the engine. sink may be nil.
func NewEngine(store Store, prices fetcher.PriceFetcher, sink NotificationSink, logger zerolog.Logger, opts EngineOptions) *Engine {
	e := &Engine{
		store:   store,
		fetcher: prices,
		sink:    sink,
		logger:  logger.With().Str("component", "alert_engine").Logger(),
		now:     opts.Now,
		newID:   opts.NewID,
		onTick:  opts.OnTick,
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.New().String() }
	}
	return e
}

// ParsePriceTarget parses user input into a positive decimal.
func ParsePriceTarget(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, apperr.NewValidationError("price_target", raw, "is required")
	}
	target, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, apperr.NewValidationError("price_target", raw, "must be a number")
	}
	if !target.IsPositive() {
		return decimal.Decimal{}, apperr.NewValidationError("price_target", raw, "must be greater than zero")
	}
	return target, nil
}

func validateNewAlert(in NewAlert) (NewAlert, error) {
	in.Symbol = storage.NormalizeSymbol(in.Symbol)
	if in.Symbol == "" {
		return in, apperr.NewValidationError("symbol", in.Symbol, "must not be empty")
	}
	if strings.ContainsAny(in.Symbol, ", \t") {
		return in, apperr.NewValidationError("symbol", in.Symbol, "must not contain commas or spaces")
	}
	if !in.AssetType.Valid() {
		return in, &apperr.ValidationError{Field: "asset_type", Value: in.AssetType, Message: "must be stock or crypto", Err: apperr.ErrInvalidAssetType}
	}
	if in.Condition != storage.ConditionAbove && in.Condition != storage.ConditionBelow {
		return in, &apperr.ValidationError{Field: "condition", Value: in.Condition, Message: "must be above or below", Err: apperr.ErrInvalidCondition}
	}
	if !in.PriceTarget.IsPositive() {
		return in, apperr.NewValidationError("price_target", in.PriceTarget.String(), "must be greater than zero")
	}
	return in, nil
}

// CreateAlert validates input, appends a new active alert and persists it.
func (e *Engine) CreateAlert(ctx context.Context, in NewAlert) (storage.Alert, error) {
	in, err := validateNewAlert(in)
	if err != nil {
		return storage.Alert{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return storage.Alert{}, apperr.ErrClosed
	}

	alert := storage.Alert{
		ID:          e.newID(),
		Symbol:      in.Symbol,
		AssetType:   in.AssetType,
		PriceTarget: in.PriceTarget,
		Condition:   in.Condition,
		Active:      true,
		CreatedAt:   e.now(),
	}
	err = e.store.Atomically(ctx, func(ctx context.Context) error {
		alerts, err := e.store.LoadAlerts(ctx)
		if err != nil {
			return err
		}
		return e.store.SaveAlerts(ctx, append(alerts, alert))
	})
	if err != nil {
		return storage.Alert{}, err
	}

	e.logger.Info().Str("alert_id", alert.ID).
		Str("symbol", alert.Symbol).
		Str("condition", string(alert.Condition)).
		Str("target", alert.PriceTarget.String()).
		Msg("alert created")
	return alert, nil
}

// ListAlerts returns the active set in creation order.
func (e *Engine) ListAlerts(ctx context.Context) ([]storage.Alert, error) {
	return e.store.LoadAlerts(ctx)
}

// ListHistory returns triggered alerts in trigger order.
func (e *Engine) ListHistory(ctx context.Context) ([]storage.TriggeredAlert, error) {
	return e.store.LoadHistory(ctx)
}

// DeleteAlert removes an active alert. Unknown ids are a no-op.
func (e *Engine) DeleteAlert(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return apperr.ErrClosed
	}

	return e.store.Atomically(ctx, func(ctx context.Context) error {
		alerts, err := e.store.LoadAlerts(ctx)
		if err != nil {
			return err
		}
		kept := make([]storage.Alert, 0, len(alerts))
		for _, a := range alerts {
			if a.ID != id {
				kept = append(kept, a)
			}
		}
		if len(kept) == len(alerts) {
			return nil
		}
		return e.store.SaveAlerts(ctx, kept)
	})
}

// DeleteHistoryEntry removes one history entry. Unknown ids are a no-op.
func (e *Engine) DeleteHistoryEntry(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return apperr.ErrClosed
	}

	return e.store.Atomically(ctx, func(ctx context.Context) error {
		history, err := e.store.LoadHistory(ctx)
		if err != nil {
			return err
		}
		kept := make([]storage.TriggeredAlert, 0, len(history))
		for _, h := range history {
			if h.ID != id {
				kept = append(kept, h)
			}
		}
		if len(kept) == len(history) {
			return nil
		}
		return e.store.SaveHistory(ctx, kept)
	})
}

// ClearHistory removes every history entry.
func (e *Engine) ClearHistory(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return apperr.ErrClosed
	}

	return e.store.Atomically(ctx, func(ctx context.Context) error {
		history, err := e.store.LoadHistory(ctx)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return nil
		}
		return e.store.SaveHistory(ctx, []storage.TriggeredAlert{})
	})
}

// Close tears the engine down. It waits for an in-progress commit, and no write
// happens afterwards; an in-flight fetch completes but its result is discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed.Store(true)
	e.mu.Unlock()
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

// Evaluate runs one tick. Gateway failures are contained per partition; only storage
// failures and teardown are returned.
func (e *Engine) Evaluate(ctx context.Context) (TickReport, error) {
	if e.closed.Load() {
		return TickReport{}, apperr.ErrClosed
	}
	v, err, shared := e.flight.Do("evaluate", func() (interface{}, error) {
		return e.evaluate(ctx)
	})
	report, _ := v.(TickReport)
	report.Shared = shared
	return report, err
}

type partitionResult struct {
	assetType storage.AssetType
	quotes    map[string]fetcher.Quote
	err       error
}

func (e *Engine) evaluate(ctx context.Context) (TickReport, error) {
	report := TickReport{StartedAt: e.now()}

	alerts, err := e.store.LoadAlerts(ctx)
	if err != nil {
		return report, fmt.Errorf("load alerts: %w", err)
	}

	partitions := partitionSymbols(alerts)
	for _, a := range alerts {
		if a.Active {
			report.Active++
		}
	}
	if report.Active == 0 {
		e.finish(report)
		return report, nil
	}

	// Partition failures are recorded in results; the group only joins the fetches.
	results := make([]partitionResult, len(storage.AssetTypes))
	var g errgroup.Group
	for i, assetType := range storage.AssetTypes {
		symbols := partitions[assetType]
		results[i].assetType = assetType
		if len(symbols) == 0 {
			continue
		}
		g.Go(func() error {
			quotes, err := e.fetcher.FetchBatch(ctx, assetType, symbols)
			results[i].quotes = quotes
			results[i].err = err
			return nil
		})
	}
	_ = g.Wait()

	priced := make(map[storage.AssetType]map[string]fetcher.Quote, len(results))
	for _, res := range results {
		if len(partitions[res.assetType]) == 0 {
			continue
		}
		if res.err != nil {
			report.FailedPartitions = append(report.FailedPartitions, res.assetType)
			e.logger.Warn().Err(res.err).
				Str("asset_type", string(res.assetType)).
				Strs("symbols", partitions[res.assetType]).
				Msg("batch fetch failed; partition skipped this tick")
			continue
		}
		report.FetchedBatches = append(report.FetchedBatches, res.assetType)
		priced[res.assetType] = res.quotes
	}

	if len(priced) == 0 {
		e.finish(report)
		return report, nil
	}

	triggered, evaluated, err := e.commit(ctx, priced)
	report.Evaluated = evaluated
	report.Triggered = triggered
	if err != nil {
		return report, err
	}

	for _, entry := range triggered {
		e.logger.Info().Str("alert_id", entry.ID).
			Str("symbol", entry.Symbol).
			Str("condition", string(entry.Condition)).
			Str("target", entry.PriceTarget.String()).
			Str("price", entry.PriceAtTrigger.String()).
			Msg("alert triggered")
		if e.sink != nil {
			e.sink.Notify(ctx, NewNotification(entry))
		}
	}

	e.finish(report)
	return report, nil
}

// commit re-reads the active set inside a store transaction so that alerts created
// or deleted while the fetch was outstanding, by this process or another, are
// respected, then moves matches to history. History and the active set are written
// in the same transaction: a failed commit leaves both collections unchanged.
func (e *Engine) commit(ctx context.Context, priced map[storage.AssetType]map[string]fetcher.Quote) ([]storage.TriggeredAlert, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, 0, apperr.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	var (
		triggered []storage.TriggeredAlert
		evaluated int
	)
	err := e.store.Atomically(ctx, func(ctx context.Context) error {
		triggered, evaluated = nil, 0

		alerts, err := e.store.LoadAlerts(ctx)
		if err != nil {
			return fmt.Errorf("reload alerts: %w", err)
		}

		now := e.now()
		remaining := make([]storage.Alert, 0, len(alerts))
		for _, a := range alerts {
			quotes, ok := priced[a.AssetType]
			if !a.Active || !ok {
				remaining = append(remaining, a)
				continue
			}
			quote, ok := quotes[storage.NormalizeSymbol(a.Symbol)]
			if !ok {
				remaining = append(remaining, a)
				continue
			}
			evaluated++
			if !a.Condition.Matches(quote.CurrentPrice, a.PriceTarget) {
				remaining = append(remaining, a)
				continue
			}
			entry := storage.TriggeredAlert{Alert: a, TriggeredAt: now, PriceAtTrigger: quote.CurrentPrice}
			entry.Active = false
			triggered = append(triggered, entry)
		}

		if len(triggered) == 0 {
			return nil
		}

		history, err := e.store.LoadHistory(ctx)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		updated := make([]storage.TriggeredAlert, 0, len(history)+len(triggered))
		updated = append(updated, history...)
		updated = append(updated, triggered...)

		if err := e.store.SaveHistory(ctx, updated); err != nil {
			return fmt.Errorf("save history: %w", err)
		}
		if err := e.store.SaveAlerts(ctx, remaining); err != nil {
			return fmt.Errorf("save alerts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, evaluated, err
	}
	return triggered, evaluated, nil
}

func (e *Engine) finish(report TickReport) {
	e.logger.Debug().
		Int("active", report.Active).
		Int("evaluated", report.Evaluated).
		Int("triggered", len(report.Triggered)).
		Int("failed_partitions", len(report.FailedPartitions)).
		Msg("tick evaluated")
	if e.onTick != nil {
		e.onTick(report)
	}
}

// partitionSymbols groups the distinct symbols of active alerts by asset type.
func partitionSymbols(alerts []storage.Alert) map[storage.AssetType][]string {
	raw := make(map[storage.AssetType][]string, len(storage.AssetTypes))
	for _, a := range alerts {
		if !a.Active || !a.AssetType.Valid() {
			continue
		}
		raw[a.AssetType] = append(raw[a.AssetType], a.Symbol)
	}
	out := make(map[storage.AssetType][]string, len(raw))
	for assetType, symbols := range raw {
		out[assetType] = fetcher.DistinctSymbols(symbols)
	}
	return out
}
