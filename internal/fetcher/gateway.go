package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/apperr"
	"marketwatch/internal/storage"
	"marketwatch/internal/version"
)

const (
	stockBatchPath  = "/stock_batch"
	cryptoBatchPath = "/crypto_batch"
	maxBodyBytes    = 4 << 20
)

// GatewayOptions parameterise the market data client.
type GatewayOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Gateway fetches batched quotes from the dashboard API.
type Gateway struct {
	opts    GatewayOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewGateway constructs a market data gateway.
func NewGateway(opts GatewayOptions, logger zerolog.Logger) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:5000/api"
	}

	return &Gateway{
		opts:    opts,
		logger:  logger.With().Str("component", "gateway").Logger(),
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: baseURL,
	}
}

// FetchBatch performs one request covering every symbol of assetType.
func (g *Gateway) FetchBatch(ctx context.Context, assetType storage.AssetType, symbols []string) (map[string]Quote, error) {
	if !assetType.Valid() {
		return nil, &apperr.GatewayError{AssetType: string(assetType), Err: apperr.ErrInvalidAssetType}
	}
	symbols = DistinctSymbols(symbols)
	if len(symbols) == 0 {
		return nil, &apperr.GatewayError{AssetType: string(assetType), Err: errors.New("no symbols requested")}
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	path := stockBatchPath
	if assetType == storage.AssetCrypto {
		path = cryptoBatchPath
	}
	endpoint := g.baseURL + path + "?" + url.Values{"symbols": {strings.Join(symbols, ",")}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &apperr.GatewayError{AssetType: string(assetType), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &apperr.GatewayError{AssetType: string(assetType), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &apperr.GatewayError{AssetType: string(assetType), Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperr.GatewayError{AssetType: string(assetType), Status: resp.StatusCode, Err: parseHTTPError(payload)}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, &apperr.GatewayError{AssetType: string(assetType), Status: resp.StatusCode, Err: fmt.Errorf("decode batch: %w", err)}
	}
	if entries == nil {
		return nil, &apperr.GatewayError{AssetType: string(assetType), Status: resp.StatusCode, Err: errors.New("decode batch: payload is not an object")}
	}

	quotes := make(map[string]Quote, len(entries))
	for key, raw := range entries {
		symbol := storage.NormalizeSymbol(key)
		quote, ok, err := decodeQuote(assetType, symbol, raw)
		if err != nil {
			g.logger.Debug().Err(err).Str("symbol", symbol).Msg("skip undecodable quote")
			continue
		}
		if !ok {
			g.logger.Debug().Str("symbol", symbol).Msg("price unavailable")
			continue
		}
		quotes[symbol] = quote
	}

	g.logger.Debug().
		Str("asset_type", string(assetType)).
		Int("requested", len(symbols)).
		Int("priced", len(quotes)).
		Dur("duration", time.Since(start)).
		Msg("batch fetched")
	return quotes, nil
}

type stockPayload struct {
	Name          string              `json:"name"`
	Price         decimal.NullDecimal `json:"price"`
	Change        decimal.NullDecimal `json:"change"`
	ChangePercent decimal.NullDecimal `json:"change_percent"`
	Volume        decimal.NullDecimal `json:"volume"`
}

type cryptoPayload struct {
	Name                     string              `json:"name"`
	CurrentPrice             decimal.NullDecimal `json:"current_price"`
	PriceChange24h           decimal.NullDecimal `json:"price_change_24h"`
	PriceChangePercentage24h decimal.NullDecimal `json:"price_change_percentage_24h"`
	TotalVolume              decimal.NullDecimal `json:"total_volume"`
	MarketCap                decimal.NullDecimal `json:"market_cap"`
}

// decodeQuote returns ok=false when the entry carries no positive price.
func decodeQuote(assetType storage.AssetType, symbol string, raw json.RawMessage) (Quote, bool, error) {
	quote := Quote{Symbol: symbol}
	var price decimal.NullDecimal

	switch assetType {
	case storage.AssetCrypto:
		var p cryptoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Quote{}, false, err
		}
		price = p.CurrentPrice
		quote.Name = p.Name
		quote.Change = p.PriceChange24h
		quote.ChangePercent = p.PriceChangePercentage24h
		quote.Volume = p.TotalVolume
		quote.MarketCap = p.MarketCap
	default:
		var p stockPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Quote{}, false, err
		}
		price = p.Price
		quote.Name = p.Name
		quote.Change = p.Change
		quote.ChangePercent = p.ChangePercent
		quote.Volume = p.Volume
	}

	if !price.Valid || !price.Decimal.IsPositive() {
		return Quote{}, false, nil
	}
	quote.CurrentPrice = price.Decimal
	return quote, true, nil
}

// DistinctSymbols normalises, de-duplicates and sorts symbols, dropping blanks.
func DistinctSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = storage.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		if apiErr.Message != "" {
			return errors.New(apiErr.Message)
		}
	}
	if trimmed := strings.TrimSpace(string(payload)); trimmed != "" {
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		return errors.New(trimmed)
	}
	return errors.New("empty response body")
}

var _ PriceFetcher = (*Gateway)(nil)
