package fetcher

import (
	"context"

	"github.com/shopspring/decimal"

	"marketwatch/internal/storage"
)

// Quote is the normalised per-symbol response of both batch endpoints.
// Optional fields are invalid when the API omitted them or sent null.
type Quote struct {
	Symbol        string
	Name          string
	CurrentPrice  decimal.Decimal
	Change        decimal.NullDecimal
	ChangePercent decimal.NullDecimal
	Volume        decimal.NullDecimal
	MarketCap     decimal.NullDecimal
}

// PriceFetcher retrieves current prices for one asset type in a single call.
// Symbols with no usable price are absent from the result. A non-nil error means the
// whole batch is unknown.
type PriceFetcher interface {
	FetchBatch(ctx context.Context, assetType storage.AssetType, symbols []string) (map[string]Quote, error)
}
