package storage

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/apperr"
)

// Persisted keys.
const (
	KeyAlerts    = "priceAlerts"
	KeyHistory   = "alertHistory"
	KeyWatchlist = "watchlist"
)

// AssetType distinguishes the two price feeds.
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
)

// AssetTypes lists every supported asset type in evaluation order.
var AssetTypes = []AssetType{AssetStock, AssetCrypto}

// ParseAssetType accepts "stock", "stocks" and "crypto" in any case.
func ParseAssetType(v string) (AssetType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "stock", "stocks":
		return AssetStock, nil
	case "crypto":
		return AssetCrypto, nil
	}
	return "", &apperr.ValidationError{Field: "asset_type", Value: v, Message: "must be stocks or crypto", Err: apperr.ErrInvalidAssetType}
}

// Valid reports whether t is one of the supported asset types.
func (t AssetType) Valid() bool {
	return t == AssetStock || t == AssetCrypto
}

// ListKey is the watchlist field name for t.
func (t AssetType) ListKey() string {
	if t == AssetStock {
		return "stocks"
	}
	return string(t)
}

// Condition is the direction of a price alert.
type Condition string

const (
	ConditionAbove Condition = "above"
	ConditionBelow Condition = "below"
)

// ParseCondition accepts "above" and "below" in any case.
func ParseCondition(v string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(v))) {
	case ConditionAbove:
		return ConditionAbove, nil
	case ConditionBelow:
		return ConditionBelow, nil
	}
	return "", &apperr.ValidationError{Field: "condition", Value: v, Message: "must be above or below", Err: apperr.ErrInvalidCondition}
}

// Matches reports whether price satisfies the condition against target.
// Both directions are inclusive at the boundary.
func (c Condition) Matches(price, target decimal.Decimal) bool {
	switch c {
	case ConditionAbove:
		return price.GreaterThanOrEqual(target)
	case ConditionBelow:
		return price.LessThanOrEqual(target)
	default:
		return false
	}
}

// Alert is a user-defined price threshold awaiting evaluation.
type Alert struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	AssetType   AssetType       `json:"assetType"`
	PriceTarget decimal.Decimal `json:"price_target"`
	Condition   Condition       `json:"condition"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TriggeredAlert is an immutable history entry written at the moment an alert fired.
type TriggeredAlert struct {
	Alert
	TriggeredAt    time.Time       `json:"triggered_at"`
	PriceAtTrigger decimal.Decimal `json:"price_at_trigger"`
}

// Watchlist holds insertion-ordered symbol lists per asset type.
type Watchlist struct {
	Stocks []string `json:"stocks"`
	Crypto []string `json:"crypto"`
}

// Symbols returns the list for t.
func (w Watchlist) Symbols(t AssetType) []string {
	if t == AssetStock {
		return w.Stocks
	}
	return w.Crypto
}

// SetSymbols replaces the list for t.
func (w *Watchlist) SetSymbols(t AssetType, symbols []string) {
	if t == AssetStock {
		w.Stocks = symbols
		return
	}
	w.Crypto = symbols
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
