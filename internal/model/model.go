// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade types recorded in the ledger.
const (
	TradeBuy  = "buy"
	TradeSell = "sell"
)

// User is a trader identity with a cash balance. Cash is mutated only by
// committed trades and never goes negative.
type User struct {
	ID   string          `json:"id" db:"id"`
	Name string          `json:"name" db:"name"`
	Cash decimal.Decimal `json:"cash" db:"cash"`
}

// Asset is a tradable player. DefaultPrice seeds the price curve and is
// used only while the asset has no ledger entries.
type Asset struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Image        string          `json:"image" db:"image"`
	DefaultPrice decimal.Decimal `json:"default_price" db:"default_price"`
}

// Position is a user's running share balance in one asset. Created on
// first buy, upserted per trade — not recomputed from the ledger on read.
// Price and MarketValue are filled from the asset's latest price at query
// time.
type Position struct {
	UserID      string          `json:"user_id"`
	AssetID     string          `json:"asset_id"`
	AssetName   string          `json:"asset_name"`
	Shares      decimal.Decimal `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"market_value"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LedgerEntry is an immutable record of one executed trade. Once created,
// these are never modified or deleted. The most recent entry for an asset
// defines that asset's current price.
type LedgerEntry struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	AssetID        string          `json:"asset_id" db:"asset_id"`
	Type           string          `json:"type" db:"type"` // "buy" or "sell"
	Shares         decimal.Decimal `json:"shares" db:"shares"`
	CashAmount     decimal.Decimal `json:"cash_amount" db:"cash_amount"`
	ResultingPrice decimal.Decimal `json:"resulting_price" db:"resulting_price"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Portfolio aggregates a user's cash and marked-to-latest-price positions.
type Portfolio struct {
	UserID     string          `json:"user_id"`
	Cash       decimal.Decimal `json:"cash"`
	Positions  []Position      `json:"positions"`
	TotalValue decimal.Decimal `json:"total_value"` // cash + Σ market value
}
