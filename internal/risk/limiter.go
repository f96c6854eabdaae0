// Package risk implements pre-trade limits: a cap on the cash committed
// per trade and a cap on the share position any user may accumulate in a
// single asset. With price-impact pricing a large enough buy can move an
// asset arbitrarily far from its seed price; these limits bound how much
// one account can do that.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrTradeCashLimitExceeded is returned when a single trade commits
	// more cash than the per-trade maximum.
	ErrTradeCashLimitExceeded = errors.New("risk: per-trade cash limit exceeded")

	// ErrPositionLimitExceeded is returned when a buy would push the
	// user's share position in one asset beyond the per-asset maximum.
	ErrPositionLimitExceeded = errors.New("risk: per-asset position limit exceeded")
)

// Limiter enforces pre-trade limits. A zero (or negative) limit disables
// that check, so the zero value is an unlimited limiter.
type Limiter struct {
	// MaxTradeCash is the maximum cash amount of a single trade.
	MaxTradeCash decimal.Decimal

	// MaxPositionShares is the maximum share balance a user may hold in
	// any single asset.
	MaxPositionShares decimal.Decimal
}

// NewLimiter creates a limiter with the given per-trade and per-position caps.
func NewLimiter(maxTradeCash, maxPositionShares decimal.Decimal) *Limiter {
	return &Limiter{
		MaxTradeCash:      maxTradeCash,
		MaxPositionShares: maxPositionShares,
	}
}

// CheckCash validates the cash size of a single trade.
func (l *Limiter) CheckCash(amount decimal.Decimal) error {
	if l.MaxTradeCash.IsPositive() && amount.GreaterThan(l.MaxTradeCash) {
		return ErrTradeCashLimitExceeded
	}
	return nil
}

// CheckPosition validates the share balance a buy would leave the user
// with: current holding plus the shares being acquired.
func (l *Limiter) CheckPosition(current, delta decimal.Decimal) error {
	if l.MaxPositionShares.IsPositive() && current.Add(delta).GreaterThan(l.MaxPositionShares) {
		return ErrPositionLimitExceeded
	}
	return nil
}
