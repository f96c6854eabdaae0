// Package pricing implements the price-impact automated market maker for
// player shares: every trade itself moves the price, proportional to trade
// size and a fixed volatility constant, with no order book.
//
// Two dual quote modes exist. A cash-quoted trade fixes the cash amount and
// derives the share quantity; a share-quoted trade fixes the share quantity
// and derives the cash amount. Buys push the price up, sells push it down.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Cash and prices are rounded to 4 decimal places, share quantities to 8,
// which keeps displayed currency exact to sub-cent precision while allowing
// fine-grained fractional share accounting.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Direction is the side of a trade.
type Direction string

// Trade directions.
const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

var (
	// ErrInvalidVolatility is returned when the volatility constant k <= 0.
	ErrInvalidVolatility = errors.New("pricing: volatility constant must be positive")

	// ErrNonPositiveAmount is returned for amounts that are not strictly
	// positive after rounding. Callers validate before quoting; this is a
	// second line of defense.
	ErrNonPositiveAmount = errors.New("pricing: amount must be positive")

	// ErrNonPositivePrice is returned when the current price is not
	// positive. Seed prices are always positive and every committed trade
	// preserves that, so this signals a bug or data corruption upstream,
	// never bad caller input.
	ErrNonPositivePrice = errors.New("pricing: current price must be positive")

	// ErrInvalidDirection is returned for a direction other than Buy/Sell.
	ErrInvalidDirection = errors.New("pricing: direction must be buy or sell")

	// ErrTradeTooLarge is returned when a trade would drive the resulting
	// price to zero or below.
	ErrTradeTooLarge = errors.New("pricing: trade too large for current price")

	// DefaultVolatility is the volatility constant k used in production.
	DefaultVolatility = decimal.NewFromInt(10)
)

// Rounding scales for monetary values and share quantities.
const (
	CashScale  int32 = 4
	ShareScale int32 = 8
)

var one = decimal.NewFromInt(1)

// Engine computes price movements. It is stateless and referentially
// transparent — safe to call concurrently; the asset's current price is
// passed as an argument, not stored.
type Engine struct {
	k decimal.Decimal
}

// NewEngine creates a pricing engine with the given volatility constant k.
// Higher k → stronger price impact per unit traded.
func NewEngine(k decimal.Decimal) (*Engine, error) {
	if k.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidVolatility
	}
	return &Engine{k: k}, nil
}

// K returns the volatility constant.
func (e *Engine) K() decimal.Decimal {
	return e.k
}

// Movement is a settled quote: the cash that changes hands, the share
// quantity, and the asset's price after the trade.
type Movement struct {
	Cash     decimal.Decimal
	Shares   decimal.Decimal
	NewPrice decimal.Decimal
}

// QuoteByCash prices a trade where the caller fixes the cash amount:
//
//	delta    = round(k * cash / currentPrice, 4)   (negated for sells)
//	newPrice = currentPrice + delta
//	shares   = round(cash / newPrice, 8)
//
// A sell large enough to push newPrice to zero or below is rejected with
// ErrTradeTooLarge.
func (e *Engine) QuoteByCash(dir Direction, amount, currentPrice decimal.Decimal) (Movement, error) {
	if err := validate(dir, amount, currentPrice); err != nil {
		return Movement{}, err
	}

	cash := amount.Round(CashScale)
	if !cash.IsPositive() {
		return Movement{}, ErrNonPositiveAmount
	}

	delta := e.k.Mul(cash).Div(currentPrice).Round(CashScale)
	if dir == Sell {
		delta = delta.Neg()
	}

	newPrice := currentPrice.Add(delta)
	if !newPrice.IsPositive() {
		return Movement{}, ErrTradeTooLarge
	}

	return Movement{
		Cash:     cash,
		Shares:   cash.Div(newPrice).Round(ShareScale),
		NewPrice: newPrice,
	}, nil
}

// QuoteByShares prices a trade where the caller fixes the share quantity:
//
//	newPrice = round(currentPrice / (1 + s*k*shares/currentPrice), 4)
//	cash     = round(shares * newPrice, 4)
//
// where s = -1 for buys (price rises) and s = +1 for sells (price falls).
// This is the dual of QuoteByCash: buying X cash of shares and selling the
// resulting quantity back returns close to X, up to impact and rounding.
//
// A buy with k*shares >= currentPrice has no positive-price solution and
// is rejected with ErrTradeTooLarge.
func (e *Engine) QuoteByShares(dir Direction, amount, currentPrice decimal.Decimal) (Movement, error) {
	if err := validate(dir, amount, currentPrice); err != nil {
		return Movement{}, err
	}

	shares := amount.Round(ShareScale)
	if !shares.IsPositive() {
		return Movement{}, ErrNonPositiveAmount
	}

	impact := e.k.Mul(shares).Div(currentPrice)
	var denom decimal.Decimal
	if dir == Buy {
		denom = one.Sub(impact)
	} else {
		denom = one.Add(impact)
	}
	if !denom.IsPositive() {
		return Movement{}, ErrTradeTooLarge
	}

	newPrice := currentPrice.Div(denom).Round(CashScale)
	if !newPrice.IsPositive() {
		return Movement{}, ErrTradeTooLarge
	}

	return Movement{
		Cash:     shares.Mul(newPrice).Round(CashScale),
		Shares:   shares,
		NewPrice: newPrice,
	}, nil
}

func validate(dir Direction, amount, currentPrice decimal.Decimal) error {
	if dir != Buy && dir != Sell {
		return ErrInvalidDirection
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}
	if currentPrice.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositivePrice
	}
	return nil
}
