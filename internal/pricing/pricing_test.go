package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultVolatility)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

// --- Constructor tests ---

func TestNewEngine_Valid(t *testing.T) {
	e, err := NewEngine(d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.K().Equal(d(10)) {
		t.Errorf("expected k=10, got %s", e.K())
	}
}

func TestNewEngine_ZeroK(t *testing.T) {
	if _, err := NewEngine(d(0)); err != ErrInvalidVolatility {
		t.Errorf("expected ErrInvalidVolatility for k=0, got %v", err)
	}
}

func TestNewEngine_NegativeK(t *testing.T) {
	if _, err := NewEngine(d(-5)); err != ErrInvalidVolatility {
		t.Errorf("expected ErrInvalidVolatility for k=-5, got %v", err)
	}
}

// --- Cash-quoted trades ---

func TestQuoteByCash_Buy(t *testing.T) {
	e := newEngine(t)

	// Buying 50 cash at price 100: delta = 10*50/100 = 5.
	m, err := e.QuoteByCash(Buy, d(50), d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Cash.Equal(d(50)) {
		t.Errorf("expected cash=50, got %s", m.Cash)
	}
	if !m.NewPrice.Equal(d(105)) {
		t.Errorf("expected newPrice=105, got %s", m.NewPrice)
	}
	if !m.Shares.Equal(d(0.47619048)) {
		t.Errorf("expected shares=0.47619048, got %s", m.Shares)
	}
}

func TestQuoteByCash_Sell(t *testing.T) {
	e := newEngine(t)

	// Selling 50 cash worth at price 100: delta = -5.
	m, err := e.QuoteByCash(Sell, d(50), d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.NewPrice.Equal(d(95)) {
		t.Errorf("expected newPrice=95, got %s", m.NewPrice)
	}
	if !m.Shares.Equal(d(0.52631579)) {
		t.Errorf("expected shares=0.52631579, got %s", m.Shares)
	}
}

func TestQuoteByCash_SellCollapsesPrice(t *testing.T) {
	e := newEngine(t)

	// delta = -10*1000/100 = -100 drives the price to exactly zero.
	if _, err := e.QuoteByCash(Sell, d(1000), d(100)); err != ErrTradeTooLarge {
		t.Errorf("expected ErrTradeTooLarge, got %v", err)
	}
	if _, err := e.QuoteByCash(Sell, d(2000), d(100)); err != ErrTradeTooLarge {
		t.Errorf("expected ErrTradeTooLarge for larger sell, got %v", err)
	}
}

func TestQuoteByCash_AmountRoundsToZero(t *testing.T) {
	e := newEngine(t)
	if _, err := e.QuoteByCash(Buy, d(0.00001), d(100)); err != ErrNonPositiveAmount {
		t.Errorf("expected ErrNonPositiveAmount for sub-scale amount, got %v", err)
	}
}

// --- Share-quoted trades ---

func TestQuoteByShares_Sell(t *testing.T) {
	e := newEngine(t)

	// Selling back the shares bought in TestQuoteByCash_Buy at the moved
	// price: newPrice = 105 / (1 + 10*0.47619048/105).
	m, err := e.QuoteByShares(Sell, d(0.47619048), d(105))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.NewPrice.Equal(d(100.4447)) {
		t.Errorf("expected newPrice=100.4447, got %s", m.NewPrice)
	}
	if !m.Cash.Equal(d(47.8308)) {
		t.Errorf("expected cash=47.8308, got %s", m.Cash)
	}
	if !m.Shares.Equal(d(0.47619048)) {
		t.Errorf("expected shares=0.47619048, got %s", m.Shares)
	}
}

func TestQuoteByShares_Buy(t *testing.T) {
	e := newEngine(t)

	// newPrice = 100 / (1 - 10*0.1/100) = 100/0.99.
	m, err := e.QuoteByShares(Buy, d(0.1), d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.NewPrice.Equal(d(101.0101)) {
		t.Errorf("expected newPrice=101.0101, got %s", m.NewPrice)
	}
	if !m.Cash.Equal(d(10.101)) {
		t.Errorf("expected cash=10.101, got %s", m.Cash)
	}
}

func TestQuoteByShares_BuyCollapsesPrice(t *testing.T) {
	e := newEngine(t)

	// k*shares >= price has no positive-price solution.
	if _, err := e.QuoteByShares(Buy, d(5), d(50)); err != ErrTradeTooLarge {
		t.Errorf("expected ErrTradeTooLarge at the boundary, got %v", err)
	}
	if _, err := e.QuoteByShares(Buy, d(10), d(50)); err != ErrTradeTooLarge {
		t.Errorf("expected ErrTradeTooLarge beyond the boundary, got %v", err)
	}
}

// --- Validation ---

func TestQuote_RejectsBadInputs(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name    string
		dir     Direction
		amount  float64
		price   float64
		wantErr error
	}{
		{"zero amount", Buy, 0, 100, ErrNonPositiveAmount},
		{"negative amount", Sell, -5, 100, ErrNonPositiveAmount},
		{"zero price", Buy, 10, 0, ErrNonPositivePrice},
		{"negative price", Buy, 10, -1, ErrNonPositivePrice},
		{"bad direction", Direction("hold"), 10, 100, ErrInvalidDirection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.QuoteByCash(tt.dir, d(tt.amount), d(tt.price)); err != tt.wantErr {
				t.Errorf("QuoteByCash: expected %v, got %v", tt.wantErr, err)
			}
			if _, err := e.QuoteByShares(tt.dir, d(tt.amount), d(tt.price)); err != tt.wantErr {
				t.Errorf("QuoteByShares: expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// --- Monotonicity ---

func TestQuoteByCash_BuyPriceStrictlyIncreasing(t *testing.T) {
	e := newEngine(t)

	prev := d(100)
	for _, amount := range []float64{10, 20, 30, 50, 100} {
		m, err := e.QuoteByCash(Buy, d(amount), d(100))
		if err != nil {
			t.Fatalf("amount=%v: %v", amount, err)
		}
		if m.NewPrice.LessThanOrEqual(prev) {
			t.Errorf("amount=%v: expected newPrice > %s, got %s", amount, prev, m.NewPrice)
		}
		prev = m.NewPrice
	}
}

func TestQuoteByShares_SellPriceStrictlyDecreasing(t *testing.T) {
	e := newEngine(t)

	prev := d(100)
	for _, amount := range []float64{0.1, 0.2, 0.3, 0.5, 1} {
		m, err := e.QuoteByShares(Sell, d(amount), d(100))
		if err != nil {
			t.Fatalf("amount=%v: %v", amount, err)
		}
		if m.NewPrice.GreaterThanOrEqual(prev) {
			t.Errorf("amount=%v: expected newPrice < %s, got %s", amount, prev, m.NewPrice)
		}
		prev = m.NewPrice
	}
}

// --- Non-negativity ---

func TestQuote_OutputsPositive(t *testing.T) {
	e := newEngine(t)

	amounts := []float64{0.5, 1, 5, 20}
	prices := []float64{50, 100, 500}
	for _, a := range amounts {
		for _, p := range prices {
			for _, dir := range []Direction{Buy, Sell} {
				m, err := e.QuoteByCash(dir, d(a), d(p))
				if err != nil {
					t.Fatalf("QuoteByCash(%s, %v, %v): %v", dir, a, p, err)
				}
				if !m.Cash.IsPositive() || !m.Shares.IsPositive() || !m.NewPrice.IsPositive() {
					t.Errorf("QuoteByCash(%s, %v, %v): non-positive output %+v", dir, a, p, m)
				}
			}
		}
	}
}

// --- Round-trip near-inverse ---

// Buying X cash of shares and immediately selling the acquired quantity
// back must return close to X and close to the original price. The two
// formulas are duals, not exact inverses: the residual grows with the
// square of the trade's price impact, so the tolerances below are relative.
func TestRoundTrip_BuyCashThenSellShares(t *testing.T) {
	e := newEngine(t)

	amounts := []float64{1, 5, 10, 20}
	prices := []float64{50, 100, 250}
	for _, a := range amounts {
		for _, p := range prices {
			buy, err := e.QuoteByCash(Buy, d(a), d(p))
			if err != nil {
				t.Fatalf("buy(%v, %v): %v", a, p, err)
			}
			sell, err := e.QuoteByShares(Sell, buy.Shares, buy.NewPrice)
			if err != nil {
				t.Fatalf("sell(%s, %s): %v", buy.Shares, buy.NewPrice, err)
			}

			priceTol := d(p).Mul(d(0.02))
			if sell.NewPrice.Sub(d(p)).Abs().GreaterThan(priceTol) {
				t.Errorf("a=%v p=%v: price round trip %s too far from %v", a, p, sell.NewPrice, p)
			}
			cashTol := d(a).Mul(d(0.1))
			if sell.Cash.Sub(d(a)).Abs().GreaterThan(cashTol) {
				t.Errorf("a=%v p=%v: cash round trip %s too far from %v", a, p, sell.Cash, a)
			}
			// No arbitrage: selling straight back never profits.
			if sell.Cash.GreaterThan(buy.Cash) {
				t.Errorf("a=%v p=%v: round trip produced arbitrage: paid %s got %s", a, p, buy.Cash, sell.Cash)
			}
		}
	}
}

func TestRoundTrip_BuySharesThenSellCash(t *testing.T) {
	e := newEngine(t)

	buy, err := e.QuoteByShares(Buy, d(0.1), d(100))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	sell, err := e.QuoteByCash(Sell, buy.Cash, buy.NewPrice)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if sell.NewPrice.Sub(d(100)).Abs().GreaterThan(d(1)) {
		t.Errorf("price round trip %s too far from 100", sell.NewPrice)
	}
	if sell.Shares.Sub(d(0.1)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("share round trip %s too far from 0.1", sell.Shares)
	}
}

// --- Determinism ---

func TestQuote_ReferentiallyTransparent(t *testing.T) {
	e := newEngine(t)

	first, err := e.QuoteByCash(Buy, d(33.33), d(87.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		m, err := e.QuoteByCash(Buy, d(33.33), d(87.5))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !m.Cash.Equal(first.Cash) || !m.Shares.Equal(first.Shares) || !m.NewPrice.Equal(first.NewPrice) {
			t.Fatalf("quote not deterministic: %+v vs %+v", m, first)
		}
	}
}
