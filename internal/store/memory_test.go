package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fpx/trade-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newSeededStore(t *testing.T) *MemoryStore {
	t.Helper()
	ms := NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateUser(ctx, &model.User{ID: "u1", Name: "Trader", Cash: d(1000)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := ms.CreateAsset(ctx, &model.Asset{ID: "a1", Name: "Player One", DefaultPrice: d(100)}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	return ms
}

func buyCommit(price decimal.Decimal, traded bool, cash, shares, newPrice decimal.Decimal) *TradeCommit {
	return &TradeCommit{
		Entry: model.LedgerEntry{
			ID:             "t-" + newPrice.String(),
			UserID:         "u1",
			AssetID:        "a1",
			Type:           model.TradeBuy,
			Shares:         shares,
			CashAmount:     cash,
			ResultingPrice: newPrice,
			CreatedAt:      time.Now().UTC(),
		},
		CashDelta:      cash.Neg(),
		SharesDelta:    shares,
		ExpectedPrice:  price,
		ExpectedTraded: traded,
	}
}

// --- Commit semantics ---

func TestCommitTrade_AppliesAllThreeMutations(t *testing.T) {
	ms := newSeededStore(t)
	ctx := context.Background()

	err := ms.CommitTrade(ctx, buyCommit(d(100), false, d(50), d(0.47619048), d(105)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user, _ := ms.GetUser(ctx, "u1")
	if !user.Cash.Equal(d(950)) {
		t.Errorf("expected cash 950, got %s", user.Cash)
	}

	shares, _ := ms.GetPosition(ctx, "u1", "a1")
	if !shares.Equal(d(0.47619048)) {
		t.Errorf("expected position 0.47619048, got %s", shares)
	}

	price, traded, _ := ms.GetLatestPrice(ctx, "a1")
	if !traded {
		t.Error("asset should be marked as traded")
	}
	if !price.Equal(d(105)) {
		t.Errorf("expected latest price 105, got %s", price)
	}

	entries, _ := ms.GetLedgerEntriesByAsset(ctx, "a1")
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
}

func TestCommitTrade_StalePriceRejected(t *testing.T) {
	ms := newSeededStore(t)
	ctx := context.Background()

	if err := ms.CommitTrade(ctx, buyCommit(d(100), false, d(50), d(0.47619048), d(105))); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// Second commit still priced against the pre-trade snapshot.
	err := ms.CommitTrade(ctx, buyCommit(d(100), false, d(50), d(0.47619048), d(105)))
	if err != ErrConflict {
		t.Errorf("expected ErrConflict for stale snapshot, got %v", err)
	}

	// No partial effects from the rejected commit.
	user, _ := ms.GetUser(ctx, "u1")
	if !user.Cash.Equal(d(950)) {
		t.Errorf("rejected commit must not touch cash, got %s", user.Cash)
	}
	entries, _ := ms.GetLedgerEntriesByAsset(ctx, "a1")
	if len(entries) != 1 {
		t.Errorf("rejected commit must not append to ledger, got %d entries", len(entries))
	}
}

func TestCommitTrade_TradedFlagMismatchRejected(t *testing.T) {
	ms := newSeededStore(t)

	// Expecting a traded asset when it never traded: same price, wrong tail.
	err := ms.CommitTrade(context.Background(), buyCommit(d(100), true, d(50), d(0.47619048), d(105)))
	if err != ErrConflict {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestCommitTrade_NegativeCashRejected(t *testing.T) {
	ms := newSeededStore(t)
	ctx := context.Background()

	// Cash delta exceeds the balance; the commit must abort, not clamp.
	err := ms.CommitTrade(ctx, buyCommit(d(100), false, d(1500), d(10), d(250)))
	if err != ErrConflict {
		t.Errorf("expected ErrConflict for negative cash, got %v", err)
	}

	user, _ := ms.GetUser(ctx, "u1")
	if !user.Cash.Equal(d(1000)) {
		t.Errorf("cash must be untouched, got %s", user.Cash)
	}
}

func TestCommitTrade_NegativeSharesRejected(t *testing.T) {
	ms := newSeededStore(t)
	ctx := context.Background()

	sell := &TradeCommit{
		Entry: model.LedgerEntry{
			ID: "t-sell", UserID: "u1", AssetID: "a1", Type: model.TradeSell,
			Shares: d(1), CashAmount: d(90), ResultingPrice: d(90),
			CreatedAt: time.Now().UTC(),
		},
		CashDelta:      d(90),
		SharesDelta:    d(-1),
		ExpectedPrice:  d(100),
		ExpectedTraded: false,
	}
	if err := ms.CommitTrade(ctx, sell); err != ErrConflict {
		t.Errorf("expected ErrConflict for negative shares, got %v", err)
	}

	entries, _ := ms.GetLedgerEntriesByAsset(ctx, "a1")
	if len(entries) != 0 {
		t.Errorf("rejected sell must not append to ledger, got %d entries", len(entries))
	}
}

func TestCommitTrade_UnknownAsset(t *testing.T) {
	ms := newSeededStore(t)

	c := buyCommit(d(100), false, d(50), d(0.5), d(105))
	c.Entry.AssetID = "missing"
	if err := ms.CommitTrade(context.Background(), c); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitTrade_UnknownUser(t *testing.T) {
	ms := newSeededStore(t)

	c := buyCommit(d(100), false, d(50), d(0.5), d(105))
	c.Entry.UserID = "missing"
	if err := ms.CommitTrade(context.Background(), c); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Price resolution ---

func TestGetLatestPrice_DefaultWhenNeverTraded(t *testing.T) {
	ms := newSeededStore(t)

	price, traded, err := ms.GetLatestPrice(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if traded {
		t.Error("expected traded=false for fresh asset")
	}
	if !price.Equal(d(100)) {
		t.Errorf("expected default price 100, got %s", price)
	}
}

func TestGetLatestPrice_UnknownAsset(t *testing.T) {
	ms := newSeededStore(t)

	if _, _, err := ms.GetLatestPrice(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetLatestPrice_FollowsLedgerTail(t *testing.T) {
	ms := newSeededStore(t)
	ctx := context.Background()

	if err := ms.CommitTrade(ctx, buyCommit(d(100), false, d(50), d(0.47619048), d(105))); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := ms.CommitTrade(ctx, buyCommit(d(105), true, d(50), d(0.45553147), d(109.7619))); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	price, traded, _ := ms.GetLatestPrice(ctx, "a1")
	if !traded || !price.Equal(d(109.7619)) {
		t.Errorf("expected tail price 109.7619, got %s (traded=%v)", price, traded)
	}
}

// --- Positions ---

func TestGetPosition_ZeroWhenNone(t *testing.T) {
	ms := newSeededStore(t)

	shares, err := ms.GetPosition(context.Background(), "u1", "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shares.IsZero() {
		t.Errorf("expected zero position, got %s", shares)
	}
}

func TestGetUserPositions_MarkedToLatestPrice(t *testing.T) {
	ms := newSeededStore(t)
	ctx := context.Background()

	if err := ms.CommitTrade(ctx, buyCommit(d(100), false, d(50), d(0.47619048), d(105))); err != nil {
		t.Fatalf("commit: %v", err)
	}

	positions, err := ms.GetUserPositions(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	p := positions[0]
	if !p.Shares.Equal(d(0.47619048)) {
		t.Errorf("expected shares 0.47619048, got %s", p.Shares)
	}
	if !p.Price.Equal(d(105)) {
		t.Errorf("expected mark price 105, got %s", p.Price)
	}
	if !p.MarketValue.Equal(p.Shares.Mul(p.Price)) {
		t.Errorf("market value should be shares*price, got %s", p.MarketValue)
	}
	if p.AssetName != "Player One" {
		t.Errorf("expected asset name, got %q", p.AssetName)
	}
}

func TestGetUserPositions_SkipsEmptied(t *testing.T) {
	ms := newSeededStore(t)
	ctx := context.Background()

	if err := ms.CommitTrade(ctx, buyCommit(d(100), false, d(50), d(0.5), d(105))); err != nil {
		t.Fatalf("buy: %v", err)
	}
	sell := &TradeCommit{
		Entry: model.LedgerEntry{
			ID: "t-out", UserID: "u1", AssetID: "a1", Type: model.TradeSell,
			Shares: d(0.5), CashAmount: d(50), ResultingPrice: d(100.4447),
			CreatedAt: time.Now().UTC(),
		},
		CashDelta:      d(50),
		SharesDelta:    d(-0.5),
		ExpectedPrice:  d(105),
		ExpectedTraded: true,
	}
	if err := ms.CommitTrade(ctx, sell); err != nil {
		t.Fatalf("sell: %v", err)
	}

	positions, _ := ms.GetUserPositions(ctx, "u1")
	if len(positions) != 0 {
		t.Errorf("emptied positions should not be listed, got %d", len(positions))
	}
}

// --- Ledger queries ---

func TestLedgerQueries_FilterAndPreserveOrder(t *testing.T) {
	ms := newSeededStore(t)
	ctx := context.Background()

	if err := ms.CreateAsset(ctx, &model.Asset{ID: "a2", Name: "Player Two", DefaultPrice: d(50)}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	c1 := buyCommit(d(100), false, d(10), d(0.09900990), d(101))
	if err := ms.CommitTrade(ctx, c1); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	c2 := buyCommit(d(50), false, d(10), d(0.19230769), d(52))
	c2.Entry.ID = "t-other"
	c2.Entry.AssetID = "a2"
	if err := ms.CommitTrade(ctx, c2); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	byAsset, _ := ms.GetLedgerEntriesByAsset(ctx, "a1")
	if len(byAsset) != 1 || byAsset[0].AssetID != "a1" {
		t.Errorf("asset filter broken: %+v", byAsset)
	}

	byUser, _ := ms.GetLedgerEntriesByUser(ctx, "u1")
	if len(byUser) != 2 {
		t.Fatalf("expected 2 user entries, got %d", len(byUser))
	}
	if byUser[0].AssetID != "a1" || byUser[1].AssetID != "a2" {
		t.Errorf("entries should preserve commit order: %+v", byUser)
	}
}
