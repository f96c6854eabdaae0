// Package trade provides the buy/sell workflows and the HTTP handlers for
// assets, trades, and portfolios. It is the only place with I/O and side
// effects: it reads the price snapshot, invokes the pricing engine, and
// commits the resulting state change atomically through the store.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fpx/trade-engine/internal/metrics"
	"github.com/fpx/trade-engine/internal/model"
	"github.com/fpx/trade-engine/internal/pricing"
	"github.com/fpx/trade-engine/internal/risk"
	"github.com/fpx/trade-engine/internal/store"
)

var (
	// ErrValidation is returned for requests rejected before any read:
	// bad shape, non-positive amounts.
	ErrValidation = errors.New("trade: invalid request")

	// ErrInsufficientFunds is returned when the user's cash cannot cover
	// a buy. No state changes.
	ErrInsufficientFunds = errors.New("trade: insufficient cash")

	// ErrInsufficientShares is returned when the user's position cannot
	// cover a sell. No state changes.
	ErrInsufficientShares = errors.New("trade: insufficient shares")

	// ErrConflict is surfaced after commit-time races exhaust the retry
	// budget. The trade had no effect and may be retried by the caller.
	ErrConflict = errors.New("trade: conflicting concurrent trades, try again")
)

// commitRetries bounds how many times a trade re-runs its read-compute-commit
// sequence after a commit-time conflict before surfacing ErrConflict.
const commitRetries = 3

// Service executes trades and serves the HTTP API. Trade ordering is
// enforced at the store boundary: CommitTrade serializes per asset and
// rejects commits priced against a stale snapshot, and the service retries
// the whole sequence from scratch on conflict.
type Service struct {
	store   store.Store
	engine  *pricing.Engine
	limiter *risk.Limiter
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, engine *pricing.Engine, limiter *risk.Limiter, hub *WSHub) *Service {
	if limiter == nil {
		limiter = &risk.Limiter{}
	}
	return &Service{
		store:   st,
		engine:  engine,
		limiter: limiter,
		wsHub:   hub,
	}
}

// Buy executes a cash-quoted buy: the user commits cashAmount and receives
// whatever share quantity that buys at the moved price.
func (s *Service) Buy(ctx context.Context, userID, assetID string, cashAmount decimal.Decimal) error {
	if userID == "" || assetID == "" {
		return fmt.Errorf("%w: user and asset are required", ErrValidation)
	}
	if cashAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: cash amount must be positive", ErrValidation)
	}
	if err := s.limiter.CheckCash(cashAmount); err != nil {
		metrics.TradeRejections.WithLabelValues("risk_limit").Inc()
		return err
	}

	start := time.Now()
	for attempt := 0; attempt <= commitRetries; attempt++ {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}
		price, traded, err := s.store.GetLatestPrice(ctx, assetID)
		if err != nil {
			return fmt.Errorf("asset %s: %w", assetID, err)
		}

		if user.Cash.LessThan(cashAmount) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
			return ErrInsufficientFunds
		}

		mv, err := s.engine.QuoteByCash(pricing.Buy, cashAmount, price)
		if err != nil {
			return quoteError(err)
		}

		held, err := s.store.GetPosition(ctx, userID, assetID)
		if err != nil {
			return err
		}
		if err := s.limiter.CheckPosition(held, mv.Shares); err != nil {
			metrics.TradeRejections.WithLabelValues("risk_limit").Inc()
			return err
		}

		entry := ledgerEntry(userID, assetID, model.TradeBuy, mv)
		err = s.store.CommitTrade(ctx, &store.TradeCommit{
			Entry:          entry,
			CashDelta:      mv.Cash.Neg(),
			SharesDelta:    mv.Shares,
			ExpectedPrice:  price,
			ExpectedTraded: traded,
		})
		if errors.Is(err, store.ErrConflict) {
			metrics.ConcurrencyConflicts.Inc()
			continue
		}
		if err != nil {
			return err
		}

		s.finishTrade(entry, start)
		return nil
	}

	return ErrConflict
}

// Sell executes a share-quoted sell: the user gives up sharesAmount and
// receives their cash value at the moved price.
func (s *Service) Sell(ctx context.Context, userID, assetID string, sharesAmount decimal.Decimal) error {
	if userID == "" || assetID == "" {
		return fmt.Errorf("%w: user and asset are required", ErrValidation)
	}
	if sharesAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: share amount must be positive", ErrValidation)
	}

	start := time.Now()
	for attempt := 0; attempt <= commitRetries; attempt++ {
		price, traded, err := s.store.GetLatestPrice(ctx, assetID)
		if err != nil {
			return fmt.Errorf("asset %s: %w", assetID, err)
		}
		held, err := s.store.GetPosition(ctx, userID, assetID)
		if err != nil {
			return err
		}

		if held.LessThan(sharesAmount) {
			metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
			return ErrInsufficientShares
		}

		mv, err := s.engine.QuoteByShares(pricing.Sell, sharesAmount, price)
		if err != nil {
			return quoteError(err)
		}

		entry := ledgerEntry(userID, assetID, model.TradeSell, mv)
		err = s.store.CommitTrade(ctx, &store.TradeCommit{
			Entry:          entry,
			CashDelta:      mv.Cash,
			SharesDelta:    mv.Shares.Neg(),
			ExpectedPrice:  price,
			ExpectedTraded: traded,
		})
		if errors.Is(err, store.ErrConflict) {
			metrics.ConcurrencyConflicts.Inc()
			continue
		}
		if err != nil {
			return err
		}

		s.finishTrade(entry, start)
		return nil
	}

	return ErrConflict
}

func ledgerEntry(userID, assetID, tradeType string, mv pricing.Movement) model.LedgerEntry {
	return model.LedgerEntry{
		ID:             uuid.New().String(),
		UserID:         userID,
		AssetID:        assetID,
		Type:           tradeType,
		Shares:         mv.Shares,
		CashAmount:     mv.Cash,
		ResultingPrice: mv.NewPrice,
		CreatedAt:      time.Now().UTC(),
	}
}

// quoteError maps pricing engine failures onto the service taxonomy.
// A non-positive price reaching the engine is a data-corruption signal,
// never caller input, so it propagates as-is and is not retried.
func quoteError(err error) error {
	if errors.Is(err, pricing.ErrTradeTooLarge) || errors.Is(err, pricing.ErrNonPositiveAmount) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}

func (s *Service) finishTrade(entry model.LedgerEntry, start time.Time) {
	metrics.TradesTotal.WithLabelValues(entry.Type).Inc()
	metrics.TradeLatency.WithLabelValues(entry.Type).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", entry.ID,
		"user", entry.UserID,
		"asset", entry.AssetID,
		"type", entry.Type,
		"shares", entry.Shares.String(),
		"cash", entry.CashAmount.String(),
		"price", entry.ResultingPrice.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade_executed",
			AssetID:   entry.AssetID,
			TradeType: entry.Type,
			Shares:    entry.Shares.String(),
			Cash:      entry.CashAmount.String(),
			Price:     entry.ResultingPrice.String(),
		})
	}
}

// --- Request/Response types ---

// BuyRequest is the JSON body for POST /api/v1/trade/buy.
type BuyRequest struct {
	UserID     string          `json:"user_id"`
	AssetID    string          `json:"asset_id"`
	CashAmount decimal.Decimal `json:"cash_amount"`
}

// SellRequest is the JSON body for POST /api/v1/trade/sell.
type SellRequest struct {
	UserID  string          `json:"user_id"`
	AssetID string          `json:"asset_id"`
	Shares  decimal.Decimal `json:"shares"`
}

// CreateAssetRequest is the JSON body for asset creation.
type CreateAssetRequest struct {
	Name         string          `json:"name"`
	Image        string          `json:"image"`
	DefaultPrice decimal.Decimal `json:"default_price"`
}

// AssetResponse is an asset together with its current price.
type AssetResponse struct {
	model.Asset
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// --- HTTP Handlers ---

// HandleBuy handles POST /api/v1/trade/buy.
// Successful trades return no computed data; callers re-read state.
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.Buy(r.Context(), req.UserID, req.AssetID, req.CashAmount); err != nil {
		writeTradeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleSell handles POST /api/v1/trade/sell.
func (s *Service) HandleSell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.Sell(r.Context(), req.UserID, req.AssetID, req.Shares); err != nil {
		writeTradeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CreateAsset handles POST /api/v1/assets.
func (s *Service) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.DefaultPrice.LessThanOrEqual(decimal.Zero) {
		writeError(w, "default_price must be positive", http.StatusBadRequest)
		return
	}

	asset := &model.Asset{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Image:        req.Image,
		DefaultPrice: req.DefaultPrice,
	}

	if err := s.store.CreateAsset(r.Context(), asset); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("asset created", "id", asset.ID, "name", asset.Name, "default_price", asset.DefaultPrice.String())
	writeJSON(w, http.StatusCreated, asset)
}

// ListAssets handles GET /api/v1/assets.
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		writeError(w, "failed to list assets", http.StatusInternalServerError)
		return
	}

	resp := make([]AssetResponse, 0, len(assets))
	for _, a := range assets {
		price, _, err := s.store.GetLatestPrice(ctx, a.ID)
		if err != nil {
			writeError(w, "failed to resolve prices", http.StatusInternalServerError)
			return
		}
		resp = append(resp, AssetResponse{Asset: a, CurrentPrice: price})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAsset handles GET /api/v1/assets/{assetID}.
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	asset, err := s.store.GetAsset(r.Context(), assetID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "asset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load asset", http.StatusInternalServerError)
		return
	}

	price, _, err := s.store.GetLatestPrice(r.Context(), assetID)
	if err != nil {
		writeError(w, "failed to resolve price", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, AssetResponse{Asset: *asset, CurrentPrice: price})
}

// GetAssetHistory handles GET /api/v1/assets/{assetID}/history.
// Returns ledger entries to reconstruct the price curve.
func (s *Service) GetAssetHistory(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	if _, err := s.store.GetAsset(r.Context(), assetID); errors.Is(err, store.ErrNotFound) {
		writeError(w, "asset not found", http.StatusNotFound)
		return
	}

	entries, err := s.store.GetLedgerEntriesByAsset(r.Context(), assetID)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// GetUser handles GET /api/v1/users/{userID}.
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := s.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load user", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
// Returns cash plus holdings marked to each asset's latest price.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load user", http.StatusInternalServerError)
		return
	}

	positions, err := s.store.GetUserPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	total := user.Cash
	for _, p := range positions {
		total = total.Add(p.MarketValue)
	}

	writeJSON(w, http.StatusOK, model.Portfolio{
		UserID:     userID,
		Cash:       user.Cash,
		Positions:  positions,
		TotalValue: total,
	})
}

// GetUserActivity handles GET /api/v1/users/{userID}/activity.
// Returns the user's trades, oldest first.
func (s *Service) GetUserActivity(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entries, err := s.store.GetLedgerEntriesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load activity", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// writeTradeError maps the trade error taxonomy onto HTTP statuses.
func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, risk.ErrTradeCashLimitExceeded),
		errors.Is(err, risk.ErrPositionLimitExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrConflict):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, "trade failed", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
