package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fpx/trade-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single mutex across read and commit gives the same per-asset
// serialization the Postgres implementation gets from row locking.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	assets    map[string]*model.Asset
	positions map[string]map[string]*memPosition // userID → assetID → position
	ledger    []model.LedgerEntry
}

type memPosition struct {
	shares    decimal.Decimal
	updatedAt time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		assets:    make(map[string]*model.Asset),
		positions: make(map[string]map[string]*memPosition),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return ErrExists
	}
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[a.ID]; ok {
		return ErrExists
	}
	copy := *a
	s.assets[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAssets(_ context.Context) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]model.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		assets = append(assets, *a)
	}
	return assets, nil
}

func (s *MemoryStore) GetLatestPrice(_ context.Context, assetID string) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestPriceLocked(assetID)
}

// latestPriceLocked resolves the current price under the caller's lock.
// Ties on created_at resolve to the later append, so repeated reads are
// deterministic.
func (s *MemoryStore) latestPriceLocked(assetID string) (decimal.Decimal, bool, error) {
	a, ok := s.assets[assetID]
	if !ok {
		return decimal.Zero, false, ErrNotFound
	}

	price := a.DefaultPrice
	traded := false
	var latest time.Time
	for i := range s.ledger {
		e := &s.ledger[i]
		if e.AssetID != assetID {
			continue
		}
		if !traded || !e.CreatedAt.Before(latest) {
			price = e.ResultingPrice
			latest = e.CreatedAt
			traded = true
		}
	}
	return price, traded, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, assetID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[userID][assetID]; ok {
		return p.shares, nil
	}
	return decimal.Zero, nil
}

func (s *MemoryStore) GetUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for assetID, p := range s.positions[userID] {
		if !p.shares.IsPositive() {
			continue
		}
		price, _, err := s.latestPriceLocked(assetID)
		if err != nil {
			return nil, err
		}
		name := ""
		if a, ok := s.assets[assetID]; ok {
			name = a.Name
		}
		positions = append(positions, model.Position{
			UserID:      userID,
			AssetID:     assetID,
			AssetName:   name,
			Shares:      p.shares,
			Price:       price,
			MarketValue: p.shares.Mul(price),
			UpdatedAt:   p.updatedAt,
		})
	}
	return positions, nil
}

func (s *MemoryStore) GetLedgerEntriesByAsset(_ context.Context, assetID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.AssetID == assetID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByUser(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

// CommitTrade applies all three mutations under one lock, after re-checking
// the price snapshot against the actual ledger tail. Balances that would go
// negative abort with ErrConflict rather than clamping: the pre-commit
// sufficiency checks make that reachable only through a race.
func (s *MemoryStore) CommitTrade(_ context.Context, c *TradeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, traded, err := s.latestPriceLocked(c.Entry.AssetID)
	if err != nil {
		return err
	}
	if traded != c.ExpectedTraded || !price.Equal(c.ExpectedPrice) {
		return ErrConflict
	}

	u, ok := s.users[c.Entry.UserID]
	if !ok {
		return ErrNotFound
	}
	newCash := u.Cash.Add(c.CashDelta)
	if newCash.IsNegative() {
		return ErrConflict
	}

	byAsset := s.positions[c.Entry.UserID]
	var curShares decimal.Decimal
	if p, ok := byAsset[c.Entry.AssetID]; ok {
		curShares = p.shares
	}
	newShares := curShares.Add(c.SharesDelta)
	if newShares.IsNegative() {
		return ErrConflict
	}

	// All checks passed; apply everything.
	u.Cash = newCash
	if byAsset == nil {
		byAsset = make(map[string]*memPosition)
		s.positions[c.Entry.UserID] = byAsset
	}
	byAsset[c.Entry.AssetID] = &memPosition{shares: newShares, updatedAt: c.Entry.CreatedAt}
	s.ledger = append(s.ledger, c.Entry)
	return nil
}
