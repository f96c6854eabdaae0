package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fpx/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Reads of assets, latest prices, users, and positions check Redis
// first then fall back to the primary; CommitTrade goes straight to the
// primary and invalidates every key the trade touched.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// cachedPrice is the Redis representation of a latest-price lookup.
type cachedPrice struct {
	Price  decimal.Decimal `json:"price"`
	Traded bool            `json:"traded"`
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, userKey(id), u)
	return u, nil
}

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	data, err := s.rdb.Get(ctx, assetKey(id)).Bytes()
	if err == nil {
		var a model.Asset
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, assetKey(id), a)
	return a, nil
}

func (s *CachedStore) GetLatestPrice(ctx context.Context, assetID string) (decimal.Decimal, bool, error) {
	data, err := s.rdb.Get(ctx, priceKey(assetID)).Bytes()
	if err == nil {
		var cp cachedPrice
		if json.Unmarshal(data, &cp) == nil {
			return cp.Price, cp.Traded, nil
		}
	}

	price, traded, err := s.primary.GetLatestPrice(ctx, assetID)
	if err != nil {
		return decimal.Zero, false, err
	}

	s.cacheJSON(ctx, priceKey(assetID), cachedPrice{Price: price, Traded: traded})
	return price, traded, nil
}

func (s *CachedStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, positionsKey(userID), positions)
	return positions, nil
}

// --- Writes (primary first, then invalidate) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.cacheJSON(ctx, userKey(u.ID), u)
	return nil
}

func (s *CachedStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	if err := s.primary.CreateAsset(ctx, a); err != nil {
		return err
	}
	s.cacheJSON(ctx, assetKey(a.ID), a)
	return nil
}

// CommitTrade writes to the primary and drops every cached view the trade
// changed: the asset's price, and the user's cash and positions.
func (s *CachedStore) CommitTrade(ctx context.Context, c *TradeCommit) error {
	if err := s.primary.CommitTrade(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx,
		priceKey(c.Entry.AssetID),
		userKey(c.Entry.UserID),
		positionsKey(c.Entry.UserID),
	)
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	return s.primary.ListAssets(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, assetID string) (decimal.Decimal, error) {
	return s.primary.GetPosition(ctx, userID, assetID)
}

func (s *CachedStore) GetLedgerEntriesByAsset(ctx context.Context, assetID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByAsset(ctx, assetID)
}

func (s *CachedStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func userKey(id string) string       { return fmt.Sprintf("user:%s", id) }
func assetKey(id string) string      { return fmt.Sprintf("asset:%s", id) }
func priceKey(id string) string      { return fmt.Sprintf("price:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
