// Package store defines the persistence interface for the trade engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fpx/trade-engine/internal/model"
)

var (
	// ErrNotFound is returned when a referenced user or asset does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrExists is returned when creating an entity that already exists.
	ErrExists = errors.New("store: already exists")

	// ErrConflict is returned by CommitTrade when the asset's price moved
	// between read and commit, or when the commit would drive a cash or
	// share balance negative. The whole read-compute-commit sequence is
	// safe to retry from scratch.
	ErrConflict = errors.New("store: concurrent modification")
)

// TradeCommit describes the atomic state change of one executed trade:
// a signed cash delta on the user, a signed share delta on the position,
// and an immutable ledger append. Either all three apply or none do.
//
// ExpectedPrice/ExpectedTraded carry the price snapshot the trade was
// computed against; CommitTrade must reject with ErrConflict if the
// asset's actual ledger tail no longer matches.
type TradeCommit struct {
	Entry          model.LedgerEntry
	CashDelta      decimal.Decimal // negative for buys, positive for sells
	SharesDelta    decimal.Decimal // positive for buys, negative for sells
	ExpectedPrice  decimal.Decimal
	ExpectedTraded bool // whether the asset had any ledger entries at read time
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// --- Assets ---

	// CreateAsset persists a new tradable asset.
	CreateAsset(ctx context.Context, asset *model.Asset) error

	// GetAsset retrieves an asset by ID.
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// ListAssets returns all assets.
	ListAssets(ctx context.Context) ([]model.Asset, error)

	// GetLatestPrice returns the asset's current price: the resulting
	// price of its most recent ledger entry, or its default price if it
	// has never traded. The bool reports whether the asset has traded.
	GetLatestPrice(ctx context.Context, assetID string) (decimal.Decimal, bool, error)

	// --- Positions ---

	// GetPosition returns the user's share balance in one asset, zero if
	// no position exists.
	GetPosition(ctx context.Context, userID, assetID string) (decimal.Decimal, error)

	// GetUserPositions returns the user's non-empty positions marked to
	// each asset's latest price.
	GetUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Immutable ledger ---

	// GetLedgerEntriesByAsset returns all trades for an asset, oldest first.
	GetLedgerEntriesByAsset(ctx context.Context, assetID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByUser returns all trades for a user, oldest first.
	GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error)

	// --- Atomic commit ---

	// CommitTrade atomically applies the cash delta, position upsert, and
	// ledger append. Commits are serialized per asset; a stale expected
	// price or a balance that would go negative aborts with ErrConflict.
	CommitTrade(ctx context.Context, commit *TradeCommit) error
}
