package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fpx/trade-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, cash) VALUES ($1, $2, $3::NUMERIC)`,
		u.ID, u.Name, u.Cash.String(),
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var cash string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, cash::TEXT FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	u.Cash, _ = decimal.NewFromString(cash)
	return &u, nil
}

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (id, name, image, default_price)
		 VALUES ($1, $2, $3, $4::NUMERIC)`,
		a.ID, a.Name, a.Image, a.DefaultPrice.String(),
	)
	return err
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	var defaultPrice string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, image, default_price::TEXT FROM assets WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Image, &defaultPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}

	a.DefaultPrice, _ = decimal.NewFromString(defaultPrice)
	return &a, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, image, default_price::TEXT FROM assets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		var a model.Asset
		var defaultPrice string
		if err := rows.Scan(&a.ID, &a.Name, &a.Image, &defaultPrice); err != nil {
			return nil, err
		}
		a.DefaultPrice, _ = decimal.NewFromString(defaultPrice)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// GetLatestPrice resolves the asset's current price from the ledger tail,
// falling back to the default price for never-traded assets. Ties on
// created_at break on id for determinism.
func (s *PostgresStore) GetLatestPrice(ctx context.Context, assetID string) (decimal.Decimal, bool, error) {
	var priceS string
	var traded bool

	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(le.resulting_price, a.default_price)::TEXT,
		        le.resulting_price IS NOT NULL
		 FROM assets a
		 LEFT JOIN LATERAL (
		     SELECT resulting_price FROM ledger_entries
		     WHERE asset_id = a.id
		     ORDER BY created_at DESC, id DESC LIMIT 1
		 ) le ON TRUE
		 WHERE a.id = $1`, assetID).
		Scan(&priceS, &traded)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("latest price for %s: %w", assetID, err)
	}

	price, _ := decimal.NewFromString(priceS)
	return price, traded, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, assetID string) (decimal.Decimal, error) {
	var sharesS string

	err := s.pool.QueryRow(ctx,
		`SELECT shares::TEXT FROM asset_balances WHERE user_id = $1 AND asset_id = $2`,
		userID, assetID).Scan(&sharesS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get position %s/%s: %w", userID, assetID, err)
	}

	shares, _ := decimal.NewFromString(sharesS)
	return shares, nil
}

func (s *PostgresStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ab.asset_id, a.name, ab.shares::TEXT, ab.updated_at,
		        COALESCE(le.resulting_price, a.default_price)::TEXT
		 FROM asset_balances ab
		 JOIN assets a ON a.id = ab.asset_id
		 LEFT JOIN LATERAL (
		     SELECT resulting_price FROM ledger_entries
		     WHERE asset_id = ab.asset_id
		     ORDER BY created_at DESC, id DESC LIMIT 1
		 ) le ON TRUE
		 WHERE ab.user_id = $1 AND ab.shares > 0
		 ORDER BY a.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var sharesS, priceS string
		if err := rows.Scan(&p.AssetID, &p.AssetName, &sharesS, &p.UpdatedAt, &priceS); err != nil {
			return nil, err
		}
		p.UserID = userID
		p.Shares, _ = decimal.NewFromString(sharesS)
		p.Price, _ = decimal.NewFromString(priceS)
		p.MarketValue = p.Shares.Mul(p.Price)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetLedgerEntriesByAsset(ctx context.Context, assetID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, asset_id, type,
		        shares::TEXT, cash_amount::TEXT, resulting_price::TEXT, created_at
		 FROM ledger_entries WHERE asset_id = $1 ORDER BY created_at, id`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, asset_id, type,
		        shares::TEXT, cash_amount::TEXT, resulting_price::TEXT, created_at
		 FROM ledger_entries WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// CommitTrade applies one trade in a single transaction. Locking the asset
// row serializes commits per asset; the ledger-tail re-check then rejects
// trades priced against a stale snapshot, and guarded updates reject any
// balance that would go negative. Either everything commits or nothing does.
func (s *PostgresStore) CommitTrade(ctx context.Context, c *TradeCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Per-asset serialization point.
	var defaultPriceS string
	err = tx.QueryRow(ctx,
		`SELECT default_price::TEXT FROM assets WHERE id = $1 FOR UPDATE`,
		c.Entry.AssetID).Scan(&defaultPriceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock asset %s: %w", c.Entry.AssetID, err)
	}

	// Optimistic check: the price this trade was computed against must
	// still be the ledger tail.
	priceS := defaultPriceS
	traded := true
	err = tx.QueryRow(ctx,
		`SELECT resulting_price::TEXT FROM ledger_entries
		 WHERE asset_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		c.Entry.AssetID).Scan(&priceS)
	if errors.Is(err, pgx.ErrNoRows) {
		traded = false
	} else if err != nil {
		return fmt.Errorf("read ledger tail for %s: %w", c.Entry.AssetID, err)
	}
	price, _ := decimal.NewFromString(priceS)
	if traded != c.ExpectedTraded || !price.Equal(c.ExpectedPrice) {
		return ErrConflict
	}

	// Cash update with a hard non-negative constraint.
	tag, err := tx.Exec(ctx,
		`UPDATE users SET cash = cash + $2::NUMERIC
		 WHERE id = $1 AND cash + $2::NUMERIC >= 0`,
		c.Entry.UserID, c.CashDelta.String())
	if err != nil {
		return fmt.Errorf("update cash for %s: %w", c.Entry.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`,
			c.Entry.UserID).Scan(&exists); err != nil {
			return fmt.Errorf("check user %s: %w", c.Entry.UserID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	// Position upsert: insert-or-merge for buys, guarded decrement for sells.
	if c.SharesDelta.IsNegative() {
		tag, err = tx.Exec(ctx,
			`UPDATE asset_balances
			 SET shares = shares + $3::NUMERIC, updated_at = $4
			 WHERE user_id = $1 AND asset_id = $2 AND shares + $3::NUMERIC >= 0`,
			c.Entry.UserID, c.Entry.AssetID, c.SharesDelta.String(), c.Entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("decrement position: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO asset_balances (user_id, asset_id, shares, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4)
			 ON CONFLICT (user_id, asset_id) DO UPDATE
			 SET shares = asset_balances.shares + EXCLUDED.shares,
			     updated_at = EXCLUDED.updated_at`,
			c.Entry.UserID, c.Entry.AssetID, c.SharesDelta.String(), c.Entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	// Append-only ledger record.
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, asset_id, type, shares, cash_amount, resulting_price, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		c.Entry.ID, c.Entry.UserID, c.Entry.AssetID, c.Entry.Type,
		c.Entry.Shares.String(), c.Entry.CashAmount.String(),
		c.Entry.ResultingPrice.String(), c.Entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	return tx.Commit(ctx)
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var sharesS, cashS, priceS string

		if err := rows.Scan(&e.ID, &e.UserID, &e.AssetID, &e.Type,
			&sharesS, &cashS, &priceS, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Shares, _ = decimal.NewFromString(sharesS)
		e.CashAmount, _ = decimal.NewFromString(cashS)
		e.ResultingPrice, _ = decimal.NewFromString(priceS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
