// Package seed bootstraps a development deployment with sample players
// and a demo user. Seeding is idempotent: it runs only against an empty
// asset table.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/fpx/trade-engine/internal/model"
	"github.com/fpx/trade-engine/internal/store"
)

// DefaultUserID identifies the demo user created during seeding. The
// trade API takes the user as a parameter everywhere, so multi-user
// operation needs no code change — just more users.
const DefaultUserID = "1"

// Players are the sample assets with their seed prices.
var Players = []model.Asset{
	{ID: "1", Name: "Lionel Messi", Image: "/messi.webp", DefaultPrice: decimal.NewFromFloat(120.5)},
	{ID: "2", Name: "Cristiano Ronaldo", Image: "/cristiano.webp", DefaultPrice: decimal.NewFromFloat(115.75)},
	{ID: "3", Name: "Kylian Mbappé", Image: "/mbappe.webp", DefaultPrice: decimal.NewFromFloat(180.25)},
	{ID: "4", Name: "Erling Haaland", Image: "/haaland.webp", DefaultPrice: decimal.NewFromFloat(175.5)},
	{ID: "5", Name: "Jude Bellingham", Image: "/bellingham.webp", DefaultPrice: decimal.NewFromFloat(145.25)},
	{ID: "6", Name: "Kevin De Bruyne", Image: "/bruyne.webp", DefaultPrice: decimal.NewFromFloat(135.8)},
	{ID: "7", Name: "Mohamed Salah", Image: "/salah.webp", DefaultPrice: decimal.NewFromFloat(140.6)},
	{ID: "8", Name: "Vinicius Junior", Image: "/vinicius.webp", DefaultPrice: decimal.NewFromFloat(165.3)},
}

// Run seeds the store with the sample players and a demo user holding
// startingCash. A store that already has assets is left untouched.
func Run(ctx context.Context, st store.Store, startingCash decimal.Decimal) error {
	assets, err := st.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("seed: list assets: %w", err)
	}
	if len(assets) > 0 {
		slog.Info("seed skipped, assets already present", "count", len(assets))
		return nil
	}

	user := &model.User{ID: DefaultUserID, Name: "Demo Trader", Cash: startingCash}
	if err := st.CreateUser(ctx, user); err != nil && !errors.Is(err, store.ErrExists) {
		return fmt.Errorf("seed: create user: %w", err)
	}

	for i := range Players {
		p := Players[i]
		if err := st.CreateAsset(ctx, &p); err != nil {
			return fmt.Errorf("seed: create asset %s: %w", p.Name, err)
		}
	}

	slog.Info("seeded sample data",
		"players", len(Players),
		"user", DefaultUserID,
		"starting_cash", startingCash.String(),
	)
	return nil
}
