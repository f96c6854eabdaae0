// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds everything the server reads from the environment. An empty
// DATABASE_URL selects the in-memory store; an empty REDIS_URL disables
// the cache layer. Zero risk limits disable those checks.
type Config struct {
	Addr              string
	DatabaseURL       string
	RedisURL          string
	CacheTTL          time.Duration
	SeedOnStartup     bool
	StartingCash      decimal.Decimal
	MaxTradeCash      decimal.Decimal
	MaxPositionShares decimal.Decimal
	ShutdownTimeout   time.Duration
}

// Load reads configuration from the environment, applying defaults for
// anything unset. PORT (without colon) takes precedence over FPX_ADDR for
// platform compatibility.
func Load() Config {
	addr := strings.TrimSpace(os.Getenv("PORT"))
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("FPX_ADDR", ":8080")
	}

	return Config{
		Addr:              addr,
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:          envDurationDefault("FPX_CACHE_TTL", 30*time.Second),
		SeedOnStartup:     envBoolDefault("FPX_SEED_ON_STARTUP", false),
		StartingCash:      envDecimalDefault("FPX_STARTING_CASH", decimal.NewFromInt(1000)),
		MaxTradeCash:      envDecimalDefault("FPX_MAX_TRADE_CASH", decimal.Zero),
		MaxPositionShares: envDecimalDefault("FPX_MAX_POSITION_SHARES", decimal.Zero),
		ShutdownTimeout:   envDurationDefault("FPX_SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDecimalDefault(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}
