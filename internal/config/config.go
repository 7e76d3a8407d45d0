// Package config loads server settings from the environment and carries
// the static game ruleset: session length, starting assets, the symbol
// table, cooldown, and insurance terms. Rules are fixed for a session;
// env vars exist so operators can run shorter demo sessions.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolRule is the static configuration for one tradable symbol.
type SymbolRule struct {
	Symbol      string
	Name        string
	BasePrice   int64
	Coefficient decimal.Decimal
	MaxHoldings int64
}

// InsuranceRule is the one-shot bailout: players at or below Threshold
// total assets may claim Payout once.
type InsuranceRule struct {
	Threshold int64
	Payout    int64
}

// Config is the full server configuration.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string

	SessionDuration  time.Duration
	TradeCooldown    time.Duration
	StartingCash     int64
	StartingHoldings map[string]int64
	Symbols          []SymbolRule
	Insurance        InsuranceRule

	// Background timer intervals.
	ClockResyncEvery time.Duration
	EventCheckEvery  time.Duration
	CardSweepEvery   time.Duration

	TimelineLimit int
	TweetMaxRunes int
}

// Load reads configuration from the environment, falling back to the
// 60-minute demo ruleset.
func Load() Config {
	addr := strings.TrimSpace(os.Getenv("PORT"))
	if addr != "" && !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}
	if addr == "" {
		addr = envDefault("GAME_ADDR", ":8080")
	}

	return Config{
		Addr:        addr,
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),

		SessionDuration: envDurationDefault("GAME_SESSION_DURATION", 60*time.Minute),
		TradeCooldown:   envDurationDefault("GAME_TRADE_COOLDOWN", 10*time.Second),
		StartingCash:    envInt64Default("GAME_STARTING_CASH", 5000),
		StartingHoldings: map[string]int64{
			"A": 25,
			"B": 25,
		},
		Symbols: []SymbolRule{
			{
				Symbol:      "A",
				Name:        "Infratech",
				BasePrice:   100,
				Coefficient: decimal.RequireFromString("0.2"),
				MaxHoldings: 100,
			},
			{
				Symbol:      "B",
				Name:        "Nextra",
				BasePrice:   100,
				Coefficient: decimal.RequireFromString("0.6"),
				MaxHoldings: 100,
			},
		},
		Insurance: InsuranceRule{
			Threshold: envInt64Default("GAME_INSURANCE_THRESHOLD", 1000),
			Payout:    envInt64Default("GAME_INSURANCE_PAYOUT", 2000),
		},

		ClockResyncEvery: envDurationDefault("GAME_CLOCK_RESYNC_EVERY", 30*time.Second),
		EventCheckEvery:  envDurationDefault("GAME_EVENT_CHECK_EVERY", 15*time.Second),
		CardSweepEvery:   envDurationDefault("GAME_CARD_SWEEP_EVERY", 30*time.Second),

		TimelineLimit: 50,
		TweetMaxRunes: 50,
	}
}

// SymbolRuleFor returns the rule for a symbol code, or nil.
func (c Config) SymbolRuleFor(symbol string) *SymbolRule {
	for i := range c.Symbols {
		if c.Symbols[i].Symbol == symbol {
			return &c.Symbols[i]
		}
	}
	return nil
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
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
