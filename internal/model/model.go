// Package model defines the core domain types shared across the game server.
// Cash and prices are integer points; fractional arithmetic (coefficients,
// multipliers) uses shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Timeline post categories.
const (
	PostRumor    = "rumor"
	PostAnalysis = "analysis"
	PostClaim    = "claim"
	PostTradeLog = "trade-log"
	PostTweet    = "tweet"
	PostSystem   = "system"
)

// SystemAuthor is the display name used for auto-generated system posts.
const SystemAuthor = "system"

// Player is one participant's account. Cash and holdings never go
// negative; both are mutated only through conditional (versioned) updates.
type Player struct {
	ID            string           `json:"id" db:"id"`
	Name          string           `json:"name" db:"name"`
	PIN           string           `json:"-" db:"pin"`
	Cash          int64            `json:"cash" db:"cash"`
	Holdings      map[string]int64 `json:"holdings" db:"holdings"`
	InsuranceUsed bool             `json:"insurance_used" db:"insurance_used"`
	Version       int64            `json:"version" db:"version"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// Holding returns the player's position in symbol, defaulting to 0.
func (p *Player) Holding(symbol string) int64 {
	if p.Holdings == nil {
		return 0
	}
	return p.Holdings[symbol]
}

// Symbol is one tradable synthetic instrument. Price and Volume are
// derived from the trade ledger and cached here for display; they are
// never mutated independently of a trade or scheduled event.
type Symbol struct {
	Symbol      string          `json:"symbol" db:"symbol"`
	Name        string          `json:"name" db:"name"`
	BasePrice   int64           `json:"base_price" db:"base_price"`
	Coefficient decimal.Decimal `json:"coefficient" db:"coefficient"`
	MaxHoldings int64           `json:"max_holdings" db:"max_holdings"`
	Price       int64           `json:"price" db:"price"`
	Volume      int64           `json:"volume" db:"volume"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Trade is an immutable record of one executed buy or sell.
// The earliest trade across all symbols defines the session start.
type Trade struct {
	ID        string    `json:"id" db:"id"`
	PlayerID  string    `json:"player_id" db:"player_id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Side      string    `json:"side" db:"side"`
	Quantity  int64     `json:"quantity" db:"quantity"`
	Price     int64     `json:"price" db:"price"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CardGrant is the per (player, card) purchase/activation state.
// Active implies Purchased. A grant whose ExpiresAt has passed is
// treated as inactive regardless of the stored Active value.
type CardGrant struct {
	PlayerID  string     `json:"player_id" db:"player_id"`
	CardID    string     `json:"card_id" db:"card_id"`
	Purchased bool       `json:"purchased" db:"purchased"`
	Active    bool       `json:"active" db:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Live reports whether the grant is effectively active at the given
// instant, applying lazy expiry.
func (g *CardGrant) Live(now time.Time) bool {
	if g == nil || !g.Purchased || !g.Active {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	return true
}

// TimelinePost is one append-only social-feed entry. System posts double
// as idempotency markers for scheduled events.
type TimelinePost struct {
	ID        string    `json:"id" db:"id"`
	PlayerID  string    `json:"player_id" db:"player_id"`
	Author    string    `json:"author" db:"author"`
	Category  string    `json:"category" db:"category"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
