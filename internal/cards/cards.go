// Package cards implements the black-market card shop: purchasable
// one-shot and timed effects that bend the trading rules. Card behavior
// is described by typed effect values rather than switching on card IDs,
// so the engine and its callers dispatch on the effect shape.
package cards

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card IDs referenced outside the catalog (settlement, trade logging).
const (
	CardAnonymousTrade = "anonymous-trade"
	CardFakeInfo       = "fake-info"
	CardHidePrices     = "hide-prices"
	CardMaxHoldings    = "max-holdings-plus"
	CardCashMultiplier = "cash-multiplier"
	CardRankDiff       = "rank-difference"
	CardRankDiffAlways = "rank-difference-always"
	CardRankVisibility = "rank-visibility"
)

// Effect describes what a card does once purchased or activated.
// Exactly one concrete type below implements it per card.
type Effect interface {
	effect()
}

// AnonymizeNextTrade masks the author of the holder's next trade log,
// then is consumed.
type AnonymizeNextTrade struct{}

// OneShotPost lets the holder publish one fabricated trade-log style post.
type OneShotPost struct{}

// HidePrices blanks price displays for every player for Duration once
// activated.
type HidePrices struct {
	Duration time.Duration
}

// CapBonus permanently raises the holder's per-symbol holdings cap.
type CapBonus struct {
	Extra int64
}

// PayoutMultiplier multiplies the holder's cash at game-end settlement.
type PayoutMultiplier struct {
	Factor decimal.Decimal
}

// RankReveal exposes ranking information outside the scheduled reveal
// windows. Neighbors also shows asset differences to the adjacent ranks;
// Always makes the reveal persistent instead of one-shot.
type RankReveal struct {
	Neighbors bool
	Always    bool
}

func (AnonymizeNextTrade) effect() {}
func (OneShotPost) effect()        {}
func (HidePrices) effect()         {}
func (CapBonus) effect()           {}
func (PayoutMultiplier) effect()   {}
func (RankReveal) effect()         {}

// Card is one catalog entry.
type Card struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	Description  string `json:"description"`
	Prerequisite string `json:"prerequisite,omitempty"`
	Effect       Effect `json:"-"`
}

// DefaultCatalog returns the standard eight-card shop.
func DefaultCatalog() []Card {
	return []Card{
		{
			ID:          CardAnonymousTrade,
			Name:        "Anonymous Trade",
			Price:       1000,
			Description: "Your next trade log shows an anonymous author",
			Effect:      AnonymizeNextTrade{},
		},
		{
			ID:          CardFakeInfo,
			Name:        "Fake Trade Log",
			Price:       1000,
			Description: "Post one fabricated trade-log style message",
			Effect:      OneShotPost{},
		},
		{
			ID:          CardHidePrices,
			Name:        "Price Blackout",
			Price:       1500,
			Description: "Hides prices from every player for 2 minutes",
			Effect:      HidePrices{Duration: 2 * time.Minute},
		},
		{
			ID:          CardMaxHoldings,
			Name:        "Holdings Cap +10",
			Price:       1500,
			Description: "Raises your per-symbol holdings cap by 10 for the rest of the game",
			Effect:      CapBonus{Extra: 10},
		},
		{
			ID:          CardCashMultiplier,
			Name:        "Cash Multiplier",
			Price:       1000,
			Description: "Your cash is multiplied by 1.1 at game end",
			Effect:      PayoutMultiplier{Factor: decimal.RequireFromString("1.1")},
		},
		{
			ID:          CardRankDiff,
			Name:        "Asset Gap",
			Price:       1000,
			Description: "See the asset difference to the players ranked just above and below you, once",
			Effect:      RankReveal{Neighbors: true},
		},
		{
			ID:           CardRankDiffAlways,
			Name:         "Asset Gap (Permanent)",
			Price:        1000,
			Description:  "See the asset difference to adjacent ranks at any time",
			Prerequisite: CardRankDiff,
			Effect:       RankReveal{Neighbors: true, Always: true},
		},
		{
			ID:          CardRankVisibility,
			Name:        "Rank Tracker",
			Price:       2000,
			Description: "See your own rank in real time instead of waiting for scheduled reveals",
			Effect:      RankReveal{Always: true},
		},
	}
}
