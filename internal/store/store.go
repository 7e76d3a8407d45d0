// Package store defines the persistence interface for the game server.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/uenogami/stock-trading-game/internal/model"
)

// Store is the persistence collaborator. Single-or-none lookups return
// (nil, nil) when no row matches; unknown-key mutations return
// model.ErrNotFound. UpdatePlayer is a conditional (versioned) update.
type Store interface {
	// --- Players ---

	// CreatePlayer persists a new player account.
	CreatePlayer(ctx context.Context, p *model.Player) error

	// GetPlayer retrieves a player by ID.
	GetPlayer(ctx context.Context, id string) (*model.Player, error)

	// ListPlayers returns all players in account-creation order.
	ListPlayers(ctx context.Context) ([]model.Player, error)

	// UpdatePlayer writes cash/holdings/insurance for the player iff the
	// stored row still carries p.Version (compare-and-swap). On success
	// the stored version is incremented and p.Version is updated to
	// match; a lost race returns model.ErrVersionConflict.
	UpdatePlayer(ctx context.Context, p *model.Player) error

	// --- Symbols ---

	// CreateSymbol persists a tradable symbol.
	CreateSymbol(ctx context.Context, s *model.Symbol) error

	// GetSymbol retrieves a symbol by its code.
	GetSymbol(ctx context.Context, code string) (*model.Symbol, error)

	// ListSymbols returns all symbols ordered by code.
	ListSymbols(ctx context.Context) ([]model.Symbol, error)

	// UpdateSymbolQuote persists the recomputed price and cumulative
	// volume after a trade.
	UpdateSymbolQuote(ctx context.Context, code string, price, volume int64) error

	// --- Immutable trade ledger ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTradesBySymbol returns a symbol's trades, oldest first.
	ListTradesBySymbol(ctx context.Context, symbol string) ([]model.Trade, error)

	// FirstTrade returns the earliest trade across all symbols — the
	// session start — or (nil, nil) before the first trade.
	FirstTrade(ctx context.Context) (*model.Trade, error)

	// LastTradeByPlayer returns the player's most recent trade, or
	// (nil, nil) if they have not traded.
	LastTradeByPlayer(ctx context.Context, playerID string) (*model.Trade, error)

	// --- Card grants ---

	// GetCardGrant returns the (player, card) grant, or (nil, nil).
	GetCardGrant(ctx context.Context, playerID, cardID string) (*model.CardGrant, error)

	// ListCardGrantsByPlayer returns all grants held by a player.
	ListCardGrantsByPlayer(ctx context.Context, playerID string) ([]model.CardGrant, error)

	// ListGrantsByCard returns all players' grants of one card.
	ListGrantsByCard(ctx context.Context, cardID string) ([]model.CardGrant, error)

	// UpsertCardGrant creates or replaces the (player, card) grant.
	UpsertCardGrant(ctx context.Context, g *model.CardGrant) error

	// ExpireCardGrants deactivates every active grant whose expiry has
	// passed, returning how many were swept.
	ExpireCardGrants(ctx context.Context, now time.Time) (int, error)

	// --- Timeline ---

	// InsertPost appends a timeline post.
	InsertPost(ctx context.Context, p *model.TimelinePost) error

	// ListPosts returns the newest posts, most recent first.
	ListPosts(ctx context.Context, limit int) ([]model.TimelinePost, error)

	// InsertEventMarker appends a system post only if no system post with
	// the same body exists at or after the given instant. The insert is
	// the idempotency lock for scheduled events: a lost race returns
	// model.ErrAlreadyApplied.
	InsertEventMarker(ctx context.Context, p *model.TimelinePost, since time.Time) error
}
