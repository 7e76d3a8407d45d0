package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/uenogami/stock-trading-game/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. The trade ledger and
// timeline are never cached: prices and event idempotency both depend on
// reading the authoritative rows.
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

// --- Players ---

func (s *CachedStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.CreatePlayer(ctx, p); err != nil {
		return err
	}
	s.cachePlayer(ctx, p)
	return nil
}

func (s *CachedStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, playerKey(id)).Bytes()
	if err == nil {
		var p model.Player
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePlayer(ctx, p)
	return p, nil
}

func (s *CachedStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	return s.primary.ListPlayers(ctx)
}

func (s *CachedStore) UpdatePlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.UpdatePlayer(ctx, p); err != nil {
		// A stale cached copy would keep losing the version race.
		s.rdb.Del(ctx, playerKey(p.ID))
		return err
	}
	s.cachePlayer(ctx, p)
	return nil
}

// --- Symbols ---

func (s *CachedStore) CreateSymbol(ctx context.Context, sym *model.Symbol) error {
	if err := s.primary.CreateSymbol(ctx, sym); err != nil {
		return err
	}
	s.cacheSymbol(ctx, sym)
	return nil
}

func (s *CachedStore) GetSymbol(ctx context.Context, code string) (*model.Symbol, error) {
	data, err := s.rdb.Get(ctx, symbolKey(code)).Bytes()
	if err == nil {
		var sym model.Symbol
		if json.Unmarshal(data, &sym) == nil {
			return &sym, nil
		}
	}

	sym, err := s.primary.GetSymbol(ctx, code)
	if err != nil {
		return nil, err
	}

	s.cacheSymbol(ctx, sym)
	return sym, nil
}

func (s *CachedStore) ListSymbols(ctx context.Context) ([]model.Symbol, error) {
	return s.primary.ListSymbols(ctx)
}

func (s *CachedStore) UpdateSymbolQuote(ctx context.Context, code string, price, volume int64) error {
	if err := s.primary.UpdateSymbolQuote(ctx, code, price, volume); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the fresh quote.
	s.rdb.Del(ctx, symbolKey(code))
	return nil
}

// --- Trades (never cached) ---

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTradesBySymbol(ctx context.Context, symbol string) ([]model.Trade, error) {
	return s.primary.ListTradesBySymbol(ctx, symbol)
}

func (s *CachedStore) FirstTrade(ctx context.Context) (*model.Trade, error) {
	return s.primary.FirstTrade(ctx)
}

func (s *CachedStore) LastTradeByPlayer(ctx context.Context, playerID string) (*model.Trade, error) {
	return s.primary.LastTradeByPlayer(ctx, playerID)
}

// --- Card grants ---

func (s *CachedStore) GetCardGrant(ctx context.Context, playerID, cardID string) (*model.CardGrant, error) {
	return s.primary.GetCardGrant(ctx, playerID, cardID)
}

func (s *CachedStore) ListCardGrantsByPlayer(ctx context.Context, playerID string) ([]model.CardGrant, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, grantsKey(playerID)).Bytes()
	if err == nil {
		var grants []model.CardGrant
		if json.Unmarshal(data, &grants) == nil {
			return grants, nil
		}
	}

	grants, err := s.primary.ListCardGrantsByPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(grants); err == nil {
		s.rdb.Set(ctx, grantsKey(playerID), data, s.ttl)
	}
	return grants, nil
}

func (s *CachedStore) ListGrantsByCard(ctx context.Context, cardID string) ([]model.CardGrant, error) {
	return s.primary.ListGrantsByCard(ctx, cardID)
}

func (s *CachedStore) UpsertCardGrant(ctx context.Context, g *model.CardGrant) error {
	if err := s.primary.UpsertCardGrant(ctx, g); err != nil {
		return err
	}
	s.rdb.Del(ctx, grantsKey(g.PlayerID))
	return nil
}

func (s *CachedStore) ExpireCardGrants(ctx context.Context, now time.Time) (int, error) {
	swept, err := s.primary.ExpireCardGrants(ctx, now)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		// Cheapest correct invalidation: the sweep may touch any player.
		iter := s.rdb.Scan(ctx, 0, "grants:*", 0).Iterator()
		for iter.Next(ctx) {
			s.rdb.Del(ctx, iter.Val())
		}
	}
	return swept, nil
}

// --- Timeline (never cached) ---

func (s *CachedStore) InsertPost(ctx context.Context, p *model.TimelinePost) error {
	return s.primary.InsertPost(ctx, p)
}

func (s *CachedStore) ListPosts(ctx context.Context, limit int) ([]model.TimelinePost, error) {
	return s.primary.ListPosts(ctx, limit)
}

func (s *CachedStore) InsertEventMarker(ctx context.Context, p *model.TimelinePost, since time.Time) error {
	return s.primary.InsertEventMarker(ctx, p, since)
}

// --- Cache helpers ---

func (s *CachedStore) cachePlayer(ctx context.Context, p *model.Player) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, playerKey(p.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheSymbol(ctx context.Context, sym *model.Symbol) {
	if data, err := json.Marshal(sym); err == nil {
		s.rdb.Set(ctx, symbolKey(sym.Symbol), data, s.ttl)
	}
}

func playerKey(id string) string   { return fmt.Sprintf("player:%s", id) }
func symbolKey(code string) string { return fmt.Sprintf("symbol:%s", code) }
func grantsKey(id string) string   { return fmt.Sprintf("grants:%s", id) }
