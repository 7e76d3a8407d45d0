// Package ranking computes player standings by total asset value:
// cash plus holdings valued at current prices.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/store"
)

// Entry is one ranked player.
type Entry struct {
	Rank       int       `json:"rank"`
	PlayerID   string    `json:"player_id"`
	Name       string    `json:"name"`
	Cash       int64     `json:"cash"`
	TotalAsset int64     `json:"total_asset"`
	CreatedAt  time.Time `json:"-"`
}

// Neighbors is the rank-adjacent view sold by the asset-gap cards: the
// player's own standing plus the asset differences to the players ranked
// directly above and below. A nil gap means no such neighbor.
type Neighbors struct {
	Rank       int    `json:"rank"`
	TotalAsset int64  `json:"total_asset"`
	GapAbove   *int64 `json:"gap_above,omitempty"`
	GapBelow   *int64 `json:"gap_below,omitempty"`
}

// TotalAsset values a player at current prices.
func TotalAsset(p *model.Player, prices map[string]int64) int64 {
	total := p.Cash
	for symbol, qty := range p.Holdings {
		total += qty * prices[symbol]
	}
	return total
}

// Compute builds the standings. Players sharing a display name collapse
// to the most recently created account (stale duplicates from re-signups
// drop out). Sort is total asset descending; on equal assets the earlier
// account wins the better rank.
func Compute(players []model.Player, prices map[string]int64) []Entry {
	// Dedupe by name, keeping the newest account.
	newest := make(map[string]*model.Player, len(players))
	for i := range players {
		p := &players[i]
		if cur, ok := newest[p.Name]; !ok || p.CreatedAt.After(cur.CreatedAt) {
			newest[p.Name] = p
		}
	}

	entries := make([]Entry, 0, len(newest))
	for _, p := range newest {
		entries = append(entries, Entry{
			PlayerID:   p.ID,
			Name:       p.Name,
			Cash:       p.Cash,
			TotalAsset: TotalAsset(p, prices),
			CreatedAt:  p.CreatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalAsset != entries[j].TotalAsset {
			return entries[i].TotalAsset > entries[j].TotalAsset
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// Service loads standings from the store.
type Service struct {
	store store.Store
}

// NewService creates a ranking service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Standings returns the current full ranking.
func (s *Service) Standings(ctx context.Context) ([]Entry, error) {
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}
	symbols, err := s.store.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]int64, len(symbols))
	for _, sym := range symbols {
		prices[sym.Symbol] = sym.Price
	}
	return Compute(players, prices), nil
}

// NeighborGaps returns the player's rank and asset gaps to the players
// directly above and below.
func (s *Service) NeighborGaps(ctx context.Context, playerID string) (*Neighbors, error) {
	entries, err := s.Standings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].PlayerID != playerID {
			continue
		}
		n := &Neighbors{
			Rank:       entries[i].Rank,
			TotalAsset: entries[i].TotalAsset,
		}
		if i > 0 {
			gap := entries[i-1].TotalAsset - entries[i].TotalAsset
			n.GapAbove = &gap
		}
		if i < len(entries)-1 {
			gap := entries[i].TotalAsset - entries[i+1].TotalAsset
			n.GapBelow = &gap
		}
		return n, nil
	}
	return nil, fmt.Errorf("player %s: %w", playerID, model.ErrNotFound)
}
