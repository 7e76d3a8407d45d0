package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uenogami/stock-trading-game/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]*model.Player
	symbols map[string]*model.Symbol
	trades  []model.Trade
	grants  map[string]*model.CardGrant // key: playerID + "/" + cardID
	posts   []model.TimelinePost
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players: make(map[string]*model.Player),
		symbols: make(map[string]*model.Symbol),
		grants:  make(map[string]*model.CardGrant),
	}
}

func grantKey(playerID, cardID string) string { return playerID + "/" + cardID }

func copyPlayer(p *model.Player) *model.Player {
	cp := *p
	cp.Holdings = make(map[string]int64, len(p.Holdings))
	for k, v := range p.Holdings {
		cp.Holdings[k] = v
	}
	return &cp
}

func (s *MemoryStore) CreatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.players[p.ID]; ok {
		return fmt.Errorf("player %s already exists", p.ID)
	}
	s.players[p.ID] = copyPlayer(p)
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, model.ErrNotFound)
	}
	return copyPlayer(p), nil
}

func (s *MemoryStore) ListPlayers(_ context.Context) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, *copyPlayer(p))
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].ID < players[j].ID
		}
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})
	return players, nil
}

func (s *MemoryStore) UpdatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.players[p.ID]
	if !ok {
		return fmt.Errorf("player %s: %w", p.ID, model.ErrNotFound)
	}
	if stored.Version != p.Version {
		return model.ErrVersionConflict
	}
	p.Version++
	s.players[p.ID] = copyPlayer(p)
	return nil
}

func (s *MemoryStore) CreateSymbol(_ context.Context, sym *model.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.symbols[sym.Symbol]; ok {
		return fmt.Errorf("symbol %s already exists", sym.Symbol)
	}
	cp := *sym
	s.symbols[sym.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetSymbol(_ context.Context, code string) (*model.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sym, ok := s.symbols[code]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", code, model.ErrNotFound)
	}
	cp := *sym
	return &cp, nil
}

func (s *MemoryStore) ListSymbols(_ context.Context) ([]model.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]model.Symbol, 0, len(s.symbols))
	for _, sym := range s.symbols {
		symbols = append(symbols, *sym)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Symbol < symbols[j].Symbol })
	return symbols, nil
}

func (s *MemoryStore) UpdateSymbolQuote(_ context.Context, code string, price, volume int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sym, ok := s.symbols[code]
	if !ok {
		return fmt.Errorf("symbol %s: %w", code, model.ErrNotFound)
	}
	sym.Price = price
	sym.Volume = volume
	sym.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesBySymbol(_ context.Context, symbol string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.Symbol == symbol {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) FirstTrade(_ context.Context) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first *model.Trade
	for i := range s.trades {
		if first == nil || s.trades[i].CreatedAt.Before(first.CreatedAt) {
			first = &s.trades[i]
		}
	}
	if first == nil {
		return nil, nil
	}
	cp := *first
	return &cp, nil
}

func (s *MemoryStore) LastTradeByPlayer(_ context.Context, playerID string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *model.Trade
	for i := range s.trades {
		if s.trades[i].PlayerID != playerID {
			continue
		}
		if last == nil || s.trades[i].CreatedAt.After(last.CreatedAt) {
			last = &s.trades[i]
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (s *MemoryStore) GetCardGrant(_ context.Context, playerID, cardID string) (*model.CardGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[grantKey(playerID, cardID)]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) ListCardGrantsByPlayer(_ context.Context, playerID string) ([]model.CardGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CardGrant
	for _, g := range s.grants {
		if g.PlayerID == playerID {
			result = append(result, *g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CardID < result[j].CardID })
	return result, nil
}

func (s *MemoryStore) ListGrantsByCard(_ context.Context, cardID string) ([]model.CardGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CardGrant
	for _, g := range s.grants {
		if g.CardID == cardID {
			result = append(result, *g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PlayerID < result[j].PlayerID })
	return result, nil
}

func (s *MemoryStore) UpsertCardGrant(_ context.Context, g *model.CardGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g.UpdatedAt = time.Now().UTC()
	cp := *g
	s.grants[grantKey(g.PlayerID, g.CardID)] = &cp
	return nil
}

func (s *MemoryStore) ExpireCardGrants(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for _, g := range s.grants {
		if g.Active && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			g.Active = false
			g.UpdatedAt = now
			swept++
		}
	}
	return swept, nil
}

func (s *MemoryStore) InsertPost(_ context.Context, p *model.TimelinePost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendPost(p)
	return nil
}

func (s *MemoryStore) ListPosts(_ context.Context, limit int) ([]model.TimelinePost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.TimelinePost, len(s.posts))
	copy(result, s.posts)
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) InsertEventMarker(_ context.Context, p *model.TimelinePost, since time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.posts {
		if existing.Category == model.PostSystem && existing.Body == p.Body && !existing.CreatedAt.Before(since) {
			return model.ErrAlreadyApplied
		}
	}
	s.appendPost(p)
	return nil
}

// appendPost assigns server-side ID/timestamp. Callers hold s.mu.
func (s *MemoryStore) appendPost(p *model.TimelinePost) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.posts = append(s.posts, *p)
}
