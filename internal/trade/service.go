// Package trade provides the HTTP handlers and business logic for player
// accounts, trade execution, the timeline, and the insurance bailout.
//
// Cash and prices are integer points; fractional arithmetic uses
// shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/uenogami/stock-trading-game/internal/cards"
	"github.com/uenogami/stock-trading-game/internal/config"
	"github.com/uenogami/stock-trading-game/internal/metrics"
	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/notify"
	"github.com/uenogami/stock-trading-game/internal/pricing"
	"github.com/uenogami/stock-trading-game/internal/ranking"
	"github.com/uenogami/stock-trading-game/internal/session"
	"github.com/uenogami/stock-trading-game/internal/store"
)

// casRetries bounds the optimistic-update loop on the player row.
const casRetries = 3

// anonymousAuthor replaces the display name on trade logs masked by an
// anonymity card.
const anonymousAuthor = "anonymous"

// Service handles game operations. Trade execution is serialized with a
// mutex within one instance; the versioned player update protects
// against concurrent writers on other instances.
type Service struct {
	store     store.Store
	cfg       config.Config
	clock     *session.Clock
	scheduler *session.Scheduler
	cards     *cards.Engine
	rankings  *ranking.Service
	notifier  notify.Notifier
	mu        sync.Mutex
}

// NewService creates a new game service. Pass nil for notifier if change
// broadcasting is not needed.
func NewService(st store.Store, cfg config.Config, clock *session.Clock, scheduler *session.Scheduler, engine *cards.Engine, rankings *ranking.Service, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		store:     st,
		cfg:       cfg,
		clock:     clock,
		scheduler: scheduler,
		cards:     engine,
		rankings:  rankings,
		notifier:  notifier,
	}
}

// CreateAccount registers a player with the configured starting assets.
func (s *Service) CreateAccount(ctx context.Context, name, pin string) (*model.Player, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", model.ErrInvalidParameters)
	}

	holdings := make(map[string]int64, len(s.cfg.StartingHoldings))
	for symbol, qty := range s.cfg.StartingHoldings {
		holdings[symbol] = qty
	}
	player := &model.Player{
		Name:     name,
		PIN:      pin,
		Cash:     s.cfg.StartingCash,
		Holdings: holdings,
	}
	if err := s.store.CreatePlayer(ctx, player); err != nil {
		return nil, err
	}

	if players, err := s.store.ListPlayers(ctx); err == nil {
		metrics.Players.Set(float64(len(players)))
	}
	s.notifier.Notify(notify.Event{Kind: notify.KindPlayer, PlayerID: player.ID})
	return player, nil
}

// ExecuteTrade validates and applies one buy or sell at the symbol's
// current price, then recomputes the price from the full ledger.
//
// Checks run in a fixed order: session over, cooldown, then funds and
// the holdings cap for buys or position size for sells. The player row
// is written with a conditional update and retried on version conflicts
// with the checks re-run against the fresh row.
func (s *Service) ExecuteTrade(ctx context.Context, playerID, symbol, side string, quantity int64) (*model.Trade, *model.Symbol, error) {
	if playerID == "" || symbol == "" || quantity <= 0 {
		return nil, nil, model.ErrInvalidParameters
	}
	if side != model.SideBuy && side != model.SideSell {
		return nil, nil, fmt.Errorf("side must be buy or sell: %w", model.ErrInvalidParameters)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	now := time.Now().UTC()

	if err := s.clock.SyncFromStore(ctx, s.store); err != nil {
		return nil, nil, err
	}
	if s.clock.PhaseAt(now) == session.PhaseEnded {
		metrics.TradeRejections.WithLabelValues("session_ended").Inc()
		return nil, nil, model.ErrSessionEnded
	}

	sym, err := s.store.GetSymbol(ctx, symbol)
	if err != nil {
		return nil, nil, err
	}

	last, err := s.store.LastTradeByPlayer(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	if last != nil && now.Sub(last.CreatedAt) < s.cfg.TradeCooldown {
		metrics.TradeRejections.WithLabelValues("cooldown").Inc()
		return nil, nil, model.ErrCooldownActive
	}

	capBonus, err := s.cards.CapBonus(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}

	// Conditional update on the player row: re-read and re-validate on
	// every conflict so a racing trade cannot sneak past the checks.
	var player *model.Player
	for attempt := 0; ; attempt++ {
		player, err = s.store.GetPlayer(ctx, playerID)
		if err != nil {
			return nil, nil, err
		}

		switch side {
		case model.SideBuy:
			cost := sym.Price * quantity
			if player.Cash < cost {
				metrics.TradeRejections.WithLabelValues("funds").Inc()
				return nil, nil, model.ErrInsufficientFunds
			}
			if player.Holding(symbol)+quantity > sym.MaxHoldings+capBonus {
				metrics.TradeRejections.WithLabelValues("cap").Inc()
				return nil, nil, fmt.Errorf("max %d: %w", sym.MaxHoldings+capBonus, model.ErrLimitExceeded)
			}
			player.Cash -= cost
			if player.Holdings == nil {
				player.Holdings = map[string]int64{}
			}
			player.Holdings[symbol] += quantity

		case model.SideSell:
			if player.Holding(symbol) < quantity {
				metrics.TradeRejections.WithLabelValues("holdings").Inc()
				return nil, nil, model.ErrInsufficientHoldings
			}
			player.Cash += sym.Price * quantity
			player.Holdings[symbol] -= quantity
		}

		err = s.store.UpdatePlayer(ctx, player)
		if err == nil {
			break
		}
		if errors.Is(err, model.ErrVersionConflict) && attempt < casRetries {
			continue
		}
		return nil, nil, err
	}

	trade := &model.Trade{
		PlayerID: playerID,
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    sym.Price,
	}
	if err := s.store.InsertTrade(ctx, trade); err != nil {
		return nil, nil, fmt.Errorf("record trade: %w", err)
	}

	// Recompute the quote from the entire ledger.
	ledger, err := s.store.ListTradesBySymbol(ctx, symbol)
	if err != nil {
		return nil, nil, err
	}
	newPrice := pricing.Quote(sym.BasePrice, sym.Coefficient, ledger)
	newVolume := pricing.Volume(ledger)
	if err := s.store.UpdateSymbolQuote(ctx, symbol, newPrice, newVolume); err != nil {
		return nil, nil, fmt.Errorf("update quote: %w", err)
	}
	sym.Price = newPrice
	sym.Volume = newVolume

	s.postTradeLog(ctx, player, sym, trade, now)

	metrics.TradesTotal.WithLabelValues(symbol, side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(started).Seconds())
	slog.Info("trade executed",
		"trade_id", trade.ID,
		"player", playerID,
		"symbol", symbol,
		"side", side,
		"qty", quantity,
		"fill_price", trade.Price,
		"new_price", newPrice,
	)
	s.notifier.Notify(notify.Event{
		Kind:   notify.KindQuote,
		Symbol: symbol,
		Price:  newPrice,
		Volume: newVolume,
	})

	return trade, sym, nil
}

// postTradeLog publishes the automatic trade-log post, masking the
// author when a live anonymity card exists (and burning it). Timeline
// failures never fail the trade.
func (s *Service) postTradeLog(ctx context.Context, player *model.Player, sym *model.Symbol, trade *model.Trade, now time.Time) {
	author := player.Name
	masked, err := s.cards.ConsumeAnonymity(ctx, player.ID, now)
	if err != nil {
		slog.Warn("anonymity check failed", "player", player.ID, "err", err)
	}
	if masked {
		author = anonymousAuthor
	}

	verb := "bought"
	if trade.Side == model.SideSell {
		verb = "sold"
	}
	post := &model.TimelinePost{
		PlayerID: player.ID,
		Author:   author,
		Category: model.PostTradeLog,
		Body:     fmt.Sprintf("%s %s %d shares of %s", author, verb, trade.Quantity, sym.Name),
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		slog.Warn("trade log post failed", "trade_id", trade.ID, "err", err)
		return
	}
	s.notifier.Notify(notify.Event{Kind: notify.KindTimeline, PlayerID: player.ID})
}

// ClaimInsurance pays the one-shot bailout to a player whose total
// assets have fallen to the threshold or below.
func (s *Service) ClaimInsurance(ctx context.Context, playerID string) (*model.Player, error) {
	if playerID == "" {
		return nil, model.ErrInvalidParameters
	}

	symbols, err := s.store.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]int64, len(symbols))
	for _, sym := range symbols {
		prices[sym.Symbol] = sym.Price
	}

	var player *model.Player
	for attempt := 0; ; attempt++ {
		player, err = s.store.GetPlayer(ctx, playerID)
		if err != nil {
			return nil, err
		}
		if player.InsuranceUsed {
			return nil, model.ErrInsuranceUsed
		}
		if ranking.TotalAsset(player, prices) > s.cfg.Insurance.Threshold {
			return nil, fmt.Errorf("threshold %dp: %w", s.cfg.Insurance.Threshold, model.ErrInsuranceIneligible)
		}

		player.Cash += s.cfg.Insurance.Payout
		player.InsuranceUsed = true
		err = s.store.UpdatePlayer(ctx, player)
		if err == nil {
			break
		}
		if errors.Is(err, model.ErrVersionConflict) && attempt < casRetries {
			continue
		}
		return nil, err
	}

	post := &model.TimelinePost{
		PlayerID: playerID,
		Author:   player.Name,
		Category: model.PostClaim,
		Body:     fmt.Sprintf("%s claimed insurance (+%dp)", player.Name, s.cfg.Insurance.Payout),
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		slog.Warn("insurance post failed", "player", playerID, "err", err)
	}

	slog.Info("insurance claimed", "player", playerID, "payout", s.cfg.Insurance.Payout)
	s.notifier.Notify(notify.Event{Kind: notify.KindPlayer, PlayerID: playerID})
	return player, nil
}

// PublishPost adds a player-authored timeline post. Tweets are capped at
// the configured rune count; fabricated trade logs require burning a
// live fake-info card.
func (s *Service) PublishPost(ctx context.Context, playerID, category, body string) (*model.TimelinePost, error) {
	if playerID == "" || body == "" {
		return nil, model.ErrInvalidParameters
	}
	if category == "" {
		category = model.PostTweet
	}
	switch category {
	case model.PostTweet, model.PostRumor, model.PostAnalysis, model.PostTradeLog:
	default:
		return nil, fmt.Errorf("unknown post category %q: %w", category, model.ErrInvalidParameters)
	}
	if category == model.PostTweet && utf8.RuneCountInString(body) > s.cfg.TweetMaxRunes {
		return nil, fmt.Errorf("tweets are limited to %d characters: %w", s.cfg.TweetMaxRunes, model.ErrInvalidParameters)
	}

	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	// A player-authored trade log is only possible via the fake-info card.
	if category == model.PostTradeLog {
		if err := s.cards.ConsumeOneShotPost(ctx, playerID, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	post := &model.TimelinePost{
		PlayerID: playerID,
		Author:   player.Name,
		Category: category,
		Body:     body,
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return nil, err
	}
	s.notifier.Notify(notify.Event{Kind: notify.KindTimeline, PlayerID: playerID})
	return post, nil
}

// PurchaseCard buys a card, refusing once the session has ended.
func (s *Service) PurchaseCard(ctx context.Context, playerID, cardID string) error {
	now := time.Now().UTC()
	if err := s.clock.SyncFromStore(ctx, s.store); err != nil {
		return err
	}
	if s.clock.PhaseAt(now) == session.PhaseEnded {
		return model.ErrSessionEnded
	}
	return s.cards.Purchase(ctx, playerID, cardID)
}
