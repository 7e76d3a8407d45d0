package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uenogami/stock-trading-game/internal/metrics"
	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/store"
)

// casRetries bounds the optimistic-update loop when deducting card cost.
const casRetries = 3

// Engine mediates card purchases and activations against the store.
type Engine struct {
	store   store.Store
	catalog map[string]Card
	order   []Card
}

// NewEngine creates an engine over the given catalog.
func NewEngine(st store.Store, catalog []Card) *Engine {
	byID := make(map[string]Card, len(catalog))
	for _, c := range catalog {
		byID[c.ID] = c
	}
	return &Engine{store: st, catalog: byID, order: catalog}
}

// Catalog returns all cards in shop order.
func (e *Engine) Catalog() []Card {
	return e.order
}

// Get returns a card by ID.
func (e *Engine) Get(id string) (Card, bool) {
	c, ok := e.catalog[id]
	return c, ok
}

// Purchase buys a card for the player: the card must exist, must not
// already be owned, its prerequisite (if any) must be owned, and the
// player must afford it. The cash deduction is a conditional update
// retried on version conflicts.
func (e *Engine) Purchase(ctx context.Context, playerID, cardID string) error {
	card, ok := e.catalog[cardID]
	if !ok {
		return fmt.Errorf("card %s: %w", cardID, model.ErrNotFound)
	}

	existing, err := e.store.GetCardGrant(ctx, playerID, cardID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Purchased {
		return model.ErrCardAlreadyPurchased
	}

	if card.Prerequisite != "" {
		pre, err := e.store.GetCardGrant(ctx, playerID, card.Prerequisite)
		if err != nil {
			return err
		}
		if pre == nil || !pre.Purchased {
			return model.ErrPrerequisiteMissing
		}
	}

	for attempt := 0; ; attempt++ {
		player, err := e.store.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		if player.Cash < card.Price {
			return model.ErrInsufficientFunds
		}
		player.Cash -= card.Price
		err = e.store.UpdatePlayer(ctx, player)
		if err == nil {
			break
		}
		if errors.Is(err, model.ErrVersionConflict) && attempt < casRetries {
			continue
		}
		return err
	}

	grant := &model.CardGrant{
		PlayerID:  playerID,
		CardID:    cardID,
		Purchased: true,
		Active:    false,
	}
	if err := e.store.UpsertCardGrant(ctx, grant); err != nil {
		// Cash is already gone; surface the failure rather than guessing
		// at compensation.
		return fmt.Errorf("record grant after payment: %w", err)
	}
	metrics.CardPurchases.WithLabelValues(cardID).Inc()
	return nil
}

// Activate turns a purchased card on. Timed effects get their expiry
// stamped here; the price blackout additionally announces itself on the
// timeline without naming the activator.
func (e *Engine) Activate(ctx context.Context, playerID, cardID string, now time.Time) (*model.CardGrant, error) {
	card, ok := e.catalog[cardID]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", cardID, model.ErrNotFound)
	}

	grant, err := e.store.GetCardGrant(ctx, playerID, cardID)
	if err != nil {
		return nil, err
	}
	if grant == nil || !grant.Purchased {
		return nil, model.ErrCardNotPurchased
	}
	if grant.Active {
		return nil, model.ErrCardAlreadyActive
	}

	grant.Active = true
	grant.ExpiresAt = nil
	if hide, ok := card.Effect.(HidePrices); ok {
		expires := now.Add(hide.Duration)
		grant.ExpiresAt = &expires
	}
	if err := e.store.UpsertCardGrant(ctx, grant); err != nil {
		return nil, err
	}

	if hide, ok := card.Effect.(HidePrices); ok {
		post := &model.TimelinePost{
			PlayerID: playerID,
			Author:   model.SystemAuthor,
			Category: model.PostSystem,
			Body:     fmt.Sprintf("Prices are hidden for %d minutes", int(hide.Duration.Minutes())),
		}
		if err := e.store.InsertPost(ctx, post); err != nil {
			// The card is live either way.
			slog.Warn("blackout announcement failed", "err", err)
		}
	}
	return grant, nil
}

// Deactivate turns an active card off, e.g. when the client reports a
// timed effect as elapsed.
func (e *Engine) Deactivate(ctx context.Context, playerID, cardID string) error {
	grant, err := e.store.GetCardGrant(ctx, playerID, cardID)
	if err != nil {
		return err
	}
	if grant == nil || !grant.Purchased {
		return model.ErrCardNotPurchased
	}
	grant.Active = false
	return e.store.UpsertCardGrant(ctx, grant)
}

// Sweep deactivates every grant whose expiry has passed. Run periodically.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (int, error) {
	return e.store.ExpireCardGrants(ctx, now)
}

// Grants returns the player's grants.
func (e *Engine) Grants(ctx context.Context, playerID string) ([]model.CardGrant, error) {
	return e.store.ListCardGrantsByPlayer(ctx, playerID)
}

// CapBonus returns the extra holdings headroom the player's purchased
// cards provide. Cap bonuses apply from purchase; no activation needed.
func (e *Engine) CapBonus(ctx context.Context, playerID string) (int64, error) {
	grants, err := e.store.ListCardGrantsByPlayer(ctx, playerID)
	if err != nil {
		return 0, err
	}
	var bonus int64
	for _, g := range grants {
		if !g.Purchased {
			continue
		}
		if card, ok := e.catalog[g.CardID]; ok {
			if cap, ok := card.Effect.(CapBonus); ok {
				bonus += cap.Extra
			}
		}
	}
	return bonus, nil
}

// ConsumeAnonymity reports whether the player has a live anonymity card
// and, if so, burns it. The next trade log after activation is the one
// masked.
func (e *Engine) ConsumeAnonymity(ctx context.Context, playerID string, now time.Time) (bool, error) {
	grant, err := e.store.GetCardGrant(ctx, playerID, CardAnonymousTrade)
	if err != nil {
		return false, err
	}
	if !grant.Live(now) {
		return false, nil
	}
	grant.Active = false
	if err := e.store.UpsertCardGrant(ctx, grant); err != nil {
		return false, err
	}
	return true, nil
}

// ConsumeOneShotPost burns a live fake-info card, authorizing one
// fabricated post. Returns ErrCardNotPurchased when no live grant exists.
func (e *Engine) ConsumeOneShotPost(ctx context.Context, playerID string, now time.Time) error {
	grant, err := e.store.GetCardGrant(ctx, playerID, CardFakeInfo)
	if err != nil {
		return err
	}
	if !grant.Live(now) {
		return model.ErrCardNotPurchased
	}
	grant.Active = false
	return e.store.UpsertCardGrant(ctx, grant)
}

// PricesHidden reports whether any player's price blackout is live.
// The blackout applies to everyone, activator included.
func (e *Engine) PricesHidden(ctx context.Context, now time.Time) (bool, error) {
	grants, err := e.store.ListGrantsByCard(ctx, CardHidePrices)
	if err != nil {
		return false, err
	}
	for i := range grants {
		if grants[i].Live(now) {
			return true, nil
		}
	}
	return false, nil
}

// SettlementMultipliers returns, per player ID, the payout factor owed at
// game end from purchased multiplier cards.
func (e *Engine) SettlementMultipliers(ctx context.Context) (map[string]PayoutMultiplier, error) {
	result := make(map[string]PayoutMultiplier)
	for _, card := range e.order {
		factor, ok := card.Effect.(PayoutMultiplier)
		if !ok {
			continue
		}
		grants, err := e.store.ListGrantsByCard(ctx, card.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			if g.Purchased {
				result[g.PlayerID] = factor
			}
		}
	}
	return result, nil
}
