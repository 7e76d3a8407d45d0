package cards_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/uenogami/stock-trading-game/internal/cards"
	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/store"
)

func newEngineEnv(t *testing.T) (*cards.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return cards.NewEngine(ms, cards.DefaultCatalog()), ms
}

func seedPlayer(t *testing.T, ms *store.MemoryStore, id string, cash int64) {
	t.Helper()
	p := &model.Player{ID: id, Name: id, Cash: cash, Holdings: map[string]int64{}}
	if err := ms.CreatePlayer(context.Background(), p); err != nil {
		t.Fatalf("seed player: %v", err)
	}
}

func TestPurchase_DeductsCash(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "p1", 5000)
	ctx := context.Background()

	if err := engine.Purchase(ctx, "p1", cards.CardAnonymousTrade); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	p, _ := ms.GetPlayer(ctx, "p1")
	if p.Cash != 4000 {
		t.Errorf("expected 4000 after 1000p card, got %d", p.Cash)
	}
	grant, _ := ms.GetCardGrant(ctx, "p1", cards.CardAnonymousTrade)
	if grant == nil || !grant.Purchased || grant.Active {
		t.Errorf("expected purchased inactive grant, got %+v", grant)
	}
}

func TestPurchase_Rejections(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "poor", 500)
	seedPlayer(t, ms, "rich", 10000)
	ctx := context.Background()

	if err := engine.Purchase(ctx, "poor", cards.CardAnonymousTrade); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Errorf("expected insufficient funds, got %v", err)
	}
	if err := engine.Purchase(ctx, "rich", "no-such-card"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if err := engine.Purchase(ctx, "rich", cards.CardAnonymousTrade); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := engine.Purchase(ctx, "rich", cards.CardAnonymousTrade); !errors.Is(err, model.ErrCardAlreadyPurchased) {
		t.Errorf("expected already purchased, got %v", err)
	}
}

func TestPurchase_PrerequisiteChain(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "p1", 10000)
	ctx := context.Background()

	// The permanent asset-gap card requires the one-shot version first.
	if err := engine.Purchase(ctx, "p1", cards.CardRankDiffAlways); !errors.Is(err, model.ErrPrerequisiteMissing) {
		t.Errorf("expected prerequisite missing, got %v", err)
	}
	if err := engine.Purchase(ctx, "p1", cards.CardRankDiff); err != nil {
		t.Fatalf("purchase prerequisite: %v", err)
	}
	if err := engine.Purchase(ctx, "p1", cards.CardRankDiffAlways); err != nil {
		t.Errorf("expected purchase to succeed after prerequisite, got %v", err)
	}
}

func TestActivate_Lifecycle(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "p1", 10000)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := engine.Activate(ctx, "p1", cards.CardAnonymousTrade, now); !errors.Is(err, model.ErrCardNotPurchased) {
		t.Errorf("expected not purchased, got %v", err)
	}

	if err := engine.Purchase(ctx, "p1", cards.CardAnonymousTrade); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	grant, err := engine.Activate(ctx, "p1", cards.CardAnonymousTrade, now)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !grant.Active || grant.ExpiresAt != nil {
		t.Errorf("expected active grant without expiry, got %+v", grant)
	}
	if _, err := engine.Activate(ctx, "p1", cards.CardAnonymousTrade, now); !errors.Is(err, model.ErrCardAlreadyActive) {
		t.Errorf("expected already active, got %v", err)
	}
}

func TestActivate_HidePricesSetsExpiryAndAnnounces(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "p1", 10000)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := engine.Purchase(ctx, "p1", cards.CardHidePrices); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	grant, err := engine.Activate(ctx, "p1", cards.CardHidePrices, now)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if grant.ExpiresAt == nil || !grant.ExpiresAt.Equal(now.Add(2*time.Minute)) {
		t.Errorf("expected expiry at +2m, got %v", grant.ExpiresAt)
	}

	hidden, err := engine.PricesHidden(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("prices hidden: %v", err)
	}
	if !hidden {
		t.Error("expected prices hidden during the blackout window")
	}

	// Lazy expiry: past the window the blackout is over even before a sweep.
	hidden, _ = engine.PricesHidden(ctx, now.Add(3*time.Minute))
	if hidden {
		t.Error("expected blackout over after 2 minutes")
	}

	// The announcement never names the activator and states the catalog's
	// blackout duration.
	posts, _ := ms.ListPosts(ctx, 0)
	found := false
	for _, p := range posts {
		if p.Category == model.PostSystem && p.Author == model.SystemAuthor {
			found = true
			if p.Body != "Prices are hidden for 2 minutes" {
				t.Errorf("announcement should carry the blackout duration, got %q", p.Body)
			}
		}
	}
	if !found {
		t.Error("expected a system announcement post")
	}
}

func TestSweep_DeactivatesExpiredGrants(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "p1", 10000)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := engine.Purchase(ctx, "p1", cards.CardHidePrices); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := engine.Activate(ctx, "p1", cards.CardHidePrices, now); err != nil {
		t.Fatalf("activate: %v", err)
	}

	swept, err := engine.Sweep(ctx, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("expected 1 swept grant, got %d", swept)
	}
	grant, _ := ms.GetCardGrant(ctx, "p1", cards.CardHidePrices)
	if grant.Active {
		t.Error("expected grant deactivated after sweep")
	}
}

func TestCapBonus(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "p1", 10000)
	ctx := context.Background()

	bonus, err := engine.CapBonus(ctx, "p1")
	if err != nil {
		t.Fatalf("cap bonus: %v", err)
	}
	if bonus != 0 {
		t.Errorf("expected 0 without the card, got %d", bonus)
	}

	if err := engine.Purchase(ctx, "p1", cards.CardMaxHoldings); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	bonus, _ = engine.CapBonus(ctx, "p1")
	if bonus != 10 {
		t.Errorf("expected +10 from purchase alone, got %d", bonus)
	}
}

func TestConsumeAnonymity_OneShot(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "p1", 10000)
	ctx := context.Background()
	now := time.Now().UTC()

	// No card: nothing to consume.
	masked, err := engine.ConsumeAnonymity(ctx, "p1", now)
	if err != nil || masked {
		t.Fatalf("expected no-op, got masked=%v err=%v", masked, err)
	}

	if err := engine.Purchase(ctx, "p1", cards.CardAnonymousTrade); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	// Purchased but not activated: still not consumed.
	masked, _ = engine.ConsumeAnonymity(ctx, "p1", now)
	if masked {
		t.Error("inactive card should not mask")
	}

	if _, err := engine.Activate(ctx, "p1", cards.CardAnonymousTrade, now); err != nil {
		t.Fatalf("activate: %v", err)
	}
	masked, _ = engine.ConsumeAnonymity(ctx, "p1", now)
	if !masked {
		t.Error("active card should mask the next trade")
	}
	// Burned: the second consume finds nothing.
	masked, _ = engine.ConsumeAnonymity(ctx, "p1", now)
	if masked {
		t.Error("anonymity card should be single-use")
	}
}

func TestSettlementMultipliers(t *testing.T) {
	engine, ms := newEngineEnv(t)
	seedPlayer(t, ms, "holder", 10000)
	seedPlayer(t, ms, "other", 10000)
	ctx := context.Background()

	if err := engine.Purchase(ctx, "holder", cards.CardCashMultiplier); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	multipliers, err := engine.SettlementMultipliers(ctx)
	if err != nil {
		t.Fatalf("settlement multipliers: %v", err)
	}
	if len(multipliers) != 1 {
		t.Fatalf("expected 1 holder, got %d", len(multipliers))
	}
	m, ok := multipliers["holder"]
	if !ok {
		t.Fatal("expected holder in multiplier map")
	}
	if m.Factor.String() != "1.1" {
		t.Errorf("expected factor 1.1, got %s", m.Factor)
	}
}
