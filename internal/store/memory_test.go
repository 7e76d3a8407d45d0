package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/store"
)

func TestUpdatePlayer_VersionedWrite(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	p := &model.Player{ID: "p1", Name: "alice", Cash: 5000, Holdings: map[string]int64{"A": 25}}
	if err := ms.CreatePlayer(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two readers grab the same version.
	a, _ := ms.GetPlayer(ctx, "p1")
	b, _ := ms.GetPlayer(ctx, "p1")

	a.Cash = 4000
	if err := ms.UpdatePlayer(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Version != 1 {
		t.Errorf("expected caller version bumped to 1, got %d", a.Version)
	}

	// The stale writer loses.
	b.Cash = 9999
	if err := ms.UpdatePlayer(ctx, b); !errors.Is(err, model.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	got, _ := ms.GetPlayer(ctx, "p1")
	if got.Cash != 4000 {
		t.Errorf("stale write leaked through: cash %d", got.Cash)
	}
}

func TestUpdatePlayer_ConcurrentIncrements(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	p := &model.Player{ID: "p1", Name: "alice", Cash: 0, Holdings: map[string]int64{}}
	if err := ms.CreatePlayer(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Each goroutine adds 10 with read-modify-write retries; no increment
	// may be lost.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := ms.GetPlayer(ctx, "p1")
				if err != nil {
					t.Error(err)
					return
				}
				cur.Cash += 10
				err = ms.UpdatePlayer(ctx, cur)
				if err == nil {
					return
				}
				if !errors.Is(err, model.ErrVersionConflict) {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, _ := ms.GetPlayer(ctx, "p1")
	if got.Cash != 200 {
		t.Errorf("lost updates: expected 200, got %d", got.Cash)
	}
}

func TestGetPlayer_CopiesHoldings(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	p := &model.Player{ID: "p1", Name: "alice", Cash: 100, Holdings: map[string]int64{"A": 5}}
	if err := ms.CreatePlayer(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := ms.GetPlayer(ctx, "p1")
	got.Holdings["A"] = 999

	again, _ := ms.GetPlayer(ctx, "p1")
	if again.Holdings["A"] != 5 {
		t.Error("mutating a returned player leaked into the store")
	}
}

func TestInsertEventMarker_Idempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Minute)

	marker := func() *model.TimelinePost {
		return &model.TimelinePost{Author: model.SystemAuthor, Category: model.PostSystem, Body: "Game over"}
	}

	if err := ms.InsertEventMarker(ctx, marker(), since); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := ms.InsertEventMarker(ctx, marker(), since); !errors.Is(err, model.ErrAlreadyApplied) {
		t.Fatalf("expected already applied, got %v", err)
	}

	// A different body is a different event.
	other := &model.TimelinePost{Author: model.SystemAuthor, Category: model.PostSystem, Body: "Cash ×1.2 bonus event has fired"}
	if err := ms.InsertEventMarker(ctx, other, since); err != nil {
		t.Fatalf("different marker should insert: %v", err)
	}
}

func TestInsertEventMarker_OldMarkersDoNotBlock(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	// Marker from a previous session, before the since horizon.
	old := &model.TimelinePost{
		Author: model.SystemAuthor, Category: model.PostSystem, Body: "Game over",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := ms.InsertPost(ctx, old); err != nil {
		t.Fatalf("insert old post: %v", err)
	}

	since := time.Now().UTC().Add(-time.Minute)
	fresh := &model.TimelinePost{Author: model.SystemAuthor, Category: model.PostSystem, Body: "Game over"}
	if err := ms.InsertEventMarker(ctx, fresh, since); err != nil {
		t.Fatalf("stale marker should not block a new session: %v", err)
	}
}

func TestInsertEventMarker_ConcurrentRace(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := &model.TimelinePost{Author: model.SystemAuthor, Category: model.PostSystem, Body: "Game over"}
			if err := ms.InsertEventMarker(ctx, m, since); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("exactly one racer should win the marker insert, got %d", wins)
	}
}

func TestLastTradeByPlayer(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	last, err := ms.LastTradeByPlayer(ctx, "p1")
	if err != nil || last != nil {
		t.Fatalf("expected (nil, nil) for no trades, got %v %v", last, err)
	}

	base := time.Now().UTC()
	for i, at := range []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Minute)} {
		tr := &model.Trade{
			ID: string(rune('a' + i)), PlayerID: "p1", Symbol: "A",
			Side: model.SideBuy, Quantity: 1, Price: 100, CreatedAt: at,
		}
		if err := ms.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	last, _ = ms.LastTradeByPlayer(ctx, "p1")
	if last == nil || !last.CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("expected the newest trade, got %+v", last)
	}
}

func TestExpireCardGrants(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	expired := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	grants := []*model.CardGrant{
		{PlayerID: "p1", CardID: "hide-prices", Purchased: true, Active: true, ExpiresAt: &expired},
		{PlayerID: "p2", CardID: "hide-prices", Purchased: true, Active: true, ExpiresAt: &future},
		{PlayerID: "p3", CardID: "anonymous-trade", Purchased: true, Active: true},
	}
	for _, g := range grants {
		if err := ms.UpsertCardGrant(ctx, g); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	swept, err := ms.ExpireCardGrants(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("expected 1 swept, got %d", swept)
	}

	g1, _ := ms.GetCardGrant(ctx, "p1", "hide-prices")
	if g1.Active {
		t.Error("expired grant should be inactive")
	}
	g2, _ := ms.GetCardGrant(ctx, "p2", "hide-prices")
	if !g2.Active {
		t.Error("future grant should stay active")
	}
	g3, _ := ms.GetCardGrant(ctx, "p3", "anonymous-trade")
	if !g3.Active {
		t.Error("grant without expiry should stay active")
	}
}
