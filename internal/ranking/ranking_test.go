package ranking_test

import (
	"context"
	"testing"
	"time"

	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/ranking"
	"github.com/uenogami/stock-trading-game/internal/store"
)

func player(id, name string, cash int64, holdings map[string]int64, createdAt time.Time) model.Player {
	return model.Player{ID: id, Name: name, Cash: cash, Holdings: holdings, CreatedAt: createdAt}
}

func TestTotalAsset(t *testing.T) {
	p := player("p1", "alice", 1000, map[string]int64{"A": 10, "B": 5}, time.Now())
	prices := map[string]int64{"A": 100, "B": 200}

	if got := ranking.TotalAsset(&p, prices); got != 1000+10*100+5*200 {
		t.Errorf("expected 3000, got %d", got)
	}
}

func TestCompute_SortsByAssetDescending(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	players := []model.Player{
		player("p1", "alice", 1000, nil, base),
		player("p2", "bob", 3000, nil, base.Add(time.Minute)),
		player("p3", "carol", 2000, nil, base.Add(2*time.Minute)),
	}

	entries := ranking.Compute(players, nil)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{"bob", "carol", "alice"}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("rank %d: expected %s, got %s", i+1, name, entries[i].Name)
		}
		if entries[i].Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, entries[i].Rank)
		}
	}
}

func TestCompute_TieGoesToEarlierAccount(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	players := []model.Player{
		player("late", "bob", 5000, nil, base.Add(time.Hour)),
		player("early", "alice", 5000, nil, base),
	}

	entries := ranking.Compute(players, nil)
	if entries[0].PlayerID != "early" {
		t.Errorf("expected earlier account to win the tie, got %s", entries[0].PlayerID)
	}
}

func TestCompute_DedupesByNameKeepingNewest(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	players := []model.Player{
		player("stale", "alice", 9000, nil, base),
		player("fresh", "alice", 1000, nil, base.Add(time.Minute)),
		player("p3", "bob", 5000, nil, base),
	}

	entries := ranking.Compute(players, nil)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after dedupe, got %d", len(entries))
	}
	for _, e := range entries {
		if e.PlayerID == "stale" {
			t.Error("stale duplicate account should have been dropped")
		}
	}
	// The surviving alice has 1000, so bob leads.
	if entries[0].Name != "bob" {
		t.Errorf("expected bob first, got %s", entries[0].Name)
	}
}

func TestNeighborGaps(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []model.Player{
		player("p1", "alice", 3000, nil, base),
		player("p2", "bob", 2000, nil, base),
		player("p3", "carol", 500, nil, base),
	} {
		p.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := ms.CreatePlayer(ctx, &p); err != nil {
			t.Fatalf("seed player: %v", err)
		}
	}

	svc := ranking.NewService(ms)
	n, err := svc.NeighborGaps(ctx, "p2")
	if err != nil {
		t.Fatalf("neighbor gaps: %v", err)
	}
	if n.Rank != 2 {
		t.Errorf("expected rank 2, got %d", n.Rank)
	}
	if n.GapAbove == nil || *n.GapAbove != 1000 {
		t.Errorf("expected gap above 1000, got %v", n.GapAbove)
	}
	if n.GapBelow == nil || *n.GapBelow != 1500 {
		t.Errorf("expected gap below 1500, got %v", n.GapBelow)
	}

	// Top of the table has no one above.
	top, err := svc.NeighborGaps(ctx, "p1")
	if err != nil {
		t.Fatalf("neighbor gaps: %v", err)
	}
	if top.GapAbove != nil {
		t.Error("rank 1 should have no gap above")
	}

	if _, err := svc.NeighborGaps(ctx, "ghost"); err == nil {
		t.Error("expected error for unknown player")
	}
}
