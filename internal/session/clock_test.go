package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/session"
	"github.com/uenogami/stock-trading-game/internal/store"
)

func TestClock_NotStartedBeforeFirstTrade(t *testing.T) {
	clock := session.NewClock(60 * time.Minute)
	now := time.Now().UTC()
	clock.Sync(time.Time{}, now, now)

	if _, started := clock.ElapsedAt(now); started {
		t.Error("expected not started with zero session start")
	}
	if phase := clock.PhaseAt(now); phase != session.PhaseNotStarted {
		t.Errorf("expected not_started, got %s", phase)
	}
}

func TestClock_ElapsedAdvancesLocally(t *testing.T) {
	clock := session.NewClock(60 * time.Minute)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	serverNow := start.Add(10 * time.Minute)
	readAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC) // local wall clock, offset from server

	clock.Sync(start, serverNow, readAt)

	// At the instant of the reading, elapsed is exactly the server delta.
	elapsed, started := clock.ElapsedAt(readAt)
	if !started {
		t.Fatal("expected started")
	}
	if elapsed != 10*time.Minute {
		t.Errorf("expected 10m, got %s", elapsed)
	}

	// 90 seconds later, the local term carries it forward.
	elapsed, _ = clock.ElapsedAt(readAt.Add(90 * time.Second))
	if elapsed != 10*time.Minute+90*time.Second {
		t.Errorf("expected 11m30s, got %s", elapsed)
	}
}

func TestClock_NegativeElapsedClampsToZero(t *testing.T) {
	clock := session.NewClock(60 * time.Minute)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// The reading races the first trade: serverNow slightly before start.
	clock.Sync(start, start.Add(-2*time.Second), start)

	elapsed, started := clock.ElapsedAt(start)
	if !started {
		t.Fatal("expected started")
	}
	if elapsed != 0 {
		t.Errorf("expected clamp to 0, got %s", elapsed)
	}
}

func TestClock_Phases(t *testing.T) {
	clock := session.NewClock(60 * time.Minute)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.Sync(start, start, start)

	if phase := clock.PhaseAt(start.Add(30 * time.Minute)); phase != session.PhaseInProgress {
		t.Errorf("expected in_progress, got %s", phase)
	}
	if phase := clock.PhaseAt(start.Add(60 * time.Minute)); phase != session.PhaseEnded {
		t.Errorf("expected ended at exactly the duration, got %s", phase)
	}
	if phase := clock.PhaseAt(start.Add(2 * time.Hour)); phase != session.PhaseEnded {
		t.Errorf("expected ended, got %s", phase)
	}
}

func TestClock_GenerationBumpsOnReset(t *testing.T) {
	clock := session.NewClock(60 * time.Minute)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(time.Minute)

	clock.Sync(start, now, now)
	gen := clock.Generation()

	// Same start again: no bump.
	clock.Sync(start, now.Add(30*time.Second), now.Add(30*time.Second))
	if clock.Generation() != gen {
		t.Error("generation should not change for the same session start")
	}

	// Ledger reset: start disappears, then a new session begins.
	clock.Sync(time.Time{}, now, now)
	if clock.Generation() != gen+1 {
		t.Errorf("expected generation %d after reset, got %d", gen+1, clock.Generation())
	}
	clock.Sync(start.Add(time.Hour), now, now)
	if clock.Generation() != gen+2 {
		t.Errorf("expected generation %d after new session, got %d", gen+2, clock.Generation())
	}
}

func TestClock_SyncFromStore(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	clock := session.NewClock(60 * time.Minute)

	if err := clock.SyncFromStore(ctx, ms); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !clock.SessionStart().IsZero() {
		t.Error("expected zero session start with empty ledger")
	}

	first := time.Now().UTC().Add(-5 * time.Minute)
	trade := &model.Trade{PlayerID: "p1", Symbol: "A", Side: model.SideBuy, Quantity: 1, Price: 100, CreatedAt: first}
	if err := ms.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("seed trade: %v", err)
	}

	if err := clock.SyncFromStore(ctx, ms); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !clock.SessionStart().Equal(first) {
		t.Errorf("expected session start %s, got %s", first, clock.SessionStart())
	}
	elapsed, started := clock.ElapsedAt(time.Now().UTC())
	if !started || elapsed < 4*time.Minute {
		t.Errorf("expected ≈5m elapsed, got %s (started=%v)", elapsed, started)
	}
}
