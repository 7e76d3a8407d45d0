package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uenogami/stock-trading-game/internal/cards"
	"github.com/uenogami/stock-trading-game/internal/metrics"
	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/notify"
	"github.com/uenogami/stock-trading-game/internal/store"
)

// casRetries bounds the optimistic-update loop in bulk cash mutations.
const casRetries = 3

// Event is one scheduled session event. Marker doubles as the system
// timeline post announcing the event and as its idempotency key: the
// conditional insert of the marker is the lock, so the event's side
// effects run at most once per session no matter how many actors race.
type Event struct {
	Name   string
	At     time.Duration
	Marker string

	// Apply runs the side effects after the marker lands. Nil for
	// announce-only events. A partial failure is reported to the caller
	// but never rolled back; the marker stays.
	Apply func(ctx context.Context, s *Scheduler) error
}

// Scheduler fires scheduled events once their session time arrives.
type Scheduler struct {
	store    store.Store
	clock    *Clock
	cards    *cards.Engine
	notifier notify.Notifier
	events   []Event
}

// NewScheduler creates a scheduler over the given timetable.
func NewScheduler(st store.Store, clock *Clock, engine *cards.Engine, notifier notify.Notifier, events []Event) *Scheduler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{
		store:    st,
		clock:    clock,
		cards:    engine,
		notifier: notifier,
		events:   events,
	}
}

// DefaultTimetable is the standard 60-minute session: staged ranking
// reveals, a mid-game cash bonus, and final settlement.
func DefaultTimetable() []Event {
	return []Event{
		{
			Name:   "rank-check",
			At:     10 * time.Minute,
			Marker: "Rank check is now open: see your own rank",
		},
		{
			Name:   "rank-gap",
			At:     20 * time.Minute,
			Marker: "Rank check is now open: see the asset gap to adjacent ranks",
		},
		{
			Name:   "rank-overall",
			At:     30 * time.Minute,
			Marker: "Rank check is now open: see the overall standings (assets hidden)",
		},
		{
			Name:   "cash-bonus",
			At:     40 * time.Minute,
			Marker: "Cash ×1.2 bonus event has fired",
			Apply:  applyCashBonus,
		},
		{
			Name:   "rank-final-preview",
			At:     50 * time.Minute,
			Marker: "Rank check is now open: see your rank and the gap to adjacent ranks",
		},
		{
			Name:   "game-end",
			At:     60 * time.Minute,
			Marker: "Game over",
			Apply:  applyGameEnd,
		},
	}
}

// Events returns the timetable.
func (s *Scheduler) Events() []Event {
	return s.events
}

// FireDue fires every event whose session time has passed and has not
// yet been applied. Returns the names of events newly applied this call.
func (s *Scheduler) FireDue(ctx context.Context, now time.Time) ([]string, error) {
	if err := s.clock.SyncFromStore(ctx, s.store); err != nil {
		return nil, err
	}
	elapsed, started := s.clock.ElapsedAt(now)
	if !started {
		return nil, nil
	}

	var fired []string
	var errs []error
	for i := range s.events {
		ev := &s.events[i]
		if elapsed < ev.At {
			continue
		}
		applied, err := s.fire(ctx, ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.Name, err))
			continue
		}
		if applied {
			fired = append(fired, ev.Name)
		}
	}
	return fired, errors.Join(errs...)
}

// Fire fires one event by name, for the manual trigger endpoint. The
// event's session time must have been reached; an already-applied event
// is a no-op success.
func (s *Scheduler) Fire(ctx context.Context, name string, now time.Time) error {
	var ev *Event
	for i := range s.events {
		if s.events[i].Name == name {
			ev = &s.events[i]
			break
		}
	}
	if ev == nil {
		return fmt.Errorf("event %s: %w", name, model.ErrNotFound)
	}

	if err := s.clock.SyncFromStore(ctx, s.store); err != nil {
		return err
	}
	elapsed, started := s.clock.ElapsedAt(now)
	if !started || elapsed < ev.At {
		return fmt.Errorf("event %s: %w", name, model.ErrSessionNotReached)
	}

	_, err := s.fire(ctx, ev)
	return err
}

// fire inserts the marker and, if this actor won the insert race, runs
// the side effects. Reports whether the event was newly applied.
func (s *Scheduler) fire(ctx context.Context, ev *Event) (bool, error) {
	since := s.clock.SessionStart().Add(ev.At)
	marker := &model.TimelinePost{
		Author:   model.SystemAuthor,
		Category: model.PostSystem,
		Body:     ev.Marker,
	}
	err := s.store.InsertEventMarker(ctx, marker, since)
	if errors.Is(err, model.ErrAlreadyApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.Info("scheduled event fired", "event", ev.Name)
	metrics.ScheduledEventsFired.WithLabelValues(ev.Name).Inc()
	s.notifier.Notify(notify.Event{Kind: notify.KindSession, Name: ev.Name})

	if ev.Apply == nil {
		return true, nil
	}
	if err := ev.Apply(ctx, s); err != nil {
		return true, err
	}
	return true, nil
}

// Run checks for due events on the given interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.FireDue(ctx, time.Now().UTC()); err != nil {
				slog.Error("scheduled event check failed", "err", err)
			}
		}
	}
}

var cashBonusFactor = decimal.RequireFromString("1.2")

// applyCashBonus multiplies every player's cash by 1.2, rounded down.
// Each player is an independent conditional update; failures are
// collected and surfaced without touching the players that succeeded.
func applyCashBonus(ctx context.Context, s *Scheduler) error {
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for i := range players {
		if err := s.multiplyCash(ctx, players[i].ID, cashBonusFactor); err != nil {
			errs = append(errs, fmt.Errorf("player %s: %w", players[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// applyGameEnd settles cash-multiplier cards: holders who purchased one
// get their cash multiplied by the card's payout factor, rounded down.
func applyGameEnd(ctx context.Context, s *Scheduler) error {
	multipliers, err := s.cards.SettlementMultipliers(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for playerID, m := range multipliers {
		if err := s.multiplyCash(ctx, playerID, m.Factor); err != nil {
			errs = append(errs, fmt.Errorf("player %s: %w", playerID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) multiplyCash(ctx context.Context, playerID string, factor decimal.Decimal) error {
	for attempt := 0; ; attempt++ {
		player, err := s.store.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		player.Cash = decimal.NewFromInt(player.Cash).Mul(factor).Floor().IntPart()
		err = s.store.UpdatePlayer(ctx, player)
		if err == nil {
			s.notifier.Notify(notify.Event{Kind: notify.KindPlayer, PlayerID: playerID})
			return nil
		}
		if errors.Is(err, model.ErrVersionConflict) && attempt < casRetries {
			continue
		}
		return err
	}
}
