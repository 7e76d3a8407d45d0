// Package session tracks game-session timing and drives the scheduled
// in-game events. The session starts implicitly at the first trade ever
// recorded and runs for a fixed duration; there is no explicit start
// button to press or row to flip.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/uenogami/stock-trading-game/internal/store"
)

// Phase is the coarse session state derived from elapsed time.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseEnded      Phase = "ended"
)

// Clock derives elapsed session time from a periodically refreshed
// store reading instead of querying on every call. Between refreshes the
// elapsed value advances on the local monotonic clock:
//
//	elapsed = (serverNow − sessionStart) + (now − readAt)
//
// Negative values (reads racing the first trade) clamp to zero. If a
// refresh observes a different session start — the ledger was reset —
// the generation counter increments so cached per-session state, such
// as fired-event flags, can be invalidated.
type Clock struct {
	mu           sync.RWMutex
	sessionStart time.Time
	serverNow    time.Time
	readAt       time.Time
	generation   uint64
	duration     time.Duration
}

// NewClock creates a clock for a session of the given duration.
func NewClock(duration time.Duration) *Clock {
	return &Clock{duration: duration}
}

// Sync records a fresh (sessionStart, serverNow) observation taken at
// local time readAt. A zero sessionStart means no trades exist yet.
func (c *Clock) Sync(sessionStart, serverNow, readAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sessionStart.Equal(sessionStart) {
		c.generation++
		c.sessionStart = sessionStart
	}
	c.serverNow = serverNow
	c.readAt = readAt
}

// SyncFromStore refreshes the clock from the trade ledger.
func (c *Clock) SyncFromStore(ctx context.Context, st store.Store) error {
	first, err := st.FirstTrade(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if first == nil {
		c.Sync(time.Time{}, now, now)
		return nil
	}
	c.Sync(first.CreatedAt, now, now)
	return nil
}

// SessionStart returns the recorded session start, zero if none.
func (c *Clock) SessionStart() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionStart
}

// Generation returns the reset counter. It changes whenever a refresh
// observes a different session start than the previous one.
func (c *Clock) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// ElapsedAt returns elapsed session time at the given local instant and
// whether the session has started at all.
func (c *Clock) ElapsedAt(now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.sessionStart.IsZero() {
		return 0, false
	}
	elapsed := c.serverNow.Sub(c.sessionStart) + now.Sub(c.readAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, true
}

// PhaseAt returns the session phase at the given instant.
func (c *Clock) PhaseAt(now time.Time) Phase {
	elapsed, started := c.ElapsedAt(now)
	switch {
	case !started:
		return PhaseNotStarted
	case elapsed >= c.duration:
		return PhaseEnded
	default:
		return PhaseInProgress
	}
}

// Duration returns the configured session length.
func (c *Clock) Duration() time.Duration {
	return c.duration
}

// RunResync refreshes the clock from the store on the given interval
// until ctx is cancelled. Refresh failures keep the previous reading;
// the local monotonic term carries elapsed time forward regardless.
func (c *Clock) RunResync(ctx context.Context, st store.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SyncFromStore(ctx, st); err != nil {
				slog.Warn("clock resync failed", "err", err)
			}
		}
	}
}
