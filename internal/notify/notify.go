// Package notify fans out change events to connected clients. The browser
// frontend polls most endpoints; notifications exist so it can refresh
// immediately after a trade, timeline post, or scheduled event instead of
// waiting for the next poll tick.
package notify

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Event kinds.
const (
	KindTrade    = "trade"
	KindQuote    = "quote"
	KindTimeline = "timeline"
	KindPlayer   = "player"
	KindSession  = "session-event"
)

// Event is one change notification pushed to clients.
type Event struct {
	Kind     string `json:"kind"`
	Symbol   string `json:"symbol,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Price    int64  `json:"price,omitempty"`
	Volume   int64  `json:"volume,omitempty"`
}

// Notifier delivers change events. Implementations must never block the
// caller: trade execution fires events on its hot path.
type Notifier interface {
	Notify(e Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Notify(Event) {}

// Multi fans one event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// RedisPublisher publishes events to a Redis channel so other server
// instances can forward them to their own WebSocket clients.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on the given channel.
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Notify(e Event) {
	// Fire and forget; a lost pub costs one poll interval of staleness.
	go func() {
		if err := p.rdb.Publish(context.Background(), p.channel, encode(e)).Err(); err != nil {
			slog.Warn("notify publish failed", "kind", e.Kind, "err", err)
		}
	}()
}
