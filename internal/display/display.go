// Package display publishes advisory facility state to Redis for signage and
// dashboards. The core never reads it back; losing a publish loses nothing
// but a display refresh.
package display

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	availableKey  = "parking:available"
	eventsChannel = "parking:events"
)

// Board mirrors committed availability counts and gate announcements into
// Redis. A nil client turns every method into a no-op, matching how the rest
// of the system tolerates a missing Redis.
type Board struct {
	redis *redis.Client
}

func NewBoard(client *redis.Client) *Board {
	return &Board{redis: client}
}

type event struct {
	Kind      string `json:"kind"`
	Message   string `json:"message,omitempty"`
	Available int    `json:"available,omitempty"`
	Timestamp string `json:"timestamp"`
}

// AvailableChanged stores the fresh count and pushes an event. Implements
// services.AvailabilityNotifier.
func (b *Board) AvailableChanged(ctx context.Context, available int) {
	if b.redis == nil {
		return
	}
	if err := b.redis.Set(ctx, availableKey, strconv.Itoa(available), 0).Err(); err != nil {
		log.Printf("[DISPLAY] Failed to update available count: %v", err)
		return
	}
	b.publish(ctx, event{Kind: "availability", Available: available})
}

// Announce pushes a gate message to the board. Implements gate.Announcer.
func (b *Board) Announce(ctx context.Context, message string) {
	if b.redis == nil {
		return
	}
	b.publish(ctx, event{Kind: "gate", Message: message})
}

func (b *Board) publish(ctx context.Context, ev event) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, _ := json.Marshal(ev)
	if err := b.redis.Publish(ctx, eventsChannel, string(data)).Err(); err != nil {
		log.Printf("[DISPLAY] Failed to publish event: %v", err)
	}
}
