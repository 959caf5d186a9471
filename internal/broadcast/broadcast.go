// Package broadcast fans fetched job batches out to connected consumers
// over Redis Pub/Sub. Delivery is fire-and-forget: a batch published while
// no consumer is subscribed is simply dropped.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/applyhq/applypilot/internal/cache"
	"github.com/applyhq/applypilot/pkg/models"
)

// Stats summarizes one fetch cycle for consumers.
type Stats struct {
	Count     int       `json:"count"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Envelope is the message published on a user's channel.
type Envelope struct {
	Jobs  []models.Job `json:"jobs"`
	Stats Stats        `json:"stats"`
}

// Broadcaster delivers a fetched batch to one user's subscribers.
// Publish returns the number of subscribers that received the message.
type Broadcaster interface {
	Publish(ctx context.Context, userID uuid.UUID, jobs []models.Job, stats Stats) (int, error)
}

// RedisBroadcaster implements Broadcaster on Redis Pub/Sub. Each user gets
// their own channel so consumers never see another user's batches.
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, userID uuid.UUID, jobs []models.Job, stats Stats) (int, error) {
	payload, err := json.Marshal(Envelope{Jobs: jobs, Stats: stats})
	if err != nil {
		return 0, fmt.Errorf("encoding broadcast envelope: %w", err)
	}

	received, err := b.client.Publish(ctx, cache.UserChannelKey(userID), payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publishing to redis: %w", err)
	}
	return int(received), nil
}

// Subscribe opens a subscription on the user's channel. Callers own the
// returned PubSub and must Close it.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, userID uuid.UUID) *redis.PubSub {
	return b.client.Subscribe(ctx, cache.UserChannelKey(userID))
}
