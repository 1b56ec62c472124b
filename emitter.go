package pancake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusEvent is one customer-facing status update. Events are
// best-effort: a dropped event never fails or delays a run.
type StatusEvent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	OrderID string `json:"order_id"`
}

// StatusEmitter broadcasts status events to interested subscribers.
type StatusEmitter interface {
	Emit(ctx context.Context, event StatusEvent) error
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit does nothing for NopEmitter.
func (NopEmitter) Emit(ctx context.Context, event StatusEvent) error {
	return nil
}

// Ensure NopEmitter implements StatusEmitter.
var _ StatusEmitter = NopEmitter{}

// DefaultStatusChannel is the Redis pub/sub channel for order status.
const DefaultStatusChannel = "orders"

// RedisEmitter publishes status events to a Redis pub/sub channel as
// JSON. Subscribers that are offline miss events; that is acceptable for
// a live status feed.
type RedisEmitter struct {
	client  *redis.Client
	channel string
}

// NewRedisEmitter creates an emitter on an established client.
// channel defaults to DefaultStatusChannel if empty.
func NewRedisEmitter(client *redis.Client, channel string) *RedisEmitter {
	if channel == "" {
		channel = DefaultStatusChannel
	}
	return &RedisEmitter{client: client, channel: channel}
}

// Emit publishes one event.
func (e *RedisEmitter) Emit(ctx context.Context, event StatusEvent) error {
	if event.OrderID == "" {
		return fmt.Errorf("status event without order id")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := e.client.Publish(ctx, e.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", e.channel, err)
	}
	return nil
}

// Ensure RedisEmitter implements StatusEmitter.
var _ StatusEmitter = (*RedisEmitter)(nil)
