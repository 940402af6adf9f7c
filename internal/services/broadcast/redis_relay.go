package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"room-panel/internal/middleware"
	"room-panel/internal/models"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// RedisRelay fans writes out across server replicas. Publish goes to a
// Redis channel; Run subscribes to it and hands every message to the local
// hub, so each replica delivers each write exactly once, its own included.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, hub: hub}
}

// Publish sends v through Redis. If Redis is down, or no Run loop is
// subscribed yet, it is delivered to this replica's sessions directly; other
// replicas' clients catch up by polling.
func (r *RedisRelay) Publish(ctx context.Context, v models.VersionedDocument) error {
	message, err := EncodeUpdate(v)
	if err != nil {
		return err
	}

	ctx, span := middleware.StartSpan(ctx, "RedisRelay.Publish",
		attribute.String("redis.channel", r.channel),
		attribute.Int64("document.updated_at", v.UpdatedAt),
	)
	defer span.End()

	receivers, err := r.client.Publish(ctx, r.channel, message).Result()
	if err != nil {
		log.Printf("⚠️  Error publishing to Redis, delivering locally: %v", err)
		middleware.AddSpanError(ctx, err)
		r.hub.Deliver(message)
		return nil
	}
	// nobody subscribed, not even this replica's Run loop
	if receivers == 0 {
		log.Printf("⚠️  No relay subscribers on %s, delivering locally", r.channel)
		middleware.AddSpanEvent(ctx, "relay.no_subscribers")
		r.hub.Deliver(message)
	}
	return nil
}

// Run relays messages from Redis to the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	log.Printf("✓ Relaying change channel through Redis channel %s", r.channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var decoded models.ChannelMessage
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				log.Printf("⚠️  Dropping malformed relay message: %v", err)
				continue
			}
			r.hub.Deliver([]byte(msg.Payload))
		}
	}
}
