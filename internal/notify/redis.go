package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/taskhub/escrow/internal/model"
)

const defaultQueue = "notification_queue"

// RedisEmitter pushes events onto a Redis list consumed by the delivery
// worker (push/email). Delivery downstream is at-least-once; the core does
// not retry on its behalf.
type RedisEmitter struct {
	client *redis.Client
	queue  string
}

func NewRedisEmitter(client *redis.Client, queue string) *RedisEmitter {
	if queue == "" {
		queue = defaultQueue
	}
	return &RedisEmitter{client: client, queue: queue}
}

func (r *RedisEmitter) Emit(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.LPush(ctx, r.queue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}
