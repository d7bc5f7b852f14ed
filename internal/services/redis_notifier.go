package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes events to a pub/sub channel consumed by the websocket fan-out.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (r *RedisNotifier) PaymentStatusChanged(ctx context.Context, e PaymentEvent) error {
	return r.publish(ctx, e)
}

func (r *RedisNotifier) LowBalance(ctx context.Context, e LowBalanceEvent) error {
	return r.publish(ctx, e)
}

func (r *RedisNotifier) publish(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
