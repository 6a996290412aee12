package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher публикует события в Redis Stream через XADD.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher создаёт издателя. maxLen > 0 включает приблизительную обрезку стрима.
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":       event.Type,
			"payment_id": event.PaymentID.String(),
			"payload":    payload,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("events: redis xadd: %w", err)
	}
	return nil
}
