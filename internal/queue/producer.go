package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Producer enqueues a session turn for a worker to pick up.
type Producer interface {
	Enqueue(ctx context.Context, msg TurnMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

// NewRedisProducer builds a Producer that XAdds to stream.
func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{client: client, stream: stream}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg TurnMessage) error {
	if msg.Attempt == 0 {
		msg.Attempt = 1
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: messageValues(msg, msg.Attempt),
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
