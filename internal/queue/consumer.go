package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConsumerConfig configures a RedisConsumer's stream, group, and retry
// behavior.
type ConsumerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	DLQStream string

	BatchSize int64
	Block     time.Duration

	MaxAttempts  int
	RequeueDelay time.Duration
}

// RedisConsumer reads TurnMessages off a Redis stream consumer group,
// acking, requeuing, or dead-lettering them as a Worker directs.
type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

// NewRedisConsumer builds a RedisConsumer and ensures its consumer group
// exists, tolerating the case where a previous process already created it.
func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	c := &RedisConsumer{client: client, cfg: cfg}
	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: ensure group: %w", err)
	}
	return nil
}

// Read pulls up to BatchSize pending TurnMessages for this consumer,
// blocking up to Block when the stream is empty. Entries that fail to
// parse are acked immediately — replaying a malformed entry forever would
// only wedge the consumer group.
func (c *RedisConsumer) Read(ctx context.Context) ([]TurnMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read: %w", err)
	}

	var out []TurnMessage
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, parseErr := ParseMessage(raw)
			if parseErr != nil {
				_ = c.Ack(ctx, raw.ID)
				continue
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

// Ack acknowledges a successfully processed (or unprocessable) entry.
func (c *RedisConsumer) Ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

// Requeue acks the current entry and re-adds it with Attempt+1, optionally
// after RequeueDelay.
func (c *RedisConsumer) Requeue(ctx context.Context, msg TurnMessage) error {
	return c.RequeueWithAttempt(ctx, msg, msg.Attempt+1)
}

// RequeueWithAttempt is Requeue with an explicit attempt count.
func (c *RedisConsumer) RequeueWithAttempt(ctx context.Context, msg TurnMessage, attempt int) error {
	if err := c.Ack(ctx, msg.ID); err != nil {
		return err
	}
	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: messageValues(msg, attempt),
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: requeue: %w", err)
	}
	return nil
}

// SendDLQ acks the current entry and adds it, unchanged, to the dead
// letter stream for manual inspection.
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg TurnMessage) error {
	if err := c.Ack(ctx, msg.ID); err != nil {
		return err
	}
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: messageValues(msg, msg.Attempt),
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: send dlq: %w", err)
	}
	return nil
}
