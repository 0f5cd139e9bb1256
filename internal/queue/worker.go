package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MessageProcessor handles one dequeued turn. A returned error is treated
// as retryable unless wrapped in a PermanentError.
type MessageProcessor func(ctx context.Context, msg TurnMessage) error

// PermanentError marks a processing failure that retrying will never fix
// (a malformed turn, a rejected session) — it goes straight to the dead
// letter stream regardless of remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// consumer is the slice of RedisConsumer a Worker actually drives — narrow
// enough that tests can substitute an in-memory fake instead of a live
// Redis connection.
type consumer interface {
	Read(ctx context.Context) ([]TurnMessage, error)
	Ack(ctx context.Context, id string) error
	Requeue(ctx context.Context, msg TurnMessage) error
	SendDLQ(ctx context.Context, msg TurnMessage) error
	MaxAttempts() int
}

// MaxAttempts returns the configured retry ceiling for this consumer.
func (c *RedisConsumer) MaxAttempts() int { return c.cfg.MaxAttempts }

// Worker polls a consumer in a loop, handing each TurnMessage to a
// MessageProcessor and deciding whether a failure gets requeued or
// dead-lettered.
type Worker struct {
	Consumer  consumer
	Process   MessageProcessor
	PollDelay time.Duration
}

// NewWorker builds a Worker with a sane default poll delay.
func NewWorker(consumer *RedisConsumer, process MessageProcessor) *Worker {
	return &Worker{Consumer: consumer, Process: process, PollDelay: time.Second}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messages, err := w.Consumer.Read(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "queue read failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.PollDelay):
			}
			continue
		}

		if len(messages) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.PollDelay):
			}
			continue
		}

		for _, msg := range messages {
			w.processSafely(ctx, msg)
		}
	}
}

// processSafely runs Process with panic recovery, so one bad turn can
// never take the whole worker down.
func (w *Worker) processSafely(ctx context.Context, msg TurnMessage) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic processing turn %s: %v", msg.ID, r)
			}
		}()
		return w.Process(ctx, msg)
	}()

	if err != nil {
		w.handleFailure(ctx, msg, err)
		return
	}

	if ackErr := w.Consumer.Ack(ctx, msg.ID); ackErr != nil {
		slog.ErrorContext(ctx, "queue ack failed", "id", msg.ID, "error", ackErr)
	}
	slog.DebugContext(ctx, "turn processed", "id", msg.ID, "duration", time.Since(start))
}

// handleFailure decides whether a failed turn gets another attempt or is
// sent to the dead letter stream.
func (w *Worker) handleFailure(ctx context.Context, msg TurnMessage, procErr error) {
	var permanent *PermanentError
	retryable := !errors.As(procErr, &permanent)

	maxAttempts := w.Consumer.MaxAttempts()
	willRetry := retryable && msg.Attempt < maxAttempts

	slog.ErrorContext(ctx, "turn processing failed", "id", msg.ID, "attempt", msg.Attempt, "willRetry", willRetry, "error", procErr)

	if willRetry {
		if err := w.Consumer.Requeue(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "queue requeue failed", "id", msg.ID, "error", err)
		}
		return
	}

	if err := w.Consumer.SendDLQ(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "queue send dlq failed", "id", msg.ID, "error", err)
	}
}
