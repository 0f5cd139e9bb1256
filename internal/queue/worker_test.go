package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeConsumer struct {
	mu sync.Mutex

	toRead      []TurnMessage
	acked       []string
	requeued    []TurnMessage
	dlqed       []TurnMessage
	maxAttempts int
}

func (f *fakeConsumer) Read(ctx context.Context) ([]TurnMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.toRead
	f.toRead = nil
	return msgs, nil
}

func (f *fakeConsumer) Ack(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeConsumer) Requeue(ctx context.Context, msg TurnMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, msg)
	return nil
}

func (f *fakeConsumer) SendDLQ(ctx context.Context, msg TurnMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlqed = append(f.dlqed, msg)
	return nil
}

func (f *fakeConsumer) MaxAttempts() int { return f.maxAttempts }

func TestProcessSafelyAcksOnSuccess(t *testing.T) {
	t.Parallel()

	fc := &fakeConsumer{maxAttempts: 3}
	w := &Worker{Consumer: fc, Process: func(ctx context.Context, msg TurnMessage) error { return nil }}

	w.processSafely(context.Background(), TurnMessage{ID: "1-0"})

	if len(fc.acked) != 1 || fc.acked[0] != "1-0" {
		t.Fatalf("expected the message to be acked, got %v", fc.acked)
	}
}

func TestProcessSafelyRequeuesRetryableFailureUnderAttemptCeiling(t *testing.T) {
	t.Parallel()

	fc := &fakeConsumer{maxAttempts: 3}
	w := &Worker{Consumer: fc, Process: func(ctx context.Context, msg TurnMessage) error { return errors.New("transient") }}

	w.processSafely(context.Background(), TurnMessage{ID: "1-0", Attempt: 1})

	if len(fc.requeued) != 1 {
		t.Fatalf("expected the message to be requeued, got dlq=%v requeued=%v", fc.dlqed, fc.requeued)
	}
	if len(fc.dlqed) != 0 {
		t.Fatalf("expected no dead lettering, got %v", fc.dlqed)
	}
}

func TestProcessSafelySendsDLQOnceAttemptsExhausted(t *testing.T) {
	t.Parallel()

	fc := &fakeConsumer{maxAttempts: 3}
	w := &Worker{Consumer: fc, Process: func(ctx context.Context, msg TurnMessage) error { return errors.New("still failing") }}

	w.processSafely(context.Background(), TurnMessage{ID: "1-0", Attempt: 3})

	if len(fc.dlqed) != 1 {
		t.Fatalf("expected the message to be dead lettered, got %v", fc.dlqed)
	}
	if len(fc.requeued) != 0 {
		t.Fatalf("expected no requeue once attempts are exhausted, got %v", fc.requeued)
	}
}

func TestProcessSafelySendsDLQImmediatelyForPermanentError(t *testing.T) {
	t.Parallel()

	fc := &fakeConsumer{maxAttempts: 5}
	w := &Worker{Consumer: fc, Process: func(ctx context.Context, msg TurnMessage) error {
		return &PermanentError{Err: errors.New("malformed turn")}
	}}

	w.processSafely(context.Background(), TurnMessage{ID: "1-0", Attempt: 1})

	if len(fc.dlqed) != 1 {
		t.Fatalf("expected an immediate dead letter for a permanent error, got %v", fc.dlqed)
	}
	if len(fc.requeued) != 0 {
		t.Fatalf("expected no requeue for a permanent error, got %v", fc.requeued)
	}
}

func TestProcessSafelyRecoversFromPanic(t *testing.T) {
	t.Parallel()

	fc := &fakeConsumer{maxAttempts: 3}
	w := &Worker{Consumer: fc, Process: func(ctx context.Context, msg TurnMessage) error {
		panic("boom")
	}}

	w.processSafely(context.Background(), TurnMessage{ID: "1-0", Attempt: 1})

	if len(fc.requeued) != 1 {
		t.Fatalf("expected a panic to be treated as a retryable failure, got requeued=%v dlq=%v", fc.requeued, fc.dlqed)
	}
}
