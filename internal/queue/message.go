// Package queue implements the Redis-backed session-turn queue between
// the HTTP ingress and the worker process driving the Orchestrator
// (SPEC_FULL.md's supplemented feature set, grounded on the teacher's
// own queue/consumer/producer split). Every message is one user turn
// waiting to be handed to an orchestrator.Orchestrator.
package queue

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// TurnMessage is one session turn in flight through the queue.
type TurnMessage struct {
	ID        string // the Redis stream entry ID
	SessionID string
	UserInput string
	Attempt   int
	TraceID   string
	Raw       redis.XMessage
}

// ParseMessage decodes a raw Redis stream entry into a TurnMessage,
// rejecting anything missing the fields a turn can't be processed
// without.
func ParseMessage(msg redis.XMessage) (TurnMessage, error) {
	sessionID, err := parseString(msg.Values, "session_id")
	if err != nil {
		return TurnMessage{}, err
	}
	userInput, err := parseString(msg.Values, "user_input")
	if err != nil {
		return TurnMessage{}, err
	}
	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return TurnMessage{}, err
	}
	if attempt == 0 {
		attempt = 1
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return TurnMessage{}, err
	}

	return TurnMessage{
		ID:        msg.ID,
		SessionID: sessionID,
		UserInput: userInput,
		Attempt:   attempt,
		TraceID:   traceID,
		Raw:       msg,
	}, nil
}

func messageValues(msg TurnMessage, attempt int) map[string]any {
	values := map[string]any{
		"session_id": msg.SessionID,
		"user_input": msg.UserInput,
		"attempt":    attempt,
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}
