package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agentcore/internal/eventbus"
)

// EventStreamHandler streams Event Bus activity for one session over
// SSE, so a UI can watch agent progress live instead of polling.
type EventStreamHandler struct {
	Bus *eventbus.Bus
}

func NewEventStreamHandler(bus *eventbus.Bus) *EventStreamHandler {
	return &EventStreamHandler{Bus: bus}
}

var streamedChannels = []eventbus.Channel{
	eventbus.ChannelAgentStart,
	eventbus.ChannelAgentComplete,
	eventbus.ChannelAgentError,
	eventbus.ChannelTokenUsage,
	eventbus.ChannelToolBefore,
	eventbus.ChannelToolAfter,
}

// Stream handles GET /sessions/:session_id/events.
func (h *EventStreamHandler) Stream(c *gin.Context) {
	if h.Bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not configured"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	setSSEHeaders(c.Writer)

	events := make(chan eventbus.Event, 64)
	var subs []*eventbus.Subscription
	for _, ch := range streamedChannels {
		channel := ch
		subs = append(subs, h.Bus.Subscribe(channel, func(e eventbus.Event) {
			select {
			case events <- e:
			default:
			}
		}))
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
		close(events)
	}()

	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			sseWrite(c.Writer, string(e.Channel), e.Payload)
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
