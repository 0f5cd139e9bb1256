package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentcore/internal/eventbus"
	"agentcore/internal/httpapi"
)

var _ = Describe("EventStreamHandler", func() {
	It("writes a ready ping and then streams published events", func() {
		gin.SetMode(gin.TestMode)
		bus := eventbus.New()
		handler := httpapi.NewEventStreamHandler(bus)

		router := gin.New()
		router.GET("/events", handler.Stream)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
		w := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			router.ServeHTTP(w, req)
			close(done)
		}()

		time.Sleep(20 * time.Millisecond)
		bus.Publish(eventbus.Event{Channel: eventbus.ChannelAgentStart, Payload: map[string]string{"agent": "search"}})

		<-done

		Expect(w.Body.String()).To(ContainSubstring("event: ping"))
		Expect(w.Body.String()).To(ContainSubstring("event: agent:start"))
	})

	It("returns 503 when no bus is configured", func() {
		gin.SetMode(gin.TestMode)
		handler := httpapi.NewEventStreamHandler(nil)
		router := gin.New()
		router.GET("/events", handler.Stream)

		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
