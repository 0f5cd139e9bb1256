package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"agentcore/internal/eventbus"
	"agentcore/internal/queue"
)

// Config carries the router's ambient tunables.
type Config struct {
	ServiceName string
}

// NewRouter builds the gin engine: health check, turn submission
// (sync + async), session teardown, and a live event stream.
func NewRouter(cfg Config, factory OrchestratorFactory, producer queue.Producer, bus *eventbus.Bus) *gin.Engine {
	router := gin.New()
	router.Use(Recovery(), Logger())
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	turnHandler := NewTurnHandler(factory, producer)
	streamHandler := NewEventStreamHandler(bus)

	sessions := router.Group("/api/v1/sessions/:session_id")
	{
		sessions.POST("/turns", turnHandler.HandleTurn)
		sessions.POST("/turns/async", turnHandler.HandleTurnAsync)
		sessions.GET("/events", streamHandler.Stream)
		sessions.DELETE("", turnHandler.EndSession)
	}

	return router
}
