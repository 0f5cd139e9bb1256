package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"agentcore/internal/orchestrator"
	"agentcore/internal/queue"
)

// OrchestratorFactory builds (or rebuilds) the Orchestrator for a given
// session ID. Session-scoped state — working-state key, session ID,
// context window — is the factory's concern; the collaborators it wires
// (Planner, Scheduler, WorkingState Store, Hooks) are typically shared
// singletons closed over by the factory.
type OrchestratorFactory func(sessionID string) *orchestrator.Orchestrator

// TurnHandler serves the turn-submission endpoints. One Orchestrator is
// kept alive per session so conversation history survives across
// requests; Producer, when set, lets /turns/async hand work to
// internal/queue instead of running it inline.
type TurnHandler struct {
	Factory  OrchestratorFactory
	Producer queue.Producer

	mu            sync.Mutex
	orchestrators map[string]*orchestrator.Orchestrator
}

// NewTurnHandler builds a TurnHandler. producer may be nil if async
// submission isn't wired up.
func NewTurnHandler(factory OrchestratorFactory, producer queue.Producer) *TurnHandler {
	return &TurnHandler{
		Factory:       factory,
		Producer:      producer,
		orchestrators: make(map[string]*orchestrator.Orchestrator),
	}
}

func (h *TurnHandler) forSession(sessionID string) *orchestrator.Orchestrator {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.orchestrators[sessionID]; ok {
		return o
	}
	o := h.Factory(sessionID)
	h.orchestrators[sessionID] = o
	return o
}

// HandleTurn runs a turn synchronously and returns the synthesized reply.
func (h *TurnHandler) HandleTurn(c *gin.Context) {
	sessionID := c.Param("session_id")
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o := h.forSession(sessionID)
	result, err := o.HandleTurn(c.Request.Context(), req.Input)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "turn handling failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to handle turn"})
		return
	}

	c.JSON(http.StatusOK, TurnResponse{Reply: result.Reply, Warnings: result.Warnings})
}

// HandleTurnAsync enqueues a turn for a worker to process and returns
// immediately. Requires Producer to be configured.
func (h *TurnHandler) HandleTurnAsync(c *gin.Context) {
	if h.Producer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async submission not configured"})
		return
	}

	sessionID := c.Param("session_id")
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := queue.TurnMessage{SessionID: sessionID, UserInput: req.Input, Attempt: 1}
	if err := h.Producer.Enqueue(c.Request.Context(), msg); err != nil {
		slog.ErrorContext(c.Request.Context(), "turn enqueue failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue turn"})
		return
	}

	c.JSON(http.StatusAccepted, EnqueuedResponse{ID: uuid.NewString()})
}

// EndSession runs the Orchestrator's end-of-session hook and drops it
// from the handler's live set.
func (h *TurnHandler) EndSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	h.mu.Lock()
	o, ok := h.orchestrators[sessionID]
	delete(h.orchestrators, sessionID)
	h.mu.Unlock()

	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	if err := o.EndSession(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end session"})
		return
	}
	c.Status(http.StatusNoContent)
}
