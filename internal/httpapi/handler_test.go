package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentcore/internal/domain"
	"agentcore/internal/executor"
	"agentcore/internal/httpapi"
	"agentcore/internal/llm"
	"agentcore/internal/orchestrator"
	"agentcore/internal/permission"
	"agentcore/internal/planner"
	"agentcore/internal/queue"
	"agentcore/internal/scheduler"
	"agentcore/internal/tools"
)

type stubClient struct {
	content string
}

func (c *stubClient) Model() string { return "test-model" }

func (c *stubClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	return &llm.AgentResponse{Content: c.content, FinishReason: "stop"}, nil
}

func newTestOrchestrator(directAnswer string) *orchestrator.Orchestrator {
	pl := planner.NewPlanner(&stubClient{content: directAnswer})
	reg := tools.NewRegistry(tools.AutoApprove)
	loop := executor.New(reg, nil, nil, nil, permission.ModeAuto, 0)
	sch := scheduler.NewScheduler(loop, map[domain.AgentKind]scheduler.KindRunner{}, false)
	return orchestrator.New(orchestrator.Config{}, pl, sch, nil, nil, nil)
}

type fakeProducer struct {
	enqueued []queue.TurnMessage
	err      error
}

func (p *fakeProducer) Enqueue(ctx context.Context, msg queue.TurnMessage) error {
	if p.err != nil {
		return p.err
	}
	p.enqueued = append(p.enqueued, msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

var _ = Describe("TurnHandler", func() {
	var (
		router   *gin.Engine
		producer *fakeProducer
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		producer = &fakeProducer{}
		factory := func(sessionID string) *orchestrator.Orchestrator {
			return newTestOrchestrator("handled directly: " + sessionID)
		}
		router = httpapi.NewRouter(httpapi.Config{}, factory, producer, nil)
	})

	It("runs a turn synchronously and returns the reply", func() {
		body, _ := json.Marshal(httpapi.TurnRequest{Input: "what changed?"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/turns", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp httpapi.TurnResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Reply).To(ContainSubstring("sess-1"))
	})

	It("returns 400 for a malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-1/turns", bytes.NewBufferString(`{`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("enqueues a turn asynchronously", func() {
		body, _ := json.Marshal(httpapi.TurnRequest{Input: "do it later"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-2/turns/async", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(producer.enqueued).To(HaveLen(1))
		Expect(producer.enqueued[0].SessionID).To(Equal("sess-2"))
		Expect(producer.enqueued[0].UserInput).To(Equal("do it later"))
	})

	It("returns 503 for async submission when no producer is configured", func() {
		factory := func(sessionID string) *orchestrator.Orchestrator { return newTestOrchestrator("ok") }
		noProducerRouter := httpapi.NewRouter(httpapi.Config{}, factory, nil, nil)

		body, _ := json.Marshal(httpapi.TurnRequest{Input: "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-3/turns/async", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		noProducerRouter.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("reuses the same orchestrator across turns in a session", func() {
		var built int
		factory := func(sessionID string) *orchestrator.Orchestrator {
			built++
			return newTestOrchestrator("reply")
		}
		r := httpapi.NewRouter(httpapi.Config{}, factory, nil, nil)

		for i := 0; i < 2; i++ {
			body, _ := json.Marshal(httpapi.TurnRequest{Input: "hi"})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-4/turns", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		}

		Expect(built).To(Equal(1))
	})

	It("returns 204 when ending a session", func() {
		body, _ := json.Marshal(httpapi.TurnRequest{Input: "hi"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-5/turns", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))

		delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/sess-5", nil)
		delW := httptest.NewRecorder()
		router.ServeHTTP(delW, delReq)
		Expect(delW.Code).To(Equal(http.StatusNoContent))
	})

	It("returns 500 when the producer errors", func() {
		producer.err = errors.New("redis down")
		body, _ := json.Marshal(httpapi.TurnRequest{Input: "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-6/turns/async", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
