package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentcore/internal/domain"
	"agentcore/internal/executor"
	"agentcore/internal/llm"
	"agentcore/internal/permission"
	"agentcore/internal/planner"
	"agentcore/internal/scheduler"
	"agentcore/internal/tools"
	"agentcore/internal/workingstate"
)

func overwriteWorkingStateFile(dir, key, goal string) error {
	path := filepath.Join(dir, key+".json")
	return os.WriteFile(path, []byte(fmt.Sprintf(`{"schemaVersion":1,"goal":%q}`, goal)), 0o600)
}

type scriptedClient struct {
	content string
	lastReq llm.AgentRequest
}

func (c *scriptedClient) Model() string { return "test-model" }

func (c *scriptedClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	c.lastReq = req
	return &llm.AgentResponse{Content: c.content, FinishReason: "stop"}, nil
}

type agentClient struct {
	content string
}

func (c *agentClient) Model() string { return "test-model" }

func (c *agentClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	return &llm.AgentResponse{Content: c.content, FinishReason: "stop"}, nil
}

type erroringAgentClient struct{}

func (erroringAgentClient) Model() string { return "test-model" }

func (erroringAgentClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	return nil, context.DeadlineExceeded
}

func testScheduler(runners map[domain.AgentKind]scheduler.KindRunner) *scheduler.Scheduler {
	reg := tools.NewRegistry(tools.AutoApprove)
	loop := executor.New(reg, nil, nil, nil, permission.ModeAuto, 0)
	return scheduler.NewScheduler(loop, runners, false)
}

func kindProfile(kind domain.AgentKind) domain.AgentProfile {
	return domain.AgentProfile{
		Kind:        kind,
		Permissions: domain.PermissionSet{Read: true},
		MaxTurns:    4,
		Timeouts:    domain.AgentTimeouts{DefaultSeconds: 5, MaxSeconds: 5},
	}
}

func TestHandleTurnDirectAnswerAppendsHistoryWithoutScheduling(t *testing.T) {
	t.Parallel()

	pl := planner.NewPlanner(&scriptedClient{content: "that's handled in handler.go"})
	sch := testScheduler(map[domain.AgentKind]scheduler.KindRunner{})
	o := New(Config{}, pl, sch, nil, nil, nil)

	result, err := o.HandleTurn(context.Background(), "where is the handler?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Plan != nil {
		t.Fatalf("expected no plan for a direct answer")
	}
	if result.Reply != "that's handled in handler.go" {
		t.Fatalf("expected the direct answer as the reply, got %q", result.Reply)
	}
	if o.PendingPlan() != nil {
		t.Fatalf("expected no pending plan after a direct-answer turn")
	}

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected user+assistant history entries, got %d", len(history))
	}
	if history[0].Role != domain.RoleUser || history[1].Role != domain.RoleAssistant {
		t.Fatalf("expected user then assistant roles, got %v then %v", history[0].Role, history[1].Role)
	}
}

func TestHandleTurnRunsPlanAndSynthesizesReply(t *testing.T) {
	t.Parallel()

	planJSON := `{"plan": "find the bug", "tasks": [{"agent": "search", "description": "locate it"}]}`
	pl := planner.NewPlanner(&scriptedClient{content: planJSON})
	sch := testScheduler(map[domain.AgentKind]scheduler.KindRunner{
		domain.AgentSearch: {Client: &agentClient{content: "found it in handler.go"}, Profile: kindProfile(domain.AgentSearch)},
	})
	o := New(Config{}, pl, sch, nil, nil, nil)

	result, err := o.HandleTurn(context.Background(), "find the bug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Plan == nil {
		t.Fatalf("expected a plan")
	}
	if !strings.Contains(result.Reply, "find the bug") || !strings.Contains(result.Reply, "locate it") {
		t.Fatalf("expected the reply to mention the goal and task description, got %q", result.Reply)
	}
	if !strings.Contains(result.Reply, "completed") {
		t.Fatalf("expected the reply to report the task completed, got %q", result.Reply)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings for an all-succeeding plan, got %v", result.Warnings)
	}
}

func TestHandleTurnSynthesizesFailureWarning(t *testing.T) {
	t.Parallel()

	planJSON := `{"plan": "fix it", "tasks": [{"agent": "search", "description": "locate it"}]}`
	pl := planner.NewPlanner(&scriptedClient{content: planJSON})
	sch := testScheduler(map[domain.AgentKind]scheduler.KindRunner{
		domain.AgentSearch: {Client: erroringAgentClient{}, Profile: kindProfile(domain.AgentSearch)},
	})
	o := New(Config{}, pl, sch, nil, nil, nil)

	result, err := o.HandleTurn(context.Background(), "fix it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Reply, "Warnings:") {
		t.Fatalf("expected a warnings section in the reply, got %q", result.Reply)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected at least one warning for the failed core agent")
	}
}

func TestHandleTurnInjectsWorkingStateIntoProjectContext(t *testing.T) {
	t.Parallel()

	store := workingstate.NewStore(t.TempDir())
	if _, err := store.Merge("proj", func(ws *domain.WorkingState) {
		ws.Goal = "ship the login endpoint"
	}); err != nil {
		t.Fatalf("unexpected merge error: %v", err)
	}

	client := &scriptedClient{content: "sure, here's an answer"}
	pl := planner.NewPlanner(client)
	sch := testScheduler(map[domain.AgentKind]scheduler.KindRunner{})
	o := New(Config{WorkingStateKey: "proj"}, pl, sch, store, nil, nil)

	if _, err := o.HandleTurn(context.Background(), "what's next?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	userMsg := client.lastReq.Messages[1].Content
	if !strings.Contains(userMsg, "ship the login endpoint") {
		t.Fatalf("expected the working-state goal to be injected into the prompt, got %q", userMsg)
	}
}

func TestEndSessionInvalidatesWorkingStateCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := workingstate.NewStore(dir)
	if _, err := store.Merge("proj", func(ws *domain.WorkingState) {
		ws.Goal = "original"
	}); err != nil {
		t.Fatalf("unexpected merge error: %v", err)
	}

	o := New(Config{WorkingStateKey: "proj"}, nil, nil, store, nil, nil)

	if err := overwriteWorkingStateFile(dir, "proj", "rewritten externally"); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	if err := o.EndSession(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ws, err := store.Load("proj")
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if ws.Goal != "rewritten externally" {
		t.Fatalf("expected EndSession to invalidate the cache and force a reload, got %q", ws.Goal)
	}
}
