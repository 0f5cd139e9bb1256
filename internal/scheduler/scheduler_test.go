package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/executor"
	"agentcore/internal/llm"
	"agentcore/internal/permission"
	"agentcore/internal/tools"
)

// recordingClient always succeeds and remembers every request it saw, so
// tests can inspect what prompt a task was actually given.
type recordingClient struct {
	mu       sync.Mutex
	requests []llm.AgentRequest
	content  string
}

func (c *recordingClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	content := c.content
	if content == "" {
		content = "done"
	}
	return &llm.AgentResponse{Content: content, FinishReason: "stop"}, nil
}

func (c *recordingClient) lastRequest() llm.AgentRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

// slowThenFastClient blocks past its context deadline on its first N
// calls (forcing the loop to classify a context-deadline failure) and
// answers immediately afterward.
type slowThenFastClient struct {
	calls   int32
	failFor int32
}

func (c *slowThenFastClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	n := atomic.AddInt32(&c.calls, 1)
	if n <= c.failFor {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &llm.AgentResponse{Content: "recovered", FinishReason: "stop"}, nil
}

// erroringClient always fails the underlying LLM call.
type erroringClient struct{}

func (erroringClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	return nil, context.DeadlineExceeded
}

func delayedClient(delay time.Duration) llm.AgentClient {
	return delayedClientFn(func(ctx context.Context) (*llm.AgentResponse, error) {
		select {
		case <-time.After(delay):
			return &llm.AgentResponse{Content: "done", FinishReason: "stop"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

type delayedClientFn func(ctx context.Context) (*llm.AgentResponse, error)

func (f delayedClientFn) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	return f(ctx)
}

func testLoop() *executor.Loop {
	reg := tools.NewRegistry(tools.AutoApprove)
	return executor.New(reg, nil, nil, nil, permission.ModeAuto, 0)
}

func kindProfile(kind domain.AgentKind) domain.AgentProfile {
	return domain.AgentProfile{
		Kind:        kind,
		Permissions: domain.PermissionSet{Read: true, Write: true},
		MaxTurns:    4,
		Timeouts:    domain.AgentTimeouts{DefaultSeconds: 5, MaxSeconds: 5},
	}
}

func TestRunPlanRespectsDependencyOrderAndBuildsContext(t *testing.T) {
	t.Parallel()

	searchClient := &recordingClient{content: "found the bug in handler.go"}
	codeClient := &recordingClient{content: "fixed it"}

	s := NewScheduler(testLoop(), map[domain.AgentKind]KindRunner{
		domain.AgentSearch: {Client: searchClient, Profile: kindProfile(domain.AgentSearch)},
		domain.AgentCode:   {Client: codeClient, Profile: kindProfile(domain.AgentCode)},
	}, false)

	plan := domain.Plan{Goal: "fix the bug", Tasks: []domain.PlanTask{
		{Agent: domain.AgentSearch, Description: "find the bug"},
		{Agent: domain.AgentCode, Description: "fix it", DependsOn: []int{0}},
	}}

	result, err := s.RunPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, task := range result.Tasks {
		if task.Status != domain.TaskCompleted {
			t.Fatalf("expected all tasks completed, task %d is %s", task.Index, task.Status)
		}
	}

	codeReq := codeClient.lastRequest()
	if len(codeReq.Messages) < 2 {
		t.Fatalf("expected at least system+user messages, got %d", len(codeReq.Messages))
	}
	userMsg := codeReq.Messages[1].Content
	if !strings.Contains(userMsg, "search_0_result") || !strings.Contains(userMsg, "found the bug in handler.go") {
		t.Fatalf("expected the code task's prompt to carry the search task's dependency context, got %q", userMsg)
	}
}

func TestRunPlanDispatchesIndependentReadyTasksConcurrently(t *testing.T) {
	t.Parallel()

	const delay = 150 * time.Millisecond
	s := NewScheduler(testLoop(), map[domain.AgentKind]KindRunner{
		domain.AgentSearch: {Client: delayedClient(delay), Profile: kindProfile(domain.AgentSearch)},
		domain.AgentDocs:   {Client: delayedClient(delay), Profile: kindProfile(domain.AgentDocs)},
	}, false)

	plan := domain.Plan{Goal: "two independent tasks", Tasks: []domain.PlanTask{
		{Agent: domain.AgentSearch, Description: "look around"},
		{Agent: domain.AgentDocs, Description: "write docs"},
	}}

	start := time.Now()
	result, err := s.RunPlan(context.Background(), plan)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, task := range result.Tasks {
		if task.Status != domain.TaskCompleted {
			t.Fatalf("expected task %d completed, got %s", task.Index, task.Status)
		}
	}
	if elapsed >= 2*delay {
		t.Fatalf("expected concurrent dispatch to finish in well under %v, took %v", 2*delay, elapsed)
	}
}

func TestRunPlanMarksDependentsFailedAndWarnsOnCoreFailure(t *testing.T) {
	t.Parallel()

	s := NewScheduler(testLoop(), map[domain.AgentKind]KindRunner{
		domain.AgentSearch: {Client: erroringClient{}, Profile: kindProfile(domain.AgentSearch)},
		domain.AgentCode:   {Client: &recordingClient{}, Profile: kindProfile(domain.AgentCode)},
	}, false)

	plan := domain.Plan{Goal: "search then code", Tasks: []domain.PlanTask{
		{Agent: domain.AgentSearch, Description: "look around"},
		{Agent: domain.AgentCode, Description: "apply the fix", DependsOn: []int{0}},
	}}

	result, err := s.RunPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Tasks[0].Status != domain.TaskFailed {
		t.Fatalf("expected the search task to fail, got %s", result.Tasks[0].Status)
	}
	if result.Tasks[1].Status != domain.TaskFailed {
		t.Fatalf("expected the dependent code task to be reported failed, got %s", result.Tasks[1].Status)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning about the failed core agent")
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "search") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning mentioning the failed search agent, got %v", result.Warnings)
	}
}

func TestRunPlanRetriesAbortLookingFailureOnce(t *testing.T) {
	t.Parallel()

	client := &slowThenFastClient{failFor: 1}
	profile := kindProfile(domain.AgentSearch)
	profile.Timeouts = domain.AgentTimeouts{DefaultSeconds: 1, MaxSeconds: 1}

	s := NewScheduler(testLoop(), map[domain.AgentKind]KindRunner{
		domain.AgentSearch: {Client: client, Profile: profile},
	}, false)

	plan := domain.Plan{Goal: "flaky search", Tasks: []domain.PlanTask{
		{Agent: domain.AgentSearch, Description: "look around"},
	}}

	result, err := s.RunPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Tasks[0].Status != domain.TaskCompleted {
		t.Fatalf("expected the retried task to eventually complete, got %s (%s)", result.Tasks[0].Status, result.Tasks[0].FailureError)
	}
	if result.Tasks[0].RetryCount != 1 {
		t.Fatalf("expected exactly one retry, got retry count %d", result.Tasks[0].RetryCount)
	}
}

func TestRunPlanRejectsInvalidPlan(t *testing.T) {
	t.Parallel()

	s := NewScheduler(testLoop(), map[domain.AgentKind]KindRunner{}, false)
	plan := domain.Plan{Tasks: []domain.PlanTask{
		{Agent: domain.AgentCode, DependsOn: []int{0}},
	}}

	if _, err := s.RunPlan(context.Background(), plan); err == nil {
		t.Fatalf("expected a self-referential dependency to be rejected before scheduling")
	}
}
