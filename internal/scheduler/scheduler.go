// Package scheduler implements the Task Scheduler (§4.2): it drives a
// Plan's ManagedTasks to completion respecting dependency edges, runs
// ready tasks concurrently through the Agent Executor Loop, retries a
// task once if its failure looks like a timeout or abort, and triggers
// the Quality Gate Machine whenever a code agent's result touches the
// filesystem. This is the "scheduler's own per-task execution path" that
// internal/qualitygate's AgentRunFunc documentation refers to.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"agentcore/internal/domain"
	"agentcore/internal/errtax"
	"agentcore/internal/executor"
	"agentcore/internal/llm"
	"agentcore/internal/qualitygate"
)

// KindRunner is the Agent Executor Loop wiring for one AgentKind: its
// built LLM client and static profile. Every ManagedTask of that kind,
// plan task or ad hoc quality-gate call alike, runs through the same
// Loop bound to this client and profile.
type KindRunner struct {
	Client  llm.AgentClient
	Profile domain.AgentProfile
}

// Scheduler executes Plans. A single Scheduler is built once per session
// and reused across turns; Runners covers every agent kind the session's
// planner is allowed to reference.
type Scheduler struct {
	Loop    *executor.Loop
	Runners map[domain.AgentKind]KindRunner

	// Gate, if non-nil, is consulted after every successful code-agent
	// task that touched the filesystem (§4.4). Built by NewScheduler so
	// its AgentRunFunc closes over this Scheduler's own runAgentAdHoc.
	Gate *qualitygate.Gate

	// WorkingStateSummary and ProjectContext are optional providers
	// threaded into every task's Prompt Builder (§4.3); both may be nil.
	WorkingStateSummary func() string
	ProjectContext      func() string
}

// NewScheduler builds a Scheduler. When withGate is true, the Quality
// Gate Machine is wired with an AgentRunFunc that dispatches back through
// this same Scheduler's runners, sharing its cancellation and timeout
// semantics (§4.4, §5).
func NewScheduler(loop *executor.Loop, runners map[domain.AgentKind]KindRunner, withGate bool) *Scheduler {
	s := &Scheduler{Loop: loop, Runners: runners}
	if withGate {
		s.Gate = qualitygate.NewGate(s.runAgentAdHoc)
	}
	return s
}

// PlanResult is the Scheduler's account of one Plan run: the final state
// of every ManagedTask, any quality-gate outcomes keyed by task index, and
// the warnings the synthesizer should surface (core-agent failures and
// quality-gate issues alike).
type PlanResult struct {
	Tasks        []*domain.ManagedTask
	GateOutcomes map[int]*qualitygate.Outcome
	Warnings     []string
}

// RunPlan drives plan to completion (§4.2). The only error this returns is
// a precondition failure (a structurally invalid plan); every per-task
// failure is captured in the returned PlanResult instead, never thrown.
func (s *Scheduler) RunPlan(ctx context.Context, plan domain.Plan) (*PlanResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	tasks := domain.NewManagedTasks(plan)
	gateOutcomes := map[int]*qualitygate.Outcome{}
	var warnings []string
	var mu sync.Mutex

	for !allResolved(tasks) {
		if ctx.Err() != nil {
			break
		}

		ready := readySet(tasks)
		if len(ready) == 0 {
			if s.retryRecovery(tasks) {
				continue
			}
			break
		}

		s.runBatch(ctx, tasks, ready, gateOutcomes, &warnings, &mu)
	}

	markUnreachableAsFailed(tasks)
	warnings = append(warnings, coreFailureWarnings(tasks)...)

	return &PlanResult{Tasks: tasks, GateOutcomes: gateOutcomes, Warnings: warnings}, nil
}

// runBatch marks every ready task in_progress and executes them
// concurrently (§4.2 step 2c, §5: "ready tasks are dispatched in parallel").
func (s *Scheduler) runBatch(ctx context.Context, tasks []*domain.ManagedTask, ready []*domain.ManagedTask, gateOutcomes map[int]*qualitygate.Outcome, warnings *[]string, mu *sync.Mutex) {
	for _, task := range ready {
		task.Status = domain.TaskInProgress
	}

	var wg sync.WaitGroup
	for _, task := range ready {
		wg.Add(1)
		go func(task *domain.ManagedTask) {
			defer wg.Done()
			s.runOne(ctx, task, tasks, gateOutcomes, warnings, mu)
		}(task)
	}
	wg.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, task *domain.ManagedTask, tasks []*domain.ManagedTask, gateOutcomes map[int]*qualitygate.Outcome, warnings *[]string, mu *sync.Mutex) {
	runner, ok := s.Runners[task.PlanTask.Agent]
	if !ok {
		task.Status = domain.TaskFailed
		task.FailureError = errtax.Fatal_(fmt.Errorf("unknown agent kind %q", task.PlanTask.Agent)).Error()
		return
	}

	result := s.Loop.Run(ctx, executor.Input{
		Client:              runner.Client,
		Profile:             runner.Profile,
		Task:                task,
		DependencyContext:   buildDependencyContext(task, tasks),
		WorkingStateSummary: s.callOrEmpty(s.WorkingStateSummary),
		ProjectContext:      s.callOrEmpty(s.ProjectContext),
	})
	task.Result = result

	if !result.Success {
		task.Status = domain.TaskFailed
		task.FailureError = result.Summary
		return
	}
	task.Status = domain.TaskCompleted

	if s.Gate == nil || task.PlanTask.Agent != domain.AgentCode || !result.HasFileChanges() {
		return
	}

	outcome, err := s.Gate.Run(ctx, result, task.PlanTask.Description)
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("quality gate for task %d errored: %s", task.Index, err))
		return
	}
	gateOutcomes[task.Index] = outcome
	*warnings = append(*warnings, outcome.Warnings...)
}

func (s *Scheduler) callOrEmpty(f func() string) string {
	if f == nil {
		return ""
	}
	return f()
}

// runAgentAdHoc satisfies qualitygate.AgentRunFunc: it runs one
// review/code/qa turn outside the plan's own task graph, through the same
// Loop and runner wiring as any plan task.
func (s *Scheduler) runAgentAdHoc(ctx context.Context, kind domain.AgentKind, description string) (*domain.AgentResult, error) {
	runner, ok := s.Runners[kind]
	if !ok {
		return nil, fmt.Errorf("scheduler: no runner configured for agent kind %q", kind)
	}

	plan := domain.Plan{Tasks: []domain.PlanTask{{Agent: kind, Description: description}}}
	task := domain.NewManagedTasks(plan)[0]
	task.Status = domain.TaskInProgress

	result := s.Loop.Run(ctx, executor.Input{
		Client:              runner.Client,
		Profile:             runner.Profile,
		Task:                task,
		WorkingStateSummary: s.callOrEmpty(s.WorkingStateSummary),
		ProjectContext:      s.callOrEmpty(s.ProjectContext),
	})
	if !result.Success {
		return nil, fmt.Errorf("scheduler: %s agent failed: %s", kind, result.Summary)
	}
	return result, nil
}

// retryRecovery scans failed tasks once, reviving the ones whose failure
// looks like a timeout or abort (§4.2 step 3). Retry count is capped at 1
// per task for the whole plan.
func (s *Scheduler) retryRecovery(tasks []*domain.ManagedTask) bool {
	retried := false
	for _, t := range tasks {
		if t.Status != domain.TaskFailed || t.RetryCount > 0 {
			continue
		}
		if !looksLikeAbort(t.FailureError) {
			continue
		}
		runner, ok := s.Runners[t.PlanTask.Agent]
		if !ok {
			continue
		}

		ceiling := runner.Profile.Timeouts.RetryCeiling()
		timeout := 2 * runner.Profile.Timeouts.Max()
		if timeout > ceiling {
			timeout = ceiling
		}

		t.TimeoutOverride = &timeout
		t.RetryCount = 1
		t.Status = domain.TaskPending
		t.FailureError = ""
		t.Result = nil
		retried = true
	}
	return retried
}

// looksLikeAbort matches the coarse abort/timeout signals §4.2 describes:
// a cancelled context, a wall-clock deadline, or the Agent Executor Loop's
// own "aborted" summaries (cancellation, doom-loop).
func looksLikeAbort(summary string) bool {
	lower := strings.ToLower(summary)
	for _, signal := range []string{"aborted", "timeout", "timed out", "deadline exceeded", "context canceled"} {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

func allResolved(tasks []*domain.ManagedTask) bool {
	for _, t := range tasks {
		if t.Status != domain.TaskCompleted && t.Status != domain.TaskFailed {
			return false
		}
	}
	return true
}

// readySet returns every pending task whose prerequisites have all
// completed (§4.2 step 2a).
func readySet(tasks []*domain.ManagedTask) []*domain.ManagedTask {
	var ready []*domain.ManagedTask
	for _, t := range tasks {
		if t.Status != domain.TaskPending {
			continue
		}
		blocked := false
		for _, dep := range t.PlanTask.DependsOn {
			if tasks[dep].Status != domain.TaskCompleted {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}
	return ready
}

// markUnreachableAsFailed sweeps any task still pending once the ready
// set has gone permanently empty: its prerequisite never completed, so it
// can never run (§4.2 step 2b, §4.2 "Failure semantics").
func markUnreachableAsFailed(tasks []*domain.ManagedTask) {
	for _, t := range tasks {
		if t.Status == domain.TaskPending {
			t.Status = domain.TaskFailed
			t.FailureError = "blocked: a prerequisite task failed"
		}
	}
}

// coreFailureWarnings raises one warning per failed core agent (search,
// code, test), per §4.2's closing line and §7's synthesizer contract.
func coreFailureWarnings(tasks []*domain.ManagedTask) []string {
	var warnings []string
	for _, t := range tasks {
		if t.Status == domain.TaskFailed && domain.CoreAgentKinds[t.PlanTask.Agent] {
			warnings = append(warnings, fmt.Sprintf("core agent %q (task %d) failed: %s", t.PlanTask.Agent, t.Index, t.FailureError))
		}
	}
	return warnings
}

// buildDependencyContext assembles a task's dependency-context map: one
// "{agent}_{index}_result" entry per completed prerequisite (§4.2 step
// 2c). When the task opts into the compact form it is rendered as one
// key=value line per entry (§6); otherwise as a JSON object. The compact
// encoder here cannot itself fail, so the "silent fallback to uncompacted
// JSON" §6 describes only matters on the consuming side (a future prompt
// parser tolerant of either shape), not here.
func buildDependencyContext(task *domain.ManagedTask, tasks []*domain.ManagedTask) string {
	if len(task.PlanTask.DependsOn) == 0 {
		return ""
	}

	deps := append([]int(nil), task.PlanTask.DependsOn...)
	sort.Ints(deps)

	keys := make([]string, 0, len(deps))
	values := make(map[string]string, len(deps))
	for _, idx := range deps {
		prereq := tasks[idx]
		payload := ""
		if prereq.Result != nil {
			payload = prereq.Result.Output
		}
		key := fmt.Sprintf("%s_%d_result", prereq.PlanTask.Agent, idx)
		keys = append(keys, key)
		values[key] = payload
	}

	if task.PlanTask.CompactDependency {
		return encodeCompact(keys, values)
	}
	return encodeJSON(keys, values)
}

func encodeCompact(keys []string, values map[string]string) string {
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.ReplaceAll(values[k], "\n", "\\n"))
	}
	return sb.String()
}

func encodeJSON(keys []string, values map[string]string) string {
	ordered := make(map[string]string, len(keys))
	for _, k := range keys {
		ordered[k] = values[k]
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return encodeCompact(keys, values)
	}
	return string(b)
}
