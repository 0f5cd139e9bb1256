// Package orchestrator implements the Orchestrator (§2, §4 data flow
// owner): it is the only thing that mutates conversation history or holds
// a plan mid-flight, and it drives every turn through
// Planner -> Scheduler -> (Quality Gate, inside the Scheduler) -> Synthesis.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentcore/internal/compactor"
	"agentcore/internal/domain"
	"agentcore/internal/hooks"
	"agentcore/internal/llm"
	"agentcore/internal/planner"
	"agentcore/internal/scheduler"
	"agentcore/internal/workingstate"
)

// Config holds the Orchestrator's per-session tunables.
type Config struct {
	// ContextWindowTokens is the threshold SessionCompact measures the
	// conversation history against before every new turn (§4.6).
	ContextWindowTokens int

	// WorkingStateKey identifies this session's project in the
	// Working-State Store (§4.7). Empty disables working-state tracking
	// entirely — Load/Merge calls are skipped.
	WorkingStateKey string

	// SessionID is stamped into SessionEnd's hook environment.
	SessionID string
}

// Orchestrator owns the conversation history and the pending plan for one
// session (§5: "the conversation history is mutated only by the
// Orchestrator on the main task — never from inside an executor loop").
type Orchestrator struct {
	Config Config

	Planner      *planner.Planner
	Scheduler    *scheduler.Scheduler
	WorkingState *workingstate.Store
	Hooks        *hooks.Runner

	// CompactClient drives SessionCompact's summarization exchange. Nil
	// disables compaction — new turns are simply appended.
	CompactClient llm.AgentClient

	mu          sync.Mutex
	history     []domain.ChatMessage
	pendingPlan *domain.Plan
}

// New builds an Orchestrator and, when ws is non-nil, wires sch's
// WorkingStateSummary provider to this Orchestrator's compact working
// state — every task the Scheduler dispatches then carries the same
// project memory the Planner saw when it built the plan.
func New(cfg Config, pl *planner.Planner, sch *scheduler.Scheduler, ws *workingstate.Store, compactClient llm.AgentClient, hookRunner *hooks.Runner) *Orchestrator {
	o := &Orchestrator{
		Config:        cfg,
		Planner:       pl,
		Scheduler:     sch,
		WorkingState:  ws,
		Hooks:         hookRunner,
		CompactClient: compactClient,
	}
	if ws != nil && sch != nil {
		sch.WorkingStateSummary = o.compactWorkingState
	}
	return o
}

// TurnResult is what one HandleTurn call produces.
type TurnResult struct {
	Reply      string
	Plan       *domain.Plan
	PlanResult *scheduler.PlanResult
	Warnings   []string
}

// History returns a copy of the conversation so far.
func (o *Orchestrator) History() []domain.ChatMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ChatMessage(nil), o.history...)
}

// PendingPlan returns the plan currently being executed, or nil between
// turns.
func (o *Orchestrator) PendingPlan() *domain.Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingPlan
}

// HandleTurn drives one user turn end to end (§2's data flow). It never
// returns an uncaught error from inside a task: only a failure to reach
// the model at all (planning exchange, scheduling precondition) surfaces
// as a Go error; every task-level failure is captured in PlanResult and
// folded into the synthesized reply instead (§7).
func (o *Orchestrator) HandleTurn(ctx context.Context, userInput string) (*TurnResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.compactHistoryLocked(ctx)
	o.history = append(o.history, domain.User(userInput))

	projectContext := o.compactWorkingState()

	planResult, err := o.Planner.Plan(ctx, userInput, projectContext)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: planning: %w", err)
	}

	if planResult.Plan == nil {
		o.history = append(o.history, domain.Assistant(planResult.DirectAnswer))
		return &TurnResult{Reply: planResult.DirectAnswer}, nil
	}

	o.pendingPlan = planResult.Plan
	defer func() { o.pendingPlan = nil }()

	result, err := o.Scheduler.RunPlan(ctx, *planResult.Plan)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: scheduling: %w", err)
	}

	reply := synthesize(planResult.Plan, result)
	o.history = append(o.history, domain.Assistant(reply))
	o.recordDecision(ctx, planResult.Plan, result)

	return &TurnResult{Reply: reply, Plan: planResult.Plan, PlanResult: result, Warnings: result.Warnings}, nil
}

// EndSession runs the SessionEnd hook and drops this session's
// working-state cache entry, so the next process to touch this project
// re-reads disk rather than trusting a stale in-memory copy.
func (o *Orchestrator) EndSession(ctx context.Context) error {
	if o.Hooks != nil {
		if err := o.Hooks.RunSessionEnd(ctx, o.Config.SessionID); err != nil {
			slog.WarnContext(ctx, "session end hook failed", "error", err)
		}
	}
	if o.WorkingState != nil && o.Config.WorkingStateKey != "" {
		o.WorkingState.Invalidate(o.Config.WorkingStateKey)
	}
	return nil
}

// compactHistoryLocked runs the PreCompact hook and SessionCompact over
// the held conversation history before a new turn is appended (§4.6). The
// caller must hold o.mu.
func (o *Orchestrator) compactHistoryLocked(ctx context.Context) {
	if o.CompactClient == nil || len(o.history) == 0 {
		return
	}

	if o.Hooks != nil {
		if err := o.Hooks.RunPreCompact(ctx); err != nil {
			slog.WarnContext(ctx, "pre-compact hook failed", "error", err)
		}
	}

	compacted, err := compactor.SessionCompact(ctx, o.CompactClient, o.history, o.Config.ContextWindowTokens)
	if err != nil {
		slog.WarnContext(ctx, "session compaction failed, continuing with uncompacted history", "error", err)
		return
	}
	o.history = compacted
}

// compactWorkingState renders the current project's working state into
// the short form injected into every prompt (§4.7). A missing store, an
// unset key, or a load failure all degrade to an empty string rather than
// failing the turn.
func (o *Orchestrator) compactWorkingState() string {
	if o.WorkingState == nil || o.Config.WorkingStateKey == "" {
		return ""
	}
	ws, err := o.WorkingState.Load(o.Config.WorkingStateKey)
	if err != nil {
		slog.Warn("working state load failed", "key", o.Config.WorkingStateKey, "error", err)
		return ""
	}
	return workingstate.CompactForm(ws)
}

// recordDecision merges one Decision recording this turn's plan and
// outcome into the Working-State Store, so the next turn's prompt carries
// it forward.
func (o *Orchestrator) recordDecision(ctx context.Context, plan *domain.Plan, result *scheduler.PlanResult) {
	if o.WorkingState == nil || o.Config.WorkingStateKey == "" {
		return
	}
	_, err := o.WorkingState.Merge(o.Config.WorkingStateKey, func(ws *domain.WorkingState) {
		ws.Goal = plan.Goal
		ws.AddDecision(domain.Decision{
			ID:        uuid.NewString(),
			Title:     plan.Goal,
			Why:       outcomeSummary(result),
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		slog.WarnContext(ctx, "working state merge failed", "error", err)
	}
}

func outcomeSummary(result *scheduler.PlanResult) string {
	completed, failed := 0, 0
	for _, t := range result.Tasks {
		if t.Status == domain.TaskCompleted {
			completed++
		} else if t.Status == domain.TaskFailed {
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprintf("%d tasks completed", completed)
	}
	return fmt.Sprintf("%d tasks completed, %d failed", completed, failed)
}

// synthesize builds the final user-visible reply (§7's "the synthesizer
// enumerates failures... and emits a visible warning if any core agent
// failed"). Tasks opting into ExcludeFromSummary are omitted.
func synthesize(plan *domain.Plan, result *scheduler.PlanResult) string {
	var sb strings.Builder
	if plan.Goal != "" {
		fmt.Fprintf(&sb, "%s\n\n", plan.Goal)
	}

	for _, task := range result.Tasks {
		if task.PlanTask.ExcludeFromSummary {
			continue
		}
		status := "completed"
		if task.Status == domain.TaskFailed {
			status = "failed"
		}
		fmt.Fprintf(&sb, "- [%s] %s (%s): %s\n", task.PlanTask.Agent, task.PlanTask.Description, status, taskSummaryLine(task))
	}

	if len(result.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func taskSummaryLine(task *domain.ManagedTask) string {
	if task.Status == domain.TaskFailed {
		return task.FailureError
	}
	if task.Result != nil && task.Result.Summary != "" {
		return task.Result.Summary
	}
	return "done"
}
