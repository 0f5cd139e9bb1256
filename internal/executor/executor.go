// Package executor implements the Agent Executor Loop (§4.3): the single
// piece of code every agent kind runs through, from a ManagedTask and a
// built AgentClient to a *domain.AgentResult. It owns the per-task
// conversation (never the orchestrator's session history — that boundary
// belongs to internal/orchestrator per §5), tool dispatch through
// internal/tools, hook invocation around every call, and the runner-level
// trim that keeps a single task's conversation within its share of the
// context window.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"agentcore/internal/compactor"
	"agentcore/internal/domain"
	"agentcore/internal/errtax"
	"agentcore/internal/eventbus"
	"agentcore/internal/hooks"
	"agentcore/internal/llm"
	"agentcore/internal/permission"
	"agentcore/internal/tools"
)

const (
	defaultMaxParallelTools = 4
	doomLoopThreshold       = 3
	defaultMaxTokens        = 4096

	// softNudgeThresholdPct is the fraction of ContextWindowTokens at which
	// the loop injects a gentle "consider concluding" nudge: 80% of
	// RunnerTrim's own 60% trigger point, mirroring the teacher's
	// ExploreAgent soft limit at 80% of its token target.
	softNudgeThresholdPct = 48
)

// Loop is the shared executor every agent kind drives its AgentClient
// through. A single Loop is reused across tasks and agent kinds; per-task
// state lives entirely in Run's local variables.
type Loop struct {
	Tools  *tools.Registry
	Hooks  *hooks.Runner
	Bus    *eventbus.Bus
	Tracer *eventbus.Tracer
	Mode   permission.Mode

	// ContextWindowTokens is the backing model's context window, used both
	// to size the Prompt Builder's section budget and as RunnerTrim's
	// threshold base. Zero disables both: no section is ever dropped and
	// no mid-task trim runs.
	ContextWindowTokens int

	// MaxParallelTools bounds concurrent tool execution within one turn.
	// Zero uses defaultMaxParallelTools.
	MaxParallelTools int

	// DebugDir, when non-empty, makes Run write a per-task transcript and a
	// JSON metrics snapshot under this directory. Empty disables both.
	DebugDir string
}

// New builds a Loop from its collaborators. hooksRunner, bus and tracer may
// be nil. A nil Tools offers the model no tools and makes every tool call
// fail; a zero Mode prompts for every non-read tool the agent's
// permissions allow. Callers wiring a real agent kind should always supply
// Tools.
func New(toolsRegistry *tools.Registry, hooksRunner *hooks.Runner, bus *eventbus.Bus, tracer *eventbus.Tracer, mode permission.Mode, contextWindowTokens int) *Loop {
	return &Loop{
		Tools:               toolsRegistry,
		Hooks:               hooksRunner,
		Bus:                 bus,
		Tracer:              tracer,
		Mode:                mode,
		ContextWindowTokens: contextWindowTokens,
		MaxParallelTools:    defaultMaxParallelTools,
	}
}

// Input is everything one Run call needs beyond the Loop's own
// collaborators.
type Input struct {
	Client              llm.AgentClient
	Profile             domain.AgentProfile
	Task                *domain.ManagedTask
	DependencyContext   string // rendered output of this task's completed prerequisites
	WorkingStateSummary string // optional project-memory compact, dropped under budget pressure
	ProjectContext      string // optional, entirely omitted if Profile.ExcludeProjectContext
}

// Run drives one task's conversation to completion: PromptBuilder assembly,
// a max_turns-capped tool-calling loop with hook invocation, permission and
// sandbox-mediated tool dispatch, doom-loop detection, an optional
// two-pass self-assessment, and runner-level trim. Always returns a
// non-nil *domain.AgentResult, success or failure, never a Go error —
// every failure mode this loop can hit is classified into the result
// itself (§4.3, §7).
func (l *Loop) Run(ctx context.Context, in Input) (result *domain.AgentResult) {
	task := in.Task
	profile := in.Profile
	result = &domain.AgentResult{TaskID: task.ID}

	runStart := time.Now()
	turnCount := 0
	var debugLog strings.Builder
	if l.DebugDir != "" {
		debugLog.WriteString(fmt.Sprintf("=== EXECUTOR RUN task=%s agent=%s ===\n", task.ID, profile.Kind))
		debugLog.WriteString(fmt.Sprintf("Description: %s\n\n", task.PlanTask.Description))
	}
	defer func() {
		l.writeRunArtifacts(task, profile, debugLog.String(), result, runStart, turnCount)
	}()

	taskCtx, cancel := context.WithTimeout(ctx, task.EffectiveTimeout(profile))
	defer cancel()

	spanCtx := taskCtx
	var spanID int64
	if l.Tracer != nil {
		spanCtx, spanID = l.Tracer.Start(taskCtx, domain.SpanAgent, "agent:"+string(profile.Kind), map[string]any{
			"taskIndex": task.Index,
			"taskId":    task.ID.String(),
		})
		defer l.Tracer.End(spanID)
	}

	l.publish(eventbus.ChannelAgentStart, map[string]any{"taskId": task.ID, "agent": string(profile.Kind)})

	budget := l.promptSectionBudget()
	messages := buildInitialMessages(profile, task.PlanTask.Description, in.DependencyContext, in.WorkingStateSummary, in.ProjectContext, budget)

	maxTurns := profile.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 1
	}

	var recentCalls []toolCallRecord
	var pendingReport string
	awaitingConfidence := false
	softNudgeSent := false
	created := map[string]bool{}
	modified := map[string]bool{}

	for turn := 0; turn < maxTurns; turn++ {
		turnCount = turn + 1

		if err := taskCtx.Err(); err != nil {
			return l.fail(result, task, "aborted: "+errtax.Classify(ctx, err).Error())
		}

		resp, err := in.Client.ChatWithTools(spanCtx, llm.AgentRequest{
			Messages:  messages,
			Tools:     l.Tools.Definitions(profile),
			MaxTokens: defaultMaxTokens,
		})
		if err != nil {
			classified := errtax.Classify(taskCtx, err)
			if taskCtx.Err() != nil {
				return l.fail(result, task, "aborted: "+classified.Error())
			}
			return l.fail(result, task, classified.Error())
		}

		result.PromptTokens += resp.PromptTokens
		result.CompletionTokens += resp.CompletionTokens
		if l.Tracer != nil {
			l.Tracer.RecordTokenUsage(spanID, resp.PromptTokens, resp.CompletionTokens)
		}
		if l.DebugDir != "" {
			debugLog.WriteString(fmt.Sprintf("--- TURN %d ---\n[ASSISTANT]\n%s\n", turnCount, resp.Content))
			for _, tc := range resp.ToolCalls {
				debugLog.WriteString(fmt.Sprintf("[TOOL_CALL] %s: %s\n", tc.Name, tc.Arguments))
			}
			debugLog.WriteString("\n")
		}

		if len(resp.ToolCalls) == 0 {
			if resp.FinishReason == "length" {
				messages = append(messages, domain.Assistant(resp.Content))
				messages = append(messages, domain.User("Continue; your previous reply was cut off."))
				continue
			}

			if awaitingConfidence {
				return l.succeed(result, task, appendConfidence(pendingReport, resp.Content), created, modified)
			}

			if profile.SelfAssessment {
				pendingReport = resp.Content
				awaitingConfidence = true
				messages = append(messages, domain.Assistant(resp.Content))
				messages = append(messages, domain.User("Before finishing, rate your confidence in this result as low, medium, or high, in one sentence."))
				continue
			}

			return l.succeed(result, task, resp.Content, created, modified)
		}

		if doomLoop(recentCalls, resp.ToolCalls) {
			return l.fail(result, task, "aborted: repeated identical tool call without progress")
		}
		recentCalls = recordCalls(recentCalls, resp.ToolCalls)

		messages = append(messages, domain.Assistant(resp.Content, resp.ToolCalls...))

		for _, outcome := range l.executeToolsParallel(taskCtx, resp.ToolCalls, profile) {
			messages = append(messages, domain.ToolResult(outcome.call.ID, outcome.call.Name, outcome.output))
			if outcome.call.Name == "write_file" {
				trackFileOutcome(outcome.output, created, modified)
			}
		}

		if l.ContextWindowTokens > 0 && !softNudgeSent &&
			compactor.EstimateConversationTokens(messages) > l.ContextWindowTokens*softNudgeThresholdPct/100 {
			softNudgeSent = true
			if l.DebugDir != "" {
				debugLog.WriteString(fmt.Sprintf("=== SOFT NUDGE at turn %d ===\n", turnCount))
			}
			messages = append(messages, domain.User(
				"You have gathered substantial context for this task. Consider: do you have "+
					"enough to produce your final answer now, or is one more targeted step needed?"))
		}

		if l.ContextWindowTokens > 0 {
			messages = compactor.RunnerTrim(messages, l.ContextWindowTokens)
		}
	}

	return l.fail(result, task, "max turns reached")
}

// runMetrics is the JSON metrics snapshot written alongside a run's debug
// transcript, mirroring the teacher's PlannerMetrics/ExploreMetrics shape
// scoped down to what a single task run can report.
type runMetrics struct {
	TaskID           string `json:"task_id"`
	Agent            string `json:"agent"`
	StartTime        string `json:"start_time"`
	DurationMs       int64  `json:"duration_ms"`
	Turns            int    `json:"turns"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Success          bool   `json:"success"`
	Summary          string `json:"summary"`
}

// writeRunArtifacts writes the run's debug transcript and metrics snapshot
// under DebugDir, gated on it being configured. Mirrors the teacher's
// Planner.writeDebugLog/writeMetricsLog: best-effort, warn-and-continue on
// failure, never affects the run's own result.
func (l *Loop) writeRunArtifacts(task *domain.ManagedTask, profile domain.AgentProfile, transcript string, result *domain.AgentResult, start time.Time, turns int) {
	if l.DebugDir == "" {
		return
	}

	if err := os.MkdirAll(l.DebugDir, 0o755); err != nil {
		slog.Warn("executor: failed to create debug dir", "dir", l.DebugDir, "error", err)
		return
	}

	transcriptFile := filepath.Join(l.DebugDir, fmt.Sprintf("executor_%s.txt", task.ID))
	if err := os.WriteFile(transcriptFile, []byte(transcript), 0o644); err != nil {
		slog.Warn("executor: failed to write debug transcript", "file", transcriptFile, "error", err)
	}

	metrics := runMetrics{
		TaskID:           task.ID.String(),
		Agent:            string(profile.Kind),
		StartTime:        start.Format(time.RFC3339),
		DurationMs:       time.Since(start).Milliseconds(),
		Turns:            turns,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Success:          result.Success,
		Summary:          result.Summary,
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		slog.Warn("executor: failed to marshal run metrics", "error", err)
		return
	}

	metricsFile := filepath.Join(l.DebugDir, fmt.Sprintf("executor_metrics_%s.json", task.ID))
	if err := os.WriteFile(metricsFile, data, 0o644); err != nil {
		slog.Warn("executor: failed to write run metrics", "file", metricsFile, "error", err)
	}
}

func (l *Loop) promptSectionBudget() int {
	if l.ContextWindowTokens <= 0 {
		return 0
	}
	return l.ContextWindowTokens / 4
}

func (l *Loop) publish(channel eventbus.Channel, payload map[string]any) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(eventbus.Event{Channel: channel, Payload: payload})
}

func (l *Loop) fail(result *domain.AgentResult, task *domain.ManagedTask, summary string) *domain.AgentResult {
	result.Success = false
	result.Summary = summary
	l.publish(eventbus.ChannelAgentError, map[string]any{"taskId": task.ID, "summary": summary})
	return result
}

func (l *Loop) succeed(result *domain.AgentResult, task *domain.ManagedTask, output string, created, modified map[string]bool) *domain.AgentResult {
	result.Success = true
	result.Output = output
	result.Summary = summarizeOutput(output)
	result.FilesCreated = sortedKeys(created)
	result.FilesModified = sortedKeys(modified)
	l.publish(eventbus.ChannelAgentComplete, map[string]any{"taskId": task.ID})
	return result
}

func summarizeOutput(output string) string {
	const maxLen = 240
	trimmed := strings.TrimSpace(output)
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if len(trimmed) > maxLen {
		trimmed = trimmed[:maxLen]
	}
	return trimmed
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func trackFileOutcome(output string, created, modified map[string]bool) {
	switch {
	case strings.HasPrefix(output, tools.CreatedFilePrefix):
		created[strings.TrimPrefix(output, tools.CreatedFilePrefix)] = true
	case strings.HasPrefix(output, tools.ModifiedFilePrefix):
		modified[strings.TrimPrefix(output, tools.ModifiedFilePrefix)] = true
	}
}

func appendConfidence(report, confidenceReply string) string {
	conf := extractConfidence(confidenceReply)
	if conf == "" {
		return report
	}
	return report + "\n\nConfidence: " + conf
}

func extractConfidence(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "high"):
		return "high"
	case strings.Contains(lower, "medium"):
		return "medium"
	case strings.Contains(lower, "low"):
		return "low"
	default:
		return ""
	}
}

// toolCallRecord is a normalized (name, arguments) pair used for doom-loop
// detection — identical calls three turns running with no other tool call
// interleaved means the agent is stuck, not making progress.
type toolCallRecord struct {
	name string
	args string
}

func normalizeArgs(args string) string {
	var v any
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return args
	}
	b, err := json.Marshal(v)
	if err != nil {
		return args
	}
	return string(b)
}

func recordCalls(recent []toolCallRecord, calls []domain.ToolCall) []toolCallRecord {
	for _, c := range calls {
		recent = append(recent, toolCallRecord{name: c.Name, args: normalizeArgs(c.Arguments)})
	}
	if len(recent) > doomLoopThreshold {
		recent = recent[len(recent)-doomLoopThreshold:]
	}
	return recent
}

// doomLoop only judges single-tool-call turns: a turn that fans out
// several distinct tool calls is making exploratory progress even if one
// of those calls repeats a prior argument set.
func doomLoop(recent []toolCallRecord, calls []domain.ToolCall) bool {
	if len(calls) != 1 || len(recent) < doomLoopThreshold {
		return false
	}
	candidate := toolCallRecord{name: calls[0].Name, args: normalizeArgs(calls[0].Arguments)}
	for _, r := range recent {
		if r != candidate {
			return false
		}
	}
	return true
}

// toolOutcome pairs an issued tool call with its (already truncated)
// result string.
type toolOutcome struct {
	call   domain.ToolCall
	output string
}

// executeToolsParallel runs every call in one turn concurrently, bounded
// by MaxParallelTools, mirroring the teacher's semaphore-guarded goroutine
// fan-out. Each call's hook pair and hook/permission/sandbox mediation
// happen inside executeOne; a tool error never aborts its siblings, it
// becomes that call's own truncated error string.
func (l *Loop) executeToolsParallel(ctx context.Context, calls []domain.ToolCall, profile domain.AgentProfile) []toolOutcome {
	maxParallel := l.MaxParallelTools
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallelTools
	}

	results := make([]toolOutcome, len(calls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, call domain.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = toolOutcome{call: call, output: l.executeOne(ctx, call, profile)}
		}(i, call)
	}
	wg.Wait()

	return results
}

func (l *Loop) executeOne(ctx context.Context, call domain.ToolCall, profile domain.AgentProfile) string {
	if l.Hooks != nil {
		if err := l.Hooks.RunPreToolUse(ctx, hooks.PreToolUseEnv{Tool: call.Name, Agent: string(profile.Kind), Args: call.Arguments}); err != nil {
			return compactor.TruncateToolError(fmt.Sprintf("pre-tool hook blocked %s: %s", call.Name, err))
		}
	}

	l.publish(eventbus.ChannelToolBefore, map[string]any{"tool": call.Name})

	out, err := l.Tools.Execute(ctx, call.Name, call.Arguments, profile, l.Mode)
	success := err == nil

	l.publish(eventbus.ChannelToolAfter, map[string]any{"tool": call.Name, "success": success})

	if l.Hooks != nil {
		_ = l.Hooks.RunPostToolUse(ctx, hooks.PostToolUseEnv{
			PreToolUseEnv: hooks.PreToolUseEnv{Tool: call.Name, Agent: string(profile.Kind), Args: call.Arguments},
			Success:       success,
		})
	}

	if err != nil {
		return compactor.TruncateToolError(err.Error())
	}
	return compactor.TruncateToolOutput(out)
}
