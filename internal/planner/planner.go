// Package planner implements the Planner (§4.1): a single LLM exchange
// that turns free-text user input, plus a compact project context string,
// into either a structured Plan or a direct textual answer. It never
// drives a tool-calling loop of its own — that's the Agent Executor
// Loop's job, one layer down, once a Plan names which agents to run.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

// Planner issues the single planning exchange and classifies its reply.
type Planner struct {
	Client       llm.AgentClient
	SystemPrompt string // defaults to defaultSystemPrompt when empty

	// DebugDir, when non-empty, makes Plan write a per-call transcript and
	// a JSON metrics snapshot under this directory. Empty disables both.
	DebugDir string
}

// NewPlanner builds a Planner backed by client, using the default system
// prompt enumerating the available agent kinds.
func NewPlanner(client llm.AgentClient) *Planner {
	return &Planner{Client: client, SystemPrompt: defaultSystemPrompt}
}

// Result is the Planner's classified outcome: exactly one of Plan or
// DirectAnswer is set.
type Result struct {
	Plan         *domain.Plan
	DirectAnswer string
}

// ParseError reports a candidate JSON object that structurally looks like
// a plan (balanced braces, a "plan" string key, a "tasks" array key) but
// fails to unmarshal into a domain.Plan or violates its dependency
// invariant (§4.1, §8 property 6). A reply that never looks like a plan
// attempt in the first place is a direct answer, not an error.
type ParseError struct {
	Candidate string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("planner: malformed plan json: %s", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Plan runs the Planner's one LLM exchange and classifies the reply
// (§4.1). The only error this returns is a *ParseError or a transport
// failure reaching the model; a plain prose reply is always a successful
// Result with DirectAnswer set, never an error.
func (p *Planner) Plan(ctx context.Context, userInput, projectContext string) (result *Result, err error) {
	start := time.Now()
	sessionID := fmt.Sprintf("%d", start.UnixNano())
	defer func() {
		p.writeDebugArtifacts(sessionID, start, userInput, result, err)
	}()

	messages := []domain.ChatMessage{
		domain.System(p.systemPrompt()),
		domain.User(buildUserMessage(userInput, projectContext)),
	}

	resp, chatErr := p.Client.ChatWithTools(ctx, llm.AgentRequest{Messages: messages})
	if chatErr != nil {
		err = fmt.Errorf("planner: chat exchange: %w", chatErr)
		return nil, err
	}

	slog.DebugContext(ctx, "planner received response",
		"promptTokens", resp.PromptTokens, "completionTokens", resp.CompletionTokens)

	candidate, found := extractBalancedJSON(resp.Content)
	if !found || !looksLikePlanShape(candidate) {
		result = &Result{DirectAnswer: resp.Content}
		return result, nil
	}

	var plan domain.Plan
	if unmarshalErr := json.Unmarshal([]byte(candidate), &plan); unmarshalErr != nil {
		err = &ParseError{Candidate: candidate, Err: unmarshalErr}
		return nil, err
	}
	if validateErr := plan.Validate(); validateErr != nil {
		err = &ParseError{Candidate: candidate, Err: validateErr}
		return nil, err
	}

	result = &Result{Plan: &plan}
	return result, nil
}

// plannerMetrics is the JSON metrics snapshot written alongside a planning
// call's debug transcript, scoped down from the teacher's PlannerMetrics to
// what a single-exchange Planner can report.
type plannerMetrics struct {
	SessionID  string `json:"session_id"`
	StartTime  string `json:"start_time"`
	DurationMs int64  `json:"duration_ms"`
	HasPlan    bool   `json:"has_plan"`
	Error      string `json:"error,omitempty"`
}

// writeDebugArtifacts writes the exchange's debug transcript and metrics
// snapshot under DebugDir, gated on it being configured. Mirrors the
// teacher's Planner.writeDebugLog/writeMetricsLog: best-effort,
// warn-and-continue on failure, never affects the planning result.
func (p *Planner) writeDebugArtifacts(sessionID string, start time.Time, userInput string, result *Result, planErr error) {
	if p.DebugDir == "" {
		return
	}

	if err := os.MkdirAll(p.DebugDir, 0o755); err != nil {
		slog.Warn("planner: failed to create debug dir", "dir", p.DebugDir, "error", err)
		return
	}

	var transcript strings.Builder
	transcript.WriteString(fmt.Sprintf("=== PLANNER SESSION %s ===\n", sessionID))
	transcript.WriteString(fmt.Sprintf("Input: %s\n\n", userInput))
	switch {
	case planErr != nil:
		transcript.WriteString(fmt.Sprintf("[ERROR]\n%s\n", planErr))
	case result.Plan != nil:
		transcript.WriteString(fmt.Sprintf("[PLAN]\n%s\n", result.Plan.Goal))
	default:
		transcript.WriteString(fmt.Sprintf("[DIRECT ANSWER]\n%s\n", result.DirectAnswer))
	}

	transcriptFile := filepath.Join(p.DebugDir, fmt.Sprintf("planner_%s.txt", sessionID))
	if err := os.WriteFile(transcriptFile, []byte(transcript.String()), 0o644); err != nil {
		slog.Warn("planner: failed to write debug transcript", "file", transcriptFile, "error", err)
	}

	metrics := plannerMetrics{
		SessionID:  sessionID,
		StartTime:  start.Format(time.RFC3339),
		DurationMs: time.Since(start).Milliseconds(),
		HasPlan:    result != nil && result.Plan != nil,
	}
	if planErr != nil {
		metrics.Error = planErr.Error()
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		slog.Warn("planner: failed to marshal planner metrics", "error", err)
		return
	}

	metricsFile := filepath.Join(p.DebugDir, fmt.Sprintf("planner_metrics_%s.json", sessionID))
	if err := os.WriteFile(metricsFile, data, 0o644); err != nil {
		slog.Warn("planner: failed to write planner metrics", "file", metricsFile, "error", err)
	}
}

func (p *Planner) systemPrompt() string {
	if p.SystemPrompt != "" {
		return p.SystemPrompt
	}
	return defaultSystemPrompt
}

func buildUserMessage(userInput, projectContext string) string {
	if projectContext == "" {
		return userInput
	}
	return fmt.Sprintf("Project context:\n%s\n\nUser request:\n%s", projectContext, userInput)
}

// extractBalancedJSON scans s for the first balanced {...} object,
// tolerating prose an agent wraps its answer in. found is false if there
// is no '{' at all, or the braces never balance before s ends.
func extractBalancedJSON(s string) (candidate string, found bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// looksLikePlanShape reports whether candidate is a JSON object with a
// "plan" string field and a "tasks" array field — the minimal shape §8
// property 6 uses to distinguish a plan attempt from a direct answer,
// checked before the full domain.Plan unmarshal so a reply that merely
// happens to contain unrelated JSON never gets misclassified as a
// malformed plan.
func looksLikePlanShape(candidate string) bool {
	var probe struct {
		Plan  json.RawMessage `json:"plan"`
		Tasks json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return false
	}
	if len(probe.Plan) == 0 || len(probe.Tasks) == 0 {
		return false
	}

	var planField string
	if err := json.Unmarshal(probe.Plan, &planField); err != nil {
		return false
	}
	var tasksField []json.RawMessage
	if err := json.Unmarshal(probe.Tasks, &tasksField); err != nil {
		return false
	}
	return true
}

// defaultSystemPrompt enumerates the agent kinds the planner may assign
// tasks to and the output contract it must follow.
const defaultSystemPrompt = `You are the planning stage of a multi-agent coding assistant. Given a
user's request and a compact summary of the current project, decide
whether it calls for direct conversation or a plan of specialist agent
tasks.

Available agent kinds:
- search: locates relevant code, files, and existing patterns; read-only.
- research: investigates an external question (libraries, APIs, prior art).
- code: makes file changes — the only kind permitted to write or edit files.
- review: reads a code agent's diff and reports issues; read-only.
- test: writes or runs tests against a code agent's changes.
- docs: writes or updates documentation for a change.
- qa: runs project checks (build, lint, test commands) against a change.
- init: bootstraps a new project or scaffolds a new component.

If the request is a question, a clarification, or anything that doesn't
require touching the project, just answer it directly in plain text.

If the request calls for work, respond with exactly one JSON object and
nothing else:

{"plan": "<one-line summary of the goal>", "tasks": [
  {"agent": "<kind>", "description": "<what this task must accomplish>",
   "dependsOn": [<indices of earlier tasks this one needs>]}
]}

Keep the task list as small as the request allows. Only add a "review" or
"qa" task yourself if the request specifically asks for one — the quality
gate runs those automatically after any code change.`
