package qualitygate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"agentcore/internal/domain"
)

const defaultMaxAutoFixIterations = 2

// ReviewIssue is one finding in a ReviewReport (§4.4, §6).
type ReviewIssue struct {
	File       string `json:"file"`
	Line       *int   `json:"line,omitempty"`
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ReviewReport is the review agent's structured output.
type ReviewReport struct {
	FilesReviewed []string      `json:"filesReviewed"`
	Issues        []ReviewIssue `json:"issues"`
	OverallScore  float64       `json:"overallScore"`
	Approved      bool          `json:"approved"`
	Summary       string        `json:"summary,omitempty"`
}

// QACheck is one named check in a QAReport.
type QACheck struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Passed  bool   `json:"passed"`
	Output  string `json:"output"`
}

// QAReport is the qa agent's structured output.
type QAReport struct {
	Checks   []QACheck `json:"checks"`
	Passed   bool      `json:"passed"`
	Blockers []string  `json:"blockers,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// AgentRunFunc invokes one agent kind's Agent Executor Loop through the
// scheduler's own per-task execution path and returns its result.
type AgentRunFunc func(ctx context.Context, kind domain.AgentKind, description string) (*domain.AgentResult, error)

// Outcome is the gate's final verdict plus any reports it collected.
type Outcome struct {
	Approved     bool
	ChangedFiles []string
	Review       *ReviewReport
	QA           *QAReport
	Warnings     []string
}

// Gate drives the review -> autofix -> review -> qa chain for one code
// result.
type Gate struct {
	RunAgent             AgentRunFunc
	MaxAutoFixIterations int // default 2, per §4.4's "fixed bound (default 2)"
}

// NewGate builds a Gate backed by runAgent.
func NewGate(runAgent AgentRunFunc) *Gate {
	return &Gate{RunAgent: runAgent, MaxAutoFixIterations: defaultMaxAutoFixIterations}
}

// Run applies the gate to a code agent's result. If neither the risk
// predicate nor the file-count threshold trips, the result passes
// untouched. Any error returned here is a transport-level failure running
// the review/code/qa agent itself, not a structured-output parse failure
// (those are swallowed into an approved/passed report per §4.4 step 2).
func (g *Gate) Run(ctx context.Context, codeResult *domain.AgentResult, description string) (*Outcome, error) {
	changed := codeResult.ChangedFiles()
	if !RequiresReview(changed, description) {
		return &Outcome{Approved: true, ChangedFiles: changed}, nil
	}

	maxIter := g.MaxAutoFixIterations
	if maxIter <= 0 {
		maxIter = defaultMaxAutoFixIterations
	}

	review, err := g.runReview(ctx, changed, description)
	if err != nil {
		return nil, err
	}

	iterations := 0
	for !review.Approved && iterations < maxIter {
		fixResult, err := g.RunAgent(ctx, domain.AgentCode, formatIssuesForFix(description, review.Issues))
		if err != nil {
			return nil, err
		}
		if fixResult != nil {
			changed = mergeChangedFiles(changed, fixResult.ChangedFiles())
		}

		review, err = g.runReview(ctx, changed, description)
		if err != nil {
			return nil, err
		}
		iterations++
	}

	outcome := &Outcome{Approved: review.Approved, ChangedFiles: changed, Review: review}
	if !review.Approved {
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("quality gate: review did not approve after %d auto-fix iteration(s)", iterations))
		return outcome, nil
	}

	if RequiresQA(changed, description) {
		qa, err := g.runQA(ctx, changed, description)
		if err != nil {
			return nil, err
		}
		outcome.QA = qa
		if !qa.Passed {
			outcome.Warnings = append(outcome.Warnings, "quality gate: qa did not pass: "+strings.Join(qa.Blockers, "; "))
		}
	}

	return outcome, nil
}

func (g *Gate) runReview(ctx context.Context, changed []string, description string) (*ReviewReport, error) {
	result, err := g.RunAgent(ctx, domain.AgentReview, reviewPrompt(changed, description))
	if err != nil {
		return nil, err
	}

	var report ReviewReport
	if err := json.Unmarshal([]byte(extractJSON(result.Output)), &report); err != nil {
		slog.WarnContext(ctx, "qualitygate: review output failed to parse, treating as pass", "error", err)
		return &ReviewReport{Approved: true, Summary: "review output unparsable, treated as pass"}, nil
	}
	return &report, nil
}

func (g *Gate) runQA(ctx context.Context, changed []string, description string) (*QAReport, error) {
	result, err := g.RunAgent(ctx, domain.AgentQA, qaPrompt(changed, description))
	if err != nil {
		return nil, err
	}

	var report QAReport
	if err := json.Unmarshal([]byte(extractJSON(result.Output)), &report); err != nil {
		slog.WarnContext(ctx, "qualitygate: qa output failed to parse, treating as pass", "error", err)
		return &QAReport{Passed: true}, nil
	}
	return &report, nil
}

func reviewPrompt(changed []string, description string) string {
	return fmt.Sprintf(`Review the following changed files against the task they were meant to accomplish.

Task: %s

Changed files: %s

Respond with exactly one JSON object matching this shape:
{"filesReviewed":["..."],"issues":[{"file":"...","line":0,"severity":"...","category":"...","message":"...","suggestion":"..."}],"overallScore":0.0,"approved":true,"summary":"..."}`,
		description, strings.Join(changed, ", "))
}

func qaPrompt(changed []string, description string) string {
	return fmt.Sprintf(`Run QA checks appropriate to the following changed files and task.

Task: %s

Changed files: %s

Respond with exactly one JSON object matching this shape:
{"checks":[{"name":"...","command":"...","passed":true,"output":"..."}],"passed":true,"blockers":["..."],"warnings":["..."]}`,
		description, strings.Join(changed, ", "))
}

func formatIssuesForFix(description string, issues []ReviewIssue) string {
	var sb strings.Builder
	sb.WriteString("Address the following review issues for: ")
	sb.WriteString(description)
	sb.WriteString("\n\n")
	for _, iss := range issues {
		loc := iss.File
		if iss.Line != nil {
			loc = fmt.Sprintf("%s:%d", iss.File, *iss.Line)
		}
		fmt.Fprintf(&sb, "- [%s/%s] %s: %s\n", iss.Severity, iss.Category, loc, iss.Message)
		if iss.Suggestion != "" {
			sb.WriteString("  suggestion: " + iss.Suggestion + "\n")
		}
	}
	return sb.String()
}

func mergeChangedFiles(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, f := range a {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range b {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// extractJSON scans s for the first balanced {...} object, tolerating any
// prose an agent wraps its JSON answer in.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}
