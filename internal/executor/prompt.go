package executor

import (
	"sort"
	"strings"

	"agentcore/internal/compactor"
	"agentcore/internal/domain"
)

// promptSection is one candidate piece of a task's initial user message.
// Lower Priority means "drop me last"; Required sections are always kept
// regardless of budget (§4.3's system-prompt-never-dropped rule extends to
// the task description itself — a task run with no description is not a
// task).
type promptSection struct {
	name     string
	content  string
	priority int
	required bool
}

// buildTaskPrompt assembles the droppable sections of a task's user message
// in priority order, keeping every required section and as many optional
// ones as fit budgetTokens. A budgetTokens of 0 disables dropping — every
// non-empty section is kept.
func buildTaskPrompt(description, dependencyContext, workingStateSummary, projectContext string, excludeProjectContext bool, budgetTokens int) string {
	sections := []promptSection{
		{name: "task", content: description, priority: 0, required: true},
	}
	if dependencyContext != "" {
		sections = append(sections, promptSection{
			name:     "dependencies",
			content:  "Context from completed prerequisite tasks:\n" + dependencyContext,
			priority: 1,
		})
	}
	if workingStateSummary != "" {
		sections = append(sections, promptSection{
			name:     "working-state",
			content:  "Project memory:\n" + workingStateSummary,
			priority: 2,
		})
	}
	if !excludeProjectContext && projectContext != "" {
		sections = append(sections, promptSection{
			name:     "project-context",
			content:  "Project context:\n" + projectContext,
			priority: 3,
		})
	}

	sort.SliceStable(sections, func(i, j int) bool { return sections[i].priority < sections[j].priority })

	var kept []promptSection
	used := 0
	for _, s := range sections {
		cost := compactor.EstimateTokens(s.content)
		if s.required || budgetTokens <= 0 || used+cost <= budgetTokens {
			kept = append(kept, s)
			used += cost
			continue
		}
		// lower-priority optional section dropped under budget pressure
	}

	parts := make([]string, 0, len(kept))
	for _, s := range kept {
		parts = append(parts, s.content)
	}
	return strings.Join(parts, "\n\n")
}

// buildInitialMessages returns the [system, user] starting point for a
// task's conversation: the agent profile's system prompt (never dropped)
// followed by the priority-ordered, budget-trimmed task prompt.
func buildInitialMessages(profile domain.AgentProfile, description, dependencyContext, workingStateSummary, projectContext string, budgetTokens int) []domain.ChatMessage {
	user := buildTaskPrompt(description, dependencyContext, workingStateSummary, projectContext, profile.ExcludeProjectContext, budgetTokens)
	return []domain.ChatMessage{
		domain.System(profile.SystemPrompt),
		domain.User(user),
	}
}
