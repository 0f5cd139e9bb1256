package workingstate

import (
	"fmt"
	"sort"
	"strings"

	"agentcore/internal/domain"
)

// CompactForm renders a WorkingState into the short textual summary the
// orchestrator injects into every agent's system/task prompt (§4.7) —
// dense enough to carry forward goal, recent decisions, and open tasks,
// short enough to survive the Prompt Builder's lowest-priority-first drop
// under budget pressure.
func CompactForm(ws *domain.WorkingState) string {
	if ws == nil {
		return ""
	}

	var sb strings.Builder

	if ws.Goal != "" {
		fmt.Fprintf(&sb, "Goal: %s\n", ws.Goal)
	}
	if ws.Now != "" {
		fmt.Fprintf(&sb, "Now: %s\n", ws.Now)
	}

	if len(ws.RecentDecisions) > 0 {
		sb.WriteString("Recent decisions:\n")
		for _, d := range ws.RecentDecisions {
			fmt.Fprintf(&sb, "- %s: %s\n", d.Title, d.Why)
		}
	}

	if len(ws.TasksOpen) > 0 {
		sb.WriteString("Open tasks:\n")
		for _, task := range ws.TasksOpen {
			fmt.Fprintf(&sb, "- [%s] %s\n", task.Status, task.Title)
		}
	}

	if len(ws.Conventions) > 0 {
		keys := make([]string, 0, len(ws.Conventions))
		for k := range ws.Conventions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Conventions:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, ws.Conventions[k])
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}
