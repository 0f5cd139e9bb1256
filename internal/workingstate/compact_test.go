package workingstate

import (
	"strings"
	"testing"

	"agentcore/internal/domain"
)

func TestCompactFormRendersAllSections(t *testing.T) {
	t.Parallel()

	ws := domain.NewWorkingState()
	ws.Goal = "ship the login endpoint"
	ws.Now = "wiring the handler"
	ws.AddDecision(domain.Decision{Title: "use JWT", Why: "matches the rest of the auth stack"})
	ws.TasksOpen = append(ws.TasksOpen, domain.OpenTask{Title: "write tests", Status: domain.OpenTaskOpen})
	ws.Conventions["errors"] = "wrap with %w"

	out := CompactForm(&ws)

	for _, want := range []string{
		"Goal: ship the login endpoint",
		"Now: wiring the handler",
		"Recent decisions:",
		"- use JWT: matches the rest of the auth stack",
		"Open tasks:",
		"- [open] write tests",
		"Conventions:",
		"- errors: wrap with %w",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestCompactFormOmitsEmptySections(t *testing.T) {
	t.Parallel()

	ws := domain.NewWorkingState()
	ws.Goal = "just getting started"

	out := CompactForm(&ws)
	if strings.Contains(out, "Recent decisions:") || strings.Contains(out, "Open tasks:") || strings.Contains(out, "Conventions:") {
		t.Fatalf("expected empty sections to be omitted, got:\n%s", out)
	}
	if !strings.Contains(out, "Goal: just getting started") {
		t.Fatalf("expected the goal line, got:\n%s", out)
	}
}

func TestCompactFormHandlesNil(t *testing.T) {
	t.Parallel()

	if got := CompactForm(nil); got != "" {
		t.Fatalf("expected an empty string for a nil state, got %q", got)
	}
}
