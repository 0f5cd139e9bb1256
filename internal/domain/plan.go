package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlanTask is one node in a Plan's task graph. DependsOn indexes refer only
// to earlier tasks in the same plan (§3 invariant) — the graph is acyclic
// by construction.
type PlanTask struct {
	Agent              AgentKind `json:"agent"`
	Description        string    `json:"description"`
	DependsOn          []int     `json:"dependsOn,omitempty"`
	CompactDependency  bool      `json:"toonCompact,omitempty"`
	ExcludeFromSummary bool      `json:"excludeFromSummary,omitempty"`
}

// Plan is a goal summary plus an ordered, acyclic-by-construction DAG of
// PlanTasks (§3, §4.1).
type Plan struct {
	Goal  string     `json:"plan"`
	Tasks []PlanTask `json:"tasks"`
}

// Validate checks the acyclic-by-construction invariant: every DependsOn
// index must refer to a strictly earlier task. It does not need to detect
// cycles among later indices since the wire format can't construct one,
// but a malformed or hand-built Plan could violate this, so callers that
// accept a Plan from outside parse_plan should call Validate.
func (p Plan) Validate() error {
	for i, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if dep < 0 || dep >= i {
				return &InvalidPlanError{TaskIndex: i, BadDependency: dep}
			}
		}
	}
	return nil
}

// InvalidPlanError reports a PlanTask whose prerequisite does not refer to
// a strictly earlier task.
type InvalidPlanError struct {
	TaskIndex     int
	BadDependency int
}

func (e *InvalidPlanError) Error() string {
	return "plan task has a prerequisite that is not a strictly earlier task"
}

// TaskStatus is a ManagedTask's position in the pending -> in_progress ->
// {completed, failed} state machine (§3 invariant). failed -> pending only
// via retry, and only the retry count tracks that transition.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ManagedTask extends a PlanTask with scheduler-owned mutable execution
// state (§3).
type ManagedTask struct {
	ID              uuid.UUID
	Index           int
	PlanTask        PlanTask
	Status          TaskStatus
	Result          *AgentResult
	FailureError    string
	RetryCount      int // capped at 1 for the whole plan
	TimeoutOverride *time.Duration
}

// NewManagedTasks builds the initial ManagedTask list for a Plan: statuses
// start pending, retry count 0, stable UUIDs assigned (§4.2 step 1).
func NewManagedTasks(plan Plan) []*ManagedTask {
	tasks := make([]*ManagedTask, len(plan.Tasks))
	for i, t := range plan.Tasks {
		tasks[i] = &ManagedTask{
			ID:       uuid.New(),
			Index:    i,
			PlanTask: t,
			Status:   TaskPending,
		}
	}
	return tasks
}

// EffectiveTimeout resolves a ManagedTask's wall-clock deadline: the
// override if one was set by timeout-retry recovery, else the agent
// profile's Max, always capped at 3x the profile's hard maximum (§5, §9).
func (t *ManagedTask) EffectiveTimeout(profile AgentProfile) time.Duration {
	ceiling := profile.Timeouts.RetryCeiling()
	if t.TimeoutOverride != nil {
		if *t.TimeoutOverride > ceiling {
			return ceiling
		}
		return *t.TimeoutOverride
	}
	return profile.Timeouts.Max()
}

// AgentResult is the outcome of one Agent Executor Loop run (§3).
type AgentResult struct {
	TaskID           uuid.UUID
	Success          bool
	Output           string
	Summary          string
	FilesModified    []string
	FilesCreated     []string
	PromptTokens     int
	CompletionTokens int
}

// HasFileChanges reports whether this result touched the filesystem, the
// trigger condition for the Quality Gate Machine (§4.4).
func (r AgentResult) HasFileChanges() bool {
	return len(r.FilesModified) > 0 || len(r.FilesCreated) > 0
}

// ChangedFiles returns the union of modified and created paths.
func (r AgentResult) ChangedFiles() []string {
	out := make([]string, 0, len(r.FilesModified)+len(r.FilesCreated))
	out = append(out, r.FilesModified...)
	out = append(out, r.FilesCreated...)
	return out
}
