package domain

import "time"

const WorkingStateSchemaVersion = 1

// MaxRecentDecisions bounds the append-only decisions list (§3 invariant).
const MaxRecentDecisions = 20

// TaskOpenStatus is an open-task's lifecycle position within WorkingState,
// distinct from the scheduler's TaskStatus — this one tracks project-level
// work the Orchestrator reports across turns, not a single plan's execution.
type TaskOpenStatus string

const (
	OpenTaskOpen       TaskOpenStatus = "open"
	OpenTaskInProgress TaskOpenStatus = "in_progress"
	OpenTaskDone       TaskOpenStatus = "done"
)

// Decision is one append-only entry in WorkingState.RecentDecisions.
type Decision struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Why       string    `json:"why"`
	Timestamp time.Time `json:"timestamp"`
}

// OpenTask is one tracked project-level task in WorkingState.TasksOpen.
type OpenTask struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Status    TaskOpenStatus `json:"status"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// WorkingState is the versioned project-memory record persisted between
// turns in a project-local directory (§3, §4.7).
type WorkingState struct {
	SchemaVersion   int               `json:"schemaVersion"`
	LastUpdated     time.Time         `json:"lastUpdated"`
	Goal            string            `json:"goal"`
	Now             string            `json:"now"`
	RecentDecisions []Decision        `json:"recentDecisions"`
	TasksOpen       []OpenTask        `json:"tasksOpen"`
	Conventions     map[string]string `json:"conventions"`
}

// NewWorkingState returns an empty WorkingState at the current schema
// version, ready for its first write.
func NewWorkingState() WorkingState {
	return WorkingState{
		SchemaVersion: WorkingStateSchemaVersion,
		Conventions:   map[string]string{},
	}
}

// AddDecision appends a decision, then truncates to the MaxRecentDecisions
// most recent entries — the bounded, append-only invariant.
func (w *WorkingState) AddDecision(d Decision) {
	w.RecentDecisions = append(w.RecentDecisions, d)
	if len(w.RecentDecisions) > MaxRecentDecisions {
		w.RecentDecisions = w.RecentDecisions[len(w.RecentDecisions)-MaxRecentDecisions:]
	}
}

// CompactTasksOpen drops done tasks older than keepDone most recent ones,
// applied on each write per the §3 invariant. Open and in_progress tasks
// are never dropped.
func (w *WorkingState) CompactTasksOpen(keepDone int) {
	kept := make([]OpenTask, 0, len(w.TasksOpen))
	done := make([]OpenTask, 0)
	for _, t := range w.TasksOpen {
		if t.Status == OpenTaskDone {
			done = append(done, t)
			continue
		}
		kept = append(kept, t)
	}
	if len(done) > keepDone {
		done = done[len(done)-keepDone:]
	}
	w.TasksOpen = append(kept, done...)
}
