// Package workflow defines the core data model for the orchestration
// engine: workflows, tasks, lifecycle statuses, retry policies, the DAG
// validator, and the pause/resume/cancel state machine.
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a workflow or task.
type Status string

// Workflow and task lifecycle statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal workflows accept
// no further lifecycle operations.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Workflow is a user-declared DAG of tasks with a lifecycle status.
//
// A Workflow owns its Tasks, Versions, Schedule, Variables, Secrets,
// DynamicTaskGroups, IdempotencyKeys, and Executions; deleting a
// workflow cascades to all of them.
type Workflow struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`

	// Tasks is populated when the workflow is loaded with its tasks.
	Tasks []*Task `json:"tasks,omitempty"`
}

// NewWorkflow creates a pending workflow with a fresh id.
func NewWorkflow(name, description string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Task is a single unit of work inside a workflow. Task names are unique
// within their workflow and dependencies refer to sibling task names.
type Task struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	Name          string         `json:"name"`
	ActionType    string         `json:"action_type"`
	ActionPayload map[string]any `json:"action_payload,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty"`

	RetryPolicy    *RetryPolicy `json:"retry_policy,omitempty"`
	TimeoutSeconds float64      `json:"timeout_seconds,omitempty"`

	Status     Status         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	RetryCount int            `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask creates a pending task bound to a workflow.
func NewTask(workflowID uuid.UUID, name, actionType string, payload map[string]any, deps []string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:            uuid.New(),
		WorkflowID:    workflowID,
		Name:          name,
		ActionType:    actionType,
		ActionPayload: payload,
		Dependencies:  deps,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Timeout returns the per-task wall clock limit, or zero when unset.
func (t *Task) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(t.TimeoutSeconds * float64(time.Second))
}

// Definition is the canonical, version-controlled shape of a workflow:
// its name, description, and ordered task list with all task fields. It
// is what the versioning engine snapshots and checksums, and what
// rollback restores.
type Definition struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tasks       []TaskDef `json:"tasks"`
}

// TaskDef is the definition-level view of a task, without runtime state.
type TaskDef struct {
	Name           string         `json:"name"`
	ActionType     string         `json:"action_type"`
	ActionPayload  map[string]any `json:"action_payload"`
	Dependencies   []string       `json:"dependencies"`
	RetryPolicy    *RetryPolicy   `json:"retry_policy"`
	TimeoutSeconds float64        `json:"timeout_seconds"`
}

// Definition extracts the canonical definition from a loaded workflow.
// Task order follows w.Tasks.
func (w *Workflow) Definition() Definition {
	def := Definition{
		Name:        w.Name,
		Description: w.Description,
		Tasks:       make([]TaskDef, 0, len(w.Tasks)),
	}
	for _, t := range w.Tasks {
		def.Tasks = append(def.Tasks, TaskDef{
			Name:           t.Name,
			ActionType:     t.ActionType,
			ActionPayload:  t.ActionPayload,
			Dependencies:   t.Dependencies,
			RetryPolicy:    t.RetryPolicy,
			TimeoutSeconds: t.TimeoutSeconds,
		})
	}
	return def
}

// Materialize converts a definition back into workflow tasks bound to
// the given workflow id. Used by rollback and template instantiation.
func (d Definition) Materialize(workflowID uuid.UUID) []*Task {
	tasks := make([]*Task, 0, len(d.Tasks))
	for _, td := range d.Tasks {
		t := NewTask(workflowID, td.Name, td.ActionType, td.ActionPayload, td.Dependencies)
		t.RetryPolicy = td.RetryPolicy
		t.TimeoutSeconds = td.TimeoutSeconds
		tasks = append(tasks, t)
	}
	return tasks
}
