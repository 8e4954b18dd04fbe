package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Execution is one recorded run of a workflow, scheduled or manual.
type Execution struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	Status    Status `json:"status"`
	Trigger   string `json:"trigger"`
	Error     string `json:"error,omitempty"`
	TasksRun  int    `json:"tasks_run"`
	TasksDone int    `json:"tasks_done"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Execution triggers.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// NewExecution starts an execution record for a workflow run.
func NewExecution(workflowID uuid.UUID, trigger string) *Execution {
	return &Execution{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Status:     StatusRunning,
		Trigger:    trigger,
		StartedAt:  time.Now().UTC(),
	}
}

// Finish stamps the terminal status and end time.
func (e *Execution) Finish(status Status, errMsg string) {
	now := time.Now().UTC()
	e.Status = status
	e.Error = errMsg
	e.FinishedAt = &now
}

// Duration returns the elapsed run time, using now for executions still
// in flight.
func (e *Execution) Duration() time.Duration {
	end := time.Now().UTC()
	if e.FinishedAt != nil {
		end = *e.FinishedAt
	}
	return end.Sub(e.StartedAt)
}

// TaskExecution is one recorded attempt of a task within a workflow
// run. Retries append one record per attempt, so the history shows how
// a task reached its final status.
type TaskExecution struct {
	ID          uuid.UUID `json:"id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	WorkflowID  uuid.UUID `json:"workflow_id"`
	TaskID      uuid.UUID `json:"task_id"`
	TaskName    string    `json:"task_name"`

	// Attempt is 0 for the initial run, 1.. for retries.
	Attempt int    `json:"attempt"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewTaskExecution starts an attempt record for a task.
func NewTaskExecution(executionID uuid.UUID, t *Task, attempt int) *TaskExecution {
	return &TaskExecution{
		ID:          uuid.New(),
		ExecutionID: executionID,
		WorkflowID:  t.WorkflowID,
		TaskID:      t.ID,
		TaskName:    t.Name,
		Attempt:     attempt,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
}

// Finish stamps the attempt's terminal status and end time.
func (e *TaskExecution) Finish(status Status, errMsg string) {
	now := time.Now().UTC()
	e.Status = status
	e.Error = errMsg
	e.FinishedAt = &now
}

// Duration returns the attempt's elapsed time, using now for attempts
// still in flight.
func (e *TaskExecution) Duration() time.Duration {
	end := time.Now().UTC()
	if e.FinishedAt != nil {
		end = *e.FinishedAt
	}
	return end.Sub(e.StartedAt)
}
