package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Dynamic task group kinds.
const (
	GroupMap    = "map"
	GroupReduce = "reduce"
)

// TaskGroup is a dynamic map or reduce fan-out attached to a workflow.
// A map group expands a task template once per input item and runs the
// expansions in parallel; a reduce group runs a single task over an
// input sequence. Total, Completed and Failed track per-item outcomes
// with Completed+Failed <= Total.
type TaskGroup struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	ParentTaskName string `json:"parent_task_name"`
	Kind           string `json:"kind"`

	Items        []any          `json:"items"`
	TaskTemplate map[string]any `json:"task_template"`

	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Results   []any  `json:"results,omitempty"`
	Status    Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTaskGroup creates a pending group. For map groups total is the
// item count; reduce groups always have total 1.
func NewTaskGroup(workflowID uuid.UUID, parentTaskName, kind string, items []any, template map[string]any) *TaskGroup {
	total := len(items)
	if kind == GroupReduce {
		total = 1
	}
	now := time.Now().UTC()
	return &TaskGroup{
		ID:             uuid.New(),
		WorkflowID:     workflowID,
		ParentTaskName: parentTaskName,
		Kind:           kind,
		Items:          items,
		TaskTemplate:   template,
		Total:          total,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Progress reports completion as a percentage in [0,100].
func (g *TaskGroup) Progress() float64 {
	if g.Total == 0 {
		return 100
	}
	return float64(g.Completed+g.Failed) / float64(g.Total) * 100
}
