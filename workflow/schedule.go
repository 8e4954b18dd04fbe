package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Schedule configures periodic execution of one workflow from a
// standard 5-field cron expression. At most one schedule exists per
// workflow.
//
// When enabled, NextRun is the smallest future instant satisfying the
// cron expression as of the last recalculation. The scheduler always
// recomputes NextRun from the current time, never from the previous
// scheduled slot, so missed firings collapse instead of bursting.
type Schedule struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
	Enabled        bool   `json:"enabled"`

	NextRun *time.Time `json:"next_run,omitempty"`
	LastRun *time.Time `json:"last_run,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSchedule creates an enabled schedule for a workflow. NextRun is
// unset until the scheduler computes it.
func NewSchedule(workflowID uuid.UUID, cronExpression, timezone string) *Schedule {
	if timezone == "" {
		timezone = "UTC"
	}
	now := time.Now().UTC()
	return &Schedule{
		ID:             uuid.New(),
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		Timezone:       timezone,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Due reports whether the schedule should fire at the given instant. A
// schedule with no computed NextRun is considered due so the scheduler
// initializes it on the next tick.
func (s *Schedule) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return s.NextRun == nil || !s.NextRun.After(now)
}
