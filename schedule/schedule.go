// Package schedule manages cron schedules for workflows and runs the
// tick loop that fires them.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/orbitq/orbit/workflow"
)

// Store is the slice of persistence the scheduler needs.
type Store interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error)

	UpsertSchedule(ctx context.Context, s *workflow.Schedule) error
	GetSchedule(ctx context.Context, workflowID uuid.UUID) (*workflow.Schedule, error)
	ListSchedules(ctx context.Context) ([]*workflow.Schedule, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]*workflow.Schedule, error)
	DeleteSchedule(ctx context.Context, workflowID uuid.UUID) error
}

// Validate checks a standard 5-field cron expression and timezone.
func Validate(expr, timezone string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return workflow.NewError("INVALID_CRON",
			fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return workflow.NewError("INVALID_TIMEZONE",
				fmt.Sprintf("unknown timezone %q", timezone), err)
		}
	}
	return nil
}

// NextRun computes the first firing instant strictly after now,
// evaluated in the schedule's timezone and returned in UTC.
//
// Always passing the current time, never the previously scheduled
// slot, makes missed firings collapse into one instead of bursting.
func NextRun(expr, timezone string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, workflow.NewError("INVALID_CRON",
			fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, workflow.NewError("INVALID_TIMEZONE",
				fmt.Sprintf("unknown timezone %q", timezone), err)
		}
	}
	return sched.Next(now.In(loc)).UTC(), nil
}
