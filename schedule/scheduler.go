package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitq/orbit/workflow"
)

// DefaultTickInterval is how often the scheduler polls for due
// schedules. Cron granularity is one minute, so one poll per minute
// keeps firings timely without hammering the store.
const DefaultTickInterval = 60 * time.Second

// Launcher starts a workflow execution for a fired schedule. The
// scheduler does not wait for the run to finish.
type Launcher func(ctx context.Context, workflowID uuid.UUID)

// Scheduler owns the schedules of all workflows and the loop that
// fires them.
type Scheduler struct {
	st       Store
	launch   Launcher
	interval time.Duration
	log      *zap.Logger
}

// NewScheduler creates a scheduler. A non-positive interval falls back
// to DefaultTickInterval; logger may be nil.
func NewScheduler(st Store, launch Launcher, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{st: st, launch: launch, interval: interval, log: log}
}

// Set creates or replaces the workflow's schedule. The expression is
// validated and the first firing is armed immediately.
func (s *Scheduler) Set(ctx context.Context, workflowID uuid.UUID, expr, timezone string) (*workflow.Schedule, error) {
	if _, err := s.st.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	if err := Validate(expr, timezone); err != nil {
		return nil, err
	}

	sched := workflow.NewSchedule(workflowID, expr, timezone)
	if existing, err := s.st.GetSchedule(ctx, workflowID); err == nil {
		sched.ID = existing.ID
		sched.CreatedAt = existing.CreatedAt
		sched.LastRun = existing.LastRun
	}
	next, err := NextRun(expr, timezone, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	sched.NextRun = &next

	if err := s.st.UpsertSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("store schedule: %w", err)
	}
	return sched, nil
}

// Get returns the workflow's schedule.
func (s *Scheduler) Get(ctx context.Context, workflowID uuid.UUID) (*workflow.Schedule, error) {
	return s.st.GetSchedule(ctx, workflowID)
}

// Delete removes the workflow's schedule.
func (s *Scheduler) Delete(ctx context.Context, workflowID uuid.UUID) error {
	return s.st.DeleteSchedule(ctx, workflowID)
}

// SetEnabled pauses or resumes firing without losing the schedule.
// Re-enabling re-arms NextRun from the current time.
func (s *Scheduler) SetEnabled(ctx context.Context, workflowID uuid.UUID, enabled bool) (*workflow.Schedule, error) {
	sched, err := s.st.GetSchedule(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	sched.Enabled = enabled
	sched.UpdatedAt = time.Now().UTC()
	if enabled {
		next, err := NextRun(sched.CronExpression, sched.Timezone, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		sched.NextRun = &next
	}
	if err := s.st.UpsertSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("store schedule: %w", err)
	}
	return sched, nil
}

// Run polls for due schedules until the context is cancelled. Intended
// to run as a background goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", zap.Duration("tick", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick fires every due schedule once. Exported so tests and manual
// triggers can drive the loop with a controlled clock.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	due, err := s.st.ListDueSchedules(ctx, now)
	if err != nil {
		s.log.Warn("failed to list due schedules", zap.Error(err))
		return
	}

	for _, sched := range due {
		if err := s.fire(ctx, sched, now); err != nil {
			s.log.Warn("schedule firing failed",
				zap.String("workflow_id", sched.WorkflowID.String()),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, sched *workflow.Schedule, now time.Time) error {
	next, err := NextRun(sched.CronExpression, sched.Timezone, now)
	if err != nil {
		return err
	}

	wf, err := s.st.GetWorkflow(ctx, sched.WorkflowID)
	if errors.Is(err, workflow.ErrNotFound) {
		// Workflow is gone; keep the schedule row for inspection but
		// stop it from firing.
		s.log.Warn("disabling schedule for deleted workflow",
			zap.String("workflow_id", sched.WorkflowID.String()))
		sched.Enabled = false
		sched.UpdatedAt = now
		return s.st.UpsertSchedule(ctx, sched)
	}
	if err != nil {
		return err
	}

	// First arming of a schedule created without NextRun: don't fire,
	// just arm it.
	if sched.NextRun == nil {
		sched.NextRun = &next
		sched.UpdatedAt = now
		return s.st.UpsertSchedule(ctx, sched)
	}

	sched.NextRun = &next
	sched.UpdatedAt = now

	if wf.Status == workflow.StatusRunning {
		// Skip this firing but advance, so the next slot still fires.
		s.log.Info("workflow still running, skipping scheduled firing",
			zap.String("workflow_id", wf.ID.String()),
			zap.Time("next_run", next))
		return s.st.UpsertSchedule(ctx, sched)
	}

	last := now
	sched.LastRun = &last
	if err := s.st.UpsertSchedule(ctx, sched); err != nil {
		return err
	}

	s.log.Info("firing schedule",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("cron", sched.CronExpression),
		zap.Time("next_run", next))
	s.launch(ctx, sched.WorkflowID)
	return nil
}
