package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ControlStore is the slice of the repository the controller needs.
type ControlStore interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, w *Workflow) error
}

// Enqueuer re-submits a workflow for execution, typically by spawning a
// runner for it. Resume uses it so resumed workflows pick up from their
// first pending layer.
type Enqueuer func(workflowID uuid.UUID)

// Controller applies pause/resume/cancel lifecycle operations to
// persisted workflows.
//
// The state machine:
//
//	pending  --pause-->  paused    pending  --cancel--> cancelled
//	running  --pause-->  paused    running  --cancel--> cancelled
//	paused   --resume--> pending   paused   --cancel--> cancelled
//	terminal states accept nothing
//
// The task runner observes these transitions by re-reading the persisted
// status between layers; that boundary is the only coordination point,
// so a layer already in flight finishes before a pause takes effect.
type Controller struct {
	st      ControlStore
	enqueue Enqueuer
	log     *zap.Logger
}

// NewController builds a controller. enqueue may be nil when resumption
// re-submission is handled elsewhere; logger may be nil.
func NewController(st ControlStore, enqueue Enqueuer, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{st: st, enqueue: enqueue, log: log}
}

// Pause suspends a pending or running workflow. Pausing an already
// paused workflow is a no-op that returns the workflow unchanged.
func (c *Controller) Pause(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	w, err := c.st.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if w.Status == StatusPaused {
		c.log.Warn("workflow already paused", zap.String("workflow_id", id.String()))
		return w, nil
	}
	if w.Status != StatusPending && w.Status != StatusRunning {
		return nil, NewError("INVALID_TRANSITION",
			fmt.Sprintf("cannot pause workflow in %q state", w.Status),
			ErrInvalidTransition)
	}

	now := time.Now().UTC()
	w.Status = StatusPaused
	w.PausedAt = &now
	w.UpdatedAt = now
	if err := c.st.UpdateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	c.log.Info("paused workflow", zap.String("workflow_id", id.String()))
	return w, nil
}

// Resume moves a paused workflow back to pending and re-enqueues it.
// Execution restarts from the first layer containing a pending task;
// results of completed layers are preserved, so successful tasks do not
// rerun.
func (c *Controller) Resume(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	w, err := c.st.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if w.Status != StatusPaused {
		return nil, NewError("INVALID_TRANSITION",
			fmt.Sprintf("cannot resume workflow in %q state", w.Status),
			ErrInvalidTransition)
	}

	w.Status = StatusPending
	w.PausedAt = nil
	w.UpdatedAt = time.Now().UTC()
	if err := c.st.UpdateWorkflow(ctx, w); err != nil {
		return nil, err
	}

	c.log.Info("resumed workflow", zap.String("workflow_id", id.String()))
	if c.enqueue != nil {
		c.enqueue(id)
	}
	return w, nil
}

// Cancel permanently stops a workflow. A cancelled workflow never
// transitions back to a non-terminal state.
func (c *Controller) Cancel(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	w, err := c.st.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if w.Status.Terminal() {
		return nil, NewError("INVALID_TRANSITION",
			fmt.Sprintf("cannot cancel workflow in %q state", w.Status),
			ErrInvalidTransition)
	}

	now := time.Now().UTC()
	w.Status = StatusCancelled
	w.PausedAt = nil
	w.UpdatedAt = now
	if err := c.st.UpdateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	c.log.Info("cancelled workflow", zap.String("workflow_id", id.String()))
	return w, nil
}

// StatusReport describes a workflow's lifecycle position and which
// operations currently apply. The transport layer serves this verbatim.
type StatusReport struct {
	WorkflowID string     `json:"workflow_id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	IsPaused   bool       `json:"is_paused"`
	PausedAt   *time.Time `json:"paused_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	CanPause   bool       `json:"can_pause"`
	CanResume  bool       `json:"can_resume"`
	CanCancel  bool       `json:"can_cancel"`
}

// Status reports the current lifecycle capabilities of a workflow.
func (c *Controller) Status(ctx context.Context, id uuid.UUID) (*StatusReport, error) {
	w, err := c.st.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		WorkflowID: w.ID.String(),
		Name:       w.Name,
		Status:     w.Status,
		IsPaused:   w.Status == StatusPaused,
		PausedAt:   w.PausedAt,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
		CanPause:   w.Status == StatusPending || w.Status == StatusRunning,
		CanResume:  w.Status == StatusPaused,
		CanCancel:  !w.Status.Terminal(),
	}, nil
}
