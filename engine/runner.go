// Package engine executes workflows: layered parallel task execution
// with retries, timeouts, idempotency claims, variable interpolation,
// status events and metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitq/orbit/emit"
	"github.com/orbitq/orbit/idempotency"
	"github.com/orbitq/orbit/workflow"
)

// Store is the slice of persistence the runner needs.
type Store interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error)
	ListWorkflowsByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error
	UpdateTask(ctx context.Context, t *workflow.Task) error

	AppendExecution(ctx context.Context, e *workflow.Execution) error
	UpdateExecution(ctx context.Context, e *workflow.Execution) error
	AppendTaskExecution(ctx context.Context, e *workflow.TaskExecution) error

	CreateTaskGroup(ctx context.Context, g *workflow.TaskGroup) error
	UpdateTaskGroup(ctx context.Context, g *workflow.TaskGroup) error
}

// Interpolator resolves ${scope:key} references inside task payloads.
// *vars.Service satisfies it.
type Interpolator interface {
	Interpolate(ctx context.Context, workflowID uuid.UUID, value any) (any, error)
}

// IdemGuard claims and resolves idempotency keys around task runs.
// *idempotency.Guard satisfies it.
type IdemGuard interface {
	Begin(ctx context.Context, workflowID uuid.UUID, taskName string, payload map[string]any) (string, idempotency.Outcome, error)
	Complete(ctx context.Context, key string, result map[string]any) error
	Fail(ctx context.Context, key, errMsg string) error
}

// Options carries the runner's optional collaborators. Every field may
// be left nil; the runner degrades to bare execution.
type Options struct {
	Emitter      emit.Emitter
	Interpolator Interpolator
	Idempotency  IdemGuard
	Metrics      *Metrics
	Logger       *zap.Logger
}

// Runner executes workflows against a store.
//
// Execution is layered: the task DAG is topologically sorted into
// dependency layers and each layer runs its tasks in parallel,
// advancing only when the whole layer is done. The workflow's persisted
// status is re-read between layers; that boundary is where pause and
// cancel take effect.
type Runner struct {
	st       Store
	registry *Registry

	emitter emit.Emitter
	interp  Interpolator
	guard   IdemGuard
	metrics *Metrics
	log     *zap.Logger
}

// NewRunner creates a runner. A nil registry gets the builtins.
func NewRunner(st Store, registry *Registry, opts Options) *Runner {
	if registry == nil {
		registry = NewRegistry()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		st:       st,
		registry: registry,
		emitter:  emitter,
		interp:   opts.Interpolator,
		guard:    opts.Idempotency,
		metrics:  opts.Metrics,
		log:      log,
	}
}

// Execute runs a workflow to a terminal status, or to the pause
// boundary if it is paused mid-run. The trigger is recorded in the
// execution history ("manual" or "schedule").
//
// A workflow that is already running is rejected; paused and cancelled
// workflows must go through their lifecycle operations first. Completed
// and failed workflows may be re-executed; tasks already completed keep
// their results and are skipped, which is also how resume picks up
// after a pause.
func (r *Runner) Execute(ctx context.Context, workflowID uuid.UUID, trigger string) (*workflow.Workflow, error) {
	wf, err := r.st.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	switch wf.Status {
	case workflow.StatusRunning:
		return nil, workflow.NewError("INVALID_TRANSITION",
			"workflow is already running", workflow.ErrInvalidTransition)
	case workflow.StatusPaused, workflow.StatusCancelled:
		return nil, workflow.NewError("INVALID_TRANSITION",
			fmt.Sprintf("cannot execute workflow in %q state", wf.Status),
			workflow.ErrInvalidTransition)
	}

	layers, err := workflow.TopoSort(wf.Tasks)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*workflow.Task, len(wf.Tasks))
	for _, t := range wf.Tasks {
		byName[t.Name] = t
	}

	start := time.Now().UTC()
	wf.Status = workflow.StatusRunning
	wf.UpdatedAt = start
	if err := r.st.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	r.emitter.Emit(emit.WorkflowEvent(wf.ID.String(), string(workflow.StatusRunning)))
	r.metrics.workflowStarted()

	exec := workflow.NewExecution(wf.ID, trigger)
	exec.TasksRun = len(wf.Tasks)
	if err := r.st.AppendExecution(ctx, exec); err != nil {
		r.log.Warn("failed to record execution start", zap.Error(err))
	}

	r.log.Info("executing workflow",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("name", wf.Name),
		zap.String("trigger", trigger),
		zap.Int("tasks", len(wf.Tasks)),
		zap.Int("layers", len(layers)))

	for _, layer := range layers {
		// Lifecycle operations land between layers.
		current, err := r.st.GetWorkflow(ctx, wf.ID)
		if err != nil {
			return r.finish(ctx, wf, exec, start, workflow.StatusFailed, err.Error())
		}
		switch current.Status {
		case workflow.StatusPaused:
			r.log.Info("pause observed at layer boundary",
				zap.String("workflow_id", wf.ID.String()))
			r.emitter.Emit(emit.Event{
				WorkflowID: wf.ID.String(),
				Status:     string(workflow.StatusPaused),
				Message:    "execution suspended at layer boundary",
			})
			exec.Finish(workflow.StatusPaused, "")
			exec.TasksDone = countCompleted(wf.Tasks)
			if err := r.st.UpdateExecution(ctx, exec); err != nil {
				r.log.Warn("failed to record execution pause", zap.Error(err))
			}
			r.metrics.workflowFinished(wf.Name, string(workflow.StatusPaused), time.Since(start))
			return current, nil
		case workflow.StatusCancelled:
			r.log.Info("cancellation observed at layer boundary",
				zap.String("workflow_id", wf.ID.String()))
			return r.finish(ctx, current, exec, start, workflow.StatusCancelled, "")
		}

		if err := r.runLayer(ctx, wf, exec, byName, layer); err != nil {
			return r.finish(ctx, wf, exec, start, workflow.StatusFailed, err.Error())
		}
	}

	return r.finish(ctx, wf, exec, start, workflow.StatusCompleted, "")
}

// runLayer executes one dependency layer in parallel and waits for all
// of it. The first task error is returned; remaining tasks in the layer
// still run to completion.
func (r *Runner) runLayer(ctx context.Context, wf *workflow.Workflow, exec *workflow.Execution, byName map[string]*workflow.Task, layer []string) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, name := range layer {
		task := byName[name]
		if task.Status == workflow.StatusCompleted {
			// Resumed run; keep the earlier result.
			continue
		}
		wg.Add(1)
		go func(t *workflow.Task) {
			defer wg.Done()
			if err := r.runTask(ctx, wf, exec, t); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()
	return firstErr
}

// runTask drives one task through interpolation, the idempotency claim,
// the retry loop, and result persistence. Every attempt leaves a
// history record, so the execution's task log shows each retry.
func (r *Runner) runTask(ctx context.Context, wf *workflow.Workflow, exec *workflow.Execution, t *workflow.Task) error {
	start := time.Now().UTC()

	payload := t.ActionPayload
	if r.interp != nil && payload != nil {
		resolved, err := r.interp.Interpolate(ctx, wf.ID, payload)
		if err != nil {
			err = fmt.Errorf("task %q: interpolate payload: %w", t.Name, err)
			r.recordAttempt(ctx, exec, t, 0, workflow.StatusFailed, err.Error())
			return r.failTask(ctx, t, "", start, err)
		}
		payload = resolved.(map[string]any)
	}

	var claim string
	if r.guard != nil {
		key, outcome, err := r.guard.Begin(ctx, wf.ID, t.Name, payload)
		if err != nil {
			err = fmt.Errorf("task %q: %w", t.Name, err)
			r.recordAttempt(ctx, exec, t, 0, workflow.StatusFailed, err.Error())
			return r.failTask(ctx, t, "", start, err)
		}
		if outcome.Duplicate {
			r.log.Info("task satisfied by cached result",
				zap.String("workflow_id", wf.ID.String()),
				zap.String("task", t.Name))
			r.recordAttempt(ctx, exec, t, 0, workflow.StatusCompleted, "")
			return r.completeTask(ctx, t, "", start, outcome.Result)
		}
		if outcome.InFlight {
			err := fmt.Errorf("task %q: duplicate execution already in flight", t.Name)
			r.recordAttempt(ctx, exec, t, 0, workflow.StatusFailed, err.Error())
			return r.failTask(ctx, t, "", start, err)
		}
		claim = key
	}

	policy := workflow.DefaultRetryPolicy()
	if t.RetryPolicy != nil {
		policy = *t.RetryPolicy
	}

	for attempt := 0; ; attempt++ {
		// Each attempt is visible: retry_count and a fresh running
		// event, so observers see the task re-enter running.
		t.Status = workflow.StatusRunning
		t.RetryCount = attempt
		t.UpdatedAt = time.Now().UTC()
		if err := r.st.UpdateTask(ctx, t); err != nil {
			return r.failTask(ctx, t, claim, start, fmt.Errorf("task %q: %w", t.Name, err))
		}
		r.emitter.Emit(emit.TaskEvent(t.ID.String(), t.Name, string(workflow.StatusRunning)))

		rec := workflow.NewTaskExecution(exec.ID, t, attempt)
		result, err := r.invoke(ctx, t, payload)
		if err == nil {
			rec.Finish(workflow.StatusCompleted, "")
			r.appendAttempt(ctx, rec)
			return r.completeTask(ctx, t, claim, start, result)
		}
		rec.Finish(workflow.StatusFailed, err.Error())
		r.appendAttempt(ctx, rec)
		if !policy.ShouldRetry(attempt) {
			return r.failTask(ctx, t, claim, start, fmt.Errorf("task %q: %w", t.Name, err))
		}

		delay := policy.Delay(attempt)
		r.log.Warn("task attempt failed, retrying",
			zap.String("workflow_id", wf.ID.String()),
			zap.String("task", t.Name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		r.metrics.taskRetried(wf.Name, t.Name)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.failTask(ctx, t, claim, start, fmt.Errorf("task %q: %w", t.Name, ctx.Err()))
		case <-timer.C:
		}
	}
}

// recordAttempt writes an attempt record that was decided without
// invoking the handler: cached duplicates, rejected in-flight claims,
// interpolation failures.
func (r *Runner) recordAttempt(ctx context.Context, exec *workflow.Execution, t *workflow.Task, attempt int, status workflow.Status, errMsg string) {
	rec := workflow.NewTaskExecution(exec.ID, t, attempt)
	rec.Finish(status, errMsg)
	r.appendAttempt(ctx, rec)
}

// appendAttempt persists one per-attempt history row. History writes
// never fail the task; a miss is logged and execution proceeds.
func (r *Runner) appendAttempt(ctx context.Context, rec *workflow.TaskExecution) {
	if err := r.st.AppendTaskExecution(ctx, rec); err != nil {
		r.log.Warn("failed to record task attempt",
			zap.String("task", rec.TaskName),
			zap.Int("attempt", rec.Attempt),
			zap.Error(err))
	}
}

// invoke runs the task's action handler under its timeout, if any.
func (r *Runner) invoke(ctx context.Context, t *workflow.Task, payload map[string]any) (map[string]any, error) {
	if timeout := t.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := r.registry.Resolve(t.ActionType)(ctx, payload)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, workflow.NewError("TASK_TIMEOUT",
			fmt.Sprintf("exceeded %.1fs timeout", t.TimeoutSeconds),
			workflow.ErrTaskTimeout)
	}
	return result, err
}

func (r *Runner) completeTask(ctx context.Context, t *workflow.Task, claim string, start time.Time, result map[string]any) error {
	t.Status = workflow.StatusCompleted
	t.Result = result
	t.UpdatedAt = time.Now().UTC()
	if err := r.st.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("task %q: persist result: %w", t.Name, err)
	}
	if claim != "" {
		if err := r.guard.Complete(ctx, claim, result); err != nil {
			r.log.Warn("failed to resolve idempotency claim", zap.Error(err))
		}
	}

	ev := emit.TaskEvent(t.ID.String(), t.Name, string(workflow.StatusCompleted))
	ev.Result = result
	r.emitter.Emit(ev)
	r.metrics.taskFinished(t.ActionType, string(workflow.StatusCompleted), time.Since(start))
	return nil
}

func (r *Runner) failTask(ctx context.Context, t *workflow.Task, claim string, start time.Time, taskErr error) error {
	t.Status = workflow.StatusFailed
	t.UpdatedAt = time.Now().UTC()
	if err := r.st.UpdateTask(ctx, t); err != nil {
		r.log.Warn("failed to persist task failure", zap.Error(err))
	}
	if claim != "" {
		if err := r.guard.Fail(ctx, claim, taskErr.Error()); err != nil {
			r.log.Warn("failed to resolve idempotency claim", zap.Error(err))
		}
	}

	ev := emit.TaskEvent(t.ID.String(), t.Name, string(workflow.StatusFailed))
	ev.Error = taskErr.Error()
	r.emitter.Emit(ev)
	r.metrics.taskFinished(t.ActionType, string(workflow.StatusFailed), time.Since(start))
	return taskErr
}

// finish stamps the terminal workflow status, closes the execution
// record, and emits the final event.
func (r *Runner) finish(ctx context.Context, wf *workflow.Workflow, exec *workflow.Execution, start time.Time, status workflow.Status, errMsg string) (*workflow.Workflow, error) {
	wf.Status = status
	wf.UpdatedAt = time.Now().UTC()
	if err := r.st.UpdateWorkflow(ctx, wf); err != nil {
		r.log.Warn("failed to persist workflow status", zap.Error(err))
	}

	exec.Finish(status, errMsg)
	exec.TasksDone = countCompleted(wf.Tasks)
	if err := r.st.UpdateExecution(ctx, exec); err != nil {
		r.log.Warn("failed to record execution finish", zap.Error(err))
	}

	ev := emit.WorkflowEvent(wf.ID.String(), string(status))
	ev.Error = errMsg
	r.emitter.Emit(ev)
	r.metrics.workflowFinished(wf.Name, string(status), time.Since(start))

	r.log.Info("workflow finished",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("status", string(status)),
		zap.Duration("elapsed", time.Since(start)))
	return wf, nil
}

func countCompleted(tasks []*workflow.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == workflow.StatusCompleted {
			n++
		}
	}
	return n
}

// Reconcile repairs state left by an unclean shutdown: workflows
// persisted as running with no process executing them are marked
// failed. Call once at startup, before accepting work.
func (r *Runner) Reconcile(ctx context.Context) (int, error) {
	orphans, err := r.st.ListWorkflowsByStatus(ctx, workflow.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running workflows: %w", err)
	}
	for _, wf := range orphans {
		wf.Status = workflow.StatusFailed
		wf.UpdatedAt = time.Now().UTC()
		if err := r.st.UpdateWorkflow(ctx, wf); err != nil {
			return 0, fmt.Errorf("reconcile workflow %s: %w", wf.ID, err)
		}
		r.log.Warn("marked orphaned workflow as failed",
			zap.String("workflow_id", wf.ID.String()),
			zap.String("name", wf.Name))
	}
	return len(orphans), nil
}
