package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitq/orbit/template"
	"github.com/orbitq/orbit/workflow"
)

// Dynamic task groups expand a task template at runtime over an input
// sequence. A map group renders the template once per item, with
// {{item}} and {{index}} available, and runs the expansions in
// parallel. A reduce group renders the template once with {{items}}
// bound to the whole sequence and runs a single task over it.
//
// Group templates carry "action_type" and "payload" keys; per-item
// failures are counted, not fatal, so a map group finishes even when
// some items fail.

// ExecuteMapGroup fans a task template out over items and waits for
// every expansion. The returned group holds per-item results in input
// order; its status is completed only when no item failed.
func (r *Runner) ExecuteMapGroup(ctx context.Context, workflowID uuid.UUID, parentTaskName string, items []any, tpl map[string]any) (*workflow.TaskGroup, error) {
	group := workflow.NewTaskGroup(workflowID, parentTaskName, workflow.GroupMap, items, tpl)
	if err := r.st.CreateTaskGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("create task group: %w", err)
	}
	group.Status = workflow.StatusRunning
	group.UpdatedAt = time.Now().UTC()
	if err := r.st.UpdateTaskGroup(ctx, group); err != nil {
		r.log.Warn("failed to persist group start", zap.Error(err))
	}

	r.log.Info("expanding map group",
		zap.String("workflow_id", workflowID.String()),
		zap.String("parent_task", parentTaskName),
		zap.Int("items", len(items)))

	results := make([]any, len(items))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			result, err := r.runGroupItem(ctx, tpl, map[string]any{
				"item":  item,
				"index": i,
			})
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				results[i] = map[string]any{"error": err.Error()}
				r.log.Warn("map group item failed",
					zap.String("parent_task", parentTaskName),
					zap.Int("index", i),
					zap.Error(err))
				return
			}
			results[i] = result
		}(i, item)
	}
	wg.Wait()

	group.Results = results
	group.Completed = len(items) - failed
	group.Failed = failed
	group.Status = workflow.StatusCompleted
	if failed > 0 {
		group.Status = workflow.StatusFailed
	}
	group.UpdatedAt = time.Now().UTC()
	if err := r.st.UpdateTaskGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("persist task group: %w", err)
	}
	return group, nil
}

// ExecuteReduceGroup runs a task template once over the whole item
// sequence.
func (r *Runner) ExecuteReduceGroup(ctx context.Context, workflowID uuid.UUID, parentTaskName string, items []any, tpl map[string]any) (*workflow.TaskGroup, error) {
	group := workflow.NewTaskGroup(workflowID, parentTaskName, workflow.GroupReduce, items, tpl)
	if err := r.st.CreateTaskGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("create task group: %w", err)
	}
	group.Status = workflow.StatusRunning
	group.UpdatedAt = time.Now().UTC()
	if err := r.st.UpdateTaskGroup(ctx, group); err != nil {
		r.log.Warn("failed to persist group start", zap.Error(err))
	}

	result, err := r.runGroupItem(ctx, tpl, map[string]any{"items": items})
	if err != nil {
		group.Failed = 1
		group.Results = []any{map[string]any{"error": err.Error()}}
		group.Status = workflow.StatusFailed
	} else {
		group.Completed = 1
		group.Results = []any{result}
		group.Status = workflow.StatusCompleted
	}
	group.UpdatedAt = time.Now().UTC()
	if uerr := r.st.UpdateTaskGroup(ctx, group); uerr != nil {
		return nil, fmt.Errorf("persist task group: %w", uerr)
	}
	return group, nil
}

// runGroupItem renders the group template against one binding context
// and invokes the resulting action.
func (r *Runner) runGroupItem(ctx context.Context, tpl map[string]any, binding map[string]any) (map[string]any, error) {
	rendered, err := template.Render(tpl, binding)
	if err != nil {
		return nil, fmt.Errorf("render task template: %w", err)
	}
	spec, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("task template must render to an object")
	}

	actionType, _ := spec["action_type"].(string)
	payload, _ := spec["payload"].(map[string]any)
	return r.registry.Resolve(actionType)(ctx, payload)
}
