package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orbitq/orbit/store"
	"github.com/orbitq/orbit/workflow"
)

// runStoreTests exercises the full Store contract against one backend.
// Both implementations share this suite so behavior can't drift.
func runStoreTests(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	newWorkflow := func(name string) *workflow.Workflow {
		wf := workflow.NewWorkflow(name, "")
		wf.Tasks = []*workflow.Task{
			workflow.NewTask(wf.ID, "extract", "http_request", map[string]any{"url": "http://example.com"}, nil),
			workflow.NewTask(wf.ID, "load", "echo", nil, []string{"extract"}),
		}
		return wf
	}

	t.Run("WorkflowLifecycle", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wf := newWorkflow("pipeline")
		if err := st.CreateWorkflow(ctx, wf); err != nil {
			t.Fatalf("CreateWorkflow: %v", err)
		}

		got, err := st.GetWorkflow(ctx, wf.ID)
		if err != nil {
			t.Fatalf("GetWorkflow: %v", err)
		}
		if got.Name != "pipeline" || len(got.Tasks) != 2 {
			t.Fatalf("got name=%q tasks=%d, want pipeline/2", got.Name, len(got.Tasks))
		}
		if got.Tasks[0].Name != "extract" || got.Tasks[1].Name != "load" {
			t.Errorf("task order = %s, %s", got.Tasks[0].Name, got.Tasks[1].Name)
		}

		got.Status = workflow.StatusRunning
		if err := st.UpdateWorkflow(ctx, got); err != nil {
			t.Fatalf("UpdateWorkflow: %v", err)
		}
		running, err := st.ListWorkflowsByStatus(ctx, workflow.StatusRunning)
		if err != nil {
			t.Fatalf("ListWorkflowsByStatus: %v", err)
		}
		if len(running) != 1 || running[0].ID != wf.ID {
			t.Errorf("running workflows = %d", len(running))
		}

		if err := st.DeleteWorkflow(ctx, wf.ID); err != nil {
			t.Fatalf("DeleteWorkflow: %v", err)
		}
		if _, err := st.GetWorkflow(ctx, wf.ID); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("GetWorkflow after delete = %v, want ErrNotFound", err)
		}
		if err := st.DeleteWorkflow(ctx, wf.ID); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("double delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListWorkflowsPaging", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		for i := 0; i < 5; i++ {
			wf := workflow.NewWorkflow("wf", "")
			wf.CreatedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
			if err := st.CreateWorkflow(ctx, wf); err != nil {
				t.Fatalf("CreateWorkflow %d: %v", i, err)
			}
		}

		page, total, err := st.ListWorkflows(ctx, 2, 2)
		if err != nil {
			t.Fatalf("ListWorkflows: %v", err)
		}
		if total != 5 || len(page) != 2 {
			t.Errorf("total=%d page=%d, want 5/2", total, len(page))
		}

		tail, _, err := st.ListWorkflows(ctx, 4, 10)
		if err != nil {
			t.Fatalf("ListWorkflows tail: %v", err)
		}
		if len(tail) != 1 {
			t.Errorf("tail = %d, want 1", len(tail))
		}
	})

	t.Run("ReplaceTasks", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wf := newWorkflow("replace")
		if err := st.CreateWorkflow(ctx, wf); err != nil {
			t.Fatalf("CreateWorkflow: %v", err)
		}

		repl := []*workflow.Task{
			workflow.NewTask(wf.ID, "only", "echo", nil, nil),
		}
		if err := st.ReplaceTasks(ctx, wf.ID, repl); err != nil {
			t.Fatalf("ReplaceTasks: %v", err)
		}
		got, err := st.GetWorkflow(ctx, wf.ID)
		if err != nil {
			t.Fatalf("GetWorkflow: %v", err)
		}
		if len(got.Tasks) != 1 || got.Tasks[0].Name != "only" {
			t.Errorf("tasks after replace = %+v", got.Tasks)
		}

		if err := st.ReplaceTasks(ctx, uuid.New(), nil); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("ReplaceTasks unknown workflow = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateTask", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wf := newWorkflow("tasks")
		if err := st.CreateWorkflow(ctx, wf); err != nil {
			t.Fatalf("CreateWorkflow: %v", err)
		}

		task := wf.Tasks[0]
		task.Status = workflow.StatusCompleted
		task.Result = map[string]any{"rows": float64(42)}
		if err := st.UpdateTask(ctx, task); err != nil {
			t.Fatalf("UpdateTask: %v", err)
		}

		got, err := st.GetWorkflow(ctx, wf.ID)
		if err != nil {
			t.Fatalf("GetWorkflow: %v", err)
		}
		if got.Tasks[0].Status != workflow.StatusCompleted {
			t.Errorf("task status = %s", got.Tasks[0].Status)
		}
		if got.Tasks[0].Result["rows"] != float64(42) {
			t.Errorf("task result = %v", got.Tasks[0].Result)
		}
	})

	t.Run("ScheduleDue", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

		due := workflow.NewSchedule(uuid.New(), "* * * * *", "UTC")
		past := now.Add(-time.Minute)
		due.NextRun = &past
		future := workflow.NewSchedule(uuid.New(), "0 0 * * *", "UTC")
		later := now.Add(time.Hour)
		future.NextRun = &later
		unarmed := workflow.NewSchedule(uuid.New(), "*/5 * * * *", "UTC")
		disabled := workflow.NewSchedule(uuid.New(), "* * * * *", "UTC")
		disabled.Enabled = false
		disabled.NextRun = &past

		for _, s := range []*workflow.Schedule{due, future, unarmed, disabled} {
			if err := st.UpsertSchedule(ctx, s); err != nil {
				t.Fatalf("UpsertSchedule: %v", err)
			}
		}

		got, err := st.ListDueSchedules(ctx, now)
		if err != nil {
			t.Fatalf("ListDueSchedules: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("due schedules = %d, want 2 (fired + unarmed)", len(got))
		}
		for _, s := range got {
			if s.WorkflowID == future.WorkflowID || s.WorkflowID == disabled.WorkflowID {
				t.Errorf("schedule %s should not be due", s.WorkflowID)
			}
		}

		if err := st.DeleteSchedule(ctx, due.WorkflowID); err != nil {
			t.Fatalf("DeleteSchedule: %v", err)
		}
		if _, err := st.GetSchedule(ctx, due.WorkflowID); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("GetSchedule after delete = %v", err)
		}
	})

	t.Run("VersionsActiveFlip", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wfID := uuid.New()
		for n := 1; n <= 3; n++ {
			v := &workflow.Version{
				ID:         uuid.New(),
				WorkflowID: wfID,
				Number:     n,
				Definition: &workflow.Definition{Name: "v"},
				IsActive:   n == 3,
				CreatedAt:  time.Now().UTC(),
			}
			if err := st.CreateVersion(ctx, v); err != nil {
				t.Fatalf("CreateVersion %d: %v", n, err)
			}
		}

		active, err := st.GetActiveVersion(ctx, wfID)
		if err != nil {
			t.Fatalf("GetActiveVersion: %v", err)
		}
		if active.Number != 3 {
			t.Errorf("active = %d, want 3", active.Number)
		}

		if err := st.SetActiveVersion(ctx, wfID, 1); err != nil {
			t.Fatalf("SetActiveVersion: %v", err)
		}
		active, err = st.GetActiveVersion(ctx, wfID)
		if err != nil {
			t.Fatalf("GetActiveVersion after flip: %v", err)
		}
		if active.Number != 1 {
			t.Errorf("active after flip = %d, want 1", active.Number)
		}

		all, err := st.ListVersions(ctx, wfID)
		if err != nil {
			t.Fatalf("ListVersions: %v", err)
		}
		if len(all) != 3 || all[0].Number != 3 {
			t.Errorf("versions = %d, first = %d, want 3/3", len(all), all[0].Number)
		}
		actives := 0
		for _, v := range all {
			if v.IsActive {
				actives++
			}
		}
		if actives != 1 {
			t.Errorf("active versions = %d, want exactly 1", actives)
		}

		if err := st.SetActiveVersion(ctx, wfID, 99); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("SetActiveVersion unknown = %v, want ErrNotFound", err)
		}
	})

	t.Run("ChangeLogAppendOrder", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wfID := uuid.New()
		for i, action := range []string{workflow.ChangeCreated, workflow.ChangeUpdated, workflow.ChangeRolledBack} {
			e := &workflow.ChangeLogEntry{
				ID:         uuid.New(),
				WorkflowID: wfID,
				Action:     action,
				ToVersion:  i + 1,
				CreatedAt:  time.Now().UTC(),
			}
			if err := st.AppendChangeLog(ctx, e); err != nil {
				t.Fatalf("AppendChangeLog: %v", err)
			}
		}

		log, err := st.ListChangeLog(ctx, wfID)
		if err != nil {
			t.Fatalf("ListChangeLog: %v", err)
		}
		if len(log) != 3 {
			t.Fatalf("changelog = %d entries, want 3", len(log))
		}
		if log[0].Action != workflow.ChangeCreated || log[2].Action != workflow.ChangeRolledBack {
			t.Errorf("changelog order: %s .. %s", log[0].Action, log[2].Action)
		}
	})

	t.Run("VariablesScoped", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wfID := uuid.New()
		now := time.Now().UTC()
		local := &workflow.Variable{ID: uuid.New(), WorkflowID: wfID, Key: "region", Value: "eu-west-1", CreatedAt: now, UpdatedAt: now}
		global := &workflow.Variable{ID: uuid.New(), WorkflowID: workflow.GlobalScope, Key: "region", Value: "us-east-1", CreatedAt: now, UpdatedAt: now}
		for _, v := range []*workflow.Variable{local, global} {
			if err := st.UpsertVariable(ctx, v); err != nil {
				t.Fatalf("UpsertVariable: %v", err)
			}
		}

		got, err := st.GetVariable(ctx, wfID, "region")
		if err != nil {
			t.Fatalf("GetVariable: %v", err)
		}
		if got.Value != "eu-west-1" {
			t.Errorf("workflow-scoped value = %q", got.Value)
		}
		got, err = st.GetVariable(ctx, workflow.GlobalScope, "region")
		if err != nil {
			t.Fatalf("GetVariable global: %v", err)
		}
		if got.Value != "us-east-1" {
			t.Errorf("global value = %q", got.Value)
		}

		local.Value = "eu-central-1"
		if err := st.UpsertVariable(ctx, local); err != nil {
			t.Fatalf("UpsertVariable update: %v", err)
		}
		got, _ = st.GetVariable(ctx, wfID, "region")
		if got.Value != "eu-central-1" {
			t.Errorf("updated value = %q", got.Value)
		}

		if err := st.DeleteVariable(ctx, wfID, "region"); err != nil {
			t.Fatalf("DeleteVariable: %v", err)
		}
		if _, err := st.GetVariable(ctx, wfID, "region"); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("GetVariable after delete = %v", err)
		}
	})

	t.Run("SecretsKeepCiphertext", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wfID := uuid.New()
		now := time.Now().UTC()
		sec := &workflow.Secret{ID: uuid.New(), WorkflowID: wfID, Key: "api_key", Value: "gAAAAA-ciphertext", CreatedAt: now, UpdatedAt: now}
		if err := st.UpsertSecret(ctx, sec); err != nil {
			t.Fatalf("UpsertSecret: %v", err)
		}

		got, err := st.GetSecret(ctx, wfID, "api_key")
		if err != nil {
			t.Fatalf("GetSecret: %v", err)
		}
		if got.Value != "gAAAAA-ciphertext" {
			t.Errorf("secret value = %q, ciphertext lost", got.Value)
		}

		list, err := st.ListSecrets(ctx, wfID)
		if err != nil {
			t.Fatalf("ListSecrets: %v", err)
		}
		if len(list) != 1 || list[0].Value != "gAAAAA-ciphertext" {
			t.Errorf("listed secrets = %+v", list)
		}
	})

	t.Run("IdempotencyConflictAndExpiry", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wfID := uuid.New()
		rec := &workflow.IdempotencyKey{
			ID:         uuid.New(),
			Key:        wfID.String() + ":extract",
			WorkflowID: wfID,
			TaskName:   "extract",
			State:      workflow.IdemProcessing,
			CreatedAt:  time.Now().UTC(),
			ExpiresAt:  time.Now().UTC().Add(time.Hour),
		}
		if err := st.PutIdempotencyKey(ctx, rec); err != nil {
			t.Fatalf("PutIdempotencyKey: %v", err)
		}
		if err := st.PutIdempotencyKey(ctx, rec); !errors.Is(err, store.ErrConflict) {
			t.Errorf("duplicate put = %v, want ErrConflict", err)
		}

		rec.State = workflow.IdemCompleted
		rec.Result = map[string]any{"ok": true}
		if err := st.UpdateIdempotencyKey(ctx, rec); err != nil {
			t.Fatalf("UpdateIdempotencyKey: %v", err)
		}
		got, err := st.GetIdempotencyKey(ctx, rec.Key)
		if err != nil {
			t.Fatalf("GetIdempotencyKey: %v", err)
		}
		if got.State != workflow.IdemCompleted || got.Result["ok"] != true {
			t.Errorf("record = %+v", got)
		}

		expired := &workflow.IdempotencyKey{
			ID:        uuid.New(),
			Key:       "stale:task",
			State:     workflow.IdemCompleted,
			CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
			ExpiresAt: time.Now().UTC().Add(-24 * time.Hour),
		}
		if err := st.PutIdempotencyKey(ctx, expired); err != nil {
			t.Fatalf("PutIdempotencyKey expired: %v", err)
		}

		// A fresh claim of an expired key succeeds.
		fresh := *expired
		fresh.ID = uuid.New()
		fresh.State = workflow.IdemProcessing
		fresh.ExpiresAt = time.Now().UTC().Add(time.Hour)
		if err := st.PutIdempotencyKey(ctx, &fresh); err != nil {
			t.Errorf("reclaim expired key = %v, want nil", err)
		}

		n, err := st.DeleteExpiredKeys(ctx, time.Now().UTC())
		if err != nil {
			t.Fatalf("DeleteExpiredKeys: %v", err)
		}
		if n != 0 {
			t.Errorf("swept %d keys, want 0 (both live)", n)
		}
		n, err = st.DeleteExpiredKeys(ctx, time.Now().UTC().Add(2*time.Hour))
		if err != nil {
			t.Fatalf("DeleteExpiredKeys future: %v", err)
		}
		if n != 2 {
			t.Errorf("swept %d keys, want 2", n)
		}
	})

	t.Run("ExecutionsNewestFirst", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wfID := uuid.New()
		base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			e := workflow.NewExecution(wfID, workflow.TriggerManual)
			e.StartedAt = base.Add(time.Duration(i) * time.Minute)
			if err := st.AppendExecution(ctx, e); err != nil {
				t.Fatalf("AppendExecution: %v", err)
			}
			if i == 2 {
				e.Finish(workflow.StatusCompleted, "")
				if err := st.UpdateExecution(ctx, e); err != nil {
					t.Fatalf("UpdateExecution: %v", err)
				}
			}
		}

		list, err := st.ListExecutions(ctx, wfID, 2)
		if err != nil {
			t.Fatalf("ListExecutions: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("executions = %d, want 2", len(list))
		}
		if !list[0].StartedAt.After(list[1].StartedAt) {
			t.Errorf("executions not newest first: %v then %v", list[0].StartedAt, list[1].StartedAt)
		}
		if list[0].Status != workflow.StatusCompleted {
			t.Errorf("latest status = %s", list[0].Status)
		}
	})

	t.Run("TaskAttemptsOldestFirst", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wf := newWorkflow("attempts")
		if err := st.CreateWorkflow(ctx, wf); err != nil {
			t.Fatalf("CreateWorkflow: %v", err)
		}
		exec := workflow.NewExecution(wf.ID, workflow.TriggerManual)
		if err := st.AppendExecution(ctx, exec); err != nil {
			t.Fatalf("AppendExecution: %v", err)
		}

		base := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)
		task := wf.Tasks[0]
		for attempt := 0; attempt < 3; attempt++ {
			rec := workflow.NewTaskExecution(exec.ID, task, attempt)
			rec.StartedAt = base.Add(time.Duration(attempt) * time.Second)
			if attempt < 2 {
				rec.Finish(workflow.StatusFailed, "connection reset")
			} else {
				rec.Finish(workflow.StatusCompleted, "")
			}
			if err := st.AppendTaskExecution(ctx, rec); err != nil {
				t.Fatalf("AppendTaskExecution %d: %v", attempt, err)
			}
		}
		// A record for an unrelated run stays out of the listing.
		other := workflow.NewExecution(wf.ID, workflow.TriggerManual)
		if err := st.AppendExecution(ctx, other); err != nil {
			t.Fatalf("AppendExecution other: %v", err)
		}
		if err := st.AppendTaskExecution(ctx, workflow.NewTaskExecution(other.ID, task, 0)); err != nil {
			t.Fatalf("AppendTaskExecution other: %v", err)
		}

		got, err := st.ListTaskExecutions(ctx, exec.ID)
		if err != nil {
			t.Fatalf("ListTaskExecutions: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("attempts = %d, want 3", len(got))
		}
		for i, rec := range got {
			if rec.Attempt != i {
				t.Errorf("record %d attempt = %d, not oldest first", i, rec.Attempt)
			}
			if rec.TaskName != task.Name || rec.TaskID != task.ID {
				t.Errorf("record %d task = %q/%s", i, rec.TaskName, rec.TaskID)
			}
		}
		if got[0].Status != workflow.StatusFailed || got[0].Error != "connection reset" {
			t.Errorf("first attempt = %s error %q", got[0].Status, got[0].Error)
		}
		if got[2].Status != workflow.StatusCompleted || got[2].FinishedAt == nil {
			t.Errorf("last attempt = %+v", got[2])
		}
	})

	t.Run("TaskGroups", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		g := workflow.NewTaskGroup(uuid.New(), "fan_out", workflow.GroupMap,
			[]any{"a", "b", "c"}, map[string]any{"name": "item-{{index}}"})
		if err := st.CreateTaskGroup(ctx, g); err != nil {
			t.Fatalf("CreateTaskGroup: %v", err)
		}

		g.Completed = 2
		g.Failed = 1
		g.Status = workflow.StatusFailed
		if err := st.UpdateTaskGroup(ctx, g); err != nil {
			t.Fatalf("UpdateTaskGroup: %v", err)
		}

		got, err := st.GetTaskGroup(ctx, g.ID)
		if err != nil {
			t.Fatalf("GetTaskGroup: %v", err)
		}
		if got.Total != 3 || got.Completed != 2 || got.Failed != 1 {
			t.Errorf("counters = %d/%d/%d", got.Total, got.Completed, got.Failed)
		}
	})

	t.Run("Templates", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		tpl := workflow.NewTemplate("etl", "extract transform load",
			map[string]workflow.ParamDef{
				"source": {Type: workflow.ParamString, Required: true},
			},
			map[string]any{"name": "{{workflow_name}}"})
		if err := st.CreateTemplate(ctx, tpl); err != nil {
			t.Fatalf("CreateTemplate: %v", err)
		}
		if err := st.CreateTemplate(ctx, tpl); !errors.Is(err, store.ErrConflict) {
			t.Errorf("duplicate template = %v, want ErrConflict", err)
		}

		tpl.UsageCount = 1
		if err := st.UpdateTemplate(ctx, tpl); err != nil {
			t.Fatalf("UpdateTemplate: %v", err)
		}
		got, err := st.GetTemplate(ctx, "etl")
		if err != nil {
			t.Fatalf("GetTemplate: %v", err)
		}
		if got.UsageCount != 1 || got.Parameters["source"].Type != workflow.ParamString {
			t.Errorf("template = %+v", got)
		}

		if err := st.DeleteTemplate(ctx, "etl"); err != nil {
			t.Fatalf("DeleteTemplate: %v", err)
		}
		if _, err := st.GetTemplate(ctx, "etl"); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("GetTemplate after delete = %v", err)
		}
	})

	t.Run("CascadeDelete", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		wf := newWorkflow("cascade")
		if err := st.CreateWorkflow(ctx, wf); err != nil {
			t.Fatalf("CreateWorkflow: %v", err)
		}
		if err := st.UpsertSchedule(ctx, workflow.NewSchedule(wf.ID, "* * * * *", "UTC")); err != nil {
			t.Fatalf("UpsertSchedule: %v", err)
		}
		now := time.Now().UTC()
		if err := st.UpsertVariable(ctx, &workflow.Variable{ID: uuid.New(), WorkflowID: wf.ID, Key: "k", Value: "v", CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("UpsertVariable: %v", err)
		}
		exec := workflow.NewExecution(wf.ID, workflow.TriggerManual)
		if err := st.AppendExecution(ctx, exec); err != nil {
			t.Fatalf("AppendExecution: %v", err)
		}
		if err := st.AppendTaskExecution(ctx, workflow.NewTaskExecution(exec.ID, wf.Tasks[0], 0)); err != nil {
			t.Fatalf("AppendTaskExecution: %v", err)
		}

		if err := st.DeleteWorkflow(ctx, wf.ID); err != nil {
			t.Fatalf("DeleteWorkflow: %v", err)
		}
		if _, err := st.GetSchedule(ctx, wf.ID); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("schedule survived cascade: %v", err)
		}
		if _, err := st.GetVariable(ctx, wf.ID, "k"); !errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("variable survived cascade: %v", err)
		}
		execs, err := st.ListExecutions(ctx, wf.ID, 0)
		if err != nil {
			t.Fatalf("ListExecutions: %v", err)
		}
		if len(execs) != 0 {
			t.Errorf("executions survived cascade: %d", len(execs))
		}
		attempts, err := st.ListTaskExecutions(ctx, exec.ID)
		if err != nil {
			t.Fatalf("ListTaskExecutions: %v", err)
		}
		if len(attempts) != 0 {
			t.Errorf("task attempts survived cascade: %d", len(attempts))
		}
	})
}
