package version_test

import (
	"context"
	"testing"

	"github.com/orbitq/orbit/store"
	"github.com/orbitq/orbit/version"
	"github.com/orbitq/orbit/workflow"
)

func seedWorkflow(t *testing.T, st store.Store) *workflow.Workflow {
	t.Helper()
	wf := workflow.NewWorkflow("pipeline", "nightly data load")
	wf.Tasks = []*workflow.Task{
		workflow.NewTask(wf.ID, "extract", "http_request", map[string]any{"url": "http://a"}, nil),
		workflow.NewTask(wf.ID, "load", "echo", nil, []string{"extract"}),
	}
	if err := st.CreateWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	return wf
}

func TestChecksumStable(t *testing.T) {
	def := &workflow.Definition{
		Name: "wf",
		Tasks: []workflow.TaskDef{
			{Name: "a", ActionType: "echo", ActionPayload: map[string]any{"x": 1, "y": 2}},
		},
	}
	c1, err := version.Checksum(def)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	// Same content, fresh map with different insertion order.
	def2 := &workflow.Definition{
		Name: "wf",
		Tasks: []workflow.TaskDef{
			{Name: "a", ActionType: "echo", ActionPayload: map[string]any{"y": 2, "x": 1}},
		},
	}
	c2, err := version.Checksum(def2)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if c1 != c2 {
		t.Errorf("checksums differ for equal definitions: %s vs %s", c1, c2)
	}
	if len(c1) != 64 {
		t.Errorf("checksum length = %d, want 64 hex chars", len(c1))
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	mgr := version.NewManager(st, nil)
	wf := seedWorkflow(t, st)

	v1, err := mgr.Snapshot(ctx, wf.ID, "initial", "tester")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if v1.Number != 1 || !v1.IsActive {
		t.Errorf("first version = %d active=%v", v1.Number, v1.IsActive)
	}

	// Unchanged definition: same version back, nothing new minted.
	again, err := mgr.Snapshot(ctx, wf.ID, "noop", "tester")
	if err != nil {
		t.Fatalf("Snapshot again: %v", err)
	}
	if again.Number != 1 {
		t.Errorf("idempotent snapshot minted version %d", again.Number)
	}
	all, _ := mgr.List(ctx, wf.ID, false)
	if len(all) != 1 {
		t.Errorf("versions = %d, want 1", len(all))
	}

	// Changed definition: next number, active flips.
	got, _ := st.GetWorkflow(ctx, wf.ID)
	got.Description = "changed"
	if err := st.UpdateWorkflow(ctx, got); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}
	v2, err := mgr.Snapshot(ctx, wf.ID, "tweak", "tester")
	if err != nil {
		t.Fatalf("Snapshot changed: %v", err)
	}
	if v2.Number != 2 {
		t.Errorf("second version = %d, want 2", v2.Number)
	}
	active, err := st.GetActiveVersion(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetActiveVersion: %v", err)
	}
	if active.Number != 2 {
		t.Errorf("active = %d, want 2", active.Number)
	}

	log, _ := mgr.ChangeLog(ctx, wf.ID)
	if len(log) != 2 || log[0].Action != workflow.ChangeCreated || log[1].Action != workflow.ChangeUpdated {
		t.Errorf("changelog = %+v", log)
	}
}

func TestSnapshotDraftKeepsActiveVersion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	mgr := version.NewManager(st, nil)
	wf := seedWorkflow(t, st)

	v1, err := mgr.Snapshot(ctx, wf.ID, "initial", "tester")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	got, _ := st.GetWorkflow(ctx, wf.ID)
	got.Description = "work in progress"
	if err := st.UpdateWorkflow(ctx, got); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}
	draft, err := mgr.SnapshotWith(ctx, wf.ID, "wip", "tester", version.SnapshotOptions{
		Tag:   "v2.0.0-rc1",
		Draft: true,
	})
	if err != nil {
		t.Fatalf("SnapshotWith draft: %v", err)
	}
	if draft.Number != 2 || !draft.IsDraft || draft.IsActive {
		t.Errorf("draft = number %d draft=%v active=%v", draft.Number, draft.IsDraft, draft.IsActive)
	}
	if draft.Tag != "v2.0.0-rc1" {
		t.Errorf("tag = %q", draft.Tag)
	}

	// The draft did not steal activation.
	active, err := st.GetActiveVersion(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetActiveVersion: %v", err)
	}
	if active.Number != v1.Number {
		t.Errorf("active = %d, want %d", active.Number, v1.Number)
	}

	// Listing hides drafts unless asked for.
	published, _ := mgr.List(ctx, wf.ID, false)
	if len(published) != 1 {
		t.Errorf("published versions = %d, want 1", len(published))
	}
	everything, _ := mgr.List(ctx, wf.ID, true)
	if len(everything) != 2 {
		t.Errorf("all versions = %d, want 2", len(everything))
	}

	// A draft of an unchanged definition still mints; only non-draft
	// snapshots take the unchanged shortcut.
	redraft, err := mgr.SnapshotWith(ctx, wf.ID, "wip again", "tester", version.SnapshotOptions{Draft: true})
	if err != nil {
		t.Fatalf("SnapshotWith redraft: %v", err)
	}
	if redraft.Number != 3 {
		t.Errorf("redraft number = %d, want 3", redraft.Number)
	}

	// Publishing the same content as a normal snapshot activates it.
	v4, err := mgr.Snapshot(ctx, wf.ID, "publish", "tester")
	if err != nil {
		t.Fatalf("Snapshot publish: %v", err)
	}
	if v4.IsDraft || !v4.IsActive {
		t.Errorf("published version = %+v", v4)
	}
	active, _ = st.GetActiveVersion(ctx, wf.ID)
	if active.Number != v4.Number {
		t.Errorf("active = %d, want %d", active.Number, v4.Number)
	}
}

func TestRollbackRestoresTasks(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	mgr := version.NewManager(st, nil)
	wf := seedWorkflow(t, st)

	if _, err := mgr.Snapshot(ctx, wf.ID, "initial", ""); err != nil {
		t.Fatalf("Snapshot v1: %v", err)
	}

	// Mutate the definition: rename, drop a task.
	got, _ := st.GetWorkflow(ctx, wf.ID)
	got.Name = "renamed"
	if err := st.UpdateWorkflow(ctx, got); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}
	if err := st.ReplaceTasks(ctx, wf.ID, []*workflow.Task{
		workflow.NewTask(wf.ID, "solo", "echo", nil, nil),
	}); err != nil {
		t.Fatalf("ReplaceTasks: %v", err)
	}
	if _, err := mgr.Snapshot(ctx, wf.ID, "rework", ""); err != nil {
		t.Fatalf("Snapshot v2: %v", err)
	}

	v, err := mgr.Rollback(ctx, wf.ID, 1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if v.Number != 3 {
		t.Errorf("rollback minted version %d, want 3", v.Number)
	}

	restored, err := st.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if restored.Name != "pipeline" {
		t.Errorf("name = %q, want pipeline", restored.Name)
	}
	if len(restored.Tasks) != 2 || restored.Tasks[0].Name != "extract" || restored.Tasks[1].Name != "load" {
		t.Errorf("task list not restored: %+v", restored.Tasks)
	}

	// Version 3 content matches version 1.
	v1, _ := mgr.Get(ctx, wf.ID, 1)
	if v.Checksum != v1.Checksum {
		t.Errorf("rollback checksum %s != target %s", v.Checksum, v1.Checksum)
	}

	log, _ := mgr.ChangeLog(ctx, wf.ID)
	last := log[len(log)-1]
	if last.Action != workflow.ChangeRolledBack || last.ToVersion != 1 {
		t.Errorf("last changelog = %+v", last)
	}
}

func TestRollbackRejectsRunning(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	mgr := version.NewManager(st, nil)
	wf := seedWorkflow(t, st)
	if _, err := mgr.Snapshot(ctx, wf.ID, "", ""); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	got, _ := st.GetWorkflow(ctx, wf.ID)
	got.Status = workflow.StatusRunning
	if err := st.UpdateWorkflow(ctx, got); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}

	if _, err := mgr.Rollback(ctx, wf.ID, 1); err == nil {
		t.Error("rollback of running workflow should fail")
	}
}

func TestDiffDefinitions(t *testing.T) {
	oldDef := &workflow.Definition{
		Name:        "wf",
		Description: "before",
		Tasks: []workflow.TaskDef{
			{Name: "a", ActionType: "echo", ActionPayload: map[string]any{"msg": "hi"}},
			{Name: "b", ActionType: "echo"},
		},
	}
	newDef := &workflow.Definition{
		Name:        "wf",
		Description: "after",
		Tasks: []workflow.TaskDef{
			{Name: "a", ActionType: "http_request", ActionPayload: map[string]any{"msg": "hi", "url": "http://x"}},
			{Name: "b", ActionType: "echo"},
			{Name: "c", ActionType: "sleep"},
		},
	}

	d, err := version.DiffDefinitions(oldDef, newDef)
	if err != nil {
		t.Fatalf("DiffDefinitions: %v", err)
	}

	mod, ok := d.Modified["description"]
	if !ok || mod.Old != "before" || mod.New != "after" {
		t.Errorf("description change = %+v", mod)
	}
	if c, ok := d.Modified["tasks[0].action_type"]; !ok || c.New != "http_request" {
		t.Errorf("action_type change missing: %+v", d.Modified)
	}
	if _, ok := d.Added["tasks[0].action_payload.url"]; !ok {
		t.Errorf("added payload key missing: %+v", d.Added)
	}
	if _, ok := d.Added["tasks[2]"]; !ok {
		t.Errorf("added task missing: %+v", d.Added)
	}
	if len(d.Removed) != 0 {
		t.Errorf("unexpected removals: %+v", d.Removed)
	}

	same, err := version.DiffDefinitions(oldDef, oldDef)
	if err != nil {
		t.Fatalf("DiffDefinitions same: %v", err)
	}
	if !same.Empty() {
		t.Errorf("self diff not empty: %+v", same)
	}
}
