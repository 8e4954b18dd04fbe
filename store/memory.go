package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitq/orbit/workflow"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for tests and short-lived runs where persistence across
// restarts is not required. All data is lost when the process exits.
//
// MemStore is thread-safe. Every read hands back deep copies, so
// callers can mutate returned values without corrupting the store.
type MemStore struct {
	mu sync.RWMutex

	workflows map[uuid.UUID]*workflow.Workflow
	order     []uuid.UUID // creation order for listing
	tasks     map[uuid.UUID][]*workflow.Task

	schedules map[uuid.UUID]*workflow.Schedule
	versions  map[uuid.UUID][]*workflow.Version
	changelog map[uuid.UUID][]*workflow.ChangeLogEntry

	variables map[string]*workflow.Variable
	secrets   map[string]*workflow.Secret

	idem       map[string]*workflow.IdempotencyKey
	executions map[uuid.UUID][]*workflow.Execution
	taskExecs  map[uuid.UUID][]*workflow.TaskExecution // keyed by execution id
	groups     map[uuid.UUID]*workflow.TaskGroup
	templates  map[string]*workflow.Template

	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows:  make(map[uuid.UUID]*workflow.Workflow),
		tasks:      make(map[uuid.UUID][]*workflow.Task),
		schedules:  make(map[uuid.UUID]*workflow.Schedule),
		versions:   make(map[uuid.UUID][]*workflow.Version),
		changelog:  make(map[uuid.UUID][]*workflow.ChangeLogEntry),
		variables:  make(map[string]*workflow.Variable),
		secrets:    make(map[string]*workflow.Secret),
		idem:       make(map[string]*workflow.IdempotencyKey),
		executions: make(map[uuid.UUID][]*workflow.Execution),
		taskExecs:  make(map[uuid.UUID][]*workflow.TaskExecution),
		groups:     make(map[uuid.UUID]*workflow.TaskGroup),
		templates:  make(map[string]*workflow.Template),
	}
}

// clone deep-copies a value through JSON. Every model type round-trips
// losslessly, which is what makes the copy-on-read guarantee cheap to
// uphold.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: clone marshal: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("store: clone unmarshal: %v", err))
	}
	return out
}

func cloneSlice[T any](in []*T) []*T {
	out := make([]*T, len(in))
	for i, v := range in {
		out[i] = clone(v)
	}
	return out
}

func scopeKey(workflowID uuid.UUID, key string) string {
	return workflowID.String() + "/" + key
}

// CreateWorkflow stores the workflow and any tasks it carries.
func (m *MemStore) CreateWorkflow(_ context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[wf.ID]; ok {
		return ErrConflict
	}
	cp := clone(wf)
	tasks := cp.Tasks
	cp.Tasks = nil
	m.workflows[wf.ID] = cp
	m.order = append(m.order, wf.ID)
	m.tasks[wf.ID] = append(m.tasks[wf.ID], tasks...)
	return nil
}

// GetWorkflow returns the workflow with its task list in creation
// order.
func (m *MemStore) GetWorkflow(_ context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	out := clone(wf)
	out.Tasks = cloneSlice(m.tasks[id])
	return out, nil
}

// ListWorkflows pages workflows in creation order and returns the total
// count. Listed workflows omit their task lists.
func (m *MemStore) ListWorkflows(_ context.Context, offset, limit int) ([]*workflow.Workflow, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := len(m.order)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*workflow.Workflow, 0, end-offset)
	for _, id := range m.order[offset:end] {
		out = append(out, clone(m.workflows[id]))
	}
	return out, total, nil
}

// ListWorkflowsByStatus returns all workflows in the given status,
// without task lists.
func (m *MemStore) ListWorkflowsByStatus(_ context.Context, status workflow.Status) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Workflow
	for _, id := range m.order {
		if wf := m.workflows[id]; wf.Status == status {
			out = append(out, clone(wf))
		}
	}
	return out, nil
}

// UpdateWorkflow replaces the stored workflow row. Task lists are
// managed through the task operations and left untouched here.
func (m *MemStore) UpdateWorkflow(_ context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[wf.ID]; !ok {
		return workflow.ErrNotFound
	}
	cp := clone(wf)
	cp.Tasks = nil
	m.workflows[wf.ID] = cp
	return nil
}

// DeleteWorkflow removes the workflow and cascades to everything it
// owns.
func (m *MemStore) DeleteWorkflow(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[id]; !ok {
		return workflow.ErrNotFound
	}
	delete(m.workflows, id)
	for i, wid := range m.order {
		if wid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	delete(m.tasks, id)
	delete(m.schedules, id)
	delete(m.versions, id)
	delete(m.changelog, id)
	delete(m.executions, id)
	for eid, attempts := range m.taskExecs {
		if len(attempts) > 0 && attempts[0].WorkflowID == id {
			delete(m.taskExecs, eid)
		}
	}
	for k, v := range m.variables {
		if v.WorkflowID == id {
			delete(m.variables, k)
		}
	}
	for k, s := range m.secrets {
		if s.WorkflowID == id {
			delete(m.secrets, k)
		}
	}
	for k, rec := range m.idem {
		if rec.WorkflowID == id {
			delete(m.idem, k)
		}
	}
	for gid, g := range m.groups {
		if g.WorkflowID == id {
			delete(m.groups, gid)
		}
	}
	return nil
}

// CreateTasks appends tasks to their workflows' task lists.
func (m *MemStore) CreateTasks(_ context.Context, tasks []*workflow.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tasks {
		if _, ok := m.workflows[t.WorkflowID]; !ok {
			return workflow.ErrNotFound
		}
		m.tasks[t.WorkflowID] = append(m.tasks[t.WorkflowID], clone(t))
	}
	return nil
}

// UpdateTask replaces one task row by id.
func (m *MemStore) UpdateTask(_ context.Context, t *workflow.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.tasks[t.WorkflowID]
	for i, existing := range list {
		if existing.ID == t.ID {
			list[i] = clone(t)
			return nil
		}
	}
	return workflow.ErrNotFound
}

// ReplaceTasks swaps the workflow's task list wholesale.
func (m *MemStore) ReplaceTasks(_ context.Context, workflowID uuid.UUID, tasks []*workflow.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[workflowID]; !ok {
		return workflow.ErrNotFound
	}
	m.tasks[workflowID] = cloneSlice(tasks)
	return nil
}

// UpsertSchedule stores or replaces the workflow's schedule.
func (m *MemStore) UpsertSchedule(_ context.Context, s *workflow.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.WorkflowID] = clone(s)
	return nil
}

func (m *MemStore) GetSchedule(_ context.Context, workflowID uuid.UUID) (*workflow.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[workflowID]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return clone(s), nil
}

func (m *MemStore) ListSchedules(_ context.Context) ([]*workflow.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListDueSchedules returns enabled schedules whose next run is at or
// before now, including schedules that have never been armed.
func (m *MemStore) ListDueSchedules(_ context.Context, now time.Time) ([]*workflow.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Schedule
	for _, s := range m.schedules {
		if s.Due(now) {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) DeleteSchedule(_ context.Context, workflowID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[workflowID]; !ok {
		return workflow.ErrNotFound
	}
	delete(m.schedules, workflowID)
	return nil
}

// CreateVersion appends an immutable version snapshot.
func (m *MemStore) CreateVersion(_ context.Context, v *workflow.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.versions[v.WorkflowID] {
		if existing.Number == v.Number {
			return ErrConflict
		}
	}
	m.versions[v.WorkflowID] = append(m.versions[v.WorkflowID], clone(v))
	return nil
}

func (m *MemStore) GetVersion(_ context.Context, workflowID uuid.UUID, number int) (*workflow.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, v := range m.versions[workflowID] {
		if v.Number == number {
			return clone(v), nil
		}
	}
	return nil, workflow.ErrNotFound
}

func (m *MemStore) GetActiveVersion(_ context.Context, workflowID uuid.UUID) (*workflow.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, v := range m.versions[workflowID] {
		if v.IsActive {
			return clone(v), nil
		}
	}
	return nil, workflow.ErrNotFound
}

// ListVersions returns all versions newest first.
func (m *MemStore) ListVersions(_ context.Context, workflowID uuid.UUID) ([]*workflow.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := cloneSlice(m.versions[workflowID])
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

// SetActiveVersion flips the active flag to the given version number.
func (m *MemStore) SetActiveVersion(_ context.Context, workflowID uuid.UUID, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for _, v := range m.versions[workflowID] {
		v.IsActive = v.Number == number
		if v.IsActive {
			found = true
		}
	}
	if !found {
		return workflow.ErrNotFound
	}
	return nil
}

func (m *MemStore) AppendChangeLog(_ context.Context, e *workflow.ChangeLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changelog[e.WorkflowID] = append(m.changelog[e.WorkflowID], clone(e))
	return nil
}

// ListChangeLog returns entries in append order.
func (m *MemStore) ListChangeLog(_ context.Context, workflowID uuid.UUID) ([]*workflow.ChangeLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSlice(m.changelog[workflowID]), nil
}

func (m *MemStore) UpsertVariable(_ context.Context, v *workflow.Variable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variables[scopeKey(v.WorkflowID, v.Key)] = clone(v)
	return nil
}

func (m *MemStore) GetVariable(_ context.Context, workflowID uuid.UUID, key string) (*workflow.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.variables[scopeKey(workflowID, key)]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return clone(v), nil
}

func (m *MemStore) ListVariables(_ context.Context, workflowID uuid.UUID) ([]*workflow.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Variable
	for _, v := range m.variables {
		if v.WorkflowID == workflowID {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStore) DeleteVariable(_ context.Context, workflowID uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := scopeKey(workflowID, key)
	if _, ok := m.variables[k]; !ok {
		return workflow.ErrNotFound
	}
	delete(m.variables, k)
	return nil
}

func (m *MemStore) UpsertSecret(_ context.Context, s *workflow.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.secrets[scopeKey(s.WorkflowID, s.Key)] = &cp
	return nil
}

func (m *MemStore) GetSecret(_ context.Context, workflowID uuid.UUID, key string) (*workflow.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.secrets[scopeKey(workflowID, key)]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemStore) ListSecrets(_ context.Context, workflowID uuid.UUID) ([]*workflow.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Secret
	for _, s := range m.secrets {
		if s.WorkflowID == workflowID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStore) DeleteSecret(_ context.Context, workflowID uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := scopeKey(workflowID, key)
	if _, ok := m.secrets[k]; !ok {
		return workflow.ErrNotFound
	}
	delete(m.secrets, k)
	return nil
}

func (m *MemStore) GetIdempotencyKey(_ context.Context, key string) (*workflow.IdempotencyKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.idem[key]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return clone(rec), nil
}

// PutIdempotencyKey claims a key. An unexpired existing record wins the
// race and the caller gets ErrConflict; expired records are replaced.
func (m *MemStore) PutIdempotencyKey(_ context.Context, k *workflow.IdempotencyKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.idem[k.Key]; ok && !existing.Expired(time.Now().UTC()) {
		return ErrConflict
	}
	m.idem[k.Key] = clone(k)
	return nil
}

func (m *MemStore) UpdateIdempotencyKey(_ context.Context, k *workflow.IdempotencyKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.idem[k.Key]; !ok {
		return workflow.ErrNotFound
	}
	m.idem[k.Key] = clone(k)
	return nil
}

// DeleteExpiredKeys drops every record past its TTL and reports the
// count.
func (m *MemStore) DeleteExpiredKeys(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, rec := range m.idem {
		if rec.Expired(now) {
			delete(m.idem, key)
			n++
		}
	}
	return n, nil
}

func (m *MemStore) AppendExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[e.WorkflowID] = append(m.executions[e.WorkflowID], clone(e))
	return nil
}

func (m *MemStore) UpdateExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.executions[e.WorkflowID] {
		if existing.ID == e.ID {
			m.executions[e.WorkflowID][i] = clone(e)
			return nil
		}
	}
	return workflow.ErrNotFound
}

// ListExecutions returns up to limit executions, newest first.
func (m *MemStore) ListExecutions(_ context.Context, workflowID uuid.UUID, limit int) ([]*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := cloneSlice(m.executions[workflowID])
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) AppendTaskExecution(_ context.Context, e *workflow.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskExecs[e.ExecutionID] = append(m.taskExecs[e.ExecutionID], clone(e))
	return nil
}

// ListTaskExecutions returns the run's per-attempt task records, oldest
// first.
func (m *MemStore) ListTaskExecutions(_ context.Context, executionID uuid.UUID) ([]*workflow.TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := cloneSlice(m.taskExecs[executionID])
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MemStore) CreateTaskGroup(_ context.Context, g *workflow.TaskGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[g.ID]; ok {
		return ErrConflict
	}
	m.groups[g.ID] = clone(g)
	return nil
}

func (m *MemStore) UpdateTaskGroup(_ context.Context, g *workflow.TaskGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[g.ID]; !ok {
		return workflow.ErrNotFound
	}
	m.groups[g.ID] = clone(g)
	return nil
}

func (m *MemStore) GetTaskGroup(_ context.Context, id uuid.UUID) (*workflow.TaskGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return clone(g), nil
}

func (m *MemStore) CreateTemplate(_ context.Context, t *workflow.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[t.Name]; ok {
		return ErrConflict
	}
	m.templates[t.Name] = clone(t)
	return nil
}

func (m *MemStore) GetTemplate(_ context.Context, name string) (*workflow.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[name]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return clone(t), nil
}

func (m *MemStore) ListTemplates(_ context.Context) ([]*workflow.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) UpdateTemplate(_ context.Context, t *workflow.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[t.Name]; !ok {
		return workflow.ErrNotFound
	}
	m.templates[t.Name] = clone(t)
	return nil
}

func (m *MemStore) DeleteTemplate(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[name]; !ok {
		return workflow.ErrNotFound
	}
	delete(m.templates, name)
	return nil
}

// Ping always succeeds for an open in-memory store.
func (m *MemStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close marks the store closed. Double-close is a no-op.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
