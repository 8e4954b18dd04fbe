package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/orbitq/orbit/workflow"
)

// ErrConflict is returned when an insert collides with an existing row
// under a uniqueness constraint, such as an in-flight idempotency key.
var ErrConflict = errors.New("conflict")

// Store is the persistence contract for the engine and its satellites.
//
// It covers workflow definitions and their tasks, cron schedules,
// definition versions with their change log, variables and secrets,
// idempotency records, execution history, dynamic task groups, and
// workflow templates.
//
// Implementations:
//   - In-memory (memory.go), for tests and throwaway runs
//   - SQLite (sqlite.go), single-file with zero setup
//   - MySQL (mysql.go), for shared deployments
//
// Lookups that miss return workflow.ErrNotFound. Writes are atomic per
// call; multi-row operations (ReplaceTasks, DeleteWorkflow's cascade,
// SetActiveVersion) are transactional in the SQL backends.
type Store interface {
	// Workflows. GetWorkflow loads the workflow with its full task
	// list. ListWorkflows pages by offset/limit and also returns the
	// total count. DeleteWorkflow cascades to everything the workflow
	// owns.
	CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context, offset, limit int) ([]*workflow.Workflow, int, error)
	ListWorkflowsByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error

	// Tasks. ReplaceTasks atomically swaps a workflow's task list,
	// used by definition updates and version rollback.
	CreateTasks(ctx context.Context, tasks []*workflow.Task) error
	UpdateTask(ctx context.Context, t *workflow.Task) error
	ReplaceTasks(ctx context.Context, workflowID uuid.UUID, tasks []*workflow.Task) error

	// Schedules, at most one per workflow.
	UpsertSchedule(ctx context.Context, s *workflow.Schedule) error
	GetSchedule(ctx context.Context, workflowID uuid.UUID) (*workflow.Schedule, error)
	ListSchedules(ctx context.Context) ([]*workflow.Schedule, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]*workflow.Schedule, error)
	DeleteSchedule(ctx context.Context, workflowID uuid.UUID) error

	// Versions and the append-only change log. SetActiveVersion
	// activates one version number and deactivates the rest.
	CreateVersion(ctx context.Context, v *workflow.Version) error
	GetVersion(ctx context.Context, workflowID uuid.UUID, number int) (*workflow.Version, error)
	GetActiveVersion(ctx context.Context, workflowID uuid.UUID) (*workflow.Version, error)
	ListVersions(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Version, error)
	SetActiveVersion(ctx context.Context, workflowID uuid.UUID, number int) error
	AppendChangeLog(ctx context.Context, e *workflow.ChangeLogEntry) error
	ListChangeLog(ctx context.Context, workflowID uuid.UUID) ([]*workflow.ChangeLogEntry, error)

	// Variables and secrets, keyed by (workflowID, key). Global scope
	// uses workflow.GlobalScope as the workflow id. Secret values are
	// stored as ciphertext; the store never sees plaintext.
	UpsertVariable(ctx context.Context, v *workflow.Variable) error
	GetVariable(ctx context.Context, workflowID uuid.UUID, key string) (*workflow.Variable, error)
	ListVariables(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Variable, error)
	DeleteVariable(ctx context.Context, workflowID uuid.UUID, key string) error
	UpsertSecret(ctx context.Context, s *workflow.Secret) error
	GetSecret(ctx context.Context, workflowID uuid.UUID, key string) (*workflow.Secret, error)
	ListSecrets(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Secret, error)
	DeleteSecret(ctx context.Context, workflowID uuid.UUID, key string) error

	// Idempotency records. PutIdempotencyKey returns ErrConflict when
	// the key already exists and has not expired, which serializes
	// concurrent claims of the same key. DeleteExpiredKeys is the
	// sweeper hook and reports how many rows it removed.
	GetIdempotencyKey(ctx context.Context, key string) (*workflow.IdempotencyKey, error)
	PutIdempotencyKey(ctx context.Context, k *workflow.IdempotencyKey) error
	UpdateIdempotencyKey(ctx context.Context, k *workflow.IdempotencyKey) error
	DeleteExpiredKeys(ctx context.Context, now time.Time) (int, error)

	// Execution history. Workflow runs list newest first; per-attempt
	// task records list oldest first so the retry story reads in order.
	AppendExecution(ctx context.Context, e *workflow.Execution) error
	UpdateExecution(ctx context.Context, e *workflow.Execution) error
	ListExecutions(ctx context.Context, workflowID uuid.UUID, limit int) ([]*workflow.Execution, error)
	AppendTaskExecution(ctx context.Context, e *workflow.TaskExecution) error
	ListTaskExecutions(ctx context.Context, executionID uuid.UUID) ([]*workflow.TaskExecution, error)

	// Dynamic task groups.
	CreateTaskGroup(ctx context.Context, g *workflow.TaskGroup) error
	UpdateTaskGroup(ctx context.Context, g *workflow.TaskGroup) error
	GetTaskGroup(ctx context.Context, id uuid.UUID) (*workflow.TaskGroup, error)

	// Workflow templates, unique by name.
	CreateTemplate(ctx context.Context, t *workflow.Template) error
	GetTemplate(ctx context.Context, name string) (*workflow.Template, error)
	ListTemplates(ctx context.Context) ([]*workflow.Template, error)
	UpdateTemplate(ctx context.Context, t *workflow.Template) error
	DeleteTemplate(ctx context.Context, name string) error

	// Ping verifies the backend is reachable; Close releases it.
	Ping(ctx context.Context) error
	Close() error
}
