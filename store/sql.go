package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orbitq/orbit/workflow"
)

// dialect carries the statements that differ between SQL backends.
// Both drivers use ? placeholders, so every query that doesn't appear
// here is shared verbatim.
type dialect struct {
	name         string
	createTables []string

	upsertSchedule string
	upsertVariable string
	upsertSecret   string
}

// SQLStore implements Store over database/sql. Entities are persisted
// as JSON documents alongside the columns the queries filter and order
// by. Timestamp columns hold Unix nanoseconds so range scans compare
// correctly; the document keeps the authoritative values.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	ctx := context.Background()
	for _, stmt := range d.createTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create tables (%s): %w", d.name, err)
		}
	}
	return &SQLStore{db: db, d: d}, nil
}

func marshalDoc(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %T: %w", v, err)
	}
	return string(data), nil
}

func unmarshalDoc[T any](doc string) (*T, error) {
	out := new(T)
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", out, err)
	}
	return out, nil
}

// CreateWorkflow inserts the workflow row and any tasks it carries in
// one transaction.
func (s *SQLStore) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	cp := *wf
	tasks := cp.Tasks
	cp.Tasks = nil
	doc, err := marshalDoc(&cp)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (id, status, created_at, doc) VALUES (?, ?, ?, ?)`,
		wf.ID.String(), string(wf.Status), wf.CreatedAt.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if err := insertTasks(ctx, tx, wf.ID, tasks, 0); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTasks(ctx context.Context, tx *sql.Tx, workflowID uuid.UUID, tasks []*workflow.Task, seqBase int) error {
	for i, t := range tasks {
		doc, err := marshalDoc(t)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, workflow_id, seq, doc) VALUES (?, ?, ?, ?)`,
			t.ID.String(), workflowID.String(), seqBase+i, doc)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.Name, err)
		}
	}
	return nil
}

// GetWorkflow loads the workflow with its tasks in creation order.
func (s *SQLStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM workflows WHERE id = ?`, id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	wf, err := unmarshalDoc[workflow.Workflow](doc)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM tasks WHERE workflow_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tdoc string
		if err := rows.Scan(&tdoc); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t, err := unmarshalDoc[workflow.Task](tdoc)
		if err != nil {
			return nil, err
		}
		wf.Tasks = append(wf.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return wf, nil
}

// ListWorkflows pages by creation order and returns the total count.
func (s *SQLStore) ListWorkflows(ctx context.Context, offset, limit int) ([]*workflow.Workflow, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}
	if limit <= 0 {
		limit = total
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM workflows ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.Workflow
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, fmt.Errorf("scan workflow: %w", err)
		}
		wf, err := unmarshalDoc[workflow.Workflow](doc)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, wf)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) ListWorkflowsByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM workflows WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list workflows by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.Workflow
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wf, err := unmarshalDoc[workflow.Workflow](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	cp := *wf
	cp.Tasks = nil
	doc, err := marshalDoc(&cp)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, doc = ? WHERE id = ?`,
		string(wf.Status), doc, wf.ID.String())
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return requireRow(res)
}

// DeleteWorkflow cascades across every owned table in one transaction.
func (s *SQLStore) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	wid := id.String()
	for _, table := range []string{"tasks", "schedules", "versions", "changelog", "variables", "secrets", "idempotency_keys", "executions", "task_executions", "task_groups"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE workflow_id = ?`, wid); err != nil {
			return fmt.Errorf("cascade delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

func (s *SQLStore) CreateTasks(ctx context.Context, tasks []*workflow.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Continue the per-workflow sequence.
	byWorkflow := make(map[uuid.UUID][]*workflow.Task)
	for _, t := range tasks {
		byWorkflow[t.WorkflowID] = append(byWorkflow[t.WorkflowID], t)
	}
	for wid, batch := range byWorkflow {
		var next sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT MAX(seq) + 1 FROM tasks WHERE workflow_id = ?`, wid.String()).Scan(&next)
		if err != nil {
			return fmt.Errorf("next task seq: %w", err)
		}
		if err := insertTasks(ctx, tx, wid, batch, int(next.Int64)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateTask(ctx context.Context, t *workflow.Task) error {
	doc, err := marshalDoc(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET doc = ? WHERE id = ?`, doc, t.ID.String())
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(res)
}

// ReplaceTasks swaps the workflow's task list atomically.
func (s *SQLStore) ReplaceTasks(ctx context.Context, workflowID uuid.UUID, tasks []*workflow.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflows WHERE id = ?`, workflowID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check workflow: %w", err)
	}
	if exists == 0 {
		return workflow.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE workflow_id = ?`, workflowID.String()); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	if err := insertTasks(ctx, tx, workflowID, tasks, 0); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) UpsertSchedule(ctx context.Context, sched *workflow.Schedule) error {
	doc, err := marshalDoc(sched)
	if err != nil {
		return err
	}
	var nextRun sql.NullInt64
	if sched.NextRun != nil {
		nextRun = sql.NullInt64{Int64: sched.NextRun.UnixNano(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, s.d.upsertSchedule,
		sched.WorkflowID.String(), boolInt(sched.Enabled), nextRun, sched.CreatedAt.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLStore) GetSchedule(ctx context.Context, workflowID uuid.UUID) (*workflow.Schedule, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM schedules WHERE workflow_id = ?`, workflowID.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return unmarshalDoc[workflow.Schedule](doc)
}

func (s *SQLStore) ListSchedules(ctx context.Context) ([]*workflow.Schedule, error) {
	return s.scanSchedules(ctx, `SELECT doc FROM schedules ORDER BY created_at`)
}

func (s *SQLStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*workflow.Schedule, error) {
	return s.scanSchedules(ctx,
		`SELECT doc FROM schedules WHERE enabled = 1 AND (next_run IS NULL OR next_run <= ?) ORDER BY created_at`,
		now.UnixNano())
}

func (s *SQLStore) scanSchedules(ctx context.Context, query string, args ...any) ([]*workflow.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.Schedule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		sched, err := unmarshalDoc[workflow.Schedule](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteSchedule(ctx context.Context, workflowID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE workflow_id = ?`, workflowID.String())
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) CreateVersion(ctx context.Context, v *workflow.Version) error {
	doc, err := marshalDoc(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO versions (workflow_id, number, is_active, doc) VALUES (?, ?, ?, ?)`,
		v.WorkflowID.String(), v.Number, boolInt(v.IsActive), doc)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *SQLStore) GetVersion(ctx context.Context, workflowID uuid.UUID, number int) (*workflow.Version, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM versions WHERE workflow_id = ? AND number = ?`,
		workflowID.String(), number).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return unmarshalDoc[workflow.Version](doc)
}

func (s *SQLStore) GetActiveVersion(ctx context.Context, workflowID uuid.UUID) (*workflow.Version, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM versions WHERE workflow_id = ? AND is_active = 1`,
		workflowID.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}
	return unmarshalDoc[workflow.Version](doc)
}

func (s *SQLStore) ListVersions(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM versions WHERE workflow_id = ? ORDER BY number DESC`,
		workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.Version
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v, err := unmarshalDoc[workflow.Version](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetActiveVersion flips the active flag inside the stored documents as
// well as the indexed column, in one transaction.
func (s *SQLStore) SetActiveVersion(ctx context.Context, workflowID uuid.UUID, number int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT number, doc FROM versions WHERE workflow_id = ?`, workflowID.String())
	if err != nil {
		return fmt.Errorf("load versions: %w", err)
	}
	type rec struct {
		number int
		doc    string
	}
	var recs []rec
	for rows.Next() {
		var r rec
		if err := rows.Scan(&r.number, &r.doc); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan version: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close versions: %w", err)
	}

	found := false
	for _, r := range recs {
		v, err := unmarshalDoc[workflow.Version](r.doc)
		if err != nil {
			return err
		}
		v.IsActive = r.number == number
		if v.IsActive {
			found = true
		}
		doc, err := marshalDoc(v)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE versions SET is_active = ?, doc = ? WHERE workflow_id = ? AND number = ?`,
			boolInt(v.IsActive), doc, workflowID.String(), r.number)
		if err != nil {
			return fmt.Errorf("update version %d: %w", r.number, err)
		}
	}
	if !found {
		return workflow.ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) AppendChangeLog(ctx context.Context, e *workflow.ChangeLogEntry) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO changelog (workflow_id, doc) VALUES (?, ?)`,
		e.WorkflowID.String(), doc)
	if err != nil {
		return fmt.Errorf("append changelog: %w", err)
	}
	return nil
}

func (s *SQLStore) ListChangeLog(ctx context.Context, workflowID uuid.UUID) ([]*workflow.ChangeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM changelog WHERE workflow_id = ? ORDER BY seq`,
		workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("list changelog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.ChangeLogEntry
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan changelog: %w", err)
		}
		e, err := unmarshalDoc[workflow.ChangeLogEntry](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertVariable(ctx context.Context, v *workflow.Variable) error {
	doc, err := marshalDoc(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.d.upsertVariable,
		v.WorkflowID.String(), v.Key, doc)
	if err != nil {
		return fmt.Errorf("upsert variable: %w", err)
	}
	return nil
}

func (s *SQLStore) GetVariable(ctx context.Context, workflowID uuid.UUID, key string) (*workflow.Variable, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM variables WHERE workflow_id = ? AND key_name = ?`,
		workflowID.String(), key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get variable: %w", err)
	}
	return unmarshalDoc[workflow.Variable](doc)
}

func (s *SQLStore) ListVariables(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Variable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM variables WHERE workflow_id = ? ORDER BY key_name`,
		workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.Variable
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		v, err := unmarshalDoc[workflow.Variable](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteVariable(ctx context.Context, workflowID uuid.UUID, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM variables WHERE workflow_id = ? AND key_name = ?`,
		workflowID.String(), key)
	if err != nil {
		return fmt.Errorf("delete variable: %w", err)
	}
	return requireRow(res)
}

// Secret values live in their own ciphertext column because the model's
// JSON form deliberately omits them.
func (s *SQLStore) UpsertSecret(ctx context.Context, sec *workflow.Secret) error {
	doc, err := marshalDoc(sec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.d.upsertSecret,
		sec.WorkflowID.String(), sec.Key, sec.Value, doc)
	if err != nil {
		return fmt.Errorf("upsert secret: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSecret(ctx context.Context, workflowID uuid.UUID, key string) (*workflow.Secret, error) {
	var doc, value string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, value FROM secrets WHERE workflow_id = ? AND key_name = ?`,
		workflowID.String(), key).Scan(&doc, &value)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	sec, err := unmarshalDoc[workflow.Secret](doc)
	if err != nil {
		return nil, err
	}
	sec.Value = value
	return sec, nil
}

func (s *SQLStore) ListSecrets(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Secret, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, value FROM secrets WHERE workflow_id = ? ORDER BY key_name`,
		workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.Secret
	for rows.Next() {
		var doc, value string
		if err := rows.Scan(&doc, &value); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		sec, err := unmarshalDoc[workflow.Secret](doc)
		if err != nil {
			return nil, err
		}
		sec.Value = value
		out = append(out, sec)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteSecret(ctx context.Context, workflowID uuid.UUID, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM secrets WHERE workflow_id = ? AND key_name = ?`,
		workflowID.String(), key)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) GetIdempotencyKey(ctx context.Context, key string) (*workflow.IdempotencyKey, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM idempotency_keys WHERE key_name = ?`, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return unmarshalDoc[workflow.IdempotencyKey](doc)
}

// PutIdempotencyKey claims a key inside a transaction. A live record
// wins and the caller gets ErrConflict; an expired record is replaced.
func (s *SQLStore) PutIdempotencyKey(ctx context.Context, k *workflow.IdempotencyKey) error {
	doc, err := marshalDoc(k)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM idempotency_keys WHERE key_name = ?`, k.Key).Scan(&expiresAt)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO idempotency_keys (key_name, workflow_id, expires_at, doc) VALUES (?, ?, ?, ?)`,
			k.Key, k.WorkflowID.String(), k.ExpiresAt.UnixNano(), doc)
		if err != nil {
			return fmt.Errorf("insert idempotency key: %w", err)
		}
	case err != nil:
		return fmt.Errorf("check idempotency key: %w", err)
	case expiresAt > time.Now().UTC().UnixNano():
		return ErrConflict
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE idempotency_keys SET workflow_id = ?, expires_at = ?, doc = ? WHERE key_name = ?`,
			k.WorkflowID.String(), k.ExpiresAt.UnixNano(), doc, k.Key)
		if err != nil {
			return fmt.Errorf("replace expired idempotency key: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateIdempotencyKey(ctx context.Context, k *workflow.IdempotencyKey) error {
	doc, err := marshalDoc(k)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET expires_at = ?, doc = ? WHERE key_name = ?`,
		k.ExpiresAt.UnixNano(), doc, k.Key)
	if err != nil {
		return fmt.Errorf("update idempotency key: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) DeleteExpiredKeys(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) AppendExecution(ctx context.Context, e *workflow.Execution) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, started_at, doc) VALUES (?, ?, ?, ?)`,
		e.ID.String(), e.WorkflowID.String(), e.StartedAt.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("append execution: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET doc = ? WHERE id = ?`, doc, e.ID.String())
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) ListExecutions(ctx context.Context, workflowID uuid.UUID, limit int) ([]*workflow.Execution, error) {
	query := `SELECT doc FROM executions WHERE workflow_id = ? ORDER BY started_at DESC`
	args := []any{workflowID.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.Execution
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e, err := unmarshalDoc[workflow.Execution](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendTaskExecution(ctx context.Context, e *workflow.TaskExecution) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_executions (id, execution_id, workflow_id, started_at, doc) VALUES (?, ?, ?, ?, ?)`,
		e.ID.String(), e.ExecutionID.String(), e.WorkflowID.String(), e.StartedAt.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("append task execution: %w", err)
	}
	return nil
}

func (s *SQLStore) ListTaskExecutions(ctx context.Context, executionID uuid.UUID) ([]*workflow.TaskExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM task_executions WHERE execution_id = ? ORDER BY started_at ASC`,
		executionID.String())
	if err != nil {
		return nil, fmt.Errorf("list task executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.TaskExecution
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan task execution: %w", err)
		}
		e, err := unmarshalDoc[workflow.TaskExecution](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateTaskGroup(ctx context.Context, g *workflow.TaskGroup) error {
	doc, err := marshalDoc(g)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_groups (id, workflow_id, doc) VALUES (?, ?, ?)`,
		g.ID.String(), g.WorkflowID.String(), doc)
	if err != nil {
		return fmt.Errorf("insert task group: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateTaskGroup(ctx context.Context, g *workflow.TaskGroup) error {
	doc, err := marshalDoc(g)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_groups SET doc = ? WHERE id = ?`, doc, g.ID.String())
	if err != nil {
		return fmt.Errorf("update task group: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) GetTaskGroup(ctx context.Context, id uuid.UUID) (*workflow.TaskGroup, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM task_groups WHERE id = ?`, id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task group: %w", err)
	}
	return unmarshalDoc[workflow.TaskGroup](doc)
}

func (s *SQLStore) CreateTemplate(ctx context.Context, t *workflow.Template) error {
	doc, err := marshalDoc(t)
	if err != nil {
		return err
	}
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM templates WHERE name = ?`, t.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check template: %w", err)
	}
	if exists > 0 {
		return ErrConflict
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (name, doc) VALUES (?, ?)`, t.Name, doc)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTemplate(ctx context.Context, name string) (*workflow.Template, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM templates WHERE name = ?`, name).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return unmarshalDoc[workflow.Template](doc)
}

func (s *SQLStore) ListTemplates(ctx context.Context) ([]*workflow.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*workflow.Template
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t, err := unmarshalDoc[workflow.Template](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateTemplate(ctx context.Context, t *workflow.Template) error {
	doc, err := marshalDoc(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET doc = ? WHERE name = ?`, doc, t.Name)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) DeleteTemplate(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM templates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireRow(res)
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
