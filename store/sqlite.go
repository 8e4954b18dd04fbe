package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	createTables: []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_workflow ON tasks(workflow_id, seq)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			workflow_id TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL,
			next_run INTEGER,
			created_at INTEGER NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(enabled, next_run)`,
		`CREATE TABLE IF NOT EXISTS versions (
			workflow_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			is_active INTEGER NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (workflow_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS changelog (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changelog_workflow ON changelog(workflow_id)`,
		`CREATE TABLE IF NOT EXISTS variables (
			workflow_id TEXT NOT NULL,
			key_name TEXT NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (workflow_id, key_name)
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			workflow_id TEXT NOT NULL,
			key_name TEXT NOT NULL,
			value TEXT NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (workflow_id, key_name)
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_name TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_idem_expires ON idempotency_keys(expires_at)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS task_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_execs_execution ON task_executions(execution_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS task_groups (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			name TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		)`,
	},
	upsertSchedule: `
		INSERT INTO schedules (workflow_id, enabled, next_run, created_at, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			enabled = excluded.enabled,
			next_run = excluded.next_run,
			doc = excluded.doc`,
	upsertVariable: `
		INSERT INTO variables (workflow_id, key_name, doc)
		VALUES (?, ?, ?)
		ON CONFLICT(workflow_id, key_name) DO UPDATE SET
			doc = excluded.doc`,
	upsertSecret: `
		INSERT INTO secrets (workflow_id, key_name, value, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workflow_id, key_name) DO UPDATE SET
			value = excluded.value,
			doc = excluded.doc`,
}

// NewSQLite creates a SQLite-backed store.
//
// The path is the database file location; ":memory:" gives an
// in-memory database that vanishes on Close. The store auto-migrates
// its schema, enables WAL mode for concurrent reads, and keeps a
// single connection since SQLite supports one writer at a time.
//
// Suited for development and single-process deployments. Use NewMySQL
// for shared ones.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return newSQLStore(db, sqliteDialect)
}
