package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	createTables: []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(36) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			created_at BIGINT NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_workflows_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(36) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			seq INT NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_tasks_workflow (workflow_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS schedules (
			workflow_id VARCHAR(36) PRIMARY KEY,
			enabled TINYINT NOT NULL,
			next_run BIGINT NULL,
			created_at BIGINT NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_schedules_due (enabled, next_run)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS versions (
			workflow_id VARCHAR(36) NOT NULL,
			number INT NOT NULL,
			is_active TINYINT NOT NULL,
			doc JSON NOT NULL,
			PRIMARY KEY (workflow_id, number)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS changelog (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_changelog_workflow (workflow_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS variables (
			workflow_id VARCHAR(36) NOT NULL,
			key_name VARCHAR(191) NOT NULL,
			doc JSON NOT NULL,
			PRIMARY KEY (workflow_id, key_name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS secrets (
			workflow_id VARCHAR(36) NOT NULL,
			key_name VARCHAR(191) NOT NULL,
			value TEXT NOT NULL,
			doc JSON NOT NULL,
			PRIMARY KEY (workflow_id, key_name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_name VARCHAR(191) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			expires_at BIGINT NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_idem_expires (expires_at),
			INDEX idx_idem_workflow (workflow_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(36) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			started_at BIGINT NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_executions_workflow (workflow_id, started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS task_executions (
			id VARCHAR(36) PRIMARY KEY,
			execution_id VARCHAR(36) NOT NULL,
			workflow_id VARCHAR(36) NOT NULL,
			started_at BIGINT NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_task_execs_execution (execution_id, started_at),
			INDEX idx_task_execs_workflow (workflow_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS task_groups (
			id VARCHAR(36) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_groups_workflow (workflow_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS templates (
			name VARCHAR(191) PRIMARY KEY,
			doc JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertSchedule: `
		INSERT INTO schedules (workflow_id, enabled, next_run, created_at, doc)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			enabled = VALUES(enabled),
			next_run = VALUES(next_run),
			doc = VALUES(doc)`,
	upsertVariable: `
		INSERT INTO variables (workflow_id, key_name, doc)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			doc = VALUES(doc)`,
	upsertSecret: `
		INSERT INTO secrets (workflow_id, key_name, value, doc)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			value = VALUES(value),
			doc = VALUES(doc)`,
}

// NewMySQL creates a MySQL/MariaDB-backed store for shared deployments
// where multiple processes read the same data.
//
// The DSN follows the go-sql-driver format:
//
//	user:password@tcp(localhost:3306)/orbit?parseTime=true
//
// Credentials belong in the environment, never in source. The store
// auto-migrates its schema and configures connection pooling.
func NewMySQL(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return newSQLStore(db, mysqlDialect)
}
