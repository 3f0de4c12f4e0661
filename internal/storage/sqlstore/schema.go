package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one schema change. Statements run in order; each dialect
// carries its own DDL.
type migration struct {
	version int
	name    string
	sqlite  []string
	mysql   []string
}

func (m migration) statements(d dialect) []string {
	if d == dialectMySQL {
		return m.mysql
	}
	return m.sqlite
}

var migrations = []migration{
	{
		version: 1,
		name:    "issues",
		sqlite: []string{
			`CREATE TABLE issues (
				kee VARCHAR(50) PRIMARY KEY,
				project_uuid VARCHAR(50) NOT NULL,
				component_uuid VARCHAR(50) NOT NULL,
				rule_uuid VARCHAR(40) NOT NULL DEFAULT '',
				rule_key VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL,
				resolution VARCHAR(20) NOT NULL DEFAULT '',
				severity VARCHAR(10) NOT NULL DEFAULT '',
				manual_severity BOOLEAN NOT NULL DEFAULT 0,
				issue_type VARCHAR(30) NOT NULL,
				assignee VARCHAR(255) NOT NULL DEFAULT '',
				tags VARCHAR(4000) NOT NULL DEFAULT '',
				attributes TEXT,
				message VARCHAR(4000) NOT NULL DEFAULT '',
				line INTEGER NOT NULL DEFAULT 0,
				effort BIGINT NOT NULL DEFAULT 0,
				clean_code_attribute VARCHAR(40) NOT NULL DEFAULT '',
				issue_creation_date BIGINT NOT NULL,
				issue_update_date BIGINT NOT NULL,
				issue_close_date BIGINT,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
			`CREATE INDEX issues_project_uuid ON issues (project_uuid)`,
			`CREATE INDEX issues_component_uuid ON issues (component_uuid)`,
			`CREATE INDEX issues_assignee ON issues (assignee)`,
			`CREATE TABLE issue_changes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				kee VARCHAR(50) NOT NULL,
				issue_key VARCHAR(50) NOT NULL,
				user_uuid VARCHAR(255) NOT NULL DEFAULT '',
				change_type VARCHAR(20) NOT NULL,
				change_data TEXT NOT NULL,
				issue_change_creation_date BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
			`CREATE INDEX issue_changes_issue_key ON issue_changes (issue_key)`,
			`CREATE INDEX issue_changes_kee ON issue_changes (kee)`,
			`CREATE TABLE issues_impacts (
				issue_key VARCHAR(50) NOT NULL,
				software_quality VARCHAR(40) NOT NULL,
				severity VARCHAR(40) NOT NULL,
				manual_severity BOOLEAN NOT NULL DEFAULT 0,
				PRIMARY KEY (issue_key, software_quality)
			)`,
		},
		mysql: []string{
			`CREATE TABLE issues (
				kee VARCHAR(50) PRIMARY KEY,
				project_uuid VARCHAR(50) NOT NULL,
				component_uuid VARCHAR(50) NOT NULL,
				rule_uuid VARCHAR(40) NOT NULL DEFAULT '',
				rule_key VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL,
				resolution VARCHAR(20) NOT NULL DEFAULT '',
				severity VARCHAR(10) NOT NULL DEFAULT '',
				manual_severity TINYINT(1) NOT NULL DEFAULT 0,
				issue_type VARCHAR(30) NOT NULL,
				assignee VARCHAR(255) NOT NULL DEFAULT '',
				tags VARCHAR(4000) NOT NULL DEFAULT '',
				attributes TEXT,
				message VARCHAR(4000) NOT NULL DEFAULT '',
				line INT NOT NULL DEFAULT 0,
				effort BIGINT NOT NULL DEFAULT 0,
				clean_code_attribute VARCHAR(40) NOT NULL DEFAULT '',
				issue_creation_date BIGINT NOT NULL,
				issue_update_date BIGINT NOT NULL,
				issue_close_date BIGINT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				INDEX issues_project_uuid (project_uuid),
				INDEX issues_component_uuid (component_uuid),
				INDEX issues_assignee (assignee)
			)`,
			`CREATE TABLE issue_changes (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				kee VARCHAR(50) NOT NULL,
				issue_key VARCHAR(50) NOT NULL,
				user_uuid VARCHAR(255) NOT NULL DEFAULT '',
				change_type VARCHAR(20) NOT NULL,
				change_data TEXT NOT NULL,
				issue_change_creation_date BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				INDEX issue_changes_issue_key (issue_key),
				INDEX issue_changes_kee (kee)
			)`,
			`CREATE TABLE issues_impacts (
				issue_key VARCHAR(50) NOT NULL,
				software_quality VARCHAR(40) NOT NULL,
				severity VARCHAR(40) NOT NULL,
				manual_severity TINYINT(1) NOT NULL DEFAULT 0,
				PRIMARY KEY (issue_key, software_quality)
			)`,
		},
	},
	{
		version: 2,
		name:    "users_components_rules",
		sqlite: []string{
			`CREATE TABLE users (
				uuid VARCHAR(40) PRIMARY KEY,
				login VARCHAR(255) NOT NULL UNIQUE,
				name VARCHAR(200) NOT NULL DEFAULT '',
				email VARCHAR(100) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT 1
			)`,
			`CREATE TABLE components (
				uuid VARCHAR(50) PRIMARY KEY,
				kee VARCHAR(1000) NOT NULL,
				name VARCHAR(2000) NOT NULL DEFAULT '',
				long_name VARCHAR(2000) NOT NULL DEFAULT '',
				qualifier VARCHAR(10) NOT NULL,
				project_uuid VARCHAR(50) NOT NULL
			)`,
			`CREATE TABLE rules (
				uuid VARCHAR(40) PRIMARY KEY,
				rule_key VARCHAR(255) NOT NULL UNIQUE,
				name VARCHAR(200) NOT NULL DEFAULT '',
				rule_type VARCHAR(30) NOT NULL DEFAULT '',
				severity VARCHAR(10) NOT NULL DEFAULT '',
				clean_code_attribute VARCHAR(40) NOT NULL DEFAULT '',
				impacts TEXT
			)`,
		},
		mysql: []string{
			`CREATE TABLE users (
				uuid VARCHAR(40) PRIMARY KEY,
				login VARCHAR(255) NOT NULL UNIQUE,
				name VARCHAR(200) NOT NULL DEFAULT '',
				email VARCHAR(100) NOT NULL DEFAULT '',
				active TINYINT(1) NOT NULL DEFAULT 1
			)`,
			`CREATE TABLE components (
				uuid VARCHAR(50) PRIMARY KEY,
				kee VARCHAR(1000) NOT NULL,
				name VARCHAR(2000) NOT NULL DEFAULT '',
				long_name VARCHAR(2000) NOT NULL DEFAULT '',
				qualifier VARCHAR(10) NOT NULL,
				project_uuid VARCHAR(50) NOT NULL
			)`,
			`CREATE TABLE rules (
				uuid VARCHAR(40) PRIMARY KEY,
				rule_key VARCHAR(255) NOT NULL UNIQUE,
				name VARCHAR(200) NOT NULL DEFAULT '',
				rule_type VARCHAR(30) NOT NULL DEFAULT '',
				severity VARCHAR(10) NOT NULL DEFAULT '',
				clean_code_attribute VARCHAR(40) NOT NULL DEFAULT '',
				impacts TEXT
			)`,
		},
	},
	{
		version: 3,
		name:    "index_queue",
		sqlite: []string{
			`CREATE TABLE index_queue (
				uuid VARCHAR(40) PRIMARY KEY,
				doc_id VARCHAR(50) NOT NULL,
				created_at BIGINT NOT NULL
			)`,
			`CREATE INDEX index_queue_created_at ON index_queue (created_at)`,
		},
		mysql: []string{
			`CREATE TABLE index_queue (
				uuid VARCHAR(40) PRIMARY KEY,
				doc_id VARCHAR(50) NOT NULL,
				created_at BIGINT NOT NULL,
				INDEX index_queue_created_at (created_at)
			)`,
		},
	},
	{
		version: 4,
		name:    "issue_row_version",
		sqlite: []string{
			`ALTER TABLE issues ADD COLUMN row_version BIGINT NOT NULL DEFAULT 0`,
		},
		mysql: []string{
			`ALTER TABLE issues ADD COLUMN row_version BIGINT NOT NULL DEFAULT 0`,
		},
	},
}

// SchemaVersion is the version of the newest migration.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// migrate applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction; MySQL commits DDL implicitly,
// so a failed migration there may leave partial tables behind.
func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(ctx, db, d, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, d dialect, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements(d) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}
